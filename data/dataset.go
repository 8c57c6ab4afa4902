// Package data holds the datasets, the task-splitting data manager and the
// batch loader used by the trainer.
package data

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRemapped guards against translating labels twice.
	ErrAlreadyRemapped = errors.New("data: labels already remapped")
	// ErrUnknownCategory is returned for a raw label outside the class order.
	ErrUnknownCategory = errors.New("data: unknown category")
	// ErrUnknownSource is returned for a source other than train, test and
	// train_no_aug.
	ErrUnknownSource = errors.New("data: unknown source")
	// ErrBatchMismatch is returned when inputs and labels disagree in count
	// or inputs disagree in width.
	ErrBatchMismatch = errors.New("data: inputs and labels mismatch")
)

type Source string

const (
	SourceTrain      Source = "train"
	SourceTrainNoAug Source = "train_no_aug"
	SourceTest       Source = "test"
)

// Mapper translates raw category ids into dense task-order indices.
type Mapper interface {
	MapCat2Order(raw int) (int, error)
}

// Manager is the data-manager collaborator of the trainer.
type Manager interface {
	Mapper
	// GetTaskList returns the raw class ids trained in the task, the raw
	// class ids evaluated after it, and the train classes' names.
	GetTaskList(task int) (train, test []int, names []string, err error)
	GetTaskData(source Source, classList []int) (*Dataset, error)
}

// Dataset is a set of (id, input, label) samples. Labels start as raw
// category ids and are translated in place exactly once by Remap.
type Dataset struct {
	IDs    []int
	Inputs [][]float64
	Labels []int

	remapped bool
}

func (d *Dataset) Len() int { return len(d.Labels) }

// Dim is the input width, 0 for an empty set.
func (d *Dataset) Dim() int {
	if len(d.Inputs) == 0 {
		return 0
	}
	return len(d.Inputs[0])
}

// Check verifies inputs and labels agree.
func (d *Dataset) Check() error {
	if len(d.Inputs) != len(d.Labels) || len(d.IDs) != len(d.Labels) {
		return fmt.Errorf("%w: %d ids, %d inputs, %d labels", ErrBatchMismatch, len(d.IDs), len(d.Inputs), len(d.Labels))
	}
	dim := d.Dim()
	for i, in := range d.Inputs {
		if len(in) != dim {
			return fmt.Errorf("%w: sample %d has width %d, want %d", ErrBatchMismatch, i, len(in), dim)
		}
	}
	return nil
}

func (d *Dataset) Remapped() bool { return d.remapped }

// Remap replaces every raw label with its order index. A dataset can be
// remapped once; a second call fails with ErrAlreadyRemapped and leaves the
// labels untouched. On error the labels are unchanged.
func (d *Dataset) Remap(m Mapper) error {
	if d.remapped {
		return ErrAlreadyRemapped
	}
	out := make([]int, len(d.Labels))
	for i, raw := range d.Labels {
		o, err := m.MapCat2Order(raw)
		if err != nil {
			return err
		}
		out[i] = o
	}
	d.Labels = out
	d.remapped = true
	return nil
}

// Subset copies the samples whose label is in classes.
func (d *Dataset) Subset(classes []int) *Dataset {
	keep := make(map[int]bool, len(classes))
	for _, c := range classes {
		keep[c] = true
	}
	out := &Dataset{remapped: d.remapped}
	for i, l := range d.Labels {
		if !keep[l] {
			continue
		}
		in := make([]float64, len(d.Inputs[i]))
		copy(in, d.Inputs[i])
		out.IDs = append(out.IDs, d.IDs[i])
		out.Inputs = append(out.Inputs, in)
		out.Labels = append(out.Labels, l)
	}
	return out
}
