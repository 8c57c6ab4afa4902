package network

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Group names a parameter subset that is frozen or unfrozen as a unit.
type Group string

const (
	GroupBackbone Group = "backbone"
	GroupNoise    Group = "noise"
	GroupBuffer   Group = "buffer"
	GroupNormalFC Group = "normal_fc"
	GroupFC       Group = "fc"
)

// Param is a learnable matrix tagged with its group and the task that
// introduced it. Data is shared by the gonum and gorgonia views.
type Param struct {
	Name      string
	Group     Group
	TaskID    int
	Trainable bool

	Rows, Cols int
	Data       []float64
}

// InitFn fills a rows x cols parameter.
type InitFn func(rows, cols int) []float64

func newParam(name string, group Group, task, rows, cols int, init InitFn) *Param {
	var data []float64
	if init != nil {
		data = init(rows, cols)
	}
	if len(data) != rows*cols {
		data = make([]float64, rows*cols)
	}
	return &Param{Name: name, Group: group, TaskID: task, Rows: rows, Cols: cols, Data: data}
}

// Mat is a gonum view over Data, nil for an empty parameter.
func (p *Param) Mat() *mat.Dense {
	if p.Rows == 0 || p.Cols == 0 {
		return nil
	}
	return mat.NewDense(p.Rows, p.Cols, p.Data)
}

// Tensor is a gorgonia view over Data.
func (p *Param) Tensor() *tensor.Dense {
	return tensor.New(tensor.WithShape(p.Rows, p.Cols), tensor.WithBacking(p.Data))
}

// Assign copies v into Data.
func (p *Param) Assign(v []float64) error {
	if len(v) != len(p.Data) {
		return fmt.Errorf("network: %s has %d values, got %d", p.Name, len(p.Data), len(v))
	}
	copy(p.Data, v)
	return nil
}

// widen appends zero columns up to cols.
func (p *Param) widen(cols int) {
	if cols <= p.Cols {
		return
	}
	data := make([]float64, p.Rows*cols)
	for r := 0; r < p.Rows; r++ {
		copy(data[r*cols:r*cols+p.Cols], p.Data[r*p.Cols:(r+1)*p.Cols])
	}
	p.Cols, p.Data = cols, data
}

// Capability declares which groups a phase may write. Everything not listed
// stays frozen; the buffer projection is never trainable.
type Capability struct {
	Backbone     bool
	Noise        bool
	NormalHead   bool
	EvolvingHead bool
}

func (c Capability) String() string {
	return fmt.Sprintf("backbone=%t noise=%t normal_fc=%t fc=%t", c.Backbone, c.Noise, c.NormalHead, c.EvolvingHead)
}
