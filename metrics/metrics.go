// Package metrics computes class- and task-level accuracy and confusion
// matrices from plain prediction/label sequences.
package metrics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrNoSamples is returned instead of dividing by a zero sample count.
var ErrNoSamples = errors.New("metrics: no samples")

type ClassInfo struct {
	AllAccy float64
	// ClassAccy[c] is the accuracy on samples whose true label is c.
	ClassAccy []float64
	// Confusion is rows = true class, cols = predicted class.
	Confusion *mat.Dense
}

type TaskInfo struct {
	// AllAccy is the task-identification accuracy: a prediction counts when
	// it falls in the same task as the true label.
	AllAccy float64
	// TaskAccy[t] is the class accuracy restricted to samples of task t.
	TaskAccy  []float64
	Confusion *mat.Dense
}

// Round2 rounds to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Accuracy returns 100*correct/total rounded to two decimals.
func Accuracy(correct, total int) (float64, error) {
	if total <= 0 {
		return 0, ErrNoSamples
	}
	return Round2(float64(correct) * 100 / float64(total)), nil
}

func check(pred, label []int) (int, error) {
	if len(pred) != len(label) {
		return 0, fmt.Errorf("metrics: %d predictions for %d labels", len(pred), len(label))
	}
	if len(label) == 0 {
		return 0, ErrNoSamples
	}
	n := 0
	for i := range label {
		if pred[i] < 0 || label[i] < 0 {
			return 0, fmt.Errorf("metrics: negative class at %d", i)
		}
		n = max(n, pred[i]+1, label[i]+1)
	}
	return n, nil
}

// ClassMetrics computes overall and per-class accuracy and the class
// confusion matrix. Every class below classes, and below the largest label,
// must have at least one sample; an empty class fails with ErrNoSamples.
// Predictions of classes that were never labelled only widen the confusion
// matrix.
func ClassMetrics(pred, label []int, classes int) (*ClassInfo, error) {
	n, err := check(pred, label)
	if err != nil {
		return nil, err
	}
	width := max(classes, maxOf(label)+1)
	n = max(n, width)
	confusion := mat.NewDense(n, n, nil)
	correct := 0
	for i := range label {
		confusion.Set(label[i], pred[i], confusion.At(label[i], pred[i])+1)
		if pred[i] == label[i] {
			correct++
		}
	}
	all, err := Accuracy(correct, len(label))
	if err != nil {
		return nil, err
	}
	perClass := make([]float64, width)
	for c := range perClass {
		row := mat.Sum(confusion.RowView(c))
		if row == 0 {
			return nil, fmt.Errorf("%w: class %d", ErrNoSamples, c)
		}
		perClass[c] = Round2(confusion.At(c, c) * 100 / row)
	}
	return &ClassInfo{AllAccy: all, ClassAccy: perClass, Confusion: confusion}, nil
}

func maxOf(v []int) int {
	m := -1
	for _, x := range v {
		m = max(m, x)
	}
	return m
}

// TaskOf maps a dense class index to its task given the split sizes.
func TaskOf(class, initClass, increment int) int {
	if class < initClass {
		return 0
	}
	return 1 + (class-initClass)/increment
}

// TaskMetrics groups classes into tasks (initClass, then increment per task)
// and reports task-identification accuracy, per-task class accuracy and the
// task confusion matrix.
func TaskMetrics(pred, label []int, initClass, increment int) (*TaskInfo, error) {
	if initClass <= 0 || increment <= 0 {
		return nil, fmt.Errorf("metrics: invalid task split %d/%d", initClass, increment)
	}
	n, err := check(pred, label)
	if err != nil {
		return nil, err
	}
	tasks := TaskOf(n-1, initClass, increment) + 1
	labelled := TaskOf(maxOf(label), initClass, increment) + 1
	confusion := mat.NewDense(tasks, tasks, nil)
	correctTask := 0
	hit := make([]int, tasks)
	seen := make([]int, tasks)
	for i := range label {
		tt, pt := TaskOf(label[i], initClass, increment), TaskOf(pred[i], initClass, increment)
		confusion.Set(tt, pt, confusion.At(tt, pt)+1)
		if tt == pt {
			correctTask++
		}
		seen[tt]++
		if pred[i] == label[i] {
			hit[tt]++
		}
	}
	all, err := Accuracy(correctTask, len(label))
	if err != nil {
		return nil, err
	}
	perTask := make([]float64, labelled)
	for t := range perTask {
		if seen[t] == 0 {
			return nil, fmt.Errorf("%w: task %d", ErrNoSamples, t)
		}
		perTask[t], _ = Accuracy(hit[t], seen[t])
	}
	return &TaskInfo{AllAccy: all, TaskAccy: perTask, Confusion: confusion}, nil
}

// Mean of the values, NaN entries skipped.
func Mean(values []float64) (float64, error) {
	sum, n := 0.0, 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, ErrNoSamples
	}
	return sum / float64(n), nil
}
