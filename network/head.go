package network

import (
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Linear is x*W + b, optionally rectified. It is used for the backbone, the
// noise generators and the normal classification head.
type Linear struct {
	W    *Param // (in, out)
	B    *Param // (1, out), may be nil
	ReLU bool
}

func glorotU(rows, cols int) []float64 {
	return gorgonia.GlorotU(1.0)(tensor.Float64, rows, cols).([]float64)
}

func zeroes(rows, cols int) []float64 {
	return make([]float64, rows*cols)
}

func gaussian(std float64) InitFn {
	return func(rows, cols int) []float64 {
		return gorgonia.Gaussian(0, std)(tensor.Float64, rows, cols).([]float64)
	}
}

func NewLinear(name string, group Group, task, in, out int, relu bool, init InitFn) *Linear {
	return &Linear{
		W:    newParam(name+".W", group, task, in, out, init),
		B:    newParam(name+".b", group, task, 1, out, zeroes),
		ReLU: relu,
	}
}

func (l *Linear) Params() []*Param {
	if l.B == nil {
		return []*Param{l.W}
	}
	return []*Param{l.W, l.B}
}

// Forward evaluates the layer on the rows of x.
func (l *Linear) Forward(x mat.Matrix) *mat.Dense {
	r, _ := x.Dims()
	out := mat.NewDense(r, l.W.Cols, nil)
	out.Mul(x, l.W.Mat())
	var b []float64
	if l.B != nil {
		b = l.B.Data
	}
	relu := l.ReLU
	out.Apply(func(_, j int, v float64) float64 {
		if b != nil {
			v += b[j]
		}
		if relu && v < 0 {
			return 0
		}
		return v
	}, out)
	return out
}

// Node adds the layer to the graph that owns bind.
func (l *Linear) Node(x *gorgonia.Node, bind func(*Param) *gorgonia.Node) (*gorgonia.Node, error) {
	out, err := gorgonia.Mul(x, bind(l.W))
	if err != nil {
		return nil, err
	}
	if l.B != nil {
		// Bias (1, C) broadcast over the batch rows.
		if out, err = gorgonia.BroadcastAdd(out, bind(l.B), nil, []byte{0}); err != nil {
			return nil, err
		}
	}
	if l.ReLU {
		return gorgonia.Rectify(out)
	}
	return out, nil
}
