package network

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"
)

// Noise expands feature capacity with one additive generator per task,
// h = f + sum_i (f*N_i + n_i). Generators start at zero, so adding one
// leaves the features unchanged until it is trained.
type Noise struct {
	Dim  int
	Gens []*Linear
}

// Add appends the generator of task.
func (n *Noise) Add(task int) *Linear {
	g := NewLinear(fmt.Sprintf("noise.%d", task), GroupNoise, task, n.Dim, n.Dim, false, zeroes)
	n.Gens = append(n.Gens, g)
	return g
}

// Latest is the most recently added generator, nil before the first Add.
func (n *Noise) Latest() *Linear {
	if len(n.Gens) == 0 {
		return nil
	}
	return n.Gens[len(n.Gens)-1]
}

// active returns every generator on the old pathway and only the latest on
// the new one.
func (n *Noise) active(newForward bool) []*Linear {
	if newForward && len(n.Gens) > 0 {
		return n.Gens[len(n.Gens)-1:]
	}
	return n.Gens
}

func (n *Noise) Params() []*Param {
	var out []*Param
	for _, g := range n.Gens {
		out = append(out, g.Params()...)
	}
	return out
}

func (n *Noise) Forward(f *mat.Dense, newForward bool) *mat.Dense {
	h := mat.DenseCopyOf(f)
	for _, g := range n.active(newForward) {
		h.Add(h, g.Forward(f))
	}
	return h
}

func (n *Noise) Node(f *gorgonia.Node, bind func(*Param) *gorgonia.Node, newForward bool) (*gorgonia.Node, error) {
	h := f
	for _, g := range n.active(newForward) {
		d, err := g.Node(f, bind)
		if err != nil {
			return nil, err
		}
		if h, err = gorgonia.Add(h, d); err != nil {
			return nil, err
		}
	}
	return h, nil
}
