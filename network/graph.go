package network

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Graph is the expression graph of one batch. Every parameter touched by the
// forward pass becomes a node bound to the parameter's data; only trainable
// ones are reported as learnables.
type Graph struct {
	G      *gorgonia.ExprGraph
	X      *gorgonia.Node
	Logits *gorgonia.Node

	nodes map[*Param]*gorgonia.Node
	order []*Param
}

func newGraph(x *mat.Dense) *Graph {
	g := gorgonia.NewGraph()
	x = mat.DenseCopyOf(x)
	r, c := x.Dims()
	xt := tensor.New(tensor.WithShape(r, c), tensor.WithBacking(x.RawMatrix().Data))
	return &Graph{
		G:     g,
		X:     gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(r, c), gorgonia.WithName("x"), gorgonia.WithValue(xt)),
		nodes: make(map[*Param]*gorgonia.Node),
	}
}

func (gr *Graph) bind(p *Param) *gorgonia.Node {
	if n, ok := gr.nodes[p]; ok {
		return n
	}
	n := gorgonia.NewMatrix(gr.G, tensor.Float64,
		gorgonia.WithShape(p.Rows, p.Cols),
		gorgonia.WithName(p.Name),
		gorgonia.WithValue(p.Tensor()))
	gr.nodes[p] = n
	gr.order = append(gr.order, p)
	return n
}

// Constant adds a fixed matrix to the graph.
func (gr *Graph) Constant(name string, m *mat.Dense) *gorgonia.Node {
	m = mat.DenseCopyOf(m)
	r, c := m.Dims()
	t := tensor.New(tensor.WithShape(r, c), tensor.WithBacking(m.RawMatrix().Data))
	return gorgonia.NewMatrix(gr.G, tensor.Float64, gorgonia.WithShape(r, c), gorgonia.WithName(name), gorgonia.WithValue(t))
}

// LearnableParams are the trainable parameters used by the graph, in the
// order they were bound.
func (gr *Graph) LearnableParams() []*Param {
	var out []*Param
	for _, p := range gr.order {
		if p.Trainable {
			out = append(out, p)
		}
	}
	return out
}

func (gr *Graph) Learnables() []*gorgonia.Node {
	var out []*gorgonia.Node
	for _, p := range gr.LearnableParams() {
		out = append(out, gr.nodes[p])
	}
	return out
}

// Node returns the node bound to p, nil if the graph does not use it.
func (gr *Graph) Node(p *Param) *gorgonia.Node { return gr.nodes[p] }

// Commit copies the learnable node values back into their parameters.
func (gr *Graph) Commit() error {
	for _, p := range gr.LearnableParams() {
		v := gr.nodes[p].Value()
		if v == nil {
			continue
		}
		data, ok := v.Data().([]float64)
		if !ok {
			return fmt.Errorf("network: %s holds %T", p.Name, v.Data())
		}
		if err := p.Assign(data); err != nil {
			return err
		}
	}
	return nil
}

// Values copies a rank 2 value read off the graph into a matrix.
func Values(v gorgonia.Value) (*mat.Dense, error) {
	if v == nil {
		return nil, fmt.Errorf("network: graph has not run")
	}
	data, ok := v.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("network: value holds %T", v.Data())
	}
	s := v.Shape()
	if len(s) != 2 {
		return nil, fmt.Errorf("network: value has shape %v", s)
	}
	return mat.NewDense(s[0], s[1], append([]float64(nil), data...)), nil
}

// NormalFCGraph builds the normal head's forward pass over x.
func (n *Net) NormalFCGraph(x *mat.Dense, newForward bool) (*Graph, error) {
	if n.NormalFC == nil {
		return nil, ErrNoClasses
	}
	if err := n.checkInput(x); err != nil {
		return nil, err
	}
	gr := newGraph(x)
	f, err := n.Backbone.Node(gr.X, gr.bind)
	if err != nil {
		return nil, err
	}
	h, err := n.Noise.Node(f, gr.bind, newForward)
	if err != nil {
		return nil, err
	}
	z, err := n.Buffer.Node(h, gr.bind)
	if err != nil {
		return nil, err
	}
	if gr.Logits, err = n.NormalFC.Node(z, gr.bind); err != nil {
		return nil, err
	}
	return gr, nil
}

// CrossEntropy is the mean negative log softmax probability of the one-hot
// targets.
func CrossEntropy(logits, onehot *gorgonia.Node) (*gorgonia.Node, error) {
	probs, err := gorgonia.SoftMax(logits)
	if err != nil {
		return nil, err
	}
	epsN := gorgonia.NodeFromAny(probs.Graph(), 1e-12, gorgonia.WithName("eps"))
	pSafe, err := gorgonia.Add(probs, epsN)
	if err != nil {
		return nil, err
	}
	logP, err := gorgonia.Log(pSafe)
	if err != nil {
		return nil, err
	}
	mul, err := gorgonia.HadamardProd(onehot, logP)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Sum(mul, 1)
	if err != nil {
		return nil, err
	}
	mean, err := gorgonia.Mean(sum)
	if err != nil {
		return nil, err
	}
	return gorgonia.Neg(mean)
}
