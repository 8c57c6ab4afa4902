// Package network implements the incremental classifier driven by the
// trainer: a dense backbone, a per-task noise expansion module, a fixed
// random buffer projection, a gradient-trained "normal" head and an
// analytically fitted "evolving" head whose width grows with every task.
package network

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNoClasses = errors.New("network: head has no classes")
	ErrTrainMode = errors.New("network: fit requires eval mode")
	ErrDevice    = errors.New("network: unsupported device")
)

type Options struct {
	InputDim   int
	FeatureDim int
	BufferSize int
	// Gamma is the ridge term of the evolving head.
	Gamma      float64
	Pretrained bool
}

// Output is the result of a forward pass.
type Output struct {
	Logits   *mat.Dense
	Features *mat.Dense
}

type Net struct {
	opts Options

	Backbone *Linear
	Noise    *Noise
	Buffer   *Linear
	NormalFC *Linear
	FC       *Analytic

	classes  int
	heads    int
	training bool
	device   string
}

func New(opts Options) (*Net, error) {
	if opts.InputDim <= 0 || opts.FeatureDim <= 0 || opts.BufferSize <= 0 {
		return nil, fmt.Errorf("network: invalid dims %d/%d/%d", opts.InputDim, opts.FeatureDim, opts.BufferSize)
	}
	if opts.Gamma <= 0 {
		return nil, fmt.Errorf("network: gamma must be positive, got %v", opts.Gamma)
	}
	n := &Net{
		opts:     opts,
		Backbone: NewLinear("backbone", GroupBackbone, 0, opts.InputDim, opts.FeatureDim, true, glorotU),
		Noise:    &Noise{Dim: opts.FeatureDim},
		Buffer: &Linear{
			W:    newParam("buffer.W", GroupBuffer, 0, opts.FeatureDim, opts.BufferSize, gaussian(1/math.Sqrt(float64(opts.FeatureDim)))),
			ReLU: true,
		},
		FC:     NewAnalytic(opts.BufferSize, opts.Gamma),
		device: "cpu",
	}
	n.Freeze()
	return n, nil
}

func (n *Net) Options() Options { return n.opts }

func (n *Net) Pretrained() bool { return n.opts.Pretrained }

// Classes is the class count declared through UpdateFC.
func (n *Net) Classes() int { return n.classes }

// FCWidth is the current output width of the evolving head.
func (n *Net) FCWidth() int { return n.FC.Classes() }

// UpdateFC declares newClasses more classes: the evolving head keeps its
// weights and gains zero outputs, the normal head is recreated at the new
// width.
func (n *Net) UpdateFC(newClasses int) error {
	if newClasses <= 0 {
		return fmt.Errorf("network: cannot add %d classes", newClasses)
	}
	n.classes += newClasses
	n.FC.Widen(n.classes)
	n.NormalFC = NewLinear("normal_fc", GroupNormalFC, n.heads, n.opts.BufferSize, n.classes, false, glorotU)
	n.heads++
	return nil
}

// UpdateNoise adds the noise generator of the next task.
func (n *Net) UpdateNoise() {
	n.Noise.Add(len(n.Noise.Gens))
}

// Parameters lists every parameter in a stable order.
func (n *Net) Parameters() []*Param {
	out := append([]*Param{}, n.Backbone.Params()...)
	out = append(out, n.Noise.Params()...)
	out = append(out, n.Buffer.W)
	if n.NormalFC != nil {
		out = append(out, n.NormalFC.Params()...)
	}
	return append(out, n.FC.W)
}

func (n *Net) ParametersOf(g Group) []*Param {
	var out []*Param
	for _, p := range n.Parameters() {
		if p.Group == g {
			out = append(out, p)
		}
	}
	return out
}

// Trainable lists the parameters gradients may flow into.
func (n *Net) Trainable() []*Param {
	var out []*Param
	for _, p := range n.Parameters() {
		if p.Trainable {
			out = append(out, p)
		}
	}
	return out
}

func (n *Net) setTrainable(g Group, on bool) {
	for _, p := range n.ParametersOf(g) {
		p.Trainable = on
	}
}

// Freeze marks every parameter frozen.
func (n *Net) Freeze() {
	for _, p := range n.Parameters() {
		p.Trainable = false
	}
}

// FreezeGroup marks one group frozen.
func (n *Net) FreezeGroup(g Group) { n.setTrainable(g, false) }

// InitUnfreeze opens the backbone for fine-tuning when it is pretrained.
func (n *Net) InitUnfreeze() {
	if n.opts.Pretrained {
		n.setTrainable(GroupBackbone, true)
	}
}

// UnfreezeNoise opens the latest noise generator; earlier ones stay frozen.
func (n *Net) UnfreezeNoise() {
	if g := n.Noise.Latest(); g != nil {
		for _, p := range g.Params() {
			p.Trainable = true
		}
	}
}

// Apply freezes everything and then opens the groups c lists. The backbone
// only opens on a pretrained network.
func (n *Net) Apply(c Capability) {
	n.Freeze()
	n.setTrainable(GroupNormalFC, c.NormalHead)
	n.setTrainable(GroupFC, c.EvolvingHead)
	if c.Backbone {
		n.InitUnfreeze()
	}
	if c.Noise {
		n.UnfreezeNoise()
	}
}

func (n *Net) Train() { n.training = true }

func (n *Net) Eval() { n.training = false }

func (n *Net) Training() bool { return n.training }

// To places the network on device. Only the CPU engine is built in.
func (n *Net) To(device string) error {
	if !strings.EqualFold(device, "cpu") {
		return fmt.Errorf("%w: %s", ErrDevice, device)
	}
	n.device = "cpu"
	return nil
}

func (n *Net) Device() string { return n.device }

func (n *Net) checkInput(x mat.Matrix) error {
	if _, c := x.Dims(); c != n.opts.InputDim {
		return fmt.Errorf("network: input width %d, want %d", c, n.opts.InputDim)
	}
	return nil
}

// features runs backbone, noise and buffer projection.
func (n *Net) features(x *mat.Dense, newForward bool) (*mat.Dense, error) {
	if err := n.checkInput(x); err != nil {
		return nil, err
	}
	f := n.Backbone.Forward(x)
	h := n.Noise.Forward(f, newForward)
	return n.Buffer.Forward(h), nil
}

// Forward scores x with the evolving head.
func (n *Net) Forward(x *mat.Dense, newForward bool) (*Output, error) {
	z, err := n.features(x, newForward)
	if err != nil {
		return nil, err
	}
	logits, err := n.FC.Forward(z)
	if err != nil {
		return nil, err
	}
	return &Output{Logits: logits, Features: z}, nil
}

// ForwardNormalFC scores x with the normal head.
func (n *Net) ForwardNormalFC(x *mat.Dense, newForward bool) (*Output, error) {
	if n.NormalFC == nil {
		return nil, ErrNoClasses
	}
	z, err := n.features(x, newForward)
	if err != nil {
		return nil, err
	}
	return &Output{Logits: n.NormalFC.Forward(z), Features: z}, nil
}

// Fit folds a batch of one-hot targets into the evolving head. The network
// must be in eval mode.
func (n *Net) Fit(x, onehot *mat.Dense) error {
	if n.training {
		return ErrTrainMode
	}
	z, err := n.features(x, false)
	if err != nil {
		return err
	}
	return n.FC.Fit(z, onehot)
}

// Argmax returns the index of the largest value of every row.
func Argmax(logits mat.Matrix) []int {
	r, c := logits.Dims()
	out := make([]int, r)
	for i := 0; i < r; i++ {
		best := math.Inf(-1)
		for j := 0; j < c; j++ {
			if v := logits.At(i, j); v > best {
				best, out[i] = v, j
			}
		}
	}
	return out
}

// OneHot encodes targets as rows of width classes.
func OneHot(targets []int, classes int) (*mat.Dense, error) {
	if len(targets) == 0 || classes <= 0 {
		return nil, fmt.Errorf("network: one-hot of %d targets over %d classes", len(targets), classes)
	}
	y := mat.NewDense(len(targets), classes, nil)
	for i, t := range targets {
		if t < 0 || t >= classes {
			return nil, fmt.Errorf("network: target %d outside [0,%d)", t, classes)
		}
		y.Set(i, t, 1)
	}
	return y, nil
}
