// Package optim builds gorgonia solvers and per-epoch learning rate
// schedules from the configuration's type tags.
package optim

import (
	"fmt"
	"math"
	"strings"

	"gorgonia.org/gorgonia"
)

// Optimizer wraps a gorgonia solver so its learning rate can be changed
// between epochs.
type Optimizer struct {
	Kind        string
	BaseLR      float64
	WeightDecay float64

	lr     float64
	solver gorgonia.Solver
}

// New returns the optimizer named by kind: sgd (momentum 0.9), vanilla,
// adam or rmsprop. A positive weightDecay is applied as L2 regularisation.
func New(kind string, lr, weightDecay float64) (*Optimizer, error) {
	o := &Optimizer{Kind: strings.ToLower(kind), BaseLR: lr, WeightDecay: weightDecay}
	if err := o.SetLearnRate(lr); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Optimizer) build(lr float64) (gorgonia.Solver, error) {
	opts := []gorgonia.SolverOpt{gorgonia.WithLearnRate(lr)}
	if o.WeightDecay > 0 {
		opts = append(opts, gorgonia.WithL2Reg(o.WeightDecay))
	}
	switch o.Kind {
	case "sgd":
		opts = append(opts, gorgonia.WithMomentum(0.9))
		return gorgonia.NewMomentum(opts...), nil
	case "vanilla":
		return gorgonia.NewVanillaSolver(opts...), nil
	case "adam":
		return gorgonia.NewAdamSolver(opts...), nil
	case "rmsprop":
		return gorgonia.NewRMSPropSolver(opts...), nil
	}
	return nil, fmt.Errorf("optim: unknown optimizer %q", o.Kind)
}

// SetLearnRate rebuilds the solver when the rate changes; solver state such
// as moment estimates starts over.
func (o *Optimizer) SetLearnRate(lr float64) error {
	if o.solver != nil && lr == o.lr {
		return nil
	}
	s, err := o.build(lr)
	if err != nil {
		return err
	}
	o.lr, o.solver = lr, s
	return nil
}

func (o *Optimizer) LearnRate() float64 { return o.lr }

// Step applies one update to the given nodes.
func (o *Optimizer) Step(model []gorgonia.ValueGrad) error {
	return o.solver.Step(model)
}

// Scheduler adjusts an optimizer once per epoch.
type Scheduler interface {
	Step() error
	Epoch() int
}

type schedule struct {
	opt    *Optimizer
	epochs int
	epoch  int
	rate   func(epoch int) float64
}

func (s *schedule) Step() error {
	s.epoch++
	return s.opt.SetLearnRate(s.rate(s.epoch))
}

func (s *schedule) Epoch() int { return s.epoch }

// NewScheduler returns the schedule named by kind over the given number of
// epochs: constant, step (x0.1 after a third and two thirds of the epochs)
// or cosine (annealed to zero).
func NewScheduler(kind string, opt *Optimizer, epochs int) (Scheduler, error) {
	base := opt.BaseLR
	s := &schedule{opt: opt, epochs: epochs}
	switch strings.ToLower(kind) {
	case "constant":
		s.rate = func(int) float64 { return base }
	case "step":
		m1, m2 := epochs/3, 2*epochs/3
		s.rate = func(e int) float64 {
			switch {
			case m2 > 0 && e >= m2:
				return base * 0.01
			case m1 > 0 && e >= m1:
				return base * 0.1
			}
			return base
		}
	case "cosine":
		s.rate = func(e int) float64 {
			if epochs <= 0 {
				return base
			}
			if e > epochs {
				e = epochs
			}
			return base * 0.5 * (1 + math.Cos(math.Pi*float64(e)/float64(epochs)))
		}
	default:
		return nil, fmt.Errorf("optim: unknown scheduler %q", kind)
	}
	return s, nil
}
