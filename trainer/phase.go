package trainer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"

	"github.com/infosave2007/minnet/data"
	"github.com/infosave2007/minnet/metrics"
	"github.com/infosave2007/minnet/network"
	"github.com/infosave2007/minnet/optim"
)

// PhaseMetrics summarises one epoch of a gradient phase.
type PhaseMetrics struct {
	Loss     float64 // mean over batches
	Correct  int
	Total    int
	Accuracy float64
}

// Phase is one epoch of gradient training for a kind of task.
type Phase interface {
	Name() string
	// Capability lists the parameter groups the phase trains.
	Capability() network.Capability
	Execute(loader *data.Loader, net *network.Net) (PhaseMetrics, error)
}

// InitialTaskPhase trains the normal head, and the backbone when it is
// pretrained, on cross entropy of the normal logits.
type InitialTaskPhase struct {
	Opt        *optim.Optimizer
	Pretrained bool
}

func (p *InitialTaskPhase) Name() string { return "initial" }

func (p *InitialTaskPhase) Capability() network.Capability {
	return network.Capability{NormalHead: true, Backbone: p.Pretrained}
}

func (p *InitialTaskPhase) Execute(loader *data.Loader, net *network.Net) (PhaseMetrics, error) {
	return epoch(loader, net, p.Opt, false)
}

// IncrementalTaskPhase trains the newest noise generator and the normal
// head. The analytic head's scores are added to the normal logits as a
// constant, so no gradient reaches it.
type IncrementalTaskPhase struct {
	Opt *optim.Optimizer
}

func (p *IncrementalTaskPhase) Name() string { return "incremental" }

func (p *IncrementalTaskPhase) Capability() network.Capability {
	return network.Capability{NormalHead: true, Noise: true}
}

func (p *IncrementalTaskPhase) Execute(loader *data.Loader, net *network.Net) (PhaseMetrics, error) {
	return epoch(loader, net, p.Opt, true)
}

func epoch(loader *data.Loader, net *network.Net, opt *optim.Optimizer, withMemory bool) (PhaseMetrics, error) {
	var m PhaseMetrics
	var losses float64
	err := loader.Each(func(_ int, b *data.Batch) error {
		res, err := trainStep(net, opt, b, withMemory)
		if err != nil {
			return err
		}
		losses += res.loss
		for i, p := range res.preds {
			if p == b.Targets[i] {
				m.Correct++
			}
		}
		m.Total += b.Size()
		return nil
	})
	if err != nil {
		return m, err
	}
	if n := loader.Len(); n > 0 {
		m.Loss = losses / float64(n)
	}
	if m.Total > 0 {
		m.Accuracy, _ = metrics.Accuracy(m.Correct, m.Total)
	}
	return m, nil
}

type stepResult struct {
	loss  float64
	preds []int
}

// lossGraph builds the batch loss over the normal head. With withMemory the
// analytic head's logits on the same inputs are added as a constant.
func lossGraph(net *network.Net, b *data.Batch, withMemory bool) (*network.Graph, *gorgonia.Node, *gorgonia.Node, error) {
	gr, err := net.NormalFCGraph(b.Inputs, false)
	if err != nil {
		return nil, nil, nil, err
	}
	logits := gr.Logits
	width := net.NormalFC.W.Cols
	if withMemory {
		out, err := net.Forward(b.Inputs, false)
		if err != nil {
			return nil, nil, nil, err
		}
		memory := out.Logits
		if _, c := memory.Dims(); c != width {
			wide := mat.NewDense(b.Size(), width, nil)
			wide.Slice(0, b.Size(), 0, min(c, width)).(*mat.Dense).Copy(memory)
			memory = wide
		}
		if logits, err = gorgonia.Add(logits, gr.Constant("memory", memory)); err != nil {
			return nil, nil, nil, err
		}
	}
	y, err := network.OneHot(b.Targets, width)
	if err != nil {
		return nil, nil, nil, err
	}
	loss, err := network.CrossEntropy(logits, gr.Constant("y", y))
	if err != nil {
		return nil, nil, nil, err
	}
	return gr, logits, loss, nil
}

func trainStep(net *network.Net, opt *optim.Optimizer, b *data.Batch, withMemory bool) (stepResult, error) {
	gr, logits, loss, err := lossGraph(net, b, withMemory)
	if err != nil {
		return stepResult{}, err
	}
	var lossVal, logitsVal gorgonia.Value
	gorgonia.Read(loss, &lossVal)
	gorgonia.Read(logits, &logitsVal)

	learnables := gr.Learnables()
	if len(learnables) == 0 {
		return stepResult{}, fmt.Errorf("trainer: no trainable parameters")
	}
	if _, err := gorgonia.Grad(loss, learnables...); err != nil {
		return stepResult{}, err
	}
	machine := gorgonia.NewTapeMachine(gr.G, gorgonia.BindDualValues(learnables...))
	defer machine.Close()
	if err := machine.RunAll(); err != nil {
		return stepResult{}, err
	}

	res := stepResult{}
	if v, ok := lossVal.Data().(float64); ok {
		res.loss = v
	}
	scores, err := network.Values(logitsVal)
	if err != nil {
		return stepResult{}, err
	}
	res.preds = network.Argmax(scores)

	if err := opt.Step(gorgonia.NodesToValueGrads(learnables)); err != nil {
		return stepResult{}, err
	}
	return res, gr.Commit()
}

// newPhase selects the phase of the current task.
func (t *Trainer) newPhase(opt *optim.Optimizer) Phase {
	if t.curTask == 0 {
		return &InitialTaskPhase{Opt: opt, Pretrained: t.net.Pretrained()}
	}
	return &IncrementalTaskPhase{Opt: opt}
}

// run is the gradient phase of the current task.
func (t *Trainer) run(loader *data.Loader) error {
	epochs, lr, wd := t.cfg.Epochs, t.cfg.LR, t.cfg.WeightDecay
	if t.curTask == 0 {
		epochs, lr, wd = t.cfg.InitEpochs, t.cfg.InitLR, t.cfg.InitWeightDecay
	}

	t.net.UpdateNoise()
	opt, err := optim.New(t.cfg.OptimizerType, lr, wd)
	if err != nil {
		return err
	}
	sched, err := optim.NewScheduler(t.cfg.SchedulerType, opt, epochs)
	if err != nil {
		return err
	}
	phase := t.newPhase(opt)
	t.net.Apply(phase.Capability())
	var trainable []string
	for _, p := range t.net.Trainable() {
		trainable = append(trainable, p.Name)
	}
	t.log.Debug().
		Int("task", t.curTask).
		Str("phase", phase.Name()).
		Int("samples", loader.Samples()).
		Strs("params", trainable).
		Msgf("trainable: %s", phase.Capability())

	t.net.Train()
	defer t.net.Eval()
	bar := t.bar(epochs, fmt.Sprintf("task %d %s", t.curTask, phase.Name()))
	defer bar.Finish()
	for e := 0; e < epochs; e++ {
		m, err := phase.Execute(loader, t.net)
		if err != nil {
			return fmt.Errorf("task %d epoch %d: %w", t.curTask, e+1, err)
		}
		if err := sched.Step(); err != nil {
			return err
		}
		info := fmt.Sprintf("Task %d, Epoch %d/%d => Loss %.3f, train_accy %.2f", t.curTask, e+1, epochs, m.Loss, m.Accuracy)
		t.log.Info().
			Int("task", t.curTask).
			Int("epoch", e+1).
			Float64("loss", m.Loss).
			Float64("train_accy", m.Accuracy).
			Msg(info)
		bar.Describe(info)
		_ = bar.Add(1)
		t.recorder.PhaseLoss(phase.Name(), m.Loss)
	}
	return nil
}
