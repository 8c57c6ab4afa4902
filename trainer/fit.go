package trainer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/infosave2007/minnet/data"
	"github.com/infosave2007/minnet/metrics"
	"github.com/infosave2007/minnet/network"
)

// EvalResult is the evaluation of one task over every class seen so far.
type EvalResult struct {
	AllClassAccy   float64
	ClassAccy      []float64
	ClassConfusion *mat.Dense
	// TaskAccy is the task identification accuracy.
	TaskAccy      float64
	TaskConfusion *mat.Dense
	// AllTaskAccy is the class accuracy within each task.
	AllTaskAccy []float64
}

// fitFC folds the train loader into the analytic head FitEpochs times,
// logging train and test accuracy after every pass.
func (t *Trainer) fitFC(train, test *data.Loader) error {
	t.net.Eval()
	if err := t.net.To(t.cfg.Device); err != nil {
		return err
	}
	bar := t.bar(FitEpochs, fmt.Sprintf("task %d fit", t.curTask))
	defer bar.Finish()
	for e := 0; e < FitEpochs; e++ {
		err := train.Each(func(_ int, b *data.Batch) error {
			width := t.net.FCWidth()
			for _, y := range b.Targets {
				width = max(width, y+1)
			}
			onehot, err := network.OneHot(b.Targets, width)
			if err != nil {
				return err
			}
			if err := t.net.Fit(b.Inputs, onehot); err != nil {
				return err
			}
			t.recorder.FitBatch()
			return nil
		})
		if err != nil {
			return fmt.Errorf("task %d fit: %w", t.curTask, err)
		}

		trainAcc, err := t.ComputeTestAcc(train)
		if err != nil {
			return err
		}
		testAcc, err := t.ComputeTestAcc(test)
		if err != nil {
			return err
		}
		info := fmt.Sprintf("Task %d, train_accy %.2f, test_accy %.2f", t.curTask, trainAcc, testAcc)
		t.log.Info().
			Int("task", t.curTask).
			Float64("train_accy", trainAcc).
			Float64("test_accy", testAcc).
			Msg(info)
		bar.Describe(info)
		_ = bar.Add(1)
	}
	return nil
}

// predict runs the analytic head over a loader, returning predictions and
// labels in loader order.
func (t *Trainer) predict(loader *data.Loader) (pred, label []int, err error) {
	t.net.Eval()
	err = loader.Each(func(_ int, b *data.Batch) error {
		out, err := t.net.Forward(b.Inputs, false)
		if err != nil {
			return err
		}
		pred = append(pred, network.Argmax(out.Logits)...)
		label = append(label, b.Targets...)
		return nil
	})
	if err == nil && len(label) == 0 {
		err = ErrEmptyLoader
	}
	return pred, label, err
}

// ComputeTestAcc is the top-1 accuracy of the analytic head over loader,
// in percent with two decimals.
func (t *Trainer) ComputeTestAcc(loader *data.Loader) (float64, error) {
	pred, label, err := t.predict(loader)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := range pred {
		if pred[i] == label[i] {
			correct++
		}
	}
	return metrics.Accuracy(correct, len(label))
}

// EvalTask computes class and task metrics of the analytic head over loader.
// Every class the head scores must have test samples.
func (t *Trainer) EvalTask(loader *data.Loader) (*EvalResult, error) {
	pred, label, err := t.predict(loader)
	if err != nil {
		return nil, err
	}
	ci, err := metrics.ClassMetrics(pred, label, t.net.FCWidth())
	if err != nil {
		return nil, err
	}
	ti, err := metrics.TaskMetrics(pred, label, t.cfg.InitClass, t.cfg.Increment)
	if err != nil {
		return nil, err
	}
	return &EvalResult{
		AllClassAccy:   ci.AllAccy,
		ClassAccy:      ci.ClassAccy,
		ClassConfusion: ci.Confusion,
		TaskAccy:       ti.AllAccy,
		TaskConfusion:  ti.Confusion,
		AllTaskAccy:    ti.TaskAccy,
	}, nil
}
