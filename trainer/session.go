package trainer

import (
	"fmt"
	"path/filepath"

	"github.com/infosave2007/minnet/data"
	"github.com/infosave2007/minnet/metrics"
)

// Summary is the outcome of a session.
type Summary struct {
	// TotalAcc is the accuracy over all seen classes after each task.
	TotalAcc []float64
	AvgAcc   float64
}

// RunSession trains nbTasks tasks in order, evaluating after each one. When
// checkpointDir is set the network is saved there after every task.
func RunSession(t *Trainer, dm data.Manager, nbTasks int, checkpointDir string) (*Summary, error) {
	if nbTasks <= 0 {
		return nil, fmt.Errorf("trainer: %d tasks", nbTasks)
	}
	for task := 0; task < nbTasks; task++ {
		train := t.IncrementTrain
		if task == 0 {
			train = t.InitTrain
		}
		if err := train(dm); err != nil {
			return nil, err
		}
		if err := t.AfterTrain(dm); err != nil {
			return nil, err
		}
		if checkpointDir != "" {
			path := filepath.Join(checkpointDir, fmt.Sprintf("task_%d.ckpt.zst", task))
			if err := t.SaveCheckpoint(path); err != nil {
				return nil, err
			}
		}
	}
	s := &Summary{TotalAcc: t.TotalAcc()}
	avg, err := metrics.Mean(s.TotalAcc)
	if err != nil {
		return nil, err
	}
	s.AvgAcc = avg
	t.log.Info().Float64("avg_acc", avg).Int("tasks", nbTasks).Msg("session finished")
	return s, nil
}
