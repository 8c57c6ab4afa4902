// Package trainer drives class-incremental learning over a sequence of
// tasks. Task 0 trains the normal head (and a pretrained backbone) by
// gradient descent and then fits the analytic head; every later task first
// folds the new classes into the analytic head, widens the heads, trains the
// newest noise generator against the frozen analytic scores and fits again.
package trainer

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/infosave2007/minnet/config"
	"github.com/infosave2007/minnet/data"
	"github.com/infosave2007/minnet/metrics"
	"github.com/infosave2007/minnet/network"
	"github.com/infosave2007/minnet/telemetry"
)

var (
	// ErrSequence is returned when a task operation is called out of order.
	ErrSequence = errors.New("trainer: operation out of sequence")
	// ErrEmptyLoader is returned when evaluation is given no samples.
	ErrEmptyLoader = errors.New("trainer: empty loader")
)

const (
	// FitEpochs is the number of passes over the data when fitting the
	// analytic head.
	FitEpochs = 3
	// BufferBatch is the batch size of analytic fitting passes.
	BufferBatch = 1000
)

// Option configures a Trainer.
type Option func(*Trainer)

// WithProgress sends progress bars to w. The default discards them.
func WithProgress(w io.Writer) Option {
	return func(t *Trainer) { t.progress = w }
}

// WithRecorder exports session metrics through r.
func WithRecorder(r *telemetry.Recorder) Option {
	return func(t *Trainer) { t.recorder = r }
}

// WithNetwork replaces the network built from the configuration, for
// example one with a pretrained backbone already loaded.
func WithNetwork(n *network.Net) Option {
	return func(t *Trainer) { t.net = n }
}

// Trainer owns the network and the per-session state. It is not safe for
// concurrent use.
type Trainer struct {
	cfg      *config.Config
	log      zerolog.Logger
	net      *network.Net
	progress io.Writer
	recorder *telemetry.Recorder
	session  string

	curTask    int
	knownClass int
	evaluated  bool
	loaders    int64

	totalAcc []float64
	classAcc [][]float64
	taskAcc  []float64
}

// New builds a trainer whose network reads inputs of width inputDim.
func New(cfg *config.Config, inputDim int, logger zerolog.Logger, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Trainer{
		cfg:      cfg,
		progress: io.Discard,
		session:  uuid.NewString(),
		curTask:  -1,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.net == nil {
		n, err := network.New(network.Options{
			InputDim:   inputDim,
			FeatureDim: cfg.FeatureDim,
			BufferSize: cfg.BufferSize,
			Gamma:      cfg.Gamma,
			Pretrained: cfg.Pretrained,
		})
		if err != nil {
			return nil, err
		}
		t.net = n
	}
	if err := t.net.To(cfg.Device); err != nil {
		return nil, err
	}
	t.log = logger.With().Str("session", t.session).Logger()
	return t, nil
}

// Network is the trained network.
func (t *Trainer) Network() *network.Net { return t.net }

// Session is the id tagged on every log line of the run.
func (t *Trainer) Session() string { return t.session }

// CurTask is the index of the task being or last trained, -1 before the
// first.
func (t *Trainer) CurTask() int { return t.curTask }

// KnownClass is the number of classes evaluated so far.
func (t *Trainer) KnownClass() int { return t.knownClass }

// TotalAcc is the accuracy over all seen classes after each task.
func (t *Trainer) TotalAcc() []float64 { return append([]float64(nil), t.totalAcc...) }

// ClassAcc is the per-class accuracy after each task.
func (t *Trainer) ClassAcc() [][]float64 {
	out := make([][]float64, len(t.classAcc))
	for i, c := range t.classAcc {
		out[i] = append([]float64(nil), c...)
	}
	return out
}

// TaskAcc is the task identification accuracy after each task.
func (t *Trainer) TaskAcc() []float64 { return append([]float64(nil), t.taskAcc...) }

func (t *Trainer) loader(ds *data.Dataset, batch int, shuffle bool) (*data.Loader, error) {
	t.loaders++
	return data.NewLoader(ds, batch, shuffle, t.cfg.NumWorkers, t.cfg.Seed+t.loaders)
}

// taskData fetches source data for classes and remaps its labels unless the
// manager already did.
func (t *Trainer) taskData(dm data.Manager, source data.Source, classes []int) (*data.Dataset, error) {
	ds, err := dm.GetTaskData(source, classes)
	if err != nil {
		return nil, fmt.Errorf("task %d %s data: %w", t.curTask, source, err)
	}
	if ds.Remapped() {
		return ds, nil
	}
	if err := Cat2Order(ds, dm); err != nil {
		return nil, fmt.Errorf("task %d %s data: %w", t.curTask, source, err)
	}
	return ds, nil
}

func (t *Trainer) bar(steps int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(steps,
		progressbar.OptionSetWriter(t.progress),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// InitTrain trains the first task. It must be the first task operation.
func (t *Trainer) InitTrain(dm data.Manager) error {
	if t.curTask != -1 {
		return fmt.Errorf("%w: init_train at task %d", ErrSequence, t.curTask)
	}
	t.curTask++
	t.evaluated = false

	trainList, testList, names, err := dm.GetTaskList(0)
	if err != nil {
		return err
	}
	t.log.Info().Int("task", t.curTask).Msgf("task_list: %v", names)
	t.log.Info().Int("task", t.curTask).Msgf("task_order: %v", trainList)

	trainSet, err := t.taskData(dm, data.SourceTrain, trainList)
	if err != nil {
		return err
	}
	testSet, err := t.taskData(dm, data.SourceTest, testList)
	if err != nil {
		return err
	}

	trainLoader, err := t.loader(trainSet, t.cfg.InitBatchSize, true)
	if err != nil {
		return err
	}
	if err := t.net.UpdateFC(len(trainList)); err != nil {
		return err
	}
	if err := t.run(trainLoader); err != nil {
		return err
	}

	// The backbone stays open for the first fit, as it was during run.
	if err := t.fitBuffered(trainSet, testSet); err != nil {
		return err
	}

	noAug, err := t.taskData(dm, data.SourceTrainNoAug, trainList)
	if err != nil {
		return err
	}
	t.net.FreezeGroup(network.GroupBackbone)
	return t.fitBuffered(noAug, testSet)
}

// IncrementTrain trains the next task. The previous task must have been
// closed by AfterTrain.
func (t *Trainer) IncrementTrain(dm data.Manager) error {
	if t.curTask < 0 {
		return fmt.Errorf("%w: increment_train before init_train", ErrSequence)
	}
	if !t.evaluated {
		return fmt.Errorf("%w: task %d has not been evaluated", ErrSequence, t.curTask)
	}
	t.curTask++
	t.evaluated = false

	trainList, testList, names, err := dm.GetTaskList(t.curTask)
	if err != nil {
		return err
	}
	t.log.Info().Int("task", t.curTask).Msgf("task_list: %v", names)
	t.log.Info().Int("task", t.curTask).Msgf("task_order: %v", trainList)

	trainSet, err := t.taskData(dm, data.SourceTrain, trainList)
	if err != nil {
		return err
	}
	testSet, err := t.taskData(dm, data.SourceTest, testList)
	if err != nil {
		return err
	}

	t.net.FreezeGroup(network.GroupBackbone)
	if err := t.fitBuffered(trainSet, testSet); err != nil {
		return err
	}

	if err := t.net.UpdateFC(len(trainList)); err != nil {
		return err
	}
	trainLoader, err := t.loader(trainSet, t.cfg.BatchSize, true)
	if err != nil {
		return err
	}
	if err := t.run(trainLoader); err != nil {
		return err
	}

	noAug, err := t.taskData(dm, data.SourceTrainNoAug, trainList)
	if err != nil {
		return err
	}
	t.net.FreezeGroup(network.GroupBackbone)
	return t.fitBuffered(noAug, testSet)
}

func (t *Trainer) fitBuffered(trainSet, testSet *data.Dataset) error {
	trainLoader, err := t.loader(trainSet, BufferBatch, true)
	if err != nil {
		return err
	}
	testLoader, err := t.loader(testSet, BufferBatch, false)
	if err != nil {
		return err
	}
	return t.fitFC(trainLoader, testLoader)
}

// AfterTrain evaluates the current task over every class seen so far and
// records the result. It runs exactly once per task.
func (t *Trainer) AfterTrain(dm data.Manager) error {
	if t.curTask < 0 || t.evaluated {
		return fmt.Errorf("%w: after_train at task %d", ErrSequence, t.curTask)
	}
	_, testList, _, err := dm.GetTaskList(t.curTask)
	if err != nil {
		return err
	}
	known := t.cfg.InitClass
	if t.curTask > 0 {
		known = t.knownClass + t.cfg.Increment
	}
	// The last task of an uneven split holds fewer than increment classes.
	known = min(known, len(testList))
	if w := t.net.FCWidth(); w != known {
		return fmt.Errorf("%w: task %d knows %d classes, head width %d", ErrSequence, t.curTask, known, w)
	}

	testSet, err := t.taskData(dm, data.SourceTest, testList)
	if err != nil {
		return err
	}
	testLoader, err := t.loader(testSet, t.cfg.InitBatchSize, false)
	if err != nil {
		return err
	}
	res, err := t.EvalTask(testLoader)
	if err != nil {
		return fmt.Errorf("task %d eval: %w", t.curTask, err)
	}

	t.knownClass = known
	t.totalAcc = append(t.totalAcc, res.AllClassAccy)
	t.classAcc = append(t.classAcc, res.ClassAccy)
	t.taskAcc = append(t.taskAcc, res.TaskAccy)
	t.evaluated = true

	t.log.Info().Msgf("total acc: %s", metrics.FormatAccs(t.totalAcc))
	t.log.Info().Msgf("class acc: %v", t.classAcc)
	t.log.Info().Msgf("task acc: %s", metrics.FormatAccs(t.taskAcc))
	t.log.Info().Msgf("task confusion matrix:\n%s", metrics.RenderString(res.TaskConfusion, "task"))
	if avg, err := metrics.Mean(t.totalAcc); err == nil {
		t.log.Info().Float64("avg_acc", avg).Msgf("avg_acc: %.4f", avg)
	}

	t.recorder.TaskAccuracy(t.curTask, res.AllClassAccy)
	t.recorder.KnownClasses(t.knownClass)
	return nil
}

// SaveCheckpoint writes the network state to path.
func (t *Trainer) SaveCheckpoint(path string) error {
	if err := t.net.Save(path); err != nil {
		return err
	}
	t.log.Info().Int("task", t.curTask).Str("path", path).Msg("checkpoint saved")
	return nil
}

// Cat2Order maps the raw labels of ds to class order indices. A dataset is
// remapped at most once.
func Cat2Order(ds *data.Dataset, dm data.Mapper) error {
	return ds.Remap(dm)
}
