// Package config loads and validates the flat experiment configuration.
//
// Files may be JSON or YAML. Several files are merged left to right so a
// shared base configuration can be overridden by a model configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingKey is returned when a required key is absent from every file.
	ErrMissingKey = errors.New("config: missing required key")
	// ErrInvalid is returned when a key is present but holds an unusable value.
	ErrInvalid = errors.New("config: invalid value")
)

// Required lists the keys every experiment must define.
var Required = []string{
	"device",
	"num_workers",
	"init_epochs",
	"init_lr",
	"init_weight_decay",
	"init_batch_size",
	"lr",
	"batch_size",
	"weight_decay",
	"epochs",
	"init_class",
	"increment",
	"buffer_size",
	"gamma",
	"pretrained",
	"optimizer_type",
	"scheduler_type",
}

type Config struct {
	Device     string `yaml:"device"`
	NumWorkers int    `yaml:"num_workers"`

	InitEpochs      int     `yaml:"init_epochs"`
	InitLR          float64 `yaml:"init_lr"`
	InitWeightDecay float64 `yaml:"init_weight_decay"`
	InitBatchSize   int     `yaml:"init_batch_size"`

	LR          float64 `yaml:"lr"`
	BatchSize   int     `yaml:"batch_size"`
	WeightDecay float64 `yaml:"weight_decay"`
	Epochs      int     `yaml:"epochs"`

	InitClass  int `yaml:"init_class"`
	Increment  int `yaml:"increment"`
	BufferSize int `yaml:"buffer_size"`

	// Gamma is the ridge term of the evolving head's least squares fit.
	Gamma      float64 `yaml:"gamma"`
	Pretrained bool    `yaml:"pretrained"`

	OptimizerType string `yaml:"optimizer_type"`
	SchedulerType string `yaml:"scheduler_type"`

	Seed          int64   `yaml:"seed"`
	NbTasks       int     `yaml:"nb_tasks"`
	FeatureDim    int     `yaml:"feature_dim"`
	AugNoise      float64 `yaml:"aug_noise"`
	ShuffleOrder  *bool   `yaml:"shuffle_order"`
	ModelName     string  `yaml:"model_name"`
	TrainPath     string  `yaml:"train_path"`
	TestPath      string  `yaml:"test_path"`
	TextModel     string  `yaml:"text_model"`
	CheckpointDir string  `yaml:"checkpoint_dir"`
}

var (
	optimizers = map[string]bool{"sgd": true, "adam": true, "rmsprop": true, "vanilla": true}
	schedulers = map[string]bool{"constant": true, "step": true, "cosine": true}
)

// Load reads and merges the given files, then checks and decodes the result.
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("config: no files given")
	}
	merged := map[string]any{}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		part := map[string]any{}
		if err := yaml.Unmarshal(data, &part); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		for k, v := range part {
			merged[k] = v
		}
	}
	return FromMap(merged)
}

// FromMap decodes an already merged key/value mapping.
func FromMap(m map[string]any) (*Config, error) {
	var missing []string
	for _, key := range Required {
		if _, ok := m[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingKey, strings.Join(missing, ", "))
	}

	raw, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config holding only the optional defaults.
func Default() *Config {
	return &Config{
		Seed:       1993,
		FeatureDim: 64,
		AugNoise:   0.05,
	}
}

// Validate reports the first unusable value.
func (c *Config) Validate() error {
	switch {
	case !strings.EqualFold(c.Device, "cpu"):
		return fmt.Errorf("%w: device %q, only cpu is supported", ErrInvalid, c.Device)
	case c.NumWorkers < 0:
		return fmt.Errorf("%w: num_workers must not be negative", ErrInvalid)
	case c.InitClass <= 0:
		return fmt.Errorf("%w: init_class must be positive", ErrInvalid)
	case c.Increment <= 0:
		return fmt.Errorf("%w: increment must be positive", ErrInvalid)
	case c.BufferSize <= 0:
		return fmt.Errorf("%w: buffer_size must be positive", ErrInvalid)
	case c.InitBatchSize <= 0 || c.BatchSize <= 0:
		return fmt.Errorf("%w: batch sizes must be positive", ErrInvalid)
	case c.InitEpochs < 0 || c.Epochs < 0:
		return fmt.Errorf("%w: epochs must not be negative", ErrInvalid)
	case c.InitLR < 0 || c.LR < 0:
		return fmt.Errorf("%w: learning rates must not be negative", ErrInvalid)
	case c.InitWeightDecay < 0 || c.WeightDecay < 0:
		return fmt.Errorf("%w: weight decay must not be negative", ErrInvalid)
	case c.Gamma <= 0:
		return fmt.Errorf("%w: gamma must be positive", ErrInvalid)
	case c.FeatureDim <= 0:
		return fmt.Errorf("%w: feature_dim must be positive", ErrInvalid)
	case c.NbTasks < 0:
		return fmt.Errorf("%w: nb_tasks must not be negative", ErrInvalid)
	case c.AugNoise < 0:
		return fmt.Errorf("%w: aug_noise must not be negative", ErrInvalid)
	}
	if !optimizers[strings.ToLower(c.OptimizerType)] {
		return fmt.Errorf("%w: optimizer_type %q", ErrInvalid, c.OptimizerType)
	}
	if !schedulers[strings.ToLower(c.SchedulerType)] {
		return fmt.Errorf("%w: scheduler_type %q", ErrInvalid, c.SchedulerType)
	}
	return nil
}

// ShuffleClasses reports whether the class order is shuffled with Seed.
func (c *Config) ShuffleClasses() bool {
	return c.ShuffleOrder == nil || *c.ShuffleOrder
}

// Tasks returns the number of tasks needed to cover numClasses, or NbTasks
// when it is set.
func (c *Config) Tasks(numClasses int) int {
	if c.NbTasks > 0 {
		return c.NbTasks
	}
	if numClasses <= c.InitClass {
		return 1
	}
	return 1 + (numClasses-c.InitClass+c.Increment-1)/c.Increment
}
