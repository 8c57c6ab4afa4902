package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const base = `{
  "device": "cpu",
  "num_workers": 2,
  "init_epochs": 5,
  "init_lr": 0.01,
  "init_weight_decay": 0.0005,
  "init_batch_size": 32,
  "lr": 0.001,
  "batch_size": 16,
  "weight_decay": 0.0005,
  "epochs": 3,
  "init_class": 50,
  "increment": 10,
  "optimizer_type": "sgd",
  "scheduler_type": "cosine"
}`

const model = `
buffer_size: 2048
gamma: 500
pretrained: true
lr: 0.002
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMergesFiles(t *testing.T) {
	cfg, err := Load(writeFile(t, "base.json", base), writeFile(t, "model.yaml", model))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LR != 0.002 {
		t.Errorf("expected model file to override lr, got %v", cfg.LR)
	}
	if cfg.InitLR != 0.01 {
		t.Errorf("expected init_lr 0.01, got %v", cfg.InitLR)
	}
	if cfg.BufferSize != 2048 || !cfg.Pretrained {
		t.Errorf("model keys not decoded: %+v", cfg)
	}
	if cfg.Seed != 1993 || cfg.FeatureDim != 64 {
		t.Errorf("defaults not applied: seed=%d feature_dim=%d", cfg.Seed, cfg.FeatureDim)
	}
	if !cfg.ShuffleClasses() {
		t.Error("shuffle_order should default to true")
	}
}

func TestLoadMissingKey(t *testing.T) {
	_, err := Load(writeFile(t, "base.json", base))
	if !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Device: "cpu", InitClass: 5, Increment: 2, BufferSize: 16,
			InitBatchSize: 4, BatchSize: 4, Gamma: 1, FeatureDim: 8,
			OptimizerType: "adam", SchedulerType: "constant",
		}
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"gpu device", func(c *Config) { c.Device = "cuda:0" }, false},
		{"zero increment", func(c *Config) { c.Increment = 0 }, false},
		{"zero gamma", func(c *Config) { c.Gamma = 0 }, false},
		{"unknown optimizer", func(c *Config) { c.OptimizerType = "lbfgs" }, false},
		{"unknown scheduler", func(c *Config) { c.SchedulerType = "plateau" }, false},
		{"negative workers", func(c *Config) { c.NumWorkers = -1 }, false},
		{"upper case names", func(c *Config) { c.OptimizerType = "SGD"; c.Device = "CPU" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestTasks(t *testing.T) {
	c := &Config{InitClass: 5, Increment: 2}
	if got := c.Tasks(7); got != 2 {
		t.Errorf("Tasks(7) = %d, want 2", got)
	}
	if got := c.Tasks(8); got != 3 {
		t.Errorf("Tasks(8) = %d, want 3", got)
	}
	c.NbTasks = 4
	if got := c.Tasks(8); got != 4 {
		t.Errorf("Tasks with nb_tasks = %d, want 4", got)
	}
}
