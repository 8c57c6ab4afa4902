// Command minnet trains a class-incremental classifier over a sequence of
// tasks and reports the accuracy after each one.
//
// Run:
//
//	export ASSUME_NO_MOVING_GC_UNSAFE_RISK_IT_WITH=go1.25
//	go run ./cmd/minnet -base-config configs/base.yaml -model-config configs/minnet.yaml
//
// Without train_path a synthetic dataset is generated. With text_model set,
// train_path and test_path are "label,text" files embedded by a Cybertron
// sentence encoder; otherwise they are numeric "label,f1,f2,..." files.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/infosave2007/minnet/config"
	"github.com/infosave2007/minnet/data"
	"github.com/infosave2007/minnet/network"
	"github.com/infosave2007/minnet/telemetry"
	"github.com/infosave2007/minnet/trainer"
)

var (
	baseConfig  = flag.String("base-config", "configs/base.yaml", "Base configuration file")
	modelConfig = flag.String("model-config", "configs/minnet.yaml", "Model configuration file, overrides the base")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	checkpoint  = flag.String("checkpoint", "", "Save the final network to this path")
	backbone    = flag.String("backbone", "", "Checkpoint holding a pretrained backbone")
	modelsDir   = flag.String("models-dir", "./models", "Directory of downloaded text models")
)

func main() {
	flag.Parse()
	setupLogger()

	cfg, err := config.Load(*baseConfig, *modelConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	train, test, err := loadData(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load data")
	}
	dm, err := data.NewMemoryManager(train, test, data.ManagerOptions{
		InitClass: cfg.InitClass,
		Increment: cfg.Increment,
		Seed:      cfg.Seed,
		Shuffle:   cfg.ShuffleClasses(),
		AugNoise:  cfg.AugNoise,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to split tasks")
	}

	opts := []trainer.Option{trainer.WithProgress(os.Stderr)}
	if *metricsAddr != "" {
		rec := telemetry.New()
		opts = append(opts, trainer.WithRecorder(rec))
		go serveMetrics(*metricsAddr, rec)
	}
	if *backbone != "" {
		net, err := pretrainedNet(cfg, train.Dim(), *backbone)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load backbone")
		}
		opts = append(opts, trainer.WithNetwork(net))
	}

	t, err := trainer.New(cfg, train.Dim(), log.Logger, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create trainer")
	}
	tasks := min(cfg.Tasks(len(dm.Order())), dm.NumTasks())
	log.Info().Str("session", t.Session()).Msgf("Training %d tasks over %d classes", tasks, len(dm.Order()))

	summary, err := trainer.RunSession(t, dm, tasks, cfg.CheckpointDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Training failed")
	}
	if *checkpoint != "" {
		if err := t.SaveCheckpoint(*checkpoint); err != nil {
			log.Fatal().Err(err).Msg("Failed to save checkpoint")
		}
	}
	fmt.Printf("total acc: %v\n", summary.TotalAcc)
	fmt.Printf("avg_acc: %.4f\n", summary.AvgAcc)
}

func setupLogger() {
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	log.Logger = log.Output(output)
}

func loadData(ctx context.Context, cfg *config.Config) (train, test *data.Dataset, err error) {
	if cfg.TrainPath == "" {
		classes := cfg.InitClass + cfg.Increment*(max(cfg.NbTasks, 2)-1)
		log.Info().Msgf("No train_path, generating %d synthetic classes", classes)
		train, test = data.Synthetic{
			Classes:  classes,
			Dim:      32,
			PerTrain: 60,
			PerTest:  20,
			Spread:   0.15,
			Seed:     cfg.Seed,
		}.Generate()
		return train, test, nil
	}
	if cfg.TestPath == "" {
		return nil, nil, errors.New("test_path is required with train_path")
	}
	if cfg.TextModel != "" {
		enc, err := data.NewTextEncoder(*modelsDir, cfg.TextModel, 0)
		if err != nil {
			return nil, nil, err
		}
		if train, err = data.LoadTextCSV(ctx, cfg.TrainPath, enc); err != nil {
			return nil, nil, err
		}
		if test, err = data.LoadTextCSV(ctx, cfg.TestPath, enc); err != nil {
			return nil, nil, err
		}
		return train, test, nil
	}
	if train, err = data.LoadCSV(cfg.TrainPath); err != nil {
		return nil, nil, err
	}
	if test, err = data.LoadCSV(cfg.TestPath); err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

func pretrainedNet(cfg *config.Config, inputDim int, path string) (*network.Net, error) {
	net, err := network.New(network.Options{
		InputDim:   inputDim,
		FeatureDim: cfg.FeatureDim,
		BufferSize: cfg.BufferSize,
		Gamma:      cfg.Gamma,
		Pretrained: cfg.Pretrained,
	})
	if err != nil {
		return nil, err
	}
	if err := net.LoadBackbone(path); err != nil {
		return nil, err
	}
	return net, nil
}

func serveMetrics(addr string, rec *telemetry.Recorder) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	log.Info().Msgf("Serving metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("Metrics server failed")
	}
}
