// Command train fits the classifier on the images under the configured
// dataset directory and writes the model artifact.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aviario/postura/internal/config"
	"github.com/aviario/postura/internal/infrastructure"
	"github.com/aviario/postura/internal/training"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed: ", err)
	}

	if err := run(cfg); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	infra, err := infrastructure.New(cfg)
	if err != nil {
		log.Print("infrastructure init failed: ", err)
		return err
	}
	logger := infra.Logger

	if err := infra.Start(); err != nil {
		logger.Error("infrastructure start failed", "error", err)
		return err
	}
	infra.Lifecycle.WaitForStartup()
	defer func() {
		if err := infra.Lifecycle.Shutdown(cfg.ShutdownTimeoutDuration()); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info(
		"training starting",
		"version", cfg.Version,
		"env", cfg.Env(),
		"dataset", cfg.Training.DatasetDir,
		"classes", cfg.Training.Classes,
		"model_dir", cfg.Model.Dir,
	)

	result, err := training.New(cfg.Training, cfg.Model, infra.Storage, logger).Run(ctx)
	if err != nil {
		logger.Error("training failed", "error", err)
		return err
	}

	attrs := []any{"dir", result.Dir, "epochs", len(result.History)}
	if final := result.Summary.Final; final != nil {
		attrs = append(attrs, "loss", final.Loss, "acc", final.Acc)
		if final.ValAcc != nil {
			attrs = append(attrs, "val_acc", *final.ValAcc)
		}
	}
	logger.Info("training complete", attrs...)
	return nil
}
