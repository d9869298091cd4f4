package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"splatgate/internal/cli"
	"splatgate/internal/config"
	"splatgate/internal/logging"
	"splatgate/internal/pipeline"
	"splatgate/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 1
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.Paths.DatabasePath, "error", err)
		return 1
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipe := pipeline.New(ctx, pipeline.Options{
		Concurrency: cfg.Processing.ParallelJobs,
		QueueSize:   cfg.Processing.QueueSize,
	}, pipeline.NewRouter(cfg, logger, store, nil), logger, store)
	defer pipe.Stop()

	cmd := cli.NewRootCmd(cfg, logger, store, pipe)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, cli.ErrRejected) {
			return 2
		}
		return 1
	}
	return 0
}
