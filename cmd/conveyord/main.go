// Command conveyord runs the pipeline daemon: it opens the queue database,
// starts the worker pools and recovery loop, and shuts down cleanly on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"conveyor/internal/config"
	"conveyor/internal/daemon"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, closer, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer closer.Close() //nolint:errcheck

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return
	}

	d, err := daemon.New(cfg, store, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		_ = store.Close()
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("conveyord shutting down")
}
