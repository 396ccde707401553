// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command reconstruct-service serves streaming 3D reconstruction
// sessions over a Unix socket. Clients create a session, stream
// images into it, and receive progressively refined reconstruction
// artifacts back over the same connection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/reconstruct/lib/clock"
	"github.com/bureau-foundation/reconstruct/lib/config"
	"github.com/bureau-foundation/reconstruct/lib/producer"
	"github.com/bureau-foundation/reconstruct/lib/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   string
		socketPath   string
		producerPath string
	)
	flag.StringVar(&configPath, "config", "", "path to YAML config file")
	flag.StringVar(&socketPath, "socket", "", "override socket path from config")
	flag.StringVar(&producerPath, "producer", "", "override reconstruction executable from config")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			return err
		}
	} else if err := cfg.Validate(); err != nil {
		return err
	}
	if socketPath != "" {
		cfg.SocketPath = socketPath
	}
	if producerPath != "" {
		cfg.Producer.Path = producerPath
	}
	if cfg.Producer.Path == "" {
		return fmt.Errorf("producer path must be set (producer.path in config or --producer)")
	}

	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	if err := os.MkdirAll(cfg.Producer.ScratchDir, 0o700); err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}

	clk := clock.Real()

	store := session.NewStore(session.StoreOptions{
		Clock:    clk,
		Capacity: cfg.MaxSessions,
		StateDir: cfg.StateDir,
		Defaults: cfg.SessionDefaults(),
		Logger:   logger,
	})

	reaper := session.NewReaper(session.ReaperOptions{
		Store:         store,
		Clock:         clk,
		IdleTimeout:   cfg.IdleTimeoutDuration(),
		SweepInterval: cfg.SweepIntervalDuration(),
		Logger:        logger,
	})

	var runner producer.Producer = &producer.CommandProducer{
		Path:       cfg.Producer.Path,
		ScratchDir: cfg.Producer.ScratchDir,
		Logger:     logger,
	}
	runner = producer.WithTimeout(runner, clk, cfg.RunTimeoutDuration())
	if cfg.MemoryPreflight {
		runner = producer.WithMemoryGuard(runner, logger)
	}

	svc := &Service{
		store:     store,
		producer:  runner,
		clock:     clk,
		startedAt: clk.Now(),
		logger:    logger,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return svc.serve(groupCtx, cfg.SocketPath)
	})
	group.Go(func() error {
		if err := reaper.Run(groupCtx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	logger.Info("reconstruct service running",
		"socket", cfg.SocketPath,
		"max_sessions", cfg.MaxSessions,
		"idle_timeout", cfg.IdleTimeout,
		"producer", cfg.Producer.Path)

	return group.Wait()
}

// newLogger builds the service logger: JSON to stderr at Info.
func newLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}
