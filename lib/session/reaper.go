// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/bureau-foundation/reconstruct/lib/clock"
)

// ReaperOptions configures a Reaper.
type ReaperOptions struct {
	Store *Store
	Clock clock.Clock

	// IdleTimeout is how long a session may go without activity
	// before it is evicted.
	IdleTimeout time.Duration

	// SweepInterval is how often the store is scanned.
	SweepInterval time.Duration

	Logger *slog.Logger
}

// Reaper periodically evicts idle sessions from the store.
type Reaper struct {
	store         *Store
	clk           clock.Clock
	idleTimeout   time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger
}

// NewReaper creates a reaper. Call Run to start sweeping.
func NewReaper(options ReaperOptions) *Reaper {
	return &Reaper{
		store:         options.Store,
		clk:           options.Clock,
		idleTimeout:   options.IdleTimeout,
		sweepInterval: options.SweepInterval,
		logger:        options.Logger,
	}
}

// Run sweeps the store on every tick until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := r.clk.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep evicts every session idle past the timeout. Exported so tests
// and shutdown paths can force a sweep without waiting for a tick.
func (r *Reaper) Sweep() {
	cutoff := r.clk.Now().Add(-r.idleTimeout)
	evicted := r.store.EvictIdle(cutoff)
	if len(evicted) > 0 {
		r.logger.Info("reaper sweep",
			"evicted", len(evicted),
			"remaining", r.store.Count())
	}
}
