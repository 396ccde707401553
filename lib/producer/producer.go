// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package producer

import (
	"context"
	"errors"

	"github.com/bureau-foundation/reconstruct/lib/session"
	"github.com/bureau-foundation/reconstruct/lib/wire"
)

// Sentinel errors for run outcomes. The handler maps these to
// protocol failure codes with errors.Is.
var (
	// ErrProducer: the run failed. Wraps the underlying cause.
	ErrProducer = errors.New("producer failure")

	// ErrTimeout: the run exceeded its time budget and was
	// cancelled.
	ErrTimeout = errors.New("generation timed out")

	// ErrInsufficientMemory: the memory pre-flight estimated the run
	// would not fit on the host.
	ErrInsufficientMemory = errors.New("insufficient memory for run")
)

// ProgressFunc receives intermediate progress of a running
// generation. Implementations must tolerate being called from the
// producer's goroutine.
type ProgressFunc func(stage string, fraction float64, message string)

// Request describes one reconstruction run. Inputs is a snapshot
// taken when the run was requested; inputs added afterwards belong to
// the next run.
type Request struct {
	SessionID string

	// Inputs is the ordered snapshot of spooled inputs to consume.
	Inputs []session.Input

	Config wire.SessionConfig

	// Incremental requests a fast preview-quality pass.
	Incremental bool

	// Progress receives progress events. May be nil.
	Progress ProgressFunc
}

// Result is a completed run's output.
type Result struct {
	// Artifact is the uncompressed GLB bytes.
	Artifact []byte

	Metadata wire.ArtifactMetadata
}

// Producer executes reconstruction runs. Produce blocks until the run
// completes, fails, or the context is cancelled.
type Producer interface {
	Produce(ctx context.Context, request *Request) (*Result, error)
}
