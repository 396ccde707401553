// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bureau-foundation/reconstruct/lib/clock"
	"github.com/bureau-foundation/reconstruct/lib/wire"
)

// Input is the metadata of one accepted input image. The bytes live
// in the session's spool directory at Path.
type Input struct {
	// Index is the zero-based position in the session's ordered
	// input sequence.
	Index int

	// Path is the spooled file holding the raw image bytes.
	Path string

	// Size is the byte length of the input.
	Size int64

	// Hash is the input-domain BLAKE3 hash of the bytes.
	Hash wire.Hash
}

// Session is one client's reconstruction session. All mutable state is
// guarded by the session mutex; the identity fields (id, dir, config,
// createdAt) are immutable after creation.
type Session struct {
	id        string
	dir       string
	config    wire.SessionConfig
	createdAt time.Time
	clk       clock.Clock

	mu              sync.Mutex
	status          Status
	lastActivity    time.Time
	inputs          []Input
	lastError       string
	runInFlight     bool
	pendingEviction bool
}

// ID returns the session identifier: 32 hex characters from 16 random
// bytes.
func (s *Session) ID() string { return s.id }

// Config returns the session's resolved configuration.
func (s *Session) Config() wire.SessionConfig { return s.config }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastActivity returns the time of the last client interaction.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// InputCount returns the number of accepted inputs.
func (s *Session) InputCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

// Touch refreshes the session's activity clock. Keepalives and
// attaches call this.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.clk.Now()
}

// AddInput spools one image to the session directory and appends it to
// the ordered input sequence. Inputs are accepted while Active, Error,
// or Processing (buffered for the next run); a Completed session
// returns ErrCompleted. A session at its input cap returns
// ErrInputLimit.
func (s *Session) AddInput(data []byte, format string) (Input, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusCompleted {
		return Input{}, ErrCompleted
	}
	if len(s.inputs) >= s.config.MaxInputs {
		return Input{}, fmt.Errorf("%w: %d inputs", ErrInputLimit, s.config.MaxInputs)
	}

	extension := format
	if extension == "" {
		extension = "bin"
	}
	index := len(s.inputs)
	path := filepath.Join(s.dir, fmt.Sprintf("input_%04d.%s", index, extension))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return Input{}, fmt.Errorf("spooling input %d: %w", index, err)
	}

	input := Input{
		Index: index,
		Path:  path,
		Size:  int64(len(data)),
		Hash:  wire.HashInput(data),
	}
	s.inputs = append(s.inputs, input)
	s.lastActivity = s.clk.Now()
	return input, nil
}

// Snapshot returns a copy of the input sequence as it stands right
// now. A run consumes exactly this snapshot; inputs added while the
// run executes are buffered for the next one.
func (s *Session) Snapshot() []Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	inputs := make([]Input, len(s.inputs))
	copy(inputs, s.inputs)
	return inputs
}

// BeginRun transitions the session to Processing and claims the
// single in-flight run slot. Allowed from Active and Error. Returns
// ErrAlreadyProcessing when a run is in flight and ErrCompleted when
// the session has completed. Entering Processing clears the last
// error, so a successful retry leaves no stale error behind.
func (s *Session) BeginRun() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusCompleted {
		return ErrCompleted
	}
	if s.runInFlight {
		return ErrAlreadyProcessing
	}

	s.runInFlight = true
	s.status = StatusProcessing
	s.lastError = ""
	s.lastActivity = s.clk.Now()
	return nil
}

// FinishRun releases the in-flight run slot and applies the outcome:
// Error on failure, Completed on a successful final run, Active
// otherwise. Returns true when the session was marked for eviction
// while the run executed, in which case the caller must delete it.
func (s *Session) FinishRun(runErr error, final bool) (evict bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runInFlight = false
	switch {
	case runErr != nil:
		s.status = StatusError
		s.lastError = runErr.Error()
	case final:
		s.status = StatusCompleted
	default:
		s.status = StatusActive
	}
	s.lastActivity = s.clk.Now()
	return s.pendingEviction
}

// markPendingEviction flags the session for deferred deletion.
// Returns true if the session can be deleted immediately (no run in
// flight), false if the deletion must wait for FinishRun.
func (s *Session) markPendingEviction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingEviction = true
	return !s.runInFlight
}

// idle reports whether the session has seen no activity since the
// given cutoff.
func (s *Session) idle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity.Before(cutoff)
}

// Summary returns the externally visible state of the session. Input
// payloads are never included.
func (s *Session) Summary() wire.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wire.SessionSummary{
		SessionID:    s.id,
		Status:       s.status.String(),
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		InputCount:   len(s.inputs),
		LastError:    s.lastError,
		Config:       s.config,
	}
}

// releaseSpool removes the session's input directory. Called by the
// store when the session is deleted or evicted.
func (s *Session) releaseSpool() error {
	return os.RemoveAll(s.dir)
}
