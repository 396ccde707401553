// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/reconstruct/lib/clock"
	"github.com/bureau-foundation/reconstruct/lib/wire"
)

// StoreOptions configures a Store.
type StoreOptions struct {
	// Clock drives activity timestamps and idle checks.
	Clock clock.Clock

	// Capacity is the maximum number of live sessions.
	Capacity int

	// StateDir is the directory under which per-session spool
	// directories are created.
	StateDir string

	// Defaults fills in session config fields the client leaves at
	// zero. Every field must be populated.
	Defaults wire.SessionConfig

	Logger *slog.Logger
}

// Store owns all live sessions. It is safe for concurrent use.
type Store struct {
	clk      clock.Clock
	capacity int
	stateDir string
	defaults wire.SessionConfig
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates an empty store.
func NewStore(options StoreOptions) *Store {
	return &Store{
		clk:      options.Clock,
		capacity: options.Capacity,
		stateDir: options.StateDir,
		defaults: options.Defaults,
		logger:   options.Logger,
		sessions: make(map[string]*Session),
	}
}

// Create allocates a new session with the given configuration, filling
// zero-valued fields from the service defaults. When the store is at
// capacity, the session with the oldest activity that has no run in
// flight is evicted to make room; if every session has a run in
// flight, Create returns ErrCapacityExceeded.
func (st *Store) Create(config wire.SessionConfig) (*Session, error) {
	resolved := st.resolveConfig(config)

	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	dir := filepath.Join(st.stateDir, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating session spool directory: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.sessions) >= st.capacity {
		if !st.evictOldestLocked() {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("%w: %d sessions", ErrCapacityExceeded, st.capacity)
		}
	}

	now := st.clk.Now()
	session := &Session{
		id:           id,
		dir:          dir,
		config:       resolved,
		createdAt:    now,
		clk:          st.clk,
		status:       StatusActive,
		lastActivity: now,
	}
	st.sessions[id] = session

	st.logger.Info("session created",
		"session_id", id,
		"sessions", len(st.sessions),
		"capacity", st.capacity)
	return session, nil
}

// Get returns the session with the given id, or ErrNotFound.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	session, ok := st.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return session, nil
}

// Delete removes the session from the store. If a run is in flight,
// the spool directory is released when the run finishes; otherwise it
// is released immediately. Returns ErrNotFound for unknown ids.
func (st *Store) Delete(id string) error {
	st.mu.Lock()
	session, ok := st.sessions[id]
	if !ok {
		st.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(st.sessions, id)
	st.mu.Unlock()

	if session.markPendingEviction() {
		if err := session.releaseSpool(); err != nil {
			st.logger.Warn("releasing session spool", "session_id", id, "error", err)
		}
	}
	st.logger.Info("session deleted", "session_id", id)
	return nil
}

// FinishRun applies a run outcome to the session and completes any
// eviction that was deferred while the run executed.
func (st *Store) FinishRun(session *Session, runErr error, final bool) {
	if !session.FinishRun(runErr, final) {
		return
	}

	st.mu.Lock()
	delete(st.sessions, session.id)
	st.mu.Unlock()

	if err := session.releaseSpool(); err != nil {
		st.logger.Warn("releasing session spool", "session_id", session.id, "error", err)
	}
	st.logger.Info("deferred eviction completed", "session_id", session.id)
}

// List returns summaries of all live sessions, ordered by creation
// time.
func (st *Store) List() []wire.SessionSummary {
	st.mu.Lock()
	sessions := make([]*Session, 0, len(st.sessions))
	for _, session := range st.sessions {
		sessions = append(sessions, session)
	}
	st.mu.Unlock()

	summaries := make([]wire.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, session.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

// Stats aggregates session counts by status and total accepted
// inputs.
func (st *Store) Stats() wire.StatsResponse {
	summaries := st.List()

	stats := wire.StatsResponse{
		Sessions: len(summaries),
		Capacity: st.capacity,
		ByStatus: make(map[string]int),
	}
	for _, summary := range summaries {
		stats.ByStatus[summary.Status]++
		stats.TotalInputs += summary.InputCount
	}
	return stats
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// EvictIdle removes every session whose last activity is older than
// the cutoff. Sessions with a run in flight are never removed mid-run:
// they are marked for eviction, stay resolvable in the store, and are
// deleted by FinishRun when the run completes. Returns the ids of
// sessions evicted or marked.
func (st *Store) EvictIdle(cutoff time.Time) []string {
	st.mu.Lock()
	var evicted []string
	var release []*Session
	for _, session := range st.sessions {
		if !session.idle(cutoff) {
			continue
		}
		if session.markPendingEviction() {
			delete(st.sessions, session.id)
			release = append(release, session)
			st.logger.Info("idle session evicted", "session_id", session.id)
		} else {
			st.logger.Info("idle session marked for eviction after run", "session_id", session.id)
		}
		evicted = append(evicted, session.id)
	}
	st.mu.Unlock()

	for _, session := range release {
		if err := session.releaseSpool(); err != nil {
			st.logger.Warn("releasing session spool", "session_id", session.id, "error", err)
		}
	}
	return evicted
}

// generateSessionID returns 16 random bytes hex encoded: a 128-bit
// identifier that needs no coordination and leaks nothing about other
// sessions.
func generateSessionID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// resolveConfig fills zero-valued config fields from the service
// defaults.
func (st *Store) resolveConfig(config wire.SessionConfig) wire.SessionConfig {
	resolved := config
	if resolved.MaxInputs == 0 {
		resolved.MaxInputs = st.defaults.MaxInputs
	}
	if resolved.Resolution == 0 {
		resolved.Resolution = st.defaults.Resolution
	}
	if resolved.ResizeMethod == "" {
		resolved.ResizeMethod = st.defaults.ResizeMethod
	}
	if resolved.ConfidencePercentile == 0 {
		resolved.ConfidencePercentile = st.defaults.ConfidencePercentile
	}
	if resolved.MaxPoints == 0 {
		resolved.MaxPoints = st.defaults.MaxPoints
	}
	if resolved.ShowCameras == nil {
		resolved.ShowCameras = st.defaults.ShowCameras
	}
	// AutoGenerateEvery 0 means disabled, which is also the default,
	// so no resolution is needed.
	return resolved
}

// evictOldestLocked evicts the session with the oldest activity that
// has no run in flight. Returns false when every session is mid-run.
// Caller holds st.mu.
func (st *Store) evictOldestLocked() bool {
	var oldest *Session
	for _, candidate := range st.sessions {
		candidate.mu.Lock()
		inFlight := candidate.runInFlight
		activity := candidate.lastActivity
		candidate.mu.Unlock()
		if inFlight {
			continue
		}
		if oldest == nil || activity.Before(oldest.LastActivity()) {
			oldest = candidate
		}
	}
	if oldest == nil {
		return false
	}

	delete(st.sessions, oldest.id)
	if err := oldest.releaseSpool(); err != nil {
		st.logger.Warn("releasing session spool", "session_id", oldest.id, "error", err)
	}
	st.logger.Info("session evicted for capacity", "session_id", oldest.id)
	return true
}
