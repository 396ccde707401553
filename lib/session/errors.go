// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "errors"

// Sentinel errors for session operations. Callers classify failures
// with errors.Is and map them to protocol failure codes.
var (
	// ErrNotFound: no session with the given identifier exists. It
	// may have been evicted.
	ErrNotFound = errors.New("session not found")

	// ErrCapacityExceeded: the store is full and no session could be
	// evicted to make room.
	ErrCapacityExceeded = errors.New("session capacity exceeded")

	// ErrInputLimit: the session has reached its configured input
	// cap.
	ErrInputLimit = errors.New("session input limit reached")

	// ErrAlreadyProcessing: a run is already in flight for this
	// session.
	ErrAlreadyProcessing = errors.New("session already processing")

	// ErrCompleted: the session has completed and no longer accepts
	// inputs or runs.
	ErrCompleted = errors.New("session completed")
)
