// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session holds the service's session state: the Session
// itself, the capacity-bounded Store that owns all live sessions, and
// the Reaper that evicts idle ones.
//
// A session accumulates an ordered sequence of input images and moves
// through a small state machine: Active (accepting inputs and run
// requests), Processing (a reconstruction run is in flight), Error (the
// last run failed, the session remains usable), and Completed (a final
// run succeeded, the session is read-only until evicted). At most one
// run is in flight per session at any time.
//
// Input bytes are spooled to a per-session directory under the service
// state directory rather than held in memory; the Session tracks
// per-input metadata (index, path, size, hash). The directory is
// removed when the session is deleted or evicted.
//
// Sessions with a run in flight are never deleted mid-run: eviction
// marks them instead, and the deletion happens when the run finishes.
package session
