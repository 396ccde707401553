// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package producer runs reconstruction over a session's inputs.
//
// The Producer interface takes a snapshot of spooled inputs plus the
// session configuration and returns one artifact. The service does not
// implement the reconstruction algorithm itself: CommandProducer
// shells out to a configured executable and speaks a small CBOR event
// protocol with it over stdout. Tests substitute in-process fakes.
//
// Producers compose. WithTimeout bounds a run on the injectable
// clock, and WithMemoryGuard rejects runs the host cannot fit before
// any work starts.
package producer
