// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/reconstruct/lib/codec"
	"github.com/bureau-foundation/reconstruct/lib/producer"
	"github.com/bureau-foundation/reconstruct/lib/session"
	"github.com/bureau-foundation/reconstruct/lib/wire"
)

// handleAttach binds the connection to a session and runs the
// streaming message loop until the client disconnects. An unknown
// session id gets a not_found failure and the connection closes.
func (s *Service) handleAttach(ctx context.Context, conn net.Conn, raw []byte) {
	var attach wire.Attach
	if err := codec.Unmarshal(raw, &attach); err != nil {
		s.writeFailure(conn, wire.CodeDecodeError, fmt.Sprintf("decoding attach: %v", err))
		return
	}

	sess, err := s.store.Get(attach.SessionID)
	if err != nil {
		s.writeFailure(conn, wire.CodeNotFound,
			fmt.Sprintf("session %s not found (it may have been evicted)", attach.SessionID))
		return
	}
	sess.Touch()

	// The streaming loop has no read deadline: sessions outlive any
	// read timeout, and the reaper evicts the truly abandoned.
	conn.SetReadDeadline(time.Time{})

	s.writeControl(conn, wire.Attached{
		Type:       wire.TypeAttached,
		SessionID:  sess.ID(),
		Status:     sess.Status().String(),
		InputCount: sess.InputCount(),
		Config:     sess.Config(),
	})

	s.logger.Info("client attached", "session_id", sess.ID())
	s.streamLoop(ctx, conn, sess)
	s.logger.Info("client detached", "session_id", sess.ID())
}

// streamLoop processes client messages strictly sequentially. A
// generate or finalize blocks the loop until its run completes, which
// is what gives each session at most one run in flight per connection
// and keeps server messages ordered.
func (s *Service) streamLoop(ctx context.Context, conn net.Conn, sess *session.Session) {
	for {
		if ctx.Err() != nil {
			return
		}

		raw, err := wire.ReadRaw(conn, wire.MaxMessageSize)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Debug("stream read failed", "session_id", sess.ID(), "error", err)
			return
		}

		messageType, err := wire.MessageType(raw)
		if err != nil {
			s.writeFailure(conn, wire.CodeDecodeError, fmt.Sprintf("invalid message: %v", err))
			continue
		}

		switch messageType {
		case wire.TypeAddInput:
			s.handleAddInput(ctx, conn, sess, raw)

		case wire.TypeGenerate:
			var generate wire.Generate
			if err := codec.Unmarshal(raw, &generate); err != nil {
				s.writeFailure(conn, wire.CodeDecodeError, fmt.Sprintf("decoding generate: %v", err))
				continue
			}
			s.runGeneration(ctx, conn, sess, generate.Incremental, false)

		case wire.TypeFinalize:
			s.runGeneration(ctx, conn, sess, false, true)

		case wire.TypeKeepAlive:
			sess.Touch()
			s.writeControl(conn, wire.KeepAliveAck{Type: wire.TypeKeepAliveAck})

		default:
			s.writeFailure(conn, wire.CodeUnknownType,
				fmt.Sprintf("unknown message type %q", messageType))
		}
	}
}

// handleAddInput accepts one input and acknowledges it, then triggers
// auto-generation when the session's config asks for it.
func (s *Service) handleAddInput(ctx context.Context, conn net.Conn, sess *session.Session, raw []byte) {
	var addInput wire.AddInput
	if err := codec.Unmarshal(raw, &addInput); err != nil {
		s.writeFailure(conn, wire.CodeDecodeError, fmt.Sprintf("decoding add_input: %v", err))
		return
	}
	if len(addInput.Data) == 0 {
		s.writeFailure(conn, wire.CodeDecodeError, "add_input has no data")
		return
	}

	input, err := sess.AddInput(addInput.Data, addInput.Format)
	if err != nil {
		s.writeFailure(conn, inputFailureCode(err), err.Error())
		return
	}

	inputCount := sess.InputCount()
	s.writeControl(conn, wire.InputAccepted{
		Type:       wire.TypeInputAccepted,
		Index:      input.Index,
		Hash:       wire.FormatHash(input.Hash),
		Format:     addInput.Format,
		InputCount: inputCount,
	})

	// Auto-generation runs as if the client had sent an incremental
	// generate. Skipped silently when a run is already in flight.
	every := sess.Config().AutoGenerateEvery
	if every > 0 && inputCount%every == 0 {
		if err := sess.BeginRun(); err != nil {
			s.logger.Debug("auto-generation skipped",
				"session_id", sess.ID(), "reason", err)
			return
		}
		s.executeRun(ctx, conn, sess, true, false)
	}
}

// runGeneration validates the state transition and executes one run.
func (s *Service) runGeneration(ctx context.Context, conn net.Conn, sess *session.Session, incremental, final bool) {
	if err := sess.BeginRun(); err != nil {
		switch {
		case errors.Is(err, session.ErrAlreadyProcessing):
			s.writeFailure(conn, wire.CodeAlreadyProcessing, err.Error())
		case errors.Is(err, session.ErrCompleted):
			s.writeFailure(conn, wire.CodeSessionCompleted, err.Error())
		default:
			s.writeFailure(conn, wire.CodeProducerFailure, err.Error())
		}
		return
	}
	s.executeRun(ctx, conn, sess, incremental, final)
}

// executeRun drives one producer run for a session that has already
// entered Processing. The session state is updated before the result
// is written, so a client that disconnected mid-run still leaves the
// session consistent.
func (s *Service) executeRun(ctx context.Context, conn net.Conn, sess *session.Session, incremental, final bool) {
	inputs := sess.Snapshot()
	if len(inputs) == 0 {
		s.store.FinishRun(sess, fmt.Errorf("no inputs to reconstruct"), false)
		s.writeFailure(conn, wire.CodeProducerFailure, "no inputs to reconstruct")
		return
	}

	started := s.clock.Now()
	s.logger.Info("run starting",
		"session_id", sess.ID(),
		"inputs", len(inputs),
		"incremental", incremental,
		"final", final)

	// Progress fractions are forced non-decreasing within the run
	// regardless of what the producer reports.
	lastFraction := 0.0
	progress := func(stage string, fraction float64, message string) {
		if fraction < lastFraction {
			fraction = lastFraction
		}
		lastFraction = fraction
		s.writeControl(conn, wire.Progress{
			Type:     wire.TypeProgress,
			Stage:    stage,
			Fraction: fraction,
			Message:  message,
		})
	}

	result, err := s.producer.Produce(ctx, &producer.Request{
		SessionID:   sess.ID(),
		Inputs:      inputs,
		Config:      sess.Config(),
		Incremental: incremental,
		Progress:    progress,
	})
	if err != nil {
		s.store.FinishRun(sess, err, false)
		code := wire.CodeProducerFailure
		if errors.Is(err, producer.ErrTimeout) {
			code = wire.CodeTimeout
		}
		s.logger.Warn("run failed",
			"session_id", sess.ID(),
			"duration", s.clock.Now().Sub(started),
			"error", err)
		s.writeFailure(conn, code, err.Error())
		return
	}

	payload, tag, err := wire.CompressAuto(result.Artifact)
	if err != nil {
		s.store.FinishRun(sess, err, false)
		s.writeFailure(conn, wire.CodeProducerFailure, fmt.Sprintf("compressing artifact: %v", err))
		return
	}

	s.store.FinishRun(sess, nil, final)

	resultType := wire.TypePartialResult
	if final {
		resultType = wire.TypeFinalResult
	}

	// No write deadline here: artifact payloads can be large and the
	// client may be on a slow link.
	if err := wire.WriteMessage(conn, wire.ArtifactResult{
		Type:        resultType,
		Payload:     payload,
		Compression: tag,
		Size:        int64(len(result.Artifact)),
		Hash:        wire.FormatHash(wire.HashArtifact(result.Artifact)),
		ContentType: "model/gltf-binary",
		Metadata:    result.Metadata,
	}); err != nil {
		// The session state is already settled; a client that went
		// away mid-run re-attaches and sees it.
		s.logger.Debug("result write failed", "session_id", sess.ID(), "error", err)
	}

	s.logger.Info("run completed",
		"session_id", sess.ID(),
		"inputs", len(inputs),
		"artifact_bytes", len(result.Artifact),
		"compression", tag.String(),
		"duration", s.clock.Now().Sub(started),
		"final", final)
}

// inputFailureCode maps AddInput errors to protocol failure codes.
func inputFailureCode(err error) string {
	switch {
	case errors.Is(err, session.ErrCompleted):
		return wire.CodeSessionCompleted
	case errors.Is(err, session.ErrInputLimit):
		return wire.CodeCapacityExceeded
	default:
		return wire.CodeDecodeError
	}
}
