// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/reconstruct/lib/clock"
	"github.com/bureau-foundation/reconstruct/lib/producer"
	"github.com/bureau-foundation/reconstruct/lib/session"
	"github.com/bureau-foundation/reconstruct/lib/wire"
)

// Connection timeout constants.
const (
	// readTimeout is how long we wait for the client to send its
	// first CBOR message. A well-behaved client sends the request
	// immediately after connecting. Attached streaming connections
	// have no read deadline; keepalives and the reaper handle
	// liveness.
	readTimeout = 30 * time.Second

	// writeTimeout is how long we wait for a control message to be
	// written. Artifact results remove the deadline before writing.
	writeTimeout = 10 * time.Second
)

// Service is the core service state shared by all connections.
type Service struct {
	store     *session.Store
	producer  producer.Producer
	clock     clock.Clock
	startedAt time.Time
	logger    *slog.Logger
}

// serve accepts connections on the Unix socket and dispatches them.
// Blocks until ctx is cancelled, then stops accepting and waits for
// active handlers to finish.
func (s *Service) serve(ctx context.Context, socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket listening", "path", socketPath)

	var activeConnections sync.WaitGroup

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		activeConnections.Add(1)
		go func() {
			defer activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	activeConnections.Wait()
	return nil
}

// handleConnection routes one connection by its first message. Admin
// requests are one-shot; an attach request upgrades the connection to
// the streaming session loop.
func (s *Service) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	raw, err := wire.ReadRaw(conn, wire.MaxControlSize)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return
		}
		s.writeAdminError(conn, wire.CodeDecodeError, fmt.Sprintf("invalid request: %v", err))
		return
	}

	messageType, err := wire.MessageType(raw)
	if err != nil {
		s.writeAdminError(conn, wire.CodeDecodeError, fmt.Sprintf("invalid request: %v", err))
		return
	}

	switch messageType {
	case wire.TypeAttach:
		s.handleAttach(ctx, conn, raw)
	case wire.TypeCreateSession:
		s.handleCreateSession(conn, raw)
	case wire.TypeGetSession:
		s.handleGetSession(conn, raw)
	case wire.TypeDeleteSession:
		s.handleDeleteSession(conn, raw)
	case wire.TypeListSessions:
		s.handleListSessions(conn)
	case wire.TypeStats:
		s.handleStats(conn)
	case wire.TypeStatus:
		s.handleStatus(conn)
	default:
		s.writeAdminError(conn, wire.CodeUnknownType,
			fmt.Sprintf("unknown request type %q", messageType))
	}
}

// writeControl writes a message with the control write deadline.
func (s *Service) writeControl(conn net.Conn, v any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := wire.WriteMessage(conn, v); err != nil {
		s.logger.Debug("control write failed", "error", err)
	}
	conn.SetWriteDeadline(time.Time{})
}

// writeAdminError replies to a one-shot request with an error.
func (s *Service) writeAdminError(conn net.Conn, code, message string) {
	s.writeControl(conn, wire.ErrorResponse{Error: message, Code: code})
}

// writeFailure sends a streaming-protocol failure. The connection
// stays open; callers that need to close it do so themselves.
func (s *Service) writeFailure(conn net.Conn, code, message string) {
	s.writeControl(conn, wire.Failure{Type: wire.TypeFailure, Code: code, Message: message})
}
