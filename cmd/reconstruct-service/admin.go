// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"net"

	"github.com/bureau-foundation/reconstruct/lib/codec"
	"github.com/bureau-foundation/reconstruct/lib/session"
	"github.com/bureau-foundation/reconstruct/lib/wire"
)

// Admin requests are one-shot: decode, act, reply, done. The caller
// closes the connection.

func (s *Service) handleCreateSession(conn net.Conn, raw []byte) {
	var request wire.CreateSessionRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		s.writeAdminError(conn, wire.CodeDecodeError, fmt.Sprintf("decoding create_session: %v", err))
		return
	}

	sess, err := s.store.Create(request.Config)
	if err != nil {
		code := wire.CodeDecodeError
		if errors.Is(err, session.ErrCapacityExceeded) {
			code = wire.CodeCapacityExceeded
		}
		s.writeAdminError(conn, code, err.Error())
		return
	}

	s.writeControl(conn, wire.CreateSessionResponse{
		SessionID: sess.ID(),
		Config:    sess.Config(),
	})
}

func (s *Service) handleGetSession(conn net.Conn, raw []byte) {
	var request wire.GetSessionRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		s.writeAdminError(conn, wire.CodeDecodeError, fmt.Sprintf("decoding get_session: %v", err))
		return
	}

	sess, err := s.store.Get(request.SessionID)
	if err != nil {
		s.writeAdminError(conn, wire.CodeNotFound, err.Error())
		return
	}

	// Observability reads do not touch the activity clock; watching
	// a session must not keep it alive.
	s.writeControl(conn, sess.Summary())
}

func (s *Service) handleDeleteSession(conn net.Conn, raw []byte) {
	var request wire.DeleteSessionRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		s.writeAdminError(conn, wire.CodeDecodeError, fmt.Sprintf("decoding delete_session: %v", err))
		return
	}

	if err := s.store.Delete(request.SessionID); err != nil {
		s.writeAdminError(conn, wire.CodeNotFound, err.Error())
		return
	}
	s.writeControl(conn, wire.DeleteSessionResponse{Deleted: true})
}

func (s *Service) handleListSessions(conn net.Conn) {
	s.writeControl(conn, wire.ListSessionsResponse{Sessions: s.store.List()})
}

func (s *Service) handleStats(conn net.Conn) {
	s.writeControl(conn, s.store.Stats())
}

func (s *Service) handleStatus(conn net.Conn) {
	s.writeControl(conn, wire.StatusResponse{
		Status:   "ok",
		Uptime:   s.clock.Now().Sub(s.startedAt).String(),
		Sessions: s.store.Count(),
	})
}
