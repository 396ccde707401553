// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/reconstruct/lib/clock"
	"github.com/bureau-foundation/reconstruct/lib/codec"
	"github.com/bureau-foundation/reconstruct/lib/producer"
	"github.com/bureau-foundation/reconstruct/lib/session"
	"github.com/bureau-foundation/reconstruct/lib/wire"
)

var testClockEpoch = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// fakeProducer is an in-process stand-in for the reconstruction
// executable. It reports two progress stages and returns a
// deterministic artifact.
type fakeProducer struct {
	fail error
}

func (p *fakeProducer) Produce(ctx context.Context, request *producer.Request) (*producer.Result, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	if request.Progress != nil {
		request.Progress("alignment", 0.5, "")
		request.Progress("meshing", 1.0, "")
	}
	return &producer.Result{
		Artifact: bytes.Repeat([]byte("reconstructed point cloud "), 200),
		Metadata: wire.ArtifactMetadata{
			InputCount:  len(request.Inputs),
			PointCount:  777,
			Incremental: request.Incremental,
		},
	}, nil
}

// startService runs a Service on a fresh unix socket and returns the
// socket path. The listener is torn down with the test.
func startService(t *testing.T, runner producer.Producer) string {
	t.Helper()

	clk := clock.Fake(testClockEpoch)
	store := session.NewStore(session.StoreOptions{
		Clock:    clk,
		Capacity: 10,
		StateDir: t.TempDir(),
		Defaults: testDefaults(),
		Logger:   testLogger(),
	})
	svc := &Service{
		store:     store,
		producer:  runner,
		clock:     clk,
		startedAt: clk.Now(),
		logger:    testLogger(),
	}

	socketPath := filepath.Join(t.TempDir(), "svc.sock")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.serve(ctx, socketPath)
	}()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("serve: %v", err)
		}
	})

	// Wait for the socket to appear.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(socketPath); err == nil {
			return socketPath
		}
		if time.Now().After(deadline) {
			t.Fatal("socket never appeared")
		}
		time.Sleep(time.Millisecond)
	}
}

func testDefaults() wire.SessionConfig {
	showCameras := true
	return wire.SessionConfig{
		MaxInputs:            100,
		Resolution:           504,
		ResizeMethod:         "upper_bound_resize",
		ConfidencePercentile: 10.0,
		MaxPoints:            10_000_000,
		ShowCameras:          &showCameras,
	}
}

// adminRoundTrip sends one request on a fresh connection and decodes
// the reply.
func adminRoundTrip(t *testing.T, socketPath string, request, response any) {
	t.Helper()
	raw := adminRoundTripRaw(t, socketPath, request)

	var serviceError wire.ErrorResponse
	if err := codec.Unmarshal(raw, &serviceError); err == nil && serviceError.Error != "" {
		t.Fatalf("service error (%s): %s", serviceError.Code, serviceError.Error)
	}
	if err := codec.Unmarshal(raw, response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func adminRoundTripRaw(t *testing.T, socketPath string, request any) []byte {
	t.Helper()
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to socket: %v", err)
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, request); err != nil {
		t.Fatalf("writing request: %v", err)
	}
	raw, err := wire.ReadRaw(conn, wire.MaxControlSize)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	return raw
}

// expectAdminError asserts the reply is an error with the given code.
func expectAdminError(t *testing.T, socketPath string, request any, code string) {
	t.Helper()
	raw := adminRoundTripRaw(t, socketPath, request)
	var serviceError wire.ErrorResponse
	if err := codec.Unmarshal(raw, &serviceError); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	if serviceError.Code != code {
		t.Fatalf("error code = %q (%s), want %q", serviceError.Code, serviceError.Error, code)
	}
}

// createSession creates a session through the admin surface.
func createSession(t *testing.T, socketPath string, config wire.SessionConfig) wire.CreateSessionResponse {
	t.Helper()
	var created wire.CreateSessionResponse
	adminRoundTrip(t, socketPath, wire.CreateSessionRequest{
		Type:   wire.TypeCreateSession,
		Config: config,
	}, &created)
	return created
}

// attach opens a streaming connection to an existing session.
func attach(t *testing.T, socketPath, sessionID string) (net.Conn, wire.Attached) {
	t.Helper()
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to socket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := wire.WriteMessage(conn, wire.Attach{Type: wire.TypeAttach, SessionID: sessionID}); err != nil {
		t.Fatalf("writing attach: %v", err)
	}

	messageType, raw := readServer(t, conn)
	if messageType != wire.TypeAttached {
		t.Fatalf("first server message = %q, want attached (%s)", messageType, raw)
	}
	var attached wire.Attached
	mustUnmarshal(t, raw, &attached)
	return conn, attached
}

// readServer reads one server message and returns its type and raw
// bytes.
func readServer(t *testing.T, conn net.Conn) (string, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	raw, err := wire.ReadRaw(conn, wire.MaxMessageSize)
	if err != nil {
		t.Fatalf("reading server message: %v", err)
	}
	messageType, err := wire.MessageType(raw)
	if err != nil {
		t.Fatalf("MessageType: %v", err)
	}
	return messageType, raw
}

func mustUnmarshal(t *testing.T, raw []byte, v any) {
	t.Helper()
	if err := codec.Unmarshal(raw, v); err != nil {
		t.Fatalf("decoding message: %v", err)
	}
}

// expectFailure reads one server message and asserts it is a failure
// with the given code.
func expectFailure(t *testing.T, conn net.Conn, code string) {
	t.Helper()
	messageType, raw := readServer(t, conn)
	if messageType != wire.TypeFailure {
		t.Fatalf("server message = %q, want failure", messageType)
	}
	var failure wire.Failure
	mustUnmarshal(t, raw, &failure)
	if failure.Code != code {
		t.Fatalf("failure code = %q (%s), want %q", failure.Code, failure.Message, code)
	}
}

func TestStatusAction(t *testing.T) {
	socketPath := startService(t, &fakeProducer{})

	var status wire.StatusResponse
	adminRoundTrip(t, socketPath, wire.StatusRequest{Type: wire.TypeStatus}, &status)
	if status.Status != "ok" {
		t.Errorf("Status = %q, want ok", status.Status)
	}
	if status.Sessions != 0 {
		t.Errorf("Sessions = %d, want 0", status.Sessions)
	}
}

func TestSessionAdminLifecycle(t *testing.T) {
	socketPath := startService(t, &fakeProducer{})

	created := createSession(t, socketPath, wire.SessionConfig{Resolution: 252})
	if created.Config.Resolution != 252 {
		t.Errorf("Resolution = %d, want the requested 252", created.Config.Resolution)
	}
	if created.Config.MaxInputs != 100 {
		t.Errorf("MaxInputs = %d, want default 100", created.Config.MaxInputs)
	}

	var summary wire.SessionSummary
	adminRoundTrip(t, socketPath, wire.GetSessionRequest{
		Type: wire.TypeGetSession, SessionID: created.SessionID,
	}, &summary)
	if summary.Status != "active" || summary.InputCount != 0 {
		t.Errorf("summary = %+v, want active with 0 inputs", summary)
	}

	var list wire.ListSessionsResponse
	adminRoundTrip(t, socketPath, wire.ListSessionsRequest{Type: wire.TypeListSessions}, &list)
	if len(list.Sessions) != 1 || list.Sessions[0].SessionID != created.SessionID {
		t.Errorf("list = %+v, want exactly the created session", list.Sessions)
	}

	var stats wire.StatsResponse
	adminRoundTrip(t, socketPath, wire.StatsRequest{Type: wire.TypeStats}, &stats)
	if stats.Sessions != 1 || stats.ByStatus["active"] != 1 {
		t.Errorf("stats = %+v, want one active session", stats)
	}

	var deleted wire.DeleteSessionResponse
	adminRoundTrip(t, socketPath, wire.DeleteSessionRequest{
		Type: wire.TypeDeleteSession, SessionID: created.SessionID,
	}, &deleted)
	if !deleted.Deleted {
		t.Error("Deleted = false")
	}

	expectAdminError(t, socketPath, wire.GetSessionRequest{
		Type: wire.TypeGetSession, SessionID: created.SessionID,
	}, wire.CodeNotFound)
}

func TestAttachUnknownSession(t *testing.T) {
	socketPath := startService(t, &fakeProducer{})

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, wire.Attach{
		Type: wire.TypeAttach, SessionID: "0123456789abcdef0123456789abcdef",
	}); err != nil {
		t.Fatalf("writing attach: %v", err)
	}
	expectFailure(t, conn, wire.CodeNotFound)

	// The connection closes after a failed attach.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := wire.ReadRaw(conn, wire.MaxControlSize); err == nil {
		t.Error("connection still open after failed attach")
	}
}

func TestStreamingFlow(t *testing.T) {
	socketPath := startService(t, &fakeProducer{})
	created := createSession(t, socketPath, wire.SessionConfig{})

	conn, attached := attach(t, socketPath, created.SessionID)
	if attached.Status != "active" || attached.InputCount != 0 {
		t.Fatalf("attached = %+v, want fresh active session", attached)
	}

	// Stream two inputs.
	for i, content := range [][]byte{[]byte("frame zero"), []byte("frame one")} {
		if err := wire.WriteMessage(conn, wire.AddInput{
			Type: wire.TypeAddInput, Data: content, Format: "png",
		}); err != nil {
			t.Fatalf("writing add_input: %v", err)
		}

		messageType, raw := readServer(t, conn)
		if messageType != wire.TypeInputAccepted {
			t.Fatalf("server message = %q, want input_accepted", messageType)
		}
		var accepted wire.InputAccepted
		mustUnmarshal(t, raw, &accepted)
		if accepted.Index != i || accepted.InputCount != i+1 {
			t.Errorf("accepted = %+v, want index %d count %d", accepted, i, i+1)
		}
		if accepted.Hash != wire.FormatHash(wire.HashInput(content)) {
			t.Error("input hash does not match content")
		}
		if accepted.Format != "png" {
			t.Errorf("Format = %q, want the submitted png", accepted.Format)
		}
	}

	// Keepalive round trip.
	if err := wire.WriteMessage(conn, wire.KeepAlive{Type: wire.TypeKeepAlive}); err != nil {
		t.Fatalf("writing keepalive: %v", err)
	}
	if messageType, _ := readServer(t, conn); messageType != wire.TypeKeepAliveAck {
		t.Fatalf("server message = %q, want keepalive_ack", messageType)
	}

	// Incremental generate: progress precedes the partial result.
	if err := wire.WriteMessage(conn, wire.Generate{Type: wire.TypeGenerate, Incremental: true}); err != nil {
		t.Fatalf("writing generate: %v", err)
	}
	partial := collectRun(t, conn, wire.TypePartialResult)
	verifyArtifact(t, partial, 2)
	if !partial.Metadata.Incremental {
		t.Error("partial result not marked incremental")
	}

	var summary wire.SessionSummary
	adminRoundTrip(t, socketPath, wire.GetSessionRequest{
		Type: wire.TypeGetSession, SessionID: created.SessionID,
	}, &summary)
	if summary.Status != "active" {
		t.Errorf("status after incremental run = %q, want active", summary.Status)
	}

	// Finalize: terminal result completes the session.
	if err := wire.WriteMessage(conn, wire.Finalize{Type: wire.TypeFinalize}); err != nil {
		t.Fatalf("writing finalize: %v", err)
	}
	final := collectRun(t, conn, wire.TypeFinalResult)
	verifyArtifact(t, final, 2)

	adminRoundTrip(t, socketPath, wire.GetSessionRequest{
		Type: wire.TypeGetSession, SessionID: created.SessionID,
	}, &summary)
	if summary.Status != "completed" {
		t.Errorf("status after finalize = %q, want completed", summary.Status)
	}

	// The completed session accepts no further inputs or runs, but
	// the connection survives.
	if err := wire.WriteMessage(conn, wire.AddInput{
		Type: wire.TypeAddInput, Data: []byte("late"), Format: "png",
	}); err != nil {
		t.Fatalf("writing add_input: %v", err)
	}
	expectFailure(t, conn, wire.CodeSessionCompleted)

	if err := wire.WriteMessage(conn, wire.Generate{Type: wire.TypeGenerate}); err != nil {
		t.Fatalf("writing generate: %v", err)
	}
	expectFailure(t, conn, wire.CodeSessionCompleted)
}

// collectRun reads progress messages until the wanted terminal result
// arrives, asserting fractions never decrease.
func collectRun(t *testing.T, conn net.Conn, wanted string) *wire.ArtifactResult {
	t.Helper()
	lastFraction := -1.0
	sawProgress := false
	for {
		messageType, raw := readServer(t, conn)
		switch messageType {
		case wire.TypeProgress:
			var progress wire.Progress
			mustUnmarshal(t, raw, &progress)
			if progress.Fraction < lastFraction {
				t.Errorf("progress went backwards: %v after %v", progress.Fraction, lastFraction)
			}
			lastFraction = progress.Fraction
			sawProgress = true

		case wanted:
			if !sawProgress {
				t.Error("terminal result arrived without any progress messages")
			}
			var result wire.ArtifactResult
			mustUnmarshal(t, raw, &result)
			return &result

		case wire.TypeFailure:
			var failure wire.Failure
			mustUnmarshal(t, raw, &failure)
			t.Fatalf("run failed: %s: %s", failure.Code, failure.Message)

		default:
			t.Fatalf("unexpected server message %q during run", messageType)
		}
	}
}

// verifyArtifact decompresses and hash-checks an artifact result.
func verifyArtifact(t *testing.T, result *wire.ArtifactResult, wantInputs int) {
	t.Helper()
	data, err := wire.Decompress(result.Payload, result.Compression, int(result.Size))
	if err != nil {
		t.Fatalf("decompressing artifact: %v", err)
	}
	if got := wire.FormatHash(wire.HashArtifact(data)); got != result.Hash {
		t.Errorf("artifact hash mismatch: %s != %s", got, result.Hash)
	}
	if result.ContentType != "model/gltf-binary" {
		t.Errorf("ContentType = %q", result.ContentType)
	}
	if result.Metadata.InputCount != wantInputs {
		t.Errorf("InputCount = %d, want %d", result.Metadata.InputCount, wantInputs)
	}
	if result.Metadata.PointCount != 777 {
		t.Errorf("PointCount = %d, want 777", result.Metadata.PointCount)
	}
}

func TestGenerateWithoutInputs(t *testing.T) {
	socketPath := startService(t, &fakeProducer{})
	created := createSession(t, socketPath, wire.SessionConfig{})
	conn, _ := attach(t, socketPath, created.SessionID)

	if err := wire.WriteMessage(conn, wire.Generate{Type: wire.TypeGenerate}); err != nil {
		t.Fatalf("writing generate: %v", err)
	}
	expectFailure(t, conn, wire.CodeProducerFailure)

	var summary wire.SessionSummary
	adminRoundTrip(t, socketPath, wire.GetSessionRequest{
		Type: wire.TypeGetSession, SessionID: created.SessionID,
	}, &summary)
	if summary.Status != "error" {
		t.Errorf("status = %q, want error", summary.Status)
	}
	if summary.LastError == "" {
		t.Error("LastError empty after failed run")
	}
}

func TestProducerFailureKeepsConnection(t *testing.T) {
	socketPath := startService(t, &fakeProducer{
		fail: fmt.Errorf("%w: model diverged", producer.ErrProducer),
	})
	created := createSession(t, socketPath, wire.SessionConfig{})
	conn, _ := attach(t, socketPath, created.SessionID)

	if err := wire.WriteMessage(conn, wire.AddInput{
		Type: wire.TypeAddInput, Data: []byte("frame"), Format: "png",
	}); err != nil {
		t.Fatalf("writing add_input: %v", err)
	}
	if messageType, _ := readServer(t, conn); messageType != wire.TypeInputAccepted {
		t.Fatalf("server message = %q, want input_accepted", messageType)
	}

	if err := wire.WriteMessage(conn, wire.Generate{Type: wire.TypeGenerate}); err != nil {
		t.Fatalf("writing generate: %v", err)
	}
	expectFailure(t, conn, wire.CodeProducerFailure)

	// The session is in Error but remains usable: a retry request on
	// the same connection reaches the producer again.
	if err := wire.WriteMessage(conn, wire.KeepAlive{Type: wire.TypeKeepAlive}); err != nil {
		t.Fatalf("writing keepalive: %v", err)
	}
	if messageType, _ := readServer(t, conn); messageType != wire.TypeKeepAliveAck {
		t.Fatalf("server message = %q, want keepalive_ack", messageType)
	}
}

func TestUnknownMessageTypeKeepsConnection(t *testing.T) {
	socketPath := startService(t, &fakeProducer{})
	created := createSession(t, socketPath, wire.SessionConfig{})
	conn, _ := attach(t, socketPath, created.SessionID)

	if err := wire.WriteMessage(conn, map[string]any{"type": "telepathy"}); err != nil {
		t.Fatalf("writing unknown message: %v", err)
	}
	expectFailure(t, conn, wire.CodeUnknownType)

	if err := wire.WriteMessage(conn, wire.KeepAlive{Type: wire.TypeKeepAlive}); err != nil {
		t.Fatalf("writing keepalive: %v", err)
	}
	if messageType, _ := readServer(t, conn); messageType != wire.TypeKeepAliveAck {
		t.Fatalf("server message = %q, want keepalive_ack", messageType)
	}
}

func TestAutoGeneration(t *testing.T) {
	socketPath := startService(t, &fakeProducer{})
	created := createSession(t, socketPath, wire.SessionConfig{AutoGenerateEvery: 2})
	conn, _ := attach(t, socketPath, created.SessionID)

	for i := 0; i < 2; i++ {
		if err := wire.WriteMessage(conn, wire.AddInput{
			Type: wire.TypeAddInput, Data: []byte{byte(i)}, Format: "png",
		}); err != nil {
			t.Fatalf("writing add_input: %v", err)
		}
		if messageType, _ := readServer(t, conn); messageType != wire.TypeInputAccepted {
			t.Fatalf("server message = %q, want input_accepted", messageType)
		}
	}

	// The second accepted input triggers an incremental run without
	// any generate message from the client.
	partial := collectRun(t, conn, wire.TypePartialResult)
	if !partial.Metadata.Incremental {
		t.Error("auto-generated result not marked incremental")
	}
	if partial.Metadata.InputCount != 2 {
		t.Errorf("InputCount = %d, want 2", partial.Metadata.InputCount)
	}
}

func TestUnknownAdminType(t *testing.T) {
	socketPath := startService(t, &fakeProducer{})
	expectAdminError(t, socketPath, map[string]any{"type": "reboot"}, wire.CodeUnknownType)
}
