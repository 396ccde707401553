// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "time"

// Client message types. The first message on a connection selects the
// mode: TypeAttach upgrades to the streaming loop, the admin types
// are one-shot request/response.
const (
	TypeAttach    = "attach"
	TypeAddInput  = "add_input"
	TypeGenerate  = "generate"
	TypeFinalize  = "finalize"
	TypeKeepAlive = "keepalive"

	TypeCreateSession = "create_session"
	TypeGetSession    = "get_session"
	TypeDeleteSession = "delete_session"
	TypeListSessions  = "list_sessions"
	TypeStats         = "stats"
	TypeStatus        = "status"
)

// Server message types.
const (
	TypeAttached      = "attached"
	TypeInputAccepted = "input_accepted"
	TypeProgress      = "progress"
	TypePartialResult = "partial_result"
	TypeFinalResult   = "final_result"
	TypeFailure       = "failure"
	TypeKeepAliveAck  = "keepalive_ack"
)

// Failure codes carried in Failure messages. Codes are the protocol
// contract; message text is free-form.
const (
	CodeNotFound          = "not_found"
	CodeCapacityExceeded  = "capacity_exceeded"
	CodeAlreadyProcessing = "already_processing"
	CodeSessionCompleted  = "session_completed"
	CodeDecodeError       = "decode_error"
	CodeProducerFailure   = "producer_failure"
	CodeTimeout           = "timeout"
	CodeUnknownType       = "unknown_type"
)

// SessionConfig holds the per-session reconstruction parameters. It is
// the protocol representation: clients send it (partially or fully) in
// create_session, and the server echoes the resolved values back. The
// zero value of any field means "use the service default".
type SessionConfig struct {
	// MaxInputs caps the number of inputs a session will accept.
	MaxInputs int `json:"max_inputs,omitempty"`

	// Resolution is the working resolution for reconstruction.
	Resolution int `json:"resolution,omitempty"`

	// ResizeMethod selects how inputs are scaled to Resolution.
	ResizeMethod string `json:"resize_method,omitempty"`

	// ConfidencePercentile filters reconstructed points below the
	// given confidence percentile.
	ConfidencePercentile float64 `json:"confidence_percentile,omitempty"`

	// MaxPoints caps the point count of produced artifacts.
	MaxPoints int64 `json:"max_points,omitempty"`

	// ShowCameras includes camera frustum geometry in the artifact.
	// A pointer so that an explicit false survives omitempty; nil
	// takes the service default.
	ShowCameras *bool `json:"show_cameras,omitempty"`

	// AutoGenerateEvery triggers an incremental generation after
	// every N accepted inputs. 0 disables auto-generation.
	AutoGenerateEvery int `json:"auto_generate_every,omitempty"`
}

// --- Streaming client messages ---

// Attach binds a connection to an existing session. Sent as the first
// message; the server replies with Attached or closes the connection
// with a not_found Failure.
type Attach struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// AddInput submits one image to the session's ordered input sequence.
type AddInput struct {
	Type string `json:"type"`

	// Data is the raw image bytes. Transferred as a CBOR byte
	// string, no base64.
	Data []byte `json:"data"`

	// Format is the image container format ("png", "jpeg"). Optional;
	// producers sniff the content when absent.
	Format string `json:"format,omitempty"`
}

// Generate requests a reconstruction run over the inputs accepted so
// far. Incremental asks for a fast preview-quality pass.
type Generate struct {
	Type        string `json:"type"`
	Incremental bool   `json:"incremental,omitempty"`
}

// Finalize requests the final full-quality run and completes the
// session. No further inputs or runs are accepted afterwards.
type Finalize struct {
	Type string `json:"type"`
}

// KeepAlive refreshes the session's activity clock without other
// effect.
type KeepAlive struct {
	Type string `json:"type"`
}

// --- Streaming server messages ---

// Attached confirms a successful attach and reports the session's
// current state, so a reconnecting client can resume where it left
// off.
type Attached struct {
	Type       string        `json:"type"`
	SessionID  string        `json:"session_id"`
	Status     string        `json:"status"`
	InputCount int           `json:"input_count"`
	Config     SessionConfig `json:"config"`
}

// InputAccepted acknowledges one accepted input.
type InputAccepted struct {
	Type string `json:"type"`

	// Index is the zero-based position of the input in the session's
	// ordered sequence.
	Index int `json:"index"`

	// Hash is the hex BLAKE3 hash of the input bytes.
	Hash string `json:"hash"`

	// Format echoes the container format the input was submitted
	// with. Empty when the client sent none.
	Format string `json:"format,omitempty"`

	// InputCount is the total number of accepted inputs after this
	// one.
	InputCount int `json:"input_count"`
}

// Progress reports intermediate progress of a running generation.
// Fraction is non-decreasing within a run and always precedes the
// terminal result message.
type Progress struct {
	Type     string  `json:"type"`
	Stage    string  `json:"stage"`
	Fraction float64 `json:"fraction"`
	Message  string  `json:"message,omitempty"`
}

// ArtifactResult carries a produced reconstruction artifact. It is the
// shared body of PartialResult and FinalResult.
type ArtifactResult struct {
	Type string `json:"type"`

	// Payload is the artifact bytes after Compression is applied.
	Payload []byte `json:"payload"`

	// Compression names the algorithm applied to Payload.
	Compression CompressionTag `json:"compression"`

	// Size is the uncompressed artifact size in bytes.
	Size int64 `json:"size"`

	// Hash is the hex BLAKE3 hash of the uncompressed artifact. The
	// client verifies it after decompressing.
	Hash string `json:"hash"`

	// ContentType is the artifact media type ("model/gltf-binary").
	ContentType string `json:"content_type"`

	Metadata ArtifactMetadata `json:"metadata"`
}

// ArtifactMetadata describes a produced artifact.
type ArtifactMetadata struct {
	// InputCount is the number of inputs the run consumed.
	InputCount int `json:"input_count"`

	// PointCount is the number of points in the reconstruction.
	PointCount int64 `json:"point_count,omitempty"`

	// Incremental reports whether this artifact came from a
	// preview-quality pass.
	Incremental bool `json:"incremental,omitempty"`

	// Intrinsics holds one flattened 3x3 camera intrinsic matrix per
	// consumed input, row-major.
	Intrinsics [][]float64 `json:"intrinsics,omitempty"`

	// Extrinsics holds one flattened 4x4 camera-to-world matrix per
	// consumed input, row-major.
	Extrinsics [][]float64 `json:"extrinsics,omitempty"`
}

// Failure reports an error to the client. Whether the connection
// survives depends on the code: decode, concurrency, and input
// failures are connection-local; not_found on attach closes the
// connection.
type Failure struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// KeepAliveAck acknowledges a KeepAlive.
type KeepAliveAck struct {
	Type string `json:"type"`
}

// --- Admin messages ---

// CreateSessionRequest creates a new session. Config fields left at
// their zero value take the service defaults.
type CreateSessionRequest struct {
	Type   string        `json:"type"`
	Config SessionConfig `json:"config,omitempty"`
}

// CreateSessionResponse returns the new session's identity and the
// fully resolved configuration.
type CreateSessionResponse struct {
	SessionID string        `json:"session_id"`
	Config    SessionConfig `json:"config"`
}

// GetSessionRequest fetches one session's summary.
type GetSessionRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// DeleteSessionRequest removes a session and releases its inputs.
type DeleteSessionRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// DeleteSessionResponse confirms the deletion.
type DeleteSessionResponse struct {
	Deleted bool `json:"deleted"`
}

// ListSessionsRequest lists summaries of all live sessions.
type ListSessionsRequest struct {
	Type string `json:"type"`
}

// ListSessionsResponse carries the summaries, ordered by creation
// time.
type ListSessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// SessionSummary is the externally visible state of a session. It
// never includes input payloads.
type SessionSummary struct {
	SessionID    string        `json:"session_id"`
	Status       string        `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
	InputCount   int           `json:"input_count"`
	LastError    string        `json:"last_error,omitempty"`
	Config       SessionConfig `json:"config"`
}

// StatsRequest fetches aggregate statistics across all sessions.
type StatsRequest struct {
	Type string `json:"type"`
}

// StatsResponse aggregates session counts by status.
type StatsResponse struct {
	Sessions    int            `json:"sessions"`
	Capacity    int            `json:"capacity"`
	ByStatus    map[string]int `json:"by_status"`
	TotalInputs int            `json:"total_inputs"`
}

// StatusRequest is the unauthenticated liveness probe.
type StatusRequest struct {
	Type string `json:"type"`
}

// StatusResponse reports service liveness.
type StatusResponse struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Sessions int    `json:"sessions"`
}

// ErrorResponse is the admin-path error reply, carrying the same
// codes as the streaming protocol's Failure message.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
