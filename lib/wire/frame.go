// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bureau-foundation/reconstruct/lib/codec"
)

const (
	// MaxMessageSize is the maximum size of a single length-prefixed
	// CBOR message. Image payloads and compressed artifacts ride
	// inside messages as CBOR byte strings, so the cap has to cover
	// the largest artifact the service will ship, not just metadata.
	MaxMessageSize = 64 * 1024 * 1024

	// MaxControlSize is the tighter cap applied to the first message
	// on a connection and to all admin traffic. Control messages are
	// metadata only, so anything near this size is a protocol error
	// or garbage, and rejecting early keeps unauthenticated
	// connections from forcing large allocations.
	MaxControlSize = 64 * 1024
)

// WriteMessage encodes v as CBOR and writes it to w with a 4-byte
// big-endian length prefix.
func WriteMessage(w io.Writer, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", len(data), MaxMessageSize)
	}
	var lengthPrefix [4]byte
	binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(data)))
	if _, err := w.Write(lengthPrefix[:]); err != nil {
		return fmt.Errorf("writing message length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}
	return nil
}

// ReadRaw reads one length-prefixed message from r and returns its
// CBOR bytes undecoded. Callers peek the type with MessageType and
// then decode into the concrete struct. Messages larger than maxSize
// are rejected without being read.
func ReadRaw(r io.Reader, maxSize int) ([]byte, error) {
	var lengthPrefix [4]byte
	if _, err := io.ReadFull(r, lengthPrefix[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthPrefix[:])
	if length > uint32(maxSize) {
		return nil, fmt.Errorf("message size %d exceeds maximum %d", length, maxSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("reading message body: %w", err)
	}
	return data, nil
}

// ReadMessage reads one length-prefixed CBOR message from r and
// decodes it into v.
func ReadMessage(r io.Reader, v any, maxSize int) error {
	data, err := ReadRaw(r, maxSize)
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}

// envelope is the minimal decode target for routing: every protocol
// message carries a "type" field.
type envelope struct {
	Type string `json:"type"`
}

// MessageType returns the "type" field of an encoded message without
// decoding the rest.
func MessageType(data []byte) (string, error) {
	var env envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("decoding message envelope: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("message has no type field")
	}
	return env.Type, nil
}
