// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "fmt"

// Status is a session's lifecycle state.
type Status uint8

const (
	// StatusActive accepts inputs and run requests.
	StatusActive Status = iota

	// StatusProcessing has a reconstruction run in flight.
	StatusProcessing

	// StatusCompleted finished a final run. Read-only until evicted.
	StatusCompleted

	// StatusError had its last run fail. Inputs and retries are still
	// accepted.
	StatusError
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseStatus parses a status from its name.
func ParseStatus(name string) (Status, error) {
	switch name {
	case "active":
		return StatusActive, nil
	case "processing":
		return StatusProcessing, nil
	case "completed":
		return StatusCompleted, nil
	case "error":
		return StatusError, nil
	default:
		return 0, fmt.Errorf("unknown session status: %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler so statuses serialize
// as their names on the wire.
func (s Status) MarshalText() ([]byte, error) {
	switch s {
	case StatusActive, StatusProcessing, StatusCompleted, StatusError:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("unknown session status: %d", uint8(s))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
