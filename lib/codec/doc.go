// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the service's standard CBOR encoding
// configuration.
//
// Every message on the session protocol is CBOR: admin actions, the
// streaming attach loop, and the artifact payloads riding inside them.
// This package provides the shared encoding and decoding modes so that
// the service, the client, and the tests all encode identically without
// duplicating configuration. The encoder uses Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer encoding,
// no indefinite-length items. Same logical data always produces
// identical bytes, which keeps content hashes of encoded structures
// stable.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Protocol types carry `json` struct tags. fxamacker/cbor v2 reads
// `json` tags as fallback when `cbor` tags are absent, so a single tag
// controls field naming and omitempty for both the wire format and CLI
// --json output.
package codec
