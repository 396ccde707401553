// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the session protocol's message types and the
// byte-level conventions they ride on.
//
// Every message is a CBOR map, length-prefixed on the wire with a
// 4-byte big-endian uint32. Length prefixes avoid the CBOR stream
// decoder's read-ahead buffering and give the receiver a hard size
// bound before it allocates anything.
//
// A connection starts with a single request message routed by its
// "type" field. Admin requests (create_session, get_session,
// delete_session, list_sessions, stats, status) are one-shot:
// request in, response out, connection closed. An "attach" request
// upgrades the connection to the streaming session loop, where the
// client sends add_input, generate, finalize, and keepalive messages
// and the server replies with input_accepted, progress,
// partial_result, final_result, failure, and keepalive_ack.
//
// Image and artifact payloads travel as CBOR byte strings inside
// their messages, never base64. Artifact payloads are compressed
// before transmission with a tagged algorithm (none, lz4, zstd) and
// carry the BLAKE3 hash of the uncompressed bytes so the client can
// verify what it decompressed.
package wire
