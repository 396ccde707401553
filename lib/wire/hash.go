// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures that the same bytes produce different hashes as
// an input image and as an artifact. The byte values are the ASCII
// encoding of the domain name, zero-padded to 32 bytes, so the keys
// are inspectable in hex dumps without losing any cryptographic
// property.
type domainKey [32]byte

var (
	inputDomainKey = domainKey{
		'r', 'e', 'c', 'o', 'n', 's', 't', 'r', 'u', 'c', 't', '.',
		'i', 'n', 'p', 'u', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	artifactDomainKey = domainKey{
		'r', 'e', 'c', 'o', 'n', 's', 't', 'r', 'u', 'c', 't', '.',
		'a', 'r', 't', 'i', 'f', 'a', 'c', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// HashInput computes the input-domain hash of raw image bytes. Echoed
// to the client in InputAccepted.
func HashInput(data []byte) Hash {
	return keyedHash(inputDomainKey, data)
}

// HashArtifact computes the artifact-domain hash of uncompressed
// artifact bytes. Carried in ArtifactResult and verified by the
// client after decompression.
func HashArtifact(data []byte) Hash {
	return keyedHash(artifactDomainKey, data)
}

// FormatHash returns the hex string representation of a hash. This is
// the format used on the wire, in logs, and in CLI output.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing hash: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("hash is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// keyedHash computes a BLAKE3 keyed hash with the given domain key.
func keyedHash(key domainKey, data []byte) Hash {
	// NewKeyed requires exactly 32 bytes, which domainKey guarantees.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("wire: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}
