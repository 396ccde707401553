// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"crypto/rand"
	"testing"
)

// compressibleData returns repetitive bytes that any algorithm can
// shrink.
func compressibleData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 16)
	}
	return data
}

func TestCompressRoundTrip(t *testing.T) {
	data := compressibleData(64 * 1024)

	for _, tag := range []CompressionTag{CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			compressed, err := Compress(data, tag)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if len(compressed) >= len(data) {
				t.Fatalf("compressed size %d not smaller than input %d", len(compressed), len(data))
			}

			decompressed, err := Decompress(compressed, tag, len(data))
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(decompressed, data) {
				t.Error("round trip corrupted data")
			}
		})
	}
}

func TestCompressIncompressible(t *testing.T) {
	data := make([]byte, 64*1024)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	for _, tag := range []CompressionTag{CompressionLZ4, CompressionZstd} {
		if _, err := Compress(data, tag); !IsIncompressible(err) {
			t.Errorf("%s: expected incompressible error, got %v", tag, err)
		}
	}
}

func TestCompressAutoFallsBackToNone(t *testing.T) {
	data := make([]byte, 64*1024)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	compressed, tag, err := CompressAuto(data)
	if err != nil {
		t.Fatalf("CompressAuto: %v", err)
	}
	if tag != CompressionNone {
		t.Errorf("tag = %s, want none for random data", tag)
	}
	if !bytes.Equal(compressed, data) {
		t.Error("CompressAuto with none tag modified the data")
	}
}

func TestCompressAutoSelectsCompression(t *testing.T) {
	data := compressibleData(64 * 1024)

	compressed, tag, err := CompressAuto(data)
	if err != nil {
		t.Fatalf("CompressAuto: %v", err)
	}
	if tag == CompressionNone {
		t.Fatal("CompressAuto chose none for highly compressible data")
	}

	decompressed, err := Decompress(compressed, tag, len(data))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Error("round trip corrupted data")
	}
}

func TestDecompressSizeMismatch(t *testing.T) {
	data := compressibleData(1024)
	compressed, err := Compress(data, CompressionZstd)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if _, err := Decompress(compressed, CompressionZstd, len(data)-1); err == nil {
		t.Error("Decompress accepted a wrong uncompressed size")
	}
}

func TestCompressionTagText(t *testing.T) {
	for _, tag := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		text, err := tag.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d): %v", tag, err)
		}
		var parsed CompressionTag
		if err := parsed.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%s): %v", text, err)
		}
		if parsed != tag {
			t.Errorf("text round trip: got %s, want %s", parsed, tag)
		}
	}

	var invalid CompressionTag
	if err := invalid.UnmarshalText([]byte("gzip")); err == nil {
		t.Error("UnmarshalText accepted an unknown tag")
	}
}

func TestHashDomainSeparation(t *testing.T) {
	data := []byte("the same bytes")
	if HashInput(data) == HashArtifact(data) {
		t.Error("input and artifact hashes collide for identical bytes")
	}
}

func TestHashFormatParse(t *testing.T) {
	hash := HashInput([]byte("some image bytes"))
	formatted := FormatHash(hash)
	if len(formatted) != 64 {
		t.Fatalf("formatted hash length %d, want 64", len(formatted))
	}

	parsed, err := ParseHash(formatted)
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if parsed != hash {
		t.Error("hash did not round trip through formatting")
	}

	if _, err := ParseHash("not-hex"); err == nil {
		t.Error("ParseHash accepted invalid input")
	}
	if _, err := ParseHash("abcd"); err == nil {
		t.Error("ParseHash accepted a short hash")
	}
}
