// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/reconstruct/lib/codec"
	"github.com/bureau-foundation/reconstruct/lib/wire"
)

type streamOptions struct {
	socketPath  string
	outputDir   string
	images      []string
	config      wire.SessionConfig
	incremental bool
}

// runStream is the full client flow: create a session, attach, stream
// the images, optionally request a preview, finalize, and save every
// artifact that comes back.
func runStream(options streamOptions) error {
	var created wire.CreateSessionResponse
	if err := adminRequest(options.socketPath, wire.CreateSessionRequest{
		Type:   wire.TypeCreateSession,
		Config: options.config,
	}, &created); err != nil {
		return err
	}
	fmt.Printf("session %s (resolution %d, max points %d)\n",
		created.SessionID, created.Config.Resolution, created.Config.MaxPoints)

	if err := os.MkdirAll(options.outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	conn, err := dial(options.socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, wire.Attach{
		Type:      wire.TypeAttach,
		SessionID: created.SessionID,
	}); err != nil {
		return err
	}

	var attached wire.Attached
	if _, err := awaitMessage(conn, options.outputDir, &attached, wire.TypeAttached); err != nil {
		return err
	}

	for _, imagePath := range options.images {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return fmt.Errorf("reading %s: %w", imagePath, err)
		}

		if err := wire.WriteMessage(conn, wire.AddInput{
			Type:   wire.TypeAddInput,
			Data:   data,
			Format: imageFormat(imagePath),
		}); err != nil {
			return err
		}

		var accepted wire.InputAccepted
		if _, err := awaitMessage(conn, options.outputDir, &accepted, wire.TypeInputAccepted); err != nil {
			return fmt.Errorf("sending %s: %w", imagePath, err)
		}
		fmt.Printf("  input %d accepted (%s, %d bytes)\n",
			accepted.Index, filepath.Base(imagePath), len(data))
	}

	if options.incremental {
		if err := wire.WriteMessage(conn, wire.Generate{
			Type:        wire.TypeGenerate,
			Incremental: true,
		}); err != nil {
			return err
		}
		var preview wire.ArtifactResult
		if _, err := awaitMessage(conn, options.outputDir, &preview, wire.TypePartialResult); err != nil {
			return err
		}
		if err := saveArtifact(options.outputDir, &preview); err != nil {
			return err
		}
	}

	if err := wire.WriteMessage(conn, wire.Finalize{Type: wire.TypeFinalize}); err != nil {
		return err
	}
	var final wire.ArtifactResult
	if _, err := awaitMessage(conn, options.outputDir, &final, wire.TypeFinalResult); err != nil {
		return err
	}
	return saveArtifact(options.outputDir, &final)
}

// awaitMessage reads server messages until one of the wanted types
// arrives and decodes it into response. Progress is printed, interim
// partial results (from auto-generation) are saved, and failures
// become errors.
func awaitMessage(conn net.Conn, outputDir string, response any, wanted ...string) (string, error) {
	for {
		raw, err := wire.ReadRaw(conn, wire.MaxMessageSize)
		if err != nil {
			return "", fmt.Errorf("reading server message: %w", err)
		}
		messageType, err := wire.MessageType(raw)
		if err != nil {
			return "", err
		}

		for _, want := range wanted {
			if messageType == want {
				if err := codec.Unmarshal(raw, response); err != nil {
					return "", fmt.Errorf("decoding %s: %w", messageType, err)
				}
				return messageType, nil
			}
		}

		switch messageType {
		case wire.TypeProgress:
			var progress wire.Progress
			if err := codec.Unmarshal(raw, &progress); err != nil {
				return "", err
			}
			fmt.Printf("  [%s] %3.0f%% %s\n", progress.Stage, progress.Fraction*100, progress.Message)

		case wire.TypePartialResult:
			var partial wire.ArtifactResult
			if err := codec.Unmarshal(raw, &partial); err != nil {
				return "", err
			}
			if err := saveArtifact(outputDir, &partial); err != nil {
				return "", err
			}

		case wire.TypeFailure:
			var failure wire.Failure
			if err := codec.Unmarshal(raw, &failure); err != nil {
				return "", err
			}
			return "", fmt.Errorf("%s: %s", failure.Code, failure.Message)

		default:
			return "", fmt.Errorf("unexpected server message %q", messageType)
		}
	}
}

// saveArtifact decompresses an artifact, verifies its hash, and
// writes it to the output directory. Preview artifacts are named by
// the input count they cover; the final artifact is final.glb.
func saveArtifact(outputDir string, result *wire.ArtifactResult) error {
	data, err := wire.Decompress(result.Payload, result.Compression, int(result.Size))
	if err != nil {
		return fmt.Errorf("decompressing artifact: %w", err)
	}
	if computed := wire.FormatHash(wire.HashArtifact(data)); computed != result.Hash {
		return fmt.Errorf("artifact hash mismatch: computed %s, expected %s", computed, result.Hash)
	}

	name := "final.glb"
	if result.Type == wire.TypePartialResult {
		name = fmt.Sprintf("preview_%04d.glb", result.Metadata.InputCount)
	}
	path := filepath.Join(outputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}

	fmt.Printf("  saved %s (%d bytes, %d points, %d inputs)\n",
		path, len(data), result.Metadata.PointCount, result.Metadata.InputCount)
	return nil
}

// imageFormat derives the wire format name from a filename extension.
func imageFormat(path string) string {
	extension := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if extension == "jpg" {
		return "jpeg"
	}
	return extension
}
