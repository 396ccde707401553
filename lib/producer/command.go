// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package producer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/bureau-foundation/reconstruct/lib/wire"
)

// CommandProducer runs reconstruction by executing a configured
// binary. Input paths and parameters are passed as arguments, the
// artifact is written to a scratch file, and the binary reports
// progress as length-prefixed CBOR events on stdout:
//
//	{"type": "progress", "stage": ..., "fraction": ..., "message": ...}
//	...
//	{"type": "result", "point_count": ..., "intrinsics": ..., "extrinsics": ...}
//
// The result event must be last. Stderr is captured and included in
// the error when the binary exits non-zero.
type CommandProducer struct {
	// Path is the reconstruction executable.
	Path string

	// ScratchDir holds per-run output files. Each run's file is
	// removed after its bytes are read.
	ScratchDir string

	Logger *slog.Logger
}

// commandEvent is one CBOR event on the executable's stdout.
type commandEvent struct {
	Type     string  `json:"type"`
	Stage    string  `json:"stage,omitempty"`
	Fraction float64 `json:"fraction,omitempty"`
	Message  string  `json:"message,omitempty"`

	PointCount int64       `json:"point_count,omitempty"`
	Intrinsics [][]float64 `json:"intrinsics,omitempty"`
	Extrinsics [][]float64 `json:"extrinsics,omitempty"`
}

// Produce executes one run.
func (p *CommandProducer) Produce(ctx context.Context, request *Request) (*Result, error) {
	if len(request.Inputs) == 0 {
		return nil, fmt.Errorf("%w: no inputs", ErrProducer)
	}

	outputPath := filepath.Join(p.ScratchDir,
		fmt.Sprintf("%s-%04d.glb", request.SessionID, len(request.Inputs)))
	defer os.Remove(outputPath)

	arguments := []string{
		"--output", outputPath,
		"--resolution", strconv.Itoa(request.Config.Resolution),
		"--resize-method", request.Config.ResizeMethod,
		"--confidence-percentile", strconv.FormatFloat(request.Config.ConfidencePercentile, 'f', -1, 64),
		"--max-points", strconv.FormatInt(request.Config.MaxPoints, 10),
	}
	if request.Incremental {
		arguments = append(arguments, "--incremental")
	}
	if request.Config.ShowCameras != nil && *request.Config.ShowCameras {
		arguments = append(arguments, "--show-cameras")
	}
	for _, input := range request.Inputs {
		arguments = append(arguments, input.Path)
	}

	command := exec.CommandContext(ctx, p.Path, arguments...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	stdout, err := command.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: opening stdout pipe: %v", ErrProducer, err)
	}

	p.Logger.Info("producer run starting",
		"session_id", request.SessionID,
		"inputs", len(request.Inputs),
		"incremental", request.Incremental)

	if err := command.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %v", ErrProducer, p.Path, err)
	}

	resultEvent, eventErr := p.consumeEvents(stdout, request)

	if err := command.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrProducer, err, stderrTail(&stderr))
	}
	if eventErr != nil {
		return nil, fmt.Errorf("%w: reading events: %v", ErrProducer, eventErr)
	}
	if resultEvent == nil {
		return nil, fmt.Errorf("%w: executable exited without a result event", ErrProducer)
	}

	artifact, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading artifact: %v", ErrProducer, err)
	}

	return &Result{
		Artifact: artifact,
		Metadata: wire.ArtifactMetadata{
			InputCount:  len(request.Inputs),
			PointCount:  resultEvent.PointCount,
			Incremental: request.Incremental,
			Intrinsics:  resultEvent.Intrinsics,
			Extrinsics:  resultEvent.Extrinsics,
		},
	}, nil
}

// consumeEvents reads CBOR events until EOF, forwarding progress and
// returning the final result event.
func (p *CommandProducer) consumeEvents(stdout io.Reader, request *Request) (*commandEvent, error) {
	var result *commandEvent
	for {
		var event commandEvent
		if err := wire.ReadMessage(stdout, &event, wire.MaxControlSize); err != nil {
			if errors.Is(err, io.EOF) {
				return result, nil
			}
			return nil, err
		}

		switch event.Type {
		case "progress":
			if request.Progress != nil {
				request.Progress(event.Stage, event.Fraction, event.Message)
			}
		case "result":
			result = &event
		default:
			p.Logger.Warn("unknown producer event", "type", event.Type)
		}
	}
}

// stderrTail returns the last portion of captured stderr, enough to
// diagnose a failure without flooding logs.
func stderrTail(buffer *bytes.Buffer) string {
	const tailSize = 1024
	output := bytes.TrimSpace(buffer.Bytes())
	if len(output) > tailSize {
		output = output[len(output)-tailSize:]
	}
	if len(output) == 0 {
		return "(no stderr output)"
	}
	return string(output)
}
