// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package producer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shirou/gopsutil/v4/mem"
)

// Memory estimate constants, calibrated against observed peak usage
// of the reconstruction pipeline at the reference resolution.
const (
	// baseOverheadGB is the fixed cost of loading the model and
	// runtime regardless of input count.
	baseOverheadGB = 1.0

	// perInputGB is the marginal cost of one input at the reference
	// resolution.
	perInputGB = 0.6

	// referenceResolution is the resolution the per-input constant
	// was measured at. Cost scales with the square of the resolution
	// ratio.
	referenceResolution = 504
)

// EstimateGB returns the estimated peak memory of a run in gigabytes.
func EstimateGB(inputCount, resolution int) float64 {
	scale := float64(resolution) / float64(referenceResolution)
	return baseOverheadGB + float64(inputCount)*perInputGB*scale*scale
}

// WithMemoryGuard rejects runs whose estimated memory exceeds the
// host's available memory before any work starts. Failing fast here
// beats letting the kernel OOM-kill the producer mid-run.
//
// If the available memory cannot be determined, the guard logs and
// lets the run proceed.
func WithMemoryGuard(inner Producer, logger *slog.Logger) Producer {
	return &memoryGuard{inner: inner, logger: logger}
}

type memoryGuard struct {
	inner  Producer
	logger *slog.Logger
}

func (g *memoryGuard) Produce(ctx context.Context, request *Request) (*Result, error) {
	estimate := EstimateGB(len(request.Inputs), request.Config.Resolution)

	virtualMemory, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		g.logger.Warn("memory pre-flight unavailable", "error", err)
		return g.inner.Produce(ctx, request)
	}

	availableGB := float64(virtualMemory.Available) / (1 << 30)
	if estimate > availableGB {
		return nil, fmt.Errorf("%w: estimated %.1f GB, %.1f GB available",
			ErrInsufficientMemory, estimate, availableGB)
	}

	g.logger.Debug("memory pre-flight",
		"estimated_gb", estimate,
		"available_gb", availableGB,
		"inputs", len(request.Inputs))
	return g.inner.Produce(ctx, request)
}
