// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/reconstruct/lib/clock"
)

// WithTimeout bounds every run of inner to the given duration on the
// injected clock. On expiry the run's context is cancelled, the
// wrapper waits for inner to return, and the caller gets ErrTimeout.
// A timeout of 0 disables the bound.
func WithTimeout(inner Producer, clk clock.Clock, timeout time.Duration) Producer {
	if timeout <= 0 {
		return inner
	}
	return &timeoutProducer{inner: inner, clk: clk, timeout: timeout}
}

type timeoutProducer struct {
	inner   Producer
	clk     clock.Clock
	timeout time.Duration
}

func (p *timeoutProducer) Produce(ctx context.Context, request *Request) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := p.inner.Produce(ctx, request)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-p.clk.After(p.timeout):
		cancel()
		// Wait for the run to actually stop so its resources are
		// released before the session leaves Processing.
		<-done
		return nil, fmt.Errorf("%w after %s", ErrTimeout, p.timeout)
	}
}
