// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry provides the uniform retry-with-exponential-backoff
// wrapper used by every call into an external fallible service
// (embedding, vector store, LLM, artifact store).
package retry

import (
	"context"
	"log/slog"
	"time"
)

// Policy configures the retry behavior. The zero value is not useful;
// use Default() or construct explicitly.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the sleep before the second attempt. Each
	// subsequent retry doubles the delay (1s, 2s, 4s, ...).
	InitialDelay time.Duration
}

// Default returns the standard provider-call policy: 3 attempts with
// backoff delays of 1s then 2s.
func Default() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
	}
}

// Do executes op, retrying on failure until MaxAttempts is exhausted.
//
// The backoff sleep is context-aware so a canceled caller is not held
// hostage by the delay. When all attempts fail, the last error is
// returned unchanged so callers can still match the root cause with
// errors.Is/As.
func (p Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error
	delay := p.InitialDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			slog.Warn("Operation failed, retrying",
				"operation", name,
				"attempt", attempt,
				"max_attempts", p.MaxAttempts,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if lastErr = op(ctx); lastErr == nil {
			return nil
		}
	}

	slog.Error("Operation failed after all retries",
		"operation", name,
		"attempts", p.MaxAttempts,
		"error", lastErr,
	)
	return lastErr
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, name, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}
