// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianPlanner/services/llm"
)

// maxRetryAttempts is how many extra attempts follow a failed model call.
const maxRetryAttempts = 2

// retryBaseDelay is the first backoff delay; each retry doubles it.
const retryBaseDelay = 1 * time.Second

// callModelWithRetry wraps one outbound model call in the transient-error
// retry policy.
//
// Description:
//
//	Retries up to maxRetryAttempts extra times with doubling backoff,
//	but only for rate limiting, overload, and server-side 5xx failures.
//	Client errors and validation failures surface immediately, and
//	context cancellation is never retried.
func callModelWithRetry(ctx context.Context, client llm.ChatClient, system string, messages []llm.ChatMessage, tools []llm.ToolDef, opts llm.ChatOptions) (*llm.ChatResult, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetryAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			slog.Warn("retrying model call",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := client.ChatWithTools(ctx, system, messages, tools, opts)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if !llm.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		recordModelRetry()
	}

	return nil, lastErr
}
