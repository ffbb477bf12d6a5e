// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine implements the generic phase-execution loop: a
// tool-calling conversation with the model that executes requested tools
// concurrently, enforces timeouts and cancellation, retries transient
// provider failures, and extracts one structured output object.
package engine

import "errors"

// ErrCancelled is the distinguished cancellation signal. Never retried;
// always propagates out of the phase, and the coordinator maps it to the
// "cancelled" run status rather than "error".
var ErrCancelled = errors.New("phase cancelled")

// ErrNoOutput means the model never produced a structured result and all
// fallback extraction tiers came up empty. Fatal for the phase; the
// caller may offer a user-facing retry of the whole phase.
var ErrNoOutput = errors.New("no structured output produced")

// IsFatal reports whether a phase error is non-recoverable from the
// user's perspective. Cancellation is terminal by choice, not failure,
// so it is excluded.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrCancelled)
}
