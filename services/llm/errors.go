// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is returned when the API responds with a non-200 status.
//
// Description:
//
//	Carries the HTTP status and the provider error type (e.g.
//	"rate_limit_error", "overloaded_error") so callers can decide whether
//	the failure is transient. The retry policy in the phase runner branches
//	on Retryable.
type StatusError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Type is the provider error type string, if the body was parseable.
	Type string

	// Message is the provider error message, redacted for logging.
	Message string
}

func (e *StatusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("anthropic: API returned status %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("anthropic: API returned status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failure class is transient: rate limiting,
// service overload, or a server-side 5xx. Client errors and validation
// failures are never retryable.
func (e *StatusError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	case e.Type == "overloaded_error" || e.Type == "rate_limit_error":
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err (or anything it wraps) is a transient
// provider failure worth retrying.
func IsRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}
