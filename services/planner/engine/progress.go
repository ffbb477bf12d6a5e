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

import "github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"

// ProgressKind is the coarse status carried by a progress event.
type ProgressKind string

const (
	ProgressStarted   ProgressKind = "started"
	ProgressToolCall  ProgressKind = "tool_call"
	ProgressThinking  ProgressKind = "thinking"
	ProgressCompleted ProgressKind = "completed"
	ProgressError     ProgressKind = "error"
)

// ProgressEvent is one progress update emitted during a phase.
type ProgressEvent struct {
	Phase   datatypes.PhaseName `json:"phase"`
	Kind    ProgressKind        `json:"status"`
	Message string              `json:"message"`
	Detail  string              `json:"detail,omitempty"`

	// Percent is overall run progress, 0-100, scaled into the phase's
	// window so clients see one continuous bar across all phases.
	Percent int `json:"percent"`
}

// ProgressSink receives progress events. May be nil; the runner checks.
//
// Thread Safety: The runner calls the sink from a single goroutine.
type ProgressSink func(ProgressEvent)

// ProgressWindow maps a phase's internal progress onto the overall
// 0-100 run bar.
type ProgressWindow struct {
	// Base is where this phase starts on the overall bar.
	Base int

	// Range is how much of the overall bar this phase covers.
	Range int
}

// at scales a phase-internal fraction (0..1) into the window, clamped so
// a phase never reports beyond its own segment.
func (w ProgressWindow) at(frac float64) int {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return w.Base + int(frac*float64(w.Range))
}
