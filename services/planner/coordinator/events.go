// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coordinator

import (
	"sync"

	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
	"github.com/AleutianAI/AleutianPlanner/services/planner/engine"
)

// EventType distinguishes the messages on a run's event stream.
type EventType string

const (
	EventProgress  EventType = "progress"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
	EventCancelled EventType = "cancelled"
	EventHeartbeat EventType = "heartbeat"
	EventDone      EventType = "done"
)

// CompletePayload carries the terminal success data for a run.
type CompletePayload struct {
	ReportID  string            `json:"report_id"`
	Summary   string            `json:"summary"`
	TotalCost float64           `json:"total_cost"`
	Report    *datatypes.Report `json:"report,omitempty"`
	Tokens    datatypes.TokenUsage `json:"tokens"`
}

// ErrorPayload carries a phase failure. Recoverable means the run can be
// retried from the failed phase.
type ErrorPayload struct {
	Phase       datatypes.PhaseName `json:"phase"`
	Message     string              `json:"message"`
	Recoverable bool                `json:"recoverable"`
}

// Event is one message on a run's stream. Exactly one payload field is
// set, matching Type; cancelled, heartbeat, and done carry none.
type Event struct {
	Type     EventType             `json:"type"`
	RunID    string                `json:"run_id"`
	Progress *engine.ProgressEvent `json:"progress,omitempty"`
	Complete *CompletePayload      `json:"complete,omitempty"`
	Error    *ErrorPayload         `json:"error,omitempty"`
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber
// that falls this far behind starts losing events rather than blocking
// the run.
const subscriberBuffer = 32

// hub fans one run's events out to its stream subscribers. Each run
// gets its own hub; subscribers attach and detach freely while the run
// is in flight.
type hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[chan Event]struct{})}
}

// subscribe registers a new subscriber channel. Returns nil when the
// hub is already closed.
func (h *hub) subscribe() chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	ch := make(chan Event, subscriberBuffer)
	h.subs[ch] = struct{}{}
	return ch
}

func (h *hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// publish delivers ev to every subscriber without blocking. A full
// subscriber channel drops the event; progress is advisory and the
// terminal event is re-derivable from the stored run.
func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// close sends done to every subscriber and closes their channels. The
// hub accepts no further subscribers or events afterwards.
func (h *hub) close(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	done := Event{Type: EventDone, RunID: runID}
	for ch := range h.subs {
		select {
		case ch <- done:
		default:
		}
		close(ch)
		delete(h.subs, ch)
	}
}
