// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the domain records shared by the planner service:
// runs, phase execution records, phase outputs, and reports. Types here are
// plain data with JSON tags; behavior lives in the packages that own the
// corresponding workflow step.
package datatypes

import "time"

// RunStatus is the lifecycle state of a planning run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusError || s == RunStatusCancelled
}

// PhaseStatus is the lifecycle state of one phase attempt.
type PhaseStatus string

const (
	PhaseStatusPending   PhaseStatus = "pending"
	PhaseStatusRunning   PhaseStatus = "running"
	PhaseStatusCompleted PhaseStatus = "completed"
	PhaseStatusError     PhaseStatus = "error"
	PhaseStatusSkipped   PhaseStatus = "skipped"
)

// PhaseName identifies one of the four fixed pipeline phases.
type PhaseName string

const (
	PhaseResearch PhaseName = "research"
	PhaseDesign   PhaseName = "design"
	PhaseSourcing PhaseName = "sourcing"
	PhaseReport   PhaseName = "report"
)

// PhaseOrder is the fixed execution order of the pipeline. The coordinator
// never reorders, branches, or parallelizes phases.
var PhaseOrder = []PhaseName{PhaseResearch, PhaseDesign, PhaseSourcing, PhaseReport}

// Location is where the project happens. Drives code lookup and store search.
type Location struct {
	City  string `json:"city"`
	State string `json:"state"`
	Zip   string `json:"zip,omitempty"`
}

// String renders "City, ST 12345" with empty parts omitted.
func (l Location) String() string {
	s := l.City
	if l.State != "" {
		if s != "" {
			s += ", "
		}
		s += l.State
	}
	if l.Zip != "" {
		if s != "" {
			s += " "
		}
		s += l.Zip
	}
	return s
}

// Preferences are the user knobs that shape prompts and budgets.
type Preferences struct {
	// BudgetTier is "budget", "mid", or "premium".
	BudgetTier string `json:"budget_tier,omitempty"`

	// ExperienceLevel is "beginner", "intermediate", or "advanced".
	ExperienceLevel string `json:"experience_level,omitempty"`

	// Timeframe is a free-form target like "one weekend". Optional.
	Timeframe string `json:"timeframe,omitempty"`
}

// Run is one end-to-end planning request.
//
// Description:
//
//	Created on submission, mutated only by the Run Coordinator as phases
//	complete, terminal once Status is completed, error, or cancelled.
//
// Thread Safety: Run values are copied between the coordinator and the
// store; a stored Run is never shared mutably.
type Run struct {
	ID           string      `json:"id"`
	Project      string      `json:"project"`
	Location     Location    `json:"location"`
	Preferences  Preferences `json:"preferences"`
	Status       RunStatus   `json:"status"`
	CurrentPhase PhaseName   `json:"current_phase,omitempty"`
	Error        string      `json:"error,omitempty"`
	ReportID     string      `json:"report_id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// ToolCallLogEntry records one executed tool invocation within a phase.
// Append-only; one entry per invocation regardless of outcome.
type ToolCallLogEntry struct {
	Tool     string        `json:"tool"`
	Input    string        `json:"input"`
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
}

// TokenUsage accumulates model token counts across all calls in a phase.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage sample into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// PhaseRecord is one phase attempt. Immutable once Status is terminal,
// except for retry bookkeeping on a re-run.
type PhaseRecord struct {
	RunID      string           `json:"run_id"`
	Phase      PhaseName        `json:"phase"`
	Status     PhaseStatus      `json:"status"`
	Input      string           `json:"input,omitempty"`
	Output     map[string]any   `json:"output,omitempty"`
	ToolCalls  []ToolCallLogEntry `json:"tool_calls,omitempty"`
	Retries    int              `json:"retries"`
	Duration   time.Duration    `json:"duration"`
	Tokens     TokenUsage       `json:"tokens"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at,omitempty"`
}

// InventoryItem is one thing the user already owns. The sourcing phase's
// inventory-check tool reads these to avoid pricing items the user has.
type InventoryItem struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Category string    `json:"category,omitempty"`
	Quantity int       `json:"quantity"`
	AddedAt  time.Time `json:"added_at"`
}
