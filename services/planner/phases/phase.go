// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package phases defines the four planning phases as thin configurations
// layered on the engine runner: prompts, tool sets, progress windows,
// and defensive coercion of each phase's raw output into its typed
// domain result.
package phases

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
	"github.com/AleutianAI/AleutianPlanner/services/planner/engine"
	"github.com/AleutianAI/AleutianPlanner/services/llm"
)

// Budget carries the operator-tunable engine limits shared by every
// phase. Zero values leave the runner's defaults in effect.
type Budget struct {
	// PhaseTimeout is the wall-clock budget for one phase execution.
	PhaseTimeout time.Duration

	// ToolTimeout bounds each individual tool invocation.
	ToolTimeout time.Duration

	// MaxIterations is a ceiling on model/tool round trips. Each phase
	// has its own cap below it; the lower of the two wins.
	MaxIterations int
}

// limits builds the runner limits for a phase whose own iteration cap
// is maxIter.
func (b Budget) limits(maxIter int) engine.Limits {
	if b.MaxIterations > 0 && b.MaxIterations < maxIter {
		maxIter = b.MaxIterations
	}
	return engine.Limits{
		Timeout:       b.PhaseTimeout,
		ToolTimeout:   b.ToolTimeout,
		MaxIterations: maxIter,
	}
}

// Context is the shared state accumulated across phases. Owned
// exclusively by the coordinator; phases receive it by value and return
// a Delta rather than mutating it.
type Context struct {
	Run datatypes.Run

	Research *datatypes.ResearchResult
	Design   *datatypes.DesignResult
	Sourcing *datatypes.SourcingResult
	Report   *datatypes.Report
}

// Delta is a phase's output fragment, applied to the shared context by
// the coordinator after the phase completes.
type Delta func(*Context)

// Phase is one step of the fixed pipeline.
//
// Thread Safety: Implementations are immutable after construction and
// safe for concurrent use.
type Phase interface {
	// Name identifies the phase.
	Name() datatypes.PhaseName

	// Window is the phase's segment of the overall 0-100 progress bar.
	Window() engine.ProgressWindow

	// Build assembles the runner request from a read-only snapshot of
	// the shared context. Returns an error when a required predecessor
	// output is missing.
	Build(snapshot Context) (engine.PhaseRequest, error)

	// Coerce parses the raw model output into the phase's typed
	// result and returns the context delta. ctx is for phases that do
	// follow-up I/O (the sourcing phase's live price lookups).
	Coerce(ctx context.Context, raw map[string]any, snapshot Context) (Delta, error)
}

// Progress windows for the fixed pipeline. Together they tile 0-100.
var (
	researchWindow = engine.ProgressWindow{Base: 0, Range: 25}
	designWindow   = engine.ProgressWindow{Base: 25, Range: 30}
	sourcingWindow = engine.ProgressWindow{Base: 55, Range: 30}
	reportWindow   = engine.ProgressWindow{Base: 85, Range: 15}
)

// outputTool builds a phase's output-submission tool declaration.
func outputTool(name, description string, schema llm.Schema) llm.ToolDef {
	return llm.ToolDef{
		Name:        name,
		Description: description + " Call this exactly once with your complete result. This is the only way to finish the phase.",
		InputSchema: schema,
	}
}

// requirePredecessor formats the missing-dependency error for Build.
func requirePredecessor(phase, missing datatypes.PhaseName) error {
	return fmt.Errorf("%s phase requires %s output in context", phase, missing)
}

// preferencesLine renders the user's preferences for prompts.
func preferencesLine(p datatypes.Preferences) string {
	budget := p.BudgetTier
	if budget == "" {
		budget = "mid"
	}
	experience := p.ExperienceLevel
	if experience == "" {
		experience = "intermediate"
	}
	line := fmt.Sprintf("Budget tier: %s. Experience level: %s.", budget, experience)
	if p.Timeframe != "" {
		line += " Target timeframe: " + p.Timeframe + "."
	}
	return line
}
