// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools provides the side-effect tools the planner phases expose
// to the model: web search, building-code lookup, video search, wire
// gauge calculation, inventory checks, and local store search.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianPlanner/services/llm"
)

// Tool is one executable capability exposed to the model.
//
// Thread Safety: Implementations must be safe for concurrent use; the
// phase runner executes all tool calls from one model turn concurrently.
type Tool interface {
	// Def returns the schema declaration sent to the model.
	Def() llm.ToolDef

	// Execute runs the tool with the model-provided input and returns a
	// text result for the conversation. Errors are returned, not
	// panicked; the runner converts them to error strings for the model.
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// Registry holds the tools available to a phase.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Registry struct {
	byName map[string]Tool
}

// NewRegistry builds a registry. Duplicate tool names are a programming
// error and panic at startup rather than failing mid-run.
func NewRegistry(tools ...Tool) *Registry {
	byName := make(map[string]Tool, len(tools))
	for _, tool := range tools {
		name := tool.Def().Name
		if _, dup := byName[name]; dup {
			panic(fmt.Sprintf("tools: duplicate tool name %q", name))
		}
		byName[name] = tool
	}
	return &Registry{byName: byName}
}

// Defs returns all tool declarations, sorted by name for deterministic
// prompts.
func (r *Registry) Defs() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.byName))
	for _, tool := range r.byName {
		defs = append(defs, tool.Def())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.byName[name]
	return tool, ok
}

// Execute runs the named tool. An unknown name is an error like any
// other tool failure; the model sees it as an error result and can
// correct itself.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	tool, ok := r.byName[call.Name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
	return tool.Execute(ctx, call.Input)
}
