// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package phases

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianPlanner/services/llm"
	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
	"github.com/AleutianAI/AleutianPlanner/services/planner/engine"
	"github.com/AleutianAI/AleutianPlanner/services/planner/tools"
)

const designSystemPrompt = `You are an experienced general contractor writing a step-by-step execution plan for a homeowner. Order steps by real-world dependency: demolition before rough-in, rough-in before inspection, inspection before closing walls. Every step gets a time estimate and skill level; flag steps that need an inspection before work continues. Price materials per unit at typical big-box retail. List every tool the plan needs and mark which are strictly required. Respect the research findings you are given, especially safety warnings and professional-required flags.`

// DesignPhase produces the ordered plan, materials list, and tools list.
type DesignPhase struct {
	search *tools.BraveSearchClient
	budget Budget
}

// NewDesignPhase creates the design phase definition.
func NewDesignPhase(search *tools.BraveSearchClient, budget Budget) *DesignPhase {
	return &DesignPhase{search: search, budget: budget}
}

func (p *DesignPhase) Name() datatypes.PhaseName     { return datatypes.PhaseDesign }
func (p *DesignPhase) Window() engine.ProgressWindow { return designWindow }

func (p *DesignPhase) Build(snapshot Context) (engine.PhaseRequest, error) {
	if snapshot.Research == nil {
		return engine.PhaseRequest{}, requirePredecessor(datatypes.PhaseDesign, datatypes.PhaseResearch)
	}
	run := snapshot.Run

	registry := tools.NewRegistry(
		tools.NewVideoSearchTool(p.search),
		tools.NewWireGaugeTool(),
		tools.NewWebSearchTool(p.search),
	)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Project: %s\nLocation: %s\n%s\n\n", run.Project, run.Location.String(), preferencesLine(run.Preferences))
	sb.WriteString("Research findings:\n")
	sb.WriteString(formatResearch(snapshot.Research))
	sb.WriteString("\nDesign the full execution plan, then submit it.")

	return engine.PhaseRequest{
		Phase:        datatypes.PhaseDesign,
		SystemPrompt: designSystemPrompt,
		UserPrompt:   sb.String(),
		Tools:        registry,
		OutputTool:   designOutputTool(),
		Limits:       p.budget.limits(8),
		Window:       designWindow,
	}, nil
}

// formatResearch renders research output for downstream prompts.
func formatResearch(r *datatypes.ResearchResult) string {
	var sb strings.Builder
	for _, f := range r.CodeFindings {
		fmt.Fprintf(&sb, "- Code: %s: %s\n", f.Code, f.Summary)
	}
	if r.PermitSummary != "" {
		fmt.Fprintf(&sb, "- Permits: %s\n", r.PermitSummary)
	}
	for _, w := range r.SafetyWarnings {
		fmt.Fprintf(&sb, "- Safety: %s\n", w)
	}
	if r.ProRequired {
		fmt.Fprintf(&sb, "- PROFESSIONAL REQUIRED: %s\n", r.ProRequiredReason)
	}
	return sb.String()
}

func designOutputTool() llm.ToolDef {
	return outputTool("submit_design", "Submit the execution plan.", llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProp{
			"steps": {
				Type:        "array",
				Description: "Ordered execution steps.",
				Items: &llm.SchemaProp{
					Type: "object",
					Properties: map[string]llm.SchemaProp{
						"number":             {Type: "number", Description: "Step number, 1-based."},
						"title":              {Type: "string"},
						"description":        {Type: "string"},
						"timeEstimate":       {Type: "string", Description: "e.g. '2 hours'."},
						"skillLevel":         {Type: "string", Enum: []string{"beginner", "intermediate", "advanced"}},
						"safetyNote":         {Type: "string"},
						"inspectionRequired": {Type: "boolean"},
					},
				},
			},
			"materials": {
				Type:        "array",
				Description: "Every material with per-unit pricing.",
				Items: &llm.SchemaProp{
					Type: "object",
					Properties: map[string]llm.SchemaProp{
						"name":      {Type: "string"},
						"quantity":  {Type: "number"},
						"unit":      {Type: "string", Description: "e.g. 'ft', 'box', 'each'."},
						"unitPrice": {Type: "number", Description: "Estimated price per unit in USD."},
						"notes":     {Type: "string"},
					},
				},
			},
			"tools": {
				Type:        "array",
				Description: "Every tool the plan needs.",
				Items: &llm.SchemaProp{
					Type: "object",
					Properties: map[string]llm.SchemaProp{
						"name":           {Type: "string"},
						"required":       {Type: "boolean", Description: "False for nice-to-have tools."},
						"estimatedPrice": {Type: "number"},
					},
				},
			},
			"estimatedDuration": {Type: "string", Description: "Total duration, e.g. 'one weekend'."},
			"skillSummary":      {Type: "string", Description: "Overall difficulty assessment."},
			"videos": {
				Type:        "array",
				Description: "Recommended tutorial videos.",
				Items: &llm.SchemaProp{
					Type: "object",
					Properties: map[string]llm.SchemaProp{
						"title": {Type: "string"},
						"url":   {Type: "string"},
					},
				},
			},
		},
		Required: []string{"steps", "materials", "tools"},
	})
}

func (p *DesignPhase) Coerce(ctx context.Context, raw map[string]any, snapshot Context) (Delta, error) {
	result := &datatypes.DesignResult{
		EstimatedDuration: firstNonEmpty(raw, "estimatedDuration", "estimated_duration"),
		SkillSummary:      firstNonEmpty(raw, "skillSummary", "skill_summary"),
	}

	for i, s := range sliceFromAny(raw, "steps") {
		step := datatypes.PlanStep{
			Number:             coInt(s, "number"),
			Title:              coStr(s, "title"),
			Description:        coStr(s, "description"),
			TimeEstimate:       firstNonEmpty(s, "timeEstimate", "time_estimate"),
			SkillLevel:         firstNonEmpty(s, "skillLevel", "skill_level"),
			SafetyNote:         firstNonEmpty(s, "safetyNote", "safety_note"),
			InspectionRequired: boolFromAny(s, "inspectionRequired", "inspection_required"),
		}
		if step.Number == 0 {
			step.Number = i + 1
		}
		if step.Title == "" && step.Description == "" {
			continue
		}
		result.Steps = append(result.Steps, step)
	}

	for _, m := range sliceFromAny(raw, "materials") {
		material := datatypes.Material{
			Name:      coStr(m, "name"),
			Quantity:  coNum(m, "quantity"),
			Unit:      coStr(m, "unit"),
			UnitPrice: numFromAny(m, "unitPrice", "unit_price"),
			Notes:     coStr(m, "notes"),
		}
		if material.Name == "" {
			continue
		}
		if material.Quantity <= 0 {
			material.Quantity = 1
		}
		result.Materials = append(result.Materials, material)
	}

	for _, t := range sliceFromAny(raw, "tools") {
		tool := datatypes.ToolItem{
			Name:           coStr(t, "name"),
			Required:       coBool(t, "required"),
			EstimatedPrice: numFromAny(t, "estimatedPrice", "estimated_price"),
		}
		if tool.Name == "" {
			continue
		}
		result.Tools = append(result.Tools, tool)
	}

	for _, v := range sliceFromAny(raw, "videos") {
		video := datatypes.VideoRef{Title: coStr(v, "title"), URL: coStr(v, "url")}
		if video.URL == "" {
			continue
		}
		result.Videos = append(result.Videos, video)
	}

	return func(c *Context) { c.Design = result }, nil
}
