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

	"github.com/AleutianAI/AleutianPlanner/services/llm"
	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
	"github.com/AleutianAI/AleutianPlanner/services/planner/engine"
	"github.com/AleutianAI/AleutianPlanner/services/planner/tools"
)

const researchSystemPrompt = `You are a licensed contractor's research assistant. You investigate building codes, permit requirements, and safety considerations for home improvement projects. Be conservative: when a project touches electrical service panels, gas lines, structural members, or main water shutoffs, flag that a licensed professional is required and say why. Use at most 3-4 tool calls before submitting. Cite code sections when the search results name them; never invent section numbers.`

// ResearchPhase investigates regulations, permits, and safety for the
// project.
type ResearchPhase struct {
	search *tools.BraveSearchClient
	budget Budget
}

// NewResearchPhase creates the research phase definition.
func NewResearchPhase(search *tools.BraveSearchClient, budget Budget) *ResearchPhase {
	return &ResearchPhase{search: search, budget: budget}
}

func (p *ResearchPhase) Name() datatypes.PhaseName       { return datatypes.PhaseResearch }
func (p *ResearchPhase) Window() engine.ProgressWindow   { return researchWindow }

func (p *ResearchPhase) Build(snapshot Context) (engine.PhaseRequest, error) {
	run := snapshot.Run
	registry := tools.NewRegistry(
		tools.NewNationalCodeLookupTool(p.search),
		tools.NewLocalCodeLookupTool(p.search, run.Location),
		tools.NewWebSearchTool(p.search),
	)

	userPrompt := fmt.Sprintf(
		"Project: %s\nLocation: %s\n%s\n\nResearch the applicable building codes, permit requirements, and safety considerations for this project, then submit your findings.",
		run.Project, run.Location.String(), preferencesLine(run.Preferences),
	)

	return engine.PhaseRequest{
		Phase:        datatypes.PhaseResearch,
		SystemPrompt: researchSystemPrompt,
		UserPrompt:   userPrompt,
		Tools:        registry,
		OutputTool:   researchOutputTool(),
		Limits:       p.budget.limits(6),
		Window:       researchWindow,
	}, nil
}

func researchOutputTool() llm.ToolDef {
	return outputTool("submit_research", "Submit the research findings.", llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProp{
			"codeFindings": {
				Type:        "array",
				Description: "Applicable code requirements found.",
				Items: &llm.SchemaProp{
					Type: "object",
					Properties: map[string]llm.SchemaProp{
						"code":    {Type: "string", Description: "Code section or name."},
						"summary": {Type: "string", Description: "What it requires."},
						"source":  {Type: "string", Description: "Where this was found."},
					},
				},
			},
			"permitSummary":     {Type: "string", Description: "Whether permits are needed and how to get them."},
			"safetyWarnings":    {Type: "array", Description: "Safety considerations.", Items: &llm.SchemaProp{Type: "string"}},
			"proRequired":       {Type: "boolean", Description: "Whether a licensed professional is required."},
			"proRequiredReason": {Type: "string", Description: "Why a professional is required, if so."},
		},
		Required: []string{"permitSummary", "proRequired"},
	})
}

func (p *ResearchPhase) Coerce(ctx context.Context, raw map[string]any, snapshot Context) (Delta, error) {
	result := &datatypes.ResearchResult{
		PermitSummary:     firstNonEmpty(raw, "permitSummary", "permit_summary"),
		SafetyWarnings:    strSliceFromAny(raw, "safetyWarnings", "safety_warnings"),
		ProRequired:       boolFromAny(raw, "proRequired", "pro_required"),
		ProRequiredReason: firstNonEmpty(raw, "proRequiredReason", "pro_required_reason"),
	}

	for _, f := range sliceFromAny(raw, "codeFindings", "code_findings") {
		finding := datatypes.CodeFinding{
			Code:    coStr(f, "code"),
			Summary: coStr(f, "summary"),
			Source:  coStr(f, "source"),
		}
		if finding.Code == "" && finding.Summary == "" {
			continue
		}
		result.CodeFindings = append(result.CodeFindings, finding)
	}

	return func(c *Context) { c.Research = result }, nil
}
