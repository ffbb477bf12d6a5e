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
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianPlanner/services/llm"
	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
	"github.com/AleutianAI/AleutianPlanner/services/planner/engine"
)

const reportSystemPrompt = `You are a technical writer producing a homeowner-facing project report. You are given the complete research, design, and sourcing results. Write exactly five sections in this order: overview, plan, materials, cost, resources. Use plain markdown in each section body. If the research flagged that a licensed professional is required, the overview must say so prominently. Do not write anything before calling the submission tool.`

// ReportPhase renders the final report from the three prior phase
// outputs. It declares no real tools.
type ReportPhase struct {
	budget Budget
}

func NewReportPhase(budget Budget) *ReportPhase {
	return &ReportPhase{budget: budget}
}

func (p *ReportPhase) Name() datatypes.PhaseName     { return datatypes.PhaseReport }
func (p *ReportPhase) Window() engine.ProgressWindow { return reportWindow }

func (p *ReportPhase) Build(snapshot Context) (engine.PhaseRequest, error) {
	for _, dep := range []struct {
		phase datatypes.PhaseName
		ok    bool
	}{
		{datatypes.PhaseResearch, snapshot.Research != nil},
		{datatypes.PhaseDesign, snapshot.Design != nil},
		{datatypes.PhaseSourcing, snapshot.Sourcing != nil},
	} {
		if !dep.ok {
			return engine.PhaseRequest{}, requirePredecessor(datatypes.PhaseReport, dep.phase)
		}
	}

	return engine.PhaseRequest{
		Phase:        datatypes.PhaseReport,
		SystemPrompt: reportSystemPrompt,
		UserPrompt:   reportPrompt(snapshot),
		Tools:        nil,
		OutputTool:   reportOutputTool(),
		Limits:       p.budget.limits(3),
		Window:       reportWindow,
	}, nil
}

// reportPrompt concatenates the prior phase outputs into one document
// for the model to summarize.
func reportPrompt(snapshot Context) string {
	run := snapshot.Run
	research := snapshot.Research
	design := snapshot.Design
	sourcing := snapshot.Sourcing

	var sb strings.Builder
	fmt.Fprintf(&sb, "Project: %s\nLocation: %s\n%s\n", run.Project, run.Location.String(), preferencesLine(run.Preferences))

	sb.WriteString("\n== Research ==\n")
	sb.WriteString(formatResearch(research))

	sb.WriteString("\n== Plan ==\n")
	fmt.Fprintf(&sb, "Estimated duration: %s\nSkill summary: %s\n", design.EstimatedDuration, design.SkillSummary)
	for _, step := range design.Steps {
		fmt.Fprintf(&sb, "%d. %s (%s, %s)\n   %s\n", step.Number, step.Title, step.TimeEstimate, step.SkillLevel, step.Description)
		if step.SafetyNote != "" {
			fmt.Fprintf(&sb, "   Safety: %s\n", step.SafetyNote)
		}
		if step.InspectionRequired {
			sb.WriteString("   Inspection required before proceeding.\n")
		}
	}
	for _, v := range design.Videos {
		fmt.Fprintf(&sb, "Video: %s (%s)\n", v.Title, v.URL)
	}

	sb.WriteString("\n== Sourcing ==\n")
	for _, m := range sourcing.Materials {
		line := fmt.Sprintf("- %s: %g %s at $%.2f each", m.Name, m.Quantity, m.Unit, m.EffectivePrice())
		if m.BestStore != "" {
			line += fmt.Sprintf(" (verified at %s)", m.BestStore)
		}
		sb.WriteString(line + "\n")
	}
	for _, t := range sourcing.Tools {
		req := "optional"
		if t.Required {
			req = "required"
		}
		fmt.Fprintf(&sb, "- Tool: %s (%s) $%.2f\n", t.Name, req, t.EstimatedPrice)
	}
	for _, o := range sourcing.OwnedItems {
		fmt.Fprintf(&sb, "- Already owned: %s (inventory: %s)\n", o.MaterialName, o.InventoryName)
	}
	for _, s := range sourcing.Stores {
		fmt.Fprintf(&sb, "- Store: %s, %d items, subtotal $%.2f\n", s.Store, s.ItemCount, s.Subtotal)
	}
	fmt.Fprintf(&sb, "Materials total: $%.2f\nTools total: $%.2f\nInventory savings: $%.2f\nTotal estimate: $%.2f\n",
		sourcing.MaterialsTotal, sourcing.ToolsTotal, sourcing.InventorySavings, sourcing.TotalEstimate)

	sb.WriteString("\nWrite the report and submit it.")
	return sb.String()
}

func reportOutputTool() llm.ToolDef {
	sectionProp := func(desc string) llm.SchemaProp {
		return llm.SchemaProp{
			Type:        "object",
			Description: desc,
			Properties: map[string]llm.SchemaProp{
				"title": {Type: "string"},
				"body":  {Type: "string", Description: "Markdown body."},
			},
		}
	}
	return outputTool("submit_report", "Submit the final project report.", llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProp{
			"title":     {Type: "string", Description: "Report title."},
			"summary":   {Type: "string", Description: "Two to three sentence summary."},
			"overview":  sectionProp("Project overview, feasibility, and any professional-required callout."),
			"plan":      sectionProp("The step-by-step plan."),
			"materials": sectionProp("The full materials and tools list."),
			"cost":      sectionProp("Cost breakdown and totals."),
			"resources": sectionProp("Codes, permits, videos, and further reading."),
		},
		Required: []string{"title", "summary", "overview", "plan", "materials", "cost", "resources"},
	})
}

// defaultSectionTitles backs any section the model submits without one.
var defaultSectionTitles = map[datatypes.SectionKind]string{
	datatypes.SectionOverview:  "Overview",
	datatypes.SectionPlan:      "Step-by-Step Plan",
	datatypes.SectionMaterials: "Materials & Tools",
	datatypes.SectionCost:      "Cost Breakdown",
	datatypes.SectionResources: "Resources",
}

func (p *ReportPhase) Coerce(ctx context.Context, raw map[string]any, snapshot Context) (Delta, error) {
	report := &datatypes.Report{
		ID:         uuid.NewString(),
		RunID:      snapshot.Run.ID,
		Title:      coStr(raw, "title"),
		Summary:    coStr(raw, "summary"),
		CreatedAt:  time.Now().UTC(),
		ShareToken: uuid.NewString(),
	}
	if report.Title == "" {
		report.Title = snapshot.Run.Project
	}
	if snapshot.Sourcing != nil {
		report.TotalCost = snapshot.Sourcing.TotalEstimate
	}

	for _, kind := range datatypes.SectionOrder {
		section := datatypes.ReportSection{Kind: kind}
		if m, ok := raw[string(kind)].(map[string]any); ok {
			section.Title = coStr(m, "title")
			section.Body = coStr(m, "body")
		}
		if section.Title == "" {
			section.Title = defaultSectionTitles[kind]
		}
		report.Sections = append(report.Sections, section)
	}

	ensureProCallout(report, snapshot.Research)

	return func(c *Context) { c.Report = report }, nil
}

// ensureProCallout guarantees the overview states the professional
// requirement when research flagged one, even if the model dropped it.
func ensureProCallout(report *datatypes.Report, research *datatypes.ResearchResult) {
	if research == nil || !research.ProRequired {
		return
	}
	overview := &report.Sections[0]
	if strings.Contains(strings.ToLower(overview.Body), "professional") {
		return
	}
	callout := "**A licensed professional is required for this project.**"
	if research.ProRequiredReason != "" {
		callout += " " + research.ProRequiredReason
	}
	if overview.Body == "" {
		overview.Body = callout
	} else {
		overview.Body = callout + "\n\n" + overview.Body
	}
}
