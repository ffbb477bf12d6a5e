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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
	"github.com/AleutianAI/AleutianPlanner/services/planner/pricing"
)

func testRun() datatypes.Run {
	return datatypes.Run{
		ID:      "run-1",
		Project: "Install a ceiling fan",
		Location: datatypes.Location{
			City:  "Austin",
			State: "TX",
			Zip:   "78701",
		},
	}
}

func testResearch() *datatypes.ResearchResult {
	return &datatypes.ResearchResult{
		CodeFindings: []datatypes.CodeFinding{
			{Code: "NEC 314.27(C)", Summary: "Fan-rated box required", Source: "nfpa.org"},
		},
		PermitSummary:  "No permit needed for like-for-like replacement.",
		SafetyWarnings: []string{"Turn off the breaker before starting."},
	}
}

func testDesign() *datatypes.DesignResult {
	return &datatypes.DesignResult{
		Steps: []datatypes.PlanStep{
			{Number: 1, Title: "Shut off power", Description: "Flip the breaker.", TimeEstimate: "5 min", SkillLevel: "beginner"},
		},
		Materials: []datatypes.Material{
			{Name: "ceiling fan", Quantity: 1, Unit: "each", UnitPrice: 120},
		},
		Tools: []datatypes.ToolItem{
			{Name: "voltage tester", Required: true, EstimatedPrice: 15},
		},
		EstimatedDuration: "2 hours",
		SkillSummary:      "beginner",
	}
}

func testSourcing() *datatypes.SourcingResult {
	return &datatypes.SourcingResult{
		Materials: []datatypes.PricedMaterial{
			{Name: "ceiling fan", Quantity: 1, AIEstimate: 120, Confidence: datatypes.ConfidenceLow},
		},
		Tools: []datatypes.ToolItem{
			{Name: "voltage tester", Required: true, EstimatedPrice: 15},
		},
		MaterialsTotal: 120,
		ToolsTotal:     15,
		TotalEstimate:  135,
	}
}

// =============================================================================
// Windows
// =============================================================================

func TestProgressWindowsTileFullBar(t *testing.T) {
	windows := []struct {
		base, span int
	}{
		{researchWindow.Base, researchWindow.Range},
		{designWindow.Base, designWindow.Range},
		{sourcingWindow.Base, sourcingWindow.Range},
		{reportWindow.Base, reportWindow.Range},
	}
	cursor := 0
	for _, w := range windows {
		assert.Equal(t, cursor, w.base)
		cursor += w.span
	}
	assert.Equal(t, 100, cursor)
}

func TestBudgetDrivesEngineLimits(t *testing.T) {
	budget := Budget{
		PhaseTimeout:  2 * time.Minute,
		ToolTimeout:   5 * time.Second,
		MaxIterations: 4,
	}
	p := NewResearchPhase(nil, budget)
	req, err := p.Build(Context{Run: testRun()})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, req.Limits.Timeout)
	assert.Equal(t, 5*time.Second, req.Limits.ToolTimeout)
	// The configured ceiling undercuts the phase's own cap of 6.
	assert.Equal(t, 4, req.Limits.MaxIterations)

	// A generous ceiling leaves the phase's own cap in place.
	wide := NewResearchPhase(nil, Budget{MaxIterations: 20})
	req, err = wide.Build(Context{Run: testRun()})
	require.NoError(t, err)
	assert.Equal(t, 6, req.Limits.MaxIterations)
}

// =============================================================================
// Research
// =============================================================================

func TestResearchCoerce(t *testing.T) {
	p := NewResearchPhase(nil, Budget{PhaseTimeout: time.Minute})
	raw := map[string]any{
		"codeFindings": []any{
			map[string]any{"code": "NEC 314.27", "summary": "Fan-rated box", "source": "nfpa.org"},
			map[string]any{"code": "", "summary": ""}, // empty finding dropped
		},
		"permit_summary": "Permit required for new circuits.",
		"safetyWarnings": "Turn off the breaker.", // single value wrapped
		"proRequired":    "yes",
		"proRequiredReason": "New circuit work requires a licensed electrician.",
	}

	delta, err := p.Coerce(context.Background(), raw, Context{Run: testRun()})
	require.NoError(t, err)

	var c Context
	delta(&c)
	require.NotNil(t, c.Research)
	assert.Len(t, c.Research.CodeFindings, 1)
	assert.Equal(t, "Permit required for new circuits.", c.Research.PermitSummary)
	assert.Equal(t, []string{"Turn off the breaker."}, c.Research.SafetyWarnings)
	assert.True(t, c.Research.ProRequired)
}

func TestResearchCoerceEmptyOutput(t *testing.T) {
	p := NewResearchPhase(nil, Budget{PhaseTimeout: time.Minute})
	delta, err := p.Coerce(context.Background(), map[string]any{}, Context{Run: testRun()})
	require.NoError(t, err)

	var c Context
	delta(&c)
	require.NotNil(t, c.Research)
	assert.Empty(t, c.Research.CodeFindings)
	assert.False(t, c.Research.ProRequired)
}

// =============================================================================
// Design
// =============================================================================

func TestDesignBuildRequiresResearch(t *testing.T) {
	p := NewDesignPhase(nil, Budget{PhaseTimeout: time.Minute})
	_, err := p.Build(Context{Run: testRun()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "research")
}

func TestDesignCoerce(t *testing.T) {
	p := NewDesignPhase(nil, Budget{PhaseTimeout: time.Minute})
	raw := map[string]any{
		"steps": []any{
			map[string]any{"title": "Shut off power", "description": "Flip the breaker.", "timeEstimate": "5 min", "skillLevel": "beginner"},
			map[string]any{"number": float64(7), "title": "Mount the fan", "description": "Attach to the box.", "inspectionRequired": true},
		},
		"materials": []any{
			map[string]any{"name": "ceiling fan", "quantity": "1", "unit": "each", "unitPrice": "$120"},
			map[string]any{"name": "wire nuts", "unit": "pack"}, // quantity defaults to 1
			map[string]any{"unit": "each"},                      // unnamed dropped
		},
		"tools": []any{
			map[string]any{"name": "voltage tester", "required": true, "estimatedPrice": float64(15)},
		},
		"estimatedDuration": "2 hours",
		"videos": []any{
			map[string]any{"title": "Fan install walkthrough", "url": "https://example.com/v"},
			map[string]any{"title": "no link"}, // dropped
		},
	}

	delta, err := p.Coerce(context.Background(), raw, Context{Run: testRun(), Research: testResearch()})
	require.NoError(t, err)

	var c Context
	delta(&c)
	require.NotNil(t, c.Design)
	require.Len(t, c.Design.Steps, 2)
	assert.Equal(t, 1, c.Design.Steps[0].Number)
	assert.Equal(t, 7, c.Design.Steps[1].Number)
	assert.True(t, c.Design.Steps[1].InspectionRequired)

	require.Len(t, c.Design.Materials, 2)
	assert.Equal(t, 120.0, c.Design.Materials[0].UnitPrice)
	assert.Equal(t, 1.0, c.Design.Materials[1].Quantity)

	require.Len(t, c.Design.Videos, 1)
	assert.Equal(t, "2 hours", c.Design.EstimatedDuration)
}

// =============================================================================
// Sourcing
// =============================================================================

func newTestSourcingPhase() *SourcingPhase {
	return NewSourcingPhase(nil, nil, pricing.LookupOptions{}, false, Budget{PhaseTimeout: time.Minute})
}

func sourcingSnapshot() Context {
	return Context{Run: testRun(), Research: testResearch(), Design: testDesign()}
}

func TestSourcingBuildRequiresPredecessors(t *testing.T) {
	p := newTestSourcingPhase()

	_, err := p.Build(Context{Run: testRun()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "research")

	_, err = p.Build(Context{Run: testRun(), Research: testResearch()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "design")
}

func TestSourcingCoerceComputesTotals(t *testing.T) {
	p := newTestSourcingPhase()
	raw := map[string]any{
		"materials": []any{
			map[string]any{"name": "ceiling fan", "quantity": float64(1), "unit": "each", "aiEstimate": float64(120)},
			map[string]any{"name": "wire nuts", "quantity": float64(2), "unit": "pack", "ai_estimate": "$4.50"},
		},
		"tools": []any{
			map[string]any{"name": "voltage tester", "required": true, "estimatedPrice": float64(15)},
			map[string]any{"name": "step ladder", "required": false, "estimatedPrice": float64(60)},
		},
		// totalEstimate deliberately absent; computed instead.
	}

	delta, err := p.Coerce(context.Background(), raw, sourcingSnapshot())
	require.NoError(t, err)

	var c Context
	delta(&c)
	require.NotNil(t, c.Sourcing)
	assert.Equal(t, 129.0, c.Sourcing.MaterialsTotal) // 120 + 2*4.50
	assert.Equal(t, 15.0, c.Sourcing.ToolsTotal)      // required only
	assert.Equal(t, 0.0, c.Sourcing.InventorySavings)
	assert.Equal(t, 144.0, c.Sourcing.TotalEstimate)
}

func TestSourcingCoerceMissingTotalIsZeroNotError(t *testing.T) {
	p := newTestSourcingPhase()

	delta, err := p.Coerce(context.Background(), map[string]any{}, sourcingSnapshot())
	require.NoError(t, err)

	var c Context
	delta(&c)
	require.NotNil(t, c.Sourcing)
	assert.Equal(t, 0.0, c.Sourcing.TotalEstimate)
}

func TestSourcingCoerceInventorySavings(t *testing.T) {
	p := newTestSourcingPhase()
	raw := map[string]any{
		"materials": []any{
			map[string]any{"name": "ceiling fan", "quantity": float64(1), "aiEstimate": float64(120)},
		},
		"tools": []any{
			map[string]any{"name": "voltage testers", "required": true, "estimatedPrice": float64(15)},
		},
		"ownedItems": []any{
			// Fuzzy match against the tools list despite the plural.
			map[string]any{"materialName": "voltage tester", "inventoryName": "Klein voltage tester"},
		},
		"stores": []any{
			map[string]any{"store": "Home Depot", "itemCount": float64(2), "subtotal": float64(135)},
		},
	}

	delta, err := p.Coerce(context.Background(), raw, sourcingSnapshot())
	require.NoError(t, err)

	var c Context
	delta(&c)
	require.NotNil(t, c.Sourcing)
	assert.Equal(t, 15.0, c.Sourcing.InventorySavings)
	assert.Equal(t, 120.0, c.Sourcing.TotalEstimate) // 120 + 15 - 15
	require.Len(t, c.Sourcing.Stores, 1)
	assert.Equal(t, "Home Depot", c.Sourcing.Stores[0].Store)
}

func TestSourcingCoerceNeverNegativeTotal(t *testing.T) {
	p := newTestSourcingPhase()
	raw := map[string]any{
		"materials": []any{
			map[string]any{"name": "sandpaper", "quantity": float64(1), "aiEstimate": float64(5)},
		},
		"tools": []any{},
		"ownedItems": []any{
			map[string]any{"materialName": "sandpaper", "inventoryName": "sandpaper"},
			map[string]any{"materialName": "sandpaper", "inventoryName": "sandpaper sheets"},
		},
	}

	delta, err := p.Coerce(context.Background(), raw, sourcingSnapshot())
	require.NoError(t, err)

	var c Context
	delta(&c)
	assert.Equal(t, 0.0, c.Sourcing.TotalEstimate)
}

// =============================================================================
// Report
// =============================================================================

func reportSnapshot(proRequired bool) Context {
	research := testResearch()
	research.ProRequired = proRequired
	if proRequired {
		research.ProRequiredReason = "Panel work requires a licensed electrician."
	}
	return Context{
		Run:      testRun(),
		Research: research,
		Design:   testDesign(),
		Sourcing: testSourcing(),
	}
}

func TestReportBuildRequiresAllPredecessors(t *testing.T) {
	p := NewReportPhase(Budget{PhaseTimeout: time.Minute})

	_, err := p.Build(Context{Run: testRun(), Research: testResearch(), Design: testDesign()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sourcing")

	req, err := p.Build(reportSnapshot(false))
	require.NoError(t, err)
	assert.Nil(t, req.Tools)
	assert.Equal(t, "submit_report", req.OutputTool.Name)
}

func TestReportCoerceFiveOrderedSections(t *testing.T) {
	p := NewReportPhase(Budget{PhaseTimeout: time.Minute})
	raw := map[string]any{
		"title":   "Ceiling Fan Installation Plan",
		"summary": "A beginner-friendly fan swap.",
		"overview": map[string]any{"title": "Overview", "body": "Straightforward replacement."},
		"plan":     map[string]any{"body": "1. Shut off power."}, // title defaulted
		"cost":     map[string]any{"title": "Costs", "body": "$135 all in."},
		// materials and resources missing entirely; still emitted.
	}

	delta, err := p.Coerce(context.Background(), raw, reportSnapshot(false))
	require.NoError(t, err)

	var c Context
	delta(&c)
	require.NotNil(t, c.Report)
	require.Len(t, c.Report.Sections, 5)
	for i, kind := range datatypes.SectionOrder {
		assert.Equal(t, kind, c.Report.Sections[i].Kind)
		assert.NotEmpty(t, c.Report.Sections[i].Title)
	}
	assert.Equal(t, "Step-by-Step Plan", c.Report.Sections[1].Title)
	assert.Equal(t, 135.0, c.Report.TotalCost)
	assert.NotEmpty(t, c.Report.ID)
	assert.NotEmpty(t, c.Report.ShareToken)
	assert.Equal(t, "run-1", c.Report.RunID)
}

func TestReportCoerceProRequiredCallout(t *testing.T) {
	p := NewReportPhase(Budget{PhaseTimeout: time.Minute})
	raw := map[string]any{
		"title":    "Panel Upgrade",
		"summary":  "Service panel replacement.",
		"overview": map[string]any{"title": "Overview", "body": "A big job."},
	}

	delta, err := p.Coerce(context.Background(), raw, reportSnapshot(true))
	require.NoError(t, err)

	var c Context
	delta(&c)
	body := strings.ToLower(c.Report.Sections[0].Body)
	assert.Contains(t, body, "professional")
	assert.Contains(t, c.Report.Sections[0].Body, "licensed electrician")
}

func TestReportCoerceCalloutNotDuplicated(t *testing.T) {
	p := NewReportPhase(Budget{PhaseTimeout: time.Minute})
	raw := map[string]any{
		"title":    "Panel Upgrade",
		"summary":  "Service panel replacement.",
		"overview": map[string]any{"body": "A licensed professional must perform this work."},
	}

	delta, err := p.Coerce(context.Background(), raw, reportSnapshot(true))
	require.NoError(t, err)

	var c Context
	delta(&c)
	assert.Equal(t, "A licensed professional must perform this work.", c.Report.Sections[0].Body)
}

func TestReportCoerceDefaultsTitleToProject(t *testing.T) {
	p := NewReportPhase(Budget{PhaseTimeout: time.Minute})

	delta, err := p.Coerce(context.Background(), map[string]any{}, reportSnapshot(false))
	require.NoError(t, err)

	var c Context
	delta(&c)
	assert.Equal(t, "Install a ceiling fan", c.Report.Title)
}

// =============================================================================
// Coercion helpers
// =============================================================================

func TestParseLenientNumber(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"12", 12},
		{"$12.50", 12.5},
		{"1,200", 1200},
		{"12.5 USD", 12.5},
		{"about 40 dollars", 40},
		{"n/a", 0},
		{"", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, parseLenientNumber(tc.in), "input %q", tc.in)
	}
}

func TestSliceFromAnyWrapsSingleValue(t *testing.T) {
	m := map[string]any{"items": map[string]any{"name": "hammer"}}
	got := sliceFromAny(m, "items")
	require.Len(t, got, 1)
	assert.Equal(t, "hammer", got[0]["name"])
}

func TestFirstNonEmptyProbesAlternateKeys(t *testing.T) {
	m := map[string]any{"permit_summary": "none needed"}
	assert.Equal(t, "none needed", firstNonEmpty(m, "permitSummary", "permit_summary"))
	assert.Equal(t, "", firstNonEmpty(m, "missing", "alsoMissing"))
}
