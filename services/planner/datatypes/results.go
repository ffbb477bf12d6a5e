// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// =============================================================================
// Research Phase Output
// =============================================================================

// CodeFinding is one applicable regulation surfaced during research.
type CodeFinding struct {
	Code    string `json:"code"`
	Summary string `json:"summary"`
	Source  string `json:"source,omitempty"`
}

// ResearchResult is the structured output of the research phase.
type ResearchResult struct {
	CodeFindings      []CodeFinding `json:"code_findings"`
	PermitSummary     string        `json:"permit_summary"`
	SafetyWarnings    []string      `json:"safety_warnings"`
	ProRequired       bool          `json:"pro_required"`
	ProRequiredReason string        `json:"pro_required_reason,omitempty"`
}

// =============================================================================
// Design Phase Output
// =============================================================================

// PlanStep is one ordered step in the execution plan. Steps are orderable
// by real-world dependency: a later step may depend on an earlier one.
type PlanStep struct {
	Number             int    `json:"number"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	TimeEstimate       string `json:"time_estimate,omitempty"`
	SkillLevel         string `json:"skill_level,omitempty"`
	SafetyNote         string `json:"safety_note,omitempty"`
	InspectionRequired bool   `json:"inspection_required"`
}

// Material is one line in the generated materials list with the model's
// per-unit price estimate.
type Material struct {
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	Unit      string  `json:"unit,omitempty"`
	UnitPrice float64 `json:"unit_price"`
	Notes     string  `json:"notes,omitempty"`
}

// ToolItem is one tool the plan calls for. Optional tools are excluded from
// the sourcing phase's tools total.
type ToolItem struct {
	Name           string  `json:"name"`
	Required       bool    `json:"required"`
	EstimatedPrice float64 `json:"estimated_price"`
}

// VideoRef is a recommended instructional video.
type VideoRef struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// DesignResult is the structured output of the design phase.
type DesignResult struct {
	Steps             []PlanStep `json:"steps"`
	Materials         []Material `json:"materials"`
	Tools             []ToolItem `json:"tools"`
	EstimatedDuration string     `json:"estimated_duration,omitempty"`
	SkillSummary      string     `json:"skill_summary,omitempty"`
	Videos            []VideoRef `json:"videos,omitempty"`
}

// =============================================================================
// Sourcing Phase Output
// =============================================================================

// Confidence is the coarse trust tier on a sourced price.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// PricedMaterial carries the model's estimate plus an optional verified
// best price. BestPrice of 0 means no verified price was found; callers
// fall back to AIEstimate.
type PricedMaterial struct {
	Name       string     `json:"name"`
	Quantity   float64    `json:"quantity"`
	Unit       string     `json:"unit,omitempty"`
	AIEstimate float64    `json:"ai_estimate"`
	BestPrice  float64    `json:"best_price,omitempty"`
	BestStore  string     `json:"best_store,omitempty"`
	Confidence Confidence `json:"confidence"`
}

// EffectivePrice is the verified price when present, otherwise the estimate.
func (m PricedMaterial) EffectivePrice() float64 {
	if m.BestPrice > 0 {
		return m.BestPrice
	}
	return m.AIEstimate
}

// OwnedItem links a materials-list name to an inventory record name.
type OwnedItem struct {
	MaterialName  string `json:"material_name"`
	InventoryName string `json:"inventory_name"`
}

// StoreSummary is a per-store rollup of verified prices.
type StoreSummary struct {
	Store     string  `json:"store"`
	ItemCount int     `json:"item_count"`
	Subtotal  float64 `json:"subtotal"`
}

// SourcingResult is the structured output of the sourcing phase.
// Totals are computed by the phase after coercion, not trusted from the
// model's own arithmetic.
type SourcingResult struct {
	Materials        []PricedMaterial `json:"materials"`
	Tools            []ToolItem       `json:"tools"`
	OwnedItems       []OwnedItem      `json:"owned_items"`
	Stores           []StoreSummary   `json:"stores"`
	MaterialsTotal   float64          `json:"materials_total"`
	ToolsTotal       float64          `json:"tools_total"`
	InventorySavings float64          `json:"inventory_savings"`
	TotalEstimate    float64          `json:"total_estimate"`
}

// =============================================================================
// Report Phase Output
// =============================================================================

// SectionKind identifies one of the five fixed report sections.
type SectionKind string

const (
	SectionOverview  SectionKind = "overview"
	SectionPlan      SectionKind = "plan"
	SectionMaterials SectionKind = "materials"
	SectionCost      SectionKind = "cost"
	SectionResources SectionKind = "resources"
)

// SectionOrder is the required order of report sections.
var SectionOrder = []SectionKind{
	SectionOverview, SectionPlan, SectionMaterials, SectionCost, SectionResources,
}

// ReportSection is one typed section of the final report.
type ReportSection struct {
	Kind  SectionKind `json:"kind"`
	Title string      `json:"title"`
	Body  string      `json:"body"`
}

// Report is the final rendered output of a run. Immutable once generated.
type Report struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	Title      string          `json:"title"`
	Summary    string          `json:"summary"`
	TotalCost  float64         `json:"total_cost"`
	Sections   []ReportSection `json:"sections"`
	CreatedAt  time.Time       `json:"created_at"`
	ShareToken string          `json:"share_token,omitempty"`
}
