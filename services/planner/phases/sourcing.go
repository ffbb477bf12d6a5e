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
	"github.com/AleutianAI/AleutianPlanner/services/planner/match"
	"github.com/AleutianAI/AleutianPlanner/services/planner/pricing"
	"github.com/AleutianAI/AleutianPlanner/services/planner/tools"
)

const sourcingSystemPrompt = `You are a purchasing assistant finalizing a shopping list. Check the user's inventory before pricing anything they may already own. Carry over the designed materials list with its per-unit estimates; do not invent new materials. For each material give your best per-unit price estimate. Note which local stores carry the bulk of the list. Submit the complete sourcing result when done.`

// SourcingPhase verifies prices, matches owned items, and computes the
// cost totals.
type SourcingPhase struct {
	search     *tools.BraveSearchClient
	inventory  tools.InventoryReader
	lookupOpts pricing.LookupOptions
	lookupOn   bool
	budget     Budget
}

// NewSourcingPhase creates the sourcing phase definition. lookupOn
// false disables live price lookups; the model's estimates stand.
func NewSourcingPhase(search *tools.BraveSearchClient, inventory tools.InventoryReader, lookupOpts pricing.LookupOptions, lookupOn bool, budget Budget) *SourcingPhase {
	return &SourcingPhase{
		search:     search,
		inventory:  inventory,
		lookupOpts: lookupOpts,
		lookupOn:   lookupOn,
		budget:     budget,
	}
}

func (p *SourcingPhase) Name() datatypes.PhaseName     { return datatypes.PhaseSourcing }
func (p *SourcingPhase) Window() engine.ProgressWindow { return sourcingWindow }

func (p *SourcingPhase) Build(snapshot Context) (engine.PhaseRequest, error) {
	if snapshot.Research == nil {
		return engine.PhaseRequest{}, requirePredecessor(datatypes.PhaseSourcing, datatypes.PhaseResearch)
	}
	if snapshot.Design == nil {
		return engine.PhaseRequest{}, requirePredecessor(datatypes.PhaseSourcing, datatypes.PhaseDesign)
	}
	run := snapshot.Run

	registry := tools.NewRegistry(
		tools.NewInventoryCheckTool(p.inventory),
		tools.NewStoreSearchTool(p.search, run.Location),
	)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Project: %s\nLocation: %s\n%s\n\n", run.Project, run.Location.String(), preferencesLine(run.Preferences))
	sb.WriteString("Designed materials list:\n")
	for _, m := range snapshot.Design.Materials {
		fmt.Fprintf(&sb, "- %s: %g %s at ~$%.2f per unit\n", m.Name, m.Quantity, m.Unit, m.UnitPrice)
	}
	sb.WriteString("\nDesigned tools list:\n")
	for _, t := range snapshot.Design.Tools {
		required := "optional"
		if t.Required {
			required = "required"
		}
		fmt.Fprintf(&sb, "- %s (%s) ~$%.2f\n", t.Name, required, t.EstimatedPrice)
	}
	sb.WriteString("\nCheck the inventory, find local availability, and submit the sourcing result.")

	return engine.PhaseRequest{
		Phase:        datatypes.PhaseSourcing,
		SystemPrompt: sourcingSystemPrompt,
		UserPrompt:   sb.String(),
		Tools:        registry,
		OutputTool:   sourcingOutputTool(),
		Limits:       p.budget.limits(8),
		Window:       sourcingWindow,
	}, nil
}

func sourcingOutputTool() llm.ToolDef {
	return outputTool("submit_sourcing", "Submit the sourcing result.", llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProp{
			"materials": {
				Type:        "array",
				Description: "The materials list with per-unit price estimates.",
				Items: &llm.SchemaProp{
					Type: "object",
					Properties: map[string]llm.SchemaProp{
						"name":       {Type: "string"},
						"quantity":   {Type: "number"},
						"unit":       {Type: "string"},
						"aiEstimate": {Type: "number", Description: "Your per-unit price estimate in USD."},
					},
				},
			},
			"tools": {
				Type:        "array",
				Description: "The tools list, excluding owned tools.",
				Items: &llm.SchemaProp{
					Type: "object",
					Properties: map[string]llm.SchemaProp{
						"name":           {Type: "string"},
						"required":       {Type: "boolean"},
						"estimatedPrice": {Type: "number"},
					},
				},
			},
			"ownedItems": {
				Type:        "array",
				Description: "Items matched to the user's inventory.",
				Items: &llm.SchemaProp{
					Type: "object",
					Properties: map[string]llm.SchemaProp{
						"materialName":  {Type: "string", Description: "Name from the materials or tools list."},
						"inventoryName": {Type: "string", Description: "Name as it appears in inventory."},
					},
				},
			},
			"stores": {
				Type:        "array",
				Description: "Local stores carrying parts of the list.",
				Items: &llm.SchemaProp{
					Type: "object",
					Properties: map[string]llm.SchemaProp{
						"store":     {Type: "string"},
						"itemCount": {Type: "number"},
						"subtotal":  {Type: "number"},
					},
				},
			},
			"totalEstimate": {Type: "number", Description: "Your total cost estimate in USD."},
		},
		Required: []string{"materials", "tools"},
	})
}

func (p *SourcingPhase) Coerce(ctx context.Context, raw map[string]any, snapshot Context) (Delta, error) {
	result := &datatypes.SourcingResult{
		TotalEstimate: numFromAny(raw, "totalEstimate", "total_estimate"),
	}

	for _, m := range sliceFromAny(raw, "materials") {
		material := datatypes.PricedMaterial{
			Name:       coStr(m, "name"),
			Quantity:   coNum(m, "quantity"),
			Unit:       coStr(m, "unit"),
			AIEstimate: numFromAny(m, "aiEstimate", "ai_estimate", "unitPrice", "unit_price"),
			Confidence: datatypes.ConfidenceLow,
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

	for _, o := range sliceFromAny(raw, "ownedItems", "owned_items") {
		owned := datatypes.OwnedItem{
			MaterialName:  firstNonEmpty(o, "materialName", "material_name"),
			InventoryName: firstNonEmpty(o, "inventoryName", "inventory_name"),
		}
		if owned.MaterialName == "" {
			continue
		}
		result.OwnedItems = append(result.OwnedItems, owned)
	}

	for _, s := range sliceFromAny(raw, "stores") {
		store := datatypes.StoreSummary{
			Store:     coStr(s, "store"),
			ItemCount: coInt(s, "itemCount"),
			Subtotal:  coNum(s, "subtotal"),
		}
		if store.Store == "" {
			continue
		}
		result.Stores = append(result.Stores, store)
	}

	// Live price verification. Every failure mode keeps the estimates.
	if p.lookupOn && p.search != nil {
		result.Materials, _ = pricing.LookupMaterialPrices(ctx, p.search, result.Materials, p.lookupOpts)
	}

	computeTotals(result)

	return func(c *Context) { c.Sourcing = result }, nil
}

// computeTotals derives the cost rollups. The model's own arithmetic is
// never trusted; only its line items are.
func computeTotals(result *datatypes.SourcingResult) {
	var materialsTotal float64
	for _, m := range result.Materials {
		materialsTotal += m.Quantity * m.EffectivePrice()
	}
	result.MaterialsTotal = round2(materialsTotal)

	var toolsTotal float64
	for _, t := range result.Tools {
		if t.Required {
			toolsTotal += t.EstimatedPrice
		}
	}
	result.ToolsTotal = round2(toolsTotal)

	// Inventory savings: the cost of owned items the user will not buy.
	var savings float64
	for _, owned := range result.OwnedItems {
		if price, ok := priceForItem(result, owned.MaterialName); ok {
			savings += price
		}
	}
	result.InventorySavings = round2(savings)

	total := result.MaterialsTotal + result.ToolsTotal - result.InventorySavings
	if total < 0 {
		total = 0
	}
	result.TotalEstimate = round2(total)
}

// priceForItem finds the line-item price for an owned-item name via
// fuzzy matching against materials first, then tools.
func priceForItem(result *datatypes.SourcingResult, name string) (float64, bool) {
	for _, m := range result.Materials {
		if match.IsSameItem(name, m.Name) {
			return m.Quantity * m.EffectivePrice(), true
		}
	}
	for _, t := range result.Tools {
		if match.IsSameItem(name, t.Name) {
			return t.EstimatedPrice, true
		}
	}
	return 0, false
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
