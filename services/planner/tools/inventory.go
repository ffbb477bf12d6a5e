// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianPlanner/services/llm"
	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
	"github.com/AleutianAI/AleutianPlanner/services/planner/match"
)

// InventoryReader is the store dependency for the inventory check tool.
type InventoryReader interface {
	ListInventory(ctx context.Context) ([]*datatypes.InventoryItem, error)
}

// InventoryCheckTool reports which of a list of items the user already
// owns, using fuzzy name matching so "10-mm drill bit" finds "10mm drill
// bits".
type InventoryCheckTool struct {
	inventory InventoryReader
}

// NewInventoryCheckTool creates the inventory check tool.
func NewInventoryCheckTool(inventory InventoryReader) *InventoryCheckTool {
	return &InventoryCheckTool{inventory: inventory}
}

func (t *InventoryCheckTool) Def() llm.ToolDef {
	return llm.ToolDef{
		Name:        "inventory_check",
		Description: "Check which of the given items the user already owns. Owned items should not be added to the shopping list.",
		InputSchema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.SchemaProp{
				"items": {
					Type:        "array",
					Description: "Item names to check against the user's inventory.",
					Items:       &llm.SchemaProp{Type: "string"},
				},
			},
			Required: []string{"items"},
		},
	}
}

func (t *InventoryCheckTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Items []string `json:"items"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("inventory_check: invalid input: %w", err)
	}
	if len(args.Items) == 0 {
		return "", fmt.Errorf("inventory_check: items must not be empty")
	}

	owned, err := t.inventory.ListInventory(ctx)
	if err != nil {
		return "", fmt.Errorf("inventory_check: reading inventory: %w", err)
	}

	var sb strings.Builder
	for _, wanted := range args.Items {
		matchName := ""
		for _, item := range owned {
			if match.IsSameItem(wanted, item.Name) {
				matchName = item.Name
				break
			}
		}
		if matchName != "" {
			fmt.Fprintf(&sb, "%s: OWNED (inventory: %q)\n", wanted, matchName)
		} else {
			fmt.Fprintf(&sb, "%s: not owned\n", wanted)
		}
	}
	return sb.String(), nil
}
