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

	"github.com/AleutianAI/AleutianPlanner/services/llm"
)

// wireGaugeEntry is one row of the ampacity table: minimum copper AWG for
// a circuit amperage at typical residential run lengths (NEC 310.16,
// 75°C column, simplified for branch circuits).
type wireGaugeEntry struct {
	maxAmps int
	gauge   string
}

// wireGaugeTable is ordered by ascending ampacity.
var wireGaugeTable = []wireGaugeEntry{
	{15, "14 AWG"},
	{20, "12 AWG"},
	{30, "10 AWG"},
	{40, "8 AWG"},
	{55, "6 AWG"},
	{70, "4 AWG"},
	{85, "3 AWG"},
	{95, "2 AWG"},
	{110, "1 AWG"},
}

// longRunFeet is the distance beyond which one gauge size larger is
// recommended to limit voltage drop.
const longRunFeet = 100

// WireGaugeTool computes the minimum copper wire gauge for a circuit.
// Pure calculation, no side effects.
type WireGaugeTool struct{}

// NewWireGaugeTool creates the wire gauge calculator.
func NewWireGaugeTool() *WireGaugeTool { return &WireGaugeTool{} }

func (t *WireGaugeTool) Def() llm.ToolDef {
	return llm.ToolDef{
		Name:        "wire_gauge",
		Description: "Calculate the minimum copper wire gauge (AWG) for a circuit amperage, with a long-run voltage drop adjustment.",
		InputSchema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.SchemaProp{
				"amps":     {Type: "number", Description: "Circuit breaker amperage."},
				"run_feet": {Type: "number", Description: "One-way run length in feet. Optional."},
			},
			Required: []string{"amps"},
		},
	}
}

func (t *WireGaugeTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Amps    float64 `json:"amps"`
		RunFeet float64 `json:"run_feet"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("wire_gauge: invalid input: %w", err)
	}
	if args.Amps <= 0 {
		return "", fmt.Errorf("wire_gauge: amps must be positive, got %g", args.Amps)
	}

	idx := -1
	for i, entry := range wireGaugeTable {
		if args.Amps <= float64(entry.maxAmps) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", fmt.Errorf("wire_gauge: %g amps exceeds residential branch circuit range; consult an electrician", args.Amps)
	}

	note := ""
	if args.RunFeet > longRunFeet && idx+1 < len(wireGaugeTable) {
		idx++
		note = fmt.Sprintf(" (upsized for voltage drop over %g ft run)", args.RunFeet)
	}

	return fmt.Sprintf("Minimum copper wire gauge for a %g amp circuit: %s%s. Verify against local code; aluminum wiring requires larger gauge.",
		args.Amps, wireGaugeTable[idx].gauge, note), nil
}
