// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"encoding/json"
	"log/slog"

	"github.com/AleutianAI/AleutianPlanner/services/llm"
)

// extractOutput applies the three-tier structured-output fallback.
//
// Description:
//
//	Tier one is an output-submission call captured during the loop. Tier
//	two checks the final model response for an output call the loop never
//	processed (timeout or iteration-cap exit). Tier three scans any
//	free text in the final response for a JSON object. The returned tier
//	label feeds metrics so degradation is visible in dashboards.
func extractOutput(captured map[string]any, final *llm.ChatResult, outputToolName string) (map[string]any, string) {
	if captured != nil {
		return captured, "captured"
	}

	if final != nil {
		for _, tc := range final.ToolCalls {
			if tc.Name != outputToolName {
				continue
			}
			if out := decodeOutputJSON([]byte(tc.InputString())); out != nil {
				return out, "final_response"
			}
		}
		if out := scanTextForJSON(final.Content); out != nil {
			return out, "regex"
		}
	}

	return nil, "none"
}

// decodeOutputJSON parses an output-tool input into a generic map.
// Malformed JSON returns nil rather than an error; the caller moves to
// the next tier.
func decodeOutputJSON(raw []byte) map[string]any {
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.Debug("output tool input not parseable", slog.String("error", err.Error()))
		return nil
	}
	return out
}

// scanTextForJSON finds the largest balanced top-level JSON object in
// free text. Models that run out of tool budget sometimes emit the
// result inline; this recovers it.
func scanTextForJSON(text string) map[string]any {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					if out := decodeOutputJSON([]byte(text[start : i+1])); out != nil {
						return out
					}
					start = -1
				}
			}
		}
	}
	return nil
}
