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

// Defensive coercion of model output. The model is not trusted to emit
// well-typed JSON: numbers arrive as strings, booleans as "yes", arrays
// as single values. Every accessor defaults on mismatch instead of
// failing, because a missing field must never sink a phase that
// otherwise succeeded.

import (
	"strconv"
	"strings"
)

// coStr reads a string field, accepting numbers rendered to strings.
func coStr(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// coNum reads a numeric field, parsing leniently: "12", "$12.50", and
// "12.5 USD" all yield a number. Defaults to 0.
func coNum(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		return parseLenientNumber(v)
	default:
		return 0
	}
}

// coBool reads a boolean field, accepting "true"/"yes"/"1" strings.
func coBool(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s == "true" || s == "yes" || s == "1"
	case float64:
		return v != 0
	default:
		return false
	}
}

// coInt reads an integer field with the same leniency as coNum.
func coInt(m map[string]any, key string) int {
	return int(coNum(m, key))
}

// coSlice reads an array field. A single non-array value is wrapped into
// a one-element slice, since models sometimes emit a lone object where a
// list was requested.
func coSlice(m map[string]any, key string) []any {
	switch v := m[key].(type) {
	case []any:
		return v
	case nil:
		return nil
	default:
		return []any{v}
	}
}

// coStrSlice reads an array of strings, skipping non-string elements
// that cannot be coerced.
func coStrSlice(m map[string]any, key string) []string {
	raw := coSlice(m, key)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				out = append(out, s)
			}
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	return out
}

// coMapSlice reads an array of objects, skipping elements that are not
// objects.
func coMapSlice(m map[string]any, key string) []map[string]any {
	raw := coSlice(m, key)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// parseLenientNumber extracts the first number from a string, tolerating
// currency symbols, commas, and trailing units.
func parseLenientNumber(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")

	start := -1
	end := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		isNumeric := (c >= '0' && c <= '9') || c == '.' ||
			(c == '-' && start < 0 && i+1 < len(s) && s[i+1] >= '0' && s[i+1] <= '9')
		if isNumeric {
			if start < 0 {
				start = i
			}
			end = i + 1
		} else if start >= 0 {
			break
		}
	}
	if start < 0 {
		return 0
	}

	n, err := strconv.ParseFloat(s[start:end], 64)
	if err != nil {
		return 0
	}
	return n
}

// firstNonEmpty returns the first key in keys that coerces to a
// non-empty string. Models alternate between snake_case and camelCase
// field names; phases probe both.
func firstNonEmpty(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := coStr(m, k); s != "" {
			return s
		}
	}
	return ""
}

// numFromAny probes multiple keys for a numeric field.
func numFromAny(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if _, present := m[k]; present {
			return coNum(m, k)
		}
	}
	return 0
}

// boolFromAny probes multiple keys for a boolean field.
func boolFromAny(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, present := m[k]; present {
			return coBool(m, k)
		}
	}
	return false
}

// sliceFromAny probes multiple keys for an object-array field.
func sliceFromAny(m map[string]any, keys ...string) []map[string]any {
	for _, k := range keys {
		if _, present := m[k]; present {
			return coMapSlice(m, k)
		}
	}
	return nil
}

// strSliceFromAny probes multiple keys for a string-array field.
func strSliceFromAny(m map[string]any, keys ...string) []string {
	for _, k := range keys {
		if _, present := m[k]; present {
			return coStrSlice(m, k)
		}
	}
	return nil
}
