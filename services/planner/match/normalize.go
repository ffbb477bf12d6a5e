// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package match compares hardware-item names for inventory deduplication.
// The sourcing phase uses it to decide whether a generated material or tool
// name refers to something the user already owns, despite the cosmetic
// variation in how models and humans write item names ("10-mm drill bit"
// vs "10mm drill bits").
package match

import "strings"

// fractionReplacements maps common unit fractions to decimals. Applied
// before separator stripping so "1/2" does not degrade to "12".
// Ordered longest-first so "1/16" is not partially matched by "1/1".
var fractionReplacements = []struct{ from, to string }{
	{"1/16", "0.0625"},
	{"3/16", "0.1875"},
	{"5/16", "0.3125"},
	{"7/16", "0.4375"},
	{"1/8", "0.125"},
	{"3/8", "0.375"},
	{"5/8", "0.625"},
	{"7/8", "0.875"},
	{"1/4", "0.25"},
	{"3/4", "0.75"},
	{"1/3", "0.33"},
	{"2/3", "0.67"},
	{"1/2", "0.5"},
}

// fillerPrefixes are packaging phrases that carry no identity. Stripped
// anywhere in the name, not just at the start, so "screwdriver set of 6"
// still loses the phrase.
var fillerPrefixes = []string{
	"set of",
	"pack of",
	"pair of",
	"box of",
	"bag of",
	"roll of",
	"tube of",
	"can of",
	"sheet of",
	"piece of",
}

// NormalizeItemName canonicalizes an item name for comparison.
//
// Description:
//
//	Lowercases and collapses whitespace, converts unit fractions to
//	decimals, strips packaging filler phrases, removes hyphen and slash
//	separators, and singularizes simple plurals. Words shorter than four
//	characters are never singularized, so "bus" and "gas" survive.
func NormalizeItemName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.Join(strings.Fields(s), " ")

	// Fractions before separator stripping.
	for _, fr := range fractionReplacements {
		s = strings.ReplaceAll(s, fr.from, fr.to)
	}

	for _, filler := range fillerPrefixes {
		s = strings.ReplaceAll(s, filler+" ", "")
		s = strings.TrimSuffix(s, " "+filler)
	}

	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "/", "")
	s = strings.Join(strings.Fields(s), " ")

	words := strings.Fields(s)
	for i, w := range words {
		words[i] = singularize(w)
	}
	return strings.Join(words, " ")
}

// singularize strips simple plural suffixes from words of four or more
// characters. Not a stemmer; just enough for hardware vocabulary.
func singularize(w string) string {
	if len(w) < 4 {
		return w
	}
	switch {
	case strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "sses"), strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"), strings.HasSuffix(w, "xes"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ss"):
		// "glass", "brass": already singular.
		return w
	case strings.HasSuffix(w, "s"):
		return w[:len(w)-1]
	default:
		return w
	}
}
