// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package match

import "strings"

// DefaultSameItemThreshold is the similarity score at or above which two
// names are considered the same item.
const DefaultSameItemThreshold = 0.75

// prefixMatchMinLen is the minimum token length for prefix matching in
// token overlap. Short tokens must match exactly.
const prefixMatchMinLen = 4

// Similarity scores how likely two item names refer to the same thing,
// in [0, 1].
//
// Description:
//
//	Scores in priority order: exact match after normalization is 1.0;
//	full containment of one name in the other scores by length ratio,
//	capped below 1.0 so "drill" and "drill press" stay distinguishable;
//	otherwise a blend of token overlap and bigram Dice similarity.
func Similarity(a, b string) float64 {
	na := NormalizeItemName(a)
	nb := NormalizeItemName(b)

	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}

	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		shorter, longer := len(na), len(nb)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		return 0.4 + 0.6*float64(shorter)/float64(longer)
	}

	return 0.6*tokenOverlap(na, nb) + 0.4*bigramDice(na, nb)
}

// IsSameItem reports whether two names refer to the same item at the
// default threshold.
func IsSameItem(a, b string) bool {
	return IsSameItemThreshold(a, b, DefaultSameItemThreshold)
}

// IsSameItemThreshold reports whether Similarity(a, b) >= threshold.
func IsSameItemThreshold(a, b string, threshold float64) bool {
	return Similarity(a, b) >= threshold
}

// tokenOverlap counts matching whitespace-delimited tokens between two
// normalized names, as a fraction of the larger token count. Tokens of
// four or more characters may match by shared prefix ("galvanized" and
// "galvanised" count), shorter tokens only exactly.
func tokenOverlap(a, b string) float64 {
	tokensA := strings.Fields(a)
	tokensB := strings.Fields(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	used := make([]bool, len(tokensB))
	matched := 0
	for _, ta := range tokensA {
		for j, tb := range tokensB {
			if used[j] {
				continue
			}
			if tokensMatch(ta, tb) {
				used[j] = true
				matched++
				break
			}
		}
	}

	denom := len(tokensA)
	if len(tokensB) > denom {
		denom = len(tokensB)
	}
	return float64(matched) / float64(denom)
}

// tokensMatch reports whether two tokens count as overlapping.
func tokensMatch(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) >= prefixMatchMinLen && len(b) >= prefixMatchMinLen {
		return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
	}
	return false
}

// bigramDice computes the Dice coefficient over two-character shingles.
// Bigrams are taken within tokens, so word boundaries do not create
// spurious shingles.
func bigramDice(a, b string) float64 {
	bigramsA := bigrams(a)
	bigramsB := bigrams(b)
	if len(bigramsA) == 0 || len(bigramsB) == 0 {
		return 0
	}

	counts := make(map[string]int, len(bigramsA))
	for _, bg := range bigramsA {
		counts[bg]++
	}

	intersection := 0
	for _, bg := range bigramsB {
		if counts[bg] > 0 {
			counts[bg]--
			intersection++
		}
	}

	return 2.0 * float64(intersection) / float64(len(bigramsA)+len(bigramsB))
}

// bigrams returns all two-character shingles of each token in s.
func bigrams(s string) []string {
	var out []string
	for _, token := range strings.Fields(s) {
		runes := []rune(token)
		for i := 0; i+1 < len(runes); i++ {
			out = append(out, string(runes[i:i+2]))
		}
	}
	return out
}
