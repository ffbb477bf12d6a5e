// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pricing turns web search results into per-unit material price
// estimates. Search data is noisy (bundle prices, shipping fees, wrong
// products), so the aggregator takes at most one price per result, rejects
// statistical outliers, and discards whole lookups that stay too noisy.
package pricing

import (
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
)

// SearchResult is one raw web search hit for a material query.
type SearchResult struct {
	Title       string
	Description string
	Snippets    []string
	URL         string
}

// Aggregate is the outcome of aggregating one material's search results.
type Aggregate struct {
	// Estimate is the selected per-unit price: the lesser of the mean and
	// the median of the filtered sample.
	Estimate float64

	// Store is where the lowest filtered price was seen.
	Store string

	// SampleSize is the number of prices that survived filtering.
	SampleSize int

	// Confidence grades the sample: high for 4+, medium for 2-3, low for 1.
	Confidence datatypes.Confidence
}

// cvThreshold is the coefficient-of-variation cutoff above which a
// filtered sample is judged too noisy to trust.
const cvThreshold = 0.8

// priceRegex matches a dollar amount like $12, $1,299.99, or $ 4.50.
var priceRegex = regexp.MustCompile(`\$\s?(\d{1,5}(?:,\d{3})*(?:\.\d{1,2})?)`)

// =============================================================================
// Price Extraction
// =============================================================================

// ExtractPrice pulls at most one price from a search result.
//
// Description:
//
//	Checks the title first, then the description, then any extra
//	snippets, returning the first dollar amount found. One price per
//	result avoids counting bundle or shipping prices that share a page
//	with the product price.
func ExtractPrice(r SearchResult) (float64, bool) {
	if p, ok := firstPrice(r.Title); ok {
		return p, true
	}
	if p, ok := firstPrice(r.Description); ok {
		return p, true
	}
	for _, snippet := range r.Snippets {
		if p, ok := firstPrice(snippet); ok {
			return p, true
		}
	}
	return 0, false
}

func firstPrice(text string) (float64, bool) {
	m := priceRegex.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	raw := strings.ReplaceAll(m[1], ",", "")
	p, err := strconv.ParseFloat(raw, 64)
	if err != nil || p <= 0 {
		return 0, false
	}
	return p, true
}

// knownStores maps retailer domains to display names.
var knownStores = map[string]string{
	"homedepot":   "Home Depot",
	"lowes":       "Lowe's",
	"acehardware": "Ace Hardware",
	"menards":     "Menards",
	"truevalue":   "True Value",
	"harborfreight": "Harbor Freight",
	"amazon":      "Amazon",
	"walmart":     "Walmart",
	"grainger":    "Grainger",
}

// StoreFromURL identifies the retailer from a result URL. Unknown domains
// fall back to the capitalized second-level domain; unparseable URLs
// return "Unknown".
func StoreFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "Unknown"
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	parts := strings.Split(host, ".")
	if len(parts) < 2 {
		return "Unknown"
	}
	sld := parts[len(parts)-2]

	if name, ok := knownStores[sld]; ok {
		return name
	}
	return strings.ToUpper(sld[:1]) + sld[1:]
}

// =============================================================================
// Aggregation
// =============================================================================

// AggregateResults derives a price estimate from raw search results.
//
// Description:
//
//	Extracts one price per result, applies IQR outlier filtering when the
//	sample is large enough, and rejects samples whose coefficient of
//	variation indicates the results describe different products. The
//	returned bool is false when no trustworthy estimate exists; callers
//	keep their prior estimate in that case.
func AggregateResults(results []SearchResult) (Aggregate, bool) {
	type sample struct {
		price float64
		store string
	}

	var samples []sample
	for _, r := range results {
		if p, ok := ExtractPrice(r); ok {
			samples = append(samples, sample{price: p, store: StoreFromURL(r.URL)})
		}
	}
	if len(samples) == 0 {
		return Aggregate{}, false
	}

	prices := make([]float64, len(samples))
	for i, s := range samples {
		prices[i] = s.price
	}

	filtered := filterOutliersIQR(prices)

	if len(filtered) >= 3 {
		mean := meanOf(filtered)
		if mean > 0 && stddevOf(filtered, mean)/mean > cvThreshold {
			return Aggregate{}, false
		}
	}

	mean := meanOf(filtered)
	median := medianOf(filtered)
	estimate := math.Min(mean, median)

	// Credit the store with the lowest surviving price.
	lowest := math.Inf(1)
	store := "Unknown"
	for _, s := range samples {
		if !containsPrice(filtered, s.price) {
			continue
		}
		if s.price < lowest {
			lowest = s.price
			store = s.store
		}
	}

	return Aggregate{
		Estimate:   estimate,
		Store:      store,
		SampleSize: len(filtered),
		Confidence: confidenceFor(len(filtered)),
	}, true
}

// filterOutliersIQR removes prices outside [Q1-1.5*IQR, Q3+1.5*IQR].
// Samples smaller than 4 are returned unfiltered.
func filterOutliersIQR(prices []float64) []float64 {
	if len(prices) < 4 {
		out := make([]float64, len(prices))
		copy(out, prices)
		return out
	}

	sorted := make([]float64, len(prices))
	copy(sorted, prices)
	sort.Float64s(sorted)

	q1 := quartile(sorted, 0.25)
	q3 := quartile(sorted, 0.75)
	iqr := q3 - q1
	lo := q1 - 1.5*iqr
	hi := q3 + 1.5*iqr

	var filtered []float64
	for _, p := range prices {
		if p >= lo && p <= hi {
			filtered = append(filtered, p)
		}
	}
	// Pathological all-outlier samples fall back to the raw prices.
	if len(filtered) == 0 {
		return sorted
	}
	return filtered
}

// quartile interpolates the q-th quantile of sorted values.
func quartile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func medianOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func stddevOf(vals []float64, mean float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)))
}

func containsPrice(vals []float64, p float64) bool {
	for _, v := range vals {
		if v == p {
			return true
		}
	}
	return false
}

func confidenceFor(sampleSize int) datatypes.Confidence {
	switch {
	case sampleSize >= 4:
		return datatypes.ConfidenceHigh
	case sampleSize >= 2:
		return datatypes.ConfidenceMedium
	default:
		return datatypes.ConfidenceLow
	}
}
