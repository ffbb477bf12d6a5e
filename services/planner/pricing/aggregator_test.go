// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pricing

import (
	"fmt"
	"testing"

	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
)

func resultWithTitlePrice(price float64, store string) SearchResult {
	return SearchResult{
		Title: fmt.Sprintf("Product for $%.2f", price),
		URL:   fmt.Sprintf("https://www.%s.com/item", store),
	}
}

func TestExtractPrice_PriorityOrder(t *testing.T) {
	r := SearchResult{
		Title:       "Drill bit set - $29.99 at checkout",
		Description: "Was $49.99, now cheaper",
		Snippets:    []string{"shipping $8.00"},
	}
	p, ok := ExtractPrice(r)
	if !ok || p != 29.99 {
		t.Errorf("ExtractPrice = %v, %v; want 29.99 from title", p, ok)
	}

	// Without a title price, the description wins over snippets.
	r.Title = "Drill bit set"
	p, ok = ExtractPrice(r)
	if !ok || p != 49.99 {
		t.Errorf("ExtractPrice = %v, %v; want 49.99 from description", p, ok)
	}

	// Snippets are the last resort.
	r.Description = "high speed steel"
	p, ok = ExtractPrice(r)
	if !ok || p != 8.00 {
		t.Errorf("ExtractPrice = %v, %v; want 8.00 from snippet", p, ok)
	}
}

func TestExtractPrice_OnePricePerResult(t *testing.T) {
	r := SearchResult{Title: "Bundle: $19.99 or 3 for $49.99"}
	p, ok := ExtractPrice(r)
	if !ok || p != 19.99 {
		t.Errorf("ExtractPrice = %v, %v; want only the first price", p, ok)
	}
}

func TestExtractPrice_ThousandsSeparator(t *testing.T) {
	r := SearchResult{Title: "Table saw $1,299.00"}
	p, ok := ExtractPrice(r)
	if !ok || p != 1299.00 {
		t.Errorf("ExtractPrice = %v, %v; want 1299.00", p, ok)
	}
}

func TestExtractPrice_NoPrice(t *testing.T) {
	if _, ok := ExtractPrice(SearchResult{Title: "How to replace a faucet"}); ok {
		t.Error("expected no price")
	}
}

func TestStoreFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.homedepot.com/p/12345", "Home Depot"},
		{"https://lowes.com/pd/pvc-pipe", "Lowe's"},
		{"https://www.acehardware.com/x", "Ace Hardware"},
		{"https://shop.harborfreight.com/y", "Harbor Freight"},
		{"https://www.example.com/z", "Example"},
		{"not a url", "Unknown"},
		{"", "Unknown"},
	}
	for _, tt := range tests {
		if got := StoreFromURL(tt.url); got != tt.want {
			t.Errorf("StoreFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestAggregateResults_IQROutlierRemoved(t *testing.T) {
	results := []SearchResult{
		resultWithTitlePrice(10, "homedepot"),
		resultWithTitlePrice(11, "lowes"),
		resultWithTitlePrice(12, "acehardware"),
		resultWithTitlePrice(500, "example"),
	}

	agg, ok := AggregateResults(results)
	if !ok {
		t.Fatal("expected an estimate")
	}
	if agg.SampleSize != 3 {
		t.Errorf("SampleSize = %d, want 3 after dropping the outlier", agg.SampleSize)
	}
	// mean and median of [10, 11, 12] are both 11.
	if agg.Estimate != 11 {
		t.Errorf("Estimate = %g, want 11", agg.Estimate)
	}
	// Lowest surviving price came from Home Depot.
	if agg.Store != "Home Depot" {
		t.Errorf("Store = %q, want Home Depot", agg.Store)
	}
}

func TestAggregateResults_SmallSampleUnfiltered(t *testing.T) {
	results := []SearchResult{
		resultWithTitlePrice(10, "homedepot"),
		resultWithTitlePrice(40, "lowes"),
	}

	agg, ok := AggregateResults(results)
	if !ok {
		t.Fatal("expected an estimate")
	}
	if agg.SampleSize != 2 {
		t.Errorf("SampleSize = %d, want 2 (no filtering below 4 samples)", agg.SampleSize)
	}
	// mean 25, median 25, estimate is their minimum.
	if agg.Estimate != 25 {
		t.Errorf("Estimate = %g, want 25", agg.Estimate)
	}
	if agg.Confidence != datatypes.ConfidenceMedium {
		t.Errorf("Confidence = %q, want medium", agg.Confidence)
	}
}

func TestAggregateResults_NoisySampleDiscarded(t *testing.T) {
	// CV of [1, 10, 100] is well above the threshold.
	results := []SearchResult{
		resultWithTitlePrice(1, "homedepot"),
		resultWithTitlePrice(10, "lowes"),
		resultWithTitlePrice(100, "example"),
	}

	if _, ok := AggregateResults(results); ok {
		t.Error("expected noisy sample to be discarded")
	}
}

func TestAggregateResults_EstimateTakesLesserOfMeanMedian(t *testing.T) {
	// [10, 10, 40]: mean 20, median 10. Estimate must be 10.
	// CV: mean 20, stddev ~14.1 → 0.71, under the threshold.
	results := []SearchResult{
		resultWithTitlePrice(10, "homedepot"),
		resultWithTitlePrice(10, "lowes"),
		resultWithTitlePrice(40, "example"),
	}

	agg, ok := AggregateResults(results)
	if !ok {
		t.Fatal("expected an estimate")
	}
	if agg.Estimate != 10 {
		t.Errorf("Estimate = %g, want median 10 (lesser of mean/median)", agg.Estimate)
	}
}

func TestAggregateResults_NoPrices(t *testing.T) {
	results := []SearchResult{{Title: "no dollar amounts here"}}
	if _, ok := AggregateResults(results); ok {
		t.Error("expected no estimate from priceless results")
	}
}
