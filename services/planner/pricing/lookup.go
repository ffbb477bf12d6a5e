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
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
)

// Searcher is the web search dependency for live price lookups.
//
// Thread Safety: Implementations must be safe for concurrent use; the
// batch lookup calls Search from multiple goroutines.
type Searcher interface {
	// Search runs a web search and returns raw results.
	Search(ctx context.Context, query string) ([]SearchResult, error)

	// HasCredentials reports whether the search API is usable. When
	// false, lookups short-circuit without any network activity.
	HasCredentials() bool
}

// LookupOptions bounds a batch price lookup.
type LookupOptions struct {
	// MaxItems caps how many materials are looked up. Default 8.
	MaxItems int

	// ChunkSize is the concurrency limit. Default 4.
	ChunkSize int

	// PerCallTimeout bounds one search call. Default 3s.
	PerCallTimeout time.Duration

	// TotalBudget bounds the whole batch. Default 10s.
	TotalBudget time.Duration

	// AbortFailureRatio aborts remaining lookups once this fraction of
	// attempts has failed. Default 0.6.
	AbortFailureRatio float64

	// RequestsPerSecond paces outbound search calls. Default 5.
	RequestsPerSecond float64
}

func (o LookupOptions) withDefaults() LookupOptions {
	if o.MaxItems <= 0 {
		o.MaxItems = 8
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 4
	}
	if o.PerCallTimeout <= 0 {
		o.PerCallTimeout = 3 * time.Second
	}
	if o.TotalBudget <= 0 {
		o.TotalBudget = 10 * time.Second
	}
	if o.AbortFailureRatio <= 0 {
		o.AbortFailureRatio = 0.6
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 5
	}
	return o
}

// sanityUpper and sanityLower bound an accepted lookup price relative to
// the model's own estimate. Outside these, the search almost certainly
// priced a different product.
const (
	sanityUpper = 3.0
	sanityLower = 0.33
)

// LookupMaterialPrices verifies material prices against live search data.
//
// Description:
//
//	Looks up at most MaxItems materials in concurrency-limited chunks,
//	each call bounded by PerCallTimeout and the batch by TotalBudget.
//	Accepted estimates overwrite BestPrice, BestStore, and Confidence in
//	place. Every failure mode keeps the model's original estimate: a
//	missing credential is a no-op before any network call, a failed or
//	noisy lookup is skipped, and a price outside the sanity bound
//	relative to the model's estimate is rejected. Once failures exceed
//	AbortFailureRatio of attempts so far, the remaining lookups are
//	abandoned on the assumption that the search API is rate limiting.
//
// Outputs:
//   - int: How many materials received a verified price.
//
// Thread Safety: Safe for concurrent use with distinct materials slices.
func LookupMaterialPrices(ctx context.Context, searcher Searcher, materials []datatypes.PricedMaterial, opts LookupOptions) ([]datatypes.PricedMaterial, int) {
	if searcher == nil || !searcher.HasCredentials() {
		slog.Debug("price lookup skipped, no search credentials")
		return materials, 0
	}
	if len(materials) == 0 {
		return materials, 0
	}

	opts = opts.withDefaults()

	batchCtx, cancel := context.WithTimeout(ctx, opts.TotalBudget)
	defer cancel()

	limit := len(materials)
	if limit > opts.MaxItems {
		limit = opts.MaxItems
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.ChunkSize)

	var (
		attempts atomic.Int64
		failures atomic.Int64
		aborted  atomic.Bool
		updated  atomic.Int64
		mu       sync.Mutex
	)

	g, gctx := errgroup.WithContext(batchCtx)
	sem := make(chan struct{}, opts.ChunkSize)

	for i := 0; i < limit; i++ {
		idx := i
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			if aborted.Load() || gctx.Err() != nil {
				return nil
			}

			if err := limiter.Wait(gctx); err != nil {
				return nil
			}

			mu.Lock()
			name := materials[idx].Name
			aiEstimate := materials[idx].AIEstimate
			mu.Unlock()

			agg, ok := lookupOne(gctx, searcher, name, opts.PerCallTimeout)
			attempted := attempts.Add(1)
			if !ok {
				failed := failures.Add(1)
				if float64(failed)/float64(attempted) > opts.AbortFailureRatio {
					aborted.Store(true)
				}
				return nil
			}

			// Sanity bound against the model's own per-unit estimate.
			if aiEstimate > 0 {
				ratio := agg.Estimate / aiEstimate
				if ratio > sanityUpper || ratio < sanityLower {
					slog.Debug("price lookup rejected by sanity bound",
						slog.String("material", name),
						slog.Float64("ai_estimate", aiEstimate),
						slog.Float64("lookup", agg.Estimate),
					)
					return nil
				}
			}

			mu.Lock()
			materials[idx].BestPrice = agg.Estimate
			materials[idx].BestStore = agg.Store
			materials[idx].Confidence = agg.Confidence
			mu.Unlock()
			updated.Add(1)
			return nil
		})
	}

	_ = g.Wait()

	n := int(updated.Load())
	slog.Info("price lookup batch finished",
		slog.Int("requested", limit),
		slog.Int("updated", n),
		slog.Int64("failures", failures.Load()),
		slog.Bool("aborted", aborted.Load()),
	)
	return materials, n
}

// lookupOne searches for one material and aggregates the results.
func lookupOne(ctx context.Context, searcher Searcher, name string, timeout time.Duration) (Aggregate, bool) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := searcher.Search(callCtx, name+" price")
	if err != nil {
		slog.Debug("price search failed",
			slog.String("material", name),
			slog.String("error", err.Error()),
		)
		return Aggregate{}, false
	}

	return AggregateResults(results)
}
