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
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// phaseTracer is the engine's tracer for phase execution spans.
var phaseTracer trace.Tracer = otel.Tracer("planner/engine")

// =============================================================================
// Prometheus Metrics for Phase Execution
// =============================================================================

var (
	// phaseDurationSeconds measures full phase duration.
	// Labels: phase (research, design, sourcing, report), status (ok, error, cancelled, no_output)
	phaseDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "planner",
		Subsystem: "engine",
		Name:      "phase_duration_seconds",
		Help:      "Phase execution duration by phase and terminal status",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"phase", "status"})

	// modelCallsTotal counts outbound model calls by outcome.
	// Labels: outcome (ok, error)
	modelCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planner",
		Subsystem: "engine",
		Name:      "model_calls_total",
		Help:      "Total outbound model calls by outcome",
	}, []string{"outcome"})

	// modelRetriesTotal counts transient-failure retries of model calls.
	modelRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "planner",
		Subsystem: "engine",
		Name:      "model_retries_total",
		Help:      "Total model call retries after transient failures",
	})

	// toolCallsTotal counts executed tool invocations by tool and outcome.
	// Labels: tool, outcome (ok, error)
	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planner",
		Subsystem: "engine",
		Name:      "tool_calls_total",
		Help:      "Total tool executions by tool name and outcome",
	}, []string{"tool", "outcome"})

	// tokensTotal counts model tokens by direction.
	// Labels: direction (input, output)
	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planner",
		Subsystem: "engine",
		Name:      "tokens_total",
		Help:      "Total model tokens by direction",
	}, []string{"direction"})

	// outputExtractionTotal counts which extraction tier produced the
	// structured output. Labels: tier (captured, final_response, regex, none)
	outputExtractionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planner",
		Subsystem: "engine",
		Name:      "output_extraction_total",
		Help:      "Structured output extractions by fallback tier",
	}, []string{"tier"})
)

// phaseStatusLabel maps a phase outcome to a bounded metric label.
func phaseStatusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrNoOutput):
		return "no_output"
	default:
		return "error"
	}
}

func recordModelCall(err error) {
	if err != nil {
		modelCallsTotal.WithLabelValues("error").Inc()
		return
	}
	modelCallsTotal.WithLabelValues("ok").Inc()
}

func recordModelRetry() {
	modelRetriesTotal.Inc()
}

func recordToolCall(tool string, success bool) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	toolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

func recordTokens(input, output int) {
	tokensTotal.WithLabelValues("input").Add(float64(input))
	tokensTotal.WithLabelValues("output").Add(float64(output))
}

func recordExtractionTier(tier string) {
	outputExtractionTotal.WithLabelValues(tier).Inc()
}
