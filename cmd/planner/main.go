// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command planner starts the Aleutian Planner API server.
//
// Aleutian Planner turns a described home-improvement project into a
// full execution plan: researched code requirements, ordered steps, a
// priced materials list with live price verification, and a shareable
// final report. Each stage is driven by a hosted model with tool
// calling.
//
// Usage:
//
//	go run ./cmd/planner
//	go run ./cmd/planner -port 9090
//
// Required environment:
//
//	ANTHROPIC_API_KEY - model API key (or the container secret path)
//
// Optional environment:
//
//	BRAVE_SEARCH_API_KEY - enables web search and live price lookups
//	PLANNER_CONFIG - YAML config overlay path
//	PLANNER_PORT, PLANNER_DATA_DIR, PLANNER_PRICING_ENABLED - overrides
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8090/v1/planner/health
//
//	# Submit a run
//	curl -X POST http://localhost:8090/v1/planner/runs \
//	  -H "Content-Type: application/json" \
//	  -d '{"project": "install a ceiling fan", "location": {"city": "Austin", "state": "TX"}}'
//
//	# Stream progress
//	curl -N http://localhost:8090/v1/planner/runs/<id>/events
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/AleutianPlanner/services/llm"
	"github.com/AleutianAI/AleutianPlanner/services/planner"
	"github.com/AleutianAI/AleutianPlanner/services/planner/config"
	"github.com/AleutianAI/AleutianPlanner/services/planner/coordinator"
	"github.com/AleutianAI/AleutianPlanner/services/planner/engine"
	"github.com/AleutianAI/AleutianPlanner/services/planner/phases"
	"github.com/AleutianAI/AleutianPlanner/services/planner/pricing"
	"github.com/AleutianAI/AleutianPlanner/services/planner/store"
	"github.com/AleutianAI/AleutianPlanner/services/planner/tools"
)

func main() {
	port := flag.Int("port", 0, "Port to listen on (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
		slog.SetLogLoggerLevel(slog.LevelDebug)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	chatClient, err := llm.NewAnthropicClient()
	if err != nil {
		slog.Error("Failed to create model client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	dbCfg := store.DefaultDBConfig(cfg.Store.DataDir)
	db, err := store.OpenDB(dbCfg)
	if err != nil {
		slog.Error("Failed to open store", slog.String("path", cfg.Store.DataDir), slog.String("error", err.Error()))
		os.Exit(1)
	}
	st := store.New(db, cfg.Store.ReportTTL())

	search := tools.NewBraveSearchClient()
	if !search.HasCredentials() {
		slog.Warn("No search API key, web search tools and live price lookups are disabled")
	}

	lookupOpts := pricing.LookupOptions{
		MaxItems:          cfg.Pricing.MaxLookupItems,
		ChunkSize:         cfg.Pricing.ChunkSize,
		PerCallTimeout:    cfg.Pricing.PerCallTimeout(),
		TotalBudget:       cfg.Pricing.TotalBudget(),
		AbortFailureRatio: cfg.Pricing.AbortFailureRatio,
		RequestsPerSecond: cfg.Pricing.RequestsPerSecond,
	}
	budget := phases.Budget{
		PhaseTimeout:  cfg.Engine.PhaseTimeout(),
		ToolTimeout:   cfg.Engine.ToolTimeout(),
		MaxIterations: cfg.Engine.MaxLoopIterations,
	}
	phaseList := []phases.Phase{
		phases.NewResearchPhase(search, budget),
		phases.NewDesignPhase(search, budget),
		phases.NewSourcingPhase(search, st, lookupOpts, cfg.Pricing.Enabled, budget),
		phases.NewReportPhase(budget),
	}

	coord := coordinator.New(engine.NewRunner(chatClient), st, phaseList, coordinator.Options{
		MaxPhaseRetries:   cfg.Engine.MaxPhaseRetries,
		HeartbeatInterval: cfg.Engine.HeartbeatInterval(),
	})

	svc := planner.NewService(coord, st, slog.Default())
	handlers := planner.NewHandlers(svc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-planner"))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	planner.RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		slog.Info("Starting Aleutian Planner server",
			slog.String("address", addr),
			slog.Bool("pricing_enabled", cfg.Pricing.Enabled))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down Aleutian Planner server")
	grace := time.Duration(cfg.Server.ShutdownGraceSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("Forced shutdown", slog.String("error", err.Error()))
	}
	if err := db.Close(); err != nil {
		slog.Warn("Failed to close store", slog.String("error", err.Error()))
	}
}
