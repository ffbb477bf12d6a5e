// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all planner routes with the router.
//
// Description:
//
//	Registers all /v1/planner/* endpoints with the given Gin router
//	group. The router group should already have any required middleware
//	applied.
//
// Run Endpoints:
//
//	POST /v1/planner/runs - Submit a planning run
//	GET  /v1/planner/runs - List recent runs
//	GET  /v1/planner/runs/:id - Get a run
//	GET  /v1/planner/runs/:id/phases - Get a run's phase records
//	GET  /v1/planner/runs/:id/events - Stream run progress (SSE)
//	POST /v1/planner/runs/:id/cancel - Cancel an in-flight run
//	POST /v1/planner/runs/:id/retry - Retry a failed run
//
// Report Endpoints:
//
//	GET    /v1/planner/reports/:id - Get a report
//	POST   /v1/planner/reports/:id/share - Mint a share token
//	DELETE /v1/planner/reports/:id/share - Revoke the share token
//	GET    /v1/planner/shared/:token - Get a report by share token
//
// Inventory Endpoints:
//
//	GET    /v1/planner/inventory - List owned items
//	POST   /v1/planner/inventory - Add an owned item
//	DELETE /v1/planner/inventory/:id - Remove an owned item
//
// Health Endpoints:
//
//	GET /v1/planner/health - Health check
//	GET /v1/planner/ready - Readiness check
//
// Example:
//
//	svc := planner.NewService(coord, st, logger)
//	handlers := planner.NewHandlers(svc)
//
//	v1 := router.Group("/v1")
//	planner.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	p := rg.Group("/planner")
	{
		// Runs
		p.POST("/runs", handlers.HandleSubmitRun)
		p.GET("/runs", handlers.HandleListRuns)
		p.GET("/runs/:id", handlers.HandleGetRun)
		p.GET("/runs/:id/phases", handlers.HandleGetRunPhases)
		p.GET("/runs/:id/events", handlers.HandleRunEvents)
		p.POST("/runs/:id/cancel", handlers.HandleCancelRun)
		p.POST("/runs/:id/retry", handlers.HandleRetryRun)

		// Reports
		p.GET("/reports/:id", handlers.HandleGetReport)
		p.POST("/reports/:id/share", handlers.HandleShareReport)
		p.DELETE("/reports/:id/share", handlers.HandleRevokeReportShare)
		p.GET("/shared/:token", handlers.HandleGetSharedReport)

		// Inventory
		p.GET("/inventory", handlers.HandleListInventory)
		p.POST("/inventory", handlers.HandleAddInventoryItem)
		p.DELETE("/inventory/:id", handlers.HandleDeleteInventoryItem)

		// Health checks
		p.GET("/health", handlers.HandleHealth)
		p.GET("/ready", handlers.HandleReady)
	}
}
