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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianPlanner/services/planner/coordinator"
	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
	"github.com/AleutianAI/AleutianPlanner/services/planner/store"
)

// ErrorResponse is the uniform error body for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// SubmitRunRequest is the body of POST /v1/planner/runs.
type SubmitRunRequest struct {
	Project     string                `json:"project" binding:"required"`
	Location    datatypes.Location    `json:"location"`
	Preferences datatypes.Preferences `json:"preferences"`
}

// AddInventoryRequest is the body of POST /v1/planner/inventory.
type AddInventoryRequest struct {
	Name     string `json:"name" binding:"required"`
	Category string `json:"category"`
	Quantity int    `json:"quantity"`
}

// Handlers holds the HTTP handlers for the planner service.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	service *Service
}

// NewHandlers creates the handler set.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// getOrCreateRequestID returns the inbound X-Request-ID or mints one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleSubmitRun handles POST /v1/planner/runs.
//
// Description:
//
//	Creates a planning run and starts the pipeline in the background.
//	Returns 202 with the pending run; progress streams from the events
//	endpoint.
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleSubmitRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSubmitRun")

	var req SubmitRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "project is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	run, err := h.service.SubmitRun(c.Request.Context(), req.Project, req.Location, req.Preferences)
	if err != nil {
		logger.Error("run submission failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to start run",
			Code:  "SUBMIT_FAILED",
		})
		return
	}

	logger.Info("run submitted",
		slog.String("run_id", run.ID),
		slog.String("project", run.Project))
	c.JSON(http.StatusAccepted, run)
}

// HandleGetRun handles GET /v1/planner/runs/:id.
func (h *Handlers) HandleGetRun(c *gin.Context) {
	run, err := h.service.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found", Code: "RUN_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load run", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// HandleListRuns handles GET /v1/planner/runs.
//
// Query Parameters:
//
//	limit: Maximum runs returned, default 20.
func (h *Handlers) HandleListRuns(c *gin.Context) {
	limit := 20
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := h.service.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list runs", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// HandleGetRunPhases handles GET /v1/planner/runs/:id/phases.
func (h *Handlers) HandleGetRunPhases(c *gin.Context) {
	runID := c.Param("id")
	if _, err := h.service.GetRun(c.Request.Context(), runID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found", Code: "RUN_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load run", Code: "STORE_ERROR"})
		return
	}

	records, err := h.service.ListPhaseRecords(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load phase records", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"phases": records})
}

// HandleCancelRun handles POST /v1/planner/runs/:id/cancel.
//
// Description:
//
//	Signals cooperative cancellation. The run transitions to cancelled
//	once the active phase observes the flag; this endpoint returns as
//	soon as the signal is delivered.
func (h *Handlers) HandleCancelRun(c *gin.Context) {
	if err := h.service.CancelRun(c.Param("id")); err != nil {
		if errors.Is(err, coordinator.ErrRunNotActive) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "run is not active", Code: "RUN_NOT_ACTIVE"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to cancel run", Code: "CANCEL_FAILED"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

// HandleRetryRun handles POST /v1/planner/runs/:id/retry.
func (h *Handlers) HandleRetryRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRetryRun")

	run, err := h.service.RetryRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, coordinator.ErrRunNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found", Code: "RUN_NOT_FOUND"})
		case errors.Is(err, coordinator.ErrRunNotRetryable):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "run is not in a retryable state", Code: "RUN_NOT_RETRYABLE"})
		default:
			logger.Error("retry failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to retry run", Code: "RETRY_FAILED"})
		}
		return
	}

	logger.Info("run retried", slog.String("run_id", run.ID))
	c.JSON(http.StatusAccepted, run)
}

// HandleRunEvents handles GET /v1/planner/runs/:id/events.
//
// Description:
//
//	Streams the run's progress as server-sent events: progress,
//	complete, error, heartbeat, and a final done event. Reconnecting to
//	a finished run replays its terminal event, so clients that dropped
//	mid-run still learn the outcome.
//
// Thread Safety: This method is safe for concurrent use; each
// subscriber gets its own channel.
func (h *Handlers) HandleRunEvents(c *gin.Context) {
	runID := c.Param("id")

	events, cancelSub, err := h.service.SubscribeRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, coordinator.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found", Code: "RUN_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to subscribe", Code: "SUBSCRIBE_FAILED"})
		return
	}
	defer cancelSub()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "streaming not supported", Code: "STREAMING_UNSUPPORTED"})
		return
	}

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\n", ev.Type)
			fmt.Fprintf(c.Writer, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// HandleGetReport handles GET /v1/planner/reports/:id.
func (h *Handlers) HandleGetReport(c *gin.Context) {
	report, err := h.service.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "report not found", Code: "REPORT_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load report", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandleShareReport handles POST /v1/planner/reports/:id/share.
//
// Description:
//
//	Mints a fresh share token for the report, replacing any previous
//	one. The response carries the token for building a share URL.
func (h *Handlers) HandleShareReport(c *gin.Context) {
	report, err := h.service.ShareReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "report not found", Code: "REPORT_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to share report", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report_id": report.ID, "share_token": report.ShareToken})
}

// HandleRevokeReportShare handles DELETE /v1/planner/reports/:id/share.
func (h *Handlers) HandleRevokeReportShare(c *gin.Context) {
	if err := h.service.RevokeReportShare(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "report not found", Code: "REPORT_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to revoke share", Code: "STORE_ERROR"})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleGetSharedReport handles GET /v1/planner/shared/:token.
//
// Description:
//
//	Resolves a share token to its report. The share token is the only
//	credential; the response omits nothing, so tokens should be treated
//	as capability URLs.
func (h *Handlers) HandleGetSharedReport(c *gin.Context) {
	report, err := h.service.GetSharedReport(c.Request.Context(), c.Param("token"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "report not found", Code: "REPORT_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load report", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandleAddInventoryItem handles POST /v1/planner/inventory.
func (h *Handlers) HandleAddInventoryItem(c *gin.Context) {
	var req AddInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "name is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	item, err := h.service.AddInventoryItem(c.Request.Context(), req.Name, req.Category, req.Quantity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to save item", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusCreated, item)
}

// HandleListInventory handles GET /v1/planner/inventory.
func (h *Handlers) HandleListInventory(c *gin.Context) {
	items, err := h.service.ListInventory(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list inventory", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// HandleDeleteInventoryItem handles DELETE /v1/planner/inventory/:id.
func (h *Handlers) HandleDeleteInventoryItem(c *gin.Context) {
	if err := h.service.DeleteInventoryItem(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to delete item", Code: "STORE_ERROR"})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleHealth handles GET /v1/planner/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady handles GET /v1/planner/ready.
func (h *Handlers) HandleReady(c *gin.Context) {
	// Readiness is a cheap store round trip.
	if _, err := h.service.ListRuns(c.Request.Context(), 1); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
