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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPlanner/services/llm"
	"github.com/AleutianAI/AleutianPlanner/services/planner/coordinator"
	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
	"github.com/AleutianAI/AleutianPlanner/services/planner/engine"
	"github.com/AleutianAI/AleutianPlanner/services/planner/phases"
	"github.com/AleutianAI/AleutianPlanner/services/planner/pricing"
	"github.com/AleutianAI/AleutianPlanner/services/planner/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubChatClient answers every model call with an immediate call to the
// phase's output-submission tool.
type stubChatClient struct{}

var stubOutputs = map[string]string{
	"submit_research": `{"permitSummary":"No permit needed.","proRequired":false}`,
	"submit_design": `{"steps":[{"title":"Prep","description":"Clear the area."}],
		"materials":[{"name":"paint","quantity":2,"unit":"gallon","unitPrice":35}],
		"tools":[{"name":"roller","required":true,"estimatedPrice":10}]}`,
	"submit_sourcing": `{"materials":[{"name":"paint","quantity":2,"aiEstimate":35}],
		"tools":[{"name":"roller","required":true,"estimatedPrice":10}]}`,
	"submit_report": `{"title":"Repaint","summary":"A weekend repaint.",
		"overview":{"body":"Simple."},"plan":{"body":"Prep."},
		"materials":{"body":"Paint."},"cost":{"body":"$80."},"resources":{"body":"None."}}`,
}

func (stubChatClient) ChatWithTools(ctx context.Context, system string, messages []llm.ChatMessage, tools []llm.ToolDef, opts llm.ChatOptions) (*llm.ChatResult, error) {
	var name string
	for _, d := range tools {
		if strings.HasPrefix(d.Name, "submit_") {
			name = d.Name
		}
	}
	return &llm.ChatResult{
		ToolCalls:  []llm.ToolCall{{ID: "t1", Name: name, Input: json.RawMessage(stubOutputs[name])}},
		StopReason: llm.StopToolUse,
		Usage:      llm.Usage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func setupTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	db, err := store.OpenDB(store.DBConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.New(db, time.Hour)

	phaseList := []phases.Phase{
		phases.NewResearchPhase(nil, phases.Budget{PhaseTimeout: time.Minute}),
		phases.NewDesignPhase(nil, phases.Budget{PhaseTimeout: time.Minute}),
		phases.NewSourcingPhase(nil, nil, pricing.LookupOptions{}, false, phases.Budget{PhaseTimeout: time.Minute}),
		phases.NewReportPhase(phases.Budget{PhaseTimeout: time.Minute}),
	}
	coord := coordinator.New(engine.NewRunner(stubChatClient{}), st, phaseList, coordinator.Options{})
	svc := NewService(coord, st, nil)

	r := gin.New()
	v1 := r.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc))
	return r, svc
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// waitForStatus polls until the run reaches want or the deadline hits.
func waitForStatus(t *testing.T, svc *Service, runID string, want datatypes.RunStatus) *datatypes.Run {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		run, err := svc.GetRun(context.Background(), runID)
		require.NoError(t, err)
		if run.Status == want {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %s", runID, want)
	return nil
}

func TestHandleSubmitRun_Success(t *testing.T) {
	r, svc := setupTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/planner/runs", SubmitRunRequest{
		Project:  "Repaint the bedroom",
		Location: datatypes.Location{City: "Austin", State: "TX"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var run datatypes.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "Repaint the bedroom", run.Project)

	completed := waitForStatus(t, svc, run.ID, datatypes.RunStatusCompleted)
	assert.NotEmpty(t, completed.ReportID)
}

func TestHandleSubmitRun_MissingProject(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/planner/runs", map[string]any{"location": map[string]string{"city": "Austin"}})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_REQUEST", resp.Code)
}

func TestHandleGetRun_NotFound(t *testing.T) {
	r, _ := setupTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/v1/planner/runs/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "RUN_NOT_FOUND", resp.Code)
}

func TestHandleGetRunPhases(t *testing.T) {
	r, svc := setupTestRouter(t)

	run, err := svc.SubmitRun(context.Background(), "Repaint the bedroom", datatypes.Location{}, datatypes.Preferences{})
	require.NoError(t, err)
	waitForStatus(t, svc, run.ID, datatypes.RunStatusCompleted)

	w := doJSON(t, r, http.MethodGet, "/v1/planner/runs/"+run.ID+"/phases", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Phases []datatypes.PhaseRecord `json:"phases"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Phases, 4)
	assert.Equal(t, datatypes.PhaseResearch, resp.Phases[0].Phase)
	assert.Equal(t, datatypes.PhaseReport, resp.Phases[3].Phase)
}

func TestHandleCancelRun_NotActive(t *testing.T) {
	r, _ := setupTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/v1/planner/runs/nope/cancel", nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleRetryRun_NotFound(t *testing.T) {
	r, _ := setupTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/v1/planner/runs/nope/retry", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleRetryRun_CompletedRejected(t *testing.T) {
	r, svc := setupTestRouter(t)

	run, err := svc.SubmitRun(context.Background(), "Repaint the bedroom", datatypes.Location{}, datatypes.Preferences{})
	require.NoError(t, err)
	waitForStatus(t, svc, run.ID, datatypes.RunStatusCompleted)

	w := doJSON(t, r, http.MethodPost, "/v1/planner/runs/"+run.ID+"/retry", nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleRunEvents_TerminalReplay(t *testing.T) {
	r, svc := setupTestRouter(t)

	run, err := svc.SubmitRun(context.Background(), "Repaint the bedroom", datatypes.Location{}, datatypes.Preferences{})
	require.NoError(t, err)
	waitForStatus(t, svc, run.ID, datatypes.RunStatusCompleted)

	w := doJSON(t, r, http.MethodGet, "/v1/planner/runs/"+run.ID+"/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "event: complete")
	assert.Contains(t, body, "event: done")
	assert.Contains(t, body, run.ID)
}

func TestHandleRunEvents_UnknownRun(t *testing.T) {
	r, _ := setupTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/v1/planner/runs/nope/events", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleReports(t *testing.T) {
	r, svc := setupTestRouter(t)

	run, err := svc.SubmitRun(context.Background(), "Repaint the bedroom", datatypes.Location{}, datatypes.Preferences{})
	require.NoError(t, err)
	completed := waitForStatus(t, svc, run.ID, datatypes.RunStatusCompleted)

	w := doJSON(t, r, http.MethodGet, "/v1/planner/reports/"+completed.ReportID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var report datatypes.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.Sections, 5)
	require.NotEmpty(t, report.ShareToken)

	// The share token resolves to the same report.
	w = doJSON(t, r, http.MethodGet, "/v1/planner/shared/"+report.ShareToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var shared datatypes.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &shared))
	assert.Equal(t, report.ID, shared.ID)
}

func TestHandleShareReportLifecycle(t *testing.T) {
	r, svc := setupTestRouter(t)

	run, err := svc.SubmitRun(context.Background(), "Repaint the bedroom", datatypes.Location{}, datatypes.Preferences{})
	require.NoError(t, err)
	completed := waitForStatus(t, svc, run.ID, datatypes.RunStatusCompleted)

	report, err := svc.GetReport(context.Background(), completed.ReportID)
	require.NoError(t, err)
	oldToken := report.ShareToken
	require.NotEmpty(t, oldToken)

	// Rotating mints a new token and invalidates the old one.
	w := doJSON(t, r, http.MethodPost, "/v1/planner/reports/"+report.ID+"/share", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var minted struct {
		ReportID   string `json:"report_id"`
		ShareToken string `json:"share_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &minted))
	assert.Equal(t, report.ID, minted.ReportID)
	require.NotEmpty(t, minted.ShareToken)
	assert.NotEqual(t, oldToken, minted.ShareToken)

	w = doJSON(t, r, http.MethodGet, "/v1/planner/shared/"+oldToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/planner/shared/"+minted.ShareToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Revoking removes the token entirely.
	w = doJSON(t, r, http.MethodDelete, "/v1/planner/reports/"+report.ID+"/share", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/planner/shared/"+minted.ShareToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	after, err := svc.GetReport(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Empty(t, after.ShareToken)
}

func TestHandleShareReport_NotFound(t *testing.T) {
	r, _ := setupTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/v1/planner/reports/nope/share", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetRunMarksOrphanedRunInterrupted(t *testing.T) {
	_, svc := setupTestRouter(t)

	// A run persisted as running with no pipeline behind it, as left
	// behind by a process restart.
	orphan := &datatypes.Run{
		ID:        "orphan-1",
		Project:   "Replace the water heater",
		Status:    datatypes.RunStatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, svc.store.SaveRun(context.Background(), orphan))

	got, err := svc.GetRun(context.Background(), orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.RunStatusError, got.Status)
	assert.Contains(t, got.Error, "interrupted")

	// The error state persists, which makes the run retryable.
	stored, err := svc.store.GetRun(context.Background(), orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.RunStatusError, stored.Status)
}

func TestHandleGetSharedReport_NotFound(t *testing.T) {
	r, _ := setupTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/v1/planner/shared/bad-token", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestInventoryLifecycle(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/planner/inventory", AddInventoryRequest{
		Name:     "cordless drill",
		Category: "power tools",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var item datatypes.InventoryItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &item))
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, 1, item.Quantity) // zero quantity defaults to 1

	w = doJSON(t, r, http.MethodGet, "/v1/planner/inventory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listResp struct {
		Items []datatypes.InventoryItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Len(t, listResp.Items, 1)

	w = doJSON(t, r, http.MethodDelete, "/v1/planner/inventory/"+item.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/planner/inventory", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	assert.Empty(t, listResp.Items)
}

func TestHandleAddInventoryItem_MissingName(t *testing.T) {
	r, _ := setupTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/v1/planner/inventory", map[string]any{"category": "hand tools"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndReady(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/v1/planner/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/planner/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
