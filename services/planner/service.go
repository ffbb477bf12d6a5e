// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner exposes the project-planning pipeline over HTTP:
// run submission and streaming, report retrieval and sharing, and
// inventory management. The pipeline itself lives in the coordinator,
// engine, and phases subpackages.
package planner

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianPlanner/services/planner/coordinator"
	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
	"github.com/AleutianAI/AleutianPlanner/services/planner/store"
)

// Service ties the coordinator and store together for the handlers.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	coordinator *coordinator.Coordinator
	store       *store.Store
	logger      *slog.Logger
}

// NewService creates the planner service.
func NewService(coord *coordinator.Coordinator, st *store.Store, logger *slog.Logger) *Service {
	if coord == nil || st == nil {
		panic("planner.NewService: coordinator and store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{coordinator: coord, store: st, logger: logger}
}

// SubmitRun starts a new planning run.
func (s *Service) SubmitRun(ctx context.Context, project string, location datatypes.Location, prefs datatypes.Preferences) (*datatypes.Run, error) {
	return s.coordinator.Submit(ctx, project, location, prefs)
}

// GetRun fetches a run by ID.
func (s *Service) GetRun(ctx context.Context, id string) (*datatypes.Run, error) {
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.reconcile(ctx, run), nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]*datatypes.Run, error) {
	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i, run := range runs {
		runs[i] = s.reconcile(ctx, run)
	}
	return runs, nil
}

// reconcile settles runs orphaned by a process restart. A run that reads
// as in flight but has no pipeline in this process can never finish, so
// it is moved to error, which keeps it retryable.
func (s *Service) reconcile(ctx context.Context, run *datatypes.Run) *datatypes.Run {
	if run.Status.Terminal() || s.coordinator.IsActive(run.ID) {
		return run
	}
	run.Status = datatypes.RunStatusError
	run.Error = "interrupted: server restarted while the run was in flight"
	if err := s.store.SaveRun(ctx, run); err != nil {
		s.logger.Warn("failed to persist interrupted run", "run_id", run.ID, "error", err)
	}
	return run
}

// ListPhaseRecords returns a run's phase attempts in pipeline order.
func (s *Service) ListPhaseRecords(ctx context.Context, runID string) ([]*datatypes.PhaseRecord, error) {
	return s.store.ListPhaseRecords(ctx, runID)
}

// CancelRun signals cancellation to an in-flight run.
func (s *Service) CancelRun(runID string) error {
	return s.coordinator.Cancel(runID)
}

// RetryRun restarts a failed or cancelled run from its first incomplete
// phase.
func (s *Service) RetryRun(ctx context.Context, runID string) (*datatypes.Run, error) {
	return s.coordinator.Retry(ctx, runID)
}

// SubscribeRun attaches to a run's event stream.
func (s *Service) SubscribeRun(ctx context.Context, runID string) (<-chan coordinator.Event, func(), error) {
	return s.coordinator.Subscribe(ctx, runID)
}

// GetReport fetches a report by ID.
func (s *Service) GetReport(ctx context.Context, id string) (*datatypes.Report, error) {
	return s.store.GetReport(ctx, id)
}

// GetSharedReport resolves a share token to its report.
func (s *Service) GetSharedReport(ctx context.Context, token string) (*datatypes.Report, error) {
	return s.store.GetReportByShareToken(ctx, token)
}

// ShareReport mints a fresh share token for the report. Any token issued
// earlier stops resolving.
func (s *Service) ShareReport(ctx context.Context, reportID string) (*datatypes.Report, error) {
	return s.store.RotateShareToken(ctx, reportID, uuid.NewString())
}

// RevokeReportShare withdraws the report's share token.
func (s *Service) RevokeReportShare(ctx context.Context, reportID string) error {
	return s.store.RevokeShareToken(ctx, reportID)
}

// AddInventoryItem stores a new owned item. ID and AddedAt are assigned
// here.
func (s *Service) AddInventoryItem(ctx context.Context, name, category string, quantity int) (*datatypes.InventoryItem, error) {
	if quantity <= 0 {
		quantity = 1
	}
	item := &datatypes.InventoryItem{
		ID:       uuid.NewString(),
		Name:     name,
		Category: category,
		Quantity: quantity,
		AddedAt:  time.Now().UTC(),
	}
	if err := s.store.PutInventoryItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// ListInventory returns all owned items sorted by name.
func (s *Service) ListInventory(ctx context.Context) ([]*datatypes.InventoryItem, error) {
	return s.store.ListInventory(ctx)
}

// DeleteInventoryItem removes an owned item. Deleting a missing item is
// not an error.
func (s *Service) DeleteInventoryItem(ctx context.Context, id string) error {
	return s.store.DeleteInventoryItem(ctx, id)
}
