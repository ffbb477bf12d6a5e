// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coordinator sequences the four planning phases over the
// engine runner. It owns the shared context, persists a phase record
// per attempt, drives run status transitions, and fans progress out to
// stream subscribers. Phase order is fixed; there is no branching and
// no phase overlap.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
	"github.com/AleutianAI/AleutianPlanner/services/planner/engine"
	"github.com/AleutianAI/AleutianPlanner/services/planner/phases"
	"github.com/AleutianAI/AleutianPlanner/services/planner/store"
)

// ErrRunNotFound is returned for operations on an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// ErrRunNotActive is returned when cancelling a run that is not in
// flight.
var ErrRunNotActive = errors.New("run is not active")

// ErrRunNotRetryable is returned when retrying a run that did not fail.
var ErrRunNotRetryable = errors.New("run is not in a retryable state")

// Options tunes coordinator behavior.
type Options struct {
	// MaxPhaseRetries is how many extra attempts a failed phase gets
	// before the run errors out. Cancellation is never retried.
	MaxPhaseRetries int

	// HeartbeatInterval paces keep-alive events on active run streams.
	// Zero disables heartbeats.
	HeartbeatInterval time.Duration

	Logger *slog.Logger
}

// Coordinator runs planning pipelines. One Coordinator serves all runs;
// each Submit spawns one pipeline goroutine.
//
// Thread Safety: Safe for concurrent use.
type Coordinator struct {
	runner *engine.Runner
	store  *store.Store
	phases []phases.Phase
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*activeRun
}

// activeRun is the in-flight state for one run: its event hub and the
// cooperative cancellation flag polled by the engine.
type activeRun struct {
	hub       *hub
	cancelled atomic.Bool
}

// New creates a Coordinator. The phase list must be in pipeline order;
// callers pass the four standard phases.
func New(runner *engine.Runner, st *store.Store, phaseList []phases.Phase, opts Options) *Coordinator {
	if runner == nil || st == nil {
		panic("coordinator.New: runner and store must not be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		runner: runner,
		store:  st,
		phases: phaseList,
		opts:   opts,
		logger: logger,
		active: make(map[string]*activeRun),
	}
}

// Submit creates and persists a new run and starts its pipeline in the
// background. The returned Run snapshot has status pending; progress is
// observable via Subscribe.
func (c *Coordinator) Submit(ctx context.Context, project string, location datatypes.Location, prefs datatypes.Preferences) (*datatypes.Run, error) {
	if project == "" {
		return nil, errors.New("project description is required")
	}

	run := &datatypes.Run{
		ID:          uuid.NewString(),
		Project:     project,
		Location:    location,
		Preferences: prefs,
		Status:      datatypes.RunStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("saving run: %w", err)
	}

	c.start(*run, phases.Context{Run: *run}, 0)

	snapshot := *run
	return &snapshot, nil
}

// Retry restarts a failed run from its first incomplete phase. Outputs
// of previously completed phases are rebuilt from their stored records,
// so finished work is not repeated.
func (c *Coordinator) Retry(ctx context.Context, runID string) (*datatypes.Run, error) {
	c.mu.Lock()
	_, running := c.active[runID]
	c.mu.Unlock()
	if running {
		return nil, ErrRunNotRetryable
	}

	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	if run.Status != datatypes.RunStatusError && run.Status != datatypes.RunStatusCancelled {
		return nil, ErrRunNotRetryable
	}

	snapshot, resumeFrom, err := c.rebuildContext(ctx, *run)
	if err != nil {
		return nil, fmt.Errorf("rebuilding run context: %w", err)
	}

	run.Status = datatypes.RunStatusPending
	run.Error = ""
	if err := c.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("saving run: %w", err)
	}

	c.start(*run, snapshot, resumeFrom)

	result := *run
	return &result, nil
}

// IsActive reports whether the run's pipeline is executing in this
// process.
func (c *Coordinator) IsActive(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[runID]
	return ok
}

// Cancel signals cooperative cancellation to the run's active phase.
// The run transitions to cancelled once the phase observes the flag.
func (c *Coordinator) Cancel(runID string) error {
	c.mu.Lock()
	a, ok := c.active[runID]
	c.mu.Unlock()
	if !ok {
		return ErrRunNotActive
	}
	a.cancelled.Store(true)
	return nil
}

// Subscribe attaches to a run's event stream. For an in-flight run the
// channel receives live events; for a terminal run it replays the
// terminal event followed by done, which is what makes reconnecting
// clients work. The returned func detaches the subscriber.
func (c *Coordinator) Subscribe(ctx context.Context, runID string) (<-chan Event, func(), error) {
	c.mu.Lock()
	a, ok := c.active[runID]
	c.mu.Unlock()

	if ok {
		if ch := a.hub.subscribe(); ch != nil {
			return ch, func() { a.hub.unsubscribe(ch) }, nil
		}
		// Hub closed between lookup and subscribe; fall through to
		// terminal replay.
	}

	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrRunNotFound
		}
		return nil, nil, err
	}

	ch := make(chan Event, 4)
	c.replayTerminal(ctx, run, ch)
	close(ch)
	return ch, func() {}, nil
}

// =============================================================================
// Pipeline execution
// =============================================================================

// start registers the run as active and launches its pipeline.
// resumeFrom is the index into the phase list to begin at.
func (c *Coordinator) start(run datatypes.Run, snapshot phases.Context, resumeFrom int) {
	a := &activeRun{hub: newHub()}
	c.mu.Lock()
	c.active[run.ID] = a
	c.mu.Unlock()

	go c.execute(run, snapshot, resumeFrom, a)
}

// execute drives one run to a terminal state. Runs on its own
// goroutine; the submitting request does not wait for it.
func (c *Coordinator) execute(run datatypes.Run, snapshot phases.Context, resumeFrom int, a *activeRun) {
	// The pipeline outlives the submitting HTTP request.
	ctx := context.Background()

	defer func() {
		a.hub.close(run.ID)
		c.mu.Lock()
		delete(c.active, run.ID)
		c.mu.Unlock()
	}()

	stopHeartbeat := c.startHeartbeat(run.ID, a)
	defer stopHeartbeat()

	run.Status = datatypes.RunStatusRunning
	if err := c.store.SaveRun(ctx, &run); err != nil {
		c.logger.Error("saving run status", slog.String("run_id", run.ID), slog.String("error", err.Error()))
	}

	var tokens datatypes.TokenUsage
	for i := resumeFrom; i < len(c.phases); i++ {
		phase := c.phases[i]
		run.CurrentPhase = phase.Name()
		if err := c.store.SaveRun(ctx, &run); err != nil {
			c.logger.Error("saving run phase", slog.String("run_id", run.ID), slog.String("error", err.Error()))
		}

		phaseTokens, err := c.runPhase(ctx, &run, phase, &snapshot, a)
		tokens.Add(phaseTokens)
		if err != nil {
			c.finishFailed(ctx, &run, phase.Name(), err, a)
			return
		}
	}

	c.finishCompleted(ctx, &run, snapshot, tokens, a)
}

// runPhase executes one phase with retries, persisting a phase record
// per attempt. Returns accumulated token usage and the final error.
func (c *Coordinator) runPhase(ctx context.Context, run *datatypes.Run, phase phases.Phase, snapshot *phases.Context, a *activeRun) (datatypes.TokenUsage, error) {
	var tokens datatypes.TokenUsage
	var lastErr error

	for attempt := 0; attempt <= c.opts.MaxPhaseRetries; attempt++ {
		record := &datatypes.PhaseRecord{
			RunID:     run.ID,
			Phase:     phase.Name(),
			Status:    datatypes.PhaseStatusRunning,
			Retries:   attempt,
			StartedAt: time.Now().UTC(),
		}
		if err := c.store.SavePhaseRecord(ctx, record); err != nil {
			c.logger.Error("saving phase record", slog.String("run_id", run.ID), slog.String("error", err.Error()))
		}

		result, err := c.attemptPhase(ctx, run.ID, phase, snapshot, a)

		record.FinishedAt = time.Now().UTC()
		record.Duration = record.FinishedAt.Sub(record.StartedAt)
		if result != nil {
			record.Output = result.Output
			record.ToolCalls = result.ToolCalls
			record.Tokens = result.Tokens
			tokens.Add(result.Tokens)
		}
		if err != nil {
			record.Status = datatypes.PhaseStatusError
			record.Error = err.Error()
		} else {
			record.Status = datatypes.PhaseStatusCompleted
		}
		if saveErr := c.store.SavePhaseRecord(ctx, record); saveErr != nil {
			c.logger.Error("saving phase record", slog.String("run_id", run.ID), slog.String("error", saveErr.Error()))
		}

		if err == nil {
			return tokens, nil
		}
		lastErr = err

		if errors.Is(err, engine.ErrCancelled) {
			return tokens, err
		}
		c.logger.Warn("phase attempt failed",
			slog.String("run_id", run.ID),
			slog.String("phase", string(phase.Name())),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}
	return tokens, lastErr
}

// attemptPhase makes one attempt: build, run, coerce, merge.
func (c *Coordinator) attemptPhase(ctx context.Context, runID string, phase phases.Phase, snapshot *phases.Context, a *activeRun) (*engine.PhaseResult, error) {
	req, err := phase.Build(*snapshot)
	if err != nil {
		return nil, err
	}
	req.CancelCheck = a.cancelled.Load
	req.Progress = func(ev engine.ProgressEvent) {
		a.hub.publish(Event{Type: EventProgress, RunID: runID, Progress: &ev})
	}

	result, err := c.runner.Run(ctx, req)
	if err != nil {
		return result, err
	}

	delta, err := phase.Coerce(ctx, result.Output, *snapshot)
	if err != nil {
		return result, fmt.Errorf("coercing %s output: %w", phase.Name(), err)
	}
	delta(snapshot)
	return result, nil
}

func (c *Coordinator) finishCompleted(ctx context.Context, run *datatypes.Run, snapshot phases.Context, tokens datatypes.TokenUsage, a *activeRun) {
	report := snapshot.Report
	if report != nil {
		if err := c.store.SaveReport(ctx, report); err != nil {
			c.logger.Error("saving report", slog.String("run_id", run.ID), slog.String("error", err.Error()))
		}
		run.ReportID = report.ID
	}

	run.Status = datatypes.RunStatusCompleted
	run.CurrentPhase = ""
	if err := c.store.SaveRun(ctx, run); err != nil {
		c.logger.Error("saving run status", slog.String("run_id", run.ID), slog.String("error", err.Error()))
	}

	payload := &CompletePayload{Tokens: tokens}
	if report != nil {
		payload.ReportID = report.ID
		payload.Summary = report.Summary
		payload.TotalCost = report.TotalCost
		payload.Report = report
	}
	a.hub.publish(Event{Type: EventComplete, RunID: run.ID, Complete: payload})

	c.logger.Info("run completed",
		slog.String("run_id", run.ID),
		slog.Int("input_tokens", tokens.InputTokens),
		slog.Int("output_tokens", tokens.OutputTokens))
}

func (c *Coordinator) finishFailed(ctx context.Context, run *datatypes.Run, phase datatypes.PhaseName, cause error, a *activeRun) {
	if errors.Is(cause, engine.ErrCancelled) {
		run.Status = datatypes.RunStatusCancelled
	} else {
		run.Status = datatypes.RunStatusError
		run.Error = cause.Error()
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		c.logger.Error("saving run status", slog.String("run_id", run.ID), slog.String("error", err.Error()))
	}

	if run.Status == datatypes.RunStatusError {
		a.hub.publish(Event{Type: EventError, RunID: run.ID, Error: &ErrorPayload{
			Phase:       phase,
			Message:     cause.Error(),
			Recoverable: true,
		}})
	} else {
		a.hub.publish(Event{Type: EventCancelled, RunID: run.ID})
	}

	c.logger.Warn("run finished without report",
		slog.String("run_id", run.ID),
		slog.String("status", string(run.Status)),
		slog.String("phase", string(phase)))
}

// =============================================================================
// Resume support
// =============================================================================

// rebuildContext reconstructs the shared context from stored phase
// records, re-coercing each completed phase's raw output in order.
// Returns the rebuilt context and the index of the first phase to run.
func (c *Coordinator) rebuildContext(ctx context.Context, run datatypes.Run) (phases.Context, int, error) {
	snapshot := phases.Context{Run: run}
	for i, phase := range c.phases {
		record, err := c.store.GetPhaseRecord(ctx, run.ID, phase.Name())
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return snapshot, i, nil
			}
			return snapshot, 0, err
		}
		if record.Status != datatypes.PhaseStatusCompleted || record.Output == nil {
			return snapshot, i, nil
		}
		delta, err := phase.Coerce(ctx, record.Output, snapshot)
		if err != nil {
			return snapshot, i, nil
		}
		delta(&snapshot)
	}
	return snapshot, len(c.phases), nil
}

// replayTerminal pushes the terminal event for a finished run onto ch.
func (c *Coordinator) replayTerminal(ctx context.Context, run *datatypes.Run, ch chan Event) {
	switch run.Status {
	case datatypes.RunStatusCompleted:
		payload := &CompletePayload{ReportID: run.ReportID}
		if run.ReportID != "" {
			if report, err := c.store.GetReport(ctx, run.ReportID); err == nil {
				payload.Summary = report.Summary
				payload.TotalCost = report.TotalCost
				payload.Report = report
			}
		}
		ch <- Event{Type: EventComplete, RunID: run.ID, Complete: payload}
	case datatypes.RunStatusError:
		ch <- Event{Type: EventError, RunID: run.ID, Error: &ErrorPayload{
			Phase:       run.CurrentPhase,
			Message:     run.Error,
			Recoverable: true,
		}}
	case datatypes.RunStatusCancelled:
		ch <- Event{Type: EventCancelled, RunID: run.ID}
	}
	ch <- Event{Type: EventDone, RunID: run.ID}
}

// startHeartbeat emits keep-alive events until the returned stop func
// is called. No-op when the interval is zero.
func (c *Coordinator) startHeartbeat(runID string, a *activeRun) func() {
	if c.opts.HeartbeatInterval <= 0 {
		return func() {}
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(c.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				a.hub.publish(Event{Type: EventHeartbeat, RunID: runID})
			}
		}
	}()
	return func() { close(stop) }
}
