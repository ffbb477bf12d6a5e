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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianPlanner/services/llm"
	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
)

// correctiveInstruction is injected when the model exhausts its output
// budget without requesting any tool. It reliably unsticks models that
// drift into long prose instead of submitting.
const correctiveInstruction = "You ran out of output space. Do not continue explaining. Call the output tool now with your complete structured result."

// resubmitInstruction answers an output submission whose JSON could not
// be decoded, usually because the response was truncated at the token
// limit.
const resubmitInstruction = "Your submission could not be parsed. Call the output tool again with your complete structured result as valid JSON."

// defaultMaxIterations bounds the model/tool loop when the caller does
// not set a limit.
const defaultMaxIterations = 10

// ToolExecutor runs the real side-effect tools requested by the model.
//
// Thread Safety: Implementations must be safe for concurrent use; all
// tool calls from one model turn execute concurrently.
type ToolExecutor interface {
	// Defs returns the tool declarations to advertise to the model.
	Defs() []llm.ToolDef

	// Execute runs one tool call and returns its text result.
	Execute(ctx context.Context, call llm.ToolCall) (string, error)
}

// Limits bounds one phase execution.
type Limits struct {
	// Timeout is the wall-clock budget from phase start. Once exceeded
	// the loop exits to fallback extraction rather than failing.
	Timeout time.Duration

	// ToolTimeout bounds each individual tool execution.
	ToolTimeout time.Duration

	// MaxIterations caps the model/tool round trips.
	MaxIterations int

	// MaxTokens is the per-response token limit. 0 uses the client
	// default.
	MaxTokens int
}

// PhaseRequest is everything the runner needs to execute one phase.
type PhaseRequest struct {
	// Phase names the phase for logs, metrics, and progress events.
	Phase datatypes.PhaseName

	// SystemPrompt and UserPrompt seed the conversation.
	SystemPrompt string
	UserPrompt   string

	// Tools executes the real tools. May be nil for phases with no real
	// tools (the report phase).
	Tools ToolExecutor

	// OutputTool is the designated submission tool. Its captured input
	// is the phase's structured result.
	OutputTool llm.ToolDef

	Limits Limits

	// CancelCheck is polled before each model call and before each
	// batch of tool executions. May be nil.
	CancelCheck func() bool

	// Progress receives scaled progress events. May be nil.
	Progress ProgressSink

	// Window maps this phase onto the overall 0-100 progress bar.
	Window ProgressWindow
}

// PhaseResult is the outcome of a successful phase execution.
type PhaseResult struct {
	// Output is the raw structured result. The phase definition coerces
	// it into its typed form.
	Output map[string]any

	// ToolCalls is the append-only log of executed tool invocations.
	ToolCalls []datatypes.ToolCallLogEntry

	// Duration is wall-clock time for the whole phase.
	Duration time.Duration

	// Tokens is cumulative usage across all model calls in the loop.
	Tokens datatypes.TokenUsage
}

// Runner drives the generic tool-calling loop.
//
// Thread Safety: Safe for concurrent use; each Run call keeps its own
// conversation state.
type Runner struct {
	client llm.ChatClient
}

// NewRunner creates a Runner on the given chat client.
func NewRunner(client llm.ChatClient) *Runner {
	if client == nil {
		panic("engine.NewRunner: client must not be nil")
	}
	return &Runner{client: client}
}

// Run executes one phase to completion.
//
// Description:
//
//	Conducts the tool-calling conversation: sends the prompts and tool
//	schemas, executes requested real tools concurrently, captures the
//	output-submission call, and loops until the model stops requesting
//	tools, the structured result is in hand, the iteration cap is hit,
//	or the wall-clock budget runs out. Tool failures are fed back to the
//	model as error strings and never abort the phase. On loop exit the
//	three-tier fallback extraction runs; only when every tier fails does
//	the phase fail with ErrNoOutput.
//
// Outputs:
//   - *PhaseResult: Output plus execution metadata. Nil on error.
//   - error: ErrCancelled, ErrNoOutput, or a wrapped provider error.
//
// Thread Safety: Safe for concurrent use.
func (r *Runner) Run(ctx context.Context, req PhaseRequest) (*PhaseResult, error) {
	start := time.Now()
	ctx, span := phaseTracer.Start(ctx, "engine.RunPhase")
	span.SetAttributes(attribute.String("phase", string(req.Phase)))
	defer span.End()

	maxIter := req.Limits.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	var deadline time.Time
	if req.Limits.Timeout > 0 {
		deadline = start.Add(req.Limits.Timeout)
	}

	var err error
	defer func() {
		phaseDurationSeconds.WithLabelValues(string(req.Phase), phaseStatusLabel(err)).
			Observe(time.Since(start).Seconds())
	}()

	r.emit(req, ProgressStarted, "Starting "+string(req.Phase)+" phase", "", req.Window.at(0))

	toolDefs := append(r.realToolDefs(req), req.OutputTool)
	messages := []llm.ChatMessage{{Role: "user", Content: req.UserPrompt}}
	opts := llm.ChatOptions{MaxTokens: req.Limits.MaxTokens}

	var (
		captured map[string]any
		final    *llm.ChatResult
		toolLog  []datatypes.ToolCallLogEntry
		tokens   datatypes.TokenUsage
	)

	for iter := 0; iter < maxIter; iter++ {
		if timedOut(deadline) {
			slog.Warn("phase timeout reached, moving to extraction",
				slog.String("phase", string(req.Phase)),
				slog.Int("iteration", iter),
			)
			break
		}

		// Cancellation check, point one: before the outbound model call.
		if r.cancelled(ctx, req) {
			err = ErrCancelled
			return nil, err
		}

		r.emit(req, ProgressThinking, "Working on "+string(req.Phase), "",
			req.Window.at(float64(iter)/float64(maxIter)))

		var result *llm.ChatResult
		result, err = callModelWithRetry(ctx, r.client, req.SystemPrompt, messages, toolDefs, opts)
		recordModelCall(err)
		if err != nil {
			if errors.Is(err, context.Canceled) && r.cancelled(ctx, req) {
				err = ErrCancelled
				return nil, err
			}
			err = fmt.Errorf("%s phase: model call: %w", req.Phase, err)
			return nil, err
		}

		final = result
		tokens.Add(datatypes.TokenUsage{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
		})
		recordTokens(result.Usage.InputTokens, result.Usage.OutputTokens)

		outputCalls, realCalls := partitionCalls(result.ToolCalls, req.OutputTool.Name)

		// Capture the candidate structured result immediately; a later
		// duplicate submission never overwrites the first.
		if captured == nil && len(outputCalls) > 0 {
			captured = decodeOutputJSON([]byte(outputCalls[0].InputString()))
		}

		if result.StopReason != llm.StopToolUse && result.StopReason != llm.StopMaxTokens {
			break
		}

		if len(realCalls) == 0 && len(outputCalls) == 0 {
			// Out of output budget with nothing actionable.
			messages = append(messages,
				llm.ChatMessage{Role: "assistant", Content: result.Content},
				llm.ChatMessage{Role: "user", Content: correctiveInstruction},
			)
			continue
		}

		if len(realCalls) == 0 && captured == nil {
			// The turn's only calls were output submissions that failed
			// to decode. Answer them and ask for a clean resubmission;
			// re-sending the unchanged conversation would just repeat
			// the truncation.
			messages = append(messages, llm.ChatMessage{
				Role:      "assistant",
				Content:   result.Content,
				ToolCalls: result.ToolCalls,
			})
			for _, call := range outputCalls {
				messages = append(messages, llm.ChatMessage{
					Role:       "tool",
					ToolCallID: call.ID,
					Content:    resubmitInstruction,
				})
			}
			continue
		}

		if len(realCalls) > 0 {
			if timedOut(deadline) {
				break
			}
			// Cancellation check, point two: before tool execution.
			if r.cancelled(ctx, req) {
				err = ErrCancelled
				return nil, err
			}

			r.emit(req, ProgressToolCall,
				fmt.Sprintf("Looking things up (%d tools)", len(realCalls)),
				toolNames(realCalls),
				req.Window.at(float64(iter)/float64(maxIter)))

			toolResults := r.executeConcurrently(ctx, req.Tools, realCalls, req.Limits.ToolTimeout, &toolLog)

			messages = append(messages, llm.ChatMessage{
				Role:      "assistant",
				Content:   result.Content,
				ToolCalls: result.ToolCalls,
			})
			for i, call := range realCalls {
				messages = append(messages, llm.ChatMessage{
					Role:       "tool",
					ToolCallID: call.ID,
					Content:    toolResults[i],
				})
			}
			// The API requires a result for every requested call,
			// including output submissions executed alongside real tools.
			for _, call := range outputCalls {
				messages = append(messages, llm.ChatMessage{
					Role:       "tool",
					ToolCallID: call.ID,
					Content:    "Output received.",
				})
			}
		}

		if captured != nil {
			// Structured result in hand; no further round trip.
			break
		}
	}

	output, tier := extractOutput(captured, final, req.OutputTool.Name)
	recordExtractionTier(tier)
	if output == nil {
		r.emit(req, ProgressError, string(req.Phase)+" produced no result", "", req.Window.at(1))
		err = fmt.Errorf("%s phase: %w", req.Phase, ErrNoOutput)
		return nil, err
	}

	if tier != "captured" {
		slog.Info("phase output recovered via fallback",
			slog.String("phase", string(req.Phase)),
			slog.String("tier", tier),
		)
	}

	r.emit(req, ProgressCompleted, capitalize(string(req.Phase))+" phase complete", "", req.Window.at(1))

	return &PhaseResult{
		Output:    output,
		ToolCalls: toolLog,
		Duration:  time.Since(start),
		Tokens:    tokens,
	}, nil
}

// executeConcurrently runs all real tool calls from one model turn in
// parallel and returns their results in request order. A failing tool
// contributes an error string, never an abort.
func (r *Runner) executeConcurrently(ctx context.Context, exec ToolExecutor, calls []llm.ToolCall, toolTimeout time.Duration, log *[]datatypes.ToolCallLogEntry) []string {
	results := make([]string, len(calls))
	entries := make([]datatypes.ToolCallLogEntry, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		idx, c := i, call
		g.Go(func() error {
			callCtx := gctx
			if toolTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(gctx, toolTimeout)
				defer cancel()
			}

			started := time.Now()
			var out string
			var execErr error
			if exec == nil {
				execErr = fmt.Errorf("no tools available in this phase")
			} else {
				out, execErr = exec.Execute(callCtx, c)
			}
			elapsed := time.Since(started)

			entry := datatypes.ToolCallLogEntry{
				Tool:     c.Name,
				Input:    c.InputString(),
				Duration: elapsed,
				Success:  execErr == nil,
			}
			if execErr != nil {
				entry.Error = execErr.Error()
				results[idx] = "Error: " + execErr.Error()
				slog.Warn("tool execution failed",
					slog.String("tool", c.Name),
					slog.Duration("duration", elapsed),
					slog.String("error", execErr.Error()),
				)
			} else {
				results[idx] = out
			}
			entries[idx] = entry
			recordToolCall(c.Name, execErr == nil)
			return nil
		})
	}
	_ = g.Wait()

	*log = append(*log, entries...)
	return results
}

// realToolDefs returns the declarations of the real tools, if any.
func (r *Runner) realToolDefs(req PhaseRequest) []llm.ToolDef {
	if req.Tools == nil {
		return nil
	}
	return req.Tools.Defs()
}

// cancelled polls both the caller's cancellation check and the context.
func (r *Runner) cancelled(ctx context.Context, req PhaseRequest) bool {
	if req.CancelCheck != nil && req.CancelCheck() {
		return true
	}
	return ctx.Err() != nil
}

func (r *Runner) emit(req PhaseRequest, kind ProgressKind, message, detail string, percent int) {
	if req.Progress == nil {
		return
	}
	req.Progress(ProgressEvent{
		Phase:   req.Phase,
		Kind:    kind,
		Message: message,
		Detail:  detail,
		Percent: percent,
	})
}

// timedOut reports whether the wall-clock deadline has passed.
func timedOut(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}

// partitionCalls splits a turn's tool calls into output submissions and
// real tool calls.
func partitionCalls(calls []llm.ToolCall, outputToolName string) (output, real []llm.ToolCall) {
	for _, call := range calls {
		if call.Name == outputToolName {
			output = append(output, call)
		} else {
			real = append(real, call)
		}
	}
	return output, real
}

// capitalize uppercases the first ASCII letter for display strings.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// toolNames renders the tool names of a turn for progress detail.
func toolNames(calls []llm.ToolCall) string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}
