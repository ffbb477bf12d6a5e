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
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianPlanner/services/llm"
	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
)

// scriptedClient returns canned responses in order, then repeats the last.
type scriptedClient struct {
	mu        sync.Mutex
	responses []*llm.ChatResult
	errs      []error
	calls     int

	// delay stalls every call, for exercising deadline behavior.
	delay time.Duration

	// lastMessages records the conversation of the most recent call.
	lastMessages []llm.ChatMessage
}

func (c *scriptedClient) ChatWithTools(ctx context.Context, system string, messages []llm.ChatMessage, tools []llm.ToolDef, opts llm.ChatOptions) (*llm.ChatResult, error) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	c.lastMessages = append([]llm.ChatMessage(nil), messages...)

	if idx < len(c.errs) && c.errs[idx] != nil {
		return nil, c.errs[idx]
	}
	return c.responses[idx], nil
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// recordingExecutor tracks invocations and their time windows.
type recordingExecutor struct {
	delay time.Duration
	fail  map[string]error

	mu        sync.Mutex
	calls     atomic.Int64
	intervals [][2]time.Time
}

func (e *recordingExecutor) Defs() []llm.ToolDef {
	return []llm.ToolDef{
		{Name: "web_search", Description: "search", InputSchema: llm.Schema{Type: "object"}},
		{Name: "code_lookup", Description: "codes", InputSchema: llm.Schema{Type: "object"}},
	}
}

func (e *recordingExecutor) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	e.calls.Add(1)
	start := time.Now()
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	e.mu.Lock()
	e.intervals = append(e.intervals, [2]time.Time{start, time.Now()})
	e.mu.Unlock()

	if err, ok := e.fail[call.Name]; ok {
		return "", err
	}
	return "result for " + call.Name, nil
}

func outputToolDef() llm.ToolDef {
	return llm.ToolDef{
		Name:        "submit_result",
		Description: "Submit the structured result.",
		InputSchema: llm.Schema{Type: "object"},
	}
}

func toolUseResult(calls ...llm.ToolCall) *llm.ChatResult {
	return &llm.ChatResult{
		ToolCalls:  calls,
		StopReason: llm.StopToolUse,
		Usage:      llm.Usage{InputTokens: 100, OutputTokens: 50},
	}
}

func outputCall(payload string) llm.ToolCall {
	return llm.ToolCall{ID: "out-1", Name: "submit_result", Input: json.RawMessage(payload)}
}

func baseRequest(tools ToolExecutor) PhaseRequest {
	return PhaseRequest{
		Phase:      datatypes.PhaseResearch,
		UserPrompt: "plan it",
		Tools:      tools,
		OutputTool: outputToolDef(),
		Limits:     Limits{Timeout: 30 * time.Second, MaxIterations: 5},
	}
}

func TestRun_CapturesOutputCall(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResult{
		toolUseResult(outputCall(`{"findings": ["a"], "proRequired": true}`)),
	}}
	exec := &recordingExecutor{}

	result, err := NewRunner(client).Run(context.Background(), baseRequest(exec))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if result.Output["proRequired"] != true {
		t.Errorf("Output = %v, want proRequired true", result.Output)
	}
	if client.callCount() != 1 {
		t.Errorf("model calls = %d, want 1 (no round trip after capture)", client.callCount())
	}
	if result.Tokens.InputTokens != 100 || result.Tokens.OutputTokens != 50 {
		t.Errorf("Tokens = %+v", result.Tokens)
	}
	if n := exec.calls.Load(); n != 0 {
		t.Errorf("executor calls = %d, want 0", n)
	}
}

func TestRun_CancelledBeforeFirstCall(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResult{
		toolUseResult(outputCall(`{}`)),
	}}
	exec := &recordingExecutor{}

	req := baseRequest(exec)
	req.CancelCheck = func() bool { return true }

	_, err := NewRunner(client).Run(context.Background(), req)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if client.callCount() != 0 {
		t.Errorf("model calls = %d, want 0", client.callCount())
	}
	if n := exec.calls.Load(); n != 0 {
		t.Errorf("executor calls = %d, want 0 (never invoked after cancellation)", n)
	}
}

func TestRun_ConcurrentToolExecution(t *testing.T) {
	const toolCount = 3
	var calls []llm.ToolCall
	for i := 0; i < toolCount; i++ {
		calls = append(calls, llm.ToolCall{
			ID:    fmt.Sprintf("t%d", i),
			Name:  "web_search",
			Input: json.RawMessage(`{"query":"x"}`),
		})
	}

	client := &scriptedClient{responses: []*llm.ChatResult{
		toolUseResult(calls...),
		toolUseResult(outputCall(`{"done": true}`)),
	}}
	exec := &recordingExecutor{delay: 50 * time.Millisecond}

	start := time.Now()
	result, err := NewRunner(client).Run(context.Background(), baseRequest(exec))
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if n := exec.calls.Load(); n != toolCount {
		t.Errorf("executor calls = %d, want %d", n, toolCount)
	}
	// Serialized execution would take at least toolCount * delay.
	if elapsed >= time.Duration(toolCount)*exec.delay {
		t.Errorf("elapsed %v suggests serialized tool execution", elapsed)
	}
	// All intervals must overlap the first one.
	exec.mu.Lock()
	defer exec.mu.Unlock()
	first := exec.intervals[0]
	for i, iv := range exec.intervals[1:] {
		if iv[0].After(first[1]) || first[0].After(iv[1]) {
			t.Errorf("interval %d does not overlap the first", i+1)
		}
	}
	if len(result.ToolCalls) != toolCount {
		t.Errorf("tool log entries = %d, want %d", len(result.ToolCalls), toolCount)
	}
}

func TestRun_ToolFailureFedBackNotFatal(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResult{
		toolUseResult(
			llm.ToolCall{ID: "a", Name: "web_search", Input: json.RawMessage(`{}`)},
			llm.ToolCall{ID: "b", Name: "code_lookup", Input: json.RawMessage(`{}`)},
		),
		toolUseResult(outputCall(`{"done": true}`)),
	}}
	exec := &recordingExecutor{fail: map[string]error{
		"code_lookup": errors.New("service unavailable"),
	}}

	result, err := NewRunner(client).Run(context.Background(), baseRequest(exec))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// The second model call must contain the error string as a tool result.
	var sawError bool
	for _, msg := range client.lastMessages {
		if msg.Role == "tool" && msg.ToolCallID == "b" {
			if msg.Content != "Error: service unavailable" {
				t.Errorf("tool result = %q", msg.Content)
			}
			sawError = true
		}
	}
	if !sawError {
		t.Error("failed tool result not fed back to the model")
	}

	// Both calls logged, one success and one failure.
	if len(result.ToolCalls) != 2 {
		t.Fatalf("tool log entries = %d, want 2", len(result.ToolCalls))
	}
	var failures int
	for _, entry := range result.ToolCalls {
		if !entry.Success {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("failed entries = %d, want 1", failures)
	}
}

func TestRun_CorrectiveInjectionOnStall(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResult{
		{Content: "Let me think about this at length...", StopReason: llm.StopMaxTokens},
		toolUseResult(outputCall(`{"done": true}`)),
	}}

	_, err := NewRunner(client).Run(context.Background(), baseRequest(&recordingExecutor{}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var sawCorrective bool
	for _, msg := range client.lastMessages {
		if msg.Role == "user" && msg.Content == correctiveInstruction {
			sawCorrective = true
		}
	}
	if !sawCorrective {
		t.Error("corrective instruction not injected after stall")
	}
}

func TestRun_TimeoutExitsToExtractionWithOutputInHand(t *testing.T) {
	// The model's only turn outlives the wall-clock budget but carries
	// both a real tool call and the submission. The loop must break
	// before the tool fan-out and still succeed via extraction.
	client := &scriptedClient{
		delay: 80 * time.Millisecond,
		responses: []*llm.ChatResult{
			toolUseResult(
				llm.ToolCall{ID: "a", Name: "web_search", Input: json.RawMessage(`{}`)},
				outputCall(`{"done": true}`),
			),
		},
	}
	exec := &recordingExecutor{}

	req := baseRequest(exec)
	req.Limits.Timeout = 40 * time.Millisecond

	result, err := NewRunner(client).Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Output["done"] != true {
		t.Errorf("Output = %v", result.Output)
	}
	if client.callCount() != 1 {
		t.Errorf("model calls = %d, want 1", client.callCount())
	}
	if n := exec.calls.Load(); n != 0 {
		t.Errorf("executor calls = %d, want 0 (deadline passed before fan-out)", n)
	}
}

func TestRun_TimeoutWithNothingInHandIsNoOutput(t *testing.T) {
	// Same deadline overrun, but the turn carried no submission and no
	// recoverable text. The failure is ErrNoOutput, not a timeout error.
	client := &scriptedClient{
		delay: 80 * time.Millisecond,
		responses: []*llm.ChatResult{
			toolUseResult(llm.ToolCall{ID: "a", Name: "web_search", Input: json.RawMessage(`{}`)}),
		},
	}
	exec := &recordingExecutor{}

	req := baseRequest(exec)
	req.Limits.Timeout = 40 * time.Millisecond

	_, err := NewRunner(client).Run(context.Background(), req)
	if !errors.Is(err, ErrNoOutput) {
		t.Fatalf("err = %v, want ErrNoOutput", err)
	}
	if n := exec.calls.Load(); n != 0 {
		t.Errorf("executor calls = %d, want 0", n)
	}
}

func TestRun_ResubmitRequestedOnUndecodableOutput(t *testing.T) {
	// A truncated submission is the turn's only tool call. The loop must
	// answer it with a resubmission request instead of replaying the
	// unchanged conversation until the iteration cap.
	client := &scriptedClient{responses: []*llm.ChatResult{
		{
			ToolCalls:  []llm.ToolCall{outputCall(`{"steps": ["demo", "rough-`)},
			StopReason: llm.StopMaxTokens,
		},
		toolUseResult(outputCall(`{"done": true}`)),
	}}

	result, err := NewRunner(client).Run(context.Background(), baseRequest(&recordingExecutor{}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Output["done"] != true {
		t.Errorf("Output = %v", result.Output)
	}
	if client.callCount() != 2 {
		t.Errorf("model calls = %d, want 2", client.callCount())
	}

	var sawResubmit bool
	for _, msg := range client.lastMessages {
		if msg.Role == "tool" && msg.ToolCallID == "out-1" && msg.Content == resubmitInstruction {
			sawResubmit = true
		}
	}
	if !sawResubmit {
		t.Error("undecodable submission not answered with a resubmission request")
	}
}

func TestRun_TransientErrorsRetried(t *testing.T) {
	overloaded := &llm.StatusError{StatusCode: 529, Type: "overloaded_error", Message: "busy"}
	client := &scriptedClient{
		responses: []*llm.ChatResult{nil, nil, toolUseResult(outputCall(`{"ok": true}`))},
		errs:      []error{overloaded, overloaded, nil},
	}

	result, err := NewRunner(client).Run(context.Background(), baseRequest(&recordingExecutor{}))
	if err != nil {
		t.Fatalf("Run returned error after retries: %v", err)
	}
	if client.callCount() != 3 {
		t.Errorf("model calls = %d, want 3 (two retries)", client.callCount())
	}
	if result.Output["ok"] != true {
		t.Errorf("Output = %v", result.Output)
	}
}

func TestRun_ClientErrorNotRetried(t *testing.T) {
	badRequest := &llm.StatusError{StatusCode: 400, Type: "invalid_request_error", Message: "bad"}
	client := &scriptedClient{
		responses: []*llm.ChatResult{nil},
		errs:      []error{badRequest},
	}

	_, err := NewRunner(client).Run(context.Background(), baseRequest(&recordingExecutor{}))
	if err == nil {
		t.Fatal("expected error")
	}
	if client.callCount() != 1 {
		t.Errorf("model calls = %d, want 1 (no retry of client errors)", client.callCount())
	}
}

func TestRun_FallbackToFinalResponseOutput(t *testing.T) {
	// Model submits the output but with end_turn, so the loop exits
	// without the capture branch having looped again.
	client := &scriptedClient{responses: []*llm.ChatResult{
		{
			ToolCalls:  []llm.ToolCall{outputCall(`{"recovered": true}`)},
			StopReason: llm.StopEndTurn,
		},
	}}

	result, err := NewRunner(client).Run(context.Background(), baseRequest(&recordingExecutor{}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Output["recovered"] != true {
		t.Errorf("Output = %v", result.Output)
	}
}

func TestRun_RegexFallbackFromFreeText(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResult{
		{
			Content:    "Here is the result: {\"fromText\": true} hope that helps",
			StopReason: llm.StopEndTurn,
		},
	}}

	result, err := NewRunner(client).Run(context.Background(), baseRequest(&recordingExecutor{}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Output["fromText"] != true {
		t.Errorf("Output = %v", result.Output)
	}
}

func TestRun_NoOutputIsFatal(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResult{
		{Content: "I cannot help with that.", StopReason: llm.StopEndTurn},
	}}

	_, err := NewRunner(client).Run(context.Background(), baseRequest(&recordingExecutor{}))
	if !errors.Is(err, ErrNoOutput) {
		t.Fatalf("err = %v, want ErrNoOutput", err)
	}
}

func TestRun_ProgressWindowScaling(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResult{
		toolUseResult(outputCall(`{}`)),
	}}

	var events []ProgressEvent
	req := baseRequest(&recordingExecutor{})
	req.Window = ProgressWindow{Base: 25, Range: 30}
	req.Progress = func(e ProgressEvent) { events = append(events, e) }

	if _, err := NewRunner(client).Run(context.Background(), req); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(events) == 0 {
		t.Fatal("no progress events emitted")
	}
	if events[0].Kind != ProgressStarted || events[0].Percent != 25 {
		t.Errorf("first event = %+v, want started at 25", events[0])
	}
	last := events[len(events)-1]
	if last.Kind != ProgressCompleted || last.Percent != 55 {
		t.Errorf("last event = %+v, want completed at 55", last)
	}
	for _, e := range events {
		if e.Percent < 25 || e.Percent > 55 {
			t.Errorf("event %+v outside window [25, 55]", e)
		}
	}
}

func TestScanTextForJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"plain object", `{"a": 1}`, true},
		{"embedded in prose", `result: {"a": {"b": 2}} done`, true},
		{"brace in string", `{"s": "curly } inside"}`, true},
		{"no json", "nothing here", false},
		{"unbalanced", `{"a": 1`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scanTextForJSON(tt.text)
			if (got != nil) != tt.want {
				t.Errorf("scanTextForJSON(%q) = %v, want found=%v", tt.text, got, tt.want)
			}
		})
	}
}
