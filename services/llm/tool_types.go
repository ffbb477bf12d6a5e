// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import "encoding/json"

// ToolDef declares one tool the model may call.
//
// Description:
//
//	Follows the Anthropic tool schema: a name, a description, and a
//	JSON-Schema-like input_schema object. A phase's "output tool" uses the
//	same mechanism; its captured input is the phase's structured result
//	rather than triggering a side effect.
//
// Thread Safety: ToolDef is immutable and safe for concurrent read access.
type ToolDef struct {
	// Name is the tool name the model will call.
	Name string `json:"name"`

	// Description explains what the tool does and when to use it.
	Description string `json:"description"`

	// InputSchema is the JSON Schema for the tool's input object.
	InputSchema Schema `json:"input_schema"`
}

// Schema is a JSON-Schema-like object describing a tool's input.
type Schema struct {
	// Type is always "object" for tool inputs.
	Type string `json:"type"`

	// Properties maps field names to their definitions.
	Properties map[string]SchemaProp `json:"properties,omitempty"`

	// Required lists field names that must be provided.
	Required []string `json:"required,omitempty"`
}

// SchemaProp defines a single field in a tool input schema.
type SchemaProp struct {
	Type        string                `json:"type"`
	Description string                `json:"description,omitempty"`
	Enum        []string              `json:"enum,omitempty"`
	Items       *SchemaProp           `json:"items,omitempty"`
	Properties  map[string]SchemaProp `json:"properties,omitempty"`
}

// ChatMessage is a conversation message that carries tool-call metadata.
//
// Description:
//
//	Regular messages use Role + Content. Assistant messages that requested
//	tools carry ToolCalls; tool results carry ToolCallID. This is the
//	provider-neutral shape the phase runner builds its conversation from;
//	the client converts it to Anthropic content blocks on the wire.
type ChatMessage struct {
	// Role is "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content,omitempty"`

	// ToolCalls contains tool invocations (assistant messages only).
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-result message back to its request.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned identifier for this call.
	ID string `json:"id"`

	// Name is the tool to invoke.
	Name string `json:"name"`

	// Input is the raw JSON input object for the tool.
	Input json.RawMessage `json:"input"`
}

// InputString returns the call input as a JSON string, "{}" if empty.
func (t *ToolCall) InputString() string {
	if len(t.Input) == 0 {
		return "{}"
	}
	return string(t.Input)
}

// Stop reasons surfaced by ChatResult.StopReason, verbatim from the API.
const (
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
	StopEndTurn   = "end_turn"
)

// Usage is the token accounting for one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatResult is the outcome of one ChatWithTools round trip.
//
// Thread Safety: ChatResult is safe for concurrent read access.
type ChatResult struct {
	// Content is the concatenated text blocks (may be empty).
	Content string

	// ToolCalls are the tool_use blocks, in response order.
	ToolCalls []ToolCall

	// StopReason is the API stop_reason, unmodified. The phase runner
	// branches on tool_use and max_tokens.
	StopReason string

	// Usage is this call's token accounting.
	Usage Usage
}
