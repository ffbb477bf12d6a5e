// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianPlanner/services/llm"
	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
)

// =============================================================================
// Building Code Lookup
// =============================================================================

// CodeLookupTool searches for building code and permit requirements.
// Two variants exist: a national lookup against model codes (NEC, IRC,
// IPC) and a local lookup scoped to the run's jurisdiction.
type CodeLookupTool struct {
	client   *BraveSearchClient
	location datatypes.Location
	local    bool
}

// NewNationalCodeLookupTool creates the model-code lookup tool.
func NewNationalCodeLookupTool(client *BraveSearchClient) *CodeLookupTool {
	return &CodeLookupTool{client: client}
}

// NewLocalCodeLookupTool creates a jurisdiction-scoped lookup tool.
func NewLocalCodeLookupTool(client *BraveSearchClient, location datatypes.Location) *CodeLookupTool {
	return &CodeLookupTool{client: client, location: location, local: true}
}

func (t *CodeLookupTool) Def() llm.ToolDef {
	if t.local {
		return llm.ToolDef{
			Name:        "local_code_lookup",
			Description: "Look up local building code amendments, permit, and inspection requirements for a topic in the project's jurisdiction.",
			InputSchema: codeLookupSchema(),
		}
	}
	return llm.ToolDef{
		Name:        "national_code_lookup",
		Description: "Look up national model building code requirements (NEC, IRC, IPC) for a topic.",
		InputSchema: codeLookupSchema(),
	}
}

func codeLookupSchema() llm.Schema {
	return llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProp{
			"topic": {Type: "string", Description: "What to look up, e.g. 'deck footing depth' or 'bathroom GFCI requirements'."},
		},
		Required: []string{"topic"},
	}
}

func (t *CodeLookupTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("code_lookup: invalid input: %w", err)
	}
	if strings.TrimSpace(args.Topic) == "" {
		return "", fmt.Errorf("code_lookup: topic must not be empty")
	}

	query := fmt.Sprintf("%s national building code requirements NEC IRC IPC", args.Topic)
	if t.local {
		query = fmt.Sprintf("%s building code permit requirements %s", args.Topic, t.location.String())
	}
	results, err := t.client.Search(ctx, query)
	if err != nil {
		return "", err
	}
	return FormatSearchResults(results), nil
}

// =============================================================================
// Video Search
// =============================================================================

// VideoSearchTool finds tutorial videos for a technique.
type VideoSearchTool struct {
	client *BraveSearchClient
}

// NewVideoSearchTool creates a video search tool.
func NewVideoSearchTool(client *BraveSearchClient) *VideoSearchTool {
	return &VideoSearchTool{client: client}
}

func (t *VideoSearchTool) Def() llm.ToolDef {
	return llm.ToolDef{
		Name:        "video_search",
		Description: "Find tutorial videos demonstrating a home improvement technique.",
		InputSchema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.SchemaProp{
				"technique": {Type: "string", Description: "The technique to find tutorials for."},
			},
			Required: []string{"technique"},
		},
	}
}

func (t *VideoSearchTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Technique string `json:"technique"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("video_search: invalid input: %w", err)
	}
	if strings.TrimSpace(args.Technique) == "" {
		return "", fmt.Errorf("video_search: technique must not be empty")
	}

	results, err := t.client.Search(ctx, args.Technique+" tutorial video how to")
	if err != nil {
		return "", err
	}
	return FormatSearchResults(results), nil
}

// =============================================================================
// Local Store Search
// =============================================================================

// StoreSearchTool finds hardware stores near the run's location that
// carry a given item.
type StoreSearchTool struct {
	client   *BraveSearchClient
	location datatypes.Location
}

// NewStoreSearchTool creates a store search tool bound to one location.
func NewStoreSearchTool(client *BraveSearchClient, location datatypes.Location) *StoreSearchTool {
	return &StoreSearchTool{client: client, location: location}
}

func (t *StoreSearchTool) Def() llm.ToolDef {
	return llm.ToolDef{
		Name:        "store_search",
		Description: "Find local hardware stores carrying an item near the project location.",
		InputSchema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.SchemaProp{
				"item": {Type: "string", Description: "The item to find locally."},
			},
			Required: []string{"item"},
		},
	}
}

func (t *StoreSearchTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Item string `json:"item"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("store_search: invalid input: %w", err)
	}
	if strings.TrimSpace(args.Item) == "" {
		return "", fmt.Errorf("store_search: item must not be empty")
	}

	query := fmt.Sprintf("buy %s hardware store near %s", args.Item, t.location.String())
	results, err := t.client.Search(ctx, query)
	if err != nil {
		return "", err
	}
	return FormatSearchResults(results), nil
}
