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
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianPlanner/services/llm"
	"github.com/AleutianAI/AleutianPlanner/services/planner/pricing"
)

// braveSearchURL is the Brave Search API endpoint.
const braveSearchURL = "https://api.search.brave.com/res/v1/web/search"

// maxSearchResults caps results per query. Enough signal for price
// aggregation and research without bloating the conversation.
const maxSearchResults = 8

// BraveSearchClient queries the Brave Search API. It implements
// pricing.Searcher and backs the web_search, code lookup, video search,
// and store search tools.
//
// Thread Safety: Safe for concurrent use.
type BraveSearchClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewBraveSearchClient reads BRAVE_SEARCH_API_KEY from the environment.
// A missing key is not an error: the client is returned credential-less
// and every consumer degrades gracefully.
func NewBraveSearchClient() *BraveSearchClient {
	apiKey := strings.TrimSpace(os.Getenv("BRAVE_SEARCH_API_KEY"))
	if apiKey == "" {
		if content, err := os.ReadFile("/run/secrets/brave_search_api_key"); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read Brave Search API Key from Podman Secrets")
		}
	}
	if apiKey == "" {
		slog.Warn("Brave Search API Key is missing; live search disabled")
	}
	return &BraveSearchClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiKey:     apiKey,
		baseURL:    braveSearchURL,
	}
}

// NewBraveSearchClientWithConfig creates a client with explicit settings.
// Useful for tests with httptest servers.
func NewBraveSearchClientWithConfig(apiKey, baseURL string) *BraveSearchClient {
	return &BraveSearchClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiKey:     apiKey,
		baseURL:    baseURL,
	}
}

// HasCredentials reports whether an API key is configured.
func (c *BraveSearchClient) HasCredentials() bool {
	return c.apiKey != ""
}

// braveResponse is the subset of the Brave response we read.
type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string   `json:"title"`
			Description string   `json:"description"`
			URL         string   `json:"url"`
			ExtraSnippets []string `json:"extra_snippets,omitempty"`
		} `json:"results"`
	} `json:"web"`
}

// Search runs one web search.
//
// Outputs:
//   - []pricing.SearchResult: Up to maxSearchResults hits. Never nil on
//     success, may be empty.
//   - error: Non-nil on missing credentials, transport, or API failure.
func (c *BraveSearchClient) Search(ctx context.Context, query string) ([]pricing.SearchResult, error) {
	if !c.HasCredentials() {
		return nil, fmt.Errorf("web search: no API credentials configured")
	}

	endpoint := c.baseURL + "?q=" + url.QueryEscape(query) + "&count=" + fmt.Sprint(maxSearchResults)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("web search: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("web search: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search: status %d: %s", resp.StatusCode, llm.SafeLogString(string(body)))
	}

	var parsed braveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("web search: parsing response: %w", err)
	}

	results := make([]pricing.SearchResult, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		results = append(results, pricing.SearchResult{
			Title:       r.Title,
			Description: r.Description,
			Snippets:    r.ExtraSnippets,
			URL:         r.URL,
		})
	}

	slog.Debug("web search completed",
		slog.String("query", query),
		slog.Int("results", len(results)),
	)
	return results, nil
}

// =============================================================================
// web_search Tool
// =============================================================================

// WebSearchTool exposes the search client to the model.
type WebSearchTool struct {
	client *BraveSearchClient
}

// NewWebSearchTool wraps a search client as a model-callable tool.
func NewWebSearchTool(client *BraveSearchClient) *WebSearchTool {
	return &WebSearchTool{client: client}
}

func (t *WebSearchTool) Def() llm.ToolDef {
	return llm.ToolDef{
		Name:        "web_search",
		Description: "Search the web. Returns titles, descriptions, and URLs. Use for product availability, technique guides, and local requirements.",
		InputSchema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.SchemaProp{
				"query": {Type: "string", Description: "The search query."},
			},
			Required: []string{"query"},
		},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("web_search: invalid input: %w", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", fmt.Errorf("web_search: query must not be empty")
	}

	results, err := t.client.Search(ctx, args.Query)
	if err != nil {
		return "", err
	}
	return FormatSearchResults(results), nil
}

// FormatSearchResults renders results as compact text for the model.
func FormatSearchResults(results []pricing.SearchResult) string {
	if len(results) == 0 {
		return "No results found."
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n%s\n%s\n", i+1, r.Title, r.Description, r.URL)
		if i+1 < len(results) {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
