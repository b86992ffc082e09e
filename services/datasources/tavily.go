// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datasources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/awnumar/memguard"
)

// DefaultTavilyBaseURL is the Tavily search API endpoint.
const DefaultTavilyBaseURL = "https://api.tavily.com"

// TavilyClient performs web search through the Tavily API.
//
// Description:
//
//	Tavily is the research backend for the web-search and news tools.
//	The client is only constructed when a session presents a Tavily key;
//	sessions without one simply have no research tools. The key is sealed
//	in a memguard enclave at construction and decrypted only while each
//	search request is being sent.
//
// Thread Safety: TavilyClient is safe for concurrent use.
type TavilyClient struct {
	httpClient *http.Client
	apiKey     *memguard.Enclave
	baseURL    string
}

// NewTavilyClient creates a TavilyClient for the given API key.
func NewTavilyClient(apiKey string) (*TavilyClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("tavily: API key is missing")
	}
	return &TavilyClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     memguard.NewEnclave([]byte(apiKey)),
		baseURL:    DefaultTavilyBaseURL,
	}, nil
}

// NewTavilyClientWithConfig creates a TavilyClient with an explicit base URL.
// Useful for testing with mock servers. A keyless client can list tool
// specs but fails on Search.
func NewTavilyClientWithConfig(apiKey, baseURL string) *TavilyClient {
	var key *memguard.Enclave
	if apiKey != "" {
		key = memguard.NewEnclave([]byte(apiKey))
	}
	return &TavilyClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     key,
		baseURL:    baseURL,
	}
}

// SearchOptions tunes a Tavily search request.
type SearchOptions struct {
	// Depth is "basic" or "advanced". Empty selects "basic".
	Depth string
	// Topic is "general" or "news". Empty selects "general".
	Topic string
	// MaxResults caps returned results. Zero selects 5.
	MaxResults int
	// IncludeAnswer asks Tavily for a synthesized answer string.
	IncludeAnswer bool
	// Days restricts news results to the trailing window. Zero disables.
	Days int
}

// SearchHit is one search result.
type SearchHit struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchResult is a full Tavily search response.
type SearchResult struct {
	Query   string      `json:"query"`
	Answer  string      `json:"answer,omitempty"`
	Results []SearchHit `json:"results"`
}

type tavilySearchRequest struct {
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth,omitempty"`
	Topic         string `json:"topic,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`
	IncludeAnswer bool   `json:"include_answer,omitempty"`
	Days          int    `json:"days,omitempty"`
}

// Search runs one Tavily search.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - query: Non-empty search query.
//   - opts: Search tuning; zero value selects Tavily defaults.
//
// Outputs:
//   - *SearchResult: Hits and optional synthesized answer.
//   - error: Non-nil on transport or API failure.
func (c *TavilyClient) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("tavily: query is empty")
	}

	reqBody, err := json.Marshal(tavilySearchRequest{
		Query:         query,
		SearchDepth:   opts.Depth,
		Topic:         opts.Topic,
		MaxResults:    opts.MaxResults,
		IncludeAnswer: opts.IncludeAnswer,
		Days:          opts.Days,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/search", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("tavily: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.apiKey == nil {
		return nil, fmt.Errorf("tavily: API key is missing")
	}
	key, err := c.apiKey.Open()
	if err != nil {
		return nil, fmt.Errorf("tavily: opening API key: %w", err)
	}
	// Keep the buffer alive until the request has been written out.
	defer key.Destroy()
	req.Header.Set("Authorization", "Bearer "+key.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tavily: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily: status %d: %s", resp.StatusCode, string(body))
	}

	var result SearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("tavily: parsing response: %w", err)
	}
	if result.Query == "" {
		result.Query = query
	}
	return &result, nil
}
