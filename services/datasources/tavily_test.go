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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTavilyClient_RequiresKey(t *testing.T) {
	_, err := NewTavilyClient("")
	require.Error(t, err)

	_, err = NewTavilyClient("tvly-test1234567890")
	require.NoError(t, err)
}

func TestTavilyClient_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		require.Equal(t, "Bearer tvly-test1234567890", r.Header.Get("Authorization"))

		var req tavilySearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "AAPL competitors", req.Query)
		require.Equal(t, "advanced", req.SearchDepth)
		require.Equal(t, 3, req.MaxResults)
		require.True(t, req.IncludeAnswer)

		fmt.Fprint(w, `{
			"query":"AAPL competitors",
			"answer":"Apple competes with Samsung and Google.",
			"results":[
				{"title":"Apple rivals","url":"https://example.com/a","content":"...","score":0.91},
				{"title":"Smartphone market","url":"https://example.com/b","content":"...","score":0.84}
			]
		}`)
	}))
	defer server.Close()

	client := NewTavilyClientWithConfig("tvly-test1234567890", server.URL)
	result, err := client.Search(context.Background(), "AAPL competitors", SearchOptions{
		Depth:         "advanced",
		MaxResults:    3,
		IncludeAnswer: true,
	})
	require.NoError(t, err)
	require.Equal(t, "Apple competes with Samsung and Google.", result.Answer)
	require.Len(t, result.Results, 2)
	require.Equal(t, "Apple rivals", result.Results[0].Title)
}

func TestTavilyClient_KeySealedButReopenedPerRequest(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		require.Equal(t, "Bearer tvly-test1234567890", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"query":"q","results":[]}`)
	}))
	defer server.Close()

	client := NewTavilyClientWithConfig("tvly-test1234567890", server.URL)
	// The sealed key must decrypt cleanly on every call, not just the first.
	for i := 0; i < 3; i++ {
		_, err := client.Search(context.Background(), "q", SearchOptions{})
		require.NoError(t, err)
	}
	require.Equal(t, 3, requests)
}

func TestTavilyClient_Search_MissingKeyFailsAtUse(t *testing.T) {
	client := NewTavilyClientWithConfig("", "http://unused")
	_, err := client.Search(context.Background(), "anything", SearchOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "API key")
}

func TestTavilyClient_Search_EmptyQuery(t *testing.T) {
	client := NewTavilyClientWithConfig("tvly-test1234567890", "http://unused")
	_, err := client.Search(context.Background(), "", SearchOptions{})
	require.Error(t, err)
}

func TestTavilyClient_Search_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"detail":"invalid api key"}`)
	}))
	defer server.Close()

	client := NewTavilyClientWithConfig("tvly-bad", server.URL)
	_, err := client.Search(context.Background(), "anything", SearchOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")
}
