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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianAnalyst/services/datasources"
	"github.com/AleutianAI/AleutianAnalyst/services/llm"
)

// ResearchTools builds the web research tool set for one session.
//
// Description:
//
//	Only constructed when the session presented a research API key;
//	sessions without one never see these tools. All tools funnel through
//	the Tavily search API with different depth/topic settings.
//
// Thread Safety: Safe for concurrent use.
type ResearchTools struct {
	tavily        *datasources.TavilyClient
	defaultTicker string
}

// NewResearchTools creates the research tool set.
func NewResearchTools(tavily *datasources.TavilyClient, defaultTicker string) *ResearchTools {
	return &ResearchTools{tavily: tavily, defaultTicker: defaultTicker}
}

// Specs returns the research tool specs.
func (r *ResearchTools) Specs() []Spec {
	queryParams := llm.ToolParameters{
		Type: "object",
		Properties: map[string]llm.ToolParamDef{
			"query": {
				Type:        "string",
				Description: "Search query",
			},
		},
		Required: []string{"query"},
	}
	tickerParams := tickerParam(r.defaultTicker)

	return []Spec{
		{
			Name:        "web_search",
			Description: "Search the web for current information on any topic.",
			Category:    CategoryResearch,
			Params:      queryParams,
			Run:         r.runWebSearch,
		},
		{
			Name:        "deep_research",
			Description: "Run a deeper, slower web search that synthesizes an answer across more sources. Use for open-ended research questions.",
			Category:    CategoryResearch,
			Params:      queryParams,
			Run:         r.runDeepResearch,
		},
		{
			Name:        "get_company_news",
			Description: "Get recent news coverage for the company from the last two weeks.",
			Category:    CategoryResearch,
			Params:      tickerParams,
			Run:         r.runCompanyNews,
		},
		{
			Name:        "analyze_competitors",
			Description: "Research the company's main competitors and its competitive position.",
			Category:    CategoryResearch,
			Params:      tickerParams,
			Run:         r.runCompetitors,
		},
		{
			Name:        "get_industry_trends",
			Description: "Research current trends in the company's industry.",
			Category:    CategoryResearch,
			Params:      tickerParams,
			Run:         r.runIndustryTrends,
		},
	}
}

// formatSearchResult renders a Tavily result for model consumption.
func formatSearchResult(result *datasources.SearchResult) string {
	var b strings.Builder
	if result.Answer != "" {
		fmt.Fprintf(&b, "Answer: %s\n\n", result.Answer)
	}
	fmt.Fprintf(&b, "Sources (%d):\n", len(result.Results))
	for i, hit := range result.Results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, hit.Title, hit.URL, hit.Content)
	}
	return b.String()
}

func (r *ResearchTools) search(ctx context.Context, query string, opts datasources.SearchOptions) (string, error) {
	result, err := r.tavily.Search(ctx, query, opts)
	if err != nil {
		return "", err
	}
	if len(result.Results) == 0 && result.Answer == "" {
		return "", fmt.Errorf("no results for %q", query)
	}
	return formatSearchResult(result), nil
}

func (r *ResearchTools) runWebSearch(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	return r.search(ctx, query, datasources.SearchOptions{
		Depth:         "basic",
		MaxResults:    5,
		IncludeAnswer: true,
	})
}

func (r *ResearchTools) runDeepResearch(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	return r.search(ctx, query, datasources.SearchOptions{
		Depth:         "advanced",
		MaxResults:    10,
		IncludeAnswer: true,
	})
}

func (r *ResearchTools) runCompanyNews(ctx context.Context, args map[string]any) (string, error) {
	ticker := tickerArg(args, r.defaultTicker)
	return r.search(ctx, fmt.Sprintf("%s stock news", ticker), datasources.SearchOptions{
		Topic:         "news",
		Days:          14,
		MaxResults:    8,
		IncludeAnswer: true,
	})
}

func (r *ResearchTools) runCompetitors(ctx context.Context, args map[string]any) (string, error) {
	ticker := tickerArg(args, r.defaultTicker)
	return r.search(ctx,
		fmt.Sprintf("%s main competitors competitive position market share", ticker),
		datasources.SearchOptions{
			Depth:         "advanced",
			MaxResults:    8,
			IncludeAnswer: true,
		})
}

func (r *ResearchTools) runIndustryTrends(ctx context.Context, args map[string]any) (string, error) {
	ticker := tickerArg(args, r.defaultTicker)
	return r.search(ctx,
		fmt.Sprintf("%s industry trends outlook", ticker),
		datasources.SearchOptions{
			Depth:         "advanced",
			MaxResults:    8,
			IncludeAnswer: true,
		})
}
