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
	"sync"

	"github.com/AleutianAI/AleutianAnalyst/services/datasources"
	"github.com/AleutianAI/AleutianAnalyst/services/llm"
)

// maxSectionChars caps raw section output returned to the model. Full 10-K
// sections can exceed the context budget several times over.
const maxSectionChars = 40_000

// maxSummaryInputChars caps the section text fed into a summary call.
const maxSummaryInputChars = 60_000

// FilingTools builds the SEC filing tool set for one session.
//
// Description:
//
//	All tools operate on the latest 10-K of the requested ticker. The
//	filing text is fetched once per ticker and cached for the lifetime of
//	the session, since a single query routinely touches several sections
//	of the same document. Summary tools run the section through the
//	session's model with a fixed analyst prompt.
//
// Thread Safety: Safe for concurrent use; the text cache is mutex-guarded.
type FilingTools struct {
	edgar         *datasources.EdgarClient
	model         llm.LLMClient
	defaultTicker string

	mu    sync.Mutex
	cache map[string]string // ticker -> plain 10-K text
}

// NewFilingTools creates the filing tool set.
//
// Inputs:
//   - edgar: EDGAR client carrying the session's identifying User-Agent.
//   - model: Model used by the summary tools.
//   - defaultTicker: Ticker assumed when a tool call omits one.
func NewFilingTools(edgar *datasources.EdgarClient, model llm.LLMClient, defaultTicker string) *FilingTools {
	return &FilingTools{
		edgar:         edgar,
		model:         model,
		defaultTicker: defaultTicker,
		cache:         make(map[string]string),
	}
}

// tickerParam is the shared optional ticker argument schema.
func tickerParam(defaultTicker string) llm.ToolParameters {
	return llm.ToolParameters{
		Type: "object",
		Properties: map[string]llm.ToolParamDef{
			"ticker": {
				Type:        "string",
				Description: "Stock ticker symbol. Defaults to the session ticker.",
				Default:     defaultTicker,
			},
		},
	}
}

// tickerArg resolves the effective ticker for a call.
func tickerArg(args map[string]any, fallback string) string {
	if t, ok := args["ticker"].(string); ok && strings.TrimSpace(t) != "" {
		return strings.ToUpper(strings.TrimSpace(t))
	}
	return strings.ToUpper(fallback)
}

func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n\n[truncated]"
}

// Specs returns the filing tool specs.
func (f *FilingTools) Specs() []Spec {
	params := tickerParam(f.defaultTicker)
	return []Spec{
		{
			Name:        "get_complete_10k_text",
			Description: "Get the complete plain text of the company's latest 10-K annual report. Very large; prefer the section tools unless the full document is needed.",
			Category:    CategoryFiling,
			Params:      params,
			Run:         f.runCompleteText,
		},
		{
			Name:        "get_raw_risk_factors",
			Description: "Get the verbatim Risk Factors section (Item 1A) from the latest 10-K.",
			Category:    CategoryFiling,
			Params:      params,
			Run:         f.runRawRiskFactors,
		},
		{
			Name:        "get_risk_factors_summary",
			Description: "Get an analyst summary of the Risk Factors section: key risks, severity, and red flags.",
			Category:    CategoryFiling,
			Params:      params,
			Run:         f.runRiskFactorsSummary,
		},
		{
			Name:        "get_raw_management_discussion",
			Description: "Get the verbatim Management's Discussion and Analysis section (Item 7) from the latest 10-K.",
			Category:    CategoryFiling,
			Params:      params,
			Run:         f.runRawMDA,
		},
		{
			Name:        "get_mda_summary",
			Description: "Get an analyst summary of the MD&A section: performance drivers, outlook, and management sentiment.",
			Category:    CategoryFiling,
			Params:      params,
			Run:         f.runMDASummary,
		},
		{
			Name:        "get_raw_balance_sheets",
			Description: "Get recent balance sheet figures (assets, liabilities, equity, cash, debt) reported to the SEC.",
			Category:    CategoryFiling,
			Params:      params,
			Run:         f.runRawBalanceSheets,
		},
		{
			Name:        "get_balance_sheet_summary",
			Description: "Get an analyst summary of the balance sheet: leverage, liquidity, and multi-year trends.",
			Category:    CategoryFiling,
			Params:      params,
			Run:         f.runBalanceSheetSummary,
		},
		{
			Name:        "get_all_summaries",
			Description: "Get combined analyst summaries of risk factors, MD&A, and the balance sheet in one call.",
			Category:    CategoryFiling,
			Params:      params,
			Run:         f.runAllSummaries,
		},
	}
}

// tenKText returns the cached plain text of the ticker's latest 10-K,
// fetching it on first use.
func (f *FilingTools) tenKText(ctx context.Context, ticker string) (string, error) {
	f.mu.Lock()
	if text, ok := f.cache[ticker]; ok {
		f.mu.Unlock()
		return text, nil
	}
	f.mu.Unlock()

	cik, err := f.edgar.LookupCIK(ctx, ticker)
	if err != nil {
		return "", err
	}
	filing, err := f.edgar.LatestFiling(ctx, cik, "10-K")
	if err != nil {
		return "", err
	}
	text, err := f.edgar.FilingText(ctx, filing)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	f.cache[ticker] = text
	f.mu.Unlock()
	return text, nil
}

func (f *FilingTools) runCompleteText(ctx context.Context, args map[string]any) (string, error) {
	text, err := f.tenKText(ctx, tickerArg(args, f.defaultTicker))
	if err != nil {
		return "", err
	}
	return truncateText(text, maxSectionChars*2), nil
}

func (f *FilingTools) section(ctx context.Context, args map[string]any,
	extract func(string) string, sectionName string) (string, error) {

	ticker := tickerArg(args, f.defaultTicker)
	text, err := f.tenKText(ctx, ticker)
	if err != nil {
		return "", err
	}
	section := extract(text)
	if section == "" {
		return "", fmt.Errorf("%s section not found in %s's latest 10-K", sectionName, ticker)
	}
	return section, nil
}

func (f *FilingTools) runRawRiskFactors(ctx context.Context, args map[string]any) (string, error) {
	section, err := f.section(ctx, args, datasources.RiskFactorsSection, "risk factors")
	if err != nil {
		return "", err
	}
	return truncateText(section, maxSectionChars), nil
}

func (f *FilingTools) runRawMDA(ctx context.Context, args map[string]any) (string, error) {
	section, err := f.section(ctx, args, datasources.MDASection, "MD&A")
	if err != nil {
		return "", err
	}
	return truncateText(section, maxSectionChars), nil
}

// summarize runs section text through the session model with an analyst
// instruction.
func (f *FilingTools) summarize(ctx context.Context, instruction, body string) (string, error) {
	prompt := instruction + "\n\n---\n\n" + truncateText(body, maxSummaryInputChars)
	temp := float32(0.2)
	return f.model.Generate(ctx, prompt, llm.GenerationParams{Temperature: &temp})
}

func (f *FilingTools) runRiskFactorsSummary(ctx context.Context, args map[string]any) (string, error) {
	section, err := f.section(ctx, args, datasources.RiskFactorsSection, "risk factors")
	if err != nil {
		return "", err
	}
	return f.summarize(ctx,
		"You are an equity analyst. Summarize the following Risk Factors section of a 10-K. "+
			"List the 5-8 most material risks, note any that are new or unusually severe, "+
			"and flag anything that reads like a red flag. Be concrete and concise.",
		section)
}

func (f *FilingTools) runMDASummary(ctx context.Context, args map[string]any) (string, error) {
	section, err := f.section(ctx, args, datasources.MDASection, "MD&A")
	if err != nil {
		return "", err
	}
	return f.summarize(ctx,
		"You are an equity analyst. Summarize the following MD&A section of a 10-K. "+
			"Cover revenue and margin drivers, liquidity, management's outlook, and overall "+
			"tone (optimistic, cautious, defensive). Be concrete and concise.",
		section)
}

func (f *FilingTools) balanceSheetText(ctx context.Context, ticker string) (string, error) {
	cik, err := f.edgar.LookupCIK(ctx, ticker)
	if err != nil {
		return "", err
	}
	facts, err := f.edgar.BalanceSheetFacts(ctx, cik)
	if err != nil {
		return "", err
	}
	if len(facts) == 0 {
		return "", fmt.Errorf("no balance sheet facts reported for %s", ticker)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Balance sheet figures for %s (USD, newest first):\n", ticker)
	for concept, values := range facts {
		fmt.Fprintf(&b, "\n%s:\n", concept)
		for _, v := range values {
			fmt.Fprintf(&b, "  %s: %.0f\n", v.End, v.Value)
		}
	}
	return b.String(), nil
}

func (f *FilingTools) runRawBalanceSheets(ctx context.Context, args map[string]any) (string, error) {
	return f.balanceSheetText(ctx, tickerArg(args, f.defaultTicker))
}

func (f *FilingTools) runBalanceSheetSummary(ctx context.Context, args map[string]any) (string, error) {
	text, err := f.balanceSheetText(ctx, tickerArg(args, f.defaultTicker))
	if err != nil {
		return "", err
	}
	return f.summarize(ctx,
		"You are an equity analyst. Analyze the following balance sheet figures. "+
			"Comment on leverage (debt relative to assets and equity), liquidity, and the "+
			"direction of each line over the reported periods. Be concrete and concise.",
		text)
}

func (f *FilingTools) runAllSummaries(ctx context.Context, args map[string]any) (string, error) {
	type part struct {
		title string
		run   RunFunc
	}
	parts := []part{
		{"Risk Factors", f.runRiskFactorsSummary},
		{"Management's Discussion and Analysis", f.runMDASummary},
		{"Balance Sheet", f.runBalanceSheetSummary},
	}

	var b strings.Builder
	failures := 0
	for _, p := range parts {
		out, err := p.run(ctx, args)
		if err != nil {
			failures++
			fmt.Fprintf(&b, "## %s\n\n(unavailable: %v)\n\n", p.title, err)
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", p.title, out)
	}
	if failures == len(parts) {
		return "", fmt.Errorf("all filing summaries failed")
	}
	return strings.TrimSpace(b.String()), nil
}
