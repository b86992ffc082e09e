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

	"github.com/AleutianAI/AleutianAnalyst/services/datasources"
	"github.com/AleutianAI/AleutianAnalyst/services/llm"
)

// historyRows caps the number of bars returned verbatim by the price
// history tool; older bars are folded into summary statistics.
const historyRows = 30

// MarketTools builds the market data tool set for one session.
//
// Thread Safety: Safe for concurrent use.
type MarketTools struct {
	yahoo         *datasources.YahooClient
	edgar         *datasources.EdgarClient
	defaultTicker string
}

// NewMarketTools creates the market tool set.
func NewMarketTools(yahoo *datasources.YahooClient, edgar *datasources.EdgarClient, defaultTicker string) *MarketTools {
	return &MarketTools{yahoo: yahoo, edgar: edgar, defaultTicker: defaultTicker}
}

// Specs returns the market tool specs.
func (m *MarketTools) Specs() []Spec {
	params := tickerParam(m.defaultTicker)

	historyParams := llm.ToolParameters{
		Type: "object",
		Properties: map[string]llm.ToolParamDef{
			"ticker": {
				Type:        "string",
				Description: "Stock ticker symbol. Defaults to the session ticker.",
				Default:     m.defaultTicker,
			},
			"period": {
				Type:        "string",
				Description: "History range",
				Enum:        []any{"1mo", "3mo", "6mo", "1y", "2y", "5y"},
				Default:     "1y",
			},
		},
	}

	return []Spec{
		{
			Name:        "get_stock_info",
			Description: "Get the current quote: price, previous close, 52-week range, exchange, and currency.",
			Category:    CategoryMarket,
			Params:      params,
			Run:         m.runStockInfo,
		},
		{
			Name:        "get_stock_price_history",
			Description: "Get recent daily OHLCV price history plus range statistics.",
			Category:    CategoryMarket,
			Params:      historyParams,
			Run:         m.runPriceHistory,
		},
		{
			Name:        "get_technical_analysis",
			Description: "Get technical indicators computed from one year of daily prices: moving averages, RSI, MACD, Bollinger bands, and volatility.",
			Category:    CategoryMarket,
			Params:      params,
			Run:         m.runTechnicalAnalysis,
		},
		{
			Name:        "get_financial_metrics",
			Description: "Get key financial position metrics derived from SEC-reported figures: debt-to-assets, working capital, and year-over-year changes.",
			Category:    CategoryMarket,
			Params:      params,
			Run:         m.runFinancialMetrics,
		},
	}
}

func (m *MarketTools) runStockInfo(ctx context.Context, args map[string]any) (string, error) {
	quote, err := m.yahoo.Quote(ctx, tickerArg(args, m.defaultTicker))
	if err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(quote, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (m *MarketTools) runPriceHistory(ctx context.Context, args map[string]any) (string, error) {
	ticker := tickerArg(args, m.defaultTicker)
	period, _ := args["period"].(string)

	candles, err := m.yahoo.History(ctx, ticker, period)
	if err != nil {
		return "", err
	}

	high, low := candles[0].High, candles[0].Low
	for _, c := range candles {
		if c.High > high {
			high = c.High
		}
		if c.Low < low && c.Low > 0 {
			low = c.Low
		}
	}
	first, last := candles[0], candles[len(candles)-1]

	var b strings.Builder
	fmt.Fprintf(&b, "%s daily price history (%d bars)\n", ticker, len(candles))
	fmt.Fprintf(&b, "range: %s to %s\n", first.Time.Format("2006-01-02"), last.Time.Format("2006-01-02"))
	fmt.Fprintf(&b, "period high: %.2f  period low: %.2f\n", high, low)
	if first.Close > 0 {
		fmt.Fprintf(&b, "period change: %+.2f%%\n", (last.Close/first.Close-1)*100)
	}

	tail := candles
	if len(tail) > historyRows {
		tail = tail[len(tail)-historyRows:]
		fmt.Fprintf(&b, "\nmost recent %d bars:\n", historyRows)
	} else {
		b.WriteString("\nbars:\n")
	}
	b.WriteString("date,open,high,low,close,volume\n")
	for _, c := range tail {
		fmt.Fprintf(&b, "%s,%.2f,%.2f,%.2f,%.2f,%d\n",
			c.Time.Format("2006-01-02"), c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	return b.String(), nil
}

func (m *MarketTools) runTechnicalAnalysis(ctx context.Context, args map[string]any) (string, error) {
	ticker := tickerArg(args, m.defaultTicker)
	candles, err := m.yahoo.History(ctx, ticker, "1y")
	if err != nil {
		return "", err
	}

	indicators := datasources.ComputeIndicators(candles)
	if indicators == nil {
		return "", fmt.Errorf("not enough price history for %s to compute indicators", ticker)
	}

	out, err := json.MarshalIndent(indicators, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (m *MarketTools) runFinancialMetrics(ctx context.Context, args map[string]any) (string, error) {
	ticker := tickerArg(args, m.defaultTicker)
	cik, err := m.edgar.LookupCIK(ctx, ticker)
	if err != nil {
		return "", err
	}
	facts, err := m.edgar.BalanceSheetFacts(ctx, cik)
	if err != nil {
		return "", err
	}
	if len(facts) == 0 {
		return "", fmt.Errorf("no reported figures for %s", ticker)
	}

	latest := func(concept string) (datasources.FactValue, bool) {
		vs := facts[concept]
		if len(vs) == 0 {
			return datasources.FactValue{}, false
		}
		return vs[0], true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Financial position metrics for %s (from SEC-reported figures):\n", ticker)

	assets, haveAssets := latest("Assets")
	liabilities, haveLiabilities := latest("Liabilities")
	if haveAssets && haveLiabilities && assets.Value > 0 {
		fmt.Fprintf(&b, "debt_to_assets: %.1f%% (as of %s)\n",
			liabilities.Value/assets.Value*100, assets.End)
	}

	curAssets, haveCA := latest("AssetsCurrent")
	curLiabilities, haveCL := latest("LiabilitiesCurrent")
	if haveCA && haveCL {
		fmt.Fprintf(&b, "working_capital: %.0f (as of %s)\n",
			curAssets.Value-curLiabilities.Value, curAssets.End)
		if curLiabilities.Value > 0 {
			fmt.Fprintf(&b, "current_ratio: %.2f\n", curAssets.Value/curLiabilities.Value)
		}
	}

	if equity, ok := latest("StockholdersEquity"); ok {
		fmt.Fprintf(&b, "stockholders_equity: %.0f (as of %s)\n", equity.Value, equity.End)
	}
	if cash, ok := latest("CashAndCashEquivalentsAtCarryingValue"); ok {
		fmt.Fprintf(&b, "cash_and_equivalents: %.0f (as of %s)\n", cash.Value, cash.End)
	}

	// Year-over-year change on any concept with two or more periods.
	for _, concept := range []string{"Assets", "Liabilities", "StockholdersEquity"} {
		vs := facts[concept]
		if len(vs) >= 2 && vs[1].Value != 0 {
			fmt.Fprintf(&b, "%s_yoy_change: %+.1f%%\n", strings.ToLower(concept),
				(vs[0].Value/vs[1].Value-1)*100)
		}
	}
	return b.String(), nil
}
