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
	"io"
	"net/http"
	"time"
)

// DefaultYahooBaseURL is the public Yahoo Finance chart API endpoint.
const DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

// YahooClient fetches quotes and price history from the Yahoo Finance
// chart API.
//
// Description:
//
//	The chart endpoint is unauthenticated but requires a browser-like
//	User-Agent or it returns 429. One request yields both the current
//	quote (meta block) and the OHLCV series.
//
// Thread Safety: YahooClient is safe for concurrent use.
type YahooClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewYahooClient creates a YahooClient against the public endpoint.
func NewYahooClient() *YahooClient {
	return &YahooClient{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    DefaultYahooBaseURL,
	}
}

// NewYahooClientWithConfig creates a YahooClient with an explicit base URL.
// Useful for testing with mock servers.
func NewYahooClientWithConfig(baseURL string) *YahooClient {
	return &YahooClient{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    baseURL,
	}
}

// Quote is the current market snapshot for a ticker.
type Quote struct {
	Ticker             string  `json:"ticker"`
	Currency           string  `json:"currency"`
	Exchange           string  `json:"exchange"`
	Price              float64 `json:"price"`
	PreviousClose      float64 `json:"previous_close"`
	FiftyTwoWeekHigh   float64 `json:"fifty_two_week_high"`
	FiftyTwoWeekLow    float64 `json:"fifty_two_week_low"`
	RegularMarketTime  int64   `json:"regular_market_time"`
	LongName           string  `json:"long_name,omitempty"`
	RegularMarketState string  `json:"market_state,omitempty"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// yahooChartResponse is the subset of the chart API response we read.
type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				Currency           string  `json:"currency"`
				ExchangeName       string  `json:"exchangeName"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				FiftyTwoWeekHigh   float64 `json:"fiftyTwoWeekHigh"`
				FiftyTwoWeekLow    float64 `json:"fiftyTwoWeekLow"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
				LongName           string  `json:"longName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Quote returns the current market snapshot for ticker.
func (c *YahooClient) Quote(ctx context.Context, ticker string) (*Quote, error) {
	resp, err := c.chart(ctx, ticker, "5d", "1d")
	if err != nil {
		return nil, err
	}
	meta := resp.Chart.Result[0].Meta
	return &Quote{
		Ticker:            meta.Symbol,
		Currency:          meta.Currency,
		Exchange:          meta.ExchangeName,
		Price:             meta.RegularMarketPrice,
		PreviousClose:     meta.ChartPreviousClose,
		FiftyTwoWeekHigh:  meta.FiftyTwoWeekHigh,
		FiftyTwoWeekLow:   meta.FiftyTwoWeekLow,
		RegularMarketTime: meta.RegularMarketTime,
		LongName:          meta.LongName,
	}, nil
}

// History returns daily OHLCV bars for ticker over the given range.
//
// Inputs:
//   - rng: Chart API range string, e.g. "3mo", "1y". Empty selects "1y".
//
// Outputs:
//   - []Candle: Bars in chronological order. Bars with missing closes
//     (halts, partial sessions) are skipped.
func (c *YahooClient) History(ctx context.Context, ticker, rng string) ([]Candle, error) {
	if rng == "" {
		rng = "1y"
	}
	resp, err := c.chart(ctx, ticker, rng, "1d")
	if err != nil {
		return nil, err
	}

	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo: no quote series for %s", ticker)
	}
	quote := result.Indicators.Quote[0]

	candles := make([]Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == nil {
			continue
		}
		candle := Candle{
			Time:  time.Unix(ts, 0).UTC(),
			Close: *quote.Close[i],
		}
		if i < len(quote.Open) && quote.Open[i] != nil {
			candle.Open = *quote.Open[i]
		}
		if i < len(quote.High) && quote.High[i] != nil {
			candle.High = *quote.High[i]
		}
		if i < len(quote.Low) && quote.Low[i] != nil {
			candle.Low = *quote.Low[i]
		}
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			candle.Volume = *quote.Volume[i]
		}
		candles = append(candles, candle)
	}

	if len(candles) == 0 {
		return nil, fmt.Errorf("yahoo: no price history for %s over %s", ticker, rng)
	}
	return candles, nil
}

func (c *YahooClient) chart(ctx context.Context, ticker, rng, interval string) (*yahooChartResponse, error) {
	url := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=%s", c.baseURL, ticker, rng, interval)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("yahoo: creating request: %w", err)
	}
	// The chart API rejects default Go client User-Agents.
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; AleutianAnalyst/1.0)")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo: reading response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d for %s", httpResp.StatusCode, ticker)
	}

	var resp yahooChartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("yahoo: parsing response: %w", err)
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo: API error %s: %s", resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("yahoo: no result for %s", ticker)
	}
	return &resp, nil
}
