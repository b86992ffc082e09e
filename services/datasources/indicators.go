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
	"math"
)

// MovingAverages holds simple moving averages of the closing price.
// Averages whose window exceeds the series length are zero.
type MovingAverages struct {
	MA5         float64 `json:"ma_5"`
	MA10        float64 `json:"ma_10"`
	MA20        float64 `json:"ma_20"`
	MA50        float64 `json:"ma_50,omitempty"`
	MA200       float64 `json:"ma_200,omitempty"`
	LatestClose float64 `json:"latest_close"`
	// Trend5050200 is "bullish" when MA50 > MA200, "bearish" otherwise.
	// Empty when either average is unavailable.
	Trend50200 string `json:"trend_50_200,omitempty"`
}

// RSI holds the 14-period relative strength index.
type RSI struct {
	Current float64 `json:"current"`
	// Signal is "oversold" (<30), "overbought" (>70), or "neutral".
	Signal string `json:"signal"`
}

// MACD holds the 12/26/9 moving average convergence divergence.
type MACD struct {
	Line      float64 `json:"macd_line"`
	Signal    float64 `json:"signal_line"`
	Histogram float64 `json:"histogram"`
	// Trend is "bullish" when the MACD line is above the signal line.
	Trend string `json:"signal"`
}

// BollingerBands holds the 20-period, 2-sigma Bollinger bands.
type BollingerBands struct {
	Upper  float64 `json:"upper_band"`
	Middle float64 `json:"middle_band"`
	Lower  float64 `json:"lower_band"`
	// Position is "above_upper", "below_lower", or "within_bands".
	Position string `json:"position"`
	// Width is the band width normalized by the middle band.
	Width float64 `json:"width"`
}

// Volatility holds return-based volatility metrics.
type Volatility struct {
	Daily float64 `json:"daily_volatility"`
	// Annualized assumes 252 trading days.
	Annualized  float64 `json:"annualized_volatility"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

// Indicators is the full technical indicator set computed from one
// price history.
type Indicators struct {
	MovingAverages MovingAverages `json:"moving_averages"`
	RSI            RSI            `json:"rsi"`
	MACD           MACD           `json:"macd"`
	Bollinger      BollingerBands `json:"bollinger_bands"`
	Volatility     Volatility     `json:"volatility"`
}

// ComputeIndicators calculates the standard indicator set from daily bars.
//
// Description:
//
//	Implements the conventional formulations: SMAs over trailing windows,
//	Wilder-smoothed RSI (EWM with com = period-1), MACD as EMA12-EMA26
//	with a 9-period EMA signal line, 20-period 2-sigma Bollinger bands
//	(sample standard deviation), and daily-return volatility annualized
//	by sqrt(252).
//
// Inputs:
//   - candles: Bars in chronological order. At least 2 are required.
//
// Outputs:
//   - *Indicators: The computed set. Indicators whose window exceeds the
//     series length hold zero values.
//   - Returns nil when fewer than 2 bars are supplied.
func ComputeIndicators(candles []Candle) *Indicators {
	if len(candles) < 2 {
		return nil
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	ind := &Indicators{
		MovingAverages: computeMovingAverages(closes),
		RSI:            computeRSI(closes, 14),
		MACD:           computeMACD(closes),
		Bollinger:      computeBollinger(closes, 20),
		Volatility:     computeVolatility(closes),
	}
	return ind
}

// sma returns the simple moving average of the trailing window, or 0 when
// the series is shorter than the window.
func sma(values []float64, window int) float64 {
	if len(values) < window || window <= 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-window:] {
		sum += v
	}
	return sum / float64(window)
}

// ewm returns the final value of an exponentially weighted moving average
// with smoothing factor alpha, seeded with the first observation.
func ewm(values []float64, alpha float64) float64 {
	if len(values) == 0 {
		return 0
	}
	avg := values[0]
	for _, v := range values[1:] {
		avg = alpha*v + (1-alpha)*avg
	}
	return avg
}

// ewmSeries returns the full EWM series (span parameterization, as in
// pandas ewm(span=n, adjust=False)).
func ewmSeries(values []float64, span int) []float64 {
	if len(values) == 0 {
		return nil
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

func computeMovingAverages(closes []float64) MovingAverages {
	ma := MovingAverages{
		MA5:         sma(closes, 5),
		MA10:        sma(closes, 10),
		MA20:        sma(closes, 20),
		LatestClose: closes[len(closes)-1],
	}
	if len(closes) >= 50 {
		ma.MA50 = sma(closes, 50)
	}
	if len(closes) >= 200 {
		ma.MA200 = sma(closes, 200)
		if ma.MA50 > 0 {
			if ma.MA50 > ma.MA200 {
				ma.Trend50200 = "bullish"
			} else {
				ma.Trend50200 = "bearish"
			}
		}
	}
	return ma
}

func computeRSI(closes []float64, period int) RSI {
	if len(closes) < 2 {
		return RSI{Signal: "neutral"}
	}

	gains := make([]float64, 0, len(closes)-1)
	losses := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains = append(gains, delta)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -delta)
		}
	}

	// Wilder smoothing: EWM with com = period-1, i.e. alpha = 1/period.
	alpha := 1.0 / float64(period)
	avgGain := ewm(gains, alpha)
	avgLoss := ewm(losses, alpha)

	var current float64
	switch {
	case avgLoss == 0 && avgGain == 0:
		current = 50
	case avgLoss == 0:
		current = 100
	default:
		rs := avgGain / avgLoss
		current = 100 - (100 / (1 + rs))
	}

	signal := "neutral"
	if current < 30 {
		signal = "oversold"
	} else if current > 70 {
		signal = "overbought"
	}
	return RSI{Current: current, Signal: signal}
}

func computeMACD(closes []float64) MACD {
	ema12 := ewmSeries(closes, 12)
	ema26 := ewmSeries(closes, 26)

	macdLine := make([]float64, len(closes))
	for i := range closes {
		macdLine[i] = ema12[i] - ema26[i]
	}
	signalLine := ewmSeries(macdLine, 9)

	last := len(closes) - 1
	trend := "bearish"
	if macdLine[last] > signalLine[last] {
		trend = "bullish"
	}
	return MACD{
		Line:      macdLine[last],
		Signal:    signalLine[last],
		Histogram: macdLine[last] - signalLine[last],
		Trend:     trend,
	}
}

func computeBollinger(closes []float64, window int) BollingerBands {
	if len(closes) < window {
		return BollingerBands{Position: "within_bands"}
	}

	tail := closes[len(closes)-window:]
	mean := 0.0
	for _, v := range tail {
		mean += v
	}
	mean /= float64(window)

	variance := 0.0
	for _, v := range tail {
		variance += (v - mean) * (v - mean)
	}
	// Sample standard deviation, matching the rolling std convention.
	std := math.Sqrt(variance / float64(window-1))

	upper := mean + 2*std
	lower := mean - 2*std
	current := closes[len(closes)-1]

	position := "within_bands"
	if current > upper {
		position = "above_upper"
	} else if current < lower {
		position = "below_lower"
	}

	width := 0.0
	if mean != 0 {
		width = (upper - lower) / mean
	}
	return BollingerBands{
		Upper:    upper,
		Middle:   mean,
		Lower:    lower,
		Position: position,
		Width:    width,
	}
}

func computeVolatility(closes []float64) Volatility {
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	if len(returns) < 2 {
		return Volatility{}
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	daily := math.Sqrt(variance / float64(len(returns)-1))

	// Max drawdown from the running peak.
	maxDrawdown := 0.0
	peak := closes[0]
	for _, v := range closes {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := v/peak - 1
			if dd < maxDrawdown {
				maxDrawdown = dd
			}
		}
	}

	return Volatility{
		Daily:       daily,
		Annualized:  daily * math.Sqrt(252),
		MaxDrawdown: maxDrawdown,
	}
}
