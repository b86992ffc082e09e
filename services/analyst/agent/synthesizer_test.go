// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestSynthesizer_StreamsTokens(t *testing.T) {
	model := &scriptedModel{streamChunks: []string{"The stock ", "looks ", "healthy."}}
	s := NewSynthesizer(model, nil)

	results := []StepResult{
		{StepID: 1, Tool: "get_stock_info", Output: "price data"},
	}
	var events []StreamEvent
	answer, err := s.Synthesize(context.Background(), "AAPL", "how is it?", "", results, collectEvents(&events))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "The stock looks healthy." {
		t.Errorf("answer = %q", answer)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want one token event per chunk", len(events))
	}
	for _, ev := range events {
		if ev.Type != EventToken {
			t.Errorf("event type = %q", ev.Type)
		}
	}
	if events[0].Message != "The stock " {
		t.Errorf("first token = %q", events[0].Message)
	}
}

func TestSynthesizer_PromptCarriesResultsAndFailures(t *testing.T) {
	results := []StepResult{
		{StepID: 1, Tool: "get_stock_info", Output: "price is 230"},
		{StepID: 2, Tool: "get_company_news", Err: "rate limited"},
	}
	prompt := synthesisPrompt("AAPL", "should I buy?", "weigh price against news", results)

	if !strings.Contains(prompt, "price is 230") {
		t.Error("prompt should include step output")
	}
	if !strings.Contains(prompt, "UNAVAILABLE: rate limited") {
		t.Error("prompt should mark failed steps")
	}
	if !strings.Contains(prompt, "should I buy?") {
		t.Error("prompt should carry the question")
	}
	if !strings.Contains(prompt, "weigh price against news") {
		t.Error("prompt should carry the synthesis approach")
	}
}

func TestSynthesizer_AllStepsFailedAnswersLocally(t *testing.T) {
	model := &scriptedModel{streamErr: fmt.Errorf("should not be called")}
	s := NewSynthesizer(model, nil)

	results := []StepResult{
		{StepID: 1, Tool: "get_stock_info", Err: "timeout"},
		{StepID: 2, Tool: "get_company_news", Err: "rate limited"},
	}
	answer, err := s.Synthesize(context.Background(), "AAPL", "q", "", results, nil)
	if err != nil {
		t.Fatalf("all-failed must still produce an answer: %v", err)
	}
	if !strings.Contains(answer, "get_stock_info") || !strings.Contains(answer, "timeout") {
		t.Errorf("answer should name the failures: %q", answer)
	}
	if !strings.Contains(answer, "AAPL") {
		t.Errorf("answer should name the ticker: %q", answer)
	}
}

func TestSynthesizer_StreamErrorReturnsGatheredData(t *testing.T) {
	model := &scriptedModel{streamErr: fmt.Errorf("connection reset")}
	s := NewSynthesizer(model, nil)

	results := []StepResult{
		{StepID: 1, Tool: "get_stock_info", Output: "price is 230"},
		{StepID: 2, Tool: "get_company_news", Err: "rate limited"},
	}
	answer, err := s.Synthesize(context.Background(), "AAPL", "q", "", results, nil)
	if err != nil {
		t.Fatalf("a broken stream must not discard gathered data: %v", err)
	}
	if !strings.Contains(answer, "price is 230") {
		t.Errorf("answer should carry the step outputs: %q", answer)
	}
	if !strings.Contains(answer, "UNAVAILABLE: rate limited") {
		t.Errorf("answer should mark the failed steps: %q", answer)
	}
}

func TestSynthesizer_CancelledStreamIsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := &scriptedModel{streamErr: context.Canceled}
	s := NewSynthesizer(model, nil)

	results := []StepResult{{StepID: 1, Tool: "get_stock_info", Output: "data"}}
	_, err := s.Synthesize(ctx, "AAPL", "q", "", results, nil)
	if err == nil {
		t.Fatal("cancellation must abort, not degrade")
	}
	if CodeOf(err) != ErrCodeSynthesis {
		t.Errorf("code = %q", CodeOf(err))
	}
}
