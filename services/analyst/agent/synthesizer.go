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
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianAnalyst/services/llm"
)

// Synthesizer streams the final answer for a planned query.
//
// Description:
//
//	Feeds the step results into the model and streams the answer back as
//	token events, returning the accumulated text for persistence. When
//	every step failed there is nothing for the model to synthesize; a
//	locally built summary of what went wrong becomes the answer instead.
//	When steps succeeded but the answer stream fails, the gathered step
//	outputs are rendered directly. Either way the client gets a response
//	rather than an error; only context cancellation aborts.
//
// Thread Safety: Safe for concurrent use.
type Synthesizer struct {
	model  llm.LLMClient
	logger *slog.Logger
}

// NewSynthesizer creates a synthesizer. A nil logger selects
// slog.Default().
func NewSynthesizer(model llm.LLMClient, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{model: model, logger: logger}
}

// Synthesize produces the final answer from step results.
//
// Inputs:
//   - ctx: Caller context.
//   - ticker: The session's stock ticker.
//   - query: The user's original question.
//   - approach: The plan's synthesis hint. May be empty.
//   - results: All step results, failed ones included.
//   - emit: Receives a token event per streamed chunk. Nil is allowed.
//
// Outputs:
//   - string: The complete answer text.
//   - error: ErrCodeSynthesis only when ctx was cancelled mid-stream.
func (s *Synthesizer) Synthesize(ctx context.Context, ticker, query, approach string, results []StepResult, emit Emitter) (string, error) {
	ctx, span := agentTracer.Start(ctx, "agent.synthesize")
	defer span.End()

	if emit == nil {
		emit = nopEmitter
	}

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	span.SetAttributes(
		attribute.Int("results.total", len(results)),
		attribute.Int("results.failed", failed),
	)

	if len(results) > 0 && failed == len(results) {
		s.logger.Warn("All plan steps failed, synthesizing locally",
			slog.Int("steps", len(results)),
		)
		return failureSummary(ticker, results), nil
	}

	messages := []llm.Message{
		{Role: "user", Content: synthesisPrompt(ticker, query, approach, results)},
	}

	var answer strings.Builder
	err := s.model.ChatStream(ctx, messages, llm.GenerationParams{}, func(chunk string) error {
		answer.WriteString(chunk)
		emit(StreamEvent{Type: EventToken, Message: chunk})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			return "", WrapAgentError(ErrCodeSynthesis, "answer stream failed", true, err)
		}
		// The data was gathered; a broken stream should not throw it
		// away. Render the step outputs directly instead.
		s.logger.Warn("Answer stream failed, returning gathered data",
			slog.String("error", err.Error()),
		)
		return gatheredDataSummary(ticker, results), nil
	}
	return answer.String(), nil
}

// gatheredDataSummary renders the step outputs raw when the answer
// stream failed after the data was collected.
func gatheredDataSummary(ticker string, results []StepResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I gathered the following data about %s but could not compose a full analysis:\n\n", ticker)
	for _, r := range results {
		if r.Failed() {
			fmt.Fprintf(&b, "=== %s ===\nUNAVAILABLE: %s\n\n", r.Tool, r.Err)
			continue
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", r.Tool, r.Output)
	}
	b.WriteString("Ask again for a synthesized analysis of this data.")
	return b.String()
}

// failureSummary renders a best-effort answer when no step produced data.
func failureSummary(ticker string, results []StepResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I was unable to gather any data to answer your question about %s. Every lookup failed:\n\n", ticker)
	for _, r := range results {
		fmt.Fprintf(&b, "- %s: %s\n", r.Tool, r.Err)
	}
	b.WriteString("\nThis usually means the upstream data sources are unavailable or rate limiting. Please try again shortly.")
	return b.String()
}
