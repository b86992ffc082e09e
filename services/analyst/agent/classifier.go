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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianAnalyst/services/analyst/tools"
	"github.com/AleutianAI/AleutianAnalyst/services/llm"
)

// classifierSchema is the structured-output schema sent to the model.
// Gemini enforces it server-side; the repair path below covers models or
// proxies that return loosely formatted JSON anyway.
var classifierSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"complexity": map[string]any{
			"type": "string",
			"enum": []string{string(ComplexitySimple), string(ComplexityComplex)},
		},
		"estimated_tool_count": map[string]any{"type": "integer"},
		"reasoning":            map[string]any{"type": "string"},
	},
	"required": []string{"complexity", "estimated_tool_count"},
}

// Classifier decides whether a query takes the reactive or the planned
// route.
//
// Description:
//
//	Asks the model for a structured SIMPLE/COMPLEX verdict. A malformed
//	response is repaired and re-parsed; if that fails the call is retried
//	once, and a second failure defaults to COMPLEX so the query still
//	gets the more thorough route rather than an error.
//
// Thread Safety: Safe for concurrent use.
type Classifier struct {
	model  llm.LLMClient
	logger *slog.Logger
}

// NewClassifier creates a classifier. A nil logger selects slog.Default().
func NewClassifier(model llm.LLMClient, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{model: model, logger: logger}
}

// Classify produces a complexity verdict for the query.
//
// Inputs:
//   - ctx: Caller context.
//   - registry: The session's tool catalog, rendered into the prompt.
//   - ticker: The session's stock ticker.
//   - query: The user's question. Must be non-empty.
//
// Outputs:
//   - ComplexityVerdict: The verdict. Defaults to COMPLEX when the model
//     cannot be parsed after one retry.
//   - error: Non-nil only for an empty query or a failed model call.
func (c *Classifier) Classify(ctx context.Context, registry *tools.Registry, ticker, query string) (ComplexityVerdict, error) {
	ctx, span := agentTracer.Start(ctx, "agent.classify")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return ComplexityVerdict{}, NewAgentError(ErrCodeClassification, "empty query", false)
	}

	start := time.Now()
	defer func() {
		classifierLatency.Observe(time.Since(start).Seconds())
	}()

	prompt := classifierPrompt(registry, ticker, query)
	params := llm.GenerationParams{
		ResponseMIMEType: "application/json",
		ResponseSchema:   classifierSchema,
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		raw, err := c.model.Generate(ctx, prompt, params)
		if err != nil {
			span.RecordError(err)
			return ComplexityVerdict{}, WrapAgentError(ErrCodeClassification, "classifier model call failed", true, err)
		}
		verdict, err := parseVerdict(raw)
		if err == nil {
			classifierVerdictsTotal.WithLabelValues(string(verdict.Label)).Inc()
			span.SetAttributes(
				attribute.String("complexity", string(verdict.Label)),
				attribute.Int("estimated_tools", verdict.EstimatedTools),
			)
			return verdict, nil
		}
		lastErr = err
		c.logger.Warn("Classifier response unparseable, retrying",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	// Two unparseable responses: default to the thorough route.
	c.logger.Warn("Classifier defaulting to COMPLEX",
		slog.String("error", lastErr.Error()),
	)
	classifierVerdictsTotal.WithLabelValues("default").Inc()
	span.SetAttributes(attribute.String("complexity", "default_complex"))
	return ComplexityVerdict{
		Label:     ComplexityComplex,
		Reasoning: "classification unparseable, defaulted",
	}, nil
}

// parseVerdict decodes a verdict from raw model output, repairing loose
// JSON before giving up.
func parseVerdict(raw string) (ComplexityVerdict, error) {
	var verdict ComplexityVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return ComplexityVerdict{}, fmt.Errorf("unparseable verdict: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &verdict); err != nil {
			return ComplexityVerdict{}, fmt.Errorf("unparseable verdict after repair: %w", err)
		}
	}

	switch Complexity(strings.ToUpper(string(verdict.Label))) {
	case ComplexitySimple:
		verdict.Label = ComplexitySimple
	case ComplexityComplex:
		verdict.Label = ComplexityComplex
	default:
		return ComplexityVerdict{}, fmt.Errorf("unknown complexity label %q", verdict.Label)
	}
	return verdict, nil
}
