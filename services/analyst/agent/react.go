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

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianAnalyst/services/analyst/tools"
	"github.com/AleutianAI/AleutianAnalyst/services/llm"
)

// MaxReactIterations bounds the reactive loop. After the cap the model
// is asked for a final answer from whatever observations it has.
const MaxReactIterations = 8

// ReactExecutor runs simple queries as an observe-act loop.
//
// Description:
//
//	Each iteration sends the conversation plus tool observations to the
//	model. One tool call is honored per iteration; extra calls in the
//	same response are ignored so the model re-plans against fresh
//	observations. Tool failures become observations rather than query
//	failures, which lets the model route around a broken data source.
//
// Thread Safety: Safe for concurrent use; loop state is local to each
// Run call.
type ReactExecutor struct {
	model    llm.LLMClient
	registry *tools.Registry
	logger   *slog.Logger
}

// NewReactExecutor creates a reactive executor. A nil logger selects
// slog.Default().
func NewReactExecutor(model llm.LLMClient, registry *tools.Registry, logger *slog.Logger) *ReactExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReactExecutor{model: model, registry: registry, logger: logger}
}

// Run answers the query with the reactive loop.
//
// Outputs:
//   - string: The model's final answer.
//   - error: Non-nil when a model call fails or the context is
//     cancelled. Tool failures never surface here.
func (r *ReactExecutor) Run(ctx context.Context, query Query, emit Emitter) (string, error) {
	ctx, span := agentTracer.Start(ctx, "agent.react")
	defer span.End()

	if emit == nil {
		emit = nopEmitter
	}

	messages := []llm.ChatMessage{
		{Role: "system", Content: reactSystemPrompt(r.registry, query.Ticker)},
	}
	for _, turn := range query.History {
		messages = append(messages, llm.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.ChatMessage{Role: "user", Content: query.Text})

	defs := r.registry.ToolDefs()
	params := llm.GenerationParams{}

	for iteration := 1; iteration <= MaxReactIterations; iteration++ {
		result, err := r.model.ChatWithTools(ctx, messages, params, defs)
		if err != nil {
			span.RecordError(err)
			return "", WrapAgentError(ErrCodeSynthesis, "reactive model call failed", true, err)
		}

		if len(result.ToolCalls) == 0 {
			reactIterations.Observe(float64(iteration))
			span.SetAttributes(attribute.Int("iterations", iteration))
			return result.Content, nil
		}

		call := result.ToolCalls[0]
		if len(result.ToolCalls) > 1 {
			r.logger.Debug("Ignoring extra tool calls in one response",
				slog.Int("extra", len(result.ToolCalls)-1),
			)
		}
		emit(toolEvent(call.Name, "", iteration, 0))

		observation := r.observe(ctx, call)

		messages = append(messages,
			llm.ChatMessage{Role: "assistant", Content: result.Content, ToolCalls: []llm.ToolCallResponse{call}},
			llm.ChatMessage{Role: "tool", Content: observation, ToolCallID: call.ID, ToolName: call.Name},
		)
	}

	// Iteration budget exhausted: force a final answer without tools.
	reactIterations.Observe(float64(MaxReactIterations))
	span.SetAttributes(attribute.Int("iterations", MaxReactIterations))
	messages = append(messages, llm.ChatMessage{
		Role:    "user",
		Content: "Stop gathering data. Answer the original question now using the observations collected so far, and note anything that remains unknown.",
	})
	result, err := r.model.ChatWithTools(ctx, messages, params, nil)
	if err != nil {
		span.RecordError(err)
		return "", WrapAgentError(ErrCodeSynthesis, "forced final answer failed", true, err)
	}
	return result.Content, nil
}

// observe runs one tool call and renders the result as an observation.
// Failures are reported to the model instead of failing the query.
func (r *ReactExecutor) observe(ctx context.Context, call llm.ToolCallResponse) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(call.ArgumentsString()), &args); err != nil {
		return fmt.Sprintf("ERROR: tool %q received unparseable arguments: %v", call.Name, err)
	}
	if args == nil {
		args = map[string]any{}
	}

	output, err := r.registry.Invoke(ctx, call.Name, args)
	if err != nil {
		return fmt.Sprintf("ERROR: %v. Try a different tool or answer with what you have.", err)
	}
	return output
}
