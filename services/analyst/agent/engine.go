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
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianAnalyst/services/analyst/tools"
	"github.com/AleutianAI/AleutianAnalyst/services/llm"
)

// Engine answers analyst queries.
//
// Description:
//
//	The engine classifies each query and routes it: SIMPLE queries run
//	the reactive loop, COMPLEX queries get an explicit plan executed by
//	the dependency-aware step executor and synthesized into a streamed
//	answer. A plan that cannot be built falls back to the reactive
//	route, so planner fragility never costs the user an answer.
//
//	The engine emits progress and token events but never terminal
//	events; the session channel owns the response/error framing.
//
// Thread Safety: Safe for concurrent use. Engines are built once per
// session around the session's model client and tool registry.
type Engine struct {
	classifier *Classifier
	planner    *Planner
	executor   *StepExecutor
	react      *ReactExecutor
	synth      *Synthesizer
	registry   *tools.Registry
	logger     *slog.Logger
}

// NewEngine creates an engine around a model client and tool registry.
// A nil logger selects slog.Default().
func NewEngine(model llm.LLMClient, registry *tools.Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		classifier: NewClassifier(model, logger),
		planner:    NewPlanner(model, logger),
		executor:   NewStepExecutor(registry, logger),
		react:      NewReactExecutor(model, registry, logger),
		synth:      NewSynthesizer(model, logger),
		registry:   registry,
		logger:     logger,
	}
}

// Answer processes one query end to end.
//
// Inputs:
//   - ctx: Caller context. Cancellation (client disconnect) aborts all
//     in-flight model calls and tool invocations.
//   - query: The question, ticker, and prior conversation.
//   - emit: Receives progress and token events. Nil is allowed.
//
// Outputs:
//   - string: The final answer text.
//   - error: A typed AgentError when the query could not be answered.
func (e *Engine) Answer(ctx context.Context, query Query, emit Emitter) (string, error) {
	ctx, span := agentTracer.Start(ctx, "agent.answer")
	defer span.End()

	if emit == nil {
		emit = nopEmitter
	}

	emit(statusEvent("Analyzing your question..."))
	verdict, err := e.classifier.Classify(ctx, e.registry, query.Ticker, query.Text)
	if err != nil {
		queriesTotal.WithLabelValues("none", "error").Inc()
		return "", err
	}
	span.SetAttributes(attribute.String("complexity", string(verdict.Label)))

	if verdict.Label == ComplexitySimple {
		return e.answerReactive(ctx, query, emit)
	}
	return e.answerPlanned(ctx, query, emit)
}

func (e *Engine) answerReactive(ctx context.Context, query Query, emit Emitter) (string, error) {
	answer, err := e.react.Run(ctx, query, emit)
	if err != nil {
		queriesTotal.WithLabelValues("react", "error").Inc()
		return "", err
	}
	queriesTotal.WithLabelValues("react", "ok").Inc()
	return answer, nil
}

func (e *Engine) answerPlanned(ctx context.Context, query Query, emit Emitter) (string, error) {
	emit(statusEvent("Building analysis plan..."))
	plan, err := e.planner.BuildPlan(ctx, e.registry, query.Ticker, query.Text)
	if err != nil {
		if ctx.Err() != nil {
			queriesTotal.WithLabelValues("planned", "error").Inc()
			return "", err
		}
		// No usable plan. The reactive route can still answer.
		e.logger.Warn("Plan unavailable, falling back to reactive route",
			slog.String("error", err.Error()),
		)
		emit(statusEvent("Answering directly..."))
		return e.answerReactive(ctx, query, emit)
	}

	emit(statusEvent("Running analysis steps..."))
	results, err := e.executor.Execute(ctx, plan, emit)
	if err != nil {
		queriesTotal.WithLabelValues("planned", "error").Inc()
		return "", WrapAgentError(ErrCodeToolInvocation, "plan execution aborted", false, err)
	}

	emit(statusEvent("Synthesizing answer..."))
	answer, err := e.synth.Synthesize(ctx, query.Ticker, query.Text, plan.SynthesisApproach, results, emit)
	if err != nil {
		queriesTotal.WithLabelValues("planned", "error").Inc()
		return "", err
	}
	queriesTotal.WithLabelValues("planned", "ok").Inc()
	return answer, nil
}
