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

	"github.com/kaptinlin/jsonrepair"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianAnalyst/services/analyst/tools"
	"github.com/AleutianAI/AleutianAnalyst/services/llm"
)

// MaxPlanSteps bounds an execution plan. Steps past the budget are cut.
const MaxPlanSteps = 12

// plannerSchema is the structured-output schema for plan generation.
var plannerSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"steps": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":     map[string]any{"type": "integer"},
					"action": map[string]any{"type": "string"},
					"tool":   map[string]any{"type": "string"},
					"arguments": map[string]any{
						"type": "object",
					},
					"depends_on": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "integer"},
					},
				},
				"required": []string{"id", "action", "tool"},
			},
		},
		"synthesis_approach": map[string]any{"type": "string"},
	},
	"required": []string{"steps"},
}

// Planner builds validated execution plans for complex queries.
//
// Description:
//
//	Asks the model for a structured plan, then validates it into a DAG
//	the step executor can run without further checks. Validation is
//	permissive where it can be and strict where it must be: a dependency
//	edge pointing at the step itself or a later step is dropped (the
//	step survives), while a step naming an unknown tool, failing
//	argument validation, or depending on a step that did not survive is
//	dropped along with everything downstream of it.
//
// Thread Safety: Safe for concurrent use.
type Planner struct {
	model  llm.LLMClient
	logger *slog.Logger
}

// NewPlanner creates a planner. A nil logger selects slog.Default().
func NewPlanner(model llm.LLMClient, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{model: model, logger: logger}
}

// BuildPlan produces a validated execution plan for the query.
//
// Outputs:
//   - *ExecutionPlan: A plan with at least one valid step. Step ids are
//     the model's ids; every dependency references an earlier surviving
//     step, so the plan is acyclic.
//   - error: ErrCodePlanValidation when no valid steps survive; the
//     caller should fall back to the reactive route.
func (p *Planner) BuildPlan(ctx context.Context, registry *tools.Registry, ticker, query string) (*ExecutionPlan, error) {
	ctx, span := agentTracer.Start(ctx, "agent.build_plan")
	defer span.End()

	raw, err := p.model.Generate(ctx, plannerPrompt(registry, ticker, query), llm.GenerationParams{
		ResponseMIMEType: "application/json",
		ResponseSchema:   plannerSchema,
	})
	if err != nil {
		span.RecordError(err)
		return nil, WrapAgentError(ErrCodePlanValidation, "planner model call failed", true, err)
	}

	parsed, err := parsePlan(raw)
	if err != nil {
		span.RecordError(err)
		return nil, WrapAgentError(ErrCodePlanValidation, "planner response unparseable", false, err)
	}

	plan := p.validatePlan(registry, parsed)
	if len(plan.Steps) == 0 {
		return nil, NewAgentError(ErrCodePlanValidation, "no valid steps survived validation", false)
	}

	planStepsBuilt.Observe(float64(len(plan.Steps)))
	span.SetAttributes(attribute.Int("plan.steps", len(plan.Steps)))
	p.logger.Info("Execution plan built",
		slog.Int("steps", len(plan.Steps)),
		slog.Int("proposed", len(parsed.Steps)),
	)
	return plan, nil
}

// parsePlan decodes a plan from raw model output, repairing loose JSON
// before giving up.
func parsePlan(raw string) (*ExecutionPlan, error) {
	var plan ExecutionPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("unparseable plan: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &plan); err != nil {
			return nil, fmt.Errorf("unparseable plan after repair: %w", err)
		}
	}
	return &plan, nil
}

// validatePlan filters the proposed steps down to a runnable DAG.
func (p *Planner) validatePlan(registry *tools.Registry, proposed *ExecutionPlan) *ExecutionPlan {
	surviving := make(map[int]bool, len(proposed.Steps))
	steps := make([]AnalysisStep, 0, len(proposed.Steps))

	for _, step := range proposed.Steps {
		if len(steps) >= MaxPlanSteps {
			planStepsDropped.WithLabelValues("over_budget").Inc()
			p.logger.Warn("Plan step dropped", slog.Int("id", step.ID), slog.String("reason", "over_budget"))
			continue
		}
		if step.ID <= 0 || surviving[step.ID] {
			planStepsDropped.WithLabelValues("bad_id").Inc()
			p.logger.Warn("Plan step dropped", slog.Int("id", step.ID), slog.String("reason", "bad_id"))
			continue
		}
		if !registry.Has(step.Tool) {
			planStepsDropped.WithLabelValues("unknown_tool").Inc()
			p.logger.Warn("Plan step dropped",
				slog.Int("id", step.ID),
				slog.String("tool", step.Tool),
				slog.String("reason", "unknown_tool"),
			)
			continue
		}
		if step.Arguments == nil {
			step.Arguments = map[string]any{}
		}
		if err := registry.ValidateArgs(step.Tool, step.Arguments); err != nil {
			planStepsDropped.WithLabelValues("invalid_arguments").Inc()
			p.logger.Warn("Plan step dropped",
				slog.Int("id", step.ID),
				slog.String("tool", step.Tool),
				slog.String("reason", "invalid_arguments"),
				slog.String("error", err.Error()),
			)
			continue
		}

		// Edges to the step itself or to later steps would make a cycle;
		// drop the edge and keep the step. Edges to steps that did not
		// survive drop the step, since its inputs can never materialize.
		deps := make([]int, 0, len(step.DependsOn))
		missingDep := false
		for _, dep := range step.DependsOn {
			if dep >= step.ID {
				planStepsDropped.WithLabelValues("back_edge").Inc()
				p.logger.Warn("Plan dependency dropped",
					slog.Int("id", step.ID),
					slog.Int("dep", dep),
					slog.String("reason", "back_edge"),
				)
				continue
			}
			if !surviving[dep] {
				missingDep = true
				break
			}
			deps = append(deps, dep)
		}
		if missingDep {
			planStepsDropped.WithLabelValues("missing_dependency").Inc()
			p.logger.Warn("Plan step dropped", slog.Int("id", step.ID), slog.String("reason", "missing_dependency"))
			continue
		}

		step.DependsOn = deps
		surviving[step.ID] = true
		steps = append(steps, step)
	}

	return &ExecutionPlan{Steps: steps, SynthesisApproach: proposed.SynthesisApproach}
}
