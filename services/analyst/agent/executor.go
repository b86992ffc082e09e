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
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianAnalyst/services/analyst/tools"
)

// Placeholder syntaxes accepted inside string arguments. Both expand to
// the referenced step's output.
var (
	braceStepRef  = regexp.MustCompile(`\{\{step:(\d+)\}\}`)
	dollarStepRef = regexp.MustCompile(`\$step(\d+)\b`)
)

// StepExecutor runs a validated execution plan.
//
// Description:
//
//	Executes the plan in waves: every pass collects the pending steps
//	whose dependencies have all completed and runs them concurrently.
//	A failed step does not abort the plan; it fails, its dependents
//	cascade-fail, and independent branches keep running. Only context
//	cancellation aborts execution.
//
// Thread Safety: Safe for concurrent use; per-plan state is local to
// each Execute call.
type StepExecutor struct {
	registry *tools.Registry
	logger   *slog.Logger
}

// NewStepExecutor creates a step executor. A nil logger selects
// slog.Default().
func NewStepExecutor(registry *tools.Registry, logger *slog.Logger) *StepExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepExecutor{registry: registry, logger: logger}
}

// Execute runs all steps of the plan.
//
// Inputs:
//   - ctx: Caller context. Cancellation aborts in-flight steps.
//   - plan: A validated plan. Dependencies reference earlier steps.
//   - emit: Receives a tool event as each step starts. Nil is allowed.
//
// Outputs:
//   - []StepResult: One result per step in plan order, failed or not.
//   - error: Non-nil only when ctx was cancelled.
func (e *StepExecutor) Execute(ctx context.Context, plan *ExecutionPlan, emit Emitter) ([]StepResult, error) {
	ctx, span := agentTracer.Start(ctx, "agent.execute_plan")
	defer span.End()
	span.SetAttributes(attribute.Int("plan.steps", len(plan.Steps)))

	if emit == nil {
		emit = nopEmitter
	}

	states := make(map[int]StepState, len(plan.Steps))
	outputs := make(map[int]string, len(plan.Steps))
	failures := make(map[int]string, len(plan.Steps))
	for _, step := range plan.Steps {
		states[step.ID] = StepPending
	}

	total := len(plan.Steps)
	started := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch := e.runnableBatch(plan, states)
		if len(batch) == 0 {
			// Anything still pending has a failed dependency.
			if !e.cascadeFail(plan, states, failures) {
				break
			}
			continue
		}

		type stepOutcome struct {
			id     int
			output string
			err    error
		}
		outcomes := make([]stepOutcome, len(batch))

		group, groupCtx := errgroup.WithContext(ctx)
		for i, step := range batch {
			states[step.ID] = StepRunning
			started++
			emit(toolEvent(step.Tool, step.Action, started, total))

			args, substErr := substituteStepRefs(step.Arguments, states, outputs)
			group.Go(func() error {
				if substErr != nil {
					outcomes[i] = stepOutcome{id: step.ID, err: substErr}
					return nil
				}
				out, err := e.registry.Invoke(groupCtx, step.Tool, args)
				outcomes[i] = stepOutcome{id: step.ID, output: out, err: err}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}

		for _, outcome := range outcomes {
			if outcome.err != nil {
				states[outcome.id] = StepFailed
				failures[outcome.id] = outcome.err.Error()
				stepOutcomesTotal.WithLabelValues("failed").Inc()
				e.logger.Warn("Plan step failed",
					slog.Int("step", outcome.id),
					slog.String("error", outcome.err.Error()),
				)
				continue
			}
			states[outcome.id] = StepDone
			outputs[outcome.id] = outcome.output
			stepOutcomesTotal.WithLabelValues("done").Inc()
		}
	}

	results := make([]StepResult, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		r := StepResult{StepID: step.ID, Tool: step.Tool}
		if states[step.ID] == StepDone {
			r.Output = outputs[step.ID]
		} else {
			r.Err = failures[step.ID]
		}
		results = append(results, r)
	}
	return results, nil
}

// runnableBatch returns pending steps whose dependencies are all done.
func (e *StepExecutor) runnableBatch(plan *ExecutionPlan, states map[int]StepState) []AnalysisStep {
	var batch []AnalysisStep
	for _, step := range plan.Steps {
		if states[step.ID] != StepPending {
			continue
		}
		ready := true
		for _, dep := range step.DependsOn {
			if states[dep] != StepDone {
				ready = false
				break
			}
		}
		if ready {
			batch = append(batch, step)
		}
	}
	return batch
}

// cascadeFail marks pending steps with a failed dependency as failed.
// Returns true when it changed any state.
func (e *StepExecutor) cascadeFail(plan *ExecutionPlan, states map[int]StepState, failures map[int]string) bool {
	changed := false
	for _, step := range plan.Steps {
		if states[step.ID] != StepPending {
			continue
		}
		for _, dep := range step.DependsOn {
			if states[dep] == StepFailed {
				states[step.ID] = StepFailed
				failures[step.ID] = fmt.Sprintf("dependency step %d failed", dep)
				stepOutcomesTotal.WithLabelValues("cascade_failed").Inc()
				changed = true
				break
			}
		}
	}
	return changed
}

// substituteStepRefs expands step output placeholders inside string
// arguments. Referencing a step that is not done is an error; the step
// fails without a tool invocation.
func substituteStepRefs(args map[string]any, states map[int]StepState, outputs map[int]string) (map[string]any, error) {
	if len(args) == 0 {
		return args, nil
	}
	out := make(map[string]any, len(args))
	for key, value := range args {
		str, ok := value.(string)
		if !ok {
			out[key] = value
			continue
		}
		expanded, err := expandStepRefs(str, states, outputs)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", key, err)
		}
		out[key] = expanded
	}
	return out, nil
}

func expandStepRefs(s string, states map[int]StepState, outputs map[int]string) (string, error) {
	var firstErr error
	expand := func(match, digits string) string {
		id, err := strconv.Atoi(digits)
		if err != nil {
			return match
		}
		if states[id] != StepDone {
			if firstErr == nil {
				firstErr = fmt.Errorf("references step %d which did not complete", id)
			}
			return match
		}
		return outputs[id]
	}

	s = braceStepRef.ReplaceAllStringFunc(s, func(match string) string {
		return expand(match, braceStepRef.FindStringSubmatch(match)[1])
	})
	s = dollarStepRef.ReplaceAllStringFunc(s, func(match string) string {
		return expand(match, strings.TrimPrefix(match, "$step"))
	})
	return s, firstErr
}
