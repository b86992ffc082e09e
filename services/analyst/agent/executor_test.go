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
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianAnalyst/services/analyst/tools"
	"github.com/AleutianAI/AleutianAnalyst/services/llm"
)

func step(id int, tool string, deps ...int) AnalysisStep {
	return AnalysisStep{ID: id, Action: "run " + tool, Tool: tool, DependsOn: deps}
}

func TestStepExecutor_LinearPlan(t *testing.T) {
	invoked := map[string]int{}
	registry := testRegistry([]string{"a", "b"}, nil, invoked)
	e := NewStepExecutor(registry, nil)

	plan := &ExecutionPlan{Steps: []AnalysisStep{step(1, "a"), step(2, "b", 1)}}
	results, err := e.Execute(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	for _, r := range results {
		if r.Failed() {
			t.Errorf("step %d failed: %s", r.StepID, r.Err)
		}
	}
	if invoked["a"] != 1 || invoked["b"] != 1 {
		t.Errorf("invocations = %v", invoked)
	}
}

func TestStepExecutor_PlaceholderSubstitution(t *testing.T) {
	var gotArgs atomic.Value
	specs := []tools.Spec{
		{
			Name: "producer", Category: tools.CategoryMarket,
			Params: llm.ToolParameters{Type: "object"},
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				return "PRODUCED", nil
			},
		},
		{
			Name: "consumer", Category: tools.CategoryMarket,
			Params: llm.ToolParameters{
				Type: "object",
				Properties: map[string]llm.ToolParamDef{
					"brace":  {Type: "string"},
					"dollar": {Type: "string"},
				},
			},
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				gotArgs.Store(args)
				return "ok", nil
			},
		},
	}
	registry := tools.NewRegistry(specs, time.Minute, nil)
	e := NewStepExecutor(registry, nil)

	plan := &ExecutionPlan{Steps: []AnalysisStep{
		step(1, "producer"),
		{ID: 2, Action: "consume", Tool: "consumer", DependsOn: []int{1}, Arguments: map[string]any{
			"brace":  "value is {{step:1}}",
			"dollar": "value is $step1 here",
		}},
	}}
	results, err := e.Execute(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[1].Failed() {
		t.Fatalf("consumer failed: %s", results[1].Err)
	}

	args := gotArgs.Load().(map[string]any)
	if args["brace"] != "value is PRODUCED" {
		t.Errorf("brace arg = %q", args["brace"])
	}
	if args["dollar"] != "value is PRODUCED here" {
		t.Errorf("dollar arg = %q", args["dollar"])
	}
}

func TestStepExecutor_FailureCascades(t *testing.T) {
	invoked := map[string]int{}
	registry := testRegistry([]string{"a", "b", "c"}, map[string]bool{"a": true}, invoked)
	e := NewStepExecutor(registry, nil)

	// b depends on the failing a; c is independent and must still run.
	plan := &ExecutionPlan{Steps: []AnalysisStep{
		step(1, "a"),
		step(2, "b", 1),
		step(3, "c"),
	}}
	results, err := e.Execute(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byID := map[int]StepResult{}
	for _, r := range results {
		byID[r.StepID] = r
	}
	if !byID[1].Failed() {
		t.Error("step 1 should fail")
	}
	if !byID[2].Failed() || !strings.Contains(byID[2].Err, "dependency") {
		t.Errorf("step 2 should cascade-fail: %+v", byID[2])
	}
	if byID[3].Failed() {
		t.Errorf("independent step 3 should succeed: %s", byID[3].Err)
	}
	if invoked["b"] != 0 {
		t.Error("cascade-failed step must not be invoked")
	}
}

func TestStepExecutor_IndependentStepsRunConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	spec := func(name string) tools.Spec {
		return tools.Spec{
			Name: name, Category: tools.CategoryMarket,
			Params: llm.ToolParameters{Type: "object"},
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				inFlight.Add(-1)
				return "ok", nil
			},
		}
	}
	registry := tools.NewRegistry([]tools.Spec{spec("x"), spec("y"), spec("z")}, time.Minute, nil)
	e := NewStepExecutor(registry, nil)

	plan := &ExecutionPlan{Steps: []AnalysisStep{step(1, "x"), step(2, "y"), step(3, "z")}}
	if _, err := e.Execute(context.Background(), plan, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, independent steps should overlap", peak.Load())
	}
}

func TestStepExecutor_EmitsToolEvents(t *testing.T) {
	registry := testRegistry([]string{"a", "b"}, nil, nil)
	e := NewStepExecutor(registry, nil)

	var events []StreamEvent
	plan := &ExecutionPlan{Steps: []AnalysisStep{step(1, "a"), step(2, "b", 1)}}
	if _, err := e.Execute(context.Background(), plan, collectEvents(&events)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	for i, ev := range events {
		if ev.Type != EventTool {
			t.Errorf("event %d type = %q", i, ev.Type)
		}
		if ev.Step != i+1 || ev.Total != 2 {
			t.Errorf("event %d counters = %d/%d", i, ev.Step, ev.Total)
		}
	}
}

func TestStepExecutor_PlaceholderAgainstFailedStep(t *testing.T) {
	invoked := map[string]int{}
	registry := testRegistry([]string{"a", "b"}, map[string]bool{"a": true}, invoked)
	e := NewStepExecutor(registry, nil)

	// Step 2 has no declared dependency on step 1 but references its
	// output; the reference cannot resolve so step 2 fails without a
	// tool invocation.
	plan := &ExecutionPlan{Steps: []AnalysisStep{
		step(1, "a"),
		{ID: 2, Action: "use", Tool: "b", Arguments: map[string]any{"query": "{{step:1}}"}},
	}}
	results, err := e.Execute(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[1].Failed() {
		t.Fatal("step 2 should fail on unresolved reference")
	}
	if invoked["b"] != 0 {
		t.Error("tool must not be invoked with an unresolved placeholder")
	}
}

func TestStepExecutor_ContextCancellation(t *testing.T) {
	registry := testRegistry([]string{"a"}, nil, nil)
	e := NewStepExecutor(registry, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, &ExecutionPlan{Steps: []AnalysisStep{step(1, "a")}}, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
