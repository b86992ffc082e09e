// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent implements the analyst query engine: a complexity
// classifier routes each query either through a reactive tool-calling loop
// or through an explicit execution plan run by a dependency-aware step
// executor, with a streaming synthesizer producing the final answer.
package agent

import (
	"time"
)

// Complexity is the classifier's verdict label.
type Complexity string

const (
	// ComplexitySimple routes to the reactive executor.
	ComplexitySimple Complexity = "SIMPLE"
	// ComplexityComplex routes to the plan builder and step executor.
	ComplexityComplex Complexity = "COMPLEX"
)

// ComplexityVerdict is the classifier's output for one query. It exists
// only to route the query and is discarded afterwards.
type ComplexityVerdict struct {
	Label          Complexity `json:"complexity"`
	EstimatedTools int        `json:"estimated_tool_count"`
	Reasoning      string     `json:"reasoning,omitempty"`
}

// ConversationTurn is one persisted message of a session.
type ConversationTurn struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Query is one user question in the context of a session.
//
// Thread Safety: Query is immutable once handed to the engine.
type Query struct {
	Text    string
	Ticker  string
	History []ConversationTurn
}

// StepState tracks an analysis step through execution.
type StepState string

const (
	StepPending StepState = "PENDING"
	StepRunning StepState = "RUNNING"
	StepDone    StepState = "DONE"
	StepFailed  StepState = "FAILED"
)

// AnalysisStep is one node of an execution plan.
//
// Description:
//
//	Steps form a DAG: DependsOn lists ids of steps whose outputs this
//	step needs. After plan validation every dependency references an
//	earlier, existing step, which makes the graph acyclic by
//	construction.
type AnalysisStep struct {
	ID        int            `json:"id"`
	Action    string         `json:"action"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	DependsOn []int          `json:"depends_on,omitempty"`
}

// StepResult is the outcome of one executed step.
//
// Ownership: results belong to the step executor until execution
// completes, then transfer read-only to the synthesizer.
type StepResult struct {
	StepID int    `json:"step_id"`
	Tool   string `json:"tool"`
	Output string `json:"output,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Failed reports whether the step produced an error instead of output.
func (r StepResult) Failed() bool {
	return r.Err != ""
}

// ExecutionPlan is a validated plan for one complex query. Plans are
// built, executed, and discarded within a single query; they are never
// shared across queries.
type ExecutionPlan struct {
	Steps             []AnalysisStep `json:"steps"`
	SynthesisApproach string         `json:"synthesis_approach,omitempty"`
}
