// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools defines the analyst tool registry: the catalog of filing,
// market, and research tools the agent engine can invoke, with uniform
// argument validation, timeouts, metrics, and tracing around every call.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianAnalyst/services/llm"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	toolInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "analyst",
		Subsystem: "tools",
		Name:      "invocations_total",
		Help:      "Tool invocations by tool name and outcome: ok, error, timeout, unknown_tool",
	}, []string{"tool", "outcome"})

	toolInvocationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "analyst",
		Subsystem: "tools",
		Name:      "invocation_latency_seconds",
		Help:      "Latency of tool invocations",
		Buckets:   []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	}, []string{"tool"})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var toolsTracer = otel.Tracer("aleutian.analyst.tools")

// =============================================================================
// Spec and Registry
// =============================================================================

// Category groups tools by the data source they draw from.
type Category string

const (
	// CategoryFiling covers SEC EDGAR filing tools.
	CategoryFiling Category = "filing"
	// CategoryMarket covers price and technical analysis tools.
	CategoryMarket Category = "market"
	// CategoryResearch covers web research tools. Only available when the
	// session presented a research API key.
	CategoryResearch Category = "research"
)

// RunFunc executes one tool invocation.
type RunFunc func(ctx context.Context, args map[string]any) (string, error)

// Spec describes one callable tool.
//
// Thread Safety: Spec is immutable after construction. Run must be safe
// for concurrent use.
type Spec struct {
	Name        string
	Description string
	Category    Category
	Params      llm.ToolParameters
	Run         RunFunc
}

// DefaultInvokeTimeout bounds a single tool invocation.
const DefaultInvokeTimeout = 30 * time.Second

// Registry is an immutable catalog of tools.
//
// Description:
//
//	Built once per session from the session's credentials and shared
//	read-only by the reactive executor and the step executor. Invoke is
//	the single entry point for running a tool: it applies the per-tool
//	timeout, records metrics, and wraps errors uniformly.
//
// Thread Safety: Registry is immutable after construction and safe for
// concurrent use.
type Registry struct {
	specs   []Spec
	byName  map[string]Spec
	timeout time.Duration
	logger  *slog.Logger
}

// NewRegistry builds a registry from specs.
//
// Inputs:
//   - specs: Tool specs. Duplicate names keep the first occurrence.
//   - timeout: Per-invocation budget. Zero selects DefaultInvokeTimeout.
//   - logger: Logger instance. Nil selects slog.Default().
func NewRegistry(specs []Spec, timeout time.Duration, logger *slog.Logger) *Registry {
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	byName := make(map[string]Spec, len(specs))
	kept := make([]Spec, 0, len(specs))
	for _, s := range specs {
		if _, dup := byName[s.Name]; dup {
			continue
		}
		byName[s.Name] = s
		kept = append(kept, s)
	}
	return &Registry{specs: kept, byName: byName, timeout: timeout, logger: logger}
}

// Get returns the spec for name.
func (r *Registry) Get(name string) (Spec, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Has reports whether name is a registered tool.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.specs)
}

// Names returns all tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for _, s := range r.specs {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

// Specs returns the registered specs in registration order.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, len(r.specs))
	copy(out, r.specs)
	return out
}

// WithoutCategory returns a new registry without tools of the given
// category. Used to strip research tools from sessions that presented no
// research key.
func (r *Registry) WithoutCategory(cat Category) *Registry {
	kept := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		if s.Category != cat {
			kept = append(kept, s)
		}
	}
	return NewRegistry(kept, r.timeout, r.logger)
}

// ToolDefs converts the catalog to the function-calling wire shape.
func (r *Registry) ToolDefs() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.specs))
	for _, s := range r.specs {
		defs = append(defs, llm.ToolDef{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Params,
			},
		})
	}
	return defs
}

// ValidateArgs checks args against the tool's declared parameter schema.
//
// Description:
//
//	Verifies required parameters are present and that provided values
//	match the declared JSON Schema primitive types. Unknown argument
//	names are rejected so plans cannot smuggle arbitrary keys.
//
// Outputs:
//   - error: Nil when args satisfy the schema.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	spec, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	for _, req := range spec.Params.Required {
		if _, present := args[req]; !present {
			return fmt.Errorf("tool %q: missing required argument %q", name, req)
		}
	}
	for key, value := range args {
		def, declared := spec.Params.Properties[key]
		if !declared {
			return fmt.Errorf("tool %q: unknown argument %q", name, key)
		}
		if err := checkParamType(def.Type, value); err != nil {
			return fmt.Errorf("tool %q: argument %q: %w", name, key, err)
		}
	}
	return nil
}

func checkParamType(schemaType string, value any) error {
	switch schemaType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case "integer", "number":
		switch value.(type) {
		case int, int64, float64, float32:
		default:
			return fmt.Errorf("expected %s, got %T", schemaType, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	}
	return nil
}

// Invoke runs the named tool with args.
//
// Description:
//
//	Validates arguments, applies the per-invocation timeout, and runs the
//	tool. A deadline overrun surfaces as an invocation error like any
//	other tool failure; the caller decides whether to degrade or fail.
//
// Inputs:
//   - ctx: Caller context. Cancellation propagates into the tool.
//   - name: Registered tool name.
//   - args: Tool arguments matching the declared schema.
//
// Outputs:
//   - string: The tool's textual output.
//   - error: Non-nil for unknown tools, bad arguments, timeouts, and
//     tool failures.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	ctx, span := toolsTracer.Start(ctx, "tools.invoke",
		trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	spec, ok := r.byName[name]
	if !ok {
		toolInvocationsTotal.WithLabelValues(name, "unknown_tool").Inc()
		span.SetStatus(codes.Error, "unknown tool")
		return "", fmt.Errorf("unknown tool %q", name)
	}

	if err := r.ValidateArgs(name, args); err != nil {
		toolInvocationsTotal.WithLabelValues(name, "error").Inc()
		span.SetStatus(codes.Error, "invalid arguments")
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	output, err := spec.Run(ctx, args)
	elapsed := time.Since(start)
	toolInvocationLatency.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		outcome := "error"
		if ctx.Err() == context.DeadlineExceeded {
			outcome = "timeout"
		}
		toolInvocationsTotal.WithLabelValues(name, outcome).Inc()
		span.SetStatus(codes.Error, outcome)
		r.logger.Warn("Tool invocation failed",
			slog.String("tool", name),
			slog.Duration("elapsed", elapsed),
			slog.String("error", llm.SafeLogString(err.Error())),
		)
		return "", fmt.Errorf("tool %q: %w", name, err)
	}

	toolInvocationsTotal.WithLabelValues(name, "ok").Inc()
	r.logger.Debug("Tool invocation succeeded",
		slog.String("tool", name),
		slog.Duration("elapsed", elapsed),
		slog.Int("output_len", len(output)),
	)
	return output, nil
}
