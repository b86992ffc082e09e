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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	classifierVerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "analyst",
		Subsystem: "agent",
		Name:      "classifier_verdicts_total",
		Help:      "Classifier verdicts by label: SIMPLE, COMPLEX, default",
	}, []string{"label"})

	classifierLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "analyst",
		Subsystem: "agent",
		Name:      "classifier_latency_seconds",
		Help:      "Latency of complexity classification",
		Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	})

	planStepsBuilt = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "analyst",
		Subsystem: "agent",
		Name:      "plan_steps",
		Help:      "Valid steps per execution plan after validation",
		Buckets:   []float64{1, 2, 3, 4, 6, 8, 10, 12},
	})

	planStepsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "analyst",
		Subsystem: "agent",
		Name:      "plan_steps_dropped_total",
		Help:      "Plan steps dropped during validation by reason",
	}, []string{"reason"})

	stepOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "analyst",
		Subsystem: "agent",
		Name:      "step_outcomes_total",
		Help:      "Executed plan steps by outcome: done, failed, cascade_failed",
	}, []string{"outcome"})

	reactIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "analyst",
		Subsystem: "agent",
		Name:      "react_iterations",
		Help:      "Iterations used per reactive query",
		Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 8},
	})

	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "analyst",
		Subsystem: "agent",
		Name:      "queries_total",
		Help:      "Queries by route and outcome",
	}, []string{"route", "outcome"})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var agentTracer = otel.Tracer("aleutian.analyst.agent")
