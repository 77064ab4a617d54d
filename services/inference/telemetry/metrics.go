// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the SoftLogic inference service.
//
// Description:
//
//	Provides standard counters and histograms for inference rounds, client
//	actions, grounding, and export operations. All metrics use the
//	"softlogic_" prefix for consistent naming.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- Action Metrics ---

	// ActionsTotal counts client actions by kind and status.
	ActionsTotal metric.Int64Counter

	// ActionDuration records action handling duration in seconds.
	ActionDuration metric.Float64Histogram

	// --- Grounding Metrics ---

	// GroundingRoundsTotal counts grounding rounds by store kind.
	GroundingRoundsTotal metric.Int64Counter

	// TermsGroundedTotal counts objective terms produced by grounding.
	TermsGroundedTotal metric.Int64Counter

	// --- Optimization Metrics ---

	// OptimizeRoundsTotal counts completed optimization rounds.
	OptimizeRoundsTotal metric.Int64Counter

	// OptimizeIterationsTotal counts optimizer iterations across all rounds.
	OptimizeIterationsTotal metric.Int64Counter

	// OptimizeDuration records optimization round duration in seconds.
	OptimizeDuration metric.Float64Histogram

	// Objective reports the objective value at the end of each round.
	Objective metric.Int64ObservableGauge

	// --- Export Metrics ---

	// AtomsExportedTotal counts atoms written to the export store.
	AtomsExportedTotal metric.Int64Counter

	// --- Error Metrics ---

	// ErrorsTotal counts total errors by type and component.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
//
// Description:
//
//	Registers all pre-defined metrics with the provided meter.
//	Returns an error if any metric registration fails.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance with all counters and histograms initialized.
//	error - Non-nil if metric registration fails.
//
// Example:
//
//	meter := otel.Meter("softlogic")
//	metrics, err := telemetry.NewMetrics(meter)
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
//	metrics.ActionsTotal.Add(ctx, 1, ...)
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// --- Action Metrics ---
	m.ActionsTotal, err = meter.Int64Counter(
		"softlogic_actions_total",
		metric.WithDescription("Total client actions"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create actions_total: %w", err)
	}

	m.ActionDuration, err = meter.Float64Histogram(
		"softlogic_action_duration_seconds",
		metric.WithDescription("Action handling duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create action_duration: %w", err)
	}

	// --- Grounding Metrics ---
	m.GroundingRoundsTotal, err = meter.Int64Counter(
		"softlogic_grounding_rounds_total",
		metric.WithDescription("Total grounding rounds"),
		metric.WithUnit("{round}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create grounding_rounds_total: %w", err)
	}

	m.TermsGroundedTotal, err = meter.Int64Counter(
		"softlogic_terms_grounded_total",
		metric.WithDescription("Total objective terms produced by grounding"),
		metric.WithUnit("{term}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create terms_grounded_total: %w", err)
	}

	// --- Optimization Metrics ---
	m.OptimizeRoundsTotal, err = meter.Int64Counter(
		"softlogic_optimize_rounds_total",
		metric.WithDescription("Total completed optimization rounds"),
		metric.WithUnit("{round}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create optimize_rounds_total: %w", err)
	}

	m.OptimizeIterationsTotal, err = meter.Int64Counter(
		"softlogic_optimize_iterations_total",
		metric.WithDescription("Total optimizer iterations"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create optimize_iterations_total: %w", err)
	}

	m.OptimizeDuration, err = meter.Float64Histogram(
		"softlogic_optimize_duration_seconds",
		metric.WithDescription("Optimization round duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create optimize_duration: %w", err)
	}

	// Note: Objective requires a callback registration, handled separately

	// --- Export Metrics ---
	m.AtomsExportedTotal, err = meter.Int64Counter(
		"softlogic_atoms_exported_total",
		metric.WithDescription("Total atoms written to the export store"),
		metric.WithUnit("{atom}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create atoms_exported_total: %w", err)
	}

	// --- Error Metrics ---
	m.ErrorsTotal, err = meter.Int64Counter(
		"softlogic_errors_total",
		metric.WithDescription("Total errors by type and component"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}

// RegisterObjectiveGauge registers a callback for the objective value gauge.
//
// Description:
//
//	Sets up an observable gauge that reports the objective value from the
//	most recent optimization round, scaled by 1e6 to fit an integer gauge.
//	The callback is invoked each time metrics are scraped.
//
// Inputs:
//
//	meter - The OTel meter to use for registration.
//	objectiveFunc - A function that returns the latest objective in micro-units.
//
// Outputs:
//
//	metric.Registration - Registration handle for cleanup.
//	error - Non-nil if registration fails.
func (m *Metrics) RegisterObjectiveGauge(meter metric.Meter, objectiveFunc func() int64) (metric.Registration, error) {
	var err error
	m.Objective, err = meter.Int64ObservableGauge(
		"softlogic_objective_micro",
		metric.WithDescription("Objective value after the latest optimization round, in micro-units"),
		metric.WithUnit("{micro}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create objective_micro: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.Objective, objectiveFunc())
		return nil
	}, m.Objective)
}
