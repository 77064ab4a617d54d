// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package reasoner holds the stochastic sub-gradient optimizer that
// drives variable values toward the weighted objective's minimum.
package reasoner

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/AleutianAI/softlogic/services/inference/term"
	"github.com/AleutianAI/softlogic/services/inference/term/store"
)

// indexedStore is the store shape the optimizer requires: the common
// contract plus direct access to the variable index.
type indexedStore interface {
	store.TermStore
	Index() *term.VariableIndex
}

// readOnlyIterable stores can traverse their terms without any
// write-back, which makes the final objective cheap to recompute.
type readOnlyIterable interface {
	IterateNoWrite() (store.Iterator, error)
}

// Result summarizes one optimization run.
type Result struct {
	// Objective is the final weighted objective value.
	Objective float64

	// Iterations is the number of sweeps actually run.
	Iterations int

	// Movement is the total absolute value change written back onto
	// atoms at the end of the run.
	Movement float64

	// Terms is the term count of the final sweep.
	Terms int
}

// SGD walks every term each iteration and steps its variables down
// the sub-gradient, with optional per-coordinate rate adaptation.
//
// Thread Safety: one optimization run at a time. The variable value
// array is mutated in place; online mutation must wait for the round
// boundary.
type SGD struct {
	cfg    Config
	logger *slog.Logger

	// Per-coordinate adaptation state, lazily widened because the
	// online store introduces variable slots mid-run.
	accumGradSq  []float32
	firstMoment  []float32
	secondMoment []float32
}

// NewSGD validates the configuration and builds an optimizer.
func NewSGD(cfg Config, logger *slog.Logger) (*SGD, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &SGD{cfg: cfg, logger: logger}, nil
}

// Optimize runs sweeps over the store until convergence or the
// iteration budget runs out, then syncs the final values onto their
// atoms.
func (r *SGD) Optimize(ctx context.Context, ts store.TermStore) (Result, error) {
	if ts == nil {
		return Result{}, ErrNilStore
	}

	indexed, ok := ts.(indexedStore)
	if !ok {
		return Result{}, fmt.Errorf("%w: %T", ErrUnsupportedStore, ts)
	}

	var (
		result       Result
		oldObjective float64
	)

	for iteration := 1; iteration <= r.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		objective, movement, terms, err := r.sweep(indexed, iteration)
		if err != nil {
			return result, err
		}

		result.Objective = objective
		result.Iterations = iteration
		result.Terms = terms

		r.logger.Debug("sgd iteration",
			slog.Int("iteration", iteration),
			slog.Float64("objective", objective),
			slog.Float64("movement", movement),
			slog.Int("terms", terms))

		if r.converged(iteration, objective, oldObjective, movement, terms) {
			break
		}
		oldObjective = objective
	}

	// Sweep objectives are measured mid-update; recompute the final
	// objective over settled values when the store supports read-only
	// traversal.
	if ro, ok := ts.(readOnlyIterable); ok && result.Iterations > 0 {
		objective, terms, err := r.finalObjective(indexed, ro)
		if err != nil {
			return result, err
		}
		result.Objective = objective
		result.Terms = terms
	}

	result.Movement = ts.SyncAtoms()

	r.logger.Info("optimization complete",
		slog.Int("iterations", result.Iterations),
		slog.Float64("objective", result.Objective),
		slog.Float64("movement", result.Movement))
	return result, nil
}

// finalObjective evaluates every term once without stepping.
func (r *SGD) finalObjective(ts indexedStore, ro readOnlyIterable) (float64, int, error) {
	it, err := ro.IterateNoWrite()
	if err != nil {
		return 0, 0, err
	}

	var (
		objective float64
		terms     int
	)
	for {
		t, ok := it.Next()
		if !ok {
			break
		}
		terms++
		objective += float64(t.Evaluate(ts.VariableValues()))
	}

	if err := it.Close(); err != nil {
		return 0, 0, err
	}
	return objective, terms, nil
}

// sweep runs one pass over every term.
func (r *SGD) sweep(ts indexedStore, iteration int) (float64, float64, int, error) {
	it, err := ts.Iterate()
	if err != nil {
		return 0, 0, 0, err
	}

	var (
		objective float64
		movement  float64
		terms     int
		gradient  []float32
	)

	if !r.cfg.Coordinate {
		gradient = make([]float32, ts.NumVariables())
	}

	index := ts.Index()
	for {
		t, ok := it.Next()
		if !ok {
			break
		}
		terms++

		// Contribution before this term's own update; comparable
		// across iterations once values settle.
		value := t.Evaluate(ts.VariableValues())
		objective += float64(value)
		t.SetLastValue(value)

		if r.cfg.Coordinate {
			movement += float64(t.MinimizeWith(index, func(slot int, g float32) float32 {
				return r.step(slot, g, iteration)
			}))
		} else {
			gradient = t.AccumulateGradient(ts.VariableValues(), ts.VariableAtoms(), gradient)
		}
	}

	if err := it.Close(); err != nil {
		return 0, 0, 0, err
	}

	if !r.cfg.Coordinate {
		movement = r.applyGradient(ts, gradient, iteration)
	}

	return objective, movement, terms, nil
}

// applyGradient performs the batched step for every live variable.
func (r *SGD) applyGradient(ts indexedStore, gradient []float32, iteration int) float64 {
	var movement float64

	index := ts.Index()
	values := ts.VariableValues()
	atoms := ts.VariableAtoms()

	for slot := 0; slot < len(gradient) && slot < len(values); slot++ {
		if index.IsDeleted(slot) {
			continue
		}
		if atoms[slot] != nil && atoms[slot].IsObserved() {
			continue
		}
		if gradient[slot] == 0.0 {
			continue
		}

		newValue := clamp01(values[slot] - r.step(slot, gradient[slot], iteration))
		movement += math.Abs(float64(newValue - values[slot]))
		values[slot] = newValue
	}

	return movement
}

// rate returns the schedule-decayed learning rate for an iteration.
func (r *SGD) rate(iteration int) float32 {
	if r.cfg.Schedule == ScheduleStepDecay {
		return r.cfg.BaseRate / float32(math.Pow(float64(iteration), float64(r.cfg.DecayExponent)))
	}
	return r.cfg.BaseRate
}

// step computes one variable's step from its partial gradient,
// applying the configured extension.
func (r *SGD) step(slot int, gradient float32, iteration int) float32 {
	rate := r.rate(iteration)

	switch r.cfg.Extension {
	case ExtensionAdaGrad:
		r.ensureAdaGrad(slot)
		r.accumGradSq[slot] += gradient * gradient
		return rate / float32(math.Sqrt(float64(r.accumGradSq[slot]+r.cfg.Epsilon))) * gradient

	case ExtensionAdam:
		r.ensureAdam(slot)
		r.firstMoment[slot] = r.cfg.Beta1*r.firstMoment[slot] + (1-r.cfg.Beta1)*gradient
		r.secondMoment[slot] = r.cfg.Beta2*r.secondMoment[slot] + (1-r.cfg.Beta2)*gradient*gradient

		biasedMean := r.firstMoment[slot] / (1 - pow32(r.cfg.Beta1, iteration))
		biasedVar := r.secondMoment[slot] / (1 - pow32(r.cfg.Beta2, iteration))
		return rate * biasedMean / (float32(math.Sqrt(float64(biasedVar))) + r.cfg.Epsilon)

	default:
		return gradient * rate
	}
}

func (r *SGD) ensureAdaGrad(slot int) {
	for slot >= len(r.accumGradSq) {
		r.accumGradSq = append(r.accumGradSq, make([]float32, len(r.accumGradSq)+1)...)
	}
}

func (r *SGD) ensureAdam(slot int) {
	for slot >= len(r.firstMoment) {
		r.firstMoment = append(r.firstMoment, make([]float32, len(r.firstMoment)+1)...)
		r.secondMoment = append(r.secondMoment, make([]float32, len(r.secondMoment)+1)...)
	}
}

// converged decides whether to stop early after an iteration.
// Objective comparison starts at iteration 2: the first iteration's
// objective is measured mid-update and is not comparable.
func (r *SGD) converged(iteration int, objective, oldObjective, movement float64, terms int) bool {
	if r.cfg.RunFullIterations {
		return false
	}

	if r.cfg.MovementBreak && movement < float64(r.cfg.MovementThreshold) {
		return true
	}

	if r.cfg.ObjectiveBreak && iteration >= 2 && terms > 0 {
		norm := math.Abs(objective-oldObjective) / float64(terms)
		if norm < float64(r.cfg.Tolerance) {
			return true
		}
	}

	return false
}

func pow32(base float32, exp int) float32 {
	return float32(math.Pow(float64(base), float64(exp)))
}

func clamp01(v float32) float32 {
	if v < 0.0 {
		return 0.0
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}
