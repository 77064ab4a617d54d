// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package term

import (
	"log/slog"

	"github.com/AleutianAI/softlogic/services/inference/model"
	"github.com/AleutianAI/softlogic/services/inference/rule"
)

// Builder translates a ground rule's potential into hyperplanes and
// objective terms, allocating variable slots as it goes.
//
// Thread Safety: not safe for concurrent use; each store traversal
// owns its builder.
type Builder struct {
	index *VariableIndex
	rules *rule.Table

	// mergeConstants folds observed-only summand positions into the
	// hyperplane constant instead of materializing them as variables.
	mergeConstants bool

	logger *slog.Logger
}

// NewBuilder creates a builder over the given variable index and rule
// table.
func NewBuilder(index *VariableIndex, rules *rule.Table, mergeConstants bool, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Builder{
		index:          index,
		rules:          rules,
		mergeConstants: mergeConstants,
		logger:         logger,
	}
}

// BuildTerm converts a ground rule into an objective term.
//
// Outputs:
//
//	*ObjectiveTerm - The term, or nil when the grounding is vacuous:
//	  tautological (a disjunctive summand used the same atom both
//	  positively and negated) or degenerate (every position folded
//	  into the constant). A nil term with nil error is a skip, not a
//	  failure.
//	error - Non-nil only for rules missing from the rule table.
func (b *Builder) BuildTerm(ground *rule.GroundRule) (*ObjectiveTerm, error) {
	ruleIndex := b.rules.Index(ground.Rule)
	if ruleIndex < 0 {
		return nil, rule.ErrUnknownRule
	}

	hyperplanes := b.BuildHyperplanes(ground.Potential)
	if len(hyperplanes) == 0 {
		return nil, nil
	}

	term := newObjectiveTerm(b.index, ruleIndex, ground.Rule.Weight,
		ground.Potential.Hinge, ground.Potential.Squared, hyperplanes)
	if term.Size() == 0 {
		// All positions folded into constants: nothing to optimize.
		return nil, nil
	}

	return term, nil
}

// BuildHyperplanes walks each summand of a potential and produces one
// hyperplane per surviving summand.
//
// For each atom position: an observed atom (with folding enabled) is
// folded into the constant, sign-negated because the hyperplane is
// stored as `coeffs·x = constant`; a fixed-mirror atom is folded the
// same way but tracked with its negated coefficient so the constant
// can be adjusted if the mirrored value changes; anything else
// resolves a variable slot. A repeated atom adds to its existing
// coefficient — unless the summand is disjunctive and the signs
// mismatch, which means the grounding used the same atom once
// positively and once negated (a tautology): that summand is
// discarded, not an error.
func (b *Builder) BuildHyperplanes(potential rule.Potential) []*Hyperplane {
	hyperplanes := make([]*Hyperplane, 0, len(potential.Sums))

	for _, sum := range potential.Sums {
		hyperplane := b.buildSummand(sum)
		if hyperplane != nil {
			hyperplanes = append(hyperplanes, hyperplane)
		}
	}

	return hyperplanes
}

func (b *Builder) buildSummand(sum rule.Sum) *Hyperplane {
	// Stored as coeffs^T * x = constant, so the raw constant negates.
	hyperplane := NewHyperplane(len(sum.Atoms), -sum.Constant)

	for i, atom := range sum.Atoms {
		coefficient := sum.Coefficients[i]

		switch {
		case atom.Predicate.FixedMirror:
			// Externally pinned: fold into the constant, track negated.
			hyperplane.SetConstant(hyperplane.Constant() - coefficient*atom.Value())
			hyperplane.AddIntegrated(atom, -coefficient)

		case !atom.IsObserved() || !b.mergeConstants:
			existing := hyperplane.IndexOf(atom)
			if existing >= 0 {
				if sum.Disjunctive && !signsMatch(hyperplane.Coefficient(existing), coefficient) {
					// Foo('a') | !Foo('a'): trivially satisfied.
					return nil
				}
				hyperplane.AddToCoefficient(existing, coefficient)
				continue
			}

			b.index.CreateOrGet(atom)
			hyperplane.Add(atom, coefficient)

		default:
			hyperplane.SetConstant(hyperplane.Constant() - coefficient*atom.Value())
		}
	}

	return hyperplane
}

// AdjustMirrors re-folds a changed fixed-mirror value into the term
// constants of the given hyperplanes.
func AdjustMirrors(hyperplanes []*Hyperplane, atom *model.GroundAtom, oldValue float32) {
	for _, hyperplane := range hyperplanes {
		for _, integrated := range hyperplane.Integrated() {
			if integrated.Atom.Key() == atom.Key() {
				hyperplane.SetConstant(hyperplane.Constant() + integrated.Coefficient*(atom.Value()-oldValue))
			}
		}
	}
}

func signsMatch(a, b float32) bool {
	return (a >= 0) == (b >= 0)
}
