// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rule defines weighted first-order rules, the potential
// functions their groundings produce, and the grounding source that
// enumerates variable bindings against an atom manager.
//
// A rule is a weighted disjunction of literals (or a weighted linear
// arithmetic comparison). Grounding substitutes constants for the
// rule's variables and yields a GroundRule whose Potential describes
// the penalty shape the reasoner minimizes: a linear sum, a hinge
// (max(0, sum)), optionally squared, or a max over several sums.
package rule

import "github.com/AleutianAI/softlogic/services/inference/model"

// Sum is one linear summand of a potential: coefficients over ground
// atoms plus a raw constant, representing `coeffs·atoms + constant`.
type Sum struct {
	Coefficients []float32
	Atoms        []*model.GroundAtom
	Constant     float32

	// Disjunctive marks a summand produced from a logical disjunction.
	// All coefficients are ±1, and a sign mismatch for a repeated atom
	// (once positive, once negated) makes the grounding tautological.
	Disjunctive bool
}

// Potential is a ground rule's penalty shape.
//
// One summand models linear and hinge potentials. Multiple summands
// model a max-of-linear potential; the reasoner penalizes the largest
// summand.
type Potential struct {
	Sums []Sum

	// Hinge wraps the potential in max(0, ·) before any squaring.
	Hinge bool

	// Squared squares the (possibly hinged) potential.
	Squared bool
}

// GroundRule is one instance of a rule with all variables bound.
type GroundRule struct {
	// Rule is the owning first-order rule; the weight lives there.
	Rule *Rule

	// Potential is the grounded penalty shape.
	Potential Potential

	// Binding identifies the constant substitution that produced this
	// grounding, used to keep groundings at-most-once across passes.
	Binding string
}

// Fingerprint uniquely identifies this grounding within a model.
func (g *GroundRule) Fingerprint() string {
	return g.Rule.Text + "|" + g.Binding
}
