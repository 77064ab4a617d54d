// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package term

import "github.com/AleutianAI/softlogic/services/inference/model"

// Hyperplane is the compact linear form extracted from one summand of
// a potential: `coeffs·variables = constant`.
//
// Invariant: no variable appears twice. Duplicate occurrences are
// coefficient-summed at construction time by the Builder; a sign
// mismatch for a repeated atom in a disjunctive summand makes the
// hyperplane vacuous and the Builder discards it.
type Hyperplane struct {
	coefficients []float32
	variables    []*model.GroundAtom
	constant     float32

	// integrated tracks fixed-mirror atoms folded into the constant.
	// The coefficient is stored negated so adjusting the constant for a
	// changed mirror value means adding `coefficient * delta`.
	integrated []IntegratedAtom
}

// IntegratedAtom is a fixed-mirror atom folded into the constant.
type IntegratedAtom struct {
	Atom        *model.GroundAtom
	Coefficient float32
}

// NewHyperplane creates an empty hyperplane with the given constant and
// room for capacity variables.
func NewHyperplane(capacity int, constant float32) *Hyperplane {
	return &Hyperplane{
		coefficients: make([]float32, 0, capacity),
		variables:    make([]*model.GroundAtom, 0, capacity),
		constant:     constant,
	}
}

// Size returns the number of distinct variables.
func (h *Hyperplane) Size() int {
	return len(h.variables)
}

// IndexOf returns the position of an atom in this hyperplane, or -1.
// Linear scan: hyperplanes hold a handful of variables.
func (h *Hyperplane) IndexOf(atom *model.GroundAtom) int {
	for i, v := range h.variables {
		if v == atom || v.Key() == atom.Key() {
			return i
		}
	}
	return -1
}

// Add appends a new (variable, coefficient) pair.
func (h *Hyperplane) Add(atom *model.GroundAtom, coefficient float32) {
	h.variables = append(h.variables, atom)
	h.coefficients = append(h.coefficients, coefficient)
}

// AddToCoefficient folds an additional coefficient into an existing
// variable position.
func (h *Hyperplane) AddToCoefficient(i int, coefficient float32) {
	h.coefficients[i] += coefficient
}

// Coefficient returns the coefficient at position i.
func (h *Hyperplane) Coefficient(i int) float32 {
	return h.coefficients[i]
}

// Variable returns the atom at position i.
func (h *Hyperplane) Variable(i int) *model.GroundAtom {
	return h.variables[i]
}

// Constant returns the hyperplane's constant.
func (h *Hyperplane) Constant() float32 {
	return h.constant
}

// SetConstant overwrites the hyperplane's constant.
func (h *Hyperplane) SetConstant(constant float32) {
	h.constant = constant
}

// AddIntegrated records a fixed-mirror atom folded into the constant.
func (h *Hyperplane) AddIntegrated(atom *model.GroundAtom, coefficient float32) {
	h.integrated = append(h.integrated, IntegratedAtom{Atom: atom, Coefficient: coefficient})
}

// Integrated returns the folded fixed-mirror atoms.
func (h *Hyperplane) Integrated() []IntegratedAtom {
	return h.integrated
}
