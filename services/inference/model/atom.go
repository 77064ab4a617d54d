// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package model

import (
	"fmt"
	"strings"
)

// AtomKind distinguishes observed atoms from random variables.
type AtomKind int

const (
	// Observed atoms have a value fixed externally. They are immutable
	// during optimization.
	Observed AtomKind = iota

	// RandomVariable atoms carry the unknown the reasoner solves for.
	RandomVariable
)

// String returns the kind name.
func (k AtomKind) String() string {
	switch k {
	case Observed:
		return "observed"
	case RandomVariable:
		return "random-variable"
	default:
		return "unknown"
	}
}

// GroundAtom is a predicate applied to a tuple of constant arguments.
//
// The current value is in [0,1]. Observed atoms keep the value they
// were created with until an UpdateObservation; random-variable atoms
// are mutated by the reasoner's final sync.
//
// GroundAtom is not safe for concurrent mutation; the engine only
// mutates atom values at the action-drain point between optimization
// rounds.
type GroundAtom struct {
	Predicate *Predicate
	Arguments []string

	kind  AtomKind
	value float32
}

// NewGroundAtom builds an atom. The argument count must match the
// predicate arity; callers go through an AtomManager which enforces
// that.
func NewGroundAtom(predicate *Predicate, arguments []string, kind AtomKind, value float32) *GroundAtom {
	return &GroundAtom{
		Predicate: predicate,
		Arguments: arguments,
		kind:      kind,
		value:     clampUnit(value),
	}
}

// Kind returns whether the atom is observed or a random variable.
func (a *GroundAtom) Kind() AtomKind {
	return a.kind
}

// IsObserved reports whether the atom's value is externally fixed.
func (a *GroundAtom) IsObserved() bool {
	return a.kind == Observed
}

// Value returns the atom's current truth value.
func (a *GroundAtom) Value() float32 {
	return a.value
}

// SetValue overwrites the atom's truth value, clamped into [0,1].
func (a *GroundAtom) SetValue(value float32) {
	a.value = clampUnit(value)
}

// Key returns the structural identity key, e.g. "Friends(Alice,Bob)".
// Equal atoms (same predicate and arguments) share a key.
func (a *GroundAtom) Key() string {
	return atomKey(a.Predicate.Name, a.Arguments)
}

// String renders the atom with its current value.
func (a *GroundAtom) String() string {
	return fmt.Sprintf("%s(%s)=%.4f", a.Predicate.Name, strings.Join(a.Arguments, ","), a.value)
}

func clampUnit(v float32) float32 {
	if v < 0.0 {
		return 0.0
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}
