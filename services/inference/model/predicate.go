// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package model defines the ground-atom substrate for the inference
// engine: predicates, ground atoms, and the atom manager that owns them.
//
// A ground atom is a predicate applied to a tuple of constant arguments
// with a truth value in [0,1]. Atoms come in two kinds: observed atoms
// whose value is fixed externally, and random-variable atoms whose value
// is the unknown being solved for. Identity is structural: two atoms
// with the same predicate and argument tuple are the same atom.
package model

import (
	"fmt"
	"strings"
)

// Predicate is a named relation with a fixed arity.
//
// Predicates are registered with an AtomManager; there is no global
// predicate registry. Equality is by pointer for atoms owned by the
// same manager, and by name elsewhere.
type Predicate struct {
	// Name is the predicate symbol, e.g. "Friends".
	Name string

	// Arity is the number of arguments every atom of this predicate takes.
	Arity int

	// FixedMirror marks a predicate whose atoms are nominally random
	// variables but whose values are pinned externally. The hyperplane
	// builder folds such atoms into the constant while tracking their
	// negated coefficient so the constant can be adjusted if the
	// mirrored value changes.
	FixedMirror bool
}

// String returns "Name/Arity".
func (p *Predicate) String() string {
	return fmt.Sprintf("%s/%d", p.Name, p.Arity)
}

// atomKey builds the structural identity key for a predicate and
// argument tuple. Equal atoms map to the same key.
func atomKey(predicate string, arguments []string) string {
	var sb strings.Builder
	sb.WriteString(predicate)
	sb.WriteByte('(')
	for i, arg := range arguments {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(arg)
	}
	sb.WriteByte(')')
	return sb.String()
}
