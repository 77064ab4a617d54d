// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store holds the term stores the reasoner iterates: an
// in-memory store, a disk-paged streaming store, and an online store
// that accepts live atom mutation between optimization rounds.
package store

import (
	"log/slog"

	"github.com/AleutianAI/softlogic/services/inference/model"
	"github.com/AleutianAI/softlogic/services/inference/rule"
	"github.com/AleutianAI/softlogic/services/inference/term"
)

// Iterator walks a store's terms. Every store supports one active
// traversal at a time; a second Iterate before Close fails fast.
type Iterator interface {
	// Next returns the next term, or false when exhausted.
	Next() (*term.ObjectiveTerm, bool)

	// Close releases the traversal and flushes any pending writes.
	Close() error
}

// TermStore is the contract between term production and the reasoner.
//
// Description:
//
//	The reasoner mutates VariableValues in place every iteration; the
//	slice is a direct view, not a copy. Callers must refetch it after
//	any operation that can grow the variable index.
//
// Thread Safety: not safe for concurrent use. Online mutation happens
// only between optimization rounds.
type TermStore interface {
	// CreateOrGetVariable resolves an atom to its dense slot.
	CreateOrGetVariable(atom *model.GroundAtom) int

	// Add appends a term built outside a grounding pass.
	Add(t *term.ObjectiveTerm) error

	// Size returns the number of terms the store has seen. Tombstoned
	// terms stay in the count; it never decreases within a round.
	Size() int

	// NumVariables returns the number of allocated variable slots.
	NumVariables() int

	// NumRandomVariables returns the count of live unobserved slots.
	NumRandomVariables() int

	// VariableValues returns the shared mutable value array.
	VariableValues() []float32

	// VariableAtoms returns the parallel owning-atom array.
	VariableAtoms() []*model.GroundAtom

	// Iterate starts a full traversal, grounding on the first pass.
	Iterate() (Iterator, error)

	// Reset re-seeds variable values from their owning atoms.
	Reset()

	// SyncAtoms pushes current values back onto atoms and returns the
	// total absolute movement.
	SyncAtoms() float64

	// Close releases disk and pool resources.
	Close() error
}

// filterRules keeps only rules a term-at-a-time store can ground:
// weighted, non-negative weight, and no summation over an extension.
// Rejections warn, they do not error; an empty result is the caller's
// problem.
func filterRules(rules []*rule.Rule, logger *slog.Logger) []*rule.Rule {
	accepted := make([]*rule.Rule, 0, len(rules))

	for _, r := range rules {
		switch {
		case !r.Weighted:
			logger.Warn("skipping unweighted rule, constraints are not groundable term-by-term",
				slog.String("rule", r.String()))
		case r.Weight < 0:
			logger.Warn("skipping rule with negative weight",
				slog.String("rule", r.String()))
		case !r.SupportsIndividualGrounding():
			logger.Warn("skipping rule requiring summation grounding",
				slog.String("rule", r.String()))
		default:
			accepted = append(accepted, r)
		}
	}

	return accepted
}
