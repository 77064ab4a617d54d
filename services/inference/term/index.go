// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package term converts ground-rule potentials into the compact linear
// terms the reasoner optimizes, and owns the variable index that maps
// ground atoms to dense value-array slots.
package term

import (
	"fmt"
	"math"

	"github.com/AleutianAI/softlogic/services/inference/model"
)

// VariableIndex is the bijection between ground atoms and dense integer
// slots. Parallel arrays carry the current value, owning atom, and
// deletion flag per slot.
//
// Slots are tombstoned on delete, never compacted: variable indexes
// already serialized into on-disk terms must stay valid for the whole
// run. Growth doubles capacity.
//
// Thread Safety:
//
//	Not safe for concurrent mutation. The engine mutates the index only
//	from the optimization thread, and from online actions at the
//	action-drain point between rounds.
type VariableIndex struct {
	slots   map[string]int
	values  []float32
	atoms   []*model.GroundAtom
	deleted []bool

	used               int
	numRandomVariables int
}

// NewVariableIndex creates an index with the given initial capacity.
func NewVariableIndex(capacity int) (*VariableIndex, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrNegativeCapacity, capacity)
	}
	if capacity == 0 {
		capacity = 1
	}

	return &VariableIndex{
		slots:   make(map[string]int, capacity),
		values:  make([]float32, capacity),
		atoms:   make([]*model.GroundAtom, capacity),
		deleted: make([]bool, capacity),
	}, nil
}

// EnsureCapacity grows the backing arrays to hold at least capacity
// slots. Requesting a negative capacity is a programmer error.
func (ix *VariableIndex) EnsureCapacity(capacity int) error {
	if capacity < 0 {
		return fmt.Errorf("%w: got %d", ErrNegativeCapacity, capacity)
	}
	if capacity <= len(ix.values) {
		return nil
	}

	// Make a lot of room: small repeated reallocations are wasteful.
	if capacity < len(ix.values)*2 {
		capacity = len(ix.values) * 2
	}

	values := make([]float32, capacity)
	copy(values, ix.values)
	ix.values = values

	atoms := make([]*model.GroundAtom, capacity)
	copy(atoms, ix.atoms)
	ix.atoms = atoms

	deleted := make([]bool, capacity)
	copy(deleted, ix.deleted)
	ix.deleted = deleted

	return nil
}

// CreateOrGet returns the slot for an atom, allocating one if the atom
// has not been seen. The slot is stable for the atom's lifetime.
func (ix *VariableIndex) CreateOrGet(atom *model.GroundAtom) int {
	if slot, ok := ix.slots[atom.Key()]; ok {
		return slot
	}

	if ix.used >= len(ix.values) {
		// Grow; EnsureCapacity cannot fail for a positive request.
		_ = ix.EnsureCapacity(len(ix.values)*2 + 1)
	}

	slot := ix.used
	ix.slots[atom.Key()] = slot
	ix.values[slot] = atom.Value()
	ix.atoms[slot] = atom
	ix.deleted[slot] = false
	ix.used++

	if !atom.IsObserved() {
		ix.numRandomVariables++
	}

	return slot
}

// Lookup resolves an atom's slot without allocating.
func (ix *VariableIndex) Lookup(atom *model.GroundAtom) (int, bool) {
	slot, ok := ix.slots[atom.Key()]
	return slot, ok
}

// LookupKey resolves a slot by structural atom key.
func (ix *VariableIndex) LookupKey(key string) (int, bool) {
	slot, ok := ix.slots[key]
	return slot, ok
}

// Delete tombstones the atom's slot and removes it from the active
// mapping. Returns false if the atom was never indexed.
func (ix *VariableIndex) Delete(atom *model.GroundAtom) bool {
	slot, ok := ix.slots[atom.Key()]
	if !ok {
		return false
	}

	ix.deleted[slot] = true
	if !atom.IsObserved() {
		ix.numRandomVariables--
	}
	delete(ix.slots, atom.Key())
	return true
}

// IsDeleted reports whether a slot is tombstoned.
func (ix *VariableIndex) IsDeleted(slot int) bool {
	return slot >= 0 && slot < len(ix.deleted) && ix.deleted[slot]
}

// Values returns the live value array. The slice is shared with the
// reasoner; refetch it after any call that may grow the index.
func (ix *VariableIndex) Values() []float32 {
	return ix.values
}

// Atoms returns the parallel owning-atom array.
func (ix *VariableIndex) Atoms() []*model.GroundAtom {
	return ix.atoms
}

// SetValue overwrites the value at a slot, mirroring it onto the atom.
func (ix *VariableIndex) SetValue(slot int, value float32) {
	ix.values[slot] = value
	if ix.atoms[slot] != nil {
		ix.atoms[slot].SetValue(value)
	}
}

// Size returns the number of allocated slots, tombstoned included.
func (ix *VariableIndex) Size() int {
	return ix.used
}

// NumRandomVariables returns the number of live random-variable slots.
func (ix *VariableIndex) NumRandomVariables() int {
	return ix.numRandomVariables
}

// SyncAtoms writes the current values back onto their owning atoms and
// returns the total absolute movement across random variables.
func (ix *VariableIndex) SyncAtoms() float64 {
	var movement float64
	for i := 0; i < ix.used; i++ {
		atom := ix.atoms[i]
		if atom == nil || atom.IsObserved() || ix.deleted[i] {
			continue
		}
		movement += math.Abs(float64(ix.values[i] - atom.Value()))
		atom.SetValue(ix.values[i])
	}
	return movement
}

// Reset re-initializes every live slot's value from its owning atom.
func (ix *VariableIndex) Reset() {
	for i := 0; i < ix.used; i++ {
		if ix.atoms[i] != nil {
			ix.values[i] = ix.atoms[i].Value()
		}
	}
}
