// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package model

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// AtomManager materializes and resolves ground atoms.
//
// The term stores consume this interface; the engine provides Manager
// as the concrete implementation. HasNewAtoms is the signal the online
// term store uses to decide whether a grounding-resume round is needed.
type AtomManager interface {
	// GetAtom resolves an atom by structural identity.
	GetAtom(predicate string, arguments []string) (*GroundAtom, error)

	// AddObservedAtom materializes an observed atom with the given value,
	// replacing any existing atom with the same identity.
	AddObservedAtom(predicate string, value float32, arguments ...string) (*GroundAtom, error)

	// AddRandomVariableAtom materializes a random-variable atom,
	// replacing any existing atom with the same identity.
	AddRandomVariableAtom(predicate string, arguments ...string) (*GroundAtom, error)

	// DeleteAtom removes an atom from the manager. Deleting an unknown
	// atom is a no-op.
	DeleteAtom(predicate string, arguments []string) error

	// HasNewAtoms reports whether atoms were added since the last call
	// to ClearNewAtoms.
	HasNewAtoms() bool

	// ClearNewAtoms resets the new-atom flag. Called by the term store
	// once a grounding pass has consumed the additions.
	ClearNewAtoms()
}

// Manager is the in-memory AtomManager.
//
// Thread Safety:
//
//	Manager is safe for concurrent use. In practice the engine only
//	mutates it from the action-drain point between optimization rounds,
//	but the online server's connection handshake reads predicates
//	concurrently.
type Manager struct {
	mu         sync.RWMutex
	predicates map[string]*Predicate
	atoms      map[string]*GroundAtom
	newAtoms   int

	logger *slog.Logger
}

// NewManager creates an empty atom manager.
//
// Inputs:
//
//	logger - Logger for registration events. If nil, uses slog.Default().
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		predicates: make(map[string]*Predicate),
		atoms:      make(map[string]*GroundAtom),
		logger:     logger,
	}
}

// RegisterPredicate adds a predicate to the model.
func (m *Manager) RegisterPredicate(predicate *Predicate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.predicates[predicate.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePredicate, predicate.Name)
	}

	m.predicates[predicate.Name] = predicate
	m.logger.Debug("registered predicate", "predicate", predicate.String())
	return nil
}

// Predicate resolves a registered predicate by name.
func (m *Manager) Predicate(name string) (*Predicate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	predicate, ok := m.predicates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPredicate, name)
	}
	return predicate, nil
}

// Predicates returns all registered predicates sorted by name.
// The online server sends this as the connection handshake.
func (m *Manager) Predicates() []*Predicate {
	m.mu.RLock()
	defer m.mu.RUnlock()

	predicates := make([]*Predicate, 0, len(m.predicates))
	for _, p := range m.predicates {
		predicates = append(predicates, p)
	}
	sort.Slice(predicates, func(i, j int) bool {
		return predicates[i].Name < predicates[j].Name
	})
	return predicates
}

// GetAtom resolves an atom by structural identity.
func (m *Manager) GetAtom(predicate string, arguments []string) (*GroundAtom, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	atom, ok := m.atoms[atomKey(predicate, arguments)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAtom, atomKey(predicate, arguments))
	}
	return atom, nil
}

// Atoms returns all atoms of the given kind. The order is unspecified.
func (m *Manager) Atoms(kind AtomKind) []*GroundAtom {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var atoms []*GroundAtom
	for _, atom := range m.atoms {
		if atom.kind == kind {
			atoms = append(atoms, atom)
		}
	}
	return atoms
}

// AtomsOf returns all atoms of the named predicate. The order is
// unspecified. Grounding joins over this set.
func (m *Manager) AtomsOf(predicate string) []*GroundAtom {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var atoms []*GroundAtom
	for _, atom := range m.atoms {
		if atom.Predicate.Name == predicate {
			atoms = append(atoms, atom)
		}
	}
	return atoms
}

// AllAtoms returns every atom in the manager. The order is unspecified.
func (m *Manager) AllAtoms() []*GroundAtom {
	m.mu.RLock()
	defer m.mu.RUnlock()

	atoms := make([]*GroundAtom, 0, len(m.atoms))
	for _, atom := range m.atoms {
		atoms = append(atoms, atom)
	}
	return atoms
}

// AddObservedAtom materializes an observed atom, replacing any atom
// with the same identity.
func (m *Manager) AddObservedAtom(predicate string, value float32, arguments ...string) (*GroundAtom, error) {
	return m.addAtom(predicate, arguments, Observed, value)
}

// AddRandomVariableAtom materializes a random-variable atom with an
// initial value of 0, replacing any atom with the same identity.
func (m *Manager) AddRandomVariableAtom(predicate string, arguments ...string) (*GroundAtom, error) {
	return m.addAtom(predicate, arguments, RandomVariable, 0.0)
}

func (m *Manager) addAtom(predicate string, arguments []string, kind AtomKind, value float32) (*GroundAtom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.predicates[predicate]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPredicate, predicate)
	}
	if len(arguments) != p.Arity {
		return nil, fmt.Errorf("%w: %s expects %d arguments, got %d",
			ErrArityMismatch, predicate, p.Arity, len(arguments))
	}

	atom := NewGroundAtom(p, arguments, kind, value)
	m.atoms[atom.Key()] = atom
	m.newAtoms++
	return atom, nil
}

// DeleteAtom removes an atom from the manager. Deleting an atom that
// was never added is a no-op.
func (m *Manager) DeleteAtom(predicate string, arguments []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.atoms, atomKey(predicate, arguments))
	return nil
}

// HasNewAtoms reports whether atoms were added since ClearNewAtoms.
func (m *Manager) HasNewAtoms() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.newAtoms > 0
}

// ClearNewAtoms resets the new-atom counter.
func (m *Manager) ClearNewAtoms() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.newAtoms = 0
}

// Size returns the number of live atoms.
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.atoms)
}
