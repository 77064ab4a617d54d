// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"github.com/AleutianAI/softlogic/services/inference/model"
	"github.com/AleutianAI/softlogic/services/inference/rule"
	"github.com/AleutianAI/softlogic/services/inference/term"
)

// OnlineStore extends the streaming store with live atom mutation.
// All mutation entry points run between optimization rounds only; the
// server's action drain is the single call site.
type OnlineStore struct {
	*StreamingStore
	atoms *model.Manager
}

// NewOnlineStore wraps a streaming store over the given atom manager.
// The manager must be the same one the grounding source reads.
func NewOnlineStore(cfg StreamingConfig, atoms *model.Manager) (*OnlineStore, error) {
	streaming, err := NewStreamingStore(cfg)
	if err != nil {
		return nil, err
	}

	return &OnlineStore{
		StreamingStore: streaming,
		atoms:          atoms,
	}, nil
}

// groundingInvalidator is the optional source capability the online
// store uses to put tombstoned bindings back in play. The naive
// grounder implements it; an external grounding collaborator that does
// not is simply never re-asked for replaced bindings.
type groundingInvalidator interface {
	Invalidate(atomKey string)
}

// AddAtom materializes a new atom: Observed for the read partition,
// RandomVariable for the write partition. An existing atom with the
// same predicate and arguments is deleted first, so the call has
// replace semantics; its terms die with the tombstoned slot and the
// affected bindings are re-grounded on the next traversal, rebuilt
// against the replacement atom. The variable index slot is allocated
// later by the next grounding pass, not here.
func (s *OnlineStore) AddAtom(predicate string, arguments []string, value float32, readPartition bool) error {
	if existing, err := s.atoms.GetAtom(predicate, arguments); err == nil {
		if s.index.Delete(existing) {
			_ = s.atoms.DeleteAtom(predicate, arguments)
			s.invalidate(existing.Key())
		}
	}

	if readPartition {
		_, err := s.atoms.AddObservedAtom(predicate, value, arguments...)
		return err
	}

	atom, err := s.atoms.AddRandomVariableAtom(predicate, arguments...)
	if err != nil {
		return err
	}
	atom.SetValue(value)
	return nil
}

// DeleteAtom tombstones the atom's variable slot, drops it from the
// atom manager, and invalidates the emitted groundings that reference
// it, so a later re-add of the same atom rebuilds its terms instead of
// the bindings staying suppressed by the grounding dedup.
//
// Known quirk, preserved on purpose: an atom that was added but never
// picked up by a grounding pass has no slot yet, and deleting it at
// that point does nothing at all. Queue an AddAtom and a DeleteAtom
// for the same atom with no optimization round between them and the
// atom survives.
func (s *OnlineStore) DeleteAtom(predicate string, arguments []string) error {
	atom, err := s.atoms.GetAtom(predicate, arguments)
	if err != nil {
		return nil
	}

	if !s.index.Delete(atom) {
		return nil
	}

	s.invalidate(atom.Key())
	return s.atoms.DeleteAtom(predicate, arguments)
}

// UpdateAtom overwrites an atom's value. An indexed atom is updated in
// the value array, which mirrors onto the atom. An atom without a slot
// (not yet grounded, or observed and folded into term constants) only
// has its stored value updated: queries and future groundings see the
// new value, but terms already built from the old one keep it. The
// bool reports whether the optimization state picked the change up.
func (s *OnlineStore) UpdateAtom(predicate string, arguments []string, value float32) (bool, error) {
	atom, err := s.atoms.GetAtom(predicate, arguments)
	if err != nil {
		return false, err
	}

	if slot, ok := s.index.Lookup(atom); ok {
		s.index.SetValue(slot, value)
		return true, nil
	}

	atom.SetValue(value)
	return false, nil
}

func (s *OnlineStore) invalidate(atomKey string) {
	if inv, ok := s.source.(groundingInvalidator); ok {
		inv.Invalidate(atomKey)
	}
}

// Iterate picks the round kind. With new atoms pending since the last
// grounding, the traversal replays every cached page first and then
// resumes grounding for the fresh bindings, appending new pages. The
// grounding source's own dedup keeps the resume portion from
// re-producing a term the cache portion already yielded.
func (s *OnlineStore) Iterate() (Iterator, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.iterating {
		return nil, ErrIteratorActive
	}

	s.iterating = true

	if !s.loaded {
		// The initial pass consumes everything known so far.
		return &clearingIterator{
			Iterator: newGroundingIterator(s.StreamingStore, s.rules, true),
			atoms:    s.atoms,
		}, nil
	}

	if !s.atoms.HasNewAtoms() && !s.needsGrounding {
		return newCacheIterator(s.StreamingStore, false, true), nil
	}

	return &chainedIterator{
		store:  s,
		cache:  newCacheIterator(s.StreamingStore, false, false),
		ground: newGroundingIterator(s.StreamingStore, s.rules, false),
	}, nil
}

// clearingIterator resets the manager's new-atom flag once the
// traversal finishes.
type clearingIterator struct {
	Iterator
	atoms *model.Manager
}

func (it *clearingIterator) Close() error {
	err := it.Iterator.Close()
	it.atoms.ClearNewAtoms()
	return err
}

// chainedIterator yields the cache round followed by the
// grounding-resume round as one traversal.
type chainedIterator struct {
	store    *OnlineStore
	cache    *cacheIterator
	ground   *groundingIterator
	inGround bool
	closed   bool
}

func (it *chainedIterator) Next() (*term.ObjectiveTerm, bool) {
	if it.closed {
		return nil, false
	}

	if !it.inGround {
		if t, ok := it.cache.Next(); ok {
			return t, true
		}
		if err := it.cache.Close(); err != nil {
			return nil, false
		}
		it.inGround = true
	}

	return it.ground.Next()
}

func (it *chainedIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true

	cacheErr := it.cache.Close()
	groundErr := it.ground.Close()

	it.store.atoms.ClearNewAtoms()
	it.store.needsGrounding = false
	it.store.iterating = false

	if cacheErr != nil {
		return cacheErr
	}
	return groundErr
}

var _ rule.GroundSource = (*rule.Grounder)(nil)
