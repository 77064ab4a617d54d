// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/softlogic/services/inference/model"
	"github.com/AleutianAI/softlogic/services/inference/rule"
	"github.com/AleutianAI/softlogic/services/inference/term"
)

// Config carries the collaborators every store variant needs.
type Config struct {
	// Rules is the candidate rule set; unfit rules are filtered with a
	// warning at construction.
	Rules []*rule.Rule

	// Table is the arena terms reference rules through. Every rule in
	// Rules must already be registered in it.
	Table *rule.Table

	// Source produces ground rules for a rule, at most once per
	// distinct grounding across the store's lifetime.
	Source rule.GroundSource

	// MergeConstants folds observed atoms into hyperplane constants.
	MergeConstants bool

	Logger *slog.Logger
}

func (c *Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// MemoryStore keeps every term in memory. It is the reference store:
// the streaming store must produce the same term sequence for the
// same rules and facts.
type MemoryStore struct {
	index   *term.VariableIndex
	builder *term.Builder
	source  rule.GroundSource
	rules   []*rule.Rule
	logger  *slog.Logger

	terms    []*term.ObjectiveTerm
	grounded bool

	iterating bool
	closed    bool
}

// NewMemoryStore builds an in-memory store over the given rules.
func NewMemoryStore(cfg Config) (*MemoryStore, error) {
	logger := cfg.logger()

	accepted := filterRules(cfg.Rules, logger)
	if len(accepted) == 0 {
		return nil, ErrNoGroundableRules
	}

	index, err := term.NewVariableIndex(defaultIndexCapacity)
	if err != nil {
		return nil, err
	}

	return &MemoryStore{
		index:   index,
		builder: term.NewBuilder(index, cfg.Table, cfg.MergeConstants, logger),
		source:  cfg.Source,
		rules:   accepted,
		logger:  logger,
	}, nil
}

const defaultIndexCapacity = 1024

func (s *MemoryStore) CreateOrGetVariable(atom *model.GroundAtom) int {
	return s.index.CreateOrGet(atom)
}

func (s *MemoryStore) Add(t *term.ObjectiveTerm) error {
	if s.closed {
		return ErrStoreClosed
	}
	if t.Size() == 0 {
		return term.ErrDegenerateTerm
	}

	s.terms = append(s.terms, t)
	return nil
}

func (s *MemoryStore) Size() int {
	return len(s.terms)
}

func (s *MemoryStore) NumVariables() int {
	return s.index.Size()
}

func (s *MemoryStore) NumRandomVariables() int {
	return s.index.NumRandomVariables()
}

func (s *MemoryStore) VariableValues() []float32 {
	return s.index.Values()
}

func (s *MemoryStore) VariableAtoms() []*model.GroundAtom {
	return s.index.Atoms()
}

// Index exposes the variable index for per-coordinate optimizers.
func (s *MemoryStore) Index() *term.VariableIndex {
	return s.index
}

// Iterate traverses every term. The first traversal grounds the rule
// set and materializes the terms.
func (s *MemoryStore) Iterate() (Iterator, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.iterating {
		return nil, ErrIteratorActive
	}

	if !s.grounded {
		if err := s.groundAll(); err != nil {
			return nil, err
		}
		s.grounded = true
	}

	s.iterating = true
	return &sliceIterator{store: s}, nil
}

// IterateNoWrite is identical to Iterate for the in-memory store:
// traversal never writes anything back.
func (s *MemoryStore) IterateNoWrite() (Iterator, error) {
	return s.Iterate()
}

func (s *MemoryStore) groundAll() error {
	for _, r := range s.rules {
		cursor, err := s.source.Ground(r)
		if err != nil {
			return fmt.Errorf("grounding %q: %w", r.String(), err)
		}

		for {
			ground, ok := cursor.Next()
			if !ok {
				break
			}

			t, err := s.builder.BuildTerm(ground)
			if err != nil {
				_ = cursor.Close()
				return err
			}
			if t == nil {
				continue
			}
			s.terms = append(s.terms, t)
		}

		if err := cursor.Close(); err != nil {
			return err
		}
	}

	s.logger.Debug("memory store grounded",
		slog.Int("terms", len(s.terms)),
		slog.Int("variables", s.index.Size()))
	return nil
}

func (s *MemoryStore) Reset() {
	s.index.Reset()
}

func (s *MemoryStore) SyncAtoms() float64 {
	return s.index.SyncAtoms()
}

func (s *MemoryStore) Close() error {
	s.closed = true
	s.terms = nil
	return nil
}

type sliceIterator struct {
	store *MemoryStore
	pos   int
}

func (it *sliceIterator) Next() (*term.ObjectiveTerm, bool) {
	if it.pos >= len(it.store.terms) {
		return nil, false
	}

	t := it.store.terms[it.pos]
	it.pos++
	return t, true
}

func (it *sliceIterator) Close() error {
	it.store.iterating = false
	return nil
}
