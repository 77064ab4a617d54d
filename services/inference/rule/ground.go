// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rule

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/softlogic/services/inference/model"
)

// GroundingCursor walks the groundings of one rule.
//
// Cursors are single-use and not safe for concurrent use.
type GroundingCursor interface {
	// Next returns the next ground rule, or false when exhausted.
	Next() (*GroundRule, bool)

	// Close releases the cursor. Next after Close returns false.
	Close() error
}

// GroundSource produces ground rules for first-order rules.
//
// The term stores consume this interface; a production deployment
// would back it with a relational query layer. Implementations must
// be at-most-once: a grounding emitted by an earlier cursor is never
// emitted again, which is what lets the online store chain "replay
// terms already on disk" with "ground and append any new terms".
type GroundSource interface {
	Ground(rule *Rule) (GroundingCursor, error)
}

// Grounder is a naive in-memory GroundSource: it joins each rule's
// literals over the atoms materialized in the atom manager. A binding
// is valid when every literal's substituted atom exists.
//
// Thread Safety:
//
//	Safe for concurrent use, though the engine only grounds from the
//	single thread traversing a term store.
type Grounder struct {
	atoms  *model.Manager
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]bool

	// byAtom maps an atom key to the fingerprints of every emitted
	// grounding that references it, so replacing or deleting the atom
	// can put those bindings back in play.
	byAtom map[string][]string
}

// NewGrounder creates a grounder over the given atom manager.
func NewGrounder(atoms *model.Manager, logger *slog.Logger) *Grounder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Grounder{
		atoms:  atoms,
		logger: logger,
		seen:   make(map[string]bool),
		byAtom: make(map[string][]string),
	}
}

// Ground enumerates the not-yet-emitted groundings of the rule.
//
// The binding enumeration is materialized up front; the spec for the
// grounding collaborator allows either a lazy or materialized sequence.
func (g *Grounder) Ground(rule *Rule) (GroundingCursor, error) {
	bindings := g.enumerate(rule)

	g.mu.Lock()
	defer g.mu.Unlock()

	var fresh []*GroundRule
	for _, binding := range bindings {
		ground := g.instantiate(rule, binding)
		if ground == nil {
			continue
		}
		fp := ground.Fingerprint()
		if g.seen[fp] {
			continue
		}
		g.seen[fp] = true
		for _, sum := range ground.Potential.Sums {
			for _, atom := range sum.Atoms {
				g.byAtom[atom.Key()] = append(g.byAtom[atom.Key()], fp)
			}
		}
		fresh = append(fresh, ground)
	}

	g.logger.Debug("grounded rule", "rule", rule.String(), "groundings", len(fresh))
	return &sliceCursor{groundRules: fresh}, nil
}

// Reset forgets all emitted groundings, so the next Ground call
// re-enumerates from scratch. Called when a term store is cleared.
func (g *Grounder) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seen = make(map[string]bool)
	g.byAtom = make(map[string][]string)
}

// Invalidate forgets every emitted grounding that references the atom
// key. The online term store calls this when it tombstones an atom's
// slot: the dead terms stop replaying, and the next Ground call emits
// the affected bindings again so replacements can be built.
func (g *Grounder) Invalidate(atomKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, fp := range g.byAtom[atomKey] {
		delete(g.seen, fp)
	}
	delete(g.byAtom, atomKey)
}

// enumerate joins the rule's literals left to right over existing atoms.
func (g *Grounder) enumerate(rule *Rule) []map[string]string {
	bindings := []map[string]string{{}}

	for _, literal := range rule.Literals {
		candidates := g.atoms.AtomsOf(literal.Predicate)

		var extended []map[string]string
		for _, binding := range bindings {
			for _, atom := range candidates {
				next, ok := unify(literal, atom, binding)
				if ok {
					extended = append(extended, next)
				}
			}
		}

		bindings = extended
		if len(bindings) == 0 {
			return nil
		}
	}

	return bindings
}

// unify matches a literal's argument pattern against a concrete atom
// under an existing partial binding. Returns the extended binding.
func unify(literal Literal, atom *model.GroundAtom, binding map[string]string) (map[string]string, bool) {
	if len(literal.Terms) != len(atom.Arguments) {
		return nil, false
	}

	extended := binding
	copied := false
	for i, term := range literal.Terms {
		arg := atom.Arguments[i]

		if !IsVariable(term) {
			if ConstantValue(term) != arg {
				return nil, false
			}
			continue
		}

		if bound, ok := extended[term]; ok {
			if bound != arg {
				return nil, false
			}
			continue
		}

		if !copied {
			next := make(map[string]string, len(extended)+1)
			for k, v := range extended {
				next[k] = v
			}
			extended = next
			copied = true
		}
		extended[term] = arg
	}

	return extended, true
}

// instantiate builds the ground rule for one binding. The potential of
// a disjunction l1 | ... | ln is its distance to satisfaction:
//
//	max(0, 1 - sum(positive values) - sum(1 - negated values))
//
// stored as a hinged Sum with coefficient -1 for positive literals,
// +1 for negated ones, and constant 1 - |negated|.
func (g *Grounder) instantiate(rule *Rule, binding map[string]string) *GroundRule {
	sum := Sum{
		Coefficients: make([]float32, 0, len(rule.Literals)),
		Atoms:        make([]*model.GroundAtom, 0, len(rule.Literals)),
		Constant:     1.0,
		Disjunctive:  true,
	}

	for _, literal := range rule.Literals {
		arguments := make([]string, len(literal.Terms))
		for i, term := range literal.Terms {
			if IsVariable(term) {
				arguments[i] = binding[term]
			} else {
				arguments[i] = ConstantValue(term)
			}
		}

		atom, err := g.atoms.GetAtom(literal.Predicate, arguments)
		if err != nil {
			// The binding only exists because every literal matched, so
			// a miss here means the atom was deleted mid-enumeration.
			return nil
		}

		if literal.Negated {
			sum.Coefficients = append(sum.Coefficients, 1.0)
			sum.Constant -= 1.0
		} else {
			sum.Coefficients = append(sum.Coefficients, -1.0)
		}
		sum.Atoms = append(sum.Atoms, atom)
	}

	return &GroundRule{
		Rule: rule,
		Potential: Potential{
			Sums:    []Sum{sum},
			Hinge:   true,
			Squared: rule.Squared,
		},
		Binding: bindingKey(rule, binding),
	}
}

// bindingKey renders a binding deterministically for fingerprints.
func bindingKey(rule *Rule, binding map[string]string) string {
	names := rule.Variables()
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+binding[name])
	}
	return strings.Join(parts, ",")
}

// sliceCursor walks a materialized grounding list.
type sliceCursor struct {
	groundRules []*GroundRule
	pos         int
	closed      bool
}

func (c *sliceCursor) Next() (*GroundRule, bool) {
	if c.closed || c.pos >= len(c.groundRules) {
		return nil, false
	}

	ground := c.groundRules[c.pos]
	c.pos++
	return ground, true
}

func (c *sliceCursor) Close() error {
	c.closed = true
	return nil
}
