// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rule

import (
	"fmt"
	"strings"
)

// Literal is one disjunct of a logical rule: a possibly-negated
// predicate applied to a mix of variables and constants.
type Literal struct {
	Negated   bool
	Predicate string

	// Terms are the argument slots. A term starting with an uppercase
	// letter is a variable; anything else is a constant.
	Terms []string
}

// IsVariable reports whether a literal argument term is a variable.
// Quoted terms are always constants.
func IsVariable(term string) bool {
	if term == "" {
		return false
	}
	c := term[0]
	return c >= 'A' && c <= 'Z'
}

// ConstantValue strips the quotes from a quoted constant term. Unquoted
// terms are returned unchanged.
func ConstantValue(term string) string {
	if len(term) >= 2 && term[0] == '\'' && term[len(term)-1] == '\'' {
		return term[1 : len(term)-1]
	}
	return term
}

// String renders the literal in rule syntax.
func (l Literal) String() string {
	var sb strings.Builder
	if l.Negated {
		sb.WriteByte('!')
	}
	sb.WriteString(l.Predicate)
	sb.WriteByte('(')
	sb.WriteString(strings.Join(l.Terms, ", "))
	sb.WriteByte(')')
	return sb.String()
}

// Rule is a weighted first-order disjunction of literals.
//
// The weight scales every term the rule's groundings produce. Squared
// rules produce squared-hinge potentials. An unweighted rule is a hard
// constraint; streaming stores reject those at construction.
type Rule struct {
	// Weight is the rule's penalty weight. Only meaningful when
	// Weighted is true.
	Weight float32

	// Weighted distinguishes soft rules from hard constraints.
	Weighted bool

	// Squared marks rules whose potential is squared.
	Squared bool

	// Literals are the disjuncts.
	Literals []Literal

	// HasSummation marks rules requiring a full aggregation over a
	// variable's extension. Such rules cannot ground one instance at a
	// time and are rejected by streaming stores.
	HasSummation bool

	// Text is the canonical source text, used for logging and for
	// grounding fingerprints.
	Text string
}

// SupportsIndividualGrounding reports whether the rule can be grounded
// one instance at a time.
func (r *Rule) SupportsIndividualGrounding() bool {
	return !r.HasSummation
}

// Variables returns the distinct variable names across all literals,
// in first-appearance order.
func (r *Rule) Variables() []string {
	var names []string
	seen := make(map[string]bool)
	for _, literal := range r.Literals {
		for _, term := range literal.Terms {
			if IsVariable(term) && !seen[term] {
				seen[term] = true
				names = append(names, term)
			}
		}
	}
	return names
}

// String renders the rule in source syntax.
func (r *Rule) String() string {
	if r.Text != "" {
		return r.Text
	}

	parts := make([]string, len(r.Literals))
	for i, literal := range r.Literals {
		parts[i] = literal.String()
	}

	body := strings.Join(parts, " | ")
	if !r.Weighted {
		return body + " ."
	}
	if r.Squared {
		return fmt.Sprintf("%g: %s ^2", r.Weight, body)
	}
	return fmt.Sprintf("%g: %s", r.Weight, body)
}

// Table is an explicit rule arena. Terms serialized to disk reference
// rules by table index, so a deserialized term never depends on any
// ambient global state to reconstruct itself.
type Table struct {
	rules []*Rule
}

// NewTable creates an empty rule table.
func NewTable() *Table {
	return &Table{}
}

// Add appends a rule and returns its index.
func (t *Table) Add(rule *Rule) int {
	t.rules = append(t.rules, rule)
	return len(t.rules) - 1
}

// Get returns the rule at the given index, or an error if the index is
// out of range (a corrupt page, typically).
func (t *Table) Get(index int) (*Rule, error) {
	if index < 0 || index >= len(t.rules) {
		return nil, fmt.Errorf("%w: index %d, table size %d", ErrUnknownRule, index, len(t.rules))
	}
	return t.rules[index], nil
}

// Index returns the table index of a rule, or -1 if absent.
func (t *Table) Index(rule *Rule) int {
	for i, r := range t.rules {
		if r == rule {
			return i
		}
	}
	return -1
}

// Len returns the number of rules in the table.
func (t *Table) Len() int {
	return len(t.rules)
}

// Rules returns the backing slice. Callers must not mutate it.
func (t *Table) Rules() []*Rule {
	return t.rules
}
