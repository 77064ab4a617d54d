// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PredicateDecl declares one predicate of the model.
type PredicateDecl struct {
	Name  string `yaml:"name"`
	Arity int    `yaml:"arity"`

	// FixedMirror marks atoms whose values are pinned externally; the
	// hyperplane builder folds them into term constants.
	FixedMirror bool `yaml:"fixed_mirror,omitempty"`
}

// AtomDecl declares one ground atom in textual form, e.g.
// "Friends(alice, bob)". Value defaults to 1.0 for observations and is
// ignored for targets.
type AtomDecl struct {
	Atom  string   `yaml:"atom"`
	Value *float32 `yaml:"value,omitempty"`
}

// Model is a model file: the predicates, the fact base, the unknowns,
// and the weighted rules over them.
//
// Example:
//
//	predicates:
//	  - {name: Similar, arity: 2}
//	  - {name: Friends, arity: 2}
//	observations:
//	  - {atom: "Similar(alice, bob)", value: 0.9}
//	targets:
//	  - {atom: "Friends(alice, bob)"}
//	rules:
//	  - "10: !Similar(A, B) | Friends(A, B) ^2"
type Model struct {
	Predicates   []PredicateDecl `yaml:"predicates"`
	Observations []AtomDecl      `yaml:"observations"`
	Targets      []AtomDecl      `yaml:"targets"`
	Rules        []string        `yaml:"rules"`
}

// LoadModel reads and validates a model file.
func LoadModel(path string) (Model, error) {
	var m Model

	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("reading model file: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parsing model file %s: %w", path, err)
	}

	if len(m.Predicates) == 0 {
		return m, fmt.Errorf("model file %s declares no predicates", path)
	}
	for _, p := range m.Predicates {
		if p.Name == "" || p.Arity <= 0 {
			return m, fmt.Errorf("model file %s: bad predicate declaration %q/%d", path, p.Name, p.Arity)
		}
	}

	return m, nil
}

// ObservationValue resolves an observation's value, defaulting to 1.0.
func (a AtomDecl) ObservationValue() float32 {
	if a.Value == nil {
		return 1.0
	}
	return *a.Value
}
