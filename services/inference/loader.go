// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package inference

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/softlogic/pkg/config"
	"github.com/AleutianAI/softlogic/services/inference/model"
	"github.com/AleutianAI/softlogic/services/inference/rule"
)

// BuildModel materializes a model file into an atom manager and rule
// set ready for NewEngine.
//
// Description:
//
//	Registers every declared predicate, adds observations as observed
//	atoms (default value 1.0) and targets as random-variable atoms,
//	and parses the rule texts. Fails on the first invalid declaration;
//	a partially-built manager is never returned.
//
// Inputs:
//
//	spec - The loaded model file.
//	logger - Logger for registration events; nil uses slog.Default().
//
// Outputs:
//
//	*model.Manager - Manager holding the predicates and atoms.
//	[]*rule.Rule - The parsed rules, in declaration order.
//	error - Non-nil on any bad predicate, atom, or rule declaration.
func BuildModel(spec config.Model, logger *slog.Logger) (*model.Manager, []*rule.Rule, error) {
	atoms := model.NewManager(logger)

	for _, decl := range spec.Predicates {
		p := &model.Predicate{Name: decl.Name, Arity: decl.Arity, FixedMirror: decl.FixedMirror}
		if err := atoms.RegisterPredicate(p); err != nil {
			return nil, nil, fmt.Errorf("predicate %s: %w", decl.Name, err)
		}
	}

	for _, decl := range spec.Observations {
		predicate, arguments, err := splitAtomText(decl.Atom)
		if err != nil {
			return nil, nil, err
		}
		if _, err := atoms.AddObservedAtom(predicate, decl.ObservationValue(), arguments...); err != nil {
			return nil, nil, fmt.Errorf("observation %q: %w", decl.Atom, err)
		}
	}

	for _, decl := range spec.Targets {
		predicate, arguments, err := splitAtomText(decl.Atom)
		if err != nil {
			return nil, nil, err
		}
		if _, err := atoms.AddRandomVariableAtom(predicate, arguments...); err != nil {
			return nil, nil, fmt.Errorf("target %q: %w", decl.Atom, err)
		}
	}

	rules := make([]*rule.Rule, 0, len(spec.Rules))
	for _, text := range spec.Rules {
		r, err := rule.Parse(text)
		if err != nil {
			return nil, nil, err
		}
		rules = append(rules, r)
	}

	return atoms, rules, nil
}

// splitAtomText splits "Pred(a, b)" into its predicate and constant
// arguments, stripping quotes from quoted constants.
func splitAtomText(text string) (string, []string, error) {
	trimmed := strings.TrimSpace(text)

	open := strings.IndexByte(trimmed, '(')
	if open <= 0 || !strings.HasSuffix(trimmed, ")") {
		return "", nil, fmt.Errorf("bad atom text %q, want Pred(arg, ...)", text)
	}

	predicate := strings.TrimSpace(trimmed[:open])
	inner := trimmed[open+1 : len(trimmed)-1]
	if strings.TrimSpace(inner) == "" {
		return "", nil, fmt.Errorf("bad atom text %q: no arguments", text)
	}

	parts := strings.Split(inner, ",")
	arguments := make([]string, len(parts))
	for i, part := range parts {
		arguments[i] = rule.ConstantValue(strings.TrimSpace(part))
	}

	return predicate, arguments, nil
}
