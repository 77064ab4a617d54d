// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package online

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ArityResolver answers predicate arities; the client side backs it
// with the handshake's predicate listing.
type ArityResolver interface {
	Arity(name string) (int, bool)
}

// ParseCommand turns one line of the textual action surface into a
// tagged Action with a fresh correlation id. Blank lines and lines
// starting with '#' yield nil with nil error.
//
// The surface, one command per line, tokens split on spaces or tabs:
//
//	AddAtom <READ|WRITE> <predicate> <arg>... [value]
//	DeleteAtom <READ|WRITE> <predicate> <arg>...
//	ObserveAtom <predicate> <arg>... <value>
//	UpdateAtom <predicate> <arg>... <value>
//	QueryAtom <predicate> <arg>...
//	AddRule <rule text>
//	Sync
//	Stop
//	Exit
//	WriteInferredPredicates ['output/path']
func ParseCommand(line string, predicates ArityResolver) (*Action, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return nil, nil
	}

	tokens := strings.Fields(trimmed)
	command, rest := tokens[0], tokens[1:]

	action := &Action{ID: uuid.New()}

	switch command {
	case "AddAtom":
		action.Kind = KindAddAtom
		return parseAddAtom(action, rest, predicates)

	case "DeleteAtom":
		action.Kind = KindDeleteAtom
		return parseDeleteAtom(action, rest, predicates)

	case "ObserveAtom":
		action.Kind = KindObserveAtom
		return parseAtomWithValue(action, rest, predicates)

	case "UpdateAtom", "UpdateObservation":
		action.Kind = KindUpdateAtom
		return parseAtomWithValue(action, rest, predicates)

	case "QueryAtom":
		action.Kind = KindQueryAtom
		return parseAtomExact(action, rest, predicates)

	case "AddRule":
		if len(rest) == 0 {
			return nil, fmt.Errorf("%w: AddRule needs rule text", ErrParse)
		}
		action.Kind = KindAddRule
		action.RuleText = strings.TrimSpace(strings.TrimPrefix(trimmed, command))
		return action, nil

	case "Sync":
		action.Kind = KindSync
		return noArguments(action, rest)

	case "Stop":
		action.Kind = KindStop
		return noArguments(action, rest)

	case "Exit":
		action.Kind = KindExit
		return noArguments(action, rest)

	case "WriteInferredPredicates":
		action.Kind = KindWriteInferred
		if len(rest) > 1 {
			return nil, fmt.Errorf("%w: WriteInferredPredicates takes at most one path", ErrParse)
		}
		if len(rest) == 1 {
			action.OutputPath = strings.Trim(rest[0], "'\"")
		}
		return action, nil
	}

	return nil, fmt.Errorf("%w: unknown command %q", ErrParse, command)
}

func parsePartition(token string) (bool, error) {
	switch strings.ToUpper(token) {
	case "READ":
		return true, nil
	case "WRITE":
		return false, nil
	}
	return false, fmt.Errorf("%w: partition must be READ or WRITE, got %q", ErrParse, token)
}

// parseAddAtom handles the optional trailing value; missing means 1.0.
func parseAddAtom(action *Action, tokens []string, predicates ArityResolver) (*Action, error) {
	if len(tokens) < 2 {
		return nil, fmt.Errorf("%w: AddAtom needs a partition and predicate", ErrParse)
	}

	read, err := parsePartition(tokens[0])
	if err != nil {
		return nil, err
	}
	action.ReadPartition = read

	arity, err := resolveArity(tokens[1], predicates)
	if err != nil {
		return nil, err
	}
	action.Predicate = tokens[1]

	rest := tokens[2:]
	action.Value = 1.0
	switch len(rest) {
	case arity:
	case arity + 1:
		value, err := parseValue(rest[arity])
		if err != nil {
			return nil, err
		}
		action.Value = value
		rest = rest[:arity]
	default:
		return nil, arityError(action.Predicate, arity, len(rest))
	}

	action.Arguments = rest
	return action, nil
}

func parseDeleteAtom(action *Action, tokens []string, predicates ArityResolver) (*Action, error) {
	if len(tokens) < 2 {
		return nil, fmt.Errorf("%w: DeleteAtom needs a partition and predicate", ErrParse)
	}

	read, err := parsePartition(tokens[0])
	if err != nil {
		return nil, err
	}
	action.ReadPartition = read

	return parseAtomExact(action, tokens[1:], predicates)
}

// parseAtomWithValue handles <predicate> <arg>... <value>.
func parseAtomWithValue(action *Action, tokens []string, predicates ArityResolver) (*Action, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: %s needs a predicate", ErrParse, action.Kind)
	}

	arity, err := resolveArity(tokens[0], predicates)
	if err != nil {
		return nil, err
	}
	action.Predicate = tokens[0]

	rest := tokens[1:]
	if len(rest) != arity+1 {
		return nil, arityError(action.Predicate, arity, len(rest)-1)
	}

	value, err := parseValue(rest[arity])
	if err != nil {
		return nil, err
	}

	action.Arguments = rest[:arity]
	action.Value = value
	return action, nil
}

// parseAtomExact handles <predicate> <arg>... with no value.
func parseAtomExact(action *Action, tokens []string, predicates ArityResolver) (*Action, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: %s needs a predicate", ErrParse, action.Kind)
	}

	arity, err := resolveArity(tokens[0], predicates)
	if err != nil {
		return nil, err
	}
	action.Predicate = tokens[0]

	if len(tokens)-1 != arity {
		return nil, arityError(action.Predicate, arity, len(tokens)-1)
	}

	action.Arguments = tokens[1:]
	return action, nil
}

func noArguments(action *Action, tokens []string) (*Action, error) {
	if len(tokens) != 0 {
		return nil, fmt.Errorf("%w: %s takes no arguments", ErrParse, action.Kind)
	}
	return action, nil
}

func resolveArity(name string, predicates ArityResolver) (int, error) {
	arity, ok := predicates.Arity(name)
	if !ok {
		return 0, fmt.Errorf("%w: unknown predicate %q", ErrParse, name)
	}
	return arity, nil
}

func parseValue(token string) (float32, error) {
	value, err := strconv.ParseFloat(token, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad value %q", ErrParse, token)
	}
	return float32(value), nil
}

func arityError(predicate string, want, got int) error {
	return fmt.Errorf("%w: %s expects %d arguments, got %d", ErrParse, predicate, want, got)
}
