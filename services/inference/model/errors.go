// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package model

import "errors"

// Sentinel errors for atom and predicate operations.
var (
	// ErrUnknownPredicate is returned when a predicate name is not registered.
	ErrUnknownPredicate = errors.New("unknown predicate")

	// ErrDuplicatePredicate is returned when registering a predicate name twice.
	ErrDuplicatePredicate = errors.New("predicate already registered")

	// ErrArityMismatch is returned when an argument tuple does not match
	// the predicate's declared arity.
	ErrArityMismatch = errors.New("argument count does not match predicate arity")

	// ErrUnknownAtom is returned when looking up an atom that was never added.
	ErrUnknownAtom = errors.New("unknown atom")
)
