// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package inference

import "errors"

// Sentinel errors for the inference service.
var (
	// ErrNilAction is returned when Apply is given a nil action.
	ErrNilAction = errors.New("action must not be nil")

	// ErrUnknownAction is returned for an action kind the engine
	// does not handle.
	ErrUnknownAction = errors.New("unknown action kind")

	// ErrEngineClosed is returned for operations on a closed engine.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrNoPredicates is returned when an engine is built with no
	// registered predicates.
	ErrNoPredicates = errors.New("at least one predicate must be registered")
)
