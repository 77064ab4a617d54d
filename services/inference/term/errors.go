// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package term

import "errors"

// Sentinel errors for variable and term construction.
var (
	// ErrNegativeCapacity is returned for a negative capacity request.
	// This is a programmer error and callers should not retry.
	ErrNegativeCapacity = errors.New("variable capacity must be non-negative")

	// ErrDegenerateTerm is returned when a term references no free
	// variables. Such terms contribute a constant to the objective and
	// must never reach a store.
	ErrDegenerateTerm = errors.New("term references no free variables")

	// ErrTruncatedTerm is returned when a serialized term is cut short.
	ErrTruncatedTerm = errors.New("truncated term data")
)
