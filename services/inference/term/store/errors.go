// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import "errors"

var (
	// ErrIteratorActive is returned when Iterate is called while a
	// previous iterator from the same store has not been closed.
	ErrIteratorActive = errors.New("store: another iterator is still active")

	// ErrStoreClosed is returned for operations on a closed store.
	ErrStoreClosed = errors.New("store: store is closed")

	// ErrPageSize is returned for a page size that cannot hold a batch.
	ErrPageSize = errors.New("store: page size must be greater than 1")

	// ErrNoGroundableRules is returned when rule filtering leaves the
	// store with nothing to ground.
	ErrNoGroundableRules = errors.New("store: no rules survived filtering")

	// ErrRuleRejected is returned when a rule added mid-run fails the
	// same filtering applied at construction.
	ErrRuleRejected = errors.New("store: rule cannot be grounded term-by-term")
)
