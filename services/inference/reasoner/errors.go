// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reasoner

import "errors"

var (
	// ErrNilStore is returned when Optimize is handed no term store.
	ErrNilStore = errors.New("reasoner: term store is nil")

	// ErrBadConfig is returned for configuration that cannot run.
	ErrBadConfig = errors.New("reasoner: invalid configuration")

	// ErrUnsupportedStore is returned when the store does not expose
	// per-variable mutable state.
	ErrUnsupportedStore = errors.New("reasoner: store exposes no per-variable state")

	// ErrUnknownExtension is returned for an unrecognized step-size
	// extension name.
	ErrUnknownExtension = errors.New("reasoner: unknown sgd extension")

	// ErrUnknownSchedule is returned for an unrecognized learning-rate
	// schedule name.
	ErrUnknownSchedule = errors.New("reasoner: unknown learning schedule")
)
