// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rule

import "errors"

// Sentinel errors for rule parsing and grounding.
var (
	// ErrParse is returned when rule text cannot be parsed.
	ErrParse = errors.New("rule parse error")

	// ErrUnknownRule is returned when a rule-table index does not
	// resolve, which indicates a corrupt or stale term page.
	ErrUnknownRule = errors.New("rule index not in table")
)
