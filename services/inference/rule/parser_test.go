// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rule

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	t.Run("weighted squared disjunction", func(t *testing.T) {
		r, err := Parse("10.0: !Friends(A, B) | Similar(A, B) ^2")
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}

		if !r.Weighted || r.Weight != 10.0 {
			t.Errorf("weight = (%v, %v), want (true, 10.0)", r.Weighted, r.Weight)
		}
		if !r.Squared {
			t.Error("Squared = false")
		}
		if len(r.Literals) != 2 {
			t.Fatalf("len(Literals) = %d, want 2", len(r.Literals))
		}
		if !r.Literals[0].Negated || r.Literals[0].Predicate != "Friends" {
			t.Errorf("first literal = %v", r.Literals[0])
		}
		if r.Literals[1].Negated || r.Literals[1].Predicate != "Similar" {
			t.Errorf("second literal = %v", r.Literals[1])
		}
	})

	t.Run("quoted constants", func(t *testing.T) {
		r, err := Parse("1.0: Nice('Alice') | !Nice(B)")
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}

		if r.Literals[0].Terms[0] != "'Alice'" {
			t.Errorf("constant = %q, want 'Alice'", r.Literals[0].Terms[0])
		}
		if IsVariable(r.Literals[0].Terms[0]) {
			t.Error("quoted constant parsed as a variable")
		}
		if ConstantValue(r.Literals[0].Terms[0]) != "Alice" {
			t.Errorf("ConstantValue = %q, want Alice", ConstantValue(r.Literals[0].Terms[0]))
		}
		if !IsVariable(r.Literals[1].Terms[0]) {
			t.Error("B should be a variable")
		}
	})

	t.Run("hard constraint", func(t *testing.T) {
		r, err := Parse("Friends(A, B) | !Friends(B, A) .")
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if r.Weighted {
			t.Error("hard constraint parsed as weighted")
		}
	})

	t.Run("malformed input fails with ErrParse", func(t *testing.T) {
		for _, text := range []string{
			"",
			"1.0:",
			"1.0: Friends(A,",
			"1.0: Friends A, B)",
			"1.0: Friends(A, B) garbage",
		} {
			if _, err := Parse(text); !errors.Is(err, ErrParse) {
				t.Errorf("Parse(%q) err = %v, want ErrParse", text, err)
			}
		}
	})

	t.Run("variables in first-appearance order", func(t *testing.T) {
		r, err := Parse("1.0: !Knows(A, B) | Knows(B, C)")
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}

		vars := r.Variables()
		if len(vars) != 3 || vars[0] != "A" || vars[1] != "B" || vars[2] != "C" {
			t.Errorf("Variables = %v, want [A B C]", vars)
		}
	})
}
