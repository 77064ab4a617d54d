// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package online

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPredicates = &ModelInformation{Predicates: []PredicateInfo{
	{Name: "Friends", Arity: 2},
	{Name: "Nice", Arity: 1},
}}

func TestParseCommand(t *testing.T) {
	t.Run("add atom with value", func(t *testing.T) {
		a, err := ParseCommand("AddAtom WRITE Friends Alice Bob 0.5", testPredicates)
		require.NoError(t, err)

		assert.Equal(t, KindAddAtom, a.Kind)
		assert.False(t, a.ReadPartition)
		assert.Equal(t, "Friends", a.Predicate)
		assert.Equal(t, []string{"Alice", "Bob"}, a.Arguments)
		assert.Equal(t, float32(0.5), a.Value)
		assert.NotEqual(t, uuid.Nil, a.ID)
	})

	t.Run("add atom value defaults to one", func(t *testing.T) {
		a, err := ParseCommand("AddAtom READ Nice Alice", testPredicates)
		require.NoError(t, err)

		assert.True(t, a.ReadPartition)
		assert.Equal(t, float32(1.0), a.Value)
	})

	t.Run("tabs delimit like spaces", func(t *testing.T) {
		a, err := ParseCommand("AddAtom\tWRITE\tNice\tBob\t0.25", testPredicates)
		require.NoError(t, err)
		assert.Equal(t, []string{"Bob"}, a.Arguments)
		assert.Equal(t, float32(0.25), a.Value)
	})

	t.Run("delete atom", func(t *testing.T) {
		a, err := ParseCommand("DeleteAtom WRITE Friends Alice Bob", testPredicates)
		require.NoError(t, err)
		assert.Equal(t, KindDeleteAtom, a.Kind)
		assert.Equal(t, []string{"Alice", "Bob"}, a.Arguments)
	})

	t.Run("observe and update need a value", func(t *testing.T) {
		a, err := ParseCommand("ObserveAtom Nice Alice 0.8", testPredicates)
		require.NoError(t, err)
		assert.Equal(t, KindObserveAtom, a.Kind)
		assert.Equal(t, float32(0.8), a.Value)

		_, err = ParseCommand("UpdateAtom Nice Alice", testPredicates)
		assert.ErrorIs(t, err, ErrParse)

		a, err = ParseCommand("UpdateObservation Nice Alice 0.0", testPredicates)
		require.NoError(t, err)
		assert.Equal(t, KindUpdateAtom, a.Kind)
	})

	t.Run("query atom", func(t *testing.T) {
		a, err := ParseCommand("QueryAtom Friends Alice Bob", testPredicates)
		require.NoError(t, err)
		assert.Equal(t, KindQueryAtom, a.Kind)
	})

	t.Run("add rule keeps the raw text", func(t *testing.T) {
		a, err := ParseCommand("AddRule 1.0: !Friends(A, B) | Nice(B)", testPredicates)
		require.NoError(t, err)
		assert.Equal(t, KindAddRule, a.Kind)
		assert.Equal(t, "1.0: !Friends(A, B) | Nice(B)", a.RuleText)
	})

	t.Run("bare commands", func(t *testing.T) {
		for text, kind := range map[string]ActionKind{
			"Sync":                    KindSync,
			"Stop":                    KindStop,
			"Exit":                    KindExit,
			"WriteInferredPredicates": KindWriteInferred,
		} {
			a, err := ParseCommand(text, testPredicates)
			require.NoError(t, err, text)
			assert.Equal(t, kind, a.Kind, text)
		}
	})

	t.Run("write inferred with quoted path", func(t *testing.T) {
		a, err := ParseCommand("WriteInferredPredicates 'out/inferred'", testPredicates)
		require.NoError(t, err)
		assert.Equal(t, "out/inferred", a.OutputPath)
	})

	t.Run("blank lines and comments skip", func(t *testing.T) {
		for _, line := range []string{"", "   ", "# a comment"} {
			a, err := ParseCommand(line, testPredicates)
			require.NoError(t, err)
			assert.Nil(t, a)
		}
	})

	t.Run("parse errors", func(t *testing.T) {
		for _, line := range []string{
			"AddAtom SIDEWAYS Friends Alice Bob", // bad partition
			"AddAtom WRITE Friends Alice",        // too few args
			"QueryAtom Friends Alice Bob Carol",  // too many args
			"AddAtom WRITE Enemies Alice Bob",    // unknown predicate
			"ObserveAtom Nice Alice much",        // unparseable value
			"Sync now",                           // trailing tokens
			"Teleport Alice",                     // unknown command
			"AddRule",                            // missing rule text
		} {
			_, err := ParseCommand(line, testPredicates)
			assert.ErrorIs(t, err, ErrParse, line)
		}
	})
}
