// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/softlogic/services/inference/model"
	"github.com/AleutianAI/softlogic/services/inference/rule"
	"github.com/AleutianAI/softlogic/services/inference/term"
)

// socialModel registers a small friends-and-niceness fact base with
// enough atoms to span several pages at small page sizes.
func socialModel(t *testing.T) *model.Manager {
	t.Helper()

	m := model.NewManager(nil)
	require.NoError(t, m.RegisterPredicate(&model.Predicate{Name: "Friends", Arity: 2}))
	require.NoError(t, m.RegisterPredicate(&model.Predicate{Name: "Nice", Arity: 1}))

	people := []string{"alice", "bob", "carol", "dave"}
	for _, p := range people {
		_, err := m.AddRandomVariableAtom("Nice", p)
		require.NoError(t, err)
	}
	for _, a := range people {
		for _, b := range people {
			if a == b {
				continue
			}
			_, err := m.AddObservedAtom("Friends", 1.0, a, b)
			require.NoError(t, err)
		}
	}
	return m
}

func socialRules(t *testing.T) ([]*rule.Rule, *rule.Table) {
	t.Helper()

	table := rule.NewTable()
	var rules []*rule.Rule
	for _, text := range []string{
		"1.0: !Friends(A, B) | !Nice(A) | Nice(B)",
		"0.5: !Friends(A, B) | Nice(A) ^2",
	} {
		r, err := rule.Parse(text)
		require.NoError(t, err)
		table.Add(r)
		rules = append(rules, r)
	}
	return rules, table
}

func newStreaming(t *testing.T, m *model.Manager, rules []*rule.Rule, table *rule.Table, pageSize int, shuffle bool) *StreamingStore {
	t.Helper()

	s, err := NewStreamingStore(StreamingConfig{
		Config: Config{
			Rules:          rules,
			Table:          table,
			Source:         rule.NewGrounder(m, nil),
			MergeConstants: true,
		},
		PageDir:  filepath.Join(t.TempDir(), "pages"),
		PageSize: pageSize,
		Shuffle:  shuffle,
		Seed:     7,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func drainStore(t *testing.T, s interface{ Iterate() (Iterator, error) }) []*term.ObjectiveTerm {
	t.Helper()

	it, err := s.Iterate()
	require.NoError(t, err)

	var out []*term.ObjectiveTerm
	for {
		tm, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, tm)
	}
	require.NoError(t, it.Close())
	return out
}

func TestStreamingStoreConstruction(t *testing.T) {
	t.Run("page size must exceed one", func(t *testing.T) {
		rules, table := socialRules(t)
		_, err := NewStreamingStore(StreamingConfig{
			Config:   Config{Rules: rules, Table: table},
			PageDir:  t.TempDir(),
			PageSize: 1,
		})
		assert.ErrorIs(t, err, ErrPageSize)
	})

	t.Run("fatal when no rules survive filtering", func(t *testing.T) {
		unweighted := &rule.Rule{Weighted: false, Text: "hard"}
		negative := &rule.Rule{Weighted: true, Weight: -1.0, Text: "neg"}
		summation := &rule.Rule{Weighted: true, Weight: 1.0, HasSummation: true, Text: "sum"}

		_, err := NewStreamingStore(StreamingConfig{
			Config:   Config{Rules: []*rule.Rule{unweighted, negative, summation}, Table: rule.NewTable()},
			PageDir:  t.TempDir(),
			PageSize: 8,
		})
		assert.ErrorIs(t, err, ErrNoGroundableRules)
	})

	t.Run("page dir is wiped", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "pages")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		stale := filepath.Join(dir, "00000042_term.page")
		require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o644))

		rules, table := socialRules(t)
		s, err := NewStreamingStore(StreamingConfig{
			Config: Config{
				Rules:  rules,
				Table:  table,
				Source: rule.NewGrounder(socialModel(t), nil),
			},
			PageDir:  dir,
			PageSize: 8,
		})
		require.NoError(t, err)
		defer s.Close()

		_, statErr := os.Stat(stale)
		assert.True(t, os.IsNotExist(statErr))
	})
}

func TestStreamingMatchesMemory(t *testing.T) {
	// The paged store must produce exactly the terms the in-memory
	// store does for the same rules and facts.
	rules, table := socialRules(t)

	mem, err := NewMemoryStore(Config{
		Rules:          rules,
		Table:          table,
		Source:         rule.NewGrounder(socialModel(t), nil),
		MergeConstants: true,
	})
	require.NoError(t, err)
	defer mem.Close()

	streaming := newStreaming(t, socialModel(t), rules, table, 4, false)

	memTerms := drainStore(t, mem)
	streamTerms := drainStore(t, streaming)

	require.Equal(t, len(memTerms), len(streamTerms))
	assert.Equal(t, mem.Size(), streaming.Size())
	assert.Equal(t, mem.NumVariables(), streaming.NumVariables())
}

func TestStreamingCacheRound(t *testing.T) {
	rules, table := socialRules(t)
	s := newStreaming(t, socialModel(t), rules, table, 4, false)

	first := drainStore(t, s)
	require.NotEmpty(t, first)

	// Pages on disk, deterministically named.
	require.Greater(t, s.NumPages(), 1)
	for p := 0; p < s.NumPages(); p++ {
		_, err := os.Stat(s.termPagePath(p))
		assert.NoError(t, err)
		_, err = os.Stat(s.volatilePagePath(p))
		assert.NoError(t, err)
	}

	// Replay from disk reconstitutes the same terms, same order.
	var firstShapes []string
	for _, tm := range first {
		firstShapes = append(firstShapes, tm.String())
	}

	second := drainStore(t, s)
	require.Equal(t, len(first), len(second))
	for i, tm := range second {
		assert.Equal(t, firstShapes[i], tm.String(), "term %d", i)
	}
	assert.Equal(t, len(first), s.Size())
}

func TestVolatileWriteBack(t *testing.T) {
	rules, table := socialRules(t)
	s := newStreaming(t, socialModel(t), rules, table, 4, false)

	drainStore(t, s)

	// Mutate volatile state during a write traversal.
	it, err := s.Iterate()
	require.NoError(t, err)
	n := 0
	for {
		tm, ok := it.Next()
		if !ok {
			break
		}
		tm.SetLastValue(float32(n) + 0.5)
		n++
	}
	require.NoError(t, it.Close())

	// The next traversal reads the mutated values back.
	got := drainStore(t, s)
	require.Len(t, got, n)
	for i, tm := range got {
		assert.Equal(t, float32(i)+0.5, tm.LastValue(), "term %d", i)
	}
}

func TestNoWriteIterator(t *testing.T) {
	rules, table := socialRules(t)
	s := newStreaming(t, socialModel(t), rules, table, 4, false)

	drainStore(t, s)

	// Write pass: stamp a known volatile value on every term.
	it, err := s.Iterate()
	require.NoError(t, err)
	for {
		tm, ok := it.Next()
		if !ok {
			break
		}
		tm.SetLastValue(0.25)
	}
	require.NoError(t, it.Close())

	// Read-only pass: scribble on volatile state.
	it, err = s.IterateNoWrite()
	require.NoError(t, err)
	for {
		tm, ok := it.Next()
		if !ok {
			break
		}
		tm.SetLastValue(99.0)
	}
	require.NoError(t, it.Close())

	// The scribbles never reached disk.
	for _, tm := range drainStore(t, s) {
		assert.Equal(t, float32(0.25), tm.LastValue())
	}
}

func TestCacheIteratorCloseFlush(t *testing.T) {
	rules, table := socialRules(t)
	s := newStreaming(t, socialModel(t), rules, table, 4, false)

	first := drainStore(t, s)
	require.NotEmpty(t, first)
	require.Greater(t, s.NumPages(), 1)

	// Exhausted traversal: the final page flushed during Next, so
	// Close has nothing left to write. Closing twice is also fine.
	it, err := s.Iterate()
	require.NoError(t, err)
	for {
		if _, ok := it.Next(); !ok {
			break
		}
	}
	require.NoError(t, it.Close())
	require.NoError(t, it.Close())

	// Abandoned mid-page: Close writes the in-flight page back.
	it, err = s.Iterate()
	require.NoError(t, err)
	tm, ok := it.Next()
	require.True(t, ok)
	tm.SetLastValue(42.0)
	require.NoError(t, it.Close())

	found := false
	for _, tm := range drainStore(t, s) {
		if tm.LastValue() == 42.0 {
			found = true
		}
	}
	assert.True(t, found, "mid-traversal close should persist the current page")
}

func TestAddRejectsDegenerateTerm(t *testing.T) {
	rules, table := socialRules(t)

	mem, err := NewMemoryStore(Config{
		Rules:  rules,
		Table:  table,
		Source: rule.NewGrounder(socialModel(t), nil),
	})
	require.NoError(t, err)
	defer mem.Close()
	assert.ErrorIs(t, mem.Add(&term.ObjectiveTerm{}), term.ErrDegenerateTerm)

	s := newStreaming(t, socialModel(t), rules, table, 4, false)
	assert.ErrorIs(t, s.Add(&term.ObjectiveTerm{}), term.ErrDegenerateTerm)
}

func TestSingleActiveIterator(t *testing.T) {
	rules, table := socialRules(t)
	s := newStreaming(t, socialModel(t), rules, table, 4, false)

	it, err := s.Iterate()
	require.NoError(t, err)

	_, err = s.Iterate()
	assert.ErrorIs(t, err, ErrIteratorActive)

	require.NoError(t, it.Close())

	it2, err := s.Iterate()
	require.NoError(t, err)
	require.NoError(t, it2.Close())
}

func TestShuffledReplayIsConsistent(t *testing.T) {
	// Shuffling permutes page visit order, never page contents: the
	// multiset of terms stays identical and volatile write-back lands
	// on the page it came from.
	rules, table := socialRules(t)
	s := newStreaming(t, socialModel(t), rules, table, 3, true)

	first := drainStore(t, s)
	shapes := map[string]int{}
	for _, tm := range first {
		shapes[tm.String()]++
	}

	for pass := 0; pass < 3; pass++ {
		got := map[string]int{}
		for _, tm := range drainStore(t, s) {
			got[tm.String()]++
		}
		assert.Equal(t, shapes, got, "pass %d", pass)
	}
}

func TestStreamingClosedStore(t *testing.T) {
	rules, table := socialRules(t)
	s := newStreaming(t, socialModel(t), rules, table, 4, false)
	dir := s.pageDir

	drainStore(t, s)
	require.NoError(t, s.Close())

	_, err := s.Iterate()
	assert.ErrorIs(t, err, ErrStoreClosed)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}
