// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/AleutianAI/softlogic/services/inference/model"
	"github.com/AleutianAI/softlogic/services/inference/rule"
	"github.com/AleutianAI/softlogic/services/inference/term"
)

// Page files come in sibling pairs, named by page index so a resumed
// run can locate them: 00000000_term.page / 00000000_volatile.page.
const (
	termPagePattern     = "%08d_term.page"
	volatilePagePattern = "%08d_volatile.page"
)

// StreamingConfig extends Config with paging knobs.
type StreamingConfig struct {
	Config

	// PageDir is wiped at construction; the store owns it.
	PageDir string

	// PageSize is the number of terms per on-disk page. Must exceed 1.
	PageSize int

	// Shuffle permutes the page visit order every cache traversal.
	Shuffle bool

	// Seed fixes the shuffle order; zero seeds from entropy.
	Seed int64
}

// StreamingStore pages terms to disk in fixed-size batches. Each page
// is a pair of files: a fixed block written once during grounding, and
// a volatile block rewritten after every optimization pass.
//
// State machine: initial (first Iterate grounds and writes pages),
// then loaded (every later Iterate replays pages through a reusable
// term pool).
//
// Thread Safety: single traversal at a time; paging I/O runs on the
// iterating goroutine.
type StreamingStore struct {
	index   *term.VariableIndex
	builder *term.Builder
	source  rule.GroundSource
	table   *rule.Table
	rules   []*rule.Rule
	logger  *slog.Logger

	pageDir  string
	pageSize int
	shuffle  bool
	rng      *rand.Rand

	loaded     bool
	numPages   int
	pageCounts []int

	// total is the count of every term ever paged. Tombstoned terms
	// stay counted; the number never goes down within a round.
	total int

	// pool holds one page's worth of reusable term objects.
	pool []*term.ObjectiveTerm

	// seed holds terms handed in through Add before the first
	// grounding pass; they ride out with the first pages.
	seed []*term.ObjectiveTerm

	// needsGrounding forces a grounding-resume round after a rule was
	// added mid-run.
	needsGrounding bool

	iterating bool
	closed    bool
}

// NewStreamingStore creates a paged store. The page directory is
// cleared: any pages from a previous run are gone after this call.
func NewStreamingStore(cfg StreamingConfig) (*StreamingStore, error) {
	logger := cfg.logger()

	if cfg.PageSize <= 1 {
		return nil, fmt.Errorf("%w: got %d", ErrPageSize, cfg.PageSize)
	}

	accepted := filterRules(cfg.Rules, logger)
	if len(accepted) == 0 {
		return nil, ErrNoGroundableRules
	}

	if err := os.RemoveAll(cfg.PageDir); err != nil {
		return nil, fmt.Errorf("clearing page dir: %w", err)
	}
	if err := os.MkdirAll(cfg.PageDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating page dir: %w", err)
	}

	index, err := term.NewVariableIndex(defaultIndexCapacity)
	if err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}

	pool := make([]*term.ObjectiveTerm, cfg.PageSize)
	for i := range pool {
		pool[i] = &term.ObjectiveTerm{}
	}

	return &StreamingStore{
		index:    index,
		builder:  term.NewBuilder(index, cfg.Table, cfg.MergeConstants, logger),
		source:   cfg.Source,
		table:    cfg.Table,
		rules:    accepted,
		logger:   logger,
		pageDir:  cfg.PageDir,
		pageSize: cfg.PageSize,
		shuffle:  cfg.Shuffle,
		rng:      rand.New(rand.NewSource(seed)),
		pool:     pool,
	}, nil
}

func (s *StreamingStore) CreateOrGetVariable(atom *model.GroundAtom) int {
	return s.index.CreateOrGet(atom)
}

// Add stages a term built outside grounding. Before the first pass it
// rides out with the initial pages; afterwards it is paged
// immediately as its own appended page.
func (s *StreamingStore) Add(t *term.ObjectiveTerm) error {
	if s.closed {
		return ErrStoreClosed
	}
	if t.Size() == 0 {
		return term.ErrDegenerateTerm
	}

	if !s.loaded {
		s.seed = append(s.seed, t)
		return nil
	}

	return s.appendPage([]*term.ObjectiveTerm{t})
}

// AddRule admits a rule for future grounding passes, applying the
// same filtering as construction. The rule must already be in the
// rule table so paged terms can resolve it.
func (s *StreamingStore) AddRule(r *rule.Rule) error {
	if s.closed {
		return ErrStoreClosed
	}

	if len(filterRules([]*rule.Rule{r}, s.logger)) == 0 {
		return fmt.Errorf("%w: %s", ErrRuleRejected, r.String())
	}

	s.rules = append(s.rules, r)
	s.needsGrounding = true
	return nil
}

func (s *StreamingStore) Size() int {
	return s.total
}

func (s *StreamingStore) NumVariables() int {
	return s.index.Size()
}

func (s *StreamingStore) NumRandomVariables() int {
	return s.index.NumRandomVariables()
}

func (s *StreamingStore) VariableValues() []float32 {
	return s.index.Values()
}

func (s *StreamingStore) VariableAtoms() []*model.GroundAtom {
	return s.index.Atoms()
}

func (s *StreamingStore) NumPages() int {
	return s.numPages
}

// Index exposes the variable index to the online layer.
func (s *StreamingStore) Index() *term.VariableIndex {
	return s.index
}

// Iterate starts a traversal with volatile write-back.
func (s *StreamingStore) Iterate() (Iterator, error) {
	return s.iterate(false)
}

// IterateNoWrite starts a read-only traversal: volatile blocks are
// read but never written back, so evaluation passes cannot disturb
// paged state.
func (s *StreamingStore) IterateNoWrite() (Iterator, error) {
	return s.iterate(true)
}

func (s *StreamingStore) iterate(readonly bool) (Iterator, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.iterating {
		return nil, ErrIteratorActive
	}

	s.iterating = true

	if !s.loaded {
		return newGroundingIterator(s, s.rules, true), nil
	}
	return newCacheIterator(s, readonly, true), nil
}

// pageOrder returns the page visit order for one cache traversal.
// Volatile blocks are written back to the page they came from, so a
// permuted order stays consistent on disk.
func (s *StreamingStore) pageOrder() []int {
	order := make([]int, s.numPages)
	for i := range order {
		order[i] = i
	}
	if s.shuffle {
		s.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return order
}

func (s *StreamingStore) Reset() {
	s.index.Reset()
}

func (s *StreamingStore) SyncAtoms() float64 {
	return s.index.SyncAtoms()
}

// Close releases the pages. The store is unusable afterwards.
func (s *StreamingStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pool = nil
	return os.RemoveAll(s.pageDir)
}

func (s *StreamingStore) termPagePath(page int) string {
	return filepath.Join(s.pageDir, fmt.Sprintf(termPagePattern, page))
}

func (s *StreamingStore) volatilePagePath(page int) string {
	return filepath.Join(s.pageDir, fmt.Sprintf(volatilePagePattern, page))
}

// appendPage writes one new page pair and records its term count.
func (s *StreamingStore) appendPage(terms []*term.ObjectiveTerm) error {
	page := s.numPages

	fixed := binary.LittleEndian.AppendUint32(nil, uint32(len(terms)))
	for _, t := range terms {
		fixed = t.EncodeFixed(fixed)
	}
	if err := os.WriteFile(s.termPagePath(page), fixed, 0o644); err != nil {
		return fmt.Errorf("writing term page %d: %w", page, err)
	}

	if err := s.writeVolatilePage(page, terms); err != nil {
		return err
	}

	s.numPages++
	s.pageCounts = append(s.pageCounts, len(terms))
	s.total += len(terms)
	return nil
}

func (s *StreamingStore) writeVolatilePage(page int, terms []*term.ObjectiveTerm) error {
	buf := binary.LittleEndian.AppendUint32(nil, uint32(len(terms)))
	for _, t := range terms {
		buf = t.EncodeVolatile(buf)
	}
	if err := os.WriteFile(s.volatilePagePath(page), buf, 0o644); err != nil {
		return fmt.Errorf("writing volatile page %d: %w", page, err)
	}
	return nil
}

// readPage fills the pool from a page pair and returns the term count.
func (s *StreamingStore) readPage(page int, readonly bool) (int, error) {
	fixed, err := os.ReadFile(s.termPagePath(page))
	if err != nil {
		return 0, fmt.Errorf("reading term page %d: %w", page, err)
	}
	if len(fixed) < 4 {
		return 0, fmt.Errorf("term page %d: %w", page, term.ErrTruncatedTerm)
	}

	count := int(binary.LittleEndian.Uint32(fixed))
	for count > len(s.pool) {
		s.pool = append(s.pool, &term.ObjectiveTerm{})
	}

	off := 4
	for i := 0; i < count; i++ {
		off, err = s.pool[i].DecodeFixed(fixed, off, s.table)
		if err != nil {
			return 0, fmt.Errorf("term page %d item %d: %w", page, i, err)
		}
	}

	// Read-only traversals skip the volatile block; nothing they do
	// depends on it and nothing gets written back.
	if !readonly {
		volatile, err := os.ReadFile(s.volatilePagePath(page))
		if err != nil {
			return 0, fmt.Errorf("reading volatile page %d: %w", page, err)
		}
		if len(volatile) < 4 || int(binary.LittleEndian.Uint32(volatile)) != count {
			return 0, fmt.Errorf("volatile page %d out of step with term page", page)
		}

		off = 4
		for i := 0; i < count; i++ {
			off, err = s.pool[i].DecodeVolatile(volatile, off)
			if err != nil {
				return 0, fmt.Errorf("volatile page %d item %d: %w", page, i, err)
			}
		}
	}

	return count, nil
}

// live reports whether a term references no tombstoned slots. Dead
// terms are skipped during replay but still counted by Size.
func (s *StreamingStore) live(t *term.ObjectiveTerm) bool {
	for p := 0; p < t.Planes(); p++ {
		for _, slot := range t.VariableIndexes(p) {
			if s.index.IsDeleted(int(slot)) {
				return false
			}
		}
	}
	return true
}

// ===== Grounding iterator =====

// groundingIterator produces terms from the grounding source, paging
// them out as the buffer fills. Used for the initial pass and for the
// resume portion of an online round with new atoms.
type groundingIterator struct {
	store   *StreamingStore
	pending []*rule.Rule
	cursor  rule.GroundingCursor
	buffer  []*term.ObjectiveTerm

	// staged holds terms handed in through Add; they yield before any
	// grounding output.
	staged []*term.ObjectiveTerm

	// release marks the store's traversal finished at Close. The
	// chained online iterator closes its parts itself and releases
	// once.
	release bool

	err    error
	closed bool
}

func newGroundingIterator(s *StreamingStore, rules []*rule.Rule, release bool) *groundingIterator {
	it := &groundingIterator{
		store:   s,
		pending: rules,
		buffer:  make([]*term.ObjectiveTerm, 0, s.pageSize),
		release: release,
		staged:  s.seed,
	}
	s.seed = nil

	return it
}

func (it *groundingIterator) Next() (*term.ObjectiveTerm, bool) {
	if it.err != nil || it.closed {
		return nil, false
	}

	if len(it.staged) > 0 {
		t := it.staged[0]
		it.staged = it.staged[1:]
		if ok := it.emit(t); !ok {
			return nil, false
		}
		return t, true
	}

	for {
		if it.cursor == nil {
			if len(it.pending) == 0 {
				return nil, false
			}

			cursor, err := it.store.source.Ground(it.pending[0])
			if err != nil {
				it.err = fmt.Errorf("grounding %q: %w", it.pending[0].String(), err)
				return nil, false
			}
			it.pending = it.pending[1:]
			it.cursor = cursor
		}

		ground, ok := it.cursor.Next()
		if !ok {
			if err := it.cursor.Close(); err != nil {
				it.err = err
				return nil, false
			}
			it.cursor = nil
			continue
		}

		t, err := it.store.builder.BuildTerm(ground)
		if err != nil {
			it.err = err
			return nil, false
		}
		if t == nil {
			continue
		}

		if ok := it.emit(t); !ok {
			return nil, false
		}
		return t, true
	}
}

// emit buffers a produced term, paging the buffer out when full.
func (it *groundingIterator) emit(t *term.ObjectiveTerm) bool {
	it.buffer = append(it.buffer, t)
	if len(it.buffer) >= it.store.pageSize {
		if err := it.flush(); err != nil {
			it.err = err
			return false
		}
	}
	return true
}

func (it *groundingIterator) flush() error {
	if len(it.buffer) == 0 {
		return nil
	}

	if err := it.store.appendPage(it.buffer); err != nil {
		return err
	}
	it.buffer = it.buffer[:0]
	return nil
}

// Close flushes the partial last page and flips the store to loaded.
func (it *groundingIterator) Close() error {
	if it.closed {
		return it.err
	}
	it.closed = true

	if it.cursor != nil {
		_ = it.cursor.Close()
		it.cursor = nil
	}

	if err := it.flush(); err != nil && it.err == nil {
		it.err = err
	}

	it.store.loaded = true
	if it.release {
		it.store.iterating = false
	}

	it.store.logger.Debug("grounding pass complete",
		slog.Int("pages", it.store.numPages),
		slog.Int("terms", it.store.total))
	return it.err
}

// ===== Cache iterator =====

// cacheIterator replays paged terms through the pool, writing each
// page's volatile block back before moving on unless readonly.
type cacheIterator struct {
	store    *StreamingStore
	order    []int
	readonly bool
	release  bool

	pageIdx int // position in order
	count   int // terms in the current page
	pos     int // position within the current page
	primed  bool

	err    error
	closed bool
}

func newCacheIterator(s *StreamingStore, readonly bool, release bool) *cacheIterator {
	return &cacheIterator{
		store:    s,
		order:    s.pageOrder(),
		readonly: readonly,
		release:  release,
	}
}

func (it *cacheIterator) Next() (*term.ObjectiveTerm, bool) {
	if it.err != nil || it.closed {
		return nil, false
	}

	for {
		if !it.primed || it.pos >= it.count {
			if !it.advance() {
				return nil, false
			}
			continue
		}

		t := it.store.pool[it.pos]
		it.pos++
		if !it.store.live(t) {
			continue
		}
		return t, true
	}
}

// advance flushes the finished page and primes the next one. Once the
// final page has flushed, primed drops so Close does not flush again
// with the page cursor past the end of the visit order.
func (it *cacheIterator) advance() bool {
	if it.primed {
		if err := it.flushCurrent(); err != nil {
			it.err = err
			return false
		}
		it.pageIdx++
		it.primed = false
	}

	if it.pageIdx >= len(it.order) {
		return false
	}

	count, err := it.store.readPage(it.order[it.pageIdx], it.readonly)
	if err != nil {
		it.err = err
		return false
	}

	it.count = count
	it.pos = 0
	it.primed = true
	return true
}

func (it *cacheIterator) flushCurrent() error {
	if it.readonly || !it.primed {
		return nil
	}
	return it.store.writeVolatilePage(it.order[it.pageIdx], it.store.pool[:it.count])
}

func (it *cacheIterator) Close() error {
	if it.closed {
		return it.err
	}
	it.closed = true

	if err := it.flushCurrent(); err != nil && it.err == nil {
		it.err = err
	}
	if it.release {
		it.store.iterating = false
	}
	return it.err
}
