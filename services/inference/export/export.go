// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package export persists inferred atom values: a BadgerDB store that
// survives restarts, and a plain-text writer for the
// WriteInferredPredicates action.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package export

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/softlogic/services/inference/model"
)

// ErrNotFound is returned when a key has no recorded value.
var ErrNotFound = errors.New("export: atom value not found")

// keyPrefix namespaces atom values from anything else sharing the db.
const keyPrefix = "atom/"

// Config holds configuration for the inferred-value store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: persistent, synced.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns configuration for testing.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store persists inferred values keyed by structural atom key.
//
// Thread Safety: safe for concurrent use; BadgerDB transactions
// handle isolation.
type Store struct {
	db *badger.DB
}

// Open creates or opens the store.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("export: path is required for persistent store")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open export store: %w", err)
	}
	return &Store{db: db}, nil
}

// WriteAtoms records the current value of every given atom in one
// transaction batch.
func (s *Store) WriteAtoms(atoms []*model.GroundAtom) error {
	batch := s.db.NewWriteBatch()
	defer batch.Cancel()

	var value [4]byte
	for _, atom := range atoms {
		binary.LittleEndian.PutUint32(value[:], math.Float32bits(atom.Value()))
		key := keyPrefix + atom.Key()
		if err := batch.Set([]byte(key), append([]byte(nil), value[:]...)); err != nil {
			return fmt.Errorf("staging %s: %w", key, err)
		}
	}

	if err := batch.Flush(); err != nil {
		return fmt.Errorf("flushing atom values: %w", err)
	}
	return nil
}

// ReadValue fetches one recorded value by structural atom key, e.g.
// "Nice(bob)".
func (s *Store) ReadValue(atomKey string) (float32, error) {
	var out float32
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + atomKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, atomKey)
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) != 4 {
				return fmt.Errorf("export: bad value length %d for %s", len(val), atomKey)
			}
			out = math.Float32frombits(binary.LittleEndian.Uint32(val))
			return nil
		})
	})
	return out, err
}

// Keys lists every recorded atom key, sorted.
func (s *Store) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), keyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(keys)
	return keys, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WriteFile writes atoms as "Predicate(arg, ...) = value" lines,
// sorted by key, creating parent directories as needed. This is the
// WriteInferredPredicates output format.
func WriteFile(path string, atoms []*model.GroundAtom) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory %s: %w", dir, err)
		}
	}

	sorted := make([]*model.GroundAtom, len(atoms))
	copy(sorted, atoms)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Key() < sorted[j].Key()
	})

	var sb strings.Builder
	for _, atom := range sorted {
		fmt.Fprintf(&sb, "%s = %.6f\n", atom.Key(), atom.Value())
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("writing inferred values: %w", err)
	}
	return nil
}
