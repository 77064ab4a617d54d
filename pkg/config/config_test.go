// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}

	if cfg.Engine.PageSize != 1000 {
		t.Errorf("default page size = %d, want 1000", cfg.Engine.PageSize)
	}
	if cfg.Reasoner.Extension != "NONE" {
		t.Errorf("default extension = %q, want NONE", cfg.Reasoner.Extension)
	}
	if !cfg.Engine.MergeConstants {
		t.Error("merge_constants should default on")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  listen: "127.0.0.1:9100"
engine:
  page_size: 64
  shuffle: false
reasoner:
  extension: ADAM
  max_iterations: 50
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Listen != "127.0.0.1:9100" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Engine.PageSize != 64 {
		t.Errorf("page_size = %d, want 64", cfg.Engine.PageSize)
	}
	if cfg.Engine.Shuffle {
		t.Error("shuffle should be off")
	}
	if cfg.Reasoner.Extension != "ADAM" {
		t.Errorf("extension = %q, want ADAM", cfg.Reasoner.Extension)
	}
	// Unset keys keep their defaults.
	if cfg.Reasoner.BaseRate != 1.0 {
		t.Errorf("base_rate = %v, want default 1.0", cfg.Reasoner.BaseRate)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SOFTLOGIC_ENGINE_PAGE_SIZE", "128")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.PageSize != 128 {
		t.Errorf("page_size = %d, want env override 128", cfg.Engine.PageSize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	body := `
predicates:
  - {name: Similar, arity: 2}
  - {name: Friends, arity: 2}
observations:
  - {atom: "Similar(alice, bob)", value: 0.9}
  - {atom: "Similar(bob, carol)"}
targets:
  - {atom: "Friends(alice, bob)"}
rules:
  - "10: !Similar(A, B) | Friends(A, B) ^2"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadModel(path)
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}

	if len(m.Predicates) != 2 || len(m.Observations) != 2 || len(m.Targets) != 1 || len(m.Rules) != 1 {
		t.Fatalf("unexpected shape: %+v", m)
	}
	if got := m.Observations[0].ObservationValue(); got != 0.9 {
		t.Errorf("explicit value = %v, want 0.9", got)
	}
	if got := m.Observations[1].ObservationValue(); got != 1.0 {
		t.Errorf("default value = %v, want 1.0", got)
	}
}

func TestLoadModelRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no predicates", "rules:\n  - \"1: P(A) | Q(A)\"\n"},
		{"zero arity", "predicates:\n  - {name: P, arity: 0}\n"},
		{"bad yaml", "predicates: ["},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "model.yaml")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadModel(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}
