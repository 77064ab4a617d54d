// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.name); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNew_FileLogging(t *testing.T) {
	t.Run("creates dated log file in LogDir", func(t *testing.T) {
		tmpDir := t.TempDir()

		logger := New(Config{
			Level:   LevelInfo,
			LogDir:  tmpDir,
			Service: "test",
			Quiet:   true,
		})
		logger.Info("hello", "key", "value")
		if err := logger.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		want := filepath.Join(tmpDir, "test_"+time.Now().Format("2006-01-02")+".log")
		data, err := os.ReadFile(want)
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", want, err)
		}

		if !strings.Contains(string(data), `"msg":"hello"`) {
			t.Errorf("log file missing message, got: %s", data)
		}
		if !strings.Contains(string(data), `"service":"test"`) {
			t.Errorf("log file missing service attribute, got: %s", data)
		}
	})

	t.Run("level filter drops debug messages", func(t *testing.T) {
		tmpDir := t.TempDir()

		logger := New(Config{
			Level:   LevelWarn,
			LogDir:  tmpDir,
			Service: "test",
			Quiet:   true,
		})
		logger.Debug("dropped")
		logger.Warn("kept")
		logger.Close()

		path := filepath.Join(tmpDir, "test_"+time.Now().Format("2006-01-02")+".log")
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}

		if strings.Contains(string(data), "dropped") {
			t.Error("debug message was not filtered")
		}
		if !strings.Contains(string(data), "kept") {
			t.Error("warn message is missing")
		}
	})
}

func TestLogger_CloseIdempotent(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Quiet: true})

	if err := logger.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
