// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// runInfer performs one batch inference pass: ground, optimize, write
// the inferred values, exit.
func runInfer(_ *cobra.Command, _ []string) {
	cfg, appLogger := loadConfig("infer")
	defer appLogger.Close()
	logger := appLogger.Slog()

	if workDir != "" {
		cfg.Engine.WorkDir = workDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := buildEngine(cfg, logger)
	defer engine.Close()

	result, err := engine.RunOnce(ctx)
	if err != nil {
		log.Fatalf("Inference failed: %v", err)
	}

	count, err := engine.WriteInferred(outputPath)
	if err != nil {
		log.Fatalf("Error writing inferred values: %v", err)
	}

	logger.Info("batch inference complete",
		"objective", result.Objective,
		"iterations", result.Iterations,
		"terms", result.Terms,
		"atoms", count,
		"output", outputPath)
	fmt.Printf("Wrote %d inferred atoms to %s (objective %.6f after %d iterations)\n",
		count, outputPath, result.Objective, result.Iterations)
}
