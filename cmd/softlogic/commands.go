// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/softlogic/pkg/config"
	"github.com/AleutianAI/softlogic/pkg/logging"
	"github.com/AleutianAI/softlogic/services/inference/reasoner"
)

// --- Global Command Variables ---
var (
	configPath string
	modelPath  string
	logLevel   string

	listenAddr string
	httpAddr   string

	outputPath string
	workDir    string

	serverAddr string
	scriptPath string

	rootCmd = &cobra.Command{
		Use:   "softlogic",
		Short: "A weighted-rule probabilistic inference engine",
		Long: `SoftLogic grounds weighted first-order rules against a fact base
and solves for the truth values that minimize total weighted rule
violation, while remote clients edit the live model.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the online inference server",
		Run:   runServe, // Defined in cmd_serve.go
	}

	inferCmd = &cobra.Command{
		Use:   "infer",
		Short: "Run one batch inference pass and write the inferred values",
		Run:   runInfer, // Defined in cmd_infer.go
	}

	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Drive a running server with line-oriented actions",
		Long: `Reads actions from a script file (or stdin), one per line:

    AddAtom <READ|WRITE> <predicate> <arg>... [value]
    DeleteAtom <READ|WRITE> <predicate> <arg>...
    ObserveAtom <predicate> <arg>... <value>
    UpdateAtom <predicate> <arg>... <value>
    QueryAtom <predicate> <arg>...
    AddRule <rule text>
    Sync
    Stop
    Exit
    WriteInferredPredicates ['output/path']`,
		Run: runClient, // Defined in cmd_client.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug/info/warn/error)")

	serveCmd.Flags().StringVar(&modelPath, "model", "model.yaml", "Path to the model file (predicates, facts, rules)")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Override the online protocol listen address")
	serveCmd.Flags().StringVar(&httpAddr, "http", "", "Override the health/metrics HTTP address")
	rootCmd.AddCommand(serveCmd)

	inferCmd.Flags().StringVar(&modelPath, "model", "model.yaml", "Path to the model file (predicates, facts, rules)")
	inferCmd.Flags().StringVar(&outputPath, "output", "inferred-predicates.txt", "Path for the inferred-value dump")
	inferCmd.Flags().StringVar(&workDir, "work-dir", "", "Override the engine working directory")
	rootCmd.AddCommand(inferCmd)

	clientCmd.Flags().StringVar(&serverAddr, "addr", "127.0.0.1:7734", "Address of the running server")
	clientCmd.Flags().StringVar(&scriptPath, "script", "", "Action script file; reads stdin when omitted")
	rootCmd.AddCommand(clientCmd)
}

// loadConfig resolves the layered configuration and builds the logger.
func loadConfig(service string) (config.Config, *logging.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(level),
		LogDir:  cfg.Logging.Dir,
		Service: service,
		JSON:    cfg.Logging.JSON,
	})
	return cfg, logger
}

// reasonerConfig resolves the textual reasoner settings.
func reasonerConfig(cfg config.ReasonerConfig, logger *slog.Logger) (reasoner.Config, error) {
	resolved := reasoner.DefaultConfig()

	if cfg.MaxIterations > 0 {
		resolved.MaxIterations = cfg.MaxIterations
	}
	if cfg.BaseRate > 0 {
		resolved.BaseRate = cfg.BaseRate
	}
	if cfg.Tolerance > 0 {
		resolved.Tolerance = cfg.Tolerance
	}
	resolved.Coordinate = cfg.Coordinate
	resolved.RunFullIterations = cfg.RunFullIterations
	resolved.MovementBreak = cfg.MovementBreak
	if cfg.MovementThreshold > 0 {
		resolved.MovementThreshold = cfg.MovementThreshold
	}

	extension, err := reasoner.ParseExtension(cfg.Extension)
	if err != nil {
		return resolved, fmt.Errorf("resolving reasoner extension: %w", err)
	}
	resolved.Extension = extension

	schedule, err := reasoner.ParseSchedule(cfg.Schedule)
	if err != nil {
		return resolved, fmt.Errorf("resolving learning schedule: %w", err)
	}
	resolved.Schedule = schedule

	logger.Debug("reasoner configured",
		"extension", extension.String(),
		"schedule", schedule.String(),
		"max_iterations", resolved.MaxIterations)
	return resolved, nil
}
