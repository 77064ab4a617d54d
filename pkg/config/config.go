// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the softlogic configuration: the engine/server
// settings (viper, with SOFTLOGIC_ env overrides) and the model file
// (predicates, facts, and rules) a run operates on.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds the online server's listen addresses.
type ServerConfig struct {
	// Listen is the TCP address for the online protocol.
	Listen string `mapstructure:"listen" yaml:"listen"`

	// HTTPListen is the address for the health/metrics HTTP surface.
	// Empty disables it.
	HTTPListen string `mapstructure:"http_listen" yaml:"http_listen"`
}

// EngineConfig holds the term-store and export settings.
type EngineConfig struct {
	// WorkDir roots the run's on-disk state: page files under
	// WorkDir/pages, the export store under WorkDir/export.
	WorkDir string `mapstructure:"work_dir" yaml:"work_dir"`

	// PageSize is the number of terms per on-disk page.
	PageSize int `mapstructure:"page_size" yaml:"page_size"`

	// Shuffle permutes page visit order between optimization passes.
	Shuffle bool `mapstructure:"shuffle" yaml:"shuffle"`

	// Seed fixes the shuffle order; zero seeds from entropy.
	Seed int64 `mapstructure:"seed" yaml:"seed"`

	// MergeConstants folds observed atoms into hyperplane constants.
	MergeConstants bool `mapstructure:"merge_constants" yaml:"merge_constants"`
}

// ReasonerConfig holds the optimizer settings in textual form; the CLI
// resolves the extension and schedule names.
type ReasonerConfig struct {
	MaxIterations int     `mapstructure:"max_iterations" yaml:"max_iterations"`
	BaseRate      float32 `mapstructure:"base_rate" yaml:"base_rate"`

	// Extension is NONE, ADAGRAD, or ADAM.
	Extension string `mapstructure:"extension" yaml:"extension"`

	// Schedule is CONSTANT or STEPDECAY.
	Schedule string `mapstructure:"schedule" yaml:"schedule"`

	// Coordinate steps each variable immediately after its gradient is
	// computed; false accumulates a full gradient per iteration.
	Coordinate bool `mapstructure:"coordinate" yaml:"coordinate"`

	RunFullIterations bool    `mapstructure:"run_full_iterations" yaml:"run_full_iterations"`
	Tolerance         float32 `mapstructure:"tolerance" yaml:"tolerance"`

	MovementBreak     bool    `mapstructure:"movement_break" yaml:"movement_break"`
	MovementThreshold float32 `mapstructure:"movement_threshold" yaml:"movement_threshold"`
}

// LoggingConfig holds the log destination settings.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `mapstructure:"level" yaml:"level"`

	// Dir enables file logging when set.
	Dir string `mapstructure:"dir" yaml:"dir"`

	// JSON switches stderr output to JSON.
	JSON bool `mapstructure:"json" yaml:"json"`
}

// TelemetryConfig selects the trace/metric exporters.
type TelemetryConfig struct {
	// TraceExporter is otlp, stdout, or none.
	TraceExporter string `mapstructure:"trace_exporter" yaml:"trace_exporter"`

	// MetricExporter is prometheus, stdout, or none.
	MetricExporter string `mapstructure:"metric_exporter" yaml:"metric_exporter"`

	// OTLPEndpoint is the OTLP receiver for traces.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
}

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Reasoner  ReasonerConfig  `mapstructure:"reasoner" yaml:"reasoner"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// Default returns the configuration a bare run starts from.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:     "127.0.0.1:7734",
			HTTPListen: "",
		},
		Engine: EngineConfig{
			WorkDir:        ".softlogic",
			PageSize:       1000,
			Shuffle:        true,
			MergeConstants: true,
		},
		Reasoner: ReasonerConfig{
			MaxIterations: 200,
			BaseRate:      1.0,
			Extension:     "NONE",
			Schedule:      "STEPDECAY",
			Coordinate:    true,
			Tolerance:     1e-5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "none",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}

// Load reads the configuration file at path, if any, layered over the
// defaults with SOFTLOGIC_ environment overrides on top.
//
// Description:
//
//	An empty path skips the file and returns defaults plus
//	environment. Environment keys replace dots with underscores:
//	SOFTLOGIC_SERVER_LISTEN overrides server.listen.
//
// Inputs:
//
//	path - Config file path, or "" for none. The file must be YAML.
//
// Outputs:
//
//	Config - The resolved configuration.
//	error - Non-nil when the file exists but cannot be read or parsed.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SOFTLOGIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshalling config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see it even when
// no config file mentions it.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server.listen", cfg.Server.Listen)
	v.SetDefault("server.http_listen", cfg.Server.HTTPListen)

	v.SetDefault("engine.work_dir", cfg.Engine.WorkDir)
	v.SetDefault("engine.page_size", cfg.Engine.PageSize)
	v.SetDefault("engine.shuffle", cfg.Engine.Shuffle)
	v.SetDefault("engine.seed", cfg.Engine.Seed)
	v.SetDefault("engine.merge_constants", cfg.Engine.MergeConstants)

	v.SetDefault("reasoner.max_iterations", cfg.Reasoner.MaxIterations)
	v.SetDefault("reasoner.base_rate", cfg.Reasoner.BaseRate)
	v.SetDefault("reasoner.extension", cfg.Reasoner.Extension)
	v.SetDefault("reasoner.schedule", cfg.Reasoner.Schedule)
	v.SetDefault("reasoner.coordinate", cfg.Reasoner.Coordinate)
	v.SetDefault("reasoner.run_full_iterations", cfg.Reasoner.RunFullIterations)
	v.SetDefault("reasoner.tolerance", cfg.Reasoner.Tolerance)
	v.SetDefault("reasoner.movement_break", cfg.Reasoner.MovementBreak)
	v.SetDefault("reasoner.movement_threshold", cfg.Reasoner.MovementThreshold)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.dir", cfg.Logging.Dir)
	v.SetDefault("logging.json", cfg.Logging.JSON)

	v.SetDefault("telemetry.trace_exporter", cfg.Telemetry.TraceExporter)
	v.SetDefault("telemetry.metric_exporter", cfg.Telemetry.MetricExporter)
	v.SetDefault("telemetry.otlp_endpoint", cfg.Telemetry.OTLPEndpoint)
}
