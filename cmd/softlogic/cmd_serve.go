// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/softlogic/pkg/config"
	"github.com/AleutianAI/softlogic/services/inference"
	"github.com/AleutianAI/softlogic/services/inference/online"
	"github.com/AleutianAI/softlogic/services/inference/telemetry"
)

// runServe starts the online inference server: the protocol listener,
// the engine loop draining actions between optimization rounds, and
// the optional HTTP health/metrics surface.
func runServe(_ *cobra.Command, _ []string) {
	cfg, appLogger := loadConfig("server")
	defer appLogger.Close()
	logger := appLogger.Slog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.TraceExporter = cfg.Telemetry.TraceExporter
	telemetryCfg.MetricExporter = cfg.Telemetry.MetricExporter
	telemetryCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	shutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		log.Fatalf("Error initializing telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	engine := buildEngine(cfg, logger)
	defer engine.Close()

	srv := online.NewServer(engine.ModelInformation, logger)

	listen := cfg.Server.Listen
	if listenAddr != "" {
		listen = listenAddr
	}
	if err := srv.Listen(listen); err != nil {
		log.Fatalf("Error binding server: %v", err)
	}
	logger.Info("online server listening", "addr", srv.Addr().String())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return srv.Serve(ctx) })
	g.Go(func() error {
		err := engine.Serve(ctx, srv)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	httpListen := cfg.Server.HTTPListen
	if httpAddr != "" {
		httpListen = httpAddr
	}
	if httpListen != "" {
		g.Go(func() error { return serveHTTP(ctx, httpListen, engine, logger) })
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	logger.Info("server stopped")
}

// buildEngine loads the model file and assembles the engine.
func buildEngine(cfg config.Config, logger *slog.Logger) *inference.Engine {
	spec, err := config.LoadModel(modelPath)
	if err != nil {
		log.Fatalf("Error loading model: %v", err)
	}

	atoms, rules, err := inference.BuildModel(spec, logger)
	if err != nil {
		log.Fatalf("Error building model: %v", err)
	}

	reasonerCfg, err := reasonerConfig(cfg.Reasoner, logger)
	if err != nil {
		log.Fatalf("Error configuring reasoner: %v", err)
	}

	engineCfg := inference.Config{
		PageDir:        filepath.Join(cfg.Engine.WorkDir, "pages"),
		PageSize:       cfg.Engine.PageSize,
		Shuffle:        cfg.Engine.Shuffle,
		Seed:           cfg.Engine.Seed,
		MergeConstants: cfg.Engine.MergeConstants,
		Reasoner:       reasonerCfg,
		ExportPath:     filepath.Join(cfg.Engine.WorkDir, "export"),
		Logger:         logger,
	}

	engine, err := inference.NewEngine(engineCfg, atoms, rules)
	if err != nil {
		log.Fatalf("Error creating engine: %v", err)
	}
	return engine
}

// serveHTTP runs the gin health/metrics surface until ctx ends.
func serveHTTP(ctx context.Context, addr string, engine *inference.Engine, logger *slog.Logger) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/v1")
	inference.RegisterRoutes(v1, inference.NewHandlers(engine))

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("http surface listening", "addr", addr)
	if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
