// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package inference

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/softlogic/services/inference/telemetry"
)

// HealthResponse is the body of GET /v1/inference/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is the body of GET /v1/inference/ready.
type ReadyResponse struct {
	Ready     bool    `json:"ready"`
	Rounds    int     `json:"rounds"`
	Objective float64 `json:"objective"`
}

// Handlers serves the HTTP surface for a running engine.
type Handlers struct {
	engine *Engine
}

// NewHandlers creates handlers for the given engine.
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine}
}

// RegisterRoutes registers the inference endpoints with the router.
//
// Endpoints:
//
//	GET /v1/inference/health - Health check
//	GET /v1/inference/ready - Readiness (first round completed)
//	GET /v1/inference/metrics - Prometheus metrics, when enabled
//
// Example:
//
//	v1 := router.Group("/v1")
//	inference.RegisterRoutes(v1, inference.NewHandlers(engine))
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	group := rg.Group("/inference")
	{
		group.GET("/health", handlers.HandleHealth)
		group.GET("/ready", handlers.HandleReady)

		if metricsHandler := telemetry.MetricsHandler(); metricsHandler != nil {
			group.GET("/metrics", gin.WrapH(metricsHandler))
		}
	}
}

// HandleHealth handles GET /v1/inference/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /v1/inference/ready.
//
// Description:
//
//	Reports readiness once the engine has completed its first
//	optimization round. Returns 503 before that.
func (h *Handlers) HandleReady(c *gin.Context) {
	rounds, objective := h.engine.LastResult()

	resp := ReadyResponse{
		Ready:     rounds > 0,
		Rounds:    rounds,
		Objective: objective,
	}

	if !resp.Ready {
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	c.JSON(http.StatusOK, resp)
}
