// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package inference binds the term store, the reasoner, and the online
// protocol into one long-running engine.
//
// The engine alternates between optimization rounds and action drains.
// Client mutations never race an optimization pass: actions are applied
// only at round boundaries, on the engine's own goroutine.
package inference

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/softlogic/services/inference/export"
	"github.com/AleutianAI/softlogic/services/inference/model"
	"github.com/AleutianAI/softlogic/services/inference/online"
	"github.com/AleutianAI/softlogic/services/inference/reasoner"
	"github.com/AleutianAI/softlogic/services/inference/rule"
	"github.com/AleutianAI/softlogic/services/inference/telemetry"
	"github.com/AleutianAI/softlogic/services/inference/term/store"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "1.0.0"

// Config collects everything the engine needs beyond the model itself.
type Config struct {
	// PageDir is the streaming store's page directory. The store owns
	// and wipes it.
	PageDir string

	// PageSize is the number of terms per on-disk page.
	PageSize int

	// Shuffle permutes page visit order between optimization passes.
	Shuffle bool

	// Seed fixes the shuffle order; zero seeds from entropy.
	Seed int64

	// MergeConstants folds observed atoms into hyperplane constants.
	MergeConstants bool

	// Reasoner configures the SGD optimizer.
	Reasoner reasoner.Config

	// ExportPath is the badger directory for persisted inferred
	// values. Empty selects an in-memory export store.
	ExportPath string

	Logger *slog.Logger
}

// DefaultConfig returns a working engine configuration rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		PageDir:        dir + "/pages",
		PageSize:       1000,
		Shuffle:        true,
		MergeConstants: true,
		Reasoner:       reasoner.DefaultConfig(),
		ExportPath:     dir + "/export",
	}
}

// Engine owns the model, the grounding pipeline, the term store, and
// the optimizer, and applies online actions between rounds.
//
// Thread Safety: Apply, RunOnce, and Serve must run on a single
// goroutine. ModelInformation and LastResult are safe to call from
// server connection handlers.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	atoms     *model.Manager
	table     *rule.Table
	grounder  *rule.Grounder
	store     *store.OnlineStore
	optimizer *reasoner.SGD
	export    *export.Store

	tracer  trace.Tracer
	metrics *telemetry.Metrics

	// dirty forces an optimization round before the next drain.
	dirty bool

	closed bool

	rounds         int
	lastObjective  atomic.Int64 // micro-units, for the gauge
	lastIterations int
}

// NewEngine builds an engine over a populated atom manager and rule set.
//
// Description:
//
//	Registers every rule with a fresh table, wires the naive grounder
//	as the store's grounding source, and opens the export store. The
//	first Serve or RunOnce call performs the initial grounding round.
//
// Inputs:
//
//	cfg - Engine configuration. DefaultConfig gives working values.
//	atoms - Atom manager holding the predicates and the fact base.
//	rules - Parsed rules. At least one must survive store filtering.
//
// Outputs:
//
//	*Engine - The ready engine.
//	error - Non-nil on store or export construction failure.
func NewEngine(cfg Config, atoms *model.Manager, rules []*rule.Rule) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(atoms.Predicates()) == 0 {
		return nil, ErrNoPredicates
	}

	table := rule.NewTable()
	for _, r := range rules {
		table.Add(r)
	}

	grounder := rule.NewGrounder(atoms, logger)
	ts, err := store.NewOnlineStore(store.StreamingConfig{
		Config: store.Config{
			Rules:          rules,
			Table:          table,
			Source:         grounder,
			MergeConstants: cfg.MergeConstants,
			Logger:         logger,
		},
		PageDir:  cfg.PageDir,
		PageSize: cfg.PageSize,
		Shuffle:  cfg.Shuffle,
		Seed:     cfg.Seed,
	}, atoms)
	if err != nil {
		return nil, fmt.Errorf("create term store: %w", err)
	}

	optimizer, err := reasoner.NewSGD(cfg.Reasoner, logger)
	if err != nil {
		ts.Close()
		return nil, fmt.Errorf("create reasoner: %w", err)
	}

	exportCfg := export.InMemoryConfig()
	if cfg.ExportPath != "" {
		exportCfg = export.DefaultConfig(cfg.ExportPath)
	}
	exportCfg.Logger = logger
	exp, err := export.Open(exportCfg)
	if err != nil {
		ts.Close()
		return nil, fmt.Errorf("open export store: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		atoms:     atoms,
		table:     table,
		grounder:  grounder,
		store:     ts,
		optimizer: optimizer,
		export:    exp,
		tracer:    otel.Tracer("softlogic.inference"),
		dirty:     true,
	}

	metrics, err := telemetry.NewMetrics(otel.Meter("softlogic.inference"))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create metrics: %w", err)
	}
	e.metrics = metrics
	if _, err := metrics.RegisterObjectiveGauge(otel.Meter("softlogic.inference"), e.lastObjective.Load); err != nil {
		e.Close()
		return nil, fmt.Errorf("register objective gauge: %w", err)
	}

	return e, nil
}

// ModelInformation lists the registered predicates for the handshake.
func (e *Engine) ModelInformation() *online.ModelInformation {
	predicates := e.atoms.Predicates()
	info := &online.ModelInformation{
		Predicates: make([]online.PredicateInfo, 0, len(predicates)),
	}
	for _, p := range predicates {
		info.Predicates = append(info.Predicates, online.PredicateInfo{
			Name:  p.Name,
			Arity: p.Arity,
		})
	}
	sort.Slice(info.Predicates, func(i, j int) bool {
		return info.Predicates[i].Name < info.Predicates[j].Name
	})
	return info
}

// Apply executes one action and builds its response.
//
// Description:
//
//	Mutating actions mark the engine dirty so the next round
//	re-optimizes. QueryAtom answers the sentinel value for atoms the
//	engine has never materialized. Terminal actions (Stop, Exit)
//	produce a terminal response that releases the client's routing
//	entry.
//
// Inputs:
//
//	ctx - Context for the action's tracing span.
//	action - The decoded client action.
//
// Outputs:
//
//	*online.Response - Always non-nil; failures are reported in-band
//	with Success=false.
func (e *Engine) Apply(ctx context.Context, action *online.Action) *online.Response {
	if action == nil {
		return &online.Response{
			Kind:    online.ResponseStatus,
			Success: false,
			Message: ErrNilAction.Error(),
		}
	}

	start := time.Now()
	_, span := e.tracer.Start(ctx, "engine.apply",
		trace.WithAttributes(attribute.String("action.kind", action.Kind.String())))
	defer span.End()

	resp := e.apply(action)
	resp.ID = action.ID

	e.metrics.ActionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", action.Kind.String()),
		attribute.Bool("success", resp.Success),
	))
	e.metrics.ActionDuration.Record(ctx, time.Since(start).Seconds())
	if !resp.Success {
		e.metrics.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("component", "engine"),
			attribute.String("kind", action.Kind.String()),
		))
	}
	return resp
}

func (e *Engine) apply(action *online.Action) *online.Response {
	if e.closed {
		return e.status(false, ErrEngineClosed.Error())
	}

	switch action.Kind {
	case online.KindAddAtom:
		err := e.store.AddAtom(action.Predicate, action.Arguments, action.Value, action.ReadPartition)
		return e.mutation(action, err)

	case online.KindObserveAtom:
		err := e.store.AddAtom(action.Predicate, action.Arguments, action.Value, true)
		return e.mutation(action, err)

	case online.KindDeleteAtom:
		err := e.store.DeleteAtom(action.Predicate, action.Arguments)
		return e.mutation(action, err)

	case online.KindUpdateAtom:
		indexed, err := e.store.UpdateAtom(action.Predicate, action.Arguments, action.Value)
		if err != nil {
			return e.status(false, err.Error())
		}
		e.dirty = true
		if !indexed {
			return e.status(true, "Value stored; terms built from the previous value keep it until their bindings are re-grounded.")
		}
		return e.status(true, action.Kind.String())

	case online.KindAddRule:
		return e.addRule(action)

	case online.KindQueryAtom:
		return e.query(action)

	case online.KindSync:
		e.store.SyncAtoms()
		return e.status(true, "Synced.")

	case online.KindWriteInferred:
		count, err := e.WriteInferred(action.OutputPath)
		if err != nil {
			return e.status(false, err.Error())
		}
		return e.status(true, fmt.Sprintf("Wrote %d inferred atoms.", count))

	case online.KindStop:
		return e.terminal("Stopped.")

	case online.KindExit:
		return e.terminal("Session Closed.")

	default:
		return e.status(false, fmt.Sprintf("%s: %d", ErrUnknownAction, action.Kind))
	}
}

func (e *Engine) mutation(action *online.Action, err error) *online.Response {
	if err != nil {
		return e.status(false, err.Error())
	}
	e.dirty = true
	return e.status(true, action.Kind.String())
}

func (e *Engine) addRule(action *online.Action) *online.Response {
	r, err := rule.Parse(action.RuleText)
	if err != nil {
		return e.status(false, err.Error())
	}
	// Paged terms resolve weights through the table, so register
	// before the store sees the rule.
	index := e.table.Add(r)
	if err := e.store.AddRule(r); err != nil {
		return e.status(false, err.Error())
	}
	e.dirty = true
	e.logger.Info("rule added", "index", index, "rule", r.String())
	return e.status(true, action.Kind.String())
}

func (e *Engine) query(action *online.Action) *online.Response {
	atom, err := e.atoms.GetAtom(action.Predicate, action.Arguments)
	if err != nil {
		return &online.Response{
			Kind:    online.ResponseQuery,
			Success: true,
			Value:   online.QueryMissing,
		}
	}
	return &online.Response{
		Kind:    online.ResponseQuery,
		Success: true,
		Value:   atom.Value(),
	}
}

func (e *Engine) status(success bool, message string) *online.Response {
	return &online.Response{
		Kind:    online.ResponseStatus,
		Success: success,
		Message: message,
	}
}

func (e *Engine) terminal(message string) *online.Response {
	resp := e.status(true, message)
	resp.Terminal = true
	return resp
}

// RunOnce performs one optimization round if the model changed since
// the last round.
//
// Outputs:
//
//	reasoner.Result - Zero when the engine was already clean.
//	error - Non-nil on optimizer failure; the dirty flag is kept so
//	the round is retried.
func (e *Engine) RunOnce(ctx context.Context) (reasoner.Result, error) {
	if e.closed {
		return reasoner.Result{}, ErrEngineClosed
	}
	if !e.dirty {
		return reasoner.Result{}, nil
	}

	ctx, span := e.tracer.Start(ctx, "engine.optimize")
	defer span.End()

	start := time.Now()
	result, err := e.optimizer.Optimize(ctx, e.store)
	if err != nil {
		return reasoner.Result{}, fmt.Errorf("optimization round: %w", err)
	}

	e.dirty = false
	e.rounds++
	e.lastIterations = result.Iterations
	e.lastObjective.Store(int64(result.Objective * 1e6))

	e.metrics.OptimizeRoundsTotal.Add(ctx, 1)
	e.metrics.OptimizeIterationsTotal.Add(ctx, int64(result.Iterations))
	e.metrics.OptimizeDuration.Record(ctx, time.Since(start).Seconds())
	e.metrics.TermsGroundedTotal.Add(ctx, int64(result.Terms))

	e.logger.Info("optimization round complete",
		"round", e.rounds,
		"objective", result.Objective,
		"iterations", result.Iterations,
		"terms", result.Terms,
		"duration", time.Since(start))
	return result, nil
}

// Serve drains actions from the server between optimization rounds.
//
// Description:
//
//	Runs the engine loop: optimize when dirty, block for the next
//	action, apply it, then drain whatever else is queued before
//	re-optimizing. Consecutive mutations therefore coalesce into a
//	single round. Returns when the context is cancelled or the
//	server's action channel closes.
//
// Inputs:
//
//	ctx - Cancellation for the loop.
//	srv - The online server feeding the shared action queue.
//
// Outputs:
//
//	error - Context error on cancellation, nil on clean shutdown.
func (e *Engine) Serve(ctx context.Context, srv *online.Server) error {
	for {
		if _, err := e.RunOnce(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case action, ok := <-srv.Actions():
			if !ok {
				return nil
			}
			e.respond(ctx, srv, action)
		}

		// Drain without blocking so queued mutations share one round.
		for {
			select {
			case action, ok := <-srv.Actions():
				if !ok {
					return nil
				}
				e.respond(ctx, srv, action)
				continue
			default:
			}
			break
		}
	}
}

func (e *Engine) respond(ctx context.Context, srv *online.Server, action *online.Action) {
	resp := e.Apply(ctx, action)
	if err := srv.Respond(resp); err != nil {
		e.logger.Warn("response dropped", "action", action.String(), "error", err)
	}
}

// WriteInferred persists the current random-variable values.
//
// Description:
//
//	Syncs optimized values back onto atoms, writes every
//	random-variable atom to the export store, and optionally dumps a
//	sorted text listing at path.
//
// Inputs:
//
//	path - Optional text dump destination; empty skips the dump.
//
// Outputs:
//
//	int - The number of atoms written.
//	error - Non-nil on export failure.
func (e *Engine) WriteInferred(path string) (int, error) {
	if e.closed {
		return 0, ErrEngineClosed
	}
	e.store.SyncAtoms()

	atoms := e.atoms.Atoms(model.RandomVariable)
	if err := e.export.WriteAtoms(atoms); err != nil {
		return 0, fmt.Errorf("write export store: %w", err)
	}
	if path != "" {
		if err := export.WriteFile(path, atoms); err != nil {
			return 0, fmt.Errorf("write inferred dump: %w", err)
		}
	}

	e.metrics.AtomsExportedTotal.Add(context.Background(), int64(len(atoms)))
	return len(atoms), nil
}

// LastResult reports the round counter and last objective for the
// readiness endpoint.
func (e *Engine) LastResult() (rounds int, objective float64) {
	return e.rounds, float64(e.lastObjective.Load()) / 1e6
}

// Close releases the term store and the export store. Operations on a
// closed engine fail with ErrEngineClosed.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	storeErr := e.store.Close()
	exportErr := e.export.Close()
	if storeErr != nil {
		return storeErr
	}
	return exportErr
}
