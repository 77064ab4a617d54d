// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package inference

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/softlogic/pkg/config"
	"github.com/AleutianAI/softlogic/services/inference/online"
)

// testModel declares a small social-network model: observed similarity
// scores and unknown friendships.
func testModel() config.Model {
	value := func(v float32) *float32 { return &v }

	return config.Model{
		Predicates: []config.PredicateDecl{
			{Name: "Nice", Arity: 1},
			{Name: "Similar", Arity: 2},
			{Name: "Friends", Arity: 2},
		},
		Observations: []config.AtomDecl{
			{Atom: "Similar(alice, bob)", Value: value(0.9)},
			{Atom: "Similar(bob, carol)", Value: value(0.2)},
		},
		Targets: []config.AtomDecl{
			{Atom: "Friends(alice, bob)"},
			{Atom: "Friends(bob, carol)"},
		},
		Rules: []string{
			"10: !Similar(A, B) | Friends(A, B) ^2",
		},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	atoms, rules, err := BuildModel(testModel(), nil)
	require.NoError(t, err)

	cfg := DefaultConfig(t.TempDir())
	cfg.PageSize = 8
	cfg.Shuffle = false
	cfg.ExportPath = "" // in-memory export store
	cfg.Reasoner.MaxIterations = 50

	engine, err := NewEngine(cfg, atoms, rules)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

// startSession runs an engine-backed server and connects one client.
func startSession(t *testing.T, engine *Engine) *online.Client {
	t.Helper()

	srv := online.NewServer(engine.ModelInformation, nil)
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { srv.Close() })

	go func() { _ = srv.Serve(ctx) }()
	go func() { _ = engine.Serve(ctx, srv) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()

	client, err := online.Dial(dialCtx, srv.Addr().String(), nil)
	require.NoError(t, err)
	return client
}

func runScript(t *testing.T, client *online.Client, script string) []online.Response {
	t.Helper()

	require.NoError(t, client.RunScript(strings.NewReader(script)))
	require.NoError(t, client.Wait())
	return client.Responses()
}

func queryResponses(responses []online.Response) []online.Response {
	var queries []online.Response
	for _, resp := range responses {
		if resp.Kind == online.ResponseQuery {
			queries = append(queries, resp)
		}
	}
	return queries
}

func TestObserveThenQuery(t *testing.T) {
	engine := newTestEngine(t)
	client := startSession(t, engine)

	responses := runScript(t, client, `
ObserveAtom Nice 'Alice' 0.0
QueryAtom Nice 'Alice'
Exit
`)

	queries := queryResponses(responses)
	require.Len(t, queries, 1)
	assert.Equal(t, float32(0.0), queries[0].Value)

	last := responses[len(responses)-1]
	assert.True(t, last.Terminal)
	assert.Equal(t, "Session Closed.", last.Message)
}

func TestQueryUnknownAtomSentinel(t *testing.T) {
	engine := newTestEngine(t)
	client := startSession(t, engine)

	responses := runScript(t, client, `
QueryAtom Friends 'Unknown1' 'Unknown2'
Exit
`)

	queries := queryResponses(responses)
	require.Len(t, queries, 1)
	assert.Equal(t, online.QueryMissing, queries[0].Value)
}

func TestAddThenQueryOrdering(t *testing.T) {
	engine := newTestEngine(t)
	client := startSession(t, engine)

	responses := runScript(t, client, `
AddAtom WRITE Friends A B 0.5
QueryAtom Friends A B
Exit
`)

	queries := queryResponses(responses)
	require.Len(t, queries, 1)
	assert.Equal(t, float32(0.5), queries[0].Value)
}

func TestUpdateFoldedObservationVisibleToQuery(t *testing.T) {
	// Similar(alice, bob) is observed and folded into term constants,
	// so it holds no optimizer slot. Updating it must still store the
	// value where queries can see it.
	engine := newTestEngine(t)
	client := startSession(t, engine)

	responses := runScript(t, client, `
UpdateAtom Similar alice bob 0.1
QueryAtom Similar alice bob
Exit
`)

	queries := queryResponses(responses)
	require.Len(t, queries, 1)
	assert.Equal(t, float32(0.1), queries[0].Value)
}

func TestClosedEngineRejectsWork(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.Close())

	_, err := engine.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrEngineClosed)

	_, err = engine.WriteInferred("")
	assert.ErrorIs(t, err, ErrEngineClosed)

	resp := engine.Apply(context.Background(), &online.Action{Kind: online.KindSync})
	assert.False(t, resp.Success)
	assert.Equal(t, ErrEngineClosed.Error(), resp.Message)
}

func TestRunOnceOptimizes(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.Positive(t, result.Iterations)
	require.Positive(t, result.Terms)

	// Friends(alice, bob) is pushed up by the strong similarity.
	atom, err := engine.atoms.GetAtom("Friends", []string{"alice", "bob"})
	require.NoError(t, err)
	assert.Greater(t, atom.Value(), float32(0.5))

	// A second round without changes is a no-op.
	again, err := engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Iterations)
}

func TestAddRuleThenOptimize(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.RunOnce(context.Background())
	require.NoError(t, err)

	resp := engine.Apply(context.Background(), &online.Action{
		Kind:     online.KindAddRule,
		RuleText: "5: !Friends(A, B) | Friends(B, A)",
	})
	require.True(t, resp.Success, resp.Message)

	result, err := engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.Positive(t, result.Iterations)
}

func TestWriteInferred(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.RunOnce(context.Background())
	require.NoError(t, err)

	count, err := engine.WriteInferred("")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	keys, err := engine.export.Keys()
	require.NoError(t, err)
	assert.Contains(t, keys, "Friends(alice,bob)")
}

func TestBuildModelRejectsBadAtomText(t *testing.T) {
	spec := testModel()
	spec.Observations = append(spec.Observations, config.AtomDecl{Atom: "Broken"})

	_, _, err := BuildModel(spec, nil)
	require.Error(t, err)
}
