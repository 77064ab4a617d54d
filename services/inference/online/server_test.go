// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package online

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEcho runs a server whose drainer acknowledges every action
// with one terminal status response naming the action kind.
func startEcho(t *testing.T) *Server {
	t.Helper()

	srv := NewServer(func() *ModelInformation { return testPredicates }, nil)
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _ = srv.Serve(ctx) }()

	go func() {
		for action := range srv.Actions() {
			resp := &Response{
				ID:       action.ID,
				Kind:     ResponseStatus,
				Success:  true,
				Message:  action.Kind.String(),
				Terminal: true,
			}
			if action.Kind == KindExit {
				resp.Message = "Session Closed."
			}
			_ = srv.Respond(resp)
		}
	}()

	t.Cleanup(func() { srv.Close() })
	return srv
}

func dialTest(t *testing.T, srv *Server) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	c, err := Dial(ctx, srv.Addr().String(), nil)
	require.NoError(t, err)
	return c
}

func waitResponses(t *testing.T, c *Client, n int) []Response {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.Responses(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d responses, have %d", n, len(c.Responses()))
	return nil
}

func TestHandshakeBeforeActions(t *testing.T) {
	srv := startEcho(t)
	c := dialTest(t, srv)

	require.NotNil(t, c.Model())
	arity, ok := c.Model().Arity("Friends")
	assert.True(t, ok)
	assert.Equal(t, 2, arity)

	require.NoError(t, c.Submit(mustParse(t, "Exit")))
	require.NoError(t, c.Wait())
}

func mustParse(t *testing.T, line string) *Action {
	t.Helper()

	a, err := ParseCommand(line, testPredicates)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

func TestPerClientFIFO(t *testing.T) {
	srv := startEcho(t)
	c := dialTest(t, srv)

	lines := []string{
		"AddAtom WRITE Friends Alice Bob 0.5",
		"QueryAtom Friends Alice Bob",
		"Sync",
		"Exit",
	}
	require.NoError(t, c.RunScript(strings.NewReader(strings.Join(lines, "\n"))))
	require.NoError(t, c.Wait())

	got := waitResponses(t, c, 4)
	require.Len(t, got, 4)

	want := []string{"AddAtom", "QueryAtom", "Sync", "Session Closed."}
	for i, resp := range got {
		assert.Equal(t, want[i], resp.Message, "response %d", i)
		assert.True(t, resp.Success)
	}
}

func TestResponsesRouteToSubmitter(t *testing.T) {
	srv := startEcho(t)
	c1 := dialTest(t, srv)
	c2 := dialTest(t, srv)

	a1 := mustParse(t, "QueryAtom Nice Alice")
	a2 := mustParse(t, "Sync")

	require.NoError(t, c1.Submit(a1))
	require.NoError(t, c2.Submit(a2))

	r1 := waitResponses(t, c1, 1)
	r2 := waitResponses(t, c2, 1)

	assert.Equal(t, a1.ID, r1[0].ID)
	assert.Equal(t, "QueryAtom", r1[0].Message)
	assert.Equal(t, a2.ID, r2[0].ID)
	assert.Equal(t, "Sync", r2[0].Message)

	// Neither client saw the other's response.
	for _, resp := range c1.Responses() {
		assert.NotEqual(t, a2.ID, resp.ID)
	}
	for _, resp := range c2.Responses() {
		assert.NotEqual(t, a1.ID, resp.ID)
	}

	require.NoError(t, c1.Submit(mustParse(t, "Exit")))
	require.NoError(t, c2.Submit(mustParse(t, "Exit")))
	require.NoError(t, c1.Wait())
	require.NoError(t, c2.Wait())
}

func TestExitClosesSession(t *testing.T) {
	srv := startEcho(t)
	c := dialTest(t, srv)

	require.NoError(t, c.Submit(mustParse(t, "Exit")))

	got := waitResponses(t, c, 1)
	assert.Equal(t, "Session Closed.", got[0].Message)
	assert.True(t, got[0].Terminal)

	// Server closed the socket; Wait drains cleanly.
	require.NoError(t, c.Wait())

	// The session is sealed client-side too.
	err := c.Submit(mustParse(t, "Sync"))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSubmitDuringShutdown(t *testing.T) {
	// Submissions racing Wait must fail with ErrSessionClosed; the
	// outbound queue is never closed, so there is no panic window.
	srv := startEcho(t)
	c := dialTest(t, srv)

	// One queued action guarantees the echo drainer answers and the
	// server closes the socket, so Wait's receive side always ends.
	require.NoError(t, c.Submit(&Action{ID: uuid.New(), Kind: KindSync}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if err := c.Submit(&Action{ID: uuid.New(), Kind: KindSync}); err != nil {
					return
				}
			}
		}()
	}

	// The echo drainer answers with terminal responses, so the server
	// may close the socket under the submitters; Wait's error is not
	// the subject here.
	_ = c.Wait()
	wg.Wait()

	err := c.Submit(&Action{ID: uuid.New(), Kind: KindSync})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestRespondWithoutRoute(t *testing.T) {
	srv := startEcho(t)

	err := srv.Respond(&Response{ID: mustParse(t, "Sync").ID})
	assert.Error(t, err)
}
