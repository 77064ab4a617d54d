// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package online

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// actionQueueDepth bounds how far clients can run ahead of the
// inference loop's drain point.
const actionQueueDepth = 256

// Server is the transport side of the protocol: it accepts
// connections, sends the predicate handshake, reads actions onto one
// shared queue, and routes responses back by correlation id.
//
// It applies nothing itself. The inference loop drains Actions()
// between optimization rounds and answers through Respond.
//
// Thread Safety: safe for concurrent connections; Respond may be
// called from the single draining goroutine only.
type Server struct {
	logger *slog.Logger

	// modelInfo supplies the handshake; called per connection so a
	// rule added mid-session is reflected for later clients.
	modelInfo func() *ModelInformation

	listener net.Listener
	actions  chan *Action

	mu     sync.Mutex
	conns  map[uint64]*serverConn
	routes map[uuid.UUID]*serverConn

	nextConn atomic.Uint64
	closed   atomic.Bool
	done     chan struct{}

	// readers gates closing the action queue until every connection
	// reader has returned.
	readers sync.WaitGroup
}

type serverConn struct {
	id   uint64
	conn net.Conn

	writeMu sync.Mutex

	// terminalSeen flips when the reader sees Stop or Exit; the
	// connection closes once the matching terminal response is out.
	terminalSeen atomic.Bool
}

func (c *serverConn) write(env *Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteFrame(c.conn, env)
}

// NewServer creates a server that hands out the given model
// information on connect.
func NewServer(modelInfo func() *ModelInformation, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		logger:    logger,
		modelInfo: modelInfo,
		actions:   make(chan *Action, actionQueueDepth),
		conns:     make(map[uint64]*serverConn),
		routes:    make(map[uuid.UUID]*serverConn),
		done:      make(chan struct{}),
	}
}

// Listen binds the server to a TCP address. Use Addr for the bound
// address when the port was 0.
func (s *Server) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Actions is the shared queue the inference loop drains. The channel
// closes when the server shuts down.
func (s *Server) Actions() <-chan *Action {
	return s.actions
}

// Serve accepts connections until the context ends or the listener
// closes. Each connection gets its own reader goroutine.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("online: Serve before Listen")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return s.Close()
	})

	g.Go(func() error {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if s.closed.Load() {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}

			sc := &serverConn{id: s.nextConn.Add(1), conn: conn}
			s.mu.Lock()
			s.conns[sc.id] = sc
			s.mu.Unlock()

			s.readers.Add(1)
			if s.closed.Load() {
				s.readers.Done()
				_ = conn.Close()
				continue
			}

			g.Go(func() error {
				defer s.readers.Done()
				s.handleConn(sc)
				return nil
			})
		}
	})

	return g.Wait()
}

// handleConn runs one connection's reader: handshake first, then
// actions onto the shared queue until a terminal action, error, or
// disconnect.
func (s *Server) handleConn(sc *serverConn) {
	defer s.dropConn(sc)

	logger := s.logger.With(slog.Uint64("conn", sc.id))

	handshake := &Envelope{Type: MessageModelInfo, Model: s.modelInfo()}
	if err := sc.write(handshake); err != nil {
		logger.Warn("handshake failed", slog.String("error", err.Error()))
		return
	}

	for {
		env, err := ReadFrame(sc.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.closed.Load() {
				logger.Warn("read failed", slog.String("error", err.Error()))
			}
			return
		}
		if env.Type != MessageAction {
			logger.Warn("unexpected frame", slog.Int("type", int(env.Type)))
			continue
		}

		action := env.Action
		s.mu.Lock()
		s.routes[action.ID] = sc
		s.mu.Unlock()

		if action.Kind.Terminal() {
			// No action is valid after Stop or Exit; stop reading but
			// keep the socket up until the terminal response is sent.
			sc.terminalSeen.Store(true)
			s.enqueue(action)
			return
		}

		if !s.enqueue(action) {
			return
		}
	}
}

// enqueue pushes onto the shared queue unless the server is shutting
// down mid-send.
func (s *Server) enqueue(action *Action) bool {
	select {
	case s.actions <- action:
		return true
	case <-s.done:
		return false
	}
}

// dropConn removes bookkeeping for a finished reader. The socket
// itself stays open if a terminal response is still owed.
func (s *Server) dropConn(sc *serverConn) {
	if sc.terminalSeen.Load() {
		return
	}

	s.mu.Lock()
	delete(s.conns, sc.id)
	for id, conn := range s.routes {
		if conn == sc {
			delete(s.routes, id)
		}
	}
	s.mu.Unlock()

	_ = sc.conn.Close()
}

// Respond routes a response to the connection that submitted the
// correlated action. A terminal response releases the route; if that
// connection's session has ended, the socket closes too.
func (s *Server) Respond(resp *Response) error {
	s.mu.Lock()
	sc, ok := s.routes[resp.ID]
	if ok && resp.Terminal {
		delete(s.routes, resp.ID)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("online: no route for response %s", resp.ID)
	}

	err := sc.write(&Envelope{Type: MessageResponse, Response: resp})

	if resp.Terminal && sc.terminalSeen.Load() {
		s.mu.Lock()
		delete(s.conns, sc.id)
		s.mu.Unlock()
		_ = sc.conn.Close()
	}

	return err
}

// Close shuts the listener and every connection and closes the action
// queue. Safe to call more than once.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for _, sc := range s.conns {
		_ = sc.conn.Close()
	}
	s.conns = map[uint64]*serverConn{}
	s.routes = map[uuid.UUID]*serverConn{}
	s.mu.Unlock()

	// Queue closes only after every reader is out of its send.
	s.readers.Wait()
	close(s.actions)
	return err
}
