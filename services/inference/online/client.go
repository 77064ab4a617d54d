// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package online

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Client is one side of a protocol session: a sender task draining an
// outbound queue onto the socket, and a receiver task collecting
// framed responses in arrival order.
type Client struct {
	conn   net.Conn
	model  *ModelInformation
	logger *slog.Logger

	outbound chan *Action
	done     chan struct{}
	group    *errgroup.Group

	mu        sync.Mutex
	responses []Response
	sealed    bool
	drained   bool
}

// Dial connects and consumes the ModelInformation handshake the
// server must send before anything else.
func Dial(ctx context.Context, addr string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	env, err := ReadFrame(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrNoHandshake, err)
	}
	if env.Type != MessageModelInfo {
		_ = conn.Close()
		return nil, ErrNoHandshake
	}

	c := &Client{
		conn:     conn,
		model:    env.Model,
		logger:   logger,
		outbound: make(chan *Action, actionQueueDepth),
		done:     make(chan struct{}),
		group:    &errgroup.Group{},
	}

	c.group.Go(c.send)
	c.group.Go(c.receive)
	return c, nil
}

// Model returns the handshake's predicate listing. It doubles as the
// ArityResolver for parsing command lines.
func (c *Client) Model() *ModelInformation {
	return c.model
}

// Submit queues one action. The session seals after a Stop or Exit;
// later submissions fail with ErrSessionClosed. The outbound channel
// is never closed, so a submission racing Wait cannot panic: it loses
// the race and reports the session closed instead.
func (c *Client) Submit(action *Action) error {
	c.mu.Lock()
	if c.sealed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if action.Kind.Terminal() {
		c.sealed = true
	}
	c.mu.Unlock()

	select {
	case c.outbound <- action:
		return nil
	case <-c.done:
		return ErrSessionClosed
	}
}

// RunScript parses and submits line-oriented commands until the
// source ends or a terminal action is sent.
func (c *Client) RunScript(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		action, err := ParseCommand(scanner.Text(), c.model)
		if err != nil {
			return err
		}
		if action == nil {
			continue
		}

		if err := c.Submit(action); err != nil {
			return err
		}
		if action.Kind.Terminal() {
			return nil
		}
	}
	return scanner.Err()
}

// send drains the outbound queue onto the socket, stopping after a
// terminal action goes out or the session winds down. Anything still
// queued at wind-down is flushed before returning.
func (c *Client) send() error {
	for {
		select {
		case action := <-c.outbound:
			if err := c.write(action); err != nil {
				return err
			}
			if action.Kind.Terminal() {
				return nil
			}
		case <-c.done:
			for {
				select {
				case action := <-c.outbound:
					if err := c.write(action); err != nil {
						return err
					}
					if action.Kind.Terminal() {
						return nil
					}
				default:
					return nil
				}
			}
		}
	}
}

func (c *Client) write(action *Action) error {
	if err := WriteFrame(c.conn, &Envelope{Type: MessageAction, Action: action}); err != nil {
		return fmt.Errorf("sending %s: %w", action, err)
	}
	return nil
}

// receive appends responses in arrival order until the peer closes.
func (c *Client) receive() error {
	for {
		env, err := ReadFrame(c.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// The server closes the socket after the terminal
			// response; a reset mid-read is the same clean end.
			var netErr *net.OpError
			if errors.As(err, &netErr) {
				return nil
			}
			return err
		}
		if env.Type != MessageResponse {
			c.logger.Warn("unexpected frame from server", slog.Int("type", int(env.Type)))
			continue
		}

		c.mu.Lock()
		c.responses = append(c.responses, *env.Response)
		c.mu.Unlock()
	}
}

// Responses returns a snapshot of everything received so far.
func (c *Client) Responses() []Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Response, len(c.responses))
	copy(out, c.responses)
	return out
}

// Wait blocks until the sender has drained and the server has closed
// the connection, then releases the socket.
func (c *Client) Wait() error {
	c.mu.Lock()
	c.sealed = true
	if !c.drained {
		c.drained = true
		close(c.done)
	}
	c.mu.Unlock()

	err := c.group.Wait()
	_ = c.conn.Close()
	return err
}
