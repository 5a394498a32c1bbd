package operation

import (
	"context"
	"time"

	"github.com/fyerfyer/mysql-async-client/conn"
	"github.com/fyerfyer/mysql-async-client/mysqlerr"
	"github.com/fyerfyer/mysql-async-client/protocol"
)

// Connect drives protocol.Handler.TryConnect to completion and, on success,
// hands back a Holder ready to be wrapped in a conn.Connection.
type Connect struct {
	base

	handler protocol.Handler
	h       protocol.Handle
	key     conn.Key
	opts    conn.Options

	started time.Time
	elapsed time.Duration

	// Fields below are touched only by whichever single goroutine drives
	// Advance — the reactor in package client, or Run's own loop — never
	// both, so they need no locking of their own.
	advanceStarted bool
	deadline       time.Time
	poll           *pollState
}

// NewConnect allocates a native handle via handler and returns a Connect
// ready to Run.
func NewConnect(handler protocol.Handler, key conn.Key, opts conn.Options) (*Connect, error) {
	h, err := handler.NewHandle()
	if err != nil {
		return nil, err
	}
	return &Connect{base: newBase(), handler: handler, h: h, key: key, opts: opts}, nil
}

// Handle exposes the underlying native handle, consumed by the caller (the
// client's reactor) to build a conn.Holder once Run completes successfully.
func (c *Connect) Handle() protocol.Handle { return c.h }

func (c *Connect) newPoll(ctx context.Context) *pollState {
	flags := protocol.ConnectFlags{ClientFlags: c.opts.ClientFlags, Attributes: c.opts.Attributes}
	return &pollState{
		cancelled: c.cancelled,
		poll: func() protocol.Status {
			return c.handler.TryConnect(ctx, c.h, c.key.Host, c.key.Port, c.key.User, c.key.Password, c.key.Database, flags)
		},
		onError: func() error {
			errno, msg := c.h.LastError()
			return &mysqlerr.ConnectFailed{Errno: errno, Message: msg}
		},
	}
}

// Run drives the connect attempt to completion, blocking the calling
// goroutine until it does. Used directly by callers that don't go through
// the reactor's Advance-driven path (e.g. tests exercising this operation
// in isolation).
func (c *Connect) Run(ctx context.Context) {
	if !c.start() {
		return
	}
	c.started = time.Now()
	err := driveToCompletion(ctx, c.h, c.opts.ConnectTimeout, c.newPoll(ctx).step)
	c.elapsed = time.Since(c.started)
	c.finish(err)
}

// Advance performs one nonblocking step, called only by the reactor
// goroutine (package client) driving this Operation. It returns the
// channel the reactor must wait on before calling Advance again, or nil
// once the Operation has reached StateCompleted.
func (c *Connect) Advance(ctx context.Context) <-chan struct{} {
	if c.State() == StateCompleted {
		return nil
	}
	if !c.advanceStarted {
		c.advanceStarted = true
		if !c.start() {
			return nil
		}
		c.started = time.Now()
		if c.opts.ConnectTimeout > 0 {
			c.deadline = c.started.Add(c.opts.ConnectTimeout)
		}
		c.poll = c.newPoll(ctx)
	}

	if ctx.Err() != nil {
		c.elapsed = time.Since(c.started)
		c.finish(ctx.Err())
		return nil
	}
	if !c.deadline.IsZero() && time.Now().After(c.deadline) {
		c.elapsed = time.Since(c.started)
		c.finish(&mysqlerr.Timeout{Elapsed: c.opts.ConnectTimeout})
		return nil
	}

	done, err := c.poll.step()
	if !done {
		return c.h.SocketReady()
	}
	c.elapsed = time.Since(c.started)
	c.finish(err)
	return nil
}

// Elapsed reports how long the connect attempt took, valid once Done is
// closed.
func (c *Connect) Elapsed() time.Duration { return c.elapsed }

// Deadline reports when this Connect's own timeout fires, or the zero Time
// if Advance hasn't started it yet or no timeout applies.
func (c *Connect) Deadline() time.Time { return c.deadline }
