package operation

import (
	"context"
	"time"

	"github.com/fyerfyer/mysql-async-client/conn"
	"github.com/fyerfyer/mysql-async-client/mysqlerr"
	"github.com/fyerfyer/mysql-async-client/protocol"
)

// ChangeUser re-authenticates an already-open handle as a different user,
// per spec.md §3's ChangeUser operation. Its timeout is conn.Options'
// ChangeUserTimeout (connect timeout + 1s) rather than the query timeout.
type ChangeUser struct {
	base

	handler  protocol.Handler
	proxy    conn.Proxy
	h        protocol.Handle
	user     string
	password string
	database string
	timeout  time.Duration

	advanceStarted bool
	startedAt      time.Time
	deadline       time.Time
	poll           *pollState
}

func NewChangeUser(handler protocol.Handler, proxy conn.Proxy, user, password, database string, timeout time.Duration) *ChangeUser {
	return &ChangeUser{base: newBase(), handler: handler, proxy: proxy, h: proxy.Get().Holder().Handle, user: user, password: password, database: database, timeout: timeout}
}

// Proxy exposes the Connection this ChangeUser runs against.
func (c *ChangeUser) Proxy() conn.Proxy { return c.proxy }

func (c *ChangeUser) newPoll() *pollState {
	return &pollState{
		cancelled: c.cancelled,
		poll:      func() protocol.Status { return c.handler.ChangeUser(c.h, c.user, c.password, c.database) },
		onError: func() error {
			errno, msg := c.h.LastError()
			return &mysqlerr.ConnectFailed{Errno: errno, Message: msg}
		},
	}
}

// Run drives the change-user exchange to completion, blocking the calling
// goroutine.
func (c *ChangeUser) Run(ctx context.Context) {
	if !c.start() {
		return
	}
	err := driveToCompletion(ctx, c.h, c.timeout, c.newPoll().step)
	c.finish(err)
}

// Advance performs one nonblocking step, called only by the reactor
// goroutine (package client) driving this Operation.
func (c *ChangeUser) Advance(ctx context.Context) <-chan struct{} {
	if c.State() == StateCompleted {
		return nil
	}
	if !c.advanceStarted {
		c.advanceStarted = true
		if !c.start() {
			return nil
		}
		c.startedAt = time.Now()
		if c.timeout > 0 {
			c.deadline = c.startedAt.Add(c.timeout)
		}
		c.poll = c.newPoll()
	}

	if ctx.Err() != nil {
		c.finish(ctx.Err())
		return nil
	}
	if !c.deadline.IsZero() && time.Now().After(c.deadline) {
		c.finish(&mysqlerr.Timeout{Elapsed: c.timeout})
		return nil
	}

	done, err := c.poll.step()
	if !done {
		return c.h.SocketReady()
	}
	c.finish(err)
	return nil
}

// Deadline reports when this ChangeUser's own timeout fires, or the zero
// Time if Advance hasn't started it yet or no timeout applies.
func (c *ChangeUser) Deadline() time.Time { return c.deadline }
