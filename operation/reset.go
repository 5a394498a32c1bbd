package operation

import (
	"context"
	"time"

	"github.com/fyerfyer/mysql-async-client/conn"
	"github.com/fyerfyer/mysql-async-client/mysqlerr"
	"github.com/fyerfyer/mysql-async-client/protocol"
)

// Reset restores session state on an already-connected handle without a
// full reconnect, per spec.md §3's Reset operation.
type Reset struct {
	base

	handler protocol.Handler
	proxy   conn.Proxy
	h       protocol.Handle
	timeout time.Duration

	advanceStarted bool
	startedAt      time.Time
	deadline       time.Time
	poll           *pollState
}

// NewReset builds a Reset against proxy's Connection. The dying-Connection
// close path (package client's ResetBlocking) passes a proxy from
// conn.NewOwnedProxy wrapping a throwaway Connection nobody else references;
// every other caller passes one from conn.NewReferencedProxy onto a
// Connection it still owns.
func NewReset(handler protocol.Handler, proxy conn.Proxy, timeout time.Duration) *Reset {
	return &Reset{base: newBase(), handler: handler, proxy: proxy, h: proxy.Get().Holder().Handle, timeout: timeout}
}

// Proxy exposes the Connection this Reset runs against.
func (r *Reset) Proxy() conn.Proxy { return r.proxy }

func (r *Reset) newPoll() *pollState {
	return &pollState{
		cancelled: r.cancelled,
		poll:      func() protocol.Status { return r.handler.Reset(r.h) },
		onError: func() error {
			errno, msg := r.h.LastError()
			return &mysqlerr.QueryFailed{Errno: errno, Message: msg}
		},
	}
}

// Run drives the reset to completion, blocking the calling goroutine.
func (r *Reset) Run(ctx context.Context) {
	if !r.start() {
		return
	}
	err := driveToCompletion(ctx, r.h, r.timeout, r.newPoll().step)
	r.finish(err)
}

// Advance performs one nonblocking step, called only by the reactor
// goroutine (package client) driving this Operation.
func (r *Reset) Advance(ctx context.Context) <-chan struct{} {
	if r.State() == StateCompleted {
		return nil
	}
	if !r.advanceStarted {
		r.advanceStarted = true
		if !r.start() {
			return nil
		}
		r.startedAt = time.Now()
		if r.timeout > 0 {
			r.deadline = r.startedAt.Add(r.timeout)
		}
		r.poll = r.newPoll()
	}

	if ctx.Err() != nil {
		r.finish(ctx.Err())
		return nil
	}
	if !r.deadline.IsZero() && time.Now().After(r.deadline) {
		r.finish(&mysqlerr.Timeout{Elapsed: r.timeout})
		return nil
	}

	done, err := r.poll.step()
	if !done {
		return r.h.SocketReady()
	}
	r.finish(err)
	return nil
}

// Deadline reports when this Reset's own timeout fires, or the zero Time if
// Advance hasn't started it yet or no timeout applies.
func (r *Reset) Deadline() time.Time { return r.deadline }
