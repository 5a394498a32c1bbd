package operation

import (
	"context"
	"time"

	"github.com/fyerfyer/mysql-async-client/mysqlerr"
	"github.com/fyerfyer/mysql-async-client/protocol"
)

// pollState wraps a single nonblocking protocol call (connect, reset,
// change-user) as one resumable step, so it can be driven either by Run's
// own blocking loop below or, one call at a time, by the reactor goroutine
// in package client. step never blocks; it performs at most one poll.
type pollState struct {
	cancelled func() bool
	poll      func() protocol.Status
	onError   func() error
}

// step performs one poll. done=true means the step is finished (err set on
// failure or cancellation); done=false asks the caller to wait for the
// handle's readiness before calling step again.
func (p *pollState) step() (done bool, err error) {
	if p.cancelled() {
		return true, errCancelled
	}
	switch p.poll() {
	case protocol.StatusDone:
		return true, nil
	case protocol.StatusError:
		return true, p.onError()
	default:
		return false, nil
	}
}

// execState drives one RunQuery call through to exhaustion of its result
// set one resumable step at a time, streaming columns and rows out through
// onColumns/onRow as they become available. It is the shared core of Query
// and MultiQuery — they differ only in how they consume the finished
// per-statement result.
type execState struct {
	handler protocol.Handler
	h       protocol.Handle
	sql     string

	cancelled func() bool
	onColumns func([]string)
	onRow     func([]interface{})

	phase execPhase
	cur   protocol.ResultCursor
}

type execPhase int

const (
	execPhaseRunQuery execPhase = iota
	execPhaseFetch
)

func newExecState(
	handler protocol.Handler,
	h protocol.Handle,
	sql string,
	cancelled func() bool,
	onColumns func([]string),
	onRow func([]interface{}),
) *execState {
	return &execState{handler: handler, h: h, sql: sql, cancelled: cancelled, onColumns: onColumns, onRow: onRow}
}

// step performs as many nonblocking protocol calls as are immediately
// available — RunQuery's own polling, then GetResult, then FetchRow's own
// polling — stopping only once the statement is finished or a call reports
// StatusPending. done=false asks the caller to wait on h's readiness
// channel before calling step again; the phase already reached is retained
// across calls.
func (e *execState) step() (done bool, err error) {
	for {
		if e.cancelled() {
			return true, errCancelled
		}
		switch e.phase {
		case execPhaseRunQuery:
			switch e.handler.RunQuery(e.h, e.sql) {
			case protocol.StatusDone:
				cur, cerr := e.handler.GetResult(e.h)
				if cerr != nil {
					return true, &mysqlerr.QueryFailed{Errno: -1, Message: cerr.Error()}
				}
				e.cur = cur
				e.onColumns(cur.ColumnNames())
				e.phase = execPhaseFetch
			case protocol.StatusError:
				errno, msg := e.h.LastError()
				return true, &mysqlerr.QueryFailed{Errno: errno, Message: msg}
			default:
				return false, nil
			}
		case execPhaseFetch:
			var row protocol.Row
			status, ok := e.handler.FetchRow(e.cur, &row)
			switch {
			case status == protocol.StatusError:
				errno, msg := e.h.LastError()
				return true, &mysqlerr.QueryFailed{Errno: errno, Message: msg}
			case status == protocol.StatusPending:
				return false, nil
			case !ok:
				return true, nil
			default:
				e.onRow([]interface{}(row))
			}
		}
	}
}

// driveToCompletion repeatedly calls step, blocking the calling goroutine on
// h's readiness channel between StatusPending results, until step reports
// done or ctx/timeout fires. This is the only place in this package a
// goroutine blocks waiting for I/O directly; it backs every Operation's
// synchronous Run method for standalone/direct use. The reactor (package
// client) instead calls the very same step function itself, arming a
// watcher goroutine that only forwards h's readiness signal rather than
// blocking here.
func driveToCompletion(ctx context.Context, h protocol.Handle, timeout time.Duration, step func() (bool, error)) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		done, err := step()
		if done {
			return err
		}
		select {
		case <-h.SocketReady():
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return &mysqlerr.Timeout{Elapsed: timeout}
		}
	}
}
