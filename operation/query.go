package operation

import (
	"context"
	"time"

	"github.com/fyerfyer/mysql-async-client/conn"
	"github.com/fyerfyer/mysql-async-client/mysqlerr"
	"github.com/fyerfyer/mysql-async-client/protocol"
)

// Query runs a single SQL statement against an already-open handle, per
// spec.md §3's Query operation.
type Query struct {
	base

	handler protocol.Handler
	proxy   conn.Proxy
	h       protocol.Handle
	sql     string
	timeout time.Duration

	result *conn.QueryResult

	// Advance-only bookkeeping: touched exclusively by whichever single
	// goroutine drives this operation forward (the reactor, or Run's own
	// loop), never both at once.
	advanceStarted bool
	startedAt      time.Time
	deadline       time.Time
	exec           *execState
	columns        []string
	rows           [][]interface{}
}

// NewQuery builds a Query against proxy's Connection. Queries always run
// against a Connection the caller retains ownership of, so proxy comes from
// conn.NewReferencedProxy in every real call site — see DESIGN.md's Open
// Question on why the Go rewrite collapses squangle's Owned/Referenced
// split for the query family to Referenced-only.
func NewQuery(handler protocol.Handler, proxy conn.Proxy, sql string, timeout time.Duration) *Query {
	return &Query{base: newBase(), handler: handler, proxy: proxy, h: proxy.Get().Holder().Handle, sql: sql, timeout: timeout}
}

// Proxy exposes the Connection this Query runs against.
func (q *Query) Proxy() conn.Proxy { return q.proxy }

func (q *Query) buildResult(elapsed time.Duration) {
	q.result = &conn.QueryResult{
		Rows:            q.rows,
		Columns:         q.columns,
		RowsAffected:    q.handler.RowsAffected(q.h),
		Elapsed:         elapsed,
		QueriesExecuted: 1,
	}
}

// Run drives the query to completion, blocking the calling goroutine.
// Used directly by callers that don't go through the reactor's
// Advance-driven path (e.g. tests exercising this operation in isolation).
func (q *Query) Run(ctx context.Context) {
	if !q.start() {
		return
	}
	start := time.Now()

	var columns []string
	var rows [][]interface{}
	exec := newExecState(q.handler, q.h, q.sql, q.cancelled,
		func(cols []string) { columns = cols },
		func(row []interface{}) { rows = append(rows, row) },
	)
	err := driveToCompletion(ctx, q.h, q.timeout, exec.step)
	elapsed := time.Since(start)

	if err == nil {
		q.columns, q.rows = columns, rows
		q.buildResult(elapsed)
	}
	q.finish(err)
}

// Advance performs one nonblocking step, called only by the reactor
// goroutine (package client) driving this Operation. It returns the
// channel the reactor must wait on before calling Advance again, or nil
// once the Operation has reached StateCompleted.
func (q *Query) Advance(ctx context.Context) <-chan struct{} {
	if q.State() == StateCompleted {
		return nil
	}
	if !q.advanceStarted {
		q.advanceStarted = true
		if !q.start() {
			return nil
		}
		q.startedAt = time.Now()
		if q.timeout > 0 {
			q.deadline = q.startedAt.Add(q.timeout)
		}
		q.exec = newExecState(q.handler, q.h, q.sql, q.cancelled,
			func(cols []string) { q.columns = cols },
			func(row []interface{}) { q.rows = append(q.rows, row) },
		)
	}

	if ctx.Err() != nil {
		q.finish(ctx.Err())
		return nil
	}
	if !q.deadline.IsZero() && time.Now().After(q.deadline) {
		q.finish(&mysqlerr.Timeout{Elapsed: q.timeout})
		return nil
	}

	done, err := q.exec.step()
	if !done {
		return q.h.SocketReady()
	}
	if err == nil {
		q.buildResult(time.Since(q.startedAt))
	}
	q.finish(err)
	return nil
}

// Result returns the completed query's result, valid once Done is closed
// and Err is nil.
func (q *Query) Result() *conn.QueryResult { return q.result }

// Deadline reports when this Query's own timeout fires, or the zero Time if
// Advance hasn't started it yet or no timeout applies.
func (q *Query) Deadline() time.Time { return q.deadline }
