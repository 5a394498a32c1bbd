package operation

import (
	"context"
	"sync"
	"time"

	"github.com/fyerfyer/mysql-async-client/conn"
	"github.com/fyerfyer/mysql-async-client/mysqlerr"
	"github.com/fyerfyer/mysql-async-client/protocol"
)

// MultiQuery runs several SQL statements back to back against one handle,
// per spec.md §3's MultiQuery operation. An empty stmts is rejected by the
// caller (package conn) before an operation is ever built.
type MultiQuery struct {
	base

	handler protocol.Handler
	proxy   conn.Proxy
	h       protocol.Handle
	stmts   []string
	timeout time.Duration

	result *conn.MultiQueryResult

	// Advance-only bookkeeping: touched exclusively by whichever single
	// goroutine drives this operation forward (the reactor, or Run's own
	// loop), never both at once.
	advanceStarted bool
	startedAt      time.Time
	stmtIndex      int
	stmtStart      time.Time
	deadline       time.Time
	cur            *execState
	columns        []string
	rows           [][]interface{}
	results        []*conn.QueryResult
}

func NewMultiQuery(handler protocol.Handler, proxy conn.Proxy, stmts []string, timeout time.Duration) *MultiQuery {
	return &MultiQuery{base: newBase(), handler: handler, proxy: proxy, h: proxy.Get().Holder().Handle, stmts: stmts, timeout: timeout}
}

// Proxy exposes the Connection this MultiQuery runs against.
func (m *MultiQuery) Proxy() conn.Proxy { return m.proxy }

func (m *MultiQuery) Run(ctx context.Context) {
	if !m.start() {
		return
	}
	start := time.Now()

	var results []*conn.QueryResult
	var failErr error
	for _, sql := range m.stmts {
		var columns []string
		var rows [][]interface{}
		stmtStart := time.Now()
		exec := newExecState(m.handler, m.h, sql, m.cancelled,
			func(cols []string) { columns = cols },
			func(row []interface{}) { rows = append(rows, row) },
		)
		err := driveToCompletion(ctx, m.h, m.timeout, exec.step)
		if err != nil {
			if qf, ok := err.(*mysqlerr.QueryFailed); ok {
				qf.QueriesExecuted = len(results)
			}
			failErr = err
			break
		}
		results = append(results, &conn.QueryResult{
			Rows:            rows,
			Columns:         columns,
			RowsAffected:    m.handler.RowsAffected(m.h),
			Elapsed:         time.Since(stmtStart),
			QueriesExecuted: 1,
		})
	}

	if failErr == nil {
		m.result = &conn.MultiQueryResult{
			Results:         results,
			Elapsed:         time.Since(start),
			QueriesExecuted: len(results),
		}
	}
	m.finish(failErr)
}

// beginStatement resets the per-statement bookkeeping and returns the
// execState driving m.stmts[m.stmtIndex], allocating it on first touch.
func (m *MultiQuery) beginStatement() *execState {
	m.stmtStart = time.Now()
	if m.timeout > 0 {
		m.deadline = m.stmtStart.Add(m.timeout)
	} else {
		m.deadline = time.Time{}
	}
	m.columns = nil
	m.rows = nil
	return newExecState(m.handler, m.h, m.stmts[m.stmtIndex], m.cancelled,
		func(cols []string) { m.columns = cols },
		func(row []interface{}) { m.rows = append(m.rows, row) },
	)
}

// Advance performs one nonblocking step, called only by the reactor
// goroutine (package client) driving this Operation. It walks m.stmts in
// order, advancing to the next statement's execState once the current one
// completes, and returns nil once every statement has run or one has failed.
func (m *MultiQuery) Advance(ctx context.Context) <-chan struct{} {
	if m.State() == StateCompleted {
		return nil
	}
	if !m.advanceStarted {
		m.advanceStarted = true
		if !m.start() {
			return nil
		}
		m.startedAt = time.Now()
		m.stmtIndex = 0
		m.cur = m.beginStatement()
	}

	if ctx.Err() != nil {
		m.finish(ctx.Err())
		return nil
	}
	if !m.deadline.IsZero() && time.Now().After(m.deadline) {
		m.finish(&mysqlerr.Timeout{Elapsed: m.timeout})
		return nil
	}

	done, err := m.cur.step()
	if !done {
		return m.h.SocketReady()
	}
	if err != nil {
		if qf, ok := err.(*mysqlerr.QueryFailed); ok {
			qf.QueriesExecuted = len(m.results)
		}
		m.finish(err)
		return nil
	}

	m.results = append(m.results, &conn.QueryResult{
		Rows:            m.rows,
		Columns:         m.columns,
		RowsAffected:    m.handler.RowsAffected(m.h),
		Elapsed:         time.Since(m.stmtStart),
		QueriesExecuted: 1,
	})

	m.stmtIndex++
	if m.stmtIndex >= len(m.stmts) {
		m.result = &conn.MultiQueryResult{
			Results:         m.results,
			Elapsed:         time.Since(m.startedAt),
			QueriesExecuted: len(m.results),
		}
		m.finish(nil)
		return nil
	}

	m.cur = m.beginStatement()
	return m.h.SocketReady()
}

func (m *MultiQuery) Result() *conn.MultiQueryResult { return m.result }

// Deadline reports when the current statement's own timeout fires, or the
// zero Time if Advance hasn't started it yet or no timeout applies.
func (m *MultiQuery) Deadline() time.Time { return m.deadline }

// --- Streaming variant ---

type streamEventKind int

const (
	eventRow streamEventKind = iota
	eventResultStart
	eventDone
	eventErr
)

type streamEvent struct {
	kind    streamEventKind
	row     []interface{}
	columns []string
	err     error
}

// Stream implements conn.StreamHandle by running the statements on a
// background goroutine and delivering rows through a bounded channel, so the
// consumer's pace backpressures the producer instead of buffering every
// row in memory (the point of StreamingMultiQuery over MultiQuery).
type Stream struct {
	events  chan streamEvent
	mu      sync.Mutex
	pending *streamEvent

	ctx    context.Context
	cancel context.CancelFunc
}

// NewStream starts driving stmts against proxy's Connection in the
// background and returns a handle the caller pulls rows from.
func NewStream(ctx context.Context, handler protocol.Handler, proxy conn.Proxy, stmts []string, timeout time.Duration) *Stream {
	runCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		events: make(chan streamEvent, 1),
		ctx:    runCtx,
		cancel: cancel,
	}
	go s.produce(runCtx, handler, proxy.Get().Holder().Handle, stmts, timeout)
	return s
}

func (s *Stream) produce(ctx context.Context, handler protocol.Handler, h protocol.Handle, stmts []string, timeout time.Duration) {
	defer close(s.events)

	cancelled := func() bool {
		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	}

	for _, sql := range stmts {
		columnsSent := false
		exec := newExecState(handler, h, sql, cancelled,
			func(cols []string) {
				columnsSent = true
				s.send(streamEvent{kind: eventResultStart, columns: cols})
			},
			func(row []interface{}) {
				s.send(streamEvent{kind: eventRow, row: row})
			},
		)
		err := driveToCompletion(ctx, h, timeout, exec.step)
		if err != nil {
			if !columnsSent {
				s.send(streamEvent{kind: eventResultStart, columns: nil})
			}
			s.send(streamEvent{kind: eventErr, err: err})
			return
		}
	}
	s.send(streamEvent{kind: eventDone})
}

func (s *Stream) send(ev streamEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Stream) next() streamEvent {
	s.mu.Lock()
	if s.pending != nil {
		ev := *s.pending
		s.pending = nil
		s.mu.Unlock()
		return ev
	}
	s.mu.Unlock()
	ev, open := <-s.events
	if !open {
		return streamEvent{kind: eventDone}
	}
	return ev
}

// NextRow implements conn.StreamHandle.
func (s *Stream) NextRow() ([]interface{}, bool, error) {
	ev := s.next()
	switch ev.kind {
	case eventRow:
		return ev.row, true, nil
	case eventErr:
		return nil, false, ev.err
	default:
		s.putBack(ev)
		return nil, false, nil
	}
}

// NextResult implements conn.StreamHandle.
func (s *Stream) NextResult() ([]string, bool, error) {
	ev := s.next()
	switch ev.kind {
	case eventResultStart:
		return ev.columns, true, nil
	case eventDone:
		return nil, false, nil
	case eventErr:
		return nil, false, ev.err
	default:
		s.putBack(ev)
		return nil, false, nil
	}
}

func (s *Stream) putBack(ev streamEvent) {
	s.mu.Lock()
	s.pending = &ev
	s.mu.Unlock()
}

// Close stops the background producer. Buffered events already sent remain
// readable via NextRow/NextResult, per spec.md §4.3's post_operation_ended
// rule.
func (s *Stream) Close() error {
	s.cancel()
	return nil
}
