// Package faketest is an in-memory, deterministic double for protocol.Handler,
// used by the operation and client package tests so the state machine and
// reactor logic can be exercised without a real MySQL server. It plays the
// same role pool_test.go's fake ConnectionFactory plays for the teacher's
// pool package.
package faketest

import (
	"context"
	"sync"
	"time"

	"github.com/fyerfyer/mysql-async-client/protocol"
)

// Script configures how a fake operation behaves: how many StatusPending
// polls a step returns before resolving, and whether it resolves to success
// or a scripted error.
type Script struct {
	// PendingPolls is how many times a step returns StatusPending before
	// StatusDone/StatusError.
	PendingPolls int

	// FailConnect, FailQuery: if non-nil, the corresponding step ultimately
	// fails with this errno/message instead of succeeding.
	FailConnect *ScriptedError
	FailQuery   *ScriptedError

	// Rows is returned for RunQuery/GetResult/FetchRow.
	Rows [][]interface{}

	// Columns names the result set's columns.
	Columns []string

	// Delay, if positive, is a real wall-clock delay before each pending
	// poll resolves, used to exercise timeouts and cancellation windows.
	Delay time.Duration
}

// ScriptedError is a canned protocol-level failure.
type ScriptedError struct {
	Errno   int
	Message string
}

// Handler is a protocol.Handler backed by an in-process Script.
type Handler struct {
	mu      sync.Mutex
	script  Script
	handles map[*Handle]struct{}
}

// NewHandler builds a fake Handler that plays back script for every
// operation it drives.
func NewHandler(script Script) *Handler {
	if script.Columns == nil {
		script.Columns = []string{"col"}
	}
	return &Handler{script: script, handles: make(map[*Handle]struct{})}
}

// Handle is the fake protocol.Handle.
type Handle struct {
	mu           sync.Mutex
	ready        chan struct{}
	connectPolls int
	queryPolls   int
	fetchIndex   int
	closed       bool
	lastErrno    int
	lastMessage  string
	rowsAffected int64
	serverStatus uint16
}

func newHandle() *Handle {
	return &Handle{ready: make(chan struct{}, 1)}
}

func (h *Handle) SocketReady() <-chan struct{} { return h.ready }

func (h *Handle) LastError() (int, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErrno, h.lastMessage
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *Handle) wake(after time.Duration) {
	if after <= 0 {
		select {
		case h.ready <- struct{}{}:
		default:
		}
		return
	}
	time.AfterFunc(after, func() {
		select {
		case h.ready <- struct{}{}:
		default:
		}
	})
}

func (f *Handler) NewHandle() (protocol.Handle, error) {
	h := newHandle()
	f.mu.Lock()
	f.handles[h] = struct{}{}
	f.mu.Unlock()
	return h, nil
}

func (f *Handler) TryConnect(_ context.Context, handle protocol.Handle, host string, port int, user, password, database string, flags protocol.ConnectFlags) protocol.Status {
	h := handle.(*Handle)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connectPolls < f.script.PendingPolls {
		h.connectPolls++
		h.wake(f.script.Delay)
		return protocol.StatusPending
	}
	if f.script.FailConnect != nil {
		h.lastErrno = f.script.FailConnect.Errno
		h.lastMessage = f.script.FailConnect.Message
		return protocol.StatusError
	}
	return protocol.StatusDone
}

func (f *Handler) RunQuery(handle protocol.Handle, sql string) protocol.Status {
	h := handle.(*Handle)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.queryPolls < f.script.PendingPolls {
		h.queryPolls++
		h.wake(f.script.Delay)
		return protocol.StatusPending
	}
	if f.script.FailQuery != nil {
		h.lastErrno = f.script.FailQuery.Errno
		h.lastMessage = f.script.FailQuery.Message
		return protocol.StatusError
	}
	h.rowsAffected = int64(len(f.script.Rows))
	h.serverStatus = 0x0002 // SERVER_STATUS_AUTOCOMMIT
	h.fetchIndex = 0
	return protocol.StatusDone
}

func (f *Handler) Reset(handle protocol.Handle) protocol.Status {
	h := handle.(*Handle)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queryPolls = 0
	return protocol.StatusDone
}

func (f *Handler) ChangeUser(handle protocol.Handle, user, password, database string) protocol.Status {
	return protocol.StatusDone
}

func (f *Handler) NextResult(handle protocol.Handle) protocol.Status {
	// This fake only ever produces a single result set.
	return protocol.StatusDone
}

func (f *Handler) GetResult(handle protocol.Handle) (protocol.ResultCursor, error) {
	return &cursor{columns: f.script.Columns, rows: f.script.Rows}, nil
}

func (f *Handler) FetchRow(rc protocol.ResultCursor, row *protocol.Row) (protocol.Status, bool) {
	c := rc.(*cursor)
	if c.index >= len(c.rows) {
		return protocol.StatusDone, false
	}
	*row = protocol.Row(c.rows[c.index])
	c.index++
	return protocol.StatusDone, true
}

func (f *Handler) RowsAffected(handle protocol.Handle) int64 {
	h := handle.(*Handle)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rowsAffected
}

func (f *Handler) ServerStatus(handle protocol.Handle) uint16 {
	h := handle.(*Handle)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.serverStatus
}

type cursor struct {
	columns []string
	rows    [][]interface{}
	index   int
}

func (c *cursor) ColumnNames() []string { return c.columns }

// Trigger manually fires readiness on handle, useful for cancel-in-flight
// tests that need to control timing precisely instead of relying on Delay.
func Trigger(handle protocol.Handle) {
	if h, ok := handle.(*Handle); ok {
		h.wake(0)
	}
}
