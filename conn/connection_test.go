package conn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fyerfyer/mysql-async-client/future"
	"github.com/fyerfyer/mysql-async-client/mysqlerr"
	"github.com/fyerfyer/mysql-async-client/protocol/faketest"
)

// fakeRunner is a conn.Runner double that records calls and lets tests
// control timing via release channels, playing the role *client.Client
// plays in production without pulling in the reactor machinery.
type fakeRunner struct {
	mu sync.Mutex

	queryErr  error
	queryRes  *QueryResult
	release   chan struct{}
	resetErr  error
	resetBErr error

	resetCalls int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{release: make(chan struct{})}
}

func (r *fakeRunner) RunInThread(f func()) bool { f(); return true }

func (r *fakeRunner) Query(ctx context.Context, c *Connection, sql string) (*QueryResult, error) {
	<-r.release
	return r.queryRes, r.queryErr
}

func (r *fakeRunner) QueryAsync(c *Connection, sql string) *future.Future[*QueryResult] {
	f := future.New[*QueryResult]()
	go func() {
		<-r.release
		if r.queryErr != nil {
			f.SetError(r.queryErr)
			return
		}
		f.Set(r.queryRes)
	}()
	return f
}

func (r *fakeRunner) MultiQuery(ctx context.Context, c *Connection, stmts []string) (*MultiQueryResult, error) {
	return nil, r.queryErr
}

func (r *fakeRunner) MultiQueryAsync(c *Connection, stmts []string) *future.Future[*MultiQueryResult] {
	f := future.New[*MultiQueryResult]()
	if r.queryErr != nil {
		f.SetError(r.queryErr)
	} else {
		f.Set(&MultiQueryResult{})
	}
	return f
}

func (r *fakeRunner) StreamMultiQuery(c *Connection, stmts []string) (StreamHandle, error) {
	return nil, r.queryErr
}

func (r *fakeRunner) Reset(ctx context.Context, c *Connection) error { return r.resetErr }

func (r *fakeRunner) ChangeUser(ctx context.Context, c *Connection, user, password, database string) error {
	return r.queryErr
}

func (r *fakeRunner) ResetBlocking(h *Holder) error {
	r.mu.Lock()
	r.resetCalls++
	r.mu.Unlock()
	return r.resetBErr
}

func newTestHolder(t *testing.T) *Holder {
	t.Helper()
	handler := faketest.NewHandler(faketest.Script{})
	h, err := handler.NewHandle()
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	return NewHolder(Key{Host: "localhost", Port: 3306}, h)
}

func TestConnectionQuerySuccess(t *testing.T) {
	r := newFakeRunner()
	r.queryRes = &QueryResult{Rows: [][]interface{}{{1}}}
	close(r.release)

	cn := NewConnection(Key{}, newTestHolder(t), DefaultOptions(), Callbacks{}, r, nil)

	res, err := cn.Query(context.Background(), "SELECT 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
}

func TestConnectionQuerySingleFlight(t *testing.T) {
	r := newFakeRunner()
	cn := NewConnection(Key{}, newTestHolder(t), DefaultOptions(), Callbacks{}, r, nil)

	done := make(chan struct{})
	go func() {
		_, _ = cn.Query(context.Background(), "SELECT SLEEP(1)")
		close(done)
	}()

	// Give the first Query a chance to claim the in-progress slot before
	// the second one is attempted.
	time.Sleep(10 * time.Millisecond)

	_, err := cn.Query(context.Background(), "SELECT 2")
	if !errors.Is(err, mysqlerr.ErrOperationInProgress) {
		t.Fatalf("expected ErrOperationInProgress, got %v", err)
	}

	close(r.release)
	<-done
}

func TestConnectionMultiQueryRejectsEmptyStatements(t *testing.T) {
	r := newFakeRunner()
	cn := NewConnection(Key{}, newTestHolder(t), DefaultOptions(), Callbacks{}, r, nil)

	_, err := cn.MultiQuery(context.Background(), nil)
	if !errors.Is(err, mysqlerr.ErrClientError) {
		t.Fatalf("expected ErrClientError, got %v", err)
	}
}

func TestConnectionMultiQueryAsyncRejectsEmptyStatements(t *testing.T) {
	r := newFakeRunner()
	cn := NewConnection(Key{}, newTestHolder(t), DefaultOptions(), Callbacks{}, r, nil)

	f := cn.MultiQueryAsync(nil)
	_, err := f.Get()
	if !errors.Is(err, mysqlerr.ErrClientError) {
		t.Fatalf("expected ErrClientError, got %v", err)
	}
}

func TestConnectionCloseOnAlreadyClosedHolderlessConnection(t *testing.T) {
	r := newFakeRunner()
	cn := NewConnection(Key{}, newTestHolder(t), DefaultOptions(), Callbacks{}, r, nil)

	if err := cn.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cn.IsAlive() {
		t.Fatal("expected IsAlive to be false after Close")
	}
	// A second Close must be a harmless no-op.
	if err := cn.Close(); err != nil {
		t.Fatalf("unexpected error on second Close: %v", err)
	}
}

func TestConnectionCloseWithoutResetPolicyClosesHandleDirectly(t *testing.T) {
	r := newFakeRunner()
	holder := newTestHolder(t)
	opts := DefaultOptions()
	opts.EnableResetConnBeforeClose = false
	cn := NewConnection(Key{}, holder, opts, Callbacks{}, r, nil)

	if err := cn.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.resetCalls != 0 {
		t.Fatalf("expected no ResetBlocking calls, got %d", r.resetCalls)
	}
}

func TestConnectionCloseResetBeforeCloseBlocking(t *testing.T) {
	r := newFakeRunner()
	holder := newTestHolder(t)
	opts := DefaultOptions()
	opts.EnableResetConnBeforeClose = true
	opts.EnableDelayedResetConn = false
	cn := NewConnection(Key{}, holder, opts, Callbacks{}, r, nil)

	if err := cn.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.resetCalls != 1 {
		t.Fatalf("expected exactly 1 ResetBlocking call, got %d", r.resetCalls)
	}
}

func TestConnectionCloseResetBeforeCloseDelayedMarksHolder(t *testing.T) {
	r := newFakeRunner()
	holder := newTestHolder(t)
	opts := DefaultOptions()
	opts.EnableResetConnBeforeClose = true
	opts.EnableDelayedResetConn = true
	cn := NewConnection(Key{}, holder, opts, Callbacks{}, r, nil)

	if err := cn.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.resetCalls != 0 {
		t.Fatalf("expected no blocking ResetBlocking call, got %d", r.resetCalls)
	}
	if !holder.ConsumeNeedsReset() {
		t.Fatal("expected the holder to be marked needing a reset")
	}
}

func TestConnectionCloseHonorsDyingCallback(t *testing.T) {
	r := newFakeRunner()
	holder := newTestHolder(t)
	opts := DefaultOptions()
	opts.EnableResetConnBeforeClose = true

	var gotHolder *Holder
	cbs := Callbacks{DyingCallback: func(h *Holder) { gotHolder = h }}
	cn := NewConnection(Key{}, holder, opts, cbs, r, cbs.DyingCallback)

	if err := cn.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotHolder != holder {
		t.Fatal("expected the dying callback to receive this Connection's holder")
	}
	if r.resetCalls != 0 {
		t.Fatalf("a dying callback should bypass the reset-before-close policy entirely, got %d calls", r.resetCalls)
	}
}

func TestConnectionCloseInvokesOnClosedHookRegardlessOfBranch(t *testing.T) {
	r := newFakeRunner()
	holder := newTestHolder(t)
	cn := NewConnection(Key{}, holder, DefaultOptions(), Callbacks{}, r, nil)

	var hookCalled bool
	cn.SetOnClosed(func() { hookCalled = true })

	if err := cn.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hookCalled {
		t.Fatal("expected the onClosed hook to run")
	}
}

func TestConnectionNotReusableHolderClosesDirectlyEvenWithResetPolicy(t *testing.T) {
	r := newFakeRunner()
	holder := newTestHolder(t)
	holder.SetReusable(false)
	opts := DefaultOptions()
	opts.EnableResetConnBeforeClose = true
	cn := NewConnection(Key{}, holder, opts, Callbacks{}, r, nil)

	if err := cn.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.resetCalls != 0 {
		t.Fatalf("expected no ResetBlocking call for a non-reusable holder, got %d", r.resetCalls)
	}
}
