package conn

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/fyerfyer/mysql-async-client/future"
	"github.com/fyerfyer/mysql-async-client/mysqlerr"
)

// Connection is the user-facing façade of spec.md §4.5: it owns exactly one
// Holder, enforces the "at most one operation in flight" invariant, and
// exposes both blocking and Future-returning query methods.
type Connection struct {
	mu     sync.Mutex
	key    Key
	opts   Options
	cbs    Callbacks
	holder   *Holder
	runner   Runner
	dying    DyingCallback
	onClosed func()

	inProgress atomic.Bool
	closed     atomic.Bool
}

// NewConnection wraps an already-connected Holder into a façade. runner is
// normally the process's *client.Client; dying may be nil.
func NewConnection(key Key, holder *Holder, opts Options, cbs Callbacks, runner Runner, dying DyingCallback) *Connection {
	return &Connection{key: key, opts: opts, cbs: cbs, holder: holder, runner: runner, dying: dying}
}

func (c *Connection) Key() Key             { return c.key }
func (c *Connection) Options() Options     { return c.opts }
func (c *Connection) Callbacks() Callbacks { return c.cbs }

// SetOnClosed registers a hook the client package uses to decrement its
// active-connection count once this Connection is closed, regardless of
// which branch of Close's dying-connection policy runs. Not for use outside
// package client.
func (c *Connection) SetOnClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

// Holder returns the underlying Holder, for use by package operation and by
// the client package only; ordinary callers should not reach through it.
func (c *Connection) Holder() *Holder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holder
}

// IsAlive reports whether this Connection still owns a usable handle.
func (c *Connection) IsAlive() bool {
	h := c.Holder()
	return h != nil && !h.Stolen() && !c.closed.Load()
}

// beginOperation enforces spec.md §4.5's single-flight invariant, returning
// mysqlerr.OperationInProgress if another operation already holds the slot.
func (c *Connection) beginOperation() error {
	if c.closed.Load() {
		return mysqlerr.ErrInvalidConnection
	}
	if !c.inProgress.CompareAndSwap(false, true) {
		return mysqlerr.ErrOperationInProgress
	}
	return nil
}

func (c *Connection) endOperation() {
	c.inProgress.Store(false)
}

// Query runs sql and blocks for the result.
func (c *Connection) Query(ctx context.Context, sql string) (*QueryResult, error) {
	if err := c.beginOperation(); err != nil {
		return nil, err
	}
	defer c.endOperation()
	return c.runner.Query(ctx, c, sql)
}

// QueryAsync runs sql without blocking the caller.
func (c *Connection) QueryAsync(sql string) *future.Future[*QueryResult] {
	if err := c.beginOperation(); err != nil {
		f := future.New[*QueryResult]()
		f.SetError(err)
		return f
	}
	f := c.runner.QueryAsync(c, sql)
	go func() {
		_, _ = f.Get()
		c.endOperation()
	}()
	return f
}

// MultiQuery runs stmts back to back and blocks for all results. An empty
// stmts fails immediately with mysqlerr.ClientError, per spec.md §4.3.
func (c *Connection) MultiQuery(ctx context.Context, stmts []string) (*MultiQueryResult, error) {
	if len(stmts) == 0 {
		return nil, mysqlerr.NewClientError("multi_query requires at least one statement")
	}
	if err := c.beginOperation(); err != nil {
		return nil, err
	}
	defer c.endOperation()
	return c.runner.MultiQuery(ctx, c, stmts)
}

func (c *Connection) MultiQueryAsync(stmts []string) *future.Future[*MultiQueryResult] {
	f := future.New[*MultiQueryResult]()
	if len(stmts) == 0 {
		f.SetError(mysqlerr.NewClientError("multi_query requires at least one statement"))
		return f
	}
	if err := c.beginOperation(); err != nil {
		f.SetError(err)
		return f
	}
	inner := c.runner.MultiQueryAsync(c, stmts)
	go func() {
		res, err := inner.Get()
		c.endOperation()
		if err != nil {
			f.SetError(err)
			return
		}
		f.Set(res)
	}()
	return f
}

// StreamMultiQuery runs stmts, delivering rows incrementally through the
// returned StreamHandle instead of buffering every result in memory.
func (c *Connection) StreamMultiQuery(stmts []string) (StreamHandle, error) {
	if len(stmts) == 0 {
		return nil, mysqlerr.NewClientError("multi_query requires at least one statement")
	}
	if err := c.beginOperation(); err != nil {
		return nil, err
	}
	h, err := c.runner.StreamMultiQuery(c, stmts)
	if err != nil {
		c.endOperation()
		return nil, err
	}
	return &endOnCloseStream{StreamHandle: h, end: c.endOperation}, nil
}

// Reset restores session state (character set, autocommit, user variables)
// without reconnecting.
func (c *Connection) Reset(ctx context.Context) error {
	if err := c.beginOperation(); err != nil {
		return err
	}
	defer c.endOperation()
	return c.runner.Reset(ctx, c)
}

// ChangeUser re-authenticates the existing socket as a different user.
func (c *Connection) ChangeUser(ctx context.Context, user, password, database string) error {
	if err := c.beginOperation(); err != nil {
		return err
	}
	defer c.endOperation()
	return c.runner.ChangeUser(ctx, c, user, password, database)
}

// BeginTransaction, CommitTransaction and RollbackTransaction are plain
// Query calls, per spec.md §4.5 — MySQL has no dedicated wire command for
// any of the three.
func (c *Connection) BeginTransaction(ctx context.Context) (*QueryResult, error) {
	return c.Query(ctx, "BEGIN")
}

func (c *Connection) CommitTransaction(ctx context.Context) (*QueryResult, error) {
	return c.Query(ctx, "COMMIT")
}

func (c *Connection) RollbackTransaction(ctx context.Context) (*QueryResult, error) {
	return c.Query(ctx, "ROLLBACK")
}

// Close implements spec.md §4.4's dying-Connection reset policy. Go has no
// deterministic destructor, so callers must call Close explicitly (typically
// via defer) when they are done with a Connection.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	h := c.holder
	c.holder = nil
	hook := c.onClosed
	c.mu.Unlock()
	if hook != nil {
		defer hook()
	}
	if h == nil {
		return nil
	}

	if c.dying != nil {
		c.dying(h)
		return nil
	}

	if !c.opts.EnableResetConnBeforeClose || !h.IsReusable() {
		return h.Close()
	}

	if c.opts.EnableDelayedResetConn {
		h.MarkNeedsReset()
		return nil
	}

	return c.runner.ResetBlocking(h)
}

// endOnCloseStream clears the owning Connection's in-progress flag once the
// stream is closed, since StreamMultiQuery keeps the slot held for the
// stream's lifetime rather than just for the initial call.
type endOnCloseStream struct {
	StreamHandle
	end  func()
	once sync.Once
}

func (s *endOnCloseStream) Close() error {
	err := s.StreamHandle.Close()
	s.once.Do(s.end)
	return err
}
