// Package client implements the reactor of spec.md §4.1: the process-wide
// entry point that owns the protocol.Handler, submits and tracks every
// in-flight Operation, and enforces the two-phase shutdown drain.
package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/fyerfyer/mysql-async-client/conn"
	"github.com/fyerfyer/mysql-async-client/future"
	"github.com/fyerfyer/mysql-async-client/mysqlerr"
	"github.com/fyerfyer/mysql-async-client/operation"
)

// Status is the Client's own lifecycle state, mirroring the teacher's
// WorkPoolStatus.
type Status int

const (
	StatusRunning Status = iota
	StatusShuttingDown
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "Running"
	case StatusShuttingDown:
		return "ShuttingDown"
	case StatusStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Client is the reactor of spec.md §4.1. Every call into the configured
// protocol.Handler on behalf of a tracked Operation happens on the single
// goroutine owned by reactor (package-private type socketHandler); callers
// of Query, BeginConnection and the rest never touch the handler themselves,
// they hand their Operation to the reactor via submit and wait on its Done
// channel, the Go analogue of a client thread blocking on a Future while the
// source's single EventBase thread drives the actual I/O.
type Client struct {
	cfg clientConfig

	statusMu sync.RWMutex
	status   Status
	blockNew atomic.Bool

	pending *pendingSet
	reactor *socketHandler

	activeMu   sync.Mutex
	activeCond *sync.Cond
	active     int

	dispatch chan func()
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds a Client. WithHandler is required.
func New(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.handler == nil {
		return nil, errors.New("client: WithHandler is required")
	}

	c := &Client{
		cfg:      cfg,
		status:   StatusRunning,
		pending:  newPendingSet(),
		dispatch: make(chan func(), 256),
		stopCh:   make(chan struct{}),
	}
	c.activeCond = sync.NewCond(&c.activeMu)
	c.reactor = newSocketHandler(c.stopCh)

	go c.dispatchLoop()
	return c, nil
}

func (c *Client) dispatchLoop() {
	for {
		select {
		case f := <-c.dispatch:
			f()
		case <-c.stopCh:
			return
		}
	}
}

// RunInThread implements conn.Runner: it schedules f to run on the dispatch
// goroutine, FIFO, returning false once the Client has stopped.
func (c *Client) RunInThread(f func()) bool {
	select {
	case c.dispatch <- f:
		return true
	case <-c.stopCh:
		return false
	}
}

func (c *Client) blockedForNewWork() bool {
	return c.blockNew.Load()
}

func (c *Client) addActive() {
	c.activeMu.Lock()
	c.active++
	c.activeMu.Unlock()
}

func (c *Client) removeActive() {
	c.activeMu.Lock()
	c.active--
	if c.active <= 0 {
		c.activeCond.Broadcast()
	}
	c.activeMu.Unlock()
}

func (c *Client) track(op operation.Operation)   { c.pending.add(op) }
func (c *Client) untrack(op operation.Operation) { c.pending.remove(op) }

// PendingCount reports how many operations are currently in flight.
func (c *Client) PendingCount() int { return c.pending.len() }

// ActiveConnections reports how many Connections BeginConnection has handed
// out that have not yet been Closed.
func (c *Client) ActiveConnections() int {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	return c.active
}

// submit hands op to the reactor goroutine and blocks the calling goroutine
// on its Done channel, giving every Operation family (Connect, Query, ...)
// the same "one goroutine drives the handle, many goroutines may wait on
// the result" shape.
func (c *Client) submit(ctx context.Context, op advancer) error {
	c.track(op)
	defer c.untrack(op)

	if !c.reactor.register(ctx, op) {
		op.Cancel()
		<-op.Done()
		return op.Err()
	}

	<-op.Done()
	return op.Err()
}

// BeginConnection is a submission point of spec.md §4.1: it opens a new
// connection to key and resolves the returned Future with an owned
// Connection façade once the handshake completes.
func (c *Client) BeginConnection(ctx context.Context, key conn.Key, opts conn.Options, cbs conn.Callbacks) *future.Future[*conn.ConnectResult] {
	f := future.New[*conn.ConnectResult]()

	if c.blockedForNewWork() {
		f.SetError(mysqlerr.NewClientError("client is shutting down, new connections are refused"))
		return f
	}

	if c.cfg.limiter != nil {
		if err := c.cfg.limiter.Wait(ctx); err != nil {
			f.SetError(err)
			return f
		}
	}

	op, err := operation.NewConnect(c.cfg.handler, key, opts)
	if err != nil {
		f.SetError(err)
		return f
	}

	c.addActive()
	c.cfg.logger.Debugf("connect: begin %s", key)

	go func() {
		if err := c.submit(ctx, op); err != nil {
			c.removeActive()
			c.cfg.stats.OnConnectError(key, err)
			c.cfg.logger.Errorf("connect: %s failed: %v", key, err)
			f.SetError(err)
			return
		}

		holder := conn.NewHolder(key, op.Handle())
		cn := conn.NewConnection(key, holder, opts, cbs, c, cbs.DyingCallback)
		cn.SetOnClosed(c.removeActive)

		c.cfg.stats.OnConnectSuccess(key, op.Elapsed())
		c.cfg.logger.Debugf("connect: %s done in %s", key, op.Elapsed())
		f.Set(&conn.ConnectResult{Connection: cn, Elapsed: op.Elapsed()})
	}()

	return f
}

// --- conn.Runner ---

// refProxy wraps cn with conn.NewReferencedProxy, the ownership mode every
// query-family operation runs under since the caller (or the façade holding
// cn) retains ownership across the call, sync or async alike.
func (c *Client) refProxy(cn *conn.Connection) (conn.Proxy, error) {
	if h := cn.Holder(); h == nil || h.Stolen() {
		return nil, mysqlerr.ErrInvalidConnection
	}
	return conn.NewReferencedProxy(cn), nil
}

func (c *Client) blockedErr(what string) error {
	return mysqlerr.NewClientError("client is shutting down, new " + what + " are refused")
}

func (c *Client) Query(ctx context.Context, cn *conn.Connection, sql string) (*conn.QueryResult, error) {
	if c.blockedForNewWork() {
		return nil, c.blockedErr("queries")
	}
	p, err := c.refProxy(cn)
	if err != nil {
		return nil, err
	}
	op := operation.NewQuery(c.cfg.handler, p, sql, cn.Options().QueryTimeout)

	if err := c.submit(ctx, op); err != nil {
		c.cfg.stats.OnQueryError(cn.Key(), err)
		return nil, err
	}
	res := op.Result()
	c.cfg.stats.OnQuerySuccess(cn.Key(), res.Elapsed, res.RowsAffected)
	return res, nil
}

func (c *Client) QueryAsync(cn *conn.Connection, sql string) *future.Future[*conn.QueryResult] {
	f := future.New[*conn.QueryResult]()
	if c.blockedForNewWork() {
		f.SetError(c.blockedErr("queries"))
		return f
	}
	p, err := c.refProxy(cn)
	if err != nil {
		f.SetError(err)
		return f
	}
	op := operation.NewQuery(c.cfg.handler, p, sql, cn.Options().QueryTimeout)
	go func() {
		if err := c.submit(context.Background(), op); err != nil {
			c.cfg.stats.OnQueryError(cn.Key(), err)
			f.SetError(err)
			return
		}
		res := op.Result()
		c.cfg.stats.OnQuerySuccess(cn.Key(), res.Elapsed, res.RowsAffected)
		f.Set(res)
	}()
	return f
}

func (c *Client) MultiQuery(ctx context.Context, cn *conn.Connection, stmts []string) (*conn.MultiQueryResult, error) {
	if c.blockedForNewWork() {
		return nil, c.blockedErr("queries")
	}
	p, err := c.refProxy(cn)
	if err != nil {
		return nil, err
	}
	op := operation.NewMultiQuery(c.cfg.handler, p, stmts, cn.Options().QueryTimeout)

	if err := c.submit(ctx, op); err != nil {
		c.cfg.stats.OnQueryError(cn.Key(), err)
		return nil, err
	}
	return op.Result(), nil
}

func (c *Client) MultiQueryAsync(cn *conn.Connection, stmts []string) *future.Future[*conn.MultiQueryResult] {
	f := future.New[*conn.MultiQueryResult]()
	if c.blockedForNewWork() {
		f.SetError(c.blockedErr("queries"))
		return f
	}
	p, err := c.refProxy(cn)
	if err != nil {
		f.SetError(err)
		return f
	}
	op := operation.NewMultiQuery(c.cfg.handler, p, stmts, cn.Options().QueryTimeout)
	go func() {
		if err := c.submit(context.Background(), op); err != nil {
			c.cfg.stats.OnQueryError(cn.Key(), err)
			f.SetError(err)
			return
		}
		f.Set(op.Result())
	}()
	return f
}

// StreamMultiQuery drives its statements on their own background goroutine
// rather than through the reactor, so a slow consumer pulling rows one at a
// time never stalls unrelated Operations. It still respects the shutdown
// gate every other entry point does.
func (c *Client) StreamMultiQuery(cn *conn.Connection, stmts []string) (conn.StreamHandle, error) {
	if c.blockedForNewWork() {
		return nil, c.blockedErr("queries")
	}
	p, err := c.refProxy(cn)
	if err != nil {
		return nil, err
	}
	return operation.NewStream(context.Background(), c.cfg.handler, p, stmts, cn.Options().QueryTimeout), nil
}

func (c *Client) Reset(ctx context.Context, cn *conn.Connection) error {
	if c.blockedForNewWork() {
		return c.blockedErr("resets")
	}
	p, err := c.refProxy(cn)
	if err != nil {
		return err
	}
	op := operation.NewReset(c.cfg.handler, p, cn.Options().QueryTimeout)
	return c.submit(ctx, op)
}

func (c *Client) ChangeUser(ctx context.Context, cn *conn.Connection, user, password, database string) error {
	if c.blockedForNewWork() {
		return c.blockedErr("change-user requests")
	}
	p, err := c.refProxy(cn)
	if err != nil {
		return err
	}
	op := operation.NewChangeUser(c.cfg.handler, p, user, password, database, cn.Options().ChangeUserTimeout())
	return c.submit(ctx, op)
}

// ResetBlocking implements conn.Runner's dying-connection close path: it
// wraps h in a throwaway Connection nobody else references and drives the
// Reset through conn.NewOwnedProxy, matching squangle's Owned-connection reset. Per
// spec.md §4.4's race-avoidance rule, this reset is scheduled through the
// same reactor submission path every other operation uses rather than run
// directly on the caller's goroutine, so it can never race a concurrent
// Operation already driving h.
func (c *Client) ResetBlocking(h *conn.Holder) error {
	tmp := conn.NewConnection(h.Key, h, conn.Options{}, conn.Callbacks{}, c, nil)
	op := operation.NewReset(c.cfg.handler, conn.NewOwnedProxy(tmp), 0)
	return c.submit(context.Background(), op)
}

// drain implements one phase of spec.md §4.1's two-phase drain: cancel
// every Unstarted Operation currently tracked, then wait for the pending
// set to empty out (every tracked Operation reaches Done, cancelled or
// not) or for ctx to expire.
func (c *Client) drain(ctx context.Context) error {
	for _, op := range c.pending.snapshot() {
		if op.State() == operation.StateUnstarted {
			op.Cancel()
		}
	}
	return c.pending.waitEmpty(ctx)
}

// Shutdown implements spec.md §4.1's two-phase drain: block_new=false first
// cancels only the Operations that never got a chance to start, then
// block_new=true flips the gate every entry point checks and repeats the
// same cancel-and-wait so nothing arriving in between the two phases is
// missed, before finally waiting for every already-open Connection to
// close (or ctx to expire) and stopping the dispatch loop.
func (c *Client) Shutdown(ctx context.Context) error {
	c.statusMu.Lock()
	if c.status != StatusRunning {
		c.statusMu.Unlock()
		return nil
	}
	c.status = StatusShuttingDown
	c.statusMu.Unlock()

	c.cfg.logger.Infof("client shutting down, waiting for %d active connections", c.ActiveConnections())

	if err := c.drain(ctx); err != nil {
		c.cfg.logger.Errorf("client shutdown deadline exceeded during first drain phase: %v", err)
		return err
	}

	c.blockNew.Store(true)

	if err := c.drain(ctx); err != nil {
		c.cfg.logger.Errorf("client shutdown deadline exceeded during second drain phase: %v", err)
		return err
	}

	drained := make(chan struct{})
	go func() {
		c.activeMu.Lock()
		for c.active > 0 {
			c.activeCond.Wait()
		}
		c.activeMu.Unlock()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		c.cfg.logger.Errorf("client shutdown deadline exceeded with %d connections still active", c.ActiveConnections())
		return ctx.Err()
	}

	c.statusMu.Lock()
	c.status = StatusStopped
	c.statusMu.Unlock()

	c.stopOnce.Do(func() { close(c.stopCh) })
	c.cfg.logger.Infof("client shutdown complete")
	return nil
}

// Status reports the Client's current lifecycle state.
func (c *Client) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

var (
	defaultOnce   sync.Once
	defaultClient *Client
	defaultErr    error
)

// Default lazily builds the process-wide singleton Client, per spec.md
// §4.1's process-wide default client. Only the first caller's options take
// effect; later calls return the already-built instance.
func Default(opts ...Option) (*Client, error) {
	defaultOnce.Do(func() {
		defaultClient, defaultErr = New(opts...)
	})
	return defaultClient, defaultErr
}
