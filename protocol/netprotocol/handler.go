// Package netprotocol is a reference protocol.Handler implementation built
// on Go's standard database/sql plumbing and github.com/go-sql-driver/mysql,
// used by the end-to-end tests in this repo. go-sql-driver/mysql's own
// exported surface is synchronous (every call blocks until the server
// responds), so the Handler methods that wait on the server (TryConnect,
// RunQuery, Reset, ChangeUser, FetchRow) run the underlying driver call on
// their own goroutine and report completion through the Handle's readiness
// channel, while NextResult and GetResult run inline, bridging a blocking driver into the nonblocking step contract
// package operation is written against — the same pattern protocol/faketest
// uses to simulate pending polls, just backed by a real connection instead
// of a script.
//
// One Handle pins a single *sql.Conn for its entire lifetime (acquired once,
// at connect time) rather than drawing from database/sql's own pool, because
// Reset and ChangeUser must act on the exact physical connection a
// Connection's prior queries ran against.
package netprotocol

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/fyerfyer/mysql-async-client/protocol"
)

// Handler is stateless; all per-connection state lives on the Handle it
// allocates.
type Handler struct{}

// NewHandler builds a netprotocol Handler.
func NewHandler() *Handler { return &Handler{} }

// asyncOp bridges one blocking driver call into the StatusPending polling
// contract: the first poll starts fn on a new goroutine and reports
// StatusPending; every poll after that reports StatusPending too until fn
// returns, then the result exactly once before the op is reused for the
// next call.
type asyncOp struct {
	mu      sync.Mutex
	started bool
	done    bool
	err     error
}

func (h *Handle) runAsync(op *asyncOp, fn func() error) protocol.Status {
	op.mu.Lock()
	if op.done {
		err := op.err
		op.started, op.done, op.err = false, false, nil
		op.mu.Unlock()
		if err != nil {
			h.setErr(err)
			return protocol.StatusError
		}
		return protocol.StatusDone
	}
	if op.started {
		op.mu.Unlock()
		return protocol.StatusPending
	}
	op.started = true
	op.mu.Unlock()

	go func() {
		err := fn()
		op.mu.Lock()
		op.done = true
		op.err = err
		op.mu.Unlock()
		h.wake()
	}()
	return protocol.StatusPending
}

// Handle wraps one reserved *sql.Conn plus the async bookkeeping for each
// Handler method that can be in flight against it.
type Handle struct {
	ready chan struct{}

	mu     sync.Mutex
	cfg    *mysqldriver.Config
	db     *sql.DB
	conn   *sql.Conn
	closed bool

	rows         *sql.Rows
	columns      []string
	rowsAffected int64
	serverStatus uint16

	lastErrno   int
	lastMessage string

	connectOp    asyncOp
	queryOp      asyncOp
	resetOp      asyncOp
	changeUserOp asyncOp
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
	if h.closed {
		return nil
	}
	h.closed = true

	if h.rows != nil {
		h.rows.Close()
	}
	var err error
	if h.conn != nil {
		err = h.conn.Close()
	}
	if h.db != nil {
		if cerr := h.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (h *Handle) wake() {
	select {
	case h.ready <- struct{}{}:
	default:
	}
}

func (h *Handle) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if merr, ok := err.(*mysqldriver.MySQLError); ok {
		h.lastErrno = int(merr.Number)
		h.lastMessage = merr.Message
		return
	}
	h.lastErrno = -1
	h.lastMessage = err.Error()
}

func (h *Handler) NewHandle() (protocol.Handle, error) {
	return &Handle{ready: make(chan struct{}, 1)}, nil
}

// TryConnect dials host:port, reserves one physical connection off the
// resulting pool, and pings it once to surface auth/handshake failures
// before reporting success.
func (h *Handler) TryConnect(ctx context.Context, handle protocol.Handle, host string, port int, user, password, database string, flags protocol.ConnectFlags) protocol.Status {
	hd := handle.(*Handle)
	return hd.runAsync(&hd.connectOp, func() error {
		cfg := mysqldriver.NewConfig()
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%d", host, port)
		cfg.User = user
		cfg.Passwd = password
		cfg.DBName = database
		cfg.ParseTime = true
		cfg.MultiStatements = true
		if len(flags.Attributes) > 0 {
			cfg.Params = flags.Attributes
		}

		connector, err := mysqldriver.NewConnector(cfg)
		if err != nil {
			return err
		}
		db := sql.OpenDB(connector)

		conn, err := db.Conn(ctx)
		if err != nil {
			db.Close()
			return err
		}
		if err := conn.PingContext(ctx); err != nil {
			conn.Close()
			db.Close()
			return err
		}

		hd.mu.Lock()
		hd.db, hd.conn, hd.cfg = db, conn, cfg
		hd.mu.Unlock()
		return nil
	})
}

// looksLikeQuery guesses whether sql produces a result set, since
// database/sql's Query and Exec paths report different metadata
// (RowsAffected only comes back from Exec, columns only from Query) and the
// Handler interface gives no other hint about which one a caller wants.
func looksLikeQuery(sql string) bool {
	s := strings.ToUpper(strings.TrimSpace(sql))
	for _, kw := range []string{"SELECT", "SHOW", "DESCRIBE", "DESC ", "EXPLAIN", "WITH"} {
		if strings.HasPrefix(s, kw) {
			return true
		}
	}
	return false
}

func (h *Handler) RunQuery(handle protocol.Handle, sql string) protocol.Status {
	hd := handle.(*Handle)
	return hd.runAsync(&hd.queryOp, func() error {
		hd.mu.Lock()
		conn := hd.conn
		hd.mu.Unlock()

		if !looksLikeQuery(sql) {
			res, err := conn.ExecContext(context.Background(), sql)
			if err != nil {
				return err
			}
			affected, _ := res.RowsAffected()
			hd.mu.Lock()
			hd.rows, hd.columns, hd.rowsAffected = nil, nil, affected
			hd.mu.Unlock()
			return nil
		}

		rows, err := conn.QueryContext(context.Background(), sql)
		if err != nil {
			return err
		}
		cols, err := rows.Columns()
		if err != nil {
			rows.Close()
			return err
		}
		hd.mu.Lock()
		hd.rows, hd.columns, hd.rowsAffected = rows, cols, 0
		hd.mu.Unlock()
		return nil
	})
}

// Reset has no public COM_RESET_CONNECTION hook in go-sql-driver/mysql's
// exported API, so this issues a harmless round trip on the reserved
// connection as a stand-in liveness/session check.
func (h *Handler) Reset(handle protocol.Handle) protocol.Status {
	hd := handle.(*Handle)
	return hd.runAsync(&hd.resetOp, func() error {
		hd.mu.Lock()
		conn := hd.conn
		hd.mu.Unlock()
		_, err := conn.ExecContext(context.Background(), "DO 0")
		return err
	})
}

// ChangeUser has the same gap in go-sql-driver/mysql's public API as Reset,
// so it's approximated by swapping the reserved connection for a fresh one
// authenticated as the new user against the same host.
func (h *Handler) ChangeUser(handle protocol.Handle, user, password, database string) protocol.Status {
	hd := handle.(*Handle)
	return hd.runAsync(&hd.changeUserOp, func() error {
		hd.mu.Lock()
		oldCfg, oldDB, oldConn := hd.cfg, hd.db, hd.conn
		hd.mu.Unlock()
		if oldCfg == nil {
			return fmt.Errorf("netprotocol: change-user before connect")
		}

		newCfg := oldCfg.Clone()
		newCfg.User = user
		newCfg.Passwd = password
		newCfg.DBName = database

		connector, err := mysqldriver.NewConnector(newCfg)
		if err != nil {
			return err
		}
		db := sql.OpenDB(connector)
		conn, err := db.Conn(context.Background())
		if err != nil {
			db.Close()
			return err
		}
		if err := conn.PingContext(context.Background()); err != nil {
			conn.Close()
			db.Close()
			return err
		}

		hd.mu.Lock()
		hd.db, hd.conn, hd.cfg = db, conn, newCfg
		hd.mu.Unlock()

		oldConn.Close()
		oldDB.Close()
		return nil
	})
}

// NextResult is not exercised by this repo's own Operation state machines —
// MultiQuery issues each statement as its own RunQuery rather than pulling
// multiple result sets off one — but is implemented for Handler-interface
// completeness against go-sql-driver/mysql's multi-statement support.
func (h *Handler) NextResult(handle protocol.Handle) protocol.Status {
	hd := handle.(*Handle)
	hd.mu.Lock()
	rows := hd.rows
	hd.mu.Unlock()
	if rows == nil || !rows.NextResultSet() {
		return protocol.StatusDone
	}
	cols, err := rows.Columns()
	if err != nil {
		hd.setErr(err)
		return protocol.StatusError
	}
	hd.mu.Lock()
	hd.columns = cols
	hd.mu.Unlock()
	return protocol.StatusDone
}

func (h *Handler) GetResult(handle protocol.Handle) (protocol.ResultCursor, error) {
	hd := handle.(*Handle)
	hd.mu.Lock()
	defer hd.mu.Unlock()
	return &resultCursor{columns: hd.columns, rows: hd.rows, ready: hd.ready}, nil
}

// resultCursor paces FetchRow the same way Handle paces RunQuery/TryConnect:
// the first FetchRow on a given row starts rows.Next()+Scan on a goroutine
// and reports StatusPending; the next call that finds it finished reports
// the row (or end-of-result) and resets for the row after that.
type resultCursor struct {
	columns []string
	rows    *sql.Rows
	ready   chan struct{}

	mu       sync.Mutex
	fetching bool
	done     bool
	ok       bool
	row      []interface{}
}

func (c *resultCursor) ColumnNames() []string { return c.columns }

func (h *Handler) FetchRow(cursor protocol.ResultCursor, row *protocol.Row) (protocol.Status, bool) {
	c := cursor.(*resultCursor)
	if c.rows == nil {
		return protocol.StatusDone, false
	}

	c.mu.Lock()
	if c.done {
		ok := c.ok
		if ok {
			*row = protocol.Row(c.row)
		}
		c.done = false
		c.mu.Unlock()
		return protocol.StatusDone, ok
	}
	if c.fetching {
		c.mu.Unlock()
		return protocol.StatusPending, false
	}
	c.fetching = true
	c.mu.Unlock()

	go func() {
		vals := make([]interface{}, len(c.columns))
		ptrs := make([]interface{}, len(vals))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		ok := c.rows.Next()
		if ok {
			if err := c.rows.Scan(ptrs...); err != nil {
				ok = false
			}
		}

		c.mu.Lock()
		c.fetching, c.done, c.ok, c.row = false, true, ok, vals
		c.mu.Unlock()

		select {
		case c.ready <- struct{}{}:
		default:
		}
	}()
	return protocol.StatusPending, false
}

func (h *Handler) RowsAffected(handle protocol.Handle) int64 {
	hd := handle.(*Handle)
	hd.mu.Lock()
	defer hd.mu.Unlock()
	return hd.rowsAffected
}

func (h *Handler) ServerStatus(handle protocol.Handle) uint16 {
	hd := handle.(*Handle)
	hd.mu.Lock()
	defer hd.mu.Unlock()
	return hd.serverStatus
}
