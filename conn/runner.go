package conn

import (
	"context"

	"github.com/fyerfyer/mysql-async-client/future"
)

// Runner is the narrow view of the reactor (package client) a Connection
// needs in order to drive operations against itself. Depending on package
// client directly here would create an import cycle (client already depends
// on conn and on operation, which in turn depends on conn), so the
// Connection façade is built against this interface instead and *client.Client
// satisfies it. This mirrors how the teacher's pooledConnection holds a
// narrow poolManager-shaped reference back to its owning pool rather than
// importing the pool's own package.
type Runner interface {
	// RunInThread schedules f to run on the reactor's dispatch goroutine,
	// returning false if the reactor has already shut down. Used for
	// bookkeeping callbacks that must not run on an arbitrary caller
	// goroutine; the dying-connection reset itself goes through
	// ResetBlocking, which submits to the reactor's own Operation-driving
	// goroutine directly rather than through this queue.
	RunInThread(f func()) bool

	Query(ctx context.Context, c *Connection, sql string) (*QueryResult, error)
	QueryAsync(c *Connection, sql string) *future.Future[*QueryResult]

	MultiQuery(ctx context.Context, c *Connection, stmts []string) (*MultiQueryResult, error)
	MultiQueryAsync(c *Connection, stmts []string) *future.Future[*MultiQueryResult]

	StreamMultiQuery(c *Connection, stmts []string) (StreamHandle, error)

	Reset(ctx context.Context, c *Connection) error
	ChangeUser(ctx context.Context, c *Connection, user, password, database string) error

	// ResetBlocking drives a Reset operation against h's handle on the
	// reactor goroutine and blocks the caller until it completes, used by
	// Close's dying-connection path (spec.md §4.4) when EnableDelayedResetConn
	// is false. Routing through the reactor rather than running Reset
	// directly on the caller's goroutine is what avoids racing any other
	// Operation already driving h.
	ResetBlocking(h *Holder) error
}
