package conn

import "time"

// ConnectResult is returned by a completed Connect operation. Connection is
// nil if the connect failed.
type ConnectResult struct {
	Connection *Connection
	Elapsed    time.Duration
}

// QueryResult is returned by a completed Query operation. Restored from
// squangle's AsyncMysqlClient.cpp per SPEC_FULL.md §10: Elapsed and
// QueriesExecuted are reported separately from the row data so callers can
// attribute latency without re-deriving it from row counts.
type QueryResult struct {
	Rows            [][]interface{}
	Columns         []string
	RowsAffected    int64
	LastInsertID    uint64
	Elapsed         time.Duration
	QueriesExecuted int
}

func (*QueryResult) isResult() {}

// MultiQueryResult is returned by a completed MultiQuery operation: one
// QueryResult per statement submitted, in order.
type MultiQueryResult struct {
	Results         []*QueryResult
	Elapsed         time.Duration
	QueriesExecuted int
}

func (*MultiQueryResult) isResult() {}

// StreamHandle is the caller-facing handle for a StreamingMultiQuery, kept
// here as an interface (rather than a concrete struct) so package operation
// can supply the implementation without this package depending on it.
type StreamHandle interface {
	// NextRow blocks until the next row of the current result set is
	// available, a result set boundary or the end of the stream is reached
	// (ok=false, err=nil), or the stream fails (err set).
	NextRow() (row []interface{}, ok bool, err error)

	// NextResult advances to the next statement's result set. It reports
	// false once every statement has been consumed.
	NextResult() (columns []string, ok bool, err error)

	// Close releases the stream early. Per spec.md §4.3's
	// post_operation_ended rule, rows already buffered remain readable via
	// NextRow until drained even after Close returns.
	Close() error
}
