package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fyerfyer/mysql-async-client/conn"
	"github.com/fyerfyer/mysql-async-client/mysqlerr"
	"github.com/fyerfyer/mysql-async-client/protocol/faketest"
)

func newTestClient(t *testing.T, script faketest.Script) *Client {
	t.Helper()
	c, err := New(WithHandler(faketest.NewHandler(script)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRequiresHandler(t *testing.T) {
	if _, err := New(); err == nil {
		t.Fatal("expected an error when no handler is configured")
	}
}

func TestBeginConnectionSuccessIncrementsActive(t *testing.T) {
	c := newTestClient(t, faketest.Script{})
	defer c.Shutdown(context.Background())

	f := c.BeginConnection(context.Background(), conn.Key{Host: "localhost", Port: 3306}, conn.DefaultOptions(), conn.Callbacks{})
	res, err := f.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Connection == nil {
		t.Fatal("expected a non-nil Connection")
	}
	if c.ActiveConnections() != 1 {
		t.Fatalf("expected 1 active connection, got %d", c.ActiveConnections())
	}

	if err := res.Connection.Close(); err != nil {
		t.Fatalf("unexpected error closing connection: %v", err)
	}
	if c.ActiveConnections() != 0 {
		t.Fatalf("expected 0 active connections after Close, got %d", c.ActiveConnections())
	}
}

func TestBeginConnectionFailureDoesNotCountAsActive(t *testing.T) {
	c := newTestClient(t, faketest.Script{
		FailConnect: &faketest.ScriptedError{Errno: 1045, Message: "access denied"},
	})
	defer c.Shutdown(context.Background())

	f := c.BeginConnection(context.Background(), conn.Key{Host: "localhost", Port: 3306}, conn.DefaultOptions(), conn.Callbacks{})
	_, err := f.Get()
	if err == nil {
		t.Fatal("expected an error")
	}
	if c.ActiveConnections() != 0 {
		t.Fatalf("expected 0 active connections after a failed connect, got %d", c.ActiveConnections())
	}
}

func TestBeginConnectionRefusedDuringShutdown(t *testing.T) {
	c := newTestClient(t, faketest.Script{})

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f := c.BeginConnection(context.Background(), conn.Key{Host: "localhost", Port: 3306}, conn.DefaultOptions(), conn.Callbacks{})
	_, err := f.Get()
	if !errors.Is(err, mysqlerr.ErrClientError) {
		t.Fatalf("expected ErrClientError, got %v", err)
	}
}

func TestQueryRoundTrip(t *testing.T) {
	c := newTestClient(t, faketest.Script{
		Columns: []string{"id"},
		Rows:    [][]interface{}{{1}, {2}, {3}},
	})
	defer c.Shutdown(context.Background())

	cn := mustConnect(t, c)
	defer cn.Close()

	res, err := c.Query(context.Background(), cn, "SELECT id FROM t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(res.Rows))
	}
	if c.PendingCount() != 0 {
		t.Fatalf("expected no pending operations after completion, got %d", c.PendingCount())
	}
}

func TestQueryAsyncRoundTrip(t *testing.T) {
	c := newTestClient(t, faketest.Script{Columns: []string{"id"}, Rows: [][]interface{}{{1}}})
	defer c.Shutdown(context.Background())

	cn := mustConnect(t, c)
	defer cn.Close()

	res, err := c.QueryAsync(cn, "SELECT 1").Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
}

func TestQueryOnInvalidatedHolderFails(t *testing.T) {
	c := newTestClient(t, faketest.Script{})
	defer c.Shutdown(context.Background())

	cn := mustConnect(t, c)
	defer cn.Close()
	cn.Holder().Steal()

	_, err := c.Query(context.Background(), cn, "SELECT 1")
	if !errors.Is(err, mysqlerr.ErrInvalidConnection) {
		t.Fatalf("expected ErrInvalidConnection, got %v", err)
	}
}

func TestResetBlockingRunsAgainstOwnedProxy(t *testing.T) {
	c := newTestClient(t, faketest.Script{})
	defer c.Shutdown(context.Background())

	cn := mustConnect(t, c)
	defer cn.Close()
	holder := cn.Holder()

	if err := c.ResetBlocking(holder); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestShutdownWaitsForActiveConnections(t *testing.T) {
	c := newTestClient(t, faketest.Script{})
	cn := mustConnect(t, c)

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- c.Shutdown(context.Background()) }()

	select {
	case err := <-shutdownErr:
		t.Fatalf("expected Shutdown to block with an active connection, got %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	if err := cn.Close(); err != nil {
		t.Fatalf("unexpected error closing connection: %v", err)
	}

	select {
	case err := <-shutdownErr:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Shutdown to complete once the last connection closed")
	}

	if c.Status() != StatusStopped {
		t.Fatalf("expected StatusStopped, got %s", c.Status())
	}
}

func TestShutdownDeadlineExceeded(t *testing.T) {
	c := newTestClient(t, faketest.Script{})
	_ = mustConnect(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := c.Shutdown(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

// TestShutdownCancelsInFlightConnects exercises spec.md §8's scenario 4:
// a burst of concurrent BeginConnection calls immediately followed by
// Shutdown. Every one of the 100 connects must resolve (never hang), and no
// Operation may still be tracked once Shutdown returns.
func TestShutdownCancelsInFlightConnects(t *testing.T) {
	c := newTestClient(t, faketest.Script{PendingPolls: 1, Delay: 5 * time.Millisecond})

	const n = 100
	futures := make([]chan error, n)
	for i := range futures {
		futures[i] = make(chan error, 1)
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			f := c.BeginConnection(context.Background(), conn.Key{Host: "localhost", Port: 3306}, conn.DefaultOptions(), conn.Callbacks{})
			res, err := f.Get()
			if err == nil && res.Connection != nil {
				res.Connection.Close()
			}
			futures[i] <- err
		}(i)
	}

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- c.Shutdown(context.Background()) }()

	wg.Wait()
	for _, fc := range futures {
		<-fc // every BeginConnection call must resolve, success or cancelled
	}

	select {
	case err := <-shutdownErr:
		if err != nil {
			t.Fatalf("unexpected Shutdown error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not complete")
	}

	if c.PendingCount() != 0 {
		t.Fatalf("expected no pending operations after shutdown, got %d", c.PendingCount())
	}
}

func mustConnect(t *testing.T, c *Client) *conn.Connection {
	t.Helper()
	f := c.BeginConnection(context.Background(), conn.Key{Host: "localhost", Port: 3306}, conn.DefaultOptions(), conn.Callbacks{})
	res, err := f.Get()
	if err != nil {
		t.Fatalf("BeginConnection: %v", err)
	}
	return res.Connection
}
