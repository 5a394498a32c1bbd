package netprotocol_test

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/fyerfyer/mysql-async-client/client"
	"github.com/fyerfyer/mysql-async-client/conn"
	"github.com/fyerfyer/mysql-async-client/protocol/netprotocol"
)

// These tests exercise netprotocol against a real MySQL server and are
// skipped unless MYSQL_TEST_DSN_HOST is set. Point it (and optionally
// MYSQL_TEST_DSN_PORT, default 3306) at a server with an empty or
// throwaway database to run them:
//
//	MYSQL_TEST_DSN_HOST=127.0.0.1 go test ./protocol/netprotocol/...
func testKey(t *testing.T) conn.Key {
	host := os.Getenv("MYSQL_TEST_DSN_HOST")
	if host == "" {
		t.Skip("MYSQL_TEST_DSN_HOST not set; skipping netprotocol end-to-end test")
	}
	port := 3306
	if p := os.Getenv("MYSQL_TEST_DSN_PORT"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			t.Fatalf("invalid MYSQL_TEST_DSN_PORT: %v", err)
		}
		port = n
	}
	return conn.Key{
		Host:     host,
		Port:     port,
		User:     os.Getenv("MYSQL_TEST_DSN_USER"),
		Password: os.Getenv("MYSQL_TEST_DSN_PASSWORD"),
		Database: os.Getenv("MYSQL_TEST_DSN_DATABASE"),
	}
}

func newTestClient(t *testing.T) *client.Client {
	t.Helper()
	c, err := client.New(client.WithHandler(netprotocol.NewHandler()))
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Shutdown(ctx)
	})
	return c
}

func TestEndToEndQueryRoundTrip(t *testing.T) {
	c := newTestClient(t)
	key := testKey(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := c.BeginConnection(ctx, key, conn.DefaultOptions(), conn.Callbacks{}).Get()
	if err != nil {
		t.Fatalf("BeginConnection: %v", err)
	}
	cn := res.Connection
	defer cn.Close()

	qr, err := cn.Query(ctx, "SELECT 1 AS one")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(qr.Rows) != 1 || len(qr.Columns) != 1 {
		t.Fatalf("unexpected result shape: %+v", qr)
	}
}

func TestEndToEndMultiQueryAndReset(t *testing.T) {
	c := newTestClient(t)
	key := testKey(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := c.BeginConnection(ctx, key, conn.DefaultOptions(), conn.Callbacks{}).Get()
	if err != nil {
		t.Fatalf("BeginConnection: %v", err)
	}
	cn := res.Connection
	defer cn.Close()

	mr, err := cn.MultiQuery(ctx, []string{"SELECT 1", "SELECT 2"})
	if err != nil {
		t.Fatalf("MultiQuery: %v", err)
	}
	if mr.QueriesExecuted != 2 {
		t.Fatalf("expected 2 statements executed, got %d", mr.QueriesExecuted)
	}

	if err := cn.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
}
