package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyerfyer/mysql-async-client/client"
	"github.com/fyerfyer/mysql-async-client/conn"
	"github.com/fyerfyer/mysql-async-client/protocol/faketest"
)

// registry holds the named connections this CLI session has opened, so
// later commands (query, bench, close) can refer to one by name instead of
// re-specifying the whole ConnectionKey each time.
type registry struct {
	mu    sync.Mutex
	conns map[string]*conn.Connection
}

func (r *registry) put(name string, cn *conn.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[name] = cn
}

func (r *registry) get(name string) (*conn.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cn, ok := r.conns[name]
	return cn, ok
}

func (r *registry) remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, name)
}

func (r *registry) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.conns))
	for name := range r.conns {
		names = append(names, name)
	}
	return names
}

var (
	mysqlClient *client.Client
	conns       = &registry{conns: make(map[string]*conn.Connection)}
)

// rootCmd is mysqlctl's entry point. Invoked with no subcommand it drops
// into the interactive REPL (see init below), like the teacher's qcli;
// mysqlctl also supports being driven one-shot from a shell
// (`mysqlctl connect ...`).
var rootCmd = &cobra.Command{
	Use:   "mysqlctl",
	Short: "Operate an async MySQL client core from the command line",
	Long: `mysqlctl drives the client/conn reactor interactively: open named
connections, run queries and multi-statements against them, watch pending
operation and active connection stats, and bench a connection with a burst of concurrent
queries.

By default it wires a deterministic in-memory protocol.Handler (the same
double package/operation's own tests use) rather than a real MySQL wire
driver, since the wire protocol itself is out of this repo's scope — swap
in a real Handler via WithHandler in an embedding program.`,
}

func init() {
	rootCmd.Run = func(cmd *cobra.Command, args []string) {
		runInteractiveMode()
	}
}

// Execute runs the root command and tears down the shared Client on exit.
func Execute() {
	var err error
	mysqlClient, err = client.New(client.WithHandler(faketest.NewHandler(faketest.Script{
		Rows:    [][]interface{}{{"1", "ok"}},
		Columns: []string{"id", "status"},
	})))
	if err != nil {
		fmt.Println("mysqlctl: failed to build client:", err)
		return
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Println("Error:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = mysqlClient.Shutdown(ctx)
}

// GetClient returns the CLI session's shared Client.
func GetClient() *client.Client { return mysqlClient }

// GetConnections returns the registry of named open connections.
func GetConnections() *registry { return conns }
