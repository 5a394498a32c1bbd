package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyerfyer/mysql-async-client/conn"
)

var connectCmd = &cobra.Command{
	Use:   "connect [name] [host] [port] [user] [password] [database]",
	Short: "Open a named connection",
	Long: `Open a new connection through the shared Client and register it under
name, so later commands (query, bench, close) can refer to it by that name.`,
	Args: cobra.ExactArgs(6),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, host, user, password, database := args[0], args[1], args[3], args[4], args[5]

		port, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", args[2], err)
		}

		key := conn.Key{Host: host, Port: port, User: user, Password: password, Database: database}

		timeout, _ := cmd.Flags().GetDuration("timeout")
		opts := conn.DefaultOptions()
		if timeout > 0 {
			opts.ConnectTimeout = timeout
		}

		ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout+time.Second)
		defer cancel()

		result, err := GetClient().BeginConnection(ctx, key, opts, conn.Callbacks{}).Wait(ctx)
		if err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}

		GetConnections().put(name, result.Connection)
		fmt.Printf("Connection '%s' opened to %s in %s\n", name, key, result.Elapsed)
		return nil
	},
}

var closeCmd = &cobra.Command{
	Use:   "close [name]",
	Short: "Close a named connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		cn, ok := GetConnections().get(name)
		if !ok {
			return fmt.Errorf("no such connection: %s", name)
		}
		if err := cn.Close(); err != nil {
			return fmt.Errorf("close failed: %w", err)
		}
		GetConnections().remove(name)
		fmt.Printf("Connection '%s' closed\n", name)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List open named connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := GetConnections().names()
		if len(names) == 0 {
			fmt.Println("No open connections")
			return nil
		}
		for _, name := range names {
			cn, _ := GetConnections().get(name)
			fmt.Printf("%s\t%s\talive=%v\n", name, cn.Key(), cn.IsAlive())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(listCmd)

	connectCmd.Flags().Duration("timeout", 0, "connect timeout (default conn.DefaultOptions' ConnectTimeout)")
}
