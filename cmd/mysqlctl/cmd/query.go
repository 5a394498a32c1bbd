package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query [name] [sql...]",
	Short: "Run a single query against a named connection",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		sql := strings.Join(args[1:], " ")

		cn, ok := GetConnections().get(name)
		if !ok {
			return fmt.Errorf("no such connection: %s", name)
		}

		ctx, cancel := context.WithTimeout(context.Background(), cn.Options().QueryTimeout+cn.Options().ConnectTimeout)
		defer cancel()

		result, err := GetClient().Query(ctx, cn, sql)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}

		printQueryResult(result.Columns, result.Rows)
		fmt.Printf("(%d rows, %d affected, %s)\n", len(result.Rows), result.RowsAffected, result.Elapsed)
		return nil
	},
}

var multiQueryCmd = &cobra.Command{
	Use:   "multiquery [name] [sql1] [sql2...]",
	Short: "Run several statements back to back against a named connection",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		stmts := args[1:]

		cn, ok := GetConnections().get(name)
		if !ok {
			return fmt.Errorf("no such connection: %s", name)
		}

		ctx, cancel := context.WithTimeout(context.Background(), cn.Options().QueryTimeout*time.Duration(len(stmts))+cn.Options().ConnectTimeout)
		defer cancel()

		result, err := GetClient().MultiQuery(ctx, cn, stmts)
		if err != nil {
			return fmt.Errorf("multiquery failed: %w", err)
		}

		for i, r := range result.Results {
			fmt.Printf("-- statement %d --\n", i+1)
			printQueryResult(r.Columns, r.Rows)
		}
		fmt.Printf("(%d statements, %s)\n", result.QueriesExecuted, result.Elapsed)
		return nil
	},
}

func printQueryResult(columns []string, rows [][]interface{}) {
	if len(columns) > 0 {
		fmt.Println(strings.Join(columns, "\t"))
	}
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprintf("%v", v)
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
}

func init() {
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(multiQueryCmd)
}
