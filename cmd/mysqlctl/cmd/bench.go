package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyerfyer/mysql-async-client/workpool"
)

// benchCmd fires count copies of sql at a named connection through a
// workpool.WorkPool, all tagged with the connection's key as their group, so
// GroupMetrics after the run reports exactly one line for the target.
var benchCmd = &cobra.Command{
	Use:   "bench [name] [sql]",
	Short: "Run a concurrent burst of one query against a named connection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, sql := args[0], args[1]

		cn, ok := GetConnections().get(name)
		if !ok {
			return fmt.Errorf("no such connection: %s", name)
		}

		count, _ := cmd.Flags().GetInt("count")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		abortAfter, _ := cmd.Flags().GetInt("abort-after")
		if count <= 0 {
			count = 100
		}
		if concurrency <= 0 {
			concurrency = 10
		}

		wp := workpool.New(
			workpool.WithFixedPoolSize(concurrency),
			workpool.WithQueueCapacity(count),
		)
		if err := wp.Start(); err != nil {
			return fmt.Errorf("failed to start bench worker pool: %w", err)
		}

		group := cn.Key().String()
		client := GetClient()

		handles := make([]workpool.TaskHandle, 0, count)
		start := time.Now()
		for i := 0; i < count; i++ {
			task := workpool.TaskFunc(func(ctx context.Context) (interface{}, error) {
				return client.Query(ctx, cn, sql)
			})
			handle, err := wp.Submit(task, workpool.WithGroup(group), workpool.WithTimeout(cn.Options().QueryTimeout))
			if err != nil {
				return fmt.Errorf("submit failed at task %d: %w", i, err)
			}
			handles = append(handles, handle)
		}

		var failed int
		var aborted bool
		for _, h := range handles {
			if _, err := h.Result(); err != nil {
				failed++
				if abortAfter > 0 && failed >= abortAfter && !aborted {
					aborted = true
					dropped := wp.CancelGroup(group)
					fmt.Printf("bench: %d failures reached, dropping %d queued tasks for %q\n", failed, dropped, group)
				}
			}
		}
		elapsed := time.Since(start)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := wp.Shutdown(shutdownCtx); err != nil {
			fmt.Println("bench pool shutdown:", err)
		}

		stats := wp.GroupMetrics()[group]
		fmt.Printf("bench: %d queries, %d failed, %s wall clock\n", count, failed, elapsed)
		fmt.Printf("group %q: submitted=%d completed=%d failed=%d avg=%s\n",
			group, stats.Submitted, stats.Completed, stats.Failed, stats.AvgProcessTime())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().Int("count", 100, "number of queries to run")
	benchCmd.Flags().Int("concurrency", 10, "number of concurrent workers")
	benchCmd.Flags().Int("abort-after", 0, "drop remaining queued queries once this many have failed (0 disables)")
}
