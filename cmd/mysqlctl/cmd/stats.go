package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display Client reactor statistics",
	Long:  `Display the shared Client's pending-operation count, active-connection count and lifecycle status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetClient()
		fmt.Printf("Status:             %s\n", c.Status())
		fmt.Printf("Pending operations: %d\n", c.PendingCount())
		fmt.Printf("Active connections: %d\n", c.ActiveConnections())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
