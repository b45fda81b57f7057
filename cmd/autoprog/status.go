package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show remaining mocks, open tasks and the last run",
	Long:  `Scan the workspace and summarize what remains, alongside the last run and any active run lock.`,
	Run: func(cmd *cobra.Command, args []string) {
		exclude, _ := cmd.Flags().GetStringSlice("exclude")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx := context.Background()
		c := openCoordinator(ctx)
		defer func() { _ = c.Close() }()

		st, err := c.Status(ctx, exclude)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if asJSON {
			printJSON(st)
			return
		}

		fmt.Printf("\n%s\n\n", cyan("=== autoprog Status ==="))
		fmt.Printf("  Workspace: %s\n\n", st.Workspace)

		printSnapshot("Workspace:", st.Snapshot)
		fmt.Println()
		if st.PendingMocks == 0 {
			fmt.Printf("  %s\n\n", green("✓ No pending mocks"))
		} else {
			fmt.Printf("  %s\n\n", yellow(fmt.Sprintf("%d pending mocks", st.PendingMocks)))
		}

		fmt.Printf("%s\n", yellow("Run lock:"))
		if st.Lock == nil {
			fmt.Printf("  %s\n", gray("No active run"))
		} else {
			fmt.Printf("  %s run %s by PID %d on %s, started %v ago\n", green("●"),
				shortID(st.Lock.RunID), st.Lock.PID, st.Lock.Hostname,
				time.Since(st.Lock.StartedAt).Round(time.Second))
		}
		fmt.Println()

		if len(st.OpenTasks) > 0 {
			fmt.Printf("%s\n", yellow(fmt.Sprintf("Open tasks (%d):", len(st.OpenTasks))))
			for _, t := range st.OpenTasks {
				fmt.Printf("  %s %-12s %s %s\n", gray("·"), t.Type, t.Status, t.Path)
			}
			fmt.Println()
		}

		fmt.Printf("%s\n", yellow("Last run:"))
		if st.LastRun == nil {
			fmt.Printf("  %s\n\n", gray("None"))
			return
		}
		printRunLine(st.LastRun)
		fmt.Println()
	},
}

func init() {
	statusCmd.Flags().StringSlice("exclude", nil, "Path patterns to skip (repeatable)")
	statusCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd)
}
