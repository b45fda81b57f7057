package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/autoprog/internal/coordinator"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one remediation batch",
	Long: `Run scans the workspace, builds tasks from the findings and executes them
with at most --max-concurrency tasks in flight. Each change is backed up,
committed and verified; a change that fails verification is rolled back.

Interrupting with Ctrl-C stops admitting new tasks. Tasks already running
finish, and the rest stay pending for the next run.

Examples:
  autoprog run
  autoprog run --max-concurrency 2 --exclude legacy/
  autoprog run --json > report.json`,
	Run: func(cmd *cobra.Command, args []string) {
		maxConcurrency, _ := cmd.Flags().GetInt("max-concurrency")
		exclude, _ := cmd.Flags().GetStringSlice("exclude")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx, stop := signalContext()
		defer stop()

		c := openCoordinator(ctx)
		defer func() { _ = c.Close() }()

		report, err := c.RunBatch(ctx, maxConcurrency, exclude)
		if err != nil {
			if coordinator.IsLocked(err) || errors.Is(err, coordinator.ErrBatchInProgress) {
				fmt.Fprintf(os.Stderr, "Error: %v\n  Another autoprog run is active in this workspace\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if asJSON {
			printJSON(report)
			return
		}
		printReport(report)
	},
}

func init() {
	runCmd.Flags().Int("max-concurrency", 0, "Maximum tasks running at once (default from config)")
	runCmd.Flags().StringSlice("exclude", nil, "Path patterns to skip (repeatable)")
	runCmd.Flags().Bool("json", false, "Output the report as JSON")
	rootCmd.AddCommand(runCmd)
}
