package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/autoprog/internal/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the change ledger",
	Long: `History lists ledger records, oldest first, across all runs.

Examples:
  autoprog history
  autoprog history --path vision/detector.py
  autoprog history --outcome ROLLED_BACK --since 24h
  autoprog history --runs        # run summaries instead of records`,
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("path")
		task, _ := cmd.Flags().GetString("task")
		run, _ := cmd.Flags().GetString("run")
		outcome, _ := cmd.Flags().GetString("outcome")
		sinceStr, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")
		showRuns, _ := cmd.Flags().GetBool("runs")
		asJSON, _ := cmd.Flags().GetBool("json")

		filter := types.ChangeFilter{
			Path:    path,
			TaskID:  task,
			RunID:   run,
			Outcome: types.Outcome(outcome),
			Limit:   limit,
		}
		if filter.Outcome != "" && !filter.Outcome.IsValid() {
			fmt.Fprintf(os.Stderr, "Error: invalid outcome %q\n", outcome)
			os.Exit(1)
		}
		if sinceStr != "" {
			since, err := time.ParseDuration(sinceStr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid since %q: %v\n", sinceStr, err)
				os.Exit(1)
			}
			filter.Since = time.Now().Add(-since)
		}

		ctx := context.Background()
		c := openCoordinator(ctx)
		defer func() { _ = c.Close() }()

		if showRuns {
			h, err := c.ImprovementHistory(ctx, limit)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if asJSON {
				printJSON(h)
				return
			}
			printRuns(h.Runs)
			fmt.Printf("  Average success rate %.1f%%, mock ratio gain %.1f points per run (%.1f total)\n\n",
				h.AvgSuccessRate, h.AvgMockRatioGain, h.TotalMockRatioGain)
			return
		}

		records, err := c.History(ctx, filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if asJSON {
			printJSON(records)
			return
		}
		if len(records) == 0 {
			fmt.Printf("%s\n", gray("No ledger records"))
			return
		}
		fmt.Printf("\n%s\n\n", cyan("=== Change Ledger ==="))
		for _, rec := range records {
			printChange(rec)
		}
		fmt.Println()
	},
}

func printRuns(runs []*types.RunRecord) {
	fmt.Printf("\n%s\n\n", cyan("=== Runs ==="))
	if len(runs) == 0 {
		fmt.Printf("  %s\n\n", gray("No finished runs"))
		return
	}
	for _, r := range runs {
		printRunLine(r)
	}
	fmt.Println()
}

func printRunLine(r *types.RunRecord) {
	ratio := gray("-")
	if r.Before != nil && r.After != nil {
		ratio = fmt.Sprintf("%.1f%% → %.1f%%", r.Before.MockRatio, r.After.MockRatio)
	}
	fmt.Printf("  %s  %s  done %s  failed %s  rolled back %s  success %.1f%%  mocks %s",
		shortID(r.ID), r.StartedAt.Format("2006-01-02 15:04"),
		green(fmt.Sprint(r.Completed)), red(fmt.Sprint(r.Failed)), yellow(fmt.Sprint(r.RolledBack)),
		r.SuccessRate(), ratio)
	if r.Cancelled {
		fmt.Printf(" %s", yellow(fmt.Sprintf("(cancelled, %d pending)", r.Pending)))
	}
	fmt.Println()
}

func init() {
	historyCmd.Flags().String("path", "", "Only records for this workspace-relative path")
	historyCmd.Flags().String("task", "", "Only records for this task id")
	historyCmd.Flags().String("run", "", "Only records for this run id")
	historyCmd.Flags().String("outcome", "", "Only records with this outcome (BACKUP, APPLIED, VERIFIED, FAILED, ROLLED_BACK)")
	historyCmd.Flags().String("since", "", "Only records newer than this duration (e.g. 24h)")
	historyCmd.Flags().Int("limit", 0, "Maximum records (or runs with --runs)")
	historyCmd.Flags().Bool("runs", false, "Show run summaries and improvement trend")
	historyCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(historyCmd)
}
