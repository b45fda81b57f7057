package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/autoprog/internal/coordinator"
	"github.com/steveyegge/autoprog/internal/priorities"
	"github.com/steveyegge/autoprog/internal/tasks"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the workspace and show findings without changing anything",
	Long: `Scan walks the workspace and lists the findings a batch would act on,
grouped into the tasks the builder would create.

Examples:
  autoprog scan
  autoprog scan --exclude legacy/ --exclude "*_pb2.py"
  autoprog scan --json`,
	Run: func(cmd *cobra.Command, args []string) {
		exclude, _ := cmd.Flags().GetStringSlice("exclude")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx := context.Background()
		c := openCoordinator(ctx)
		defer func() { _ = c.Close() }()

		result, err := c.Scan(ctx, exclude)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if asJSON {
			printJSON(result)
			return
		}

		fmt.Printf("\n%s\n\n", cyan("=== Scan ==="))
		printSnapshot("Workspace:", coordinator.Snapshot(result))
		fmt.Println()

		planned := tasks.Build(result.Findings, nil)
		fmt.Printf("%s\n", yellow(fmt.Sprintf("Tasks (%d):", len(planned))))
		if len(planned) == 0 {
			fmt.Printf("  %s\n", green("✓ Nothing to do"))
		}
		for _, t := range planned {
			fmt.Printf("  %s %-12s %s\n", priorityColor(t.Priority)(fmt.Sprintf("%-8s", t.Priority)), t.Type, t.Path)
			for _, f := range t.Findings {
				fmt.Printf("      %s %s %s\n",
					gray(fmt.Sprintf("L%d", f.LineStart)),
					priorityColor(priorities.ForFinding(f))(fmt.Sprintf("%.2f", f.Confidence)),
					f.Description)
			}
		}
		fmt.Println()

		if result.Discarded > 0 {
			fmt.Printf("  %s\n\n", gray(fmt.Sprintf("%d low-confidence matches discarded", result.Discarded)))
		}
		if len(result.Issues) > 0 {
			fmt.Printf("  %s\n\n", gray(fmt.Sprintf("%d review issues (autoprog run lists them by severity)", len(result.Issues))))
		}
	},
}

func init() {
	scanCmd.Flags().StringSlice("exclude", nil, "Path patterns to skip (repeatable)")
	scanCmd.Flags().Bool("json", false, "Output the scan result as JSON")
	rootCmd.AddCommand(scanCmd)
}
