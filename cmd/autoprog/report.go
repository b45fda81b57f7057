package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/steveyegge/autoprog/internal/coordinator"
	"github.com/steveyegge/autoprog/internal/types"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the report of the latest run",
	Long: `Report prints the latest batch report from the ledger.

Examples:
  autoprog report
  autoprog report --pretty    # render the Markdown progress document
  autoprog report --json`,
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")
		pretty, _ := cmd.Flags().GetBool("pretty")
		width, _ := cmd.Flags().GetInt("width")

		ctx := context.Background()
		c := openCoordinator(ctx)
		defer func() { _ = c.Close() }()

		report, err := c.Store().GetLatestReport(ctx)
		if errors.Is(err, types.ErrNotFound) {
			fmt.Printf("%s\n", gray("No runs yet. Start one with: autoprog run"))
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		switch {
		case asJSON:
			printJSON(report)
		case pretty:
			history, err := c.ImprovementHistory(ctx, coordinator.DefaultHistoryRuns)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			out, err := renderMarkdown(coordinator.RenderProgress(report, history), width)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Print(out)
		default:
			printReport(report)
		}
	},
}

func renderMarkdown(md string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return out, nil
}

func init() {
	reportCmd.Flags().Bool("json", false, "Output the report as JSON")
	reportCmd.Flags().Bool("pretty", false, "Render the Markdown progress document")
	reportCmd.Flags().Int("width", 100, "Word wrap width for --pretty")
	rootCmd.AddCommand(reportCmd)
}
