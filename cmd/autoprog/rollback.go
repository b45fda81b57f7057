package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/autoprog/internal/types"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <path>",
	Short: "Undo the most recent change to a file",
	Long: `Rollback restores the bytes a file had before its most recent change that
has not already been rolled back, and records the reversal in the ledger.
Running it again unwinds the next older change.

Examples:
  autoprog rollback vision/detector.py
  autoprog rollback vision/detector.py   # undo the change before that`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		c := openCoordinator(ctx)
		defer func() { _ = c.Close() }()

		// paths on the command line are relative to the current directory
		target, err := filepath.Abs(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		rec, err := c.RollbackLast(ctx, target)
		if errors.Is(err, types.ErrNotFound) {
			fmt.Printf("%s No change to roll back for %s\n", gray("○"), args[0])
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Rolled back %s\n", green("✓"), rec.Path)
		fmt.Printf("  Reverses change %s (task %s)\n", shortID(rec.Reverses), shortID(rec.TaskID))
	},
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
}
