package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/autoprog/internal/config"
	"github.com/steveyegge/autoprog/internal/storage"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Initialize a workspace for autoprog",
	Long: `Initialize a workspace by creating the .autoprog/ state directory.

This creates:
  - .autoprog/config.yaml (default configuration, kept if present)
  - .autoprog/ledger.db (SQLite change ledger)

Example:
  cd ~/myproject
  autoprog init
  autoprog init ../other`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		root, err := filepath.Abs(dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to resolve %s: %v\n", dir, err)
			os.Exit(1)
		}
		if err := os.MkdirAll(filepath.Join(root, config.StateDir), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create state directory: %v\n", err)
			os.Exit(1)
		}

		cfgPath := config.Path(root)
		wroteConfig := false
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			if err := config.SaveFile(root, config.DefaultConfig()); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			wroteConfig = true
		}

		dbPath := storage.DBPath(root)
		db, err := storage.NewStorage(context.Background(), &storage.Config{Path: dbPath})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to initialize ledger: %v\n", err)
			os.Exit(1)
		}
		_ = db.Close()

		fmt.Printf("\n%s Initialized autoprog workspace\n\n", green("✓"))
		fmt.Printf("  Workspace: %s\n", cyan(root))
		fmt.Printf("  Ledger:    %s\n", cyan(dbPath))
		if wroteConfig {
			fmt.Printf("  Config:    %s\n", cyan(cfgPath))
		} else {
			fmt.Printf("  Config:    %s %s\n", cyan(cfgPath), gray("(existing)"))
		}
		fmt.Printf("\n  Next: %s\n\n", gray("autoprog scan, then autoprog run"))
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
