package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/autoprog/internal/coordinator"
	"github.com/steveyegge/autoprog/internal/storage"
)

var (
	verbose       bool
	workspaceFlag string
	logger        *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "autoprog",
	Short: "Find placeholder code in a workspace and replace it with working code",
	Long: `autoprog scans a source tree for mock components, missing modules and
low-quality code, turns what it finds into prioritized tasks, and runs those
tasks under bounded concurrency. Every file change is backed up and recorded
in the workspace ledger (.autoprog/ledger.db) so it can be rolled back.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", "", "Workspace root (default: nearest directory with .autoprog/)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// workspaceRoot resolves the workspace from --workspace or by walking up
// from the current directory.
func workspaceRoot() (string, error) {
	if workspaceFlag != "" {
		return workspaceFlag, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return storage.DiscoverWorkspace(cwd)
}

// openCoordinator opens the current workspace or exits.
func openCoordinator(ctx context.Context) *coordinator.Coordinator {
	root, err := workspaceRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	c, err := coordinator.Open(ctx, root, coordinator.Options{Logger: logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return c
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to encode JSON: %v\n", err)
		os.Exit(1)
	}
}
