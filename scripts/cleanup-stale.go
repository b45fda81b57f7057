// scripts/cleanup-stale.go - Manual stale run lock cleanup tool
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/steveyegge/autoprog/internal/storage"
	"github.com/steveyegge/autoprog/internal/types"
)

func main() {
	ctx := context.Background()

	dir := "."
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	root, err := storage.DiscoverWorkspace(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	lock, err := storage.ReadRunLock(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading run lock: %v\n", err)
		os.Exit(1)
	}
	if lock != nil {
		fmt.Printf("Run %s is live (PID %d on %s); nothing to clean\n", lock.RunID, lock.PID, lock.Hostname)
		return
	}

	// ReadRunLock reports a dead holder as unlocked, so any file left is stale.
	if _, err := os.Stat(storage.LockPath(root)); err == nil {
		if err := storage.ReleaseRunLock(storage.LockPath(root)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✓ Removed stale run lock")
	} else {
		fmt.Println("✓ No stale run lock")
	}

	store, err := storage.NewStorage(ctx, storage.DefaultConfig(root))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	stuck, err := store.ListTasks(ctx, types.TaskFilter{Statuses: []types.Status{types.StatusRunning}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing tasks: %v\n", err)
		os.Exit(1)
	}
	if len(stuck) == 0 {
		fmt.Println("✓ No interrupted tasks")
		return
	}
	fmt.Printf("%d interrupted task(s); the next run marks them FAILED and rolls back unverified changes:\n", len(stuck))
	for _, t := range stuck {
		fmt.Printf("  %s %s %s\n", t.ID, t.Type, t.Path)
	}
}
