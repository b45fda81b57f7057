package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/steveyegge/autoprog/internal/config"
)

// EnvDBPath overrides ledger discovery, mainly for test isolation.
const EnvDBPath = "AUTOPROG_DB_PATH"

// DiscoverDatabase returns the ledger path for the workspace containing dir.
// AUTOPROG_DB_PATH wins when set. Otherwise the nearest ancestor of dir
// holding a .autoprog/ directory is the workspace.
func DiscoverDatabase(dir string) (string, error) {
	if dbPath := os.Getenv(EnvDBPath); dbPath != "" {
		return dbPath, nil
	}
	root, err := DiscoverWorkspace(dir)
	if err != nil {
		return "", err
	}
	return DBPath(root), nil
}

// DiscoverWorkspace walks up from dir to the first directory containing the
// state directory.
func DiscoverWorkspace(dir string) (string, error) {
	start, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	for cur := start; ; {
		if info, err := os.Stat(filepath.Join(cur, config.StateDir)); err == nil && info.IsDir() {
			return cur, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}

	return "", fmt.Errorf(
		"no %s/ found in %s or parent directories\n"+
			"  Run 'autoprog init' to initialize this workspace",
		config.StateDir, start)
}

// GetWorkspaceRoot returns the workspace root for a ledger path, which must
// live directly in the state directory.
func GetWorkspaceRoot(dbPath string) (string, error) {
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	stateDir := filepath.Dir(absPath)
	if filepath.Base(stateDir) != config.StateDir {
		return "", fmt.Errorf("database must be in a %s/ directory, got: %s", config.StateDir, dbPath)
	}
	return filepath.Dir(stateDir), nil
}

// ValidateAlignment ensures the ledger belongs to the workspace being mutated,
// so history never records changes made to another tree.
func ValidateAlignment(dbPath, workspace string) error {
	root, err := GetWorkspaceRoot(dbPath)
	if err != nil {
		return fmt.Errorf("invalid database path: %w", err)
	}
	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return fmt.Errorf("invalid workspace: %w", err)
	}
	if !isAtOrBelow(absWorkspace, root) {
		return fmt.Errorf("database-workspace mismatch:\n"+
			"  database: %s\n"+
			"  workspace root: %s\n"+
			"  requested workspace: %s",
			dbPath, root, absWorkspace)
	}
	return nil
}

func isAtOrBelow(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
