package storage

import (
	"context"
	"path/filepath"

	"github.com/steveyegge/autoprog/internal/config"
	"github.com/steveyegge/autoprog/internal/storage/sqlite"
	"github.com/steveyegge/autoprog/internal/types"
)

// Storage defines the durable state behind the change ledger
type Storage interface {
	// Backups - content-addressed, stored once per ref
	StoreBackup(ctx context.Context, b *types.Backup) error
	GetBackup(ctx context.Context, ref string) (*types.Backup, error)

	// Change records - append-only
	AppendChange(ctx context.Context, rec *types.ChangeRecord, diff *types.Diff, apply func() error) error
	GetChange(ctx context.Context, id string) (*types.ChangeRecord, error)
	ListChanges(ctx context.Context, filter types.ChangeFilter) ([]*types.ChangeRecord, error)
	GetDiff(ctx context.Context, ref string) (*types.Diff, error)

	// Tasks
	SaveTask(ctx context.Context, runID string, task *types.Task) error
	GetTask(ctx context.Context, id string) (*types.Task, error)
	ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error)

	// Runs
	SaveRun(ctx context.Context, run *types.RunRecord, report *types.Report) error
	ListRuns(ctx context.Context, limit int) ([]*types.RunRecord, error)
	GetLatestReport(ctx context.Context) (*types.Report, error)

	// Lifecycle
	Close() error
}

// DBFile is the ledger database name inside the state directory.
const DBFile = "ledger.db"

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path
	// Default: "<workspace>/.autoprog/ledger.db"
	Path string
}

// DefaultConfig returns the config for a workspace root
func DefaultConfig(root string) *Config {
	return &Config{Path: DBPath(root)}
}

// DBPath returns the ledger database path for a workspace root.
func DBPath(root string) string {
	return filepath.Join(root, config.StateDir, DBFile)
}

// NewStorage creates a new SQLite storage backend
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil || cfg.Path == "" {
		cfg = DefaultConfig(".")
	}
	return sqlite.New(cfg.Path)
}
