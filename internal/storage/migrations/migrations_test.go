package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var exampleMigrations = []Migration{
	{
		Version:     1,
		Description: "Add example test table",
		Up:          `CREATE TABLE IF NOT EXISTS test_table (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		Down:        `DROP TABLE IF EXISTS test_table`,
	},
	{
		Version:     2,
		Description: "Add example index",
		Up:          `CREATE INDEX IF NOT EXISTS idx_test_name ON test_table(name)`,
		Down:        `DROP INDEX IF EXISTS idx_test_name`,
	},
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyAndRollback(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	manager := NewManager(exampleMigrations...)
	if err := manager.Apply(ctx, db); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	version, err := Version(ctx, db)
	if err != nil {
		t.Fatalf("failed to read version: %v", err)
	}
	if version != 2 {
		t.Errorf("expected version 2, got %d", version)
	}

	if _, err := db.Exec("INSERT INTO test_table (id, name) VALUES (1, 'test')"); err != nil {
		t.Fatalf("test table not created: %v", err)
	}

	// applying again is a no-op
	if err := manager.Apply(ctx, db); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}

	if err := manager.Rollback(ctx, db); err != nil {
		t.Fatalf("failed to rollback migration: %v", err)
	}
	if version, _ := Version(ctx, db); version != 1 {
		t.Errorf("expected version 1 after rollback, got %d", version)
	}

	if err := manager.Rollback(ctx, db); err != nil {
		t.Fatalf("failed to rollback migration: %v", err)
	}
	if _, err := db.Exec("INSERT INTO test_table (id, name) VALUES (2, 'test')"); err == nil {
		t.Error("test table should have been dropped")
	}

	if err := manager.Rollback(ctx, db); err == nil {
		t.Error("expected error rolling back an empty schema")
	}
}

func TestMigrationOrdering(t *testing.T) {
	manager := NewManager()

	manager.Register(Migration{Version: 3, Description: "Third"})
	manager.Register(Migration{Version: 1, Description: "First"})
	manager.Register(Migration{Version: 2, Description: "Second"})

	manager.sortMigrations()

	if len(manager.migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(manager.migrations))
	}
	for i, want := range []int{1, 2, 3} {
		if manager.migrations[i].Version != want {
			t.Errorf("migration %d: expected version %d, got %d", i, want, manager.migrations[i].Version)
		}
	}
	if manager.Latest() != 3 {
		t.Errorf("expected latest 3, got %d", manager.Latest())
	}
}
