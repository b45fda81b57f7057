package sqlite

import "github.com/steveyegge/autoprog/internal/storage/migrations"

// Timestamps are stored as INTEGER unix nanoseconds so ordering and range
// queries compare exactly.
var schemaMigrations = []migrations.Migration{
	{
		Version:     1,
		Description: "Create ledger tables",
		Up: `
-- Content-addressed backups; identical content for a path is stored once
CREATE TABLE IF NOT EXISTS backups (
    ref TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    absent INTEGER NOT NULL DEFAULT 0,
    content BLOB,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_backups_path ON backups(path);

-- Applied diffs referenced by APPLIED and ROLLED_BACK records
CREATE TABLE IF NOT EXISTS diffs (
    ref TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    body TEXT NOT NULL
);

-- Change records (append-only audit trail)
CREATE TABLE IF NOT EXISTS change_records (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    task_id TEXT NOT NULL DEFAULT '',
    run_id TEXT NOT NULL DEFAULT '',
    path TEXT NOT NULL,
    backup_ref TEXT REFERENCES backups(ref),
    diff_ref TEXT REFERENCES diffs(ref),
    outcome TEXT NOT NULL CHECK(outcome IN ('BACKUP', 'APPLIED', 'VERIFIED', 'FAILED', 'ROLLED_BACK')),
    verification TEXT NOT NULL DEFAULT '',
    reverses TEXT REFERENCES change_records(id),
    ts INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_change_records_path ON change_records(path);
CREATE INDEX IF NOT EXISTS idx_change_records_task ON change_records(task_id);
CREATE INDEX IF NOT EXISTS idx_change_records_run ON change_records(run_id);
CREATE INDEX IF NOT EXISTS idx_change_records_ts ON change_records(ts);

-- Tasks with their latest status
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    type TEXT NOT NULL,
    priority TEXT NOT NULL,
    path TEXT NOT NULL,
    category TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('PENDING', 'RUNNING', 'DONE', 'FAILED', 'ROLLED_BACK')),
    retry_of TEXT NOT NULL DEFAULT '',
    attempt INTEGER NOT NULL DEFAULT 1,
    error TEXT NOT NULL DEFAULT '',
    seq INTEGER NOT NULL DEFAULT 0,
    findings TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_run ON tasks(run_id);
CREATE INDEX IF NOT EXISTS idx_tasks_path ON tasks(path);

-- Batch runs with their snapshots and full report
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    workspace TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL DEFAULT 0,
    completed INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    rolled_back INTEGER NOT NULL DEFAULT 0,
    pending INTEGER NOT NULL DEFAULT 0,
    cancelled INTEGER NOT NULL DEFAULT 0,
    before_snapshot TEXT,
    after_snapshot TEXT,
    report TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`,
		Down: `
DROP TABLE IF EXISTS runs;
DROP TABLE IF EXISTS tasks;
DROP TABLE IF EXISTS change_records;
DROP TABLE IF EXISTS diffs;
DROP TABLE IF EXISTS backups;
`,
	},
	{
		Version:     2,
		Description: "Make change_records append-only",
		Up: `
CREATE TRIGGER IF NOT EXISTS change_records_no_update
BEFORE UPDATE ON change_records
BEGIN
    SELECT RAISE(ABORT, 'change_records is append-only');
END;

CREATE TRIGGER IF NOT EXISTS change_records_no_delete
BEFORE DELETE ON change_records
BEGIN
    SELECT RAISE(ABORT, 'change_records is append-only');
END;
`,
		Down: `
DROP TRIGGER IF EXISTS change_records_no_update;
DROP TRIGGER IF EXISTS change_records_no_delete;
`,
	},
}
