package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/autoprog/internal/storage/migrations"
	"github.com/steveyegge/autoprog/internal/types"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// New opens (creating if needed) the ledger database at path and applies
// pending schema migrations.
func New(path string) (*SQLiteStorage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL lets readers proceed while a commit holds the write lock
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrations.NewManager(schemaMigrations...).Apply(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// StoreBackup saves backup content. Storing the same ref again is a no-op.
func (s *SQLiteStorage) StoreBackup(ctx context.Context, b *types.Backup) error {
	if b.Ref == "" || b.Path == "" {
		return fmt.Errorf("backup ref and path are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO backups (ref, path, absent, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, b.Ref, b.Path, b.Absent, b.Content, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to store backup: %w", err)
	}
	return nil
}

// GetBackup loads a backup by ref.
func (s *SQLiteStorage) GetBackup(ctx context.Context, ref string) (*types.Backup, error) {
	b := &types.Backup{}
	err := s.db.QueryRowContext(ctx, `
		SELECT ref, path, absent, content FROM backups WHERE ref = ?
	`, ref).Scan(&b.Ref, &b.Path, &b.Absent, &b.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backup %s: %w", ref, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backup: %w", err)
	}
	if b.Content == nil {
		b.Content = []byte{}
	}
	return b, nil
}

// AppendChange writes rec (and diff, if any) in one IMMEDIATE transaction.
// apply runs after the rows are inserted and before COMMIT; if it fails the
// transaction is rolled back and nothing is recorded. A COMMIT failure after
// apply succeeded is returned so the caller can undo its side effect.
func (s *SQLiteStorage) AppendChange(ctx context.Context, rec *types.ChangeRecord, diff *types.Diff, apply func() error) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	// BEGIN and COMMIT must run on the same connection
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	// IMMEDIATE takes the write lock up front so concurrent commits for
	// different files queue on busy_timeout instead of failing on upgrade.
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to begin immediate transaction: %w", err)
	}

	// Use context.Background() for ROLLBACK so cleanup happens even if ctx is canceled
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if diff != nil {
		if _, err := conn.ExecContext(ctx, `
			INSERT OR IGNORE INTO diffs (ref, path, body) VALUES (?, ?, ?)
		`, diff.Ref, diff.Path, diff.Text); err != nil {
			return fmt.Errorf("failed to insert diff: %w", err)
		}
	}

	if _, err := conn.ExecContext(ctx, `
		INSERT INTO change_records (
			id, task_id, run_id, path, backup_ref, diff_ref,
			outcome, verification, reverses, ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.TaskID, rec.RunID, rec.Path, nullString(rec.BackupRef), nullString(rec.DiffRef),
		rec.Outcome, rec.Verification, nullString(rec.Reverses), rec.Timestamp.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to insert change record: %w", err)
	}

	if apply != nil {
		if err := apply(); err != nil {
			return err
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

const changeColumns = `id, task_id, run_id, path, COALESCE(backup_ref, ''), COALESCE(diff_ref, ''),
		       outcome, verification, COALESCE(reverses, ''), ts`

// GetChange loads one change record by id.
func (s *SQLiteStorage) GetChange(ctx context.Context, id string) (*types.ChangeRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+changeColumns+` FROM change_records WHERE id = ?`, id)
	rec, err := scanChange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("change %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get change record: %w", err)
	}
	return rec, nil
}

// ListChanges returns matching records in append order (oldest first).
// A Limit keeps the newest records.
func (s *SQLiteStorage) ListChanges(ctx context.Context, filter types.ChangeFilter) ([]*types.ChangeRecord, error) {
	var where []string
	var args []any
	if filter.Path != "" {
		where = append(where, "path = ?")
		args = append(args, filter.Path)
	}
	if filter.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, filter.TaskID)
	}
	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	if !filter.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, filter.Until.UnixNano())
	}

	query := `SELECT seq, ` + changeColumns + ` FROM change_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query change records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*types.ChangeRecord
	for rows.Next() {
		var seq int64
		rec, err := scanChange(rows, &seq)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change records: %w", err)
	}

	// newest-first for LIMIT, reversed to append order
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// GetDiff loads an applied diff by ref.
func (s *SQLiteStorage) GetDiff(ctx context.Context, ref string) (*types.Diff, error) {
	d := &types.Diff{}
	err := s.db.QueryRowContext(ctx, `SELECT ref, path, body FROM diffs WHERE ref = ?`, ref).
		Scan(&d.Ref, &d.Path, &d.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("diff %s: %w", ref, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get diff: %w", err)
	}
	return d, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChange(row scanner, prefix ...any) (*types.ChangeRecord, error) {
	rec := &types.ChangeRecord{}
	var ts int64
	dest := append(prefix,
		&rec.ID, &rec.TaskID, &rec.RunID, &rec.Path, &rec.BackupRef, &rec.DiffRef,
		&rec.Outcome, &rec.Verification, &rec.Reverses, &ts,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	rec.Timestamp = time.Unix(0, ts)
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
