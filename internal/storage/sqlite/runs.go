package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/autoprog/internal/types"
)

// SaveRun inserts or replaces a run summary. report may be nil while the run
// is still in progress.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run *types.RunRecord, report *types.Report) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	before, err := marshalNullable(run.Before)
	if err != nil {
		return fmt.Errorf("failed to marshal before snapshot: %w", err)
	}
	after, err := marshalNullable(run.After)
	if err != nil {
		return fmt.Errorf("failed to marshal after snapshot: %w", err)
	}
	rep, err := marshalNullable(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	var finished int64
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UnixNano()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, workspace, started_at, finished_at, completed, failed,
			rolled_back, pending, cancelled, before_snapshot, after_snapshot, report
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			completed = excluded.completed,
			failed = excluded.failed,
			rolled_back = excluded.rolled_back,
			pending = excluded.pending,
			cancelled = excluded.cancelled,
			before_snapshot = excluded.before_snapshot,
			after_snapshot = excluded.after_snapshot,
			report = COALESCE(excluded.report, runs.report)
	`,
		run.ID, run.Workspace, run.StartedAt.UnixNano(), finished, run.Completed, run.Failed,
		run.RolledBack, run.Pending, run.Cancelled, before, after, rep,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 returns all.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]*types.RunRecord, error) {
	query := `
		SELECT id, workspace, started_at, finished_at, completed, failed,
		       rolled_back, pending, cancelled, before_snapshot, after_snapshot
		FROM runs
		ORDER BY started_at DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*types.RunRecord
	for rows.Next() {
		run := &types.RunRecord{}
		var started, finished int64
		var before, after sql.NullString
		if err := rows.Scan(
			&run.ID, &run.Workspace, &started, &finished, &run.Completed, &run.Failed,
			&run.RolledBack, &run.Pending, &run.Cancelled, &before, &after,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = time.Unix(0, started)
		if finished > 0 {
			run.FinishedAt = time.Unix(0, finished)
		}
		if run.Before, err = unmarshalSnapshot(before); err != nil {
			return nil, err
		}
		if run.After, err = unmarshalSnapshot(after); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}

// GetLatestReport returns the report of the most recent finished run.
func (s *SQLiteStorage) GetLatestReport(ctx context.Context) (*types.Report, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT report FROM runs
		WHERE report IS NOT NULL
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest report: %w", types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest report: %w", err)
	}
	report := &types.Report{}
	if err := json.Unmarshal([]byte(body), report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return report, nil
}

func marshalNullable(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case *types.WorkspaceSnapshot:
		if x == nil {
			return sql.NullString{}, nil
		}
	case *types.Report:
		if x == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalSnapshot(s sql.NullString) (*types.WorkspaceSnapshot, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	snap := &types.WorkspaceSnapshot{}
	if err := json.Unmarshal([]byte(s.String), snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}
