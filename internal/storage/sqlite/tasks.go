package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/autoprog/internal/types"
)

// SaveTask inserts a task or updates its mutable fields.
func (s *SQLiteStorage) SaveTask(ctx context.Context, runID string, task *types.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	findings, err := json.Marshal(task.Findings)
	if err != nil {
		return fmt.Errorf("failed to marshal findings: %w", err)
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = time.Now()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = task.UpdatedAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, run_id, type, priority, path, category, status,
			retry_of, attempt, error, seq, findings, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			priority = excluded.priority,
			status = excluded.status,
			error = excluded.error,
			seq = excluded.seq,
			findings = excluded.findings,
			updated_at = excluded.updated_at
	`,
		task.ID, runID, task.Type, task.Priority, task.Path, task.Category, task.Status,
		task.RetryOf, task.Attempt, task.Error, task.Seq, string(findings),
		task.CreatedAt.UnixNano(), task.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

const taskColumns = `id, type, priority, path, category, status, retry_of, attempt,
		       error, seq, findings, created_at, updated_at`

// GetTask loads a task by id.
func (s *SQLiteStorage) GetTask(ctx context.Context, id string) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListTasks returns matching tasks ordered by creation, then builder order.
func (s *SQLiteStorage) ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error) {
	var where []string
	var args []any
	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.Path != "" {
		where = append(where, "path = ?")
		args = append(args, filter.Path)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, seq ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return out, nil
}

func scanTask(row scanner) (*types.Task, error) {
	task := &types.Task{}
	var findings string
	var createdAt, updatedAt int64
	err := row.Scan(
		&task.ID, &task.Type, &task.Priority, &task.Path, &task.Category, &task.Status,
		&task.RetryOf, &task.Attempt, &task.Error, &task.Seq, &findings, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(findings), &task.Findings); err != nil {
		return nil, fmt.Errorf("failed to decode findings for task %s: %w", task.ID, err)
	}
	task.CreatedAt = time.Unix(0, createdAt)
	task.UpdatedAt = time.Unix(0, updatedAt)
	return task, nil
}
