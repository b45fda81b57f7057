package types

import (
	"fmt"
	"time"
)

// Outcome of a ledger entry
type Outcome string

const (
	OutcomeBackup     Outcome = "BACKUP"
	OutcomeApplied    Outcome = "APPLIED"
	OutcomeVerified   Outcome = "VERIFIED"
	OutcomeFailed     Outcome = "FAILED"
	OutcomeRolledBack Outcome = "ROLLED_BACK"
)

// IsValid checks if the outcome value is valid
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeBackup, OutcomeApplied, OutcomeVerified, OutcomeFailed, OutcomeRolledBack:
		return true
	}
	return false
}

// ChangeRecord is one append-only ledger entry.
type ChangeRecord struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	RunID        string    `json:"run_id,omitempty"`
	Path         string    `json:"path"`
	BackupRef    string    `json:"backup_ref,omitempty"`
	DiffRef      string    `json:"diff_ref,omitempty"`
	Outcome      Outcome   `json:"outcome"`
	Verification string    `json:"verification,omitempty"`
	Reverses     string    `json:"reverses,omitempty"` // record id undone by a ROLLED_BACK entry
	Timestamp    time.Time `json:"timestamp"`
}

// Validate checks if the record has valid field values
func (c *ChangeRecord) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	if !c.Outcome.IsValid() {
		return fmt.Errorf("invalid outcome: %s", c.Outcome)
	}
	if c.Outcome != OutcomeBackup && c.Outcome != OutcomeRolledBack && c.TaskID == "" {
		return fmt.Errorf("task_id is required for %s records", c.Outcome)
	}
	return nil
}

// Backup is a stored copy of a file's bytes, addressed by content hash.
type Backup struct {
	Ref     string `json:"ref"`
	Path    string `json:"path"`
	Absent  bool   `json:"absent"` // file did not exist when backed up
	Content []byte `json:"-"`
}

// ChangeFilter narrows history queries. Zero values match everything.
type ChangeFilter struct {
	Path    string
	TaskID  string
	RunID   string
	Outcome Outcome
	Since   time.Time
	Until   time.Time
	Limit   int
}

// RunRecord summarizes a finished batch for history and trend reports.
type RunRecord struct {
	ID         string             `json:"id"`
	Workspace  string             `json:"workspace"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Completed  int                `json:"completed"`
	Failed     int                `json:"failed"`
	RolledBack int                `json:"rolled_back"`
	Pending    int                `json:"pending"`
	Cancelled  bool               `json:"cancelled"`
	Before     *WorkspaceSnapshot `json:"before"`
	After      *WorkspaceSnapshot `json:"after"`
}

// SuccessRate is completed tasks over attempted tasks, as a percentage.
func (r *RunRecord) SuccessRate() float64 {
	attempted := r.Completed + r.Failed + r.RolledBack
	if attempted == 0 {
		return 0
	}
	return float64(r.Completed) / float64(attempted) * 100
}

// Diff is the stored text of an applied change.
type Diff struct {
	Ref  string `json:"ref"`
	Path string `json:"path"`
	Text string `json:"text"`
}

// TaskFilter narrows task queries. Zero values match everything.
type TaskFilter struct {
	RunID    string
	Path     string
	Statuses []Status
	Limit    int
}
