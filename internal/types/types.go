package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Category is the closed set of component categories a file can belong to.
// It is resolved once by the scanner and never re-derived downstream.
type Category string

const (
	CategoryVision  Category = "vision"
	CategoryAudio   Category = "audio"
	CategoryML      Category = "ml"
	CategoryMemory  Category = "memory"
	CategoryNetwork Category = "network"
	CategoryTasks   Category = "tasks"
	CategoryGeneric Category = "generic"
)

// AllCategories returns every category in tie-break order.
func AllCategories() []Category {
	return []Category{
		CategoryVision, CategoryAudio, CategoryML, CategoryMemory,
		CategoryNetwork, CategoryTasks, CategoryGeneric,
	}
}

// IsValid checks if the category value is valid
func (c Category) IsValid() bool {
	switch c {
	case CategoryVision, CategoryAudio, CategoryML, CategoryMemory,
		CategoryNetwork, CategoryTasks, CategoryGeneric:
		return true
	}
	return false
}

// IsCore reports whether the category is core infrastructure.
// Core findings are never scheduled below HIGH.
func (c Category) IsCore() bool {
	switch c {
	case CategoryMemory, CategoryNetwork, CategoryTasks:
		return true
	}
	return false
}

// FindingKind describes what the scanner detected.
type FindingKind string

const (
	KindMock        FindingKind = "mock"
	KindLowQuality  FindingKind = "low_quality"
	KindMissing     FindingKind = "missing"
	KindOptimizable FindingKind = "optimizable"
	KindComplex     FindingKind = "complex"
)

// IsValid checks if the finding kind value is valid
func (k FindingKind) IsValid() bool {
	switch k {
	case KindMock, KindLowQuality, KindMissing, KindOptimizable, KindComplex:
		return true
	}
	return false
}

// TaskType maps one-to-one onto a worker.
type TaskType string

const (
	TaskAnalysis     TaskType = "ANALYSIS"
	TaskCreation     TaskType = "CREATION"
	TaskReview       TaskType = "REVIEW"
	TaskOptimization TaskType = "OPTIMIZATION"
	TaskConversion   TaskType = "CONVERSION"
)

// AllTaskTypes returns task types in their stable ordering.
func AllTaskTypes() []TaskType {
	return []TaskType{TaskAnalysis, TaskCreation, TaskReview, TaskOptimization, TaskConversion}
}

// IsValid checks if the task type value is valid
func (t TaskType) IsValid() bool {
	switch t {
	case TaskAnalysis, TaskCreation, TaskReview, TaskOptimization, TaskConversion:
		return true
	}
	return false
}

// Mutates reports whether tasks of this type modify files on disk.
func (t TaskType) Mutates() bool {
	switch t {
	case TaskConversion, TaskCreation, TaskOptimization:
		return true
	}
	return false
}

// Order is the position of t in AllTaskTypes, used as the last sort key.
func (t TaskType) Order() int {
	for i, tt := range AllTaskTypes() {
		if tt == t {
			return i
		}
	}
	return len(AllTaskTypes())
}

// Priority of a task. Lower Rank runs first.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// AllPriorities returns priorities in processing order.
func AllPriorities() []Priority {
	return []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
}

// IsValid checks if the priority value is valid
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Rank returns 0 for CRITICAL through 3 for LOW.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	}
	return 3
}

// AtLeast returns the more urgent of p and floor.
func (p Priority) AtLeast(floor Priority) Priority {
	if floor.Rank() < p.Rank() {
		return floor
	}
	return p
}

// Status represents the lifecycle state of a task
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusRunning    Status = "RUNNING"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
	StatusRolledBack Status = "ROLLED_BACK"
)

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusDone, StatusFailed, StatusRolledBack:
		return true
	}
	return false
}

// IsOpen reports whether a task in this status still occupies its (path, type) slot.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusRunning
}

// Finding is a single scanner detection. Findings are immutable once produced.
type Finding struct {
	ID             string      `json:"id"`
	Path           string      `json:"path"`
	LineStart      int         `json:"line_start"`
	LineEnd        int         `json:"line_end"`
	Category       Category    `json:"category"`
	Kind           FindingKind `json:"kind"`
	Confidence     float64     `json:"confidence"`
	Pattern        string      `json:"pattern"`
	Description    string      `json:"description"`
	ReferencedFrom string      `json:"referenced_from,omitempty"` // missing-module findings only
	Symbols        []string    `json:"symbols,omitempty"`         // names the referencing file expects
}

// FindingID returns the deterministic identifier for a finding.
func FindingID(path string, kind FindingKind, pattern string, line int) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(pattern))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(line)))
	return "f-" + hex.EncodeToString(h.Sum(nil))[:12]
}

// Validate checks if the finding has valid field values
func (f *Finding) Validate() error {
	if f.Path == "" {
		return fmt.Errorf("path is required")
	}
	if !f.Kind.IsValid() {
		return fmt.Errorf("invalid finding kind: %s", f.Kind)
	}
	if !f.Category.IsValid() {
		return fmt.Errorf("invalid category: %s", f.Category)
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1 (got %f)", f.Confidence)
	}
	if f.LineEnd < f.LineStart {
		return fmt.Errorf("line_end %d before line_start %d", f.LineEnd, f.LineStart)
	}
	return nil
}

// Task is a unit of remediation work for exactly one file.
type Task struct {
	ID        string     `json:"id"`
	Type      TaskType   `json:"type"`
	Priority  Priority   `json:"priority"`
	Path      string     `json:"path"`
	Category  Category   `json:"category"`
	Findings  []*Finding `json:"findings"`
	Status    Status     `json:"status"`
	RetryOf   string     `json:"retry_of,omitempty"`
	Attempt   int        `json:"attempt"`
	Error     string     `json:"error,omitempty"`
	Seq       int        `json:"seq"` // position in the builder's ordering
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Validate checks if the task has valid field values
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Path == "" {
		return fmt.Errorf("path is required")
	}
	if !t.Type.IsValid() {
		return fmt.Errorf("invalid task type: %s", t.Type)
	}
	if !t.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", t.Priority)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", t.Status)
	}
	return nil
}

// MaxConfidence returns the highest confidence among the task's findings.
func (t *Task) MaxConfidence() float64 {
	var best float64
	for _, f := range t.Findings {
		if f.Confidence > best {
			best = f.Confidence
		}
	}
	return best
}

// FirstLine returns the smallest start line among the task's findings.
func (t *Task) FirstLine() int {
	first := 0
	for i, f := range t.Findings {
		if i == 0 || f.LineStart < first {
			first = f.LineStart
		}
	}
	return first
}

// CanTransition reports whether the task may move from its current status to next.
func (t *Task) CanTransition(next Status) bool {
	switch t.Status {
	case StatusPending:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusDone || next == StatusFailed
	case StatusFailed:
		return next == StatusRolledBack && t.Type.Mutates()
	}
	return false
}

// Transition moves the task to next or returns ErrInvalidTransition.
func (t *Task) Transition(next Status) error {
	if !next.IsValid() {
		return fmt.Errorf("invalid status: %s", next)
	}
	if !t.CanTransition(next) {
		return fmt.Errorf("%w: task %s (%s) %s -> %s", ErrInvalidTransition, t.ID, t.Type, t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = time.Now()
	return nil
}

// Supersede fails a PENDING task that will never run because its finding is
// gone. It is the only way out of PENDING that does not pass through RUNNING.
func (t *Task) Supersede(reason string) error {
	if t.Status != StatusPending {
		return fmt.Errorf("%w: task %s (%s) %s is not pending", ErrInvalidTransition, t.ID, t.Type, t.Status)
	}
	t.Status = StatusFailed
	t.Error = reason
	t.UpdatedAt = time.Now()
	return nil
}

// Severity of a review issue
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// AllSeverities returns severities from most to least severe.
func AllSeverities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
}

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Penalty is the quality-score weight of one issue of this severity.
func (s Severity) Penalty() int {
	switch s {
	case SeverityCritical:
		return 20
	case SeverityHigh:
		return 10
	case SeverityMedium:
		return 5
	case SeverityLow:
		return 2
	}
	return 1
}

// IssueCategory groups review issues
type IssueCategory string

const (
	IssueSecurity    IssueCategory = "security"
	IssuePerformance IssueCategory = "performance"
	IssueStyle       IssueCategory = "style"
	IssueCorrectness IssueCategory = "correctness"
)

// IsValid checks if the issue category value is valid
func (c IssueCategory) IsValid() bool {
	switch c {
	case IssueSecurity, IssuePerformance, IssueStyle, IssueCorrectness:
		return true
	}
	return false
}

// Issue is a single problem reported by a worker or the scanner.
type Issue struct {
	Severity Severity      `json:"severity"`
	Category IssueCategory `json:"category"`
	Message  string        `json:"message"`
	Location string        `json:"location"` // path:line
	Rule     string        `json:"rule,omitempty"`
	TaskID   string        `json:"task_id,omitempty"`
}

// Loc formats a path:line location.
func Loc(path string, line int) string {
	if line <= 0 {
		return path
	}
	return fmt.Sprintf("%s:%d", path, line)
}

// QualityReport is produced per file by the Analyzer and Reviewer. A later
// report for the same path supersedes an earlier one.
type QualityReport struct {
	Path            string    `json:"path"`
	Quality         int       `json:"quality"`
	Complexity      int       `json:"complexity"`
	Maintainability int       `json:"maintainability"`
	Lines           int       `json:"lines"`
	Functions       int       `json:"functions"`
	Issues          []Issue   `json:"issues"`
	ContentHash     string    `json:"content_hash"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// HasSeverity reports whether any issue has severity s.
func (q *QualityReport) HasSeverity(s Severity) bool {
	for _, is := range q.Issues {
		if is.Severity == s {
			return true
		}
	}
	return false
}
