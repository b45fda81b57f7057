package types

import (
	"math"
	"time"
)

// WorkspaceSnapshot holds aggregate workspace metrics at one point in time.
type WorkspaceSnapshot struct {
	TotalFiles         int              `json:"total_files"`
	MockFiles          int              `json:"mock_files"`
	MockRatio          float64          `json:"mock_ratio"` // percent, one decimal
	ByCategory         map[Category]int `json:"by_category"`
	ByPriority         map[Priority]int `json:"by_priority"`
	AvgQuality         float64          `json:"avg_quality"`
	AvgComplexity      float64          `json:"avg_complexity"`
	AvgMaintainability float64          `json:"avg_maintainability"`
	TakenAt            time.Time        `json:"taken_at"`
}

// MockRatio computes 100 * mockFiles / totalFiles rounded to one decimal.
// An empty workspace has ratio 0.
func MockRatio(mockFiles, totalFiles int) float64 {
	if totalFiles <= 0 {
		return 0
	}
	return Round(float64(mockFiles)/float64(totalFiles)*100, 1)
}

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// SnapshotDelta is After minus Before for the headline metrics.
type SnapshotDelta struct {
	MockFiles          int     `json:"mock_files"`
	MockRatio          float64 `json:"mock_ratio"`
	AvgQuality         float64 `json:"avg_quality"`
	AvgComplexity      float64 `json:"avg_complexity"`
	AvgMaintainability float64 `json:"avg_maintainability"`
}

// TaskResult is a task plus what happened to it during a run.
type TaskResult struct {
	Task             *Task    `json:"task"`
	Skipped          bool     `json:"skipped,omitempty"`
	SkipReason       string   `json:"skip_reason,omitempty"`
	Deferrals        int      `json:"deferrals,omitempty"`
	Message          string   `json:"message,omitempty"`
	PerformanceDelta float64  `json:"performance_delta,omitempty"`
	ChangeIDs        []string `json:"change_ids,omitempty"`
	Duration         string   `json:"duration,omitempty"`
}

// Report is the outward-facing result of one batch.
type Report struct {
	RunID          string               `json:"run_id"`
	Workspace      string               `json:"workspace"`
	StartedAt      time.Time            `json:"started_at"`
	Elapsed        time.Duration        `json:"elapsed"`
	Cancelled      bool                 `json:"cancelled"`
	Before         *WorkspaceSnapshot   `json:"before"`
	After          *WorkspaceSnapshot   `json:"after"`
	Delta          SnapshotDelta        `json:"delta"`
	Tasks          []*TaskResult        `json:"tasks"`
	Changes        []*ChangeRecord      `json:"changes"`
	Issues         map[Severity][]Issue `json:"issues"`
	QualityReports []*QualityReport     `json:"quality_reports"`
	Discarded      int                  `json:"discarded_matches"`
	Conflicts      int                  `json:"concurrency_conflicts"`
}

// CountByStatus tallies task results by final status.
func (r *Report) CountByStatus() map[Status]int {
	counts := make(map[Status]int)
	for _, tr := range r.Tasks {
		counts[tr.Task.Status]++
	}
	return counts
}
