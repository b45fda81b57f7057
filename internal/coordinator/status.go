package coordinator

import (
	"context"
	"fmt"

	"github.com/steveyegge/autoprog/internal/storage"
	"github.com/steveyegge/autoprog/internal/types"
)

// DefaultHistoryRuns is how many runs the improvement history covers by
// default.
const DefaultHistoryRuns = 5

// Status is a read-only view of the workspace between batches.
type Status struct {
	Workspace string `json:"workspace"`
	// Snapshot is computed from a fresh scan.
	Snapshot *types.WorkspaceSnapshot `json:"snapshot"`
	// PendingMocks is the number of mock findings not yet converted.
	PendingMocks int `json:"pending_mocks"`
	// OpenTasks are tasks left PENDING or RUNNING by an earlier process.
	OpenTasks []*types.Task    `json:"open_tasks,omitempty"`
	LastRun   *types.RunRecord `json:"last_run,omitempty"`
	Lock      *storage.RunLock `json:"lock,omitempty"`
}

// Status scans the workspace and summarizes what remains to be done.
func (c *Coordinator) Status(ctx context.Context, exclude []string) (*Status, error) {
	scan, err := c.Scan(ctx, exclude)
	if err != nil {
		return nil, err
	}
	st := &Status{Workspace: c.root, Snapshot: Snapshot(scan)}
	for _, n := range st.Snapshot.ByPriority {
		st.PendingMocks += n
	}

	st.OpenTasks, err = c.store.ListTasks(ctx, types.TaskFilter{
		Statuses: []types.Status{types.StatusPending, types.StatusRunning},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list open tasks: %w", err)
	}

	runs, err := c.store.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) > 0 {
		st.LastRun = runs[0]
	}

	if st.Lock, err = storage.ReadRunLock(c.root); err != nil {
		return nil, err
	}
	return st, nil
}

// History summarizes recent runs, newest first.
type History struct {
	Runs []*types.RunRecord `json:"runs"`

	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	RolledBack int `json:"rolled_back"`
	// AvgSuccessRate is the mean of the runs' success rates, in percent.
	AvgSuccessRate float64 `json:"avg_success_rate"`
	// AvgMockRatioGain is the mean drop in mock ratio per run, in points.
	AvgMockRatioGain float64 `json:"avg_mock_ratio_gain"`
	// TotalMockRatioGain compares the oldest run's Before with the newest
	// run's After.
	TotalMockRatioGain float64 `json:"total_mock_ratio_gain"`
}

// ImprovementHistory loads the last n finished runs. n <= 0 means
// DefaultHistoryRuns.
func (c *Coordinator) ImprovementHistory(ctx context.Context, n int) (*History, error) {
	if n <= 0 {
		n = DefaultHistoryRuns
	}
	runs, err := c.store.ListRuns(ctx, 0)
	if err != nil {
		return nil, err
	}
	var finished []*types.RunRecord
	for _, r := range runs {
		if r.FinishedAt.IsZero() {
			continue
		}
		finished = append(finished, r)
		if len(finished) == n {
			break
		}
	}
	return summarize(finished), nil
}

func summarize(runs []*types.RunRecord) *History {
	h := &History{Runs: runs}
	if len(runs) == 0 {
		return h
	}

	var rate, gain float64
	for _, r := range runs {
		h.Completed += r.Completed
		h.Failed += r.Failed
		h.RolledBack += r.RolledBack
		rate += r.SuccessRate()
		gain += mockRatioGain(r.Before, r.After)
	}
	h.AvgSuccessRate = types.Round(rate/float64(len(runs)), 1)
	h.AvgMockRatioGain = types.Round(gain/float64(len(runs)), 1)
	h.TotalMockRatioGain = mockRatioGain(runs[len(runs)-1].Before, runs[0].After)
	return h
}

// mockRatioGain is how many points the mock ratio dropped from before to
// after. Growth shows as a negative gain.
func mockRatioGain(before, after *types.WorkspaceSnapshot) float64 {
	if before == nil || after == nil {
		return 0
	}
	return types.Round(before.MockRatio-after.MockRatio, 1)
}
