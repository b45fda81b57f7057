package coordinator

import (
	"context"

	"github.com/steveyegge/autoprog/internal/priorities"
	"github.com/steveyegge/autoprog/internal/scanner"
	"github.com/steveyegge/autoprog/internal/storage"
	"github.com/steveyegge/autoprog/internal/types"
)

// Snapshot derives workspace metrics from a scan. ByCategory counts mock
// files per category; ByPriority counts mock findings per priority tier.
// Averages are over every scanned file, rounded to one decimal.
func Snapshot(scan *scanner.ScanResult) *types.WorkspaceSnapshot {
	snap := &types.WorkspaceSnapshot{
		TotalFiles: len(scan.Files),
		ByCategory: make(map[types.Category]int),
		ByPriority: make(map[types.Priority]int),
		TakenAt:    scan.ScannedAt,
	}

	var quality, complexity, maintainability int
	for _, f := range scan.Files {
		quality += f.Quality
		complexity += f.Complexity
		maintainability += f.Maintainability
		if f.Mock {
			snap.MockFiles++
			snap.ByCategory[f.Category]++
		}
	}
	for _, f := range scan.Findings {
		if f.Kind == types.KindMock {
			snap.ByPriority[priorities.ForFinding(f)]++
		}
	}

	snap.MockRatio = types.MockRatio(snap.MockFiles, snap.TotalFiles)
	if n := len(scan.Files); n > 0 {
		snap.AvgQuality = types.Round(float64(quality)/float64(n), 1)
		snap.AvgComplexity = types.Round(float64(complexity)/float64(n), 1)
		snap.AvgMaintainability = types.Round(float64(maintainability)/float64(n), 1)
	}
	return snap
}

// DiffSnapshots returns after minus before. A nil side counts as empty.
func DiffSnapshots(before, after *types.WorkspaceSnapshot) types.SnapshotDelta {
	if before == nil {
		before = &types.WorkspaceSnapshot{}
	}
	if after == nil {
		after = &types.WorkspaceSnapshot{}
	}
	return types.SnapshotDelta{
		MockFiles:          after.MockFiles - before.MockFiles,
		MockRatio:          types.Round(after.MockRatio-before.MockRatio, 1),
		AvgQuality:         types.Round(after.AvgQuality-before.AvgQuality, 1),
		AvgComplexity:      types.Round(after.AvgComplexity-before.AvgComplexity, 1),
		AvgMaintainability: types.Round(after.AvgMaintainability-before.AvgMaintainability, 1),
	}
}

// PreviousSnapshot returns the After snapshot of the most recent finished
// run, or nil when there is none. Recurring callers compare it with a fresh
// Snapshot to see drift between batches.
func PreviousSnapshot(ctx context.Context, store storage.Storage) (*types.WorkspaceSnapshot, error) {
	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if !r.FinishedAt.IsZero() && r.After != nil {
			return r.After, nil
		}
	}
	return nil, nil
}
