// Package tasks turns scanner findings into a prioritized, typed task set.
//
// Build is pure apart from id generation: identical findings produce the
// same tasks in the same order, which keeps re-runs idempotent.
package tasks

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/autoprog/internal/priorities"
	"github.com/steveyegge/autoprog/internal/types"
)

var kindTypes = map[types.FindingKind]types.TaskType{
	types.KindMock:        types.TaskConversion,
	types.KindMissing:     types.TaskCreation,
	types.KindLowQuality:  types.TaskReview,
	types.KindOptimizable: types.TaskOptimization,
	types.KindComplex:     types.TaskAnalysis,
}

// TypeFor returns the task type that remediates a finding kind.
func TypeFor(kind types.FindingKind) (types.TaskType, bool) {
	t, ok := kindTypes[kind]
	return t, ok
}

type slot struct {
	path string
	typ  types.TaskType
}

// Build groups findings into one task per (path, type). Pairs with an open
// task in open are skipped so repeated scans never duplicate pending work.
// The result is ordered by priority, path, first line and type order, and
// Seq records that position.
func Build(findings []*types.Finding, open []*types.Task) []*types.Task {
	busy := make(map[slot]bool)
	for _, t := range open {
		if t.Status.IsOpen() {
			busy[slot{t.Path, t.Type}] = true
		}
	}

	groups := make(map[slot][]*types.Finding)
	var order []slot
	for _, f := range findings {
		typ, ok := TypeFor(f.Kind)
		if !ok {
			continue
		}
		key := slot{f.Path, typ}
		if busy[key] {
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], f)
	}

	now := time.Now()
	out := make([]*types.Task, 0, len(order))
	for _, key := range order {
		group := groups[key]
		sortFindings(group)
		out = append(out, &types.Task{
			ID:        uuid.New().String(),
			Type:      key.typ,
			Priority:  priorities.ForFindings(group),
			Path:      key.path,
			Category:  dominantCategory(group),
			Findings:  group,
			Status:    types.StatusPending,
			Attempt:   1,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	Sort(out)
	for i, t := range out {
		t.Seq = i
	}
	return out
}

// Sort orders tasks by priority, then path, first line and type order.
func Sort(ts []*types.Task) {
	sort.SliceStable(ts, func(i, j int) bool { return Less(ts[i], ts[j]) })
}

// Less is the builder's total order over tasks.
func Less(a, b *types.Task) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() < b.Priority.Rank()
	}
	if a.Path != b.Path {
		return a.Path < b.Path
	}
	if a.FirstLine() != b.FirstLine() {
		return a.FirstLine() < b.FirstLine()
	}
	return a.Type.Order() < b.Type.Order()
}

// Retry creates a fresh PENDING task for the same work. RetryOf always
// points at the first attempt.
func Retry(t *types.Task) *types.Task {
	origin := t.RetryOf
	if origin == "" {
		origin = t.ID
	}
	now := time.Now()
	return &types.Task{
		ID:        uuid.New().String(),
		Type:      t.Type,
		Priority:  t.Priority,
		Path:      t.Path,
		Category:  t.Category,
		Findings:  t.Findings,
		Status:    types.StatusPending,
		RetryOf:   origin,
		Attempt:   t.Attempt + 1,
		Seq:       t.Seq,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// dominantCategory is the category of the most confident finding.
func dominantCategory(group []*types.Finding) types.Category {
	best := group[0]
	for _, f := range group[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}
	return best.Category
}

func sortFindings(fs []*types.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].LineStart != fs[j].LineStart {
			return fs[i].LineStart < fs[j].LineStart
		}
		if fs[i].Pattern != fs[j].Pattern {
			return fs[i].Pattern < fs[j].Pattern
		}
		return fs[i].ID < fs[j].ID
	})
}
