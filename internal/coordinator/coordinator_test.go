package coordinator

import (
	"context"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	gotypes "go/types"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/autoprog/internal/config"
	"github.com/steveyegge/autoprog/internal/scanner"
	"github.com/steveyegge/autoprog/internal/storage"
	"github.com/steveyegge/autoprog/internal/types"
)

func placeholder(name, arg string) string {
	return "def " + name + "(" + arg + "):\n    raise NotImplementedError\n"
}

var fiveMocks = map[string]string{
	"vision/detector.py": placeholder("detect", "frame"),
	"audio/recorder.py":  placeholder("record", "seconds"),
	"neural/model.py":    placeholder("predict", "sample"),
	"memory/store.py":    placeholder("load", "key"),
	"network/client.py":  placeholder("send", "payload"),
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

// setupCoordinator opens a coordinator over a temp workspace holding files.
func setupCoordinator(t *testing.T, files map[string]string) *Coordinator {
	t.Helper()
	t.Setenv(storage.EnvDBPath, "")
	root := t.TempDir()
	writeFiles(t, root, files)

	c, err := Open(context.Background(), root, Options{
		Config: config.DefaultConfig(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func ofType(r *types.Report, typ types.TaskType) []*types.TaskResult {
	var out []*types.TaskResult
	for _, tr := range r.Tasks {
		if tr.Task.Type == typ {
			out = append(out, tr)
		}
	}
	return out
}

func outcomes(records []*types.ChangeRecord) []types.Outcome {
	out := make([]types.Outcome, len(records))
	for i, r := range records {
		out[i] = r.Outcome
	}
	return out
}

func TestRunBatchConvertsPlaceholders(t *testing.T) {
	ctx := context.Background()
	c := setupCoordinator(t, fiveMocks)

	report, err := c.RunBatch(ctx, 2, nil)
	require.NoError(t, err)

	conversions := ofType(report, types.TaskConversion)
	require.Len(t, conversions, 5)
	for _, tr := range conversions {
		assert.Equal(t, types.StatusDone, tr.Task.Status, "%s: %s", tr.Task.Path, tr.Task.Error)
		assert.False(t, tr.Skipped)
	}

	assert.Equal(t, 5, report.Before.MockFiles)
	assert.Equal(t, 100.0, report.Before.MockRatio)
	assert.Equal(t, 0, report.After.MockFiles)
	assert.Equal(t, 0.0, report.After.MockRatio)
	assert.Equal(t, -5, report.Delta.MockFiles)
	assert.False(t, report.Cancelled)

	for path := range fiveMocks {
		history, err := c.History(ctx, types.ChangeFilter{Path: path})
		require.NoError(t, err)
		assert.Equal(t, []types.Outcome{types.OutcomeBackup, types.OutcomeApplied, types.OutcomeVerified},
			outcomes(history), path)
		for _, rec := range history {
			assert.Equal(t, report.RunID, rec.RunID)
		}
		assert.NotContains(t, readFile(t, c.Root(), path), "NotImplementedError")
	}

	runs, err := c.Store().ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.RunID, runs[0].ID)
	assert.Equal(t, len(report.Tasks), runs[0].Completed)
	assert.Equal(t, 100.0, runs[0].SuccessRate())

	latest, err := c.Store().GetLatestReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, latest.RunID)
}

func TestRunBatchMockRatioNeverGrows(t *testing.T) {
	files := map[string]string{
		"util.py":  "def add(a, b):\n    return a + b\n",
		"notes.md": "not scanned\n",
	}
	for k, v := range fiveMocks {
		files[k] = v
	}
	c := setupCoordinator(t, files)

	first, err := c.RunBatch(context.Background(), 3, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, first.After.MockRatio, first.Before.MockRatio)

	second, err := c.RunBatch(context.Background(), 3, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, second.After.MockRatio, second.Before.MockRatio)
	assert.Empty(t, ofType(second, types.TaskConversion), "nothing left to convert")
}

func TestRunBatchHonorsExclude(t *testing.T) {
	files := map[string]string{
		"legacy/old.py":      placeholder("run", "job"),
		"vision/detector.py": placeholder("detect", "frame"),
	}
	c := setupCoordinator(t, files)

	report, err := c.RunBatch(context.Background(), 2, []string{"legacy/"})
	require.NoError(t, err)

	for _, tr := range report.Tasks {
		assert.False(t, strings.HasPrefix(tr.Task.Path, "legacy/"), tr.Task.Path)
	}
	assert.Equal(t, files["legacy/old.py"], readFile(t, c.Root(), "legacy/old.py"))

	scan, err := c.Scan(context.Background(), []string{"legacy/"})
	require.NoError(t, err)
	for _, f := range scan.Findings {
		assert.False(t, strings.HasPrefix(f.Path, "legacy/"), f.Path)
	}
}

func TestRunBatchConvertsGoPackage(t *testing.T) {
	ctx := context.Background()
	files := map[string]string{
		"tasks/queue.go":  "package tasks\n\nfunc Enqueue(job string) error {\n\tpanic(\"not implemented\")\n}\n",
		"tasks/worker.go": "package tasks\n\nfunc Work(job string) error {\n\tpanic(\"not implemented\")\n}\n",
	}
	c := setupCoordinator(t, files)

	report, err := c.RunBatch(ctx, 2, nil)
	require.NoError(t, err)
	conversions := ofType(report, types.TaskConversion)
	require.Len(t, conversions, 2)
	for _, tr := range conversions {
		assert.Equal(t, types.StatusDone, tr.Task.Status, "%s: %s", tr.Task.Path, tr.Task.Error)
	}
	assert.Equal(t, 0.0, report.After.MockRatio)

	// the converted package still compiles as a whole
	fset := token.NewFileSet()
	var parsed []*ast.File
	for path := range files {
		src := readFile(t, c.Root(), path)
		formatted, err := format.Source([]byte(src))
		require.NoError(t, err, path)
		assert.Equal(t, string(formatted), src, "%s is gofmt clean", path)

		f, err := parser.ParseFile(fset, path, src, 0)
		require.NoError(t, err, path)
		parsed = append(parsed, f)
	}
	_, err = (&gotypes.Config{}).Check("tasks", fset, parsed, nil)
	assert.NoError(t, err)
}

func TestRunBatchConvertsDespiteExistingCritical(t *testing.T) {
	ctx := context.Background()
	c := setupCoordinator(t, map[string]string{
		"neural/model.py": placeholder("predict", "sample") + "\n\ndef evaluate(expr):\n    return eval(expr)\n",
	})

	report, err := c.RunBatch(ctx, 1, nil)
	require.NoError(t, err)
	conversions := ofType(report, types.TaskConversion)
	require.Len(t, conversions, 1)
	assert.Equal(t, types.StatusDone, conversions[0].Task.Status, conversions[0].Task.Error)
	assert.Equal(t, 0.0, report.After.MockRatio)

	got := readFile(t, c.Root(), "neural/model.py")
	assert.NotContains(t, got, "NotImplementedError")
	assert.Contains(t, got, "return eval(expr)", "pre-existing code is left alone")
}

func TestRollbackLastRestoresOriginal(t *testing.T) {
	ctx := context.Background()
	c := setupCoordinator(t, fiveMocks)

	_, err := c.RunBatch(ctx, 2, nil)
	require.NoError(t, err)
	require.NotEqual(t, fiveMocks["memory/store.py"], readFile(t, c.Root(), "memory/store.py"))

	rec, err := c.RollbackLast(ctx, "memory/store.py")
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeRolledBack, rec.Outcome)
	assert.NotEmpty(t, rec.Reverses)
	assert.Equal(t, fiveMocks["memory/store.py"], readFile(t, c.Root(), "memory/store.py"))

	_, err = c.RollbackLast(ctx, "memory/store.py")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = c.RollbackLast(ctx, "../outside.py")
	assert.Error(t, err)
}

func TestPackageRollbackLastDiscoversWorkspace(t *testing.T) {
	ctx := context.Background()
	c := setupCoordinator(t, map[string]string{"vision/detector.py": fiveMocks["vision/detector.py"]})
	_, err := c.RunBatch(ctx, 1, nil)
	require.NoError(t, err)
	root := c.Root()
	require.NoError(t, c.Close())

	rec, err := RollbackLast(ctx, filepath.Join(root, "vision", "detector.py"))
	require.NoError(t, err)
	assert.Equal(t, "vision/detector.py", rec.Path)
	assert.Equal(t, fiveMocks["vision/detector.py"], readFile(t, root, "vision/detector.py"))
}

func TestRollbackLastRespectsRunLock(t *testing.T) {
	ctx := context.Background()
	c := setupCoordinator(t, map[string]string{"memory/store.py": fiveMocks["memory/store.py"]})
	_, err := c.RunBatch(ctx, 1, nil)
	require.NoError(t, err)
	converted := readFile(t, c.Root(), "memory/store.py")

	// another process is running a batch
	lockPath, err := storage.AcquireRunLock(c.Root(), "elsewhere")
	require.NoError(t, err)
	_, err = c.RollbackLast(ctx, "memory/store.py")
	require.Error(t, err)
	assert.True(t, IsLocked(err))
	assert.Equal(t, converted, readFile(t, c.Root(), "memory/store.py"))
	require.NoError(t, storage.ReleaseRunLock(lockPath))

	// this coordinator is running a batch
	c.runMu.Lock()
	_, err = c.RollbackLast(ctx, "memory/store.py")
	c.runMu.Unlock()
	assert.ErrorIs(t, err, ErrBatchInProgress)
	assert.Equal(t, converted, readFile(t, c.Root(), "memory/store.py"))

	rec, err := c.RollbackLast(ctx, "memory/store.py")
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeRolledBack, rec.Outcome)
	assert.Equal(t, fiveMocks["memory/store.py"], readFile(t, c.Root(), "memory/store.py"))

	lock, err := storage.ReadRunLock(c.Root())
	require.NoError(t, err)
	assert.Nil(t, lock, "rollback releases the run lock")
}

func TestRunBatchRecoversInterruptedTask(t *testing.T) {
	ctx := context.Background()
	c := setupCoordinator(t, map[string]string{"vision/detector.py": fiveMocks["vision/detector.py"]})

	// a previous process committed a change and died before verifying it
	stale := &types.Task{
		ID:       "stale",
		Type:     types.TaskConversion,
		Priority: types.PriorityCritical,
		Path:     "vision/detector.py",
		Category: types.CategoryVision,
		Status:   types.StatusRunning,
		Attempt:  1,
	}
	require.NoError(t, c.Store().SaveTask(ctx, "old-run", stale))
	led := c.ledger.ForRun("old-run")
	_, err := led.Backup(ctx, "stale", "vision/detector.py")
	require.NoError(t, err)
	_, err = led.Commit(ctx, "stale", "vision/detector.py", []byte("half written\n"))
	require.NoError(t, err)

	report, err := c.RunBatch(ctx, 1, nil)
	require.NoError(t, err)

	var recovered *types.TaskResult
	for _, tr := range report.Tasks {
		if tr.Task.ID == "stale" {
			recovered = tr
		}
	}
	require.NotNil(t, recovered)
	assert.True(t, recovered.Skipped)
	assert.Equal(t, SkipInterrupted, recovered.SkipReason)
	assert.Equal(t, types.StatusRolledBack, recovered.Task.Status)

	// the scan saw the restored placeholder and converted it afresh
	assert.Equal(t, 1, report.Before.MockFiles)
	assert.NotContains(t, readFile(t, c.Root(), "vision/detector.py"), "half written")

	history, err := c.History(ctx, types.ChangeFilter{TaskID: "stale"})
	require.NoError(t, err)
	assert.Equal(t, []types.Outcome{types.OutcomeBackup, types.OutcomeApplied, types.OutcomeRolledBack}, outcomes(history))

	saved, err := c.Store().GetTask(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRolledBack, saved.Status)
	assert.Equal(t, "interrupted", saved.Error)
}

func TestRunBatchResumesPendingTasks(t *testing.T) {
	ctx := context.Background()
	c := setupCoordinator(t, map[string]string{
		"vision/detector.py": fiveMocks["vision/detector.py"],
		"util.py":            "def add(a, b):\n    return a + b\n",
	})

	carried := &types.Task{
		ID: "carried", Type: types.TaskConversion, Priority: types.PriorityLow,
		Path: "vision/detector.py", Category: types.CategoryVision,
		Status: types.StatusPending, Attempt: 1,
	}
	gone := &types.Task{
		ID: "gone", Type: types.TaskConversion, Priority: types.PriorityLow,
		Path: "util.py", Category: types.CategoryGeneric,
		Status: types.StatusPending, Attempt: 1,
	}
	require.NoError(t, c.Store().SaveTask(ctx, "old-run", carried))
	require.NoError(t, c.Store().SaveTask(ctx, "old-run", gone))

	report, err := c.RunBatch(ctx, 2, nil)
	require.NoError(t, err)

	byID := make(map[string]*types.TaskResult)
	for _, tr := range report.Tasks {
		byID[tr.Task.ID] = tr
	}

	require.Contains(t, byID, "carried")
	assert.False(t, byID["carried"].Skipped)
	assert.Equal(t, types.StatusDone, byID["carried"].Task.Status)
	assert.Equal(t, types.PriorityCritical, byID["carried"].Task.Priority, "findings refreshed from the scan")
	assert.Len(t, ofType(report, types.TaskConversion), 2, "no duplicate task for the resumed slot")

	require.Contains(t, byID, "gone")
	assert.True(t, byID["gone"].Skipped)
	assert.Equal(t, SkipSuperseded, byID["gone"].SkipReason)
	assert.Equal(t, types.StatusFailed, byID["gone"].Task.Status)

	saved, err := c.Store().GetTask(ctx, "gone")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, saved.Status)
	assert.Equal(t, "superseded: no current finding", saved.Error)
	goneHistory, err := c.History(ctx, types.ChangeFilter{TaskID: "gone"})
	require.NoError(t, err)
	assert.Empty(t, goneHistory, "superseded task never touched the ledger")

	open, err := c.Store().ListTasks(ctx, types.TaskFilter{
		Statuses: []types.Status{types.StatusPending, types.StatusRunning},
	})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRunBatchRejectsLockedWorkspace(t *testing.T) {
	c := setupCoordinator(t, fiveMocks)

	lockPath, err := storage.AcquireRunLock(c.Root(), "elsewhere")
	require.NoError(t, err)
	defer func() { _ = storage.ReleaseRunLock(lockPath) }()

	_, err = c.RunBatch(context.Background(), 2, nil)
	require.Error(t, err)
	assert.True(t, IsLocked(err))
	assert.Equal(t, fiveMocks["vision/detector.py"], readFile(t, c.Root(), "vision/detector.py"))
}

func TestRunBatchCancelledBeforeStart(t *testing.T) {
	c := setupCoordinator(t, fiveMocks)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.RunBatch(ctx, 2, nil)
	assert.ErrorIs(t, err, context.Canceled)
	for path, content := range fiveMocks {
		assert.Equal(t, content, readFile(t, c.Root(), path))
	}
}

func TestRunBatchWritesArtifacts(t *testing.T) {
	c := setupCoordinator(t, fiveMocks)

	report, err := c.RunBatch(context.Background(), 2, nil)
	require.NoError(t, err)

	progress := readFile(t, c.Root(), filepath.Join(config.StateDir, ProgressFile))
	assert.Contains(t, progress, "# Autoprogramming Progress")
	assert.Contains(t, progress, report.RunID)
	assert.Contains(t, progress, "| Mock ratio | 100.0% | 0.0% | -100.0 |")

	prom := readFile(t, c.Root(), filepath.Join(config.StateDir, MetricsFile))
	assert.Contains(t, prom, "autoprog_coordinator_batches_total")
	assert.Contains(t, prom, `autoprog_scheduler_tasks_total{status="DONE",type="CONVERSION"} 5`)

	_, err = os.Stat(storage.LockPath(c.Root()))
	assert.True(t, os.IsNotExist(err), "run lock released")
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	c := setupCoordinator(t, map[string]string{
		"vision/detector.py": fiveMocks["vision/detector.py"],
		"util.py":            "def add(a, b):\n    return a + b\n",
	})

	st, err := c.Status(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, st.PendingMocks)
	assert.Equal(t, 1, st.Snapshot.ByPriority[types.PriorityCritical])
	assert.Equal(t, 50.0, st.Snapshot.MockRatio)
	assert.Nil(t, st.LastRun)
	assert.Nil(t, st.Lock)
	assert.Empty(t, st.OpenTasks)

	_, err = c.RunBatch(ctx, 1, nil)
	require.NoError(t, err)

	st, err = c.Status(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, st.PendingMocks)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, 1, st.LastRun.Completed)
}

func TestImprovementHistory(t *testing.T) {
	ctx := context.Background()
	c := setupCoordinator(t, map[string]string{"vision/detector.py": fiveMocks["vision/detector.py"]})

	h, err := c.ImprovementHistory(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, h.Runs)

	first, err := c.RunBatch(ctx, 1, nil)
	require.NoError(t, err)
	second, err := c.RunBatch(ctx, 1, nil)
	require.NoError(t, err)

	h, err = c.ImprovementHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, h.Runs, 2)
	assert.Equal(t, second.RunID, h.Runs[0].ID)
	assert.Equal(t, first.RunID, h.Runs[1].ID)
	assert.Equal(t, 1, h.Completed)
	assert.Equal(t, 100.0, h.TotalMockRatioGain)
	assert.Equal(t, 50.0, h.AvgMockRatioGain)

	h, err = c.ImprovementHistory(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, h.Runs, 1)
}

func TestBatchInProgress(t *testing.T) {
	c := setupCoordinator(t, nil)
	c.runMu.Lock()
	defer c.runMu.Unlock()

	_, err := c.RunBatch(context.Background(), 1, nil)
	assert.ErrorIs(t, err, ErrBatchInProgress)
}

func TestSnapshot(t *testing.T) {
	scan := &scanner.ScanResult{
		Files: []*scanner.FileResult{
			{Path: "a.py", Category: types.CategoryVision, Quality: 80, Complexity: 10, Maintainability: 90, Mock: true},
			{Path: "b.py", Category: types.CategoryVision, Quality: 60, Complexity: 20, Maintainability: 70, Mock: true},
			{Path: "c.py", Category: types.CategoryGeneric, Quality: 100, Complexity: 5, Maintainability: 95},
		},
		Findings: []*types.Finding{
			{Path: "a.py", Kind: types.KindMock, Category: types.CategoryVision, Confidence: 0.9},
			{Path: "b.py", Kind: types.KindMock, Category: types.CategoryVision, Confidence: 0.5},
			{Path: "c.py", Kind: types.KindOptimizable, Category: types.CategoryGeneric, Confidence: 0.35},
		},
	}

	snap := Snapshot(scan)
	assert.Equal(t, 3, snap.TotalFiles)
	assert.Equal(t, 2, snap.MockFiles)
	assert.Equal(t, 66.7, snap.MockRatio)
	assert.Equal(t, map[types.Category]int{types.CategoryVision: 2}, snap.ByCategory)
	assert.Equal(t, map[types.Priority]int{types.PriorityCritical: 1, types.PriorityMedium: 1}, snap.ByPriority)
	assert.Equal(t, 80.0, snap.AvgQuality)
	assert.Equal(t, 11.7, snap.AvgComplexity)
	assert.Equal(t, 85.0, snap.AvgMaintainability)

	empty := Snapshot(&scanner.ScanResult{})
	assert.Zero(t, empty.MockRatio)
	assert.Zero(t, empty.AvgQuality)
}

func TestDiffSnapshots(t *testing.T) {
	tests := []struct {
		name          string
		before, after *types.WorkspaceSnapshot
		want          types.SnapshotDelta
	}{
		{
			name:   "improvement",
			before: &types.WorkspaceSnapshot{MockFiles: 4, MockRatio: 40, AvgQuality: 70.2},
			after:  &types.WorkspaceSnapshot{MockFiles: 1, MockRatio: 10, AvgQuality: 75.5},
			want:   types.SnapshotDelta{MockFiles: -3, MockRatio: -30, AvgQuality: 5.3},
		},
		{
			name:  "nil before",
			after: &types.WorkspaceSnapshot{MockFiles: 2, MockRatio: 20},
			want:  types.SnapshotDelta{MockFiles: 2, MockRatio: 20},
		},
		{
			name: "both nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DiffSnapshots(tt.before, tt.after)
			if got != tt.want {
				t.Errorf("DiffSnapshots() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	c := setupCoordinator(t, map[string]string{"vision/detector.py": fiveMocks["vision/detector.py"]})

	snap, err := PreviousSnapshot(ctx, c.Store())
	require.NoError(t, err)
	assert.Nil(t, snap)

	report, err := c.RunBatch(ctx, 1, nil)
	require.NoError(t, err)

	snap, err = PreviousSnapshot(ctx, c.Store())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, report.After.MockRatio, snap.MockRatio)
}

func TestRelPath(t *testing.T) {
	c := &Coordinator{root: filepath.FromSlash("/work/space")}
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "a/b.py", want: "a/b.py"},
		{in: "./a/../b.py", want: "b.py"},
		{in: filepath.FromSlash("/work/space/x.go"), want: "x.go"},
		{in: "../escape.py", wantErr: true},
		{in: filepath.FromSlash("/elsewhere/x.go"), wantErr: true},
		{in: ".", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := c.relPath(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("relPath(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("relPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
