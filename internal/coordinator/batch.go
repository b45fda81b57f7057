package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/autoprog/internal/config"
	"github.com/steveyegge/autoprog/internal/ledger"
	"github.com/steveyegge/autoprog/internal/metrics"
	"github.com/steveyegge/autoprog/internal/scanner"
	"github.com/steveyegge/autoprog/internal/scheduler"
	"github.com/steveyegge/autoprog/internal/storage"
	"github.com/steveyegge/autoprog/internal/tasks"
	"github.com/steveyegge/autoprog/internal/types"
	"github.com/steveyegge/autoprog/internal/workers"
)

const (
	traceScope     = "autoprog.coordinator"
	traceSpanBatch = "autoprog.batch"

	traceAttrRunID     = "autoprog.run_id"
	traceAttrWorkspace = "autoprog.workspace"
	traceAttrTasks     = "autoprog.tasks"
	traceAttrCancelled = "autoprog.cancelled"
)

// Skip reasons for tasks carried over from an earlier process.
const (
	SkipSuperseded  = "superseded"
	SkipInterrupted = "interrupted"
)

// RunBatch performs one remediation batch: scan, build tasks, run them with at
// most maxConcurrency in flight, rescan and report. Paths matching exclude
// are skipped by both scans. Task failures are contained in the report; an
// error is returned only when the batch itself cannot run.
func (c *Coordinator) RunBatch(ctx context.Context, maxConcurrency int, exclude []string) (*types.Report, error) {
	if !c.runMu.TryLock() {
		return nil, ErrBatchInProgress
	}
	defer c.runMu.Unlock()

	if maxConcurrency < 1 {
		maxConcurrency = c.cfg.MaxConcurrency
	}

	runID := uuid.New().String()
	lockPath, err := storage.AcquireRunLock(c.root, runID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := storage.ReleaseRunLock(lockPath); err != nil {
			c.logger.Warn("failed to release run lock", "path", lockPath, "error", err)
		}
	}()

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}()

	batchCtx, span := otel.Tracer(traceScope).Start(batchCtx, traceSpanBatch, trace.WithAttributes(
		attribute.String(traceAttrRunID, runID),
		attribute.String(traceAttrWorkspace, c.root),
	))
	defer span.End()

	report, err := c.runBatch(batchCtx, runID, maxConcurrency, exclude)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int(traceAttrTasks, len(report.Tasks)),
		attribute.Bool(traceAttrCancelled, report.Cancelled),
	)
	span.SetStatus(codes.Ok, "")
	return report, nil
}

func (c *Coordinator) runBatch(ctx context.Context, runID string, maxConcurrency int, exclude []string) (*types.Report, error) {
	started := time.Now()
	logger := c.logger.With("run", runID)
	led := c.ledger.ForRun(runID)

	rec := &recovery{}
	if err := c.recoverInterrupted(ctx, led, runID, rec); err != nil {
		return nil, err
	}

	before, err := c.Scan(ctx, exclude)
	if err != nil {
		return nil, err
	}
	beforeSnap := Snapshot(before)

	run := &types.RunRecord{ID: runID, Workspace: c.root, StartedAt: started, Before: beforeSnap}
	if err := c.store.SaveRun(ctx, run, nil); err != nil {
		return nil, err
	}

	if err := c.resumePending(ctx, runID, before, rec); err != nil {
		return nil, err
	}

	batch := plan(before.Findings, rec.resumed)
	for _, t := range batch {
		if err := c.store.SaveTask(ctx, runID, t); err != nil {
			return nil, fmt.Errorf("failed to save task %s: %w", t.ID, err)
		}
	}
	logger.Info("batch planned",
		"files", len(before.Files),
		"findings", len(before.Findings),
		"tasks", len(batch),
		"resumed", len(rec.resumed),
		"max_concurrency", maxConcurrency)

	rc, err := c.newRunContext(runID)
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(c.workers, led, rc, scheduler.Config{
		MaxRetries:    c.cfg.MaxRetries,
		RatePerSecond: c.cfg.RatePerSecond,
		RateBurst:     c.cfg.RateBurst,
		Store:         c.store,
		Metrics:       c.metrics,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	results, err := sched.Run(ctx, batch, maxConcurrency)
	if err != nil {
		return nil, err
	}

	// the rest of the batch is bookkeeping and must finish even if the caller
	// cancelled
	final := context.WithoutCancel(ctx)

	after, err := c.Scan(final, exclude)
	if err != nil {
		return nil, fmt.Errorf("post-batch scan failed: %w", err)
	}
	afterSnap := Snapshot(after)

	report := &types.Report{
		RunID:          runID,
		Workspace:      c.root,
		StartedAt:      started,
		Cancelled:      results.Cancelled,
		Before:         beforeSnap,
		After:          afterSnap,
		Delta:          DiffSnapshots(beforeSnap, afterSnap),
		Tasks:          append(rec.results, results.Tasks...),
		Changes:        append(rec.changes, results.Changes...),
		Issues:         groupIssues(before.Issues, results.Issues),
		QualityReports: rc.Reports(),
		Discarded:      before.Discarded,
		Conflicts:      results.Conflicts,
	}
	report.Elapsed = time.Since(started)

	run.FinishedAt = time.Now()
	run.Cancelled = report.Cancelled
	run.After = afterSnap
	countResults(run, report.Tasks)
	if err := c.store.SaveRun(final, run, report); err != nil {
		return nil, err
	}

	c.metrics.BatchFinished(report.Cancelled)
	c.writeArtifacts(final, report)

	logger.Info("batch finished",
		"completed", run.Completed,
		"failed", run.Failed,
		"rolled_back", run.RolledBack,
		"pending", run.Pending,
		"cancelled", run.Cancelled,
		"mock_ratio_before", beforeSnap.MockRatio,
		"mock_ratio_after", afterSnap.MockRatio,
		"elapsed", report.Elapsed.Round(time.Millisecond))
	return report, nil
}

func (c *Coordinator) newRunContext(runID string) (*workers.RunContext, error) {
	opts, err := scanner.OptionsFromConfig(c.cfg)
	if err != nil {
		return nil, err
	}
	return workers.NewRunContext(workers.RunContextConfig{
		RunID:                    runID,
		Root:                     c.root,
		Logger:                   c.logger.With("run", runID),
		Reviewer:                 c.reviewer,
		Synthesizer:              c.synth,
		MockPatterns:             opts.MockPatterns,
		ConfidenceThreshold:      c.cfg.ConfidenceThreshold,
		MaintainabilityThreshold: c.cfg.MaintainabilityThreshold,
	})
}

// plan builds this batch's tasks. Resumed tasks keep their identity but take
// the current findings of their (path, type) slot; fresh tasks fill every
// other slot. Seq is reassigned over the combined order.
func plan(findings []*types.Finding, resumed []*types.Task) []*types.Task {
	fresh := tasks.Build(findings, nil)
	bySlot := make(map[string]*types.Task, len(resumed))
	for _, t := range resumed {
		bySlot[slotKey(t)] = t
	}

	out := make([]*types.Task, 0, len(fresh))
	for _, t := range fresh {
		if old, ok := bySlot[slotKey(t)]; ok {
			old.Findings = t.Findings
			old.Priority = t.Priority
			old.Category = t.Category
			t = old
		}
		out = append(out, t)
	}
	tasks.Sort(out)
	for i, t := range out {
		t.Seq = i
	}
	return out
}

func slotKey(t *types.Task) string {
	return string(t.Type) + "\x00" + t.Path
}

// recovery collects what happened to tasks an earlier process left open.
// Holding the run lock means none of them is still executing.
type recovery struct {
	resumed []*types.Task
	results []*types.TaskResult
	changes []*types.ChangeRecord
}

// recoverInterrupted settles tasks left RUNNING. Each fails, and an applied
// change that never got verified is rolled back. It runs before the scan so
// the scan sees restored files.
func (c *Coordinator) recoverInterrupted(ctx context.Context, led *ledger.Ledger, runID string, rec *recovery) error {
	running, err := c.store.ListTasks(ctx, types.TaskFilter{Statuses: []types.Status{types.StatusRunning}})
	if err != nil {
		return fmt.Errorf("failed to list running tasks: %w", err)
	}
	for _, t := range running {
		tr := &types.TaskResult{Task: t, Skipped: true, SkipReason: SkipInterrupted}
		t.Error = "interrupted"
		if err := t.Transition(types.StatusFailed); err != nil {
			return err
		}

		applied, err := unverifiedChange(ctx, led, t.ID)
		if err != nil {
			return err
		}
		if applied != nil {
			rb, err := led.Rollback(ctx, applied)
			if err != nil {
				t.Error = fmt.Sprintf("interrupted; rollback failed: %v", err)
				c.logger.Error("failed to roll back interrupted change", "task", t.ID, "path", t.Path, "error", err)
			} else {
				rec.changes = append(rec.changes, rb)
				tr.ChangeIDs = append(tr.ChangeIDs, rb.ID)
				c.metrics.RolledBack()
				if err := t.Transition(types.StatusRolledBack); err != nil {
					return err
				}
			}
		}

		if err := c.store.SaveTask(ctx, runID, t); err != nil {
			return fmt.Errorf("failed to save task %s: %w", t.ID, err)
		}
		rec.results = append(rec.results, tr)
		c.logger.Warn("interrupted task settled", "task", t.ID, "path", t.Path, "status", t.Status)
	}
	return nil
}

// resumePending decides the fate of tasks left PENDING, typically by a
// cancelled batch. A task resumes only if the current scan still has a
// finding for its (path, type) slot; otherwise it is settled as superseded.
func (c *Coordinator) resumePending(ctx context.Context, runID string, scan *scanner.ScanResult, rec *recovery) error {
	pending, err := c.store.ListTasks(ctx, types.TaskFilter{Statuses: []types.Status{types.StatusPending}})
	if err != nil {
		return fmt.Errorf("failed to list pending tasks: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	current := make(map[string]bool)
	for _, t := range tasks.Build(scan.Findings, nil) {
		current[slotKey(t)] = true
	}

	claimed := make(map[string]bool)
	superseded := 0
	for _, t := range pending {
		key := slotKey(t)
		if current[key] && !claimed[key] {
			claimed[key] = true
			rec.resumed = append(rec.resumed, t)
			continue
		}
		if err := c.settle(ctx, runID, t, "superseded: no current finding"); err != nil {
			return err
		}
		rec.results = append(rec.results, &types.TaskResult{Task: t, Skipped: true, SkipReason: SkipSuperseded})
		superseded++
	}
	c.logger.Info("pending tasks carried over",
		"run", runID,
		"resumed", len(rec.resumed),
		"superseded", superseded)
	return nil
}

// unverifiedChange returns the task's APPLIED record when nothing verified or
// reversed it, or nil.
func unverifiedChange(ctx context.Context, led *ledger.Ledger, taskID string) (*types.ChangeRecord, error) {
	history, err := led.History(ctx, types.ChangeFilter{TaskID: taskID})
	if err != nil {
		return nil, err
	}
	var applied *types.ChangeRecord
	for _, h := range history {
		switch h.Outcome {
		case types.OutcomeApplied:
			applied = h
		case types.OutcomeVerified:
			applied = nil
		case types.OutcomeRolledBack:
			if applied != nil && h.Reverses == applied.ID {
				applied = nil
			}
		}
	}
	return applied, nil
}

// settle fails a stale PENDING task without running it so its slot frees up.
func (c *Coordinator) settle(ctx context.Context, runID string, t *types.Task, reason string) error {
	if err := t.Supersede(reason); err != nil {
		return err
	}
	if err := c.store.SaveTask(ctx, runID, t); err != nil {
		return fmt.Errorf("failed to save task %s: %w", t.ID, err)
	}
	return nil
}

func groupIssues(lists ...[]types.Issue) map[types.Severity][]types.Issue {
	out := make(map[types.Severity][]types.Issue)
	for _, list := range lists {
		for _, is := range list {
			out[is.Severity] = append(out[is.Severity], is)
		}
	}
	return out
}

// countResults fills the run's task counters. Skipped tasks are not counted
// except those left PENDING by a stop.
func countResults(run *types.RunRecord, results []*types.TaskResult) {
	for _, tr := range results {
		if tr.Task.Status == types.StatusPending {
			run.Pending++
			continue
		}
		if tr.Skipped {
			continue
		}
		switch tr.Task.Status {
		case types.StatusDone:
			run.Completed++
		case types.StatusFailed:
			run.Failed++
		case types.StatusRolledBack:
			run.RolledBack++
		}
	}
}

// writeArtifacts writes the progress document and metrics textfile. Failures
// are logged; the run is already recorded.
func (c *Coordinator) writeArtifacts(ctx context.Context, report *types.Report) {
	stateDir := filepath.Join(c.root, config.StateDir)

	history, err := c.ImprovementHistory(ctx, DefaultHistoryRuns)
	if err != nil {
		c.logger.Warn("failed to load run history", "error", err)
	}
	progress := RenderProgress(report, history)
	if err := os.WriteFile(filepath.Join(stateDir, ProgressFile), []byte(progress), 0644); err != nil {
		c.logger.Warn("failed to write progress file", "error", err)
	}

	if c.cfg.WriteMetrics {
		if err := metrics.WriteTextfile(filepath.Join(stateDir, MetricsFile), c.promRegistry); err != nil {
			c.logger.Warn("failed to write metrics", "error", err)
		}
	}
}

// IsLocked reports whether err means another process holds the workspace.
func IsLocked(err error) bool {
	return errors.Is(err, storage.ErrWorkspaceLocked)
}
