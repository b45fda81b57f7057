package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/autoprog/internal/types"
	"github.com/steveyegge/autoprog/internal/workers"
)

const (
	traceScope        = "autoprog.scheduler"
	traceSpanEnvelope = "autoprog.task.envelope"

	traceAttrRunID    = "autoprog.run_id"
	traceAttrTaskID   = "autoprog.task_id"
	traceAttrType     = "autoprog.task_type"
	traceAttrPriority = "autoprog.priority"
	traceAttrPath     = "autoprog.path"
	traceAttrStatus   = "autoprog.status"
)

func startTaskSpan(ctx context.Context, runID string, t *types.Task) (context.Context, trace.Span) {
	return otel.Tracer(traceScope).Start(ctx, traceSpanEnvelope, trace.WithAttributes(
		attribute.String(traceAttrRunID, runID),
		attribute.String(traceAttrTaskID, t.ID),
		attribute.String(traceAttrType, string(t.Type)),
		attribute.String(traceAttrPriority, string(t.Priority)),
		attribute.String(traceAttrPath, t.Path),
	))
}

func markSpanResult(span trace.Span, t *types.Task, err error) {
	span.SetAttributes(attribute.String(traceAttrStatus, string(t.Status)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// execute runs one task through the envelope: backup, worker, commit, verify
// and, when verification fails, rollback. ctx is only consulted for
// cancellation before the worker starts; once started, the envelope runs to
// completion so a file is never left half written.
func (s *Scheduler) execute(ctx context.Context, t *types.Task) completion {
	start := time.Now()
	spanCtx, span := startTaskSpan(ctx, s.rc.RunID, t)
	defer span.End()

	c := completion{task: t}
	err := s.envelope(ctx, context.WithoutCancel(spanCtx), t, &c)
	c.elapsed = time.Since(start)
	markSpanResult(span, t, err)

	if err != nil {
		s.logger.Warn("task failed",
			"task", t.ID,
			"type", t.Type,
			"path", t.Path,
			"status", t.Status,
			"error", err)
	} else {
		s.logger.Info("task done",
			"task", t.ID,
			"type", t.Type,
			"path", t.Path,
			"duration", c.elapsed.Round(time.Millisecond))
	}
	return c
}

func (s *Scheduler) envelope(ctx, work context.Context, t *types.Task, c *completion) error {
	w, ok := s.registry.Get(t.Type)
	if !ok {
		return s.fail(work, t, fmt.Errorf("%w: no worker registered for %s", types.ErrWorkerExecution, t.Type))
	}

	var original []byte
	if t.Type.Mutates() {
		bk, err := s.ledger.Backup(work, t.ID, t.Path)
		if err != nil {
			return s.fail(work, t, fmt.Errorf("backup failed: %w", err))
		}
		c.changes = append(c.changes, bk)
		b, err := s.ledger.Original(work, bk)
		if err != nil {
			return s.fail(work, t, fmt.Errorf("backup unreadable: %w", err))
		}
		if !b.Absent {
			original = b.Content
		}
	}

	if err := ctx.Err(); err != nil {
		return s.fail(work, t, fmt.Errorf("cancelled before worker invocation: %w", err))
	}

	out, err := invoke(work, w, s.rc, t)
	if err != nil {
		c.retriable = true
		return s.fail(work, t, err)
	}
	c.message = out.Message
	c.issues = append(c.issues, out.Issues...)
	if !out.Success {
		return s.fail(work, t, fmt.Errorf("%s: %s", w.Name(), out.Message))
	}
	if out.Artifact == nil || !t.Type.Mutates() {
		s.rc.RecordReport(out.Report)
		return s.finish(work, t, types.StatusDone)
	}

	applied, err := s.ledger.Commit(work, t.ID, t.Path, out.Artifact)
	if err != nil {
		return s.fail(work, t, fmt.Errorf("commit failed: %w", err))
	}
	c.changes = append(c.changes, applied)

	v := workers.Verify(s.rc, t, original, out.Artifact)
	verified, err := s.ledger.RecordVerification(work, applied, v.Passed, v.Detail)
	if err != nil {
		return s.rollback(work, t, applied, c, fmt.Errorf("failed to record verification: %w", err))
	}
	c.changes = append(c.changes, verified)
	if !v.Passed {
		c.issues = append(c.issues, types.Issue{
			Severity: types.SeverityHigh,
			Category: types.IssueCorrectness,
			Message:  "change rolled back: " + v.Detail,
			Location: t.Path,
			Rule:     "verification.failed",
			TaskID:   t.ID,
		})
		return s.rollback(work, t, applied, c, fmt.Errorf("verification failed: %s", v.Detail))
	}

	s.rc.RecordReport(v.Report)
	c.perfDelta = out.PerformanceDelta
	return s.finish(work, t, types.StatusDone)
}

// invoke calls the worker, turning panics and errors into ErrWorkerExecution.
func invoke(ctx context.Context, w workers.Worker, rc *workers.RunContext, t *types.Task) (out *workers.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %s panicked: %v", types.ErrWorkerExecution, w.Name(), r)
		}
	}()

	out, err = w.Execute(ctx, rc, t)
	if err != nil {
		if !errors.Is(err, types.ErrWorkerExecution) {
			err = fmt.Errorf("%w: %s: %v", types.ErrWorkerExecution, w.Name(), err)
		}
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: %s returned no outcome", types.ErrWorkerExecution, w.Name())
	}
	return out, nil
}

func (s *Scheduler) finish(ctx context.Context, t *types.Task, status types.Status) error {
	if err := t.Transition(status); err != nil {
		return err
	}
	s.save(ctx, t)
	return nil
}

func (s *Scheduler) fail(ctx context.Context, t *types.Task, cause error) error {
	t.Error = cause.Error()
	if err := t.Transition(types.StatusFailed); err != nil {
		return fmt.Errorf("%v (%w)", cause, err)
	}
	s.save(ctx, t)
	return cause
}

// rollback fails the task, restores the backed-up bytes and moves the task
// to ROLLED_BACK.
func (s *Scheduler) rollback(ctx context.Context, t *types.Task, applied *types.ChangeRecord, c *completion, cause error) error {
	if err := s.fail(ctx, t, cause); err != nil && !errors.Is(err, cause) {
		return err
	}
	rec, err := s.ledger.Rollback(ctx, applied)
	if err != nil {
		t.Error = fmt.Sprintf("%s; rollback failed: %v", t.Error, err)
		s.save(ctx, t)
		s.logger.Error("automatic rollback failed", "task", t.ID, "path", t.Path, "error", err)
		return fmt.Errorf("%w; rollback failed: %v", cause, err)
	}
	c.changes = append(c.changes, rec)
	s.cfg.Metrics.RolledBack()
	if err := s.finish(ctx, t, types.StatusRolledBack); err != nil {
		return err
	}
	return cause
}
