// Package scheduler dispatches tasks to workers. At most maxConcurrency tasks
// run at once, admission follows priority then builder order, and a file is
// held by at most one running task. Every task runs inside the envelope
// implemented in envelope.go.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/steveyegge/autoprog/internal/ledger"
	"github.com/steveyegge/autoprog/internal/metrics"
	"github.com/steveyegge/autoprog/internal/tasks"
	"github.com/steveyegge/autoprog/internal/types"
	"github.com/steveyegge/autoprog/internal/workers"
)

// DefaultMaxConcurrency is used when Run is given a non-positive ceiling.
const DefaultMaxConcurrency = 4

// SkipCancelled is the skip reason of tasks never admitted before a stop.
const SkipCancelled = "cancelled"

// TaskStore persists task status changes.
type TaskStore interface {
	SaveTask(ctx context.Context, runID string, task *types.Task) error
}

// Config holds optional scheduler behaviour.
type Config struct {
	// MaxRetries is how many new attempts a task gets after a worker error.
	MaxRetries int
	// RatePerSecond paces admissions. 0 disables pacing.
	RatePerSecond float64
	RateBurst     int

	Store   TaskStore
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Results is what one Run produced.
type Results struct {
	// Tasks lists every task handed to Run, then every retry, in that order.
	Tasks     []*types.TaskResult
	Changes   []*types.ChangeRecord
	Issues    []types.Issue
	Conflicts int
	Cancelled bool
	// PeakRunning is the largest number of tasks running at once.
	PeakRunning int
}

// Count returns the number of tasks that ended in status.
func (r *Results) Count(status types.Status) int {
	n := 0
	for _, tr := range r.Tasks {
		if tr.Task.Status == status {
			n++
		}
	}
	return n
}

// Scheduler runs task batches against one workspace.
type Scheduler struct {
	registry *workers.Registry
	ledger   *ledger.Ledger
	rc       *workers.RunContext
	cfg      Config
	logger   *slog.Logger
	limiter  *rate.Limiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a scheduler. The ledger should already be bound to the run
// with ledger.ForRun.
func New(registry *workers.Registry, led *ledger.Ledger, rc *workers.RunContext, cfg Config) (*Scheduler, error) {
	if registry == nil {
		return nil, fmt.Errorf("worker registry is required")
	}
	if led == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if rc == nil {
		return nil, fmt.Errorf("run context is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries cannot be negative (got %d)", cfg.MaxRetries)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = rc.Logger
	}
	s := &Scheduler{
		registry: registry,
		ledger:   led,
		rc:       rc,
		cfg:      cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return s, nil
}

// Stop requests cancellation. No task is admitted afterwards; running tasks
// finish their envelope. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// completion is what an envelope hands back to the dispatcher.
type completion struct {
	task      *types.Task
	message   string
	perfDelta float64
	changes   []*types.ChangeRecord
	issues    []types.Issue
	elapsed   time.Duration
	retriable bool
}

// Run executes tasks and returns once every admitted task has finished.
// Tasks that are not PENDING are reported as skipped. Failures are contained
// per task; the returned error is reserved for dispatcher faults.
func (s *Scheduler) Run(ctx context.Context, ts []*types.Task, maxConcurrency int) (*Results, error) {
	if maxConcurrency < 1 {
		maxConcurrency = DefaultMaxConcurrency
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	res := &Results{}
	byID := make(map[string]*types.TaskResult, len(ts))
	track := func(t *types.Task) *types.TaskResult {
		tr := &types.TaskResult{Task: t}
		byID[t.ID] = tr
		res.Tasks = append(res.Tasks, tr)
		return tr
	}

	var pending []*types.Task
	for _, t := range ts {
		tr := track(t)
		if t.Status != types.StatusPending {
			tr.Skipped = true
			tr.SkipReason = fmt.Sprintf("not pending (%s)", t.Status)
			continue
		}
		pending = append(pending, t)
	}

	queue := newReadyQueue(pending)
	held := make(map[string]bool)
	running := 0
	stopped := false
	done := make(chan completion)

	var g errgroup.Group
	g.SetLimit(maxConcurrency)

	admit := func() {
		var deferred []*types.Task
		defer func() {
			for _, t := range deferred {
				heap.Push(queue, t)
			}
		}()
		for running < maxConcurrency && queue.Len() > 0 {
			if runCtx.Err() != nil {
				stopped = true
				return
			}
			t := heap.Pop(queue).(*types.Task)
			if held[t.Path] {
				deferred = append(deferred, t)
				byID[t.ID].Deferrals++
				res.Conflicts++
				s.cfg.Metrics.Conflict()
				s.logger.Debug("task deferred", "task", t.ID, "path", t.Path,
					"reason", types.ErrConcurrencyConflict)
				continue
			}
			if s.limiter != nil {
				if err := s.limiter.Wait(runCtx); err != nil {
					deferred = append(deferred, t)
					stopped = true
					return
				}
			}
			if err := t.Transition(types.StatusRunning); err != nil {
				tr := byID[t.ID]
				tr.Skipped = true
				tr.SkipReason = err.Error()
				continue
			}
			s.save(runCtx, t)

			held[t.Path] = true
			running++
			if running > res.PeakRunning {
				res.PeakRunning = running
			}
			s.cfg.Metrics.TaskStarted()
			s.logger.Debug("task admitted", "task", t.ID, "type", t.Type, "priority", t.Priority, "path", t.Path)

			g.Go(func() error {
				done <- s.execute(runCtx, t)
				return nil
			})
		}
	}

	cancelled := runCtx.Done()
	for {
		if !stopped {
			admit()
		}
		if running == 0 && (stopped || queue.Len() == 0) {
			break
		}
		select {
		case c := <-done:
			running--
			delete(held, c.task.Path)
			s.cfg.Metrics.TaskFinished(string(c.task.Type), string(c.task.Status), c.elapsed)

			tr := byID[c.task.ID]
			tr.Message = c.message
			tr.PerformanceDelta = c.perfDelta
			tr.Duration = c.elapsed.Round(time.Millisecond).String()
			for _, rec := range c.changes {
				tr.ChangeIDs = append(tr.ChangeIDs, rec.ID)
			}
			res.Changes = append(res.Changes, c.changes...)
			res.Issues = append(res.Issues, c.issues...)

			if c.retriable && !stopped && c.task.Attempt <= s.cfg.MaxRetries {
				retry := tasks.Retry(c.task)
				track(retry)
				s.save(runCtx, retry)
				heap.Push(queue, retry)
				s.logger.Info("retrying task", "task", retry.ID, "retry_of", retry.RetryOf, "attempt", retry.Attempt)
			}
		case <-cancelled:
			stopped = true
			cancelled = nil
		}
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scheduler worker group failed: %w", err)
	}

	for _, t := range queue.drain() {
		tr := byID[t.ID]
		tr.Skipped = true
		tr.SkipReason = SkipCancelled
	}
	res.Cancelled = stopped
	return res, nil
}

// save persists a task through the optional store. A store failure is
// logged, not fatal: the in-memory result still reports the task.
func (s *Scheduler) save(ctx context.Context, t *types.Task) {
	if s.cfg.Store == nil {
		return
	}
	if err := s.cfg.Store.SaveTask(context.WithoutCancel(ctx), s.rc.RunID, t); err != nil {
		s.logger.Warn("failed to persist task", "task", t.ID, "status", t.Status, "error", err)
	}
}
