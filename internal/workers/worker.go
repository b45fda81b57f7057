// Package workers implements the five task executors and the run context
// they share. Workers never touch the ledger: mutating workers return the
// new file content as an artifact and the scheduler commits it.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/steveyegge/autoprog/internal/ai"
	"github.com/steveyegge/autoprog/internal/analysis"
	"github.com/steveyegge/autoprog/internal/review"
	"github.com/steveyegge/autoprog/internal/types"
)

// Outcome is what a worker produced for one task.
type Outcome struct {
	Success bool
	// Artifact is the complete new content of the task's file. Nil means the
	// worker made no change.
	Artifact         []byte
	Issues           []types.Issue
	Report           *types.QualityReport
	PerformanceDelta float64
	Message          string
}

// Failed builds an unsuccessful outcome carrying a single issue.
func Failed(task *types.Task, severity types.Severity, format string, args ...any) *Outcome {
	msg := fmt.Sprintf(format, args...)
	return &Outcome{
		Success: false,
		Message: msg,
		Issues: []types.Issue{{
			Severity: severity,
			Category: types.IssueCorrectness,
			Message:  msg,
			Location: types.Loc(task.Path, task.FirstLine()),
			TaskID:   task.ID,
		}},
	}
}

// Worker executes tasks of one type.
type Worker interface {
	Type() types.TaskType
	Name() string
	// Execute runs the task. A returned error is an unexpected failure; a
	// worker that simply cannot produce valid output returns an unsuccessful
	// Outcome instead.
	Execute(ctx context.Context, rc *RunContext, task *types.Task) (*Outcome, error)
}

// RunContext is the per-batch state passed to every worker. It replaces
// any package-level state: nothing here outlives the batch.
type RunContext struct {
	RunID  string
	Root   string
	Logger *slog.Logger

	Reviewer    *review.Reviewer
	Synthesizer ai.Synthesizer

	MockPatterns             []analysis.MockPattern
	ConfidenceThreshold      float64
	MaintainabilityThreshold int

	mu      sync.RWMutex
	reports map[string]*types.QualityReport
}

// RunContextConfig holds the inputs for NewRunContext
type RunContextConfig struct {
	RunID                    string
	Root                     string
	Logger                   *slog.Logger
	Reviewer                 *review.Reviewer
	Synthesizer              ai.Synthesizer
	MockPatterns             []analysis.MockPattern
	ConfidenceThreshold      float64
	MaintainabilityThreshold int
}

// NewRunContext creates the context for one batch. Unset collaborators get
// defaults.
func NewRunContext(cfg RunContextConfig) (*RunContext, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	rc := &RunContext{
		RunID:                    cfg.RunID,
		Root:                     root,
		Logger:                   cfg.Logger,
		Reviewer:                 cfg.Reviewer,
		Synthesizer:              cfg.Synthesizer,
		MockPatterns:             cfg.MockPatterns,
		ConfidenceThreshold:      cfg.ConfidenceThreshold,
		MaintainabilityThreshold: cfg.MaintainabilityThreshold,
		reports:                  make(map[string]*types.QualityReport),
	}
	if rc.Logger == nil {
		rc.Logger = slog.Default()
	}
	if rc.Reviewer == nil {
		if rc.Reviewer, err = review.New(0); err != nil {
			return nil, err
		}
	}
	if rc.Synthesizer == nil {
		rc.Synthesizer = ai.NewTemplateSynthesizer()
	}
	if len(rc.MockPatterns) == 0 {
		rc.MockPatterns = analysis.BuiltinMockPatterns()
	}
	if rc.ConfidenceThreshold == 0 {
		rc.ConfidenceThreshold = 0.3
	}
	if rc.MaintainabilityThreshold == 0 {
		rc.MaintainabilityThreshold = 40
	}
	return rc, nil
}

// Abs returns the absolute path of a workspace-relative path.
func (rc *RunContext) Abs(relPath string) string {
	return filepath.Join(rc.Root, filepath.FromSlash(relPath))
}

// ReadFile reads a workspace-relative file.
func (rc *RunContext) ReadFile(relPath string) ([]byte, error) {
	data, err := os.ReadFile(rc.Abs(relPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", relPath, err)
	}
	return data, nil
}

// RecordReport stores r as the latest report for its path. A report older
// than the one already held is ignored.
func (rc *RunContext) RecordReport(r *types.QualityReport) {
	if r == nil {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if prev, ok := rc.reports[r.Path]; ok && prev.GeneratedAt.After(r.GeneratedAt) {
		return
	}
	rc.reports[r.Path] = r
}

// LatestReport returns the newest report for a path.
func (rc *RunContext) LatestReport(relPath string) (*types.QualityReport, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	r, ok := rc.reports[relPath]
	return r, ok
}

// Reports returns the latest report per path, sorted by path.
func (rc *RunContext) Reports() []*types.QualityReport {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make([]*types.QualityReport, 0, len(rc.reports))
	for _, r := range rc.reports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Registry selects workers by task type.
type Registry struct {
	mu      sync.RWMutex
	workers map[types.TaskType]Worker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[types.TaskType]Worker)}
}

// DefaultRegistry registers the five builtin workers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, w := range []Worker{NewAnalyzer(), NewCreator(), NewReviewer(), NewOptimizer(), NewConverter()} {
		if err := r.Register(w); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a worker. Each task type has exactly one worker.
func (r *Registry) Register(w Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := w.Type()
	if !t.IsValid() {
		return fmt.Errorf("worker %s has invalid task type %q", w.Name(), t)
	}
	if existing, exists := r.workers[t]; exists {
		return fmt.Errorf("task type %s already handled by %s", t, existing.Name())
	}
	r.workers[t] = w
	return nil
}

// Get returns the worker for a task type.
func (r *Registry) Get(t types.TaskType) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[t]
	return w, ok
}

// Types lists the registered task types in stable order.
func (r *Registry) Types() []types.TaskType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.TaskType
	for _, t := range types.AllTaskTypes() {
		if _, ok := r.workers[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
