// Package coordinator is the single entry point that mutates a workspace:
// it scans, builds tasks, runs them through the scheduler and persists the
// resulting report. Outside collaborators only read the Report.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/steveyegge/autoprog/internal/ai"
	"github.com/steveyegge/autoprog/internal/config"
	"github.com/steveyegge/autoprog/internal/ledger"
	"github.com/steveyegge/autoprog/internal/metrics"
	"github.com/steveyegge/autoprog/internal/review"
	"github.com/steveyegge/autoprog/internal/scanner"
	"github.com/steveyegge/autoprog/internal/storage"
	"github.com/steveyegge/autoprog/internal/types"
	"github.com/steveyegge/autoprog/internal/workers"
)

// ErrBatchInProgress is returned when RunBatch or RollbackLast is called
// while a batch of the same coordinator is still running.
var ErrBatchInProgress = errors.New("a batch is already running")

// ErrOutsideWorkspace is returned for paths that resolve outside the root.
var ErrOutsideWorkspace = errors.New("path is outside the workspace")

// Files written to the state directory after each run.
const (
	ProgressFile = "PROGRESS.md"
	MetricsFile  = "autoprog.prom"
)

// Options configure a Coordinator. Zero values get defaults.
type Options struct {
	// Config overrides the workspace configuration file.
	Config *config.Config
	Logger *slog.Logger
	// Synthesizer overrides the synthesizer chosen from Config.AI.
	Synthesizer ai.Synthesizer
	// Workers overrides the builtin worker registry.
	Workers *workers.Registry
}

// Coordinator owns the ledger and collaborators for one workspace.
type Coordinator struct {
	root     string
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Storage
	ledger   *ledger.Ledger
	reviewer *review.Reviewer
	synth    ai.Synthesizer
	workers  *workers.Registry

	promRegistry *prometheus.Registry
	metrics      *metrics.Metrics

	runMu  sync.Mutex
	mu     sync.Mutex
	cancel context.CancelFunc
}

// Open creates a coordinator for the workspace at root, creating the state
// directory and ledger database if needed.
func Open(ctx context.Context, root string, opts Options) (*Coordinator, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", absRoot)
	}

	cfg := opts.Config
	if cfg == nil {
		if cfg, err = config.Load(absRoot); err != nil {
			return nil, err
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	synth := opts.Synthesizer
	if synth == nil {
		if synth, err = newSynthesizer(cfg, logger); err != nil {
			return nil, err
		}
	}

	reviewer, err := review.New(cfg.ReviewCacheSize)
	if err != nil {
		return nil, err
	}

	dbPath := storage.DBPath(absRoot)
	if override := os.Getenv(storage.EnvDBPath); override != "" {
		if err := storage.ValidateAlignment(override, absRoot); err != nil {
			return nil, err
		}
		dbPath = override
	}
	store, err := storage.NewStorage(ctx, &storage.Config{Path: dbPath})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	led, err := ledger.New(store, absRoot, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	registry := opts.Workers
	if registry == nil {
		registry = workers.DefaultRegistry()
	}

	promRegistry := prometheus.NewRegistry()
	return &Coordinator{
		root:         absRoot,
		cfg:          cfg,
		logger:       logger,
		store:        store,
		ledger:       led,
		reviewer:     reviewer,
		synth:        synth,
		workers:      registry,
		promRegistry: promRegistry,
		metrics:      metrics.MustNewMetrics(promRegistry),
	}, nil
}

func newSynthesizer(cfg *config.Config, logger *slog.Logger) (ai.Synthesizer, error) {
	if !cfg.AI.Enabled {
		return ai.NewTemplateSynthesizer(), nil
	}
	synth, err := ai.NewAnthropicSynthesizer(ai.AnthropicConfig{
		APIKey:    cfg.AI.APIKey,
		Model:     cfg.AI.Model,
		MaxTokens: cfg.AI.MaxTokens,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AI synthesizer: %w", err)
	}
	return synth, nil
}

// Close releases the ledger database.
func (c *Coordinator) Close() error {
	return c.store.Close()
}

// Root returns the absolute workspace root.
func (c *Coordinator) Root() string { return c.root }

// Config returns the effective configuration.
func (c *Coordinator) Config() *config.Config { return c.cfg }

// Store exposes the ledger storage for read-side queries.
func (c *Coordinator) Store() storage.Storage { return c.store }

// Gatherer exposes the coordinator's metrics.
func (c *Coordinator) Gatherer() prometheus.Gatherer { return c.promRegistry }

// Stop asks a running batch to stop admitting tasks.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Scan runs a read-only scan with the workspace configuration.
func (c *Coordinator) Scan(ctx context.Context, exclude []string) (*scanner.ScanResult, error) {
	opts, err := scanner.OptionsFromConfig(c.cfg)
	if err != nil {
		return nil, err
	}
	s, err := scanner.New(c.root, opts, c.reviewer, c.logger)
	if err != nil {
		return nil, err
	}
	return s.Scan(ctx, exclude)
}

// History returns ledger records matching filter.
func (c *Coordinator) History(ctx context.Context, filter types.ChangeFilter) ([]*types.ChangeRecord, error) {
	return c.ledger.History(ctx, filter)
}

// RollbackLast reverses the most recent unreversed change to relPath. It
// holds the workspace run lock like a batch does, so it fails with
// ErrBatchInProgress or storage.ErrWorkspaceLocked while one is running.
func (c *Coordinator) RollbackLast(ctx context.Context, relPath string) (*types.ChangeRecord, error) {
	rel, err := c.relPath(relPath)
	if err != nil {
		return nil, err
	}

	if !c.runMu.TryLock() {
		return nil, ErrBatchInProgress
	}
	defer c.runMu.Unlock()
	lockPath, err := storage.AcquireRunLock(c.root, "rollback-"+uuid.New().String())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := storage.ReleaseRunLock(lockPath); err != nil {
			c.logger.Warn("failed to release run lock", "path", lockPath, "error", err)
		}
	}()

	rec, err := c.ledger.RollbackLast(ctx, rel)
	if err != nil {
		return nil, err
	}
	c.metrics.RolledBack()
	c.logger.Info("change rolled back", "path", rel, "record", rec.ID, "reverses", rec.Reverses)
	return rec, nil
}

// relPath turns an absolute or workspace-relative path into a clean
// slash-separated path inside the workspace.
func (c *Coordinator) relPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path is required")
	}
	abs := p
	if !filepath.IsAbs(p) {
		abs = filepath.Join(c.root, p)
	}
	rel, err := filepath.Rel(c.root, filepath.Clean(abs))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s (workspace %s)", ErrOutsideWorkspace, p, c.root)
	}
	return rel, nil
}

// RunBatch opens the workspace, runs one batch and closes it again.
func RunBatch(ctx context.Context, workspace string, maxConcurrency int, exclude []string) (*types.Report, error) {
	c, err := Open(ctx, workspace, Options{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()
	return c.RunBatch(ctx, maxConcurrency, exclude)
}

// RollbackLast reverses the latest change to path. The workspace is the
// nearest ancestor of path holding a state directory.
func RollbackLast(ctx context.Context, path string) (*types.ChangeRecord, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	root, err := storage.DiscoverWorkspace(filepath.Dir(abs))
	if err != nil {
		return nil, err
	}
	c, err := Open(ctx, root, Options{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()
	return c.RollbackLast(ctx, abs)
}
