// Package scanner walks a workspace and turns source files into findings:
// placeholder implementations, missing modules, low-quality, complex and
// optimizable files.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/autoprog/internal/analysis"
	"github.com/steveyegge/autoprog/internal/config"
	"github.com/steveyegge/autoprog/internal/review"
	"github.com/steveyegge/autoprog/internal/rewrite"
	"github.com/steveyegge/autoprog/internal/types"
)

// Confidence assigned to findings that are not scored from mock patterns.
// They place the resulting tasks in a fixed priority band.
const (
	confidenceMissing         = 0.75
	confidenceSecurityCrit    = 0.85
	confidenceSecurityHigh    = 0.65
	confidenceLowQuality      = 0.45
	confidenceComplex         = 0.45
	confidenceOptimizable     = 0.35
	patternLowMaintainability = "quality.maintainability"
	patternHighComplexity     = "complexity.high"
)

// Options control a scan.
type Options struct {
	ConfidenceThreshold      float64
	MaintainabilityThreshold int
	ComplexityThreshold      int
	MaxFileSize              int64
	Extensions               []string
	ExcludePaths             []string
	MockPatterns             []analysis.MockPattern
}

// DefaultOptions mirrors config.DefaultConfig.
func DefaultOptions() Options {
	opts, _ := OptionsFromConfig(config.DefaultConfig())
	return opts
}

// OptionsFromConfig builds scan options, compiling user mock patterns after
// the builtin catalog.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	patterns := analysis.BuiltinMockPatterns()
	for _, pc := range cfg.MockPatterns {
		p, err := analysis.NewMockPattern(pc.ID, pc.Regex, pc.Weight)
		if err != nil {
			return Options{}, err
		}
		patterns = append(patterns, p)
	}
	return Options{
		ConfidenceThreshold:      cfg.ConfidenceThreshold,
		MaintainabilityThreshold: cfg.MaintainabilityThreshold,
		ComplexityThreshold:      cfg.ComplexityThreshold,
		MaxFileSize:              cfg.MaxFileSize,
		Extensions:               cfg.Extensions,
		ExcludePaths:             cfg.ExcludePaths,
		MockPatterns:             patterns,
	}, nil
}

// FileResult holds per-file metrics.
type FileResult struct {
	Path            string         `json:"path"`
	Category        types.Category `json:"category"`
	Lines           int            `json:"lines"`
	Complexity      int            `json:"complexity"`
	Maintainability int            `json:"maintainability"`
	Quality         int            `json:"quality"`
	MockConfidence  float64        `json:"mock_confidence"`
	Mock            bool           `json:"mock"`
}

// ScanResult is the output of one scan.
type ScanResult struct {
	Root      string           `json:"root"`
	Files     []*FileResult    `json:"files"`
	Findings  []*types.Finding `json:"findings"`
	Issues    []types.Issue    `json:"issues"`
	Discarded int              `json:"discarded"` // mock matches below the confidence threshold
	ScannedAt time.Time        `json:"scanned_at"`
}

// File returns the result for a relative path, or nil.
func (r *ScanResult) File(relPath string) *FileResult {
	i := sort.Search(len(r.Files), func(i int) bool { return r.Files[i].Path >= relPath })
	if i < len(r.Files) && r.Files[i].Path == relPath {
		return r.Files[i]
	}
	return nil
}

// Scanner scans one workspace root.
type Scanner struct {
	root     string
	opts     Options
	reviewer *review.Reviewer
	logger   *slog.Logger
}

// New creates a scanner. A nil reviewer gets a private one.
func New(root string, opts Options, reviewer *review.Reviewer, logger *slog.Logger) (*Scanner, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", absRoot)
	}
	if reviewer == nil {
		if reviewer, err = review.New(0); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.MockPatterns) == 0 {
		opts.MockPatterns = analysis.BuiltinMockPatterns()
	}
	return &Scanner{root: absRoot, opts: opts, reviewer: reviewer, logger: logger}, nil
}

// Root returns the absolute workspace root.
func (s *Scanner) Root() string {
	return s.root
}

// Scan walks the workspace with default options.
func Scan(ctx context.Context, root string, exclude []string) (*ScanResult, error) {
	s, err := New(root, DefaultOptions(), nil, nil)
	if err != nil {
		return nil, err
	}
	return s.Scan(ctx, exclude)
}

// Scan walks the workspace. exclude is appended to the configured exclude
// patterns. The result is deterministic for an unchanged tree.
func (s *Scanner) Scan(ctx context.Context, exclude []string) (*ScanResult, error) {
	patterns := append(append(append([]string{}, AlwaysExcluded...), s.opts.ExcludePaths...), exclude...)
	ws := newWorkspace(s.root)

	result := &ScanResult{Root: s.root, ScannedAt: time.Now()}
	refs := make(map[string]*reference)

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		relPath, relErr := filepath.Rel(s.root, path)
		if relErr != nil || relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if err != nil {
			result.Issues = append(result.Issues, ioIssue(relPath, err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if ShouldExcludePath(relPath, d.IsDir(), patterns) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !s.hasExtension(relPath) {
			return nil
		}

		s.scanFile(ws, path, relPath, result, refs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan of %s failed: %w", s.root, err)
	}

	s.addMissingModules(result, refs, patterns)
	sortResult(result)

	s.logger.Debug("scan complete",
		"root", s.root,
		"files", len(result.Files),
		"findings", len(result.Findings),
		"discarded", result.Discarded)
	return result, nil
}

func (s *Scanner) hasExtension(relPath string) bool {
	ext := strings.ToLower(filepath.Ext(relPath))
	for _, e := range s.opts.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (s *Scanner) scanFile(ws *workspace, absPath, relPath string, result *ScanResult, refs map[string]*reference) {
	info, err := os.Stat(absPath)
	if err != nil {
		result.Issues = append(result.Issues, ioIssue(relPath, err))
		return
	}
	if info.Size() > s.opts.MaxFileSize {
		result.Issues = append(result.Issues, ioIssue(relPath,
			fmt.Errorf("file is %d bytes, limit %d", info.Size(), s.opts.MaxFileSize)))
		return
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		result.Issues = append(result.Issues, ioIssue(relPath, err))
		return
	}
	if analysis.IsBinary(content) {
		result.Issues = append(result.Issues, ioIssue(relPath, fmt.Errorf("binary content")))
		return
	}

	category := ResolveCategory(relPath, content)
	report := s.reviewer.Review(relPath, content)
	fr := &FileResult{
		Path:            relPath,
		Category:        category,
		Lines:           report.Lines,
		Complexity:      report.Complexity,
		Maintainability: report.Maintainability,
		Quality:         report.Quality,
	}
	result.Files = append(result.Files, fr)

	newFinding := func(kind types.FindingKind, pattern string, conf float64, start, end int, desc string) {
		result.Findings = append(result.Findings, &types.Finding{
			ID:          types.FindingID(relPath, kind, pattern, start),
			Path:        relPath,
			LineStart:   start,
			LineEnd:     end,
			Category:    category,
			Kind:        kind,
			Confidence:  conf,
			Pattern:     pattern,
			Description: desc,
		})
	}

	if !analysis.IsTestFile(relPath) {
		matches := analysis.FindMocks(relPath, content, s.opts.MockPatterns)
		conf := analysis.MockConfidence(matches)
		fr.MockConfidence = conf
		switch {
		case len(matches) == 0:
		case conf >= s.opts.ConfidenceThreshold:
			fr.Mock = true
			start, end, pattern, ids := summarizeMocks(matches)
			newFinding(types.KindMock, pattern, conf, start, end,
				fmt.Sprintf("%d placeholder marker(s): %s", len(matches), strings.Join(ids, ", ")))
		default:
			result.Discarded++
			s.logger.Debug("mock match below threshold",
				"path", relPath,
				"confidence", conf,
				"error", types.ErrPatternAmbiguity)
		}
	}

	if sec := review.SecurityIssues(report.Issues); len(sec) > 0 && hasSevere(sec) {
		conf := confidenceSecurityHigh
		if sec[0].Severity == types.SeverityCritical {
			conf = confidenceSecurityCrit
		}
		start, end := issueSpan(sec)
		newFinding(types.KindLowQuality, sec[0].Rule, conf, start, end,
			fmt.Sprintf("%d security issue(s), first: %s", len(sec), sec[0].Message))
	} else if !fr.Mock && report.Maintainability < s.opts.MaintainabilityThreshold {
		newFinding(types.KindLowQuality, patternLowMaintainability, confidenceLowQuality, 1, max(report.Lines, 1),
			fmt.Sprintf("maintainability %d below %d", report.Maintainability, s.opts.MaintainabilityThreshold))
	}

	if !fr.Mock && report.Complexity >= s.opts.ComplexityThreshold {
		m := analysis.Analyze(relPath, content)
		start, end := 1, max(m.Lines, 1)
		if fn, ok := mostComplex(m.Functions); ok {
			start, end = fn.Start, fn.End
		}
		newFinding(types.KindComplex, patternHighComplexity, confidenceComplex, start, end,
			fmt.Sprintf("complexity %d at or above %d", report.Complexity, s.opts.ComplexityThreshold))
	}

	if !fr.Mock {
		if opts := rewrite.Detect(relPath, content); len(opts) > 0 {
			best := opts[0].RuleID
			for _, o := range opts {
				if rewrite.GainOf(o.RuleID) > rewrite.GainOf(best) ||
					(rewrite.GainOf(o.RuleID) == rewrite.GainOf(best) && o.RuleID < best) {
					best = o.RuleID
				}
			}
			newFinding(types.KindOptimizable, best, confidenceOptimizable, opts[0].Line, opts[len(opts)-1].Line,
				fmt.Sprintf("%d optimization site(s)", len(opts)))
		}
	}

	lines := analysis.SplitLines(content)
	var found []reference
	switch analysis.DetectLanguage(relPath) {
	case analysis.LangPython:
		found = ws.pythonReferences(relPath, lines)
	case analysis.LangGo:
		found = ws.goReferences(relPath, lines)
	}
	for _, ref := range found {
		existing, ok := refs[ref.target]
		if !ok {
			r := ref
			refs[ref.target] = &r
			continue
		}
		existing.symbols = append(existing.symbols, ref.symbols...)
	}
}

// addMissingModules turns collected references into CREATION findings,
// dropping targets that are excluded or already exist on disk.
func (s *Scanner) addMissingModules(result *ScanResult, refs map[string]*reference, patterns []string) {
	for target, ref := range refs {
		if ShouldExcludePath(target, false, patterns) || !s.hasExtension(target) {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(target))); err == nil {
			continue
		}
		symbols := uniqueSorted(ref.symbols)
		result.Findings = append(result.Findings, &types.Finding{
			ID:             types.FindingID(target, types.KindMissing, ref.pattern, ref.line),
			Path:           target,
			LineStart:      ref.line,
			LineEnd:        ref.line,
			Category:       ResolveCategory(target, []byte(strings.Join(symbols, " "))),
			Kind:           types.KindMissing,
			Confidence:     confidenceMissing,
			Pattern:        ref.pattern,
			Description:    fmt.Sprintf("imported by %s:%d but missing", ref.from, ref.line),
			ReferencedFrom: ref.from,
			Symbols:        symbols,
		})
	}
}

// summarizeMocks returns the line span, the highest-weight pattern and the
// distinct pattern ids.
func summarizeMocks(matches []analysis.MockMatch) (start, end int, pattern string, ids []string) {
	seen := make(map[string]bool)
	var bestWeight float64
	start = matches[0].Line
	for _, m := range matches {
		if m.Line < start {
			start = m.Line
		}
		if m.Line > end {
			end = m.Line
		}
		if m.Weight > bestWeight || (m.Weight == bestWeight && m.PatternID < pattern) {
			bestWeight, pattern = m.Weight, m.PatternID
		}
		if !seen[m.PatternID] {
			seen[m.PatternID] = true
			ids = append(ids, m.PatternID)
		}
	}
	sort.Strings(ids)
	return start, end, pattern, ids
}

func hasSevere(issues []types.Issue) bool {
	for _, is := range issues {
		if is.Severity == types.SeverityCritical || is.Severity == types.SeverityHigh {
			return true
		}
	}
	return false
}

// issueSpan extracts the min and max line from path:line locations.
func issueSpan(issues []types.Issue) (int, int) {
	start, end := 0, 0
	for _, is := range issues {
		idx := strings.LastIndex(is.Location, ":")
		if idx < 0 {
			continue
		}
		var line int
		if _, err := fmt.Sscanf(is.Location[idx+1:], "%d", &line); err != nil {
			continue
		}
		if start == 0 || line < start {
			start = line
		}
		if line > end {
			end = line
		}
	}
	return start, end
}

func mostComplex(fns []analysis.Function) (analysis.Function, bool) {
	var best analysis.Function
	found := false
	for _, fn := range fns {
		if !found || fn.Branches > best.Branches {
			best, found = fn, true
		}
	}
	return best, found
}

func ioIssue(relPath string, err error) types.Issue {
	return types.Issue{
		Severity: types.SeverityLow,
		Category: types.IssueCorrectness,
		Message:  fmt.Sprintf("%v: %v", types.ErrScanIO, err),
		Location: relPath,
		Rule:     "scan.io",
	}
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func sortResult(r *ScanResult) {
	sort.Slice(r.Files, func(i, j int) bool { return r.Files[i].Path < r.Files[j].Path })
	sort.Slice(r.Findings, func(i, j int) bool {
		a, b := r.Findings[i], r.Findings[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.LineStart != b.LineStart {
			return a.LineStart < b.LineStart
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Pattern < b.Pattern
	})
	sort.SliceStable(r.Issues, func(i, j int) bool { return r.Issues[i].Location < r.Issues[j].Location })
}
