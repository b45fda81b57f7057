// Package review implements the static quality review used by the Reviewer
// worker, verification and workspace snapshots.
package review

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/steveyegge/autoprog/internal/analysis"
	"github.com/steveyegge/autoprog/internal/types"
)

const defaultCacheSize = 256

// Reviewer produces QualityReports and caches them by path and content hash.
// It is safe for concurrent use.
type Reviewer struct {
	cache *lru.Cache[string, *types.QualityReport]
}

// New creates a Reviewer with an LRU cache of the given size.
func New(cacheSize int) (*Reviewer, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, *types.QualityReport](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create review cache: %w", err)
	}
	return &Reviewer{cache: cache}, nil
}

// ContentHash returns the hex sha256 of content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Review analyzes content as the file at path. The returned report is a
// copy and may be modified by the caller.
func (r *Reviewer) Review(path string, content []byte) *types.QualityReport {
	hash := ContentHash(content)
	key := path + "\x00" + hash
	if cached, ok := r.cache.Get(key); ok {
		return cloneReport(cached)
	}

	report := Analyze(path, content)
	report.ContentHash = hash
	r.cache.Add(key, report)
	return cloneReport(report)
}

// Len returns the number of cached reports.
func (r *Reviewer) Len() int {
	return r.cache.Len()
}

// Analyze runs every check without caching.
func Analyze(path string, content []byte) *types.QualityReport {
	m := analysis.Analyze(path, content)
	lines := analysis.SplitLines(content)
	comments := analysis.CommentMask(m.Language, lines)

	var issues []types.Issue
	rules := Rules(m.Language)
	for i, line := range lines {
		if comments[i] {
			continue
		}
		for _, rule := range rules {
			if rule.re.MatchString(line) {
				issues = append(issues, types.Issue{
					Severity: rule.Severity,
					Category: rule.Category,
					Message:  rule.Message,
					Location: types.Loc(path, i+1),
					Rule:     rule.ID,
				})
			}
		}
	}
	issues = append(issues, functionIssues(path, m.Functions)...)

	sort.SliceStable(issues, func(i, j int) bool {
		si, sj := severityRank(issues[i].Severity), severityRank(issues[j].Severity)
		if si != sj {
			return si < sj
		}
		return issues[i].Location < issues[j].Location
	})

	return &types.QualityReport{
		Path:            path,
		Quality:         QualityScore(issues, m.CodeLines),
		Complexity:      m.Complexity,
		Maintainability: m.Maintainability,
		Lines:           m.Lines,
		Functions:       len(m.Functions),
		Issues:          issues,
		GeneratedAt:     time.Now(),
	}
}

// QualityScore is max(0, 100 - 100*penalty/lines).
func QualityScore(issues []types.Issue, codeLines int) int {
	penalty := 0
	for _, is := range issues {
		penalty += is.Severity.Penalty()
	}
	if codeLines < 1 {
		codeLines = 1
	}
	score := 100 - int(float64(penalty)/float64(codeLines)*100)
	if score < 0 {
		return 0
	}
	return score
}

func functionIssues(path string, fns []analysis.Function) []types.Issue {
	var issues []types.Issue
	for _, fn := range fns {
		loc := types.Loc(path, fn.Start)
		if fn.Length() > MaxFunctionLines {
			issues = append(issues, types.Issue{
				Severity: types.SeverityMedium, Category: types.IssueStyle, Location: loc,
				Rule:    "complexity.long_function",
				Message: fmt.Sprintf("function %s is %d lines (max %d)", fn.Name, fn.Length(), MaxFunctionLines),
			})
		}
		if fn.Branches+1 > MaxCyclomatic {
			issues = append(issues, types.Issue{
				Severity: types.SeverityHigh, Category: types.IssueCorrectness, Location: loc,
				Rule:    "complexity.cyclomatic",
				Message: fmt.Sprintf("function %s has cyclomatic complexity %d (max %d)", fn.Name, fn.Branches+1, MaxCyclomatic),
			})
		}
		if fn.MaxNesting > MaxNesting {
			issues = append(issues, types.Issue{
				Severity: types.SeverityMedium, Category: types.IssueStyle, Location: loc,
				Rule:    "complexity.deep_nesting",
				Message: fmt.Sprintf("function %s nests %d levels deep (max %d)", fn.Name, fn.MaxNesting, MaxNesting),
			})
		}
		if fn.Params > MaxParams {
			issues = append(issues, types.Issue{
				Severity: types.SeverityLow, Category: types.IssueStyle, Location: loc,
				Rule:    "complexity.too_many_params",
				Message: fmt.Sprintf("function %s takes %d parameters (max %d)", fn.Name, fn.Params, MaxParams),
			})
		}
	}
	return issues
}

func severityRank(s types.Severity) int {
	for i, sev := range types.AllSeverities() {
		if sev == s {
			return i
		}
	}
	return len(types.AllSeverities())
}

// SecurityIssues filters issues produced by security rules.
func SecurityIssues(issues []types.Issue) []types.Issue {
	var out []types.Issue
	for _, is := range issues {
		if is.Category == types.IssueSecurity {
			out = append(out, is)
		}
	}
	return out
}

func cloneReport(r *types.QualityReport) *types.QualityReport {
	c := *r
	c.Issues = append([]types.Issue(nil), r.Issues...)
	return &c
}
