package workers

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/autoprog/internal/types"
)

// Analyzer produces a metrics report for complex or low-quality files. It
// never modifies the workspace.
type Analyzer struct{}

// NewAnalyzer creates the ANALYSIS worker.
func NewAnalyzer() *Analyzer { return &Analyzer{} }

func (a *Analyzer) Type() types.TaskType { return types.TaskAnalysis }
func (a *Analyzer) Name() string         { return "analyzer" }

// Execute implements Worker.
func (a *Analyzer) Execute(ctx context.Context, rc *RunContext, task *types.Task) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := rc.ReadFile(task.Path)
	if err != nil {
		return Failed(task, types.SeverityLow, "cannot analyze: %v", err), nil
	}

	full := rc.Reviewer.Review(task.Path, content)

	// Keep only metric findings; rule violations belong to the reviewer.
	report := *full
	report.Issues = nil
	for _, is := range full.Issues {
		if strings.HasPrefix(is.Rule, "complexity.") {
			is.TaskID = task.ID
			report.Issues = append(report.Issues, is)
		}
	}
	if report.Maintainability < rc.MaintainabilityThreshold {
		report.Issues = append(report.Issues, types.Issue{
			Severity: types.SeverityMedium,
			Category: types.IssueStyle,
			Message: fmt.Sprintf("maintainability %d is below %d; split long functions and document intent",
				report.Maintainability, rc.MaintainabilityThreshold),
			Location: task.Path,
			Rule:     "quality.maintainability",
			TaskID:   task.ID,
		})
	}

	return &Outcome{
		Success: true,
		Issues:  report.Issues,
		Report:  &report,
		Message: fmt.Sprintf("complexity %d, maintainability %d, %d functions in %d lines",
			report.Complexity, report.Maintainability, report.Functions, report.Lines),
	}, nil
}
