package workers

import (
	"context"
	"fmt"

	"github.com/steveyegge/autoprog/internal/analysis"
	"github.com/steveyegge/autoprog/internal/types"
)

// Reviewer runs the rule catalog over a file. The same checks verify every
// committed change.
type Reviewer struct{}

// NewReviewer creates the REVIEW worker.
func NewReviewer() *Reviewer { return &Reviewer{} }

func (r *Reviewer) Type() types.TaskType { return types.TaskReview }
func (r *Reviewer) Name() string         { return "reviewer" }

// Execute implements Worker.
func (r *Reviewer) Execute(ctx context.Context, rc *RunContext, task *types.Task) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := rc.ReadFile(task.Path)
	if err != nil {
		return Failed(task, types.SeverityLow, "cannot review: %v", err), nil
	}

	report := rc.Reviewer.Review(task.Path, content)
	for i := range report.Issues {
		report.Issues[i].TaskID = task.ID
	}
	return &Outcome{
		Success: true,
		Issues:  report.Issues,
		Report:  report,
		Message: fmt.Sprintf("quality %d with %d issues", report.Quality, len(report.Issues)),
	}, nil
}

// Verification is the result of checking committed content.
type Verification struct {
	Passed bool
	Detail string
	Report *types.QualityReport
}

// Verify reviews content written for task. It fails on a CRITICAL issue the
// change introduced and, for conversions, when placeholder evidence is still
// at or above the confidence threshold. CRITICAL issues already present in
// original, counted per rule, do not fail the change. A nil original (new
// file) has none.
func Verify(rc *RunContext, task *types.Task, original, content []byte) *Verification {
	report := rc.Reviewer.Review(task.Path, content)
	v := &Verification{Passed: true, Report: report}

	existing := make(map[string]int)
	if original != nil {
		for _, is := range rc.Reviewer.Review(task.Path, original).Issues {
			if is.Severity == types.SeverityCritical {
				existing[is.Rule]++
			}
		}
	}
	carried := 0
	for _, is := range report.Issues {
		if is.Severity != types.SeverityCritical {
			continue
		}
		if existing[is.Rule] > 0 {
			existing[is.Rule]--
			carried++
			continue
		}
		v.Passed = false
		v.Detail = fmt.Sprintf("CRITICAL %s at %s: %s", is.Rule, is.Location, is.Message)
		return v
	}

	if task.Type == types.TaskConversion {
		conf := analysis.ScoreMocks(task.Path, content, rc.MockPatterns)
		if conf >= rc.ConfidenceThreshold {
			v.Passed = false
			v.Detail = fmt.Sprintf("mock confidence %.4f still at or above %.2f", conf, rc.ConfidenceThreshold)
			return v
		}
	}

	v.Detail = fmt.Sprintf("quality %d, %d issues", report.Quality, len(report.Issues))
	if carried > 0 {
		v.Detail += fmt.Sprintf(" (%d CRITICAL carried over unchanged)", carried)
	}
	return v
}
