package workers

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/autoprog/internal/rewrite"
	"github.com/steveyegge/autoprog/internal/types"
)

// Optimizer applies the rewrite catalog.
type Optimizer struct{}

// NewOptimizer creates the OPTIMIZATION worker.
func NewOptimizer() *Optimizer { return &Optimizer{} }

func (o *Optimizer) Type() types.TaskType { return types.TaskOptimization }
func (o *Optimizer) Name() string         { return "optimizer" }

// Execute implements Worker.
func (o *Optimizer) Execute(ctx context.Context, rc *RunContext, task *types.Task) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := rc.ReadFile(task.Path)
	if err != nil {
		return Failed(task, types.SeverityLow, "cannot optimize: %v", err), nil
	}

	res := rewrite.Optimize(task.Path, content)
	if !res.Changed() {
		return &Outcome{Success: true, Message: "no applicable optimizations"}, nil
	}

	applied := make([]string, 0, len(res.Applied))
	for _, a := range res.Applied {
		applied = append(applied, fmt.Sprintf("%s x%d", a.RuleID, a.Count))
	}
	return &Outcome{
		Success:          true,
		Artifact:         res.Content,
		PerformanceDelta: res.EstimatedGain,
		Message:          fmt.Sprintf("applied %s (estimated +%.0f%%)", strings.Join(applied, ", "), res.EstimatedGain),
	}, nil
}
