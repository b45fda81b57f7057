package workers

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/steveyegge/autoprog/internal/ai"
	"github.com/steveyegge/autoprog/internal/types"
)

// Creator writes modules that the workspace imports but does not contain.
type Creator struct{}

// NewCreator creates the CREATION worker.
func NewCreator() *Creator { return &Creator{} }

func (c *Creator) Type() types.TaskType { return types.TaskCreation }
func (c *Creator) Name() string         { return "creator" }

// Execute implements Worker.
func (c *Creator) Execute(ctx context.Context, rc *RunContext, task *types.Task) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(rc.Abs(task.Path)); err == nil {
		return Failed(task, types.SeverityMedium, "target %s already exists", task.Path), nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat %s: %w", task.Path, err)
	}

	req := requirementFor(task)
	content, err := rc.Synthesizer.Synthesize(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return Failed(task, types.SeverityMedium, "%s synthesis failed: %v", rc.Synthesizer.Name(), err), nil
	}
	if len(content) == 0 {
		return Failed(task, types.SeverityMedium, "%s produced an empty file", rc.Synthesizer.Name()), nil
	}

	return &Outcome{
		Success:  true,
		Artifact: content,
		Message: fmt.Sprintf("created %s with %d symbols via %s",
			task.Path, len(req.Symbols), rc.Synthesizer.Name()),
	}, nil
}

// requirementFor merges the missing-module findings of a task.
func requirementFor(task *types.Task) ai.Requirement {
	req := ai.Requirement{Path: task.Path, Category: task.Category}
	seen := make(map[string]bool)
	for _, f := range task.Findings {
		if f.Kind != types.KindMissing {
			continue
		}
		if req.ReferencedFrom == "" {
			req.ReferencedFrom = f.ReferencedFrom
		}
		for _, s := range f.Symbols {
			if !seen[s] {
				seen[s] = true
				req.Symbols = append(req.Symbols, s)
			}
		}
	}
	return req
}
