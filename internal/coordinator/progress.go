package coordinator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/autoprog/internal/types"
)

// RenderProgress renders a report and recent history as the Markdown
// progress document.
func RenderProgress(r *types.Report, h *History) string {
	var b strings.Builder

	b.WriteString("# Autoprogramming Progress\n\n")
	fmt.Fprintf(&b, "- **Workspace:** `%s`\n", r.Workspace)
	fmt.Fprintf(&b, "- **Run:** `%s`\n", r.RunID)
	fmt.Fprintf(&b, "- **Started:** %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Elapsed:** %s\n", r.Elapsed.Round(time.Millisecond))
	if r.Cancelled {
		b.WriteString("- **Cancelled:** yes, unadmitted tasks were left pending\n")
	}
	b.WriteString("\n")

	b.WriteString("## Workspace\n\n")
	b.WriteString("| Metric | Before | After | Delta |\n")
	b.WriteString("|---|---|---|---|\n")
	if r.Before != nil && r.After != nil {
		fmt.Fprintf(&b, "| Files | %d | %d | %+d |\n", r.Before.TotalFiles, r.After.TotalFiles, r.After.TotalFiles-r.Before.TotalFiles)
		fmt.Fprintf(&b, "| Mock files | %d | %d | %+d |\n", r.Before.MockFiles, r.After.MockFiles, r.Delta.MockFiles)
		fmt.Fprintf(&b, "| Mock ratio | %.1f%% | %.1f%% | %+.1f |\n", r.Before.MockRatio, r.After.MockRatio, r.Delta.MockRatio)
		fmt.Fprintf(&b, "| Avg quality | %.1f | %.1f | %+.1f |\n", r.Before.AvgQuality, r.After.AvgQuality, r.Delta.AvgQuality)
		fmt.Fprintf(&b, "| Avg complexity | %.1f | %.1f | %+.1f |\n", r.Before.AvgComplexity, r.After.AvgComplexity, r.Delta.AvgComplexity)
		fmt.Fprintf(&b, "| Avg maintainability | %.1f | %.1f | %+.1f |\n", r.Before.AvgMaintainability, r.After.AvgMaintainability, r.Delta.AvgMaintainability)
	}
	b.WriteString("\n")

	if r.After != nil && r.After.MockFiles > 0 {
		b.WriteString("### Remaining mocks\n\n")
		for _, p := range types.AllPriorities() {
			if n := r.After.ByPriority[p]; n > 0 {
				fmt.Fprintf(&b, "- %s: %d\n", p, n)
			}
		}
		cats := make([]string, 0, len(r.After.ByCategory))
		for c := range r.After.ByCategory {
			cats = append(cats, string(c))
		}
		sort.Strings(cats)
		for _, c := range cats {
			fmt.Fprintf(&b, "- `%s` files: %d\n", c, r.After.ByCategory[types.Category(c)])
		}
		b.WriteString("\n")
	}

	b.WriteString("## Tasks\n\n")
	if len(r.Tasks) == 0 {
		b.WriteString("No tasks.\n\n")
	} else {
		b.WriteString("| Status | Type | Priority | Path | Note |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, tr := range r.Tasks {
			fmt.Fprintf(&b, "| %s | %s | %s | `%s` | %s |\n",
				taskStatus(tr), tr.Task.Type, tr.Task.Priority, tr.Task.Path, cell(taskNote(tr)))
		}
		b.WriteString("\n")
	}

	if n := issueCount(r); n > 0 {
		b.WriteString("## Issues\n\n")
		for _, sev := range types.AllSeverities() {
			for _, is := range r.Issues[sev] {
				fmt.Fprintf(&b, "- **%s** `%s` %s", sev, is.Location, is.Message)
				if is.Rule != "" {
					fmt.Fprintf(&b, " (%s)", is.Rule)
				}
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}

	if h != nil && len(h.Runs) > 0 {
		b.WriteString("## History\n\n")
		b.WriteString("| Run | Finished | Done | Failed | Rolled back | Success | Mock ratio |\n")
		b.WriteString("|---|---|---|---|---|---|---|\n")
		for _, run := range h.Runs {
			ratio := "-"
			if run.After != nil {
				ratio = fmt.Sprintf("%.1f%%", run.After.MockRatio)
			}
			fmt.Fprintf(&b, "| `%s` | %s | %d | %d | %d | %.1f%% | %s |\n",
				shortID(run.ID), run.FinishedAt.Format(time.RFC3339),
				run.Completed, run.Failed, run.RolledBack, run.SuccessRate(), ratio)
		}
		fmt.Fprintf(&b, "\nAverage success rate %.1f%%, average mock ratio gain %.1f points, %.1f points over %d runs.\n",
			h.AvgSuccessRate, h.AvgMockRatioGain, h.TotalMockRatioGain, len(h.Runs))
	}
	return b.String()
}

func taskStatus(tr *types.TaskResult) string {
	if tr.Skipped {
		return "SKIPPED"
	}
	return string(tr.Task.Status)
}

func taskNote(tr *types.TaskResult) string {
	switch {
	case tr.Skipped:
		return tr.SkipReason
	case tr.Task.Error != "":
		return tr.Task.Error
	case tr.PerformanceDelta > 0:
		return fmt.Sprintf("%s (+%.0f%%)", tr.Message, tr.PerformanceDelta)
	}
	return tr.Message
}

func issueCount(r *types.Report) int {
	n := 0
	for _, list := range r.Issues {
		n += len(list)
	}
	return n
}

// cell keeps a value on one Markdown table row.
func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
