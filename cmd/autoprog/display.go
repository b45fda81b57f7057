package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/steveyegge/autoprog/internal/types"
)

var (
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

func priorityColor(p types.Priority) func(a ...interface{}) string {
	switch p {
	case types.PriorityCritical:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case types.PriorityHigh:
		return red
	case types.PriorityMedium:
		return yellow
	}
	return gray
}

func severityColor(s types.Severity) func(a ...interface{}) string {
	switch s {
	case types.SeverityCritical:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case types.SeverityHigh:
		return red
	case types.SeverityMedium:
		return yellow
	}
	return gray
}

func statusIcon(tr *types.TaskResult) string {
	if tr.Skipped {
		return gray("○")
	}
	switch tr.Task.Status {
	case types.StatusDone:
		return green("✓")
	case types.StatusRolledBack:
		return yellow("↺")
	case types.StatusFailed:
		return red("✗")
	}
	return gray("·")
}

func printSnapshot(label string, s *types.WorkspaceSnapshot) {
	if s == nil {
		return
	}
	fmt.Printf("%s\n", yellow(label))
	fmt.Printf("  Files:           %d\n", s.TotalFiles)
	fmt.Printf("  Mock files:      %d (%.1f%%)\n", s.MockFiles, s.MockRatio)
	fmt.Printf("  Avg quality:     %.1f\n", s.AvgQuality)
	fmt.Printf("  Avg complexity:  %.1f\n", s.AvgComplexity)
	fmt.Printf("  Maintainability: %.1f\n", s.AvgMaintainability)
	if len(s.ByPriority) > 0 {
		fmt.Printf("  Mock findings:  ")
		for _, p := range types.AllPriorities() {
			if n := s.ByPriority[p]; n > 0 {
				fmt.Printf(" %s %d", priorityColor(p)(string(p)), n)
			}
		}
		fmt.Println()
	}
}

func printReport(r *types.Report) {
	fmt.Printf("\n%s\n\n", cyan("=== Batch Report ==="))
	fmt.Printf("  Run:       %s\n", r.RunID)
	fmt.Printf("  Workspace: %s\n", r.Workspace)
	fmt.Printf("  Started:   %s (%s)\n", r.StartedAt.Format("2006-01-02 15:04:05"), r.Elapsed.Round(time.Millisecond))
	if r.Cancelled {
		fmt.Printf("  %s\n", yellow("Cancelled: unadmitted tasks left pending"))
	}
	fmt.Println()

	fmt.Printf("%s\n", yellow("Tasks:"))
	if len(r.Tasks) == 0 {
		fmt.Printf("  %s\n", gray("Nothing to do"))
	}
	for _, tr := range r.Tasks {
		t := tr.Task
		fmt.Printf("  %s %-12s %s %s", statusIcon(tr), t.Type, priorityColor(t.Priority)(fmt.Sprintf("%-8s", t.Priority)), t.Path)
		switch {
		case tr.Skipped:
			fmt.Printf(" %s", gray("("+tr.SkipReason+")"))
		case t.Error != "":
			fmt.Printf(" %s", red(t.Error))
		case tr.Message != "":
			fmt.Printf(" %s", gray(tr.Message))
		}
		fmt.Println()
	}
	fmt.Println()

	counts := r.CountByStatus()
	fmt.Printf("  Done: %s  Failed: %s  Rolled back: %s  Conflicts: %d  Discarded matches: %d\n\n",
		green(fmt.Sprint(counts[types.StatusDone])),
		red(fmt.Sprint(counts[types.StatusFailed])),
		yellow(fmt.Sprint(counts[types.StatusRolledBack])),
		r.Conflicts, r.Discarded)

	printIssues(r.Issues)

	printSnapshot("Before:", r.Before)
	printSnapshot("After:", r.After)
	fmt.Printf("\n  Mock ratio %s, quality %+.1f\n\n", ratioDelta(r.Delta.MockRatio), r.Delta.AvgQuality)
}

func ratioDelta(d float64) string {
	s := fmt.Sprintf("%+.1f points", d)
	switch {
	case d < 0:
		return green(s)
	case d > 0:
		return red(s)
	}
	return gray(s)
}

func printIssues(issues map[types.Severity][]types.Issue) {
	total := 0
	for _, list := range issues {
		total += len(list)
	}
	if total == 0 {
		return
	}
	fmt.Printf("%s\n", yellow("Issues:"))
	for _, sev := range types.AllSeverities() {
		for _, is := range issues[sev] {
			fmt.Printf("  %s %s %s\n", severityColor(sev)(fmt.Sprintf("%-8s", sev)), is.Location, is.Message)
		}
	}
	fmt.Println()
}

func printChange(rec *types.ChangeRecord) {
	outcome := string(rec.Outcome)
	switch rec.Outcome {
	case types.OutcomeVerified:
		outcome = green(outcome)
	case types.OutcomeFailed:
		outcome = red(outcome)
	case types.OutcomeRolledBack:
		outcome = yellow(outcome)
	}
	fmt.Printf("  %s  %-20s %s  task %s", rec.Timestamp.Format("2006-01-02 15:04:05"), outcome, rec.Path, shortID(rec.TaskID))
	if rec.Reverses != "" {
		fmt.Printf(" %s", gray("reverses "+shortID(rec.Reverses)))
	}
	if rec.Verification != "" {
		fmt.Printf(" %s", gray(rec.Verification))
	}
	fmt.Println()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
