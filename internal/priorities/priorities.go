package priorities

import (
	"strings"

	"github.com/steveyegge/autoprog/internal/types"
)

// SecurityPatternPrefix marks findings raised by security review rules.
const SecurityPatternPrefix = "security."

// FromConfidence maps a confidence score onto a priority tier.
//
// Tiers:
// - >= 0.8: CRITICAL
// - >= 0.6: HIGH
// - >= 0.4: MEDIUM
// - otherwise LOW
func FromConfidence(confidence float64) types.Priority {
	switch {
	case confidence >= 0.8:
		return types.PriorityCritical
	case confidence >= 0.6:
		return types.PriorityHigh
	case confidence >= 0.4:
		return types.PriorityMedium
	default:
		return types.PriorityLow
	}
}

// ForFinding calculates the priority of a single finding.
//
// Escalation rules:
// - Security findings are never below HIGH
// - Core infrastructure (memory, network, tasks) is never below HIGH
func ForFinding(f *types.Finding) types.Priority {
	p := FromConfidence(f.Confidence)
	if IsSecurity(f) || f.Category.IsCore() {
		p = p.AtLeast(types.PriorityHigh)
	}
	return p
}

// ForFindings returns the most urgent priority over a group of findings
// that will be merged into one task. An empty group is LOW.
func ForFindings(findings []*types.Finding) types.Priority {
	best := types.PriorityLow
	for _, f := range findings {
		best = ForFinding(f).AtLeast(best)
	}
	return best
}

// IsSecurity reports whether the finding came from a security rule.
func IsSecurity(f *types.Finding) bool {
	return strings.HasPrefix(f.Pattern, SecurityPatternPrefix)
}
