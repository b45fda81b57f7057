package priorities

import (
	"testing"

	"github.com/steveyegge/autoprog/internal/types"
)

// TestFromConfidence tests the confidence tier boundaries
func TestFromConfidence(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		want       types.Priority
	}{
		{name: "certain is critical", confidence: 1.0, want: types.PriorityCritical},
		{name: "lower critical bound", confidence: 0.8, want: types.PriorityCritical},
		{name: "just below critical", confidence: 0.7999, want: types.PriorityHigh},
		{name: "lower high bound", confidence: 0.6, want: types.PriorityHigh},
		{name: "lower medium bound", confidence: 0.4, want: types.PriorityMedium},
		{name: "just below medium", confidence: 0.3999, want: types.PriorityLow},
		{name: "zero is low", confidence: 0, want: types.PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromConfidence(tt.confidence); got != tt.want {
				t.Errorf("FromConfidence(%v) = %s, want %s", tt.confidence, got, tt.want)
			}
		})
	}
}

// TestForFinding tests category and security escalation
func TestForFinding(t *testing.T) {
	tests := []struct {
		name    string
		finding types.Finding
		want    types.Priority
	}{
		{
			name:    "generic low stays low",
			finding: types.Finding{Category: types.CategoryGeneric, Confidence: 0.35, Pattern: "imports.consolidate"},
			want:    types.PriorityLow,
		},
		{
			name:    "vision medium stays medium",
			finding: types.Finding{Category: types.CategoryVision, Confidence: 0.45},
			want:    types.PriorityMedium,
		},
		{
			name:    "memory escalates to high",
			finding: types.Finding{Category: types.CategoryMemory, Confidence: 0.35},
			want:    types.PriorityHigh,
		},
		{
			name:    "network critical stays critical",
			finding: types.Finding{Category: types.CategoryNetwork, Confidence: 0.9},
			want:    types.PriorityCritical,
		},
		{
			name:    "tasks escalates to high",
			finding: types.Finding{Category: types.CategoryTasks, Confidence: 0.5},
			want:    types.PriorityHigh,
		},
		{
			name:    "security escalates to high",
			finding: types.Finding{Category: types.CategoryAudio, Confidence: 0.1, Pattern: "security.eval"},
			want:    types.PriorityHigh,
		},
		{
			name:    "security critical stays critical",
			finding: types.Finding{Category: types.CategoryGeneric, Confidence: 0.85, Pattern: "security.exec"},
			want:    types.PriorityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.finding
			if got := ForFinding(&f); got != tt.want {
				t.Errorf("ForFinding() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestForFindings(t *testing.T) {
	group := []*types.Finding{
		{Category: types.CategoryGeneric, Confidence: 0.2},
		{Category: types.CategoryGeneric, Confidence: 0.65},
		{Category: types.CategoryGeneric, Confidence: 0.45},
	}
	if got := ForFindings(group); got != types.PriorityHigh {
		t.Errorf("ForFindings() = %s, want HIGH", got)
	}
	if got := ForFindings(nil); got != types.PriorityLow {
		t.Errorf("ForFindings(nil) = %s, want LOW", got)
	}
}
