// Package rewrite holds the optimizer's catalog of semantics-preserving
// source rewrites. Each rule fires only on an exact, statically checked
// shape so that applying it cannot change behaviour.
package rewrite

import (
	"sort"
	"strings"

	"github.com/steveyegge/autoprog/internal/analysis"
)

// MaxGain caps the estimated performance delta of one optimization pass.
const MaxGain = 85.0

// Match is one place a rule applies.
type Match struct {
	RuleID string
	Line   int // 1-based
}

// Rule is a single rewrite.
type Rule interface {
	ID() string
	Description() string
	// Gain is the estimated percentage improvement per application.
	Gain() float64
	Lang() analysis.Language
	// Find reports where the rule applies without changing anything.
	Find(lines []string) []Match
	// Apply rewrites every match and returns the new lines and the number of
	// applications.
	Apply(lines []string) ([]string, int)
}

// Rules returns the builtin catalog in application order.
func Rules() []Rule {
	return []Rule{
		pyImportConsolidation{},
		goImportConsolidation{},
		appendLoopComprehension{},
		setMembership{},
	}
}

// Applied records one rule's effect.
type Applied struct {
	RuleID string  `json:"rule_id"`
	Count  int     `json:"count"`
	Gain   float64 `json:"gain"`
}

// Result of an optimization pass.
type Result struct {
	Content []byte
	Applied []Applied
	// EstimatedGain is the summed per-application gain capped at MaxGain.
	EstimatedGain float64
}

// Changed reports whether any rule fired.
func (r *Result) Changed() bool {
	return len(r.Applied) > 0
}

// Detect lists matches for every rule that applies to path.
func Detect(path string, content []byte) []Match {
	lang := analysis.DetectLanguage(path)
	lines := analysis.SplitLines(content)
	var out []Match
	for _, rule := range Rules() {
		if rule.Lang() != lang {
			continue
		}
		out = append(out, rule.Find(lines)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}

// Optimize applies every matching rule to content.
func Optimize(path string, content []byte) *Result {
	lang := analysis.DetectLanguage(path)
	lines := analysis.SplitLines(content)
	res := &Result{}
	for _, rule := range Rules() {
		if rule.Lang() != lang {
			continue
		}
		var n int
		lines, n = rule.Apply(lines)
		if n == 0 {
			continue
		}
		gain := rule.Gain() * float64(n)
		res.Applied = append(res.Applied, Applied{RuleID: rule.ID(), Count: n, Gain: gain})
		res.EstimatedGain += gain
	}
	if res.EstimatedGain > MaxGain {
		res.EstimatedGain = MaxGain
	}
	res.Content = joinLines(lines, content)
	return res
}

// GainOf returns the per-application gain of a rule id, or 0.
func GainOf(id string) float64 {
	for _, r := range Rules() {
		if r.ID() == id {
			return r.Gain()
		}
	}
	return 0
}

// joinLines rebuilds content, keeping the original trailing newline and
// line ending style.
func joinLines(lines []string, original []byte) []byte {
	sep := "\n"
	if strings.Contains(string(original), "\r\n") {
		sep = "\r\n"
	}
	out := strings.Join(lines, sep)
	if len(original) > 0 && original[len(original)-1] == '\n' {
		out += sep
	}
	return []byte(out)
}

func indentOf(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}
