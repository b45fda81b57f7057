package review

import (
	"regexp"

	"github.com/steveyegge/autoprog/internal/analysis"
	"github.com/steveyegge/autoprog/internal/types"
)

// Rule is a line-oriented review check.
type Rule struct {
	ID       string
	Severity types.Severity
	Category types.IssueCategory
	Message  string
	Lang     analysis.Language // empty applies to every language
	re       *regexp.Regexp
}

// SecurityRulePrefix prefixes the ids of all security rules.
const SecurityRulePrefix = "security."

var lineRules = []Rule{
	// security
	{ID: "security.eval", Severity: types.SeverityCritical, Category: types.IssueSecurity,
		Message: "dynamic code evaluation with eval()",
		re:      regexp.MustCompile(`(?:^|[^\w.])eval\s*\(`)},
	{ID: "security.exec", Severity: types.SeverityCritical, Category: types.IssueSecurity, Lang: analysis.LangPython,
		Message: "dynamic code execution with exec()",
		re:      regexp.MustCompile(`(?:^|[^\w.])exec\s*\(`)},
	{ID: "security.os_system", Severity: types.SeverityHigh, Category: types.IssueSecurity, Lang: analysis.LangPython,
		Message: "shell command via os.system()",
		re:      regexp.MustCompile(`\bos\.system\s*\(`)},
	{ID: "security.shell_true", Severity: types.SeverityHigh, Category: types.IssueSecurity, Lang: analysis.LangPython,
		Message: "subprocess invoked with shell=True",
		re:      regexp.MustCompile(`shell\s*=\s*True`)},
	{ID: "security.pickle", Severity: types.SeverityHigh, Category: types.IssueSecurity, Lang: analysis.LangPython,
		Message: "unpickling untrusted data",
		re:      regexp.MustCompile(`\bpickle\.loads?\s*\(`)},
	{ID: "security.hardcoded_secret", Severity: types.SeverityHigh, Category: types.IssueSecurity,
		Message: "hardcoded credential",
		re:      regexp.MustCompile(`(?i)\b(?:password|passwd|secret|api_key|apikey|token)\s*:?=\s*["'][^"'\s]{8,}["']`)},

	// performance
	{ID: "performance.range_len", Severity: types.SeverityMedium, Category: types.IssuePerformance, Lang: analysis.LangPython,
		Message: "iterate directly or use enumerate() instead of range(len())",
		re:      regexp.MustCompile(`for\s+\w+\s+in\s+range\s*\(\s*len\s*\(`)},
	{ID: "performance.string_concat", Severity: types.SeverityLow, Category: types.IssuePerformance, Lang: analysis.LangPython,
		Message: "string concatenation with +=; consider str.join()",
		re:      regexp.MustCompile(`\w\s*\+=\s*f?["']`)},
	{ID: "performance.sleep", Severity: types.SeverityLow, Category: types.IssuePerformance,
		Message: "blocking sleep call",
		re:      regexp.MustCompile(`\btime\.(?:sleep|Sleep)\s*\(`)},

	// style
	{ID: "style.bare_except", Severity: types.SeverityHigh, Category: types.IssueStyle, Lang: analysis.LangPython,
		Message: "bare except clause hides errors",
		re:      regexp.MustCompile(`^\s*except\s*:`)},
	{ID: "style.wildcard_import", Severity: types.SeverityMedium, Category: types.IssueStyle, Lang: analysis.LangPython,
		Message: "wildcard import",
		re:      regexp.MustCompile(`^\s*from\s+\S+\s+import\s+\*`)},
	{ID: "style.camel_case_def", Severity: types.SeverityLow, Category: types.IssueStyle, Lang: analysis.LangPython,
		Message: "function name should be snake_case",
		re:      regexp.MustCompile(`^\s*def\s+[a-z]+[A-Z]\w*\s*\(`)},

	// correctness
	{ID: "correctness.bool_compare", Severity: types.SeverityLow, Category: types.IssueCorrectness, Lang: analysis.LangPython,
		Message: "comparison to True/False; use the value directly",
		re:      regexp.MustCompile(`[=!]=\s*(?:True|False)\b`)},
	{ID: "correctness.none_compare", Severity: types.SeverityMedium, Category: types.IssueCorrectness, Lang: analysis.LangPython,
		Message: "comparison to None should use 'is'",
		re:      regexp.MustCompile(`[=!]=\s*None\b`)},
	{ID: "correctness.len_zero", Severity: types.SeverityLow, Category: types.IssueCorrectness, Lang: analysis.LangPython,
		Message: "use truthiness instead of len() == 0",
		re:      regexp.MustCompile(`\blen\s*\([^)]*\)\s*==\s*0\b`)},
	{ID: "correctness.ignored_error", Severity: types.SeverityMedium, Category: types.IssueCorrectness, Lang: analysis.LangGo,
		Message: "error result discarded",
		re:      regexp.MustCompile(`^\s*_\s*(?:,\s*_\s*)?=\s*[\w.]+\(.*\)\s*$`)},
}

// Thresholds for function-level checks.
const (
	MaxFunctionLines = 50
	MaxCyclomatic    = 10
	MaxNesting       = 4
	MaxParams        = 5
)

// Rules returns the line rules that apply to lang.
func Rules(lang analysis.Language) []Rule {
	var out []Rule
	for _, r := range lineRules {
		if r.Lang == "" || r.Lang == lang {
			out = append(out, r)
		}
	}
	return out
}
