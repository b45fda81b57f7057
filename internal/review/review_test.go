package review

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/autoprog/internal/types"
)

func rulesOf(r *types.QualityReport) []string {
	var ids []string
	for _, is := range r.Issues {
		ids = append(ids, is.Rule)
	}
	return ids
}

func TestSecurityRules(t *testing.T) {
	src := `import os

def run(cmd):
    result = eval(cmd)
    os.system(cmd)
    return result
`
	report := Analyze("runner.py", []byte(src))
	ids := rulesOf(report)

	assert.Contains(t, ids, "security.eval")
	assert.Contains(t, ids, "security.os_system")
	assert.True(t, report.HasSeverity(types.SeverityCritical))
	require.NotEmpty(t, report.Issues)
	assert.Equal(t, types.SeverityCritical, report.Issues[0].Severity, "issues sorted by severity")
	assert.Equal(t, "runner.py:4", report.Issues[0].Location)
}

func TestCommentedCodeNotFlagged(t *testing.T) {
	src := "# never call eval(x) here\ndef f():\n    return 1\n"
	report := Analyze("safe.py", []byte(src))
	assert.NotContains(t, rulesOf(report), "security.eval")
}

func TestMethodNamedEvalNotFlagged(t *testing.T) {
	src := "def f(model):\n    model.eval()\n    return model\n"
	report := Analyze("train.py", []byte(src))
	assert.NotContains(t, rulesOf(report), "security.eval")
}

func TestStyleAndCorrectnessRules(t *testing.T) {
	src := `from os.path import *

def getValue(x):
    try:
        if x == None:
            return 0
        if len(x) == 0:
            return 1
    except:
        return 2
`
	ids := rulesOf(Analyze("style.py", []byte(src)))
	assert.Contains(t, ids, "style.wildcard_import")
	assert.Contains(t, ids, "style.camel_case_def")
	assert.Contains(t, ids, "style.bare_except")
	assert.Contains(t, ids, "correctness.none_compare")
	assert.Contains(t, ids, "correctness.len_zero")
}

func TestGoRulesScopedToGo(t *testing.T) {
	src := "package x\n\nfunc f() {\n\t_ = os.Remove(\"a\")\n}\n"
	ids := rulesOf(Analyze("x.go", []byte(src)))
	assert.Contains(t, ids, "correctness.ignored_error")
	assert.NotContains(t, ids, "style.bare_except")
}

func TestFunctionIssues(t *testing.T) {
	var b strings.Builder
	b.WriteString("def huge(a, b, c, d, e, f):\n")
	for i := 0; i < 60; i++ {
		b.WriteString("    x = 1\n")
	}
	ids := rulesOf(Analyze("huge.py", []byte(b.String())))
	assert.Contains(t, ids, "complexity.long_function")
	assert.Contains(t, ids, "complexity.too_many_params")
}

func TestQualityScore(t *testing.T) {
	assert.Equal(t, 100, QualityScore(nil, 10))
	issues := []types.Issue{{Severity: types.SeverityCritical}}
	assert.Equal(t, 80, QualityScore(issues, 100))
	assert.Equal(t, 0, QualityScore(issues, 10))
	assert.Equal(t, 0, QualityScore(issues, 0))
}

func TestReviewerCache(t *testing.T) {
	r, err := New(2)
	require.NoError(t, err)

	content := []byte("def f():\n    return eval('1')\n")
	first := r.Review("a.py", content)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, ContentHash(content), first.ContentHash)

	// mutating the returned copy must not affect the cache
	first.Issues = nil
	second := r.Review("a.py", content)
	assert.NotEmpty(t, second.Issues)
	assert.Equal(t, 1, r.Len())

	r.Review("b.py", content)
	r.Review("c.py", content)
	assert.Equal(t, 2, r.Len(), "cache is bounded")
}
