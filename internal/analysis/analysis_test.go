package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectLanguage(t *testing.T) {
	tests := map[string]Language{
		"a/b.py":   LangPython,
		"main.go":  LangGo,
		"app.ts":   LangCLike,
		"lib.rs":   LangCLike,
		"UPPER.PY": LangPython,
	}
	for path, want := range tests {
		if got := DetectLanguage(path); got != want {
			t.Errorf("DetectLanguage(%q) = %s, want %s", path, got, want)
		}
	}
}

func TestIsBinary(t *testing.T) {
	assert.False(t, IsBinary([]byte("def f():\n    pass\n")))
	assert.True(t, IsBinary([]byte{'a', 0, 'b'}))
	assert.False(t, IsBinary(nil))
}

func TestPythonFunctions(t *testing.T) {
	src := `def add(a, b):
    return a + b


class Foo:
    def method(self, x):
        if x:
            for i in range(3):
                print(i)
        return x
`
	m := Analyze("foo.py", []byte(src))
	require.Len(t, m.Functions, 2)

	add := m.Functions[0]
	assert.Equal(t, "add", add.Name)
	assert.Equal(t, 1, add.Start)
	assert.Equal(t, 2, add.End)
	assert.Equal(t, 2, add.Params)

	method := m.Functions[1]
	assert.Equal(t, "method", method.Name)
	assert.Equal(t, 6, method.Start)
	assert.Equal(t, 10, method.End)
	assert.Equal(t, 1, method.Params, "self is not counted")
	assert.Equal(t, 2, method.MaxNesting)
	assert.Equal(t, 2, method.Branches)
}

func TestGoFunctions(t *testing.T) {
	src := `package main

// Add adds.
func Add(a, b int) int {
	return a + b
}

func (s *Server) Handle(x interface{}) error {
	if x == nil {
		return nil
	}
	return nil
}
`
	m := Analyze("main.go", []byte(src))
	require.Len(t, m.Functions, 2)

	assert.Equal(t, "Add", m.Functions[0].Name)
	assert.Equal(t, 4, m.Functions[0].Start)
	assert.Equal(t, 6, m.Functions[0].End)
	assert.Equal(t, 2, m.Functions[0].Params)

	handle := m.Functions[1]
	assert.Equal(t, "Handle", handle.Name)
	assert.Equal(t, 8, handle.Start)
	assert.Equal(t, 13, handle.End)
	assert.Equal(t, 1, handle.Params)
	assert.Equal(t, 1, handle.MaxNesting)
	assert.Equal(t, 1, handle.Branches)

	assert.Equal(t, 1, m.CommentLines)
}

func TestLineCounts(t *testing.T) {
	src := "# helper\ndef add(a, b):\n    return a + b\n"
	m := Analyze("h.py", []byte(src))
	assert.Equal(t, 3, m.Lines)
	assert.Equal(t, 1, m.CommentLines)
	assert.Equal(t, 2, m.CodeLines)
	assert.InDelta(t, 1.0/3.0, m.CommentDensity, 0.001)
	assert.Equal(t, 0, m.Complexity)
	assert.Equal(t, 100, m.Maintainability)
}

func TestDocstringsCountAsComments(t *testing.T) {
	src := `def f():
    """Do things.

    More detail.
    """
    return 1
`
	m := Analyze("d.py", []byte(src))
	assert.Equal(t, 3, m.CommentLines)
	require.Len(t, m.Functions, 1)
	assert.Equal(t, 6, m.Functions[0].End)
}

func TestLongUncommentedFunctionIsUnmaintainable(t *testing.T) {
	var b strings.Builder
	b.WriteString("def big():\n")
	for i := 0; i < 150; i++ {
		b.WriteString("    x = 1\n")
	}
	m := Analyze("big.py", []byte(b.String()))
	assert.Equal(t, 0, m.Maintainability)
	assert.Equal(t, 0, m.Complexity)
}

func TestBranchHeavyCodeIsComplex(t *testing.T) {
	src := `def branchy(x):
    if x > 1:
        return 1
    if x > 2 and x < 5:
        return 2
    while x:
        x -= 1
    for i in range(x):
        pass
    return 0
`
	m := Analyze("b.py", []byte(src))
	assert.GreaterOrEqual(t, m.Complexity, 70)
}

func TestEmptyFile(t *testing.T) {
	m := Analyze("empty.go", nil)
	assert.Equal(t, 0, m.Lines)
	assert.Equal(t, 0, m.Complexity)
	assert.Equal(t, 100, m.Maintainability)
	assert.Empty(t, m.Functions)
}

func TestParseSignature(t *testing.T) {
	lines := SplitLines([]byte("def fit(self, xs: list[int],\n        epochs=3):\n    return xs\n"))
	fns := FindFunctions(LangPython, lines, CommentMask(LangPython, lines))
	require.Len(t, fns, 1)

	sig, ok := ParseSignature(LangPython, lines, fns[0])
	require.True(t, ok)
	assert.Equal(t, []string{"self", "xs: list[int]", "epochs=3"}, sig.Params)
	assert.Equal(t, 2, sig.EndLine)
	assert.Equal(t, ')', rune(lines[1][sig.EndCol]))

	goLines := SplitLines([]byte("func (s *S) Get(key string, opts ...func(int)) (string, error) {\n\treturn \"\", nil\n}\n"))
	goFns := FindFunctions(LangGo, goLines, CommentMask(LangGo, goLines))
	require.Len(t, goFns, 1)
	sig, ok = ParseSignature(LangGo, goLines, goFns[0])
	require.True(t, ok)
	assert.Equal(t, []string{"key string", "opts ...func(int)"}, sig.Params)
	assert.Equal(t, 1, sig.EndLine)
	assert.True(t, strings.HasPrefix(goLines[0][sig.EndCol+1:], " (string, error) {"))
}
