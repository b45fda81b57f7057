package analysis

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// MockPattern is one placeholder detector. Weight is the probability that a
// single match marks a placeholder implementation.
type MockPattern struct {
	ID          string
	Weight      float64
	Description string
	Lang        Language // empty matches every language
	re          *regexp.Regexp
}

// Structural pattern IDs. These are detected from function spans rather than
// a line regex.
const (
	PatternEmptyPythonBody = "mock.empty_body"
	PatternEmptyGoFunc     = "mock.empty_func"
)

var builtinMockPatterns = []MockPattern{
	{ID: "mock.not_implemented", Weight: 0.9, Description: "raises or panics as not implemented",
		re: regexp.MustCompile(`raise\s+NotImplementedError|panic\(\s*"(?i:not implemented|unimplemented|todo)|throw\s+new\s+Error\(\s*["'](?i:not implemented)|\b(?:unimplemented|todo)!\(`)},
	{ID: "mock.pass_todo", Weight: 0.7, Description: "pass with a TODO marker", Lang: LangPython,
		re: regexp.MustCompile(`^\s*pass\s*#\s*(?i:todo)`)},
	{ID: "mock.return_none", Weight: 0.7, Description: "returns an empty value marked as mock",
		re: regexp.MustCompile(`return\s+(?:None|nil|null)\s*(?:#|//)\s*(?i:mock)`)},
	{ID: "mock.comment", Weight: 0.6, Description: "mock or placeholder comment",
		re: regexp.MustCompile(`(?:#|//)\s*(?i:mock implementation|placeholder|stub implementation)`)},
	{ID: "mock.print", Weight: 0.6, Description: "prints a mock message",
		re: regexp.MustCompile(`(?:print|console\.log|fmt\.Print(?:ln|f)?)\(\s*f?["'](?i:mock)`)},
	{ID: "mock.string", Weight: 0.2, Description: "mock string literal",
		re: regexp.MustCompile(`["'](?i:mock)\b[^"']*["']`)},
	{ID: "mock.simulate", Weight: 0.4, Description: "simulated behaviour comment",
		re: regexp.MustCompile(`(?:#|//)\s*(?i:simulat(?:e|ed|es|ion))\b`)},
	{ID: "mock.todo", Weight: 0.15, Description: "TODO or FIXME marker",
		re: regexp.MustCompile(`(?:#|//)\s*(?:TODO|FIXME)\b`)},
	{ID: PatternEmptyPythonBody, Weight: 0.5, Description: "function body is only pass or ...", Lang: LangPython},
	{ID: PatternEmptyGoFunc, Weight: 0.15, Description: "function with an empty body", Lang: LangGo},
}

// BuiltinMockPatterns returns a copy of the builtin catalog.
func BuiltinMockPatterns() []MockPattern {
	out := make([]MockPattern, len(builtinMockPatterns))
	copy(out, builtinMockPatterns)
	return out
}

// NewMockPattern compiles a user-defined line pattern.
func NewMockPattern(id, expr string, weight float64) (MockPattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return MockPattern{}, fmt.Errorf("compiling pattern %s: %w", id, err)
	}
	if weight <= 0 || weight > 1 {
		return MockPattern{}, fmt.Errorf("pattern %s weight must be in (0, 1] (got %f)", id, weight)
	}
	return MockPattern{ID: id, Weight: weight, Description: "user pattern " + id, re: re}, nil
}

// MockMatch is one pattern hit.
type MockMatch struct {
	PatternID string
	Weight    float64
	Line      int
}

// IsTestFile reports whether path is a test source. Test doubles in tests
// are intentional and never scored as placeholders.
func IsTestFile(path string) bool {
	base := filepath.Base(path)
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py"),
		strings.HasSuffix(base, "_test.py"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."):
		return true
	}
	return false
}

// FindMocks returns every mock pattern match in a file, ordered by line then
// pattern id.
func FindMocks(path string, content []byte, patterns []MockPattern) []MockMatch {
	lang := DetectLanguage(path)
	lines := SplitLines(content)
	comments := CommentMask(lang, lines)

	var matches []MockMatch
	for i, line := range lines {
		for _, p := range patterns {
			if p.re == nil || (p.Lang != "" && p.Lang != lang) {
				continue
			}
			if p.re.MatchString(line) {
				matches = append(matches, MockMatch{PatternID: p.ID, Weight: p.Weight, Line: i + 1})
			}
		}
	}

	weights := make(map[string]float64)
	for _, p := range patterns {
		weights[p.ID] = p.Weight
	}
	fns := FindFunctions(lang, lines, comments)
	switch lang {
	case LangPython:
		if w, ok := weights[PatternEmptyPythonBody]; ok {
			for _, fn := range fns {
				if pythonBodyEmpty(lines, comments, fn) {
					matches = append(matches, MockMatch{PatternID: PatternEmptyPythonBody, Weight: w, Line: fn.Start})
				}
			}
		}
	case LangGo:
		if w, ok := weights[PatternEmptyGoFunc]; ok {
			for _, fn := range fns {
				if goBodyEmpty(lines, fn) {
					matches = append(matches, MockMatch{PatternID: PatternEmptyGoFunc, Weight: w, Line: fn.Start})
				}
			}
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Line != matches[j].Line {
			return matches[i].Line < matches[j].Line
		}
		return matches[i].PatternID < matches[j].PatternID
	})
	return matches
}

// MockConfidence combines matches as independent evidence:
// 1 - prod(1 - w_p)^min(n_p, 3), rounded to four decimals.
func MockConfidence(matches []MockMatch) float64 {
	counts := make(map[string]int)
	weights := make(map[string]float64)
	for _, m := range matches {
		counts[m.PatternID]++
		weights[m.PatternID] = m.Weight
	}
	// fixed order keeps the float product identical across calls
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	miss := 1.0
	for _, id := range ids {
		miss *= math.Pow(1-weights[id], float64(min(counts[id], 3)))
	}
	return math.Round((1-miss)*10000) / 10000
}

// ScoreMocks is FindMocks followed by MockConfidence.
func ScoreMocks(path string, content []byte, patterns []MockPattern) float64 {
	if IsTestFile(path) {
		return 0
	}
	return MockConfidence(FindMocks(path, content, patterns))
}

func pythonBodyEmpty(lines []string, comments []bool, fn Function) bool {
	if fn.Start >= 2 {
		prev := strings.TrimSpace(lines[fn.Start-2])
		if strings.HasPrefix(prev, "@abstractmethod") || strings.HasPrefix(prev, "@overload") ||
			strings.HasPrefix(prev, "@abc.abstractmethod") || strings.HasPrefix(prev, "@typing.overload") {
			return false
		}
	}
	body := 0
	for i := fn.Start; i < fn.End && i < len(lines); i++ {
		t := strings.TrimSpace(lines[i])
		if t == "" || comments[i] {
			continue
		}
		if idx := strings.Index(t, "#"); idx >= 0 {
			t = strings.TrimSpace(t[:idx])
		}
		if t != "pass" && t != "..." {
			return false
		}
		body++
	}
	return body > 0
}

func goBodyEmpty(lines []string, fn Function) bool {
	var b strings.Builder
	for i := fn.Start - 1; i < fn.End && i < len(lines); i++ {
		b.WriteString(stripTrailingComment(LangGo, lines[i]))
	}
	s := strings.Join(strings.Fields(emptyType.ReplaceAllString(b.String(), "")), "")
	return strings.Count(s, "{") == 1 && strings.HasSuffix(s, "{}")
}
