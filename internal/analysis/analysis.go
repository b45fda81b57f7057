// Package analysis computes per-file source metrics shared by the scanner,
// the analyzer and the reviewer.
package analysis

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Language is the coarse source language used to pick syntax rules.
type Language string

const (
	LangPython Language = "python"
	LangGo     Language = "go"
	LangCLike  Language = "clike" // js, ts, java, c, rust and friends
)

// DetectLanguage maps a file extension to a Language.
func DetectLanguage(path string) Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return LangPython
	case ".go":
		return LangGo
	}
	return LangCLike
}

// LineComment returns the single-line comment prefix for a language.
func (l Language) LineComment() string {
	if l == LangPython {
		return "#"
	}
	return "//"
}

// Function is a function span within a file. Lines are 1-based and inclusive.
type Function struct {
	Name       string
	Start      int
	End        int
	Params     int
	MaxNesting int
	Branches   int
}

// Length is the number of lines in the function including its signature.
func (f Function) Length() int {
	return f.End - f.Start + 1
}

// Metrics is the result of analyzing one file.
type Metrics struct {
	Path            string
	Language        Language
	Lines           int
	CodeLines       int
	CommentLines    int
	BlankLines      int
	Branches        int
	Functions       []Function
	CommentDensity  float64 // comment lines over non-blank lines
	Complexity      int     // 0-100, higher is worse
	Maintainability int     // 0-100, higher is better
}

// IsBinary reports whether content looks like a binary file.
func IsBinary(content []byte) bool {
	checkLen := min(len(content), 8000)
	for i := 0; i < checkLen; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

// SplitLines splits content into lines without trailing newline characters.
func SplitLines(content []byte) []string {
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

var (
	pyBranch = regexp.MustCompile(`^\s*(if|elif|for|while|except|case)\b|\b(and|or)\b|\bif\b.+\belse\b`)
	cBranch  = regexp.MustCompile(`\b(if|for|while|case|catch|select)\b|&&|\|\|`)
)

// Analyze computes metrics for the given file content.
func Analyze(path string, content []byte) *Metrics {
	lang := DetectLanguage(path)
	lines := SplitLines(content)
	m := &Metrics{Path: path, Language: lang, Lines: len(lines)}

	comments := CommentMask(lang, lines)
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			m.BlankLines++
		case comments[i]:
			m.CommentLines++
		default:
			m.CodeLines++
			m.Branches += countBranches(lang, stripTrailingComment(lang, line))
		}
	}

	m.Functions = FindFunctions(lang, lines, comments)

	if nonBlank := m.CodeLines + m.CommentLines; nonBlank > 0 {
		m.CommentDensity = float64(m.CommentLines) / float64(nonBlank)
	}
	m.Complexity = complexityScore(m)
	m.Maintainability = maintainabilityScore(m)
	return m
}

func countBranches(lang Language, line string) int {
	re := cBranch
	if lang == LangPython {
		re = pyBranch
	}
	return len(re.FindAllStringIndex(line, -1))
}

// CommentMask marks lines that are entirely comments, including block
// comments and Python docstrings.
func CommentMask(lang Language, lines []string) []bool {
	mask := make([]bool, len(lines))
	inBlock := false
	blockEnd := "*/"
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if inBlock {
			mask[i] = true
			if strings.Contains(trimmed, blockEnd) {
				inBlock = false
			}
			continue
		}
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, lang.LineComment()) {
			mask[i] = true
			continue
		}
		if lang == LangPython {
			for _, q := range []string{`"""`, `'''`} {
				if strings.HasPrefix(trimmed, q) {
					mask[i] = true
					rest := trimmed[len(q):]
					if !strings.Contains(rest, q) {
						inBlock = true
						blockEnd = q
					}
					break
				}
			}
			continue
		}
		if strings.HasPrefix(trimmed, "/*") {
			mask[i] = true
			if !strings.Contains(trimmed[2:], "*/") {
				inBlock = true
				blockEnd = "*/"
			}
		}
	}
	return mask
}

// stripTrailingComment removes an inline comment. String literals containing
// the comment marker are not handled.
func stripTrailingComment(lang Language, line string) string {
	if idx := strings.Index(line, lang.LineComment()); idx >= 0 {
		return line[:idx]
	}
	return line
}

// complexityScore maps branch density to 0-100. A file where 40% of code
// lines branch scores 100.
func complexityScore(m *Metrics) int {
	if m.CodeLines == 0 {
		return 0
	}
	density := float64(m.Branches) / float64(m.CodeLines)
	score := int(density*250 + 0.5)
	for _, fn := range m.Functions {
		if fn.MaxNesting > 4 {
			score += 5 * (fn.MaxNesting - 4)
		}
	}
	return clamp(score, 0, 100)
}

// maintainabilityScore blends comment coverage (40%) with function length (60%).
func maintainabilityScore(m *Metrics) int {
	if m.CodeLines == 0 {
		return 100
	}
	commentScore := clamp(int(m.CommentDensity/0.2*100+0.5), 0, 100)

	var lengthScore int
	if len(m.Functions) > 0 {
		total := 0
		for _, fn := range m.Functions {
			total += fn.Length()
		}
		avg := float64(total) / float64(len(m.Functions))
		lengthScore = linearScore(avg, 20, 100)
	} else {
		lengthScore = linearScore(float64(m.CodeLines), 200, 1000)
	}

	return clamp(int(0.4*float64(commentScore)+0.6*float64(lengthScore)+0.5), 0, 100)
}

// linearScore returns 100 at or below good, 0 at or above bad, linear between.
func linearScore(v, good, bad float64) int {
	if v <= good {
		return 100
	}
	if v >= bad {
		return 0
	}
	return int((bad-v)/(bad-good)*100 + 0.5)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
