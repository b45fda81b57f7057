package workers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/steveyegge/autoprog/internal/analysis"
	"github.com/steveyegge/autoprog/internal/types"
)

// Converter replaces placeholder implementations with working code from the
// category template table. Python and Go files keep every declaration and
// get new function bodies; other languages only have placeholder statements
// removed and are flagged for manual review.
type Converter struct{}

// NewConverter creates the CONVERSION worker.
func NewConverter() *Converter { return &Converter{} }

func (c *Converter) Type() types.TaskType { return types.TaskConversion }
func (c *Converter) Name() string         { return "converter" }

// Execute implements Worker.
func (c *Converter) Execute(ctx context.Context, rc *RunContext, task *types.Task) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := rc.ReadFile(task.Path)
	if err != nil {
		return Failed(task, types.SeverityLow, "cannot convert: %v", err), nil
	}
	if analysis.IsBinary(content) {
		return Failed(task, types.SeverityLow, "cannot convert binary file"), nil
	}

	tmpl, specific := templateFor(task.Category)
	lang := analysis.DetectLanguage(task.Path)

	var converted string
	switch lang {
	case analysis.LangPython:
		converted, err = convertPython(task.Path, content, tmpl, rc.MockPatterns)
	case analysis.LangGo:
		converted, err = convertGo(task.Path, content, tmpl, rc.MockPatterns, packageIdents(rc, task.Path))
	default:
		converted = stripPlaceholders(task.Path, content, rc.MockPatterns)
		specific = false
	}
	if errors.Is(err, errUnparsable) {
		return Failed(task, types.SeverityMedium, "cannot convert: %v", err), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrWorkerExecution, err)
	}

	out := &Outcome{
		Success:  true,
		Artifact: []byte(converted),
		Message:  fmt.Sprintf("converted with the %s %s template", tmpl.Category, lang),
	}
	if !specific {
		out.Issues = append(out.Issues, types.Issue{
			Severity: types.SeverityLow,
			Category: types.IssueCorrectness,
			Message:  fmt.Sprintf("generic %s conversion applied; review manually", lang),
			Location: task.Path,
			Rule:     "conversion.generic",
			TaskID:   task.ID,
		})
	}
	return out, nil
}

// packageIdents reports whether an identifier appears as a whole word in any
// Go file of relPath's package, relPath included.
func packageIdents(rc *RunContext, relPath string) func(string) bool {
	var sources [][]byte
	dir := filepath.Dir(rc.Abs(relPath))
	entries, err := os.ReadDir(dir)
	if err != nil {
		rc.Logger.Debug("cannot list package files", "path", relPath, "error", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".go" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		sources = append(sources, data)
	}
	return func(ident string) bool {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(ident) + `\b`)
		for _, src := range sources {
			if re.Match(src) {
				return true
			}
		}
		return false
	}
}

// Patterns whose matches are never removed outside function bodies: they
// are weak on their own or describe whole function bodies.
var keptPatterns = map[string]bool{
	"mock.string":                   true,
	"mock.todo":                     true,
	analysis.PatternEmptyPythonBody: true,
	analysis.PatternEmptyGoFunc:     true,
}

// Patterns that only ever match a comment.
var commentPatterns = map[string]bool{
	"mock.comment":  true,
	"mock.simulate": true,
}

// placeholder is a removable line outside regenerated bodies.
type placeholder struct {
	// statement is set when the code itself is the placeholder rather than
	// a trailing comment on working code.
	statement bool
}

// placeholderLines returns the 1-based lines holding removable placeholder
// statements or comments.
func placeholderLines(matches []analysis.MockMatch) map[int]placeholder {
	out := make(map[int]placeholder)
	for _, m := range matches {
		if keptPatterns[m.PatternID] {
			continue
		}
		p := out[m.Line]
		if !commentPatterns[m.PatternID] {
			p.statement = true
		}
		out[m.Line] = p
	}
	return out
}

// dropPlaceholder handles a placeholder line for a language with the given
// line comment marker. Comment lines are omitted, trailing placeholder
// comments are cut, and placeholder statements become stmt. An empty stmt
// omits the line.
func dropPlaceholder(line, comment, stmt string, p placeholder) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, comment) {
		return "", false
	}
	if !p.statement {
		if i := strings.Index(line, comment); i >= 0 {
			return strings.TrimRight(line[:i], " \t"), true
		}
		return line, true
	}
	if stmt == "" {
		return "", false
	}
	return indentOf(line) + stmt, true
}

// bodySpan is a function whose body is regenerated. Lines are 1-based.
type bodySpan struct {
	fn         analysis.Function
	headerEnd  int    // last line kept from the original header
	headerTail string // replacement text for headerEnd
	body       []string
}

// placeholderFunctions returns the outermost functions containing
// placeholder evidence. Weak markers alone do not qualify a function.
func placeholderFunctions(fns []analysis.Function, matches []analysis.MockMatch) []analysis.Function {
	sort.SliceStable(fns, func(i, j int) bool { return fns[i].Start < fns[j].Start })
	var out []analysis.Function
	end := 0
	for _, fn := range fns {
		if fn.Start <= end {
			continue
		}
		for _, m := range matches {
			if m.PatternID == "mock.string" || m.PatternID == "mock.todo" {
				continue
			}
			if m.Line >= fn.Start && m.Line <= fn.End {
				out = append(out, fn)
				end = fn.End
				break
			}
		}
	}
	return out
}

// assemble copies lines, replacing each span and dropping placeholder lines
// outside spans. drop returns the replacement for a dropped line, or false
// to omit it.
func assemble(lines []string, spans []bodySpan, placeholders map[int]placeholder, drop func(line string, p placeholder) (string, bool)) []string {
	var out []string
	si := 0
	for i := 1; i <= len(lines); i++ {
		if si < len(spans) && i == spans[si].fn.Start {
			sp := spans[si]
			for j := sp.fn.Start; j < sp.headerEnd; j++ {
				out = append(out, lines[j-1])
			}
			out = append(out, sp.headerTail)
			out = append(out, sp.body...)
			i = sp.fn.End
			si++
			continue
		}
		line := lines[i-1]
		if p, ok := placeholders[i]; ok {
			if repl, ok := drop(line, p); ok {
				out = append(out, repl)
			}
			continue
		}
		out = append(out, line)
	}
	return out
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func indentOf(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

var identRe = regexp.MustCompile(`^[A-Za-z_]\w*$`)

// stripPlaceholders is the language-agnostic fallback: placeholder
// statements become a marker comment and everything else is kept verbatim.
func stripPlaceholders(path string, content []byte, patterns []analysis.MockPattern) string {
	lines := analysis.SplitLines(content)
	comment := analysis.DetectLanguage(path).LineComment()
	matches := analysis.FindMocks(path, content, patterns)
	out := assemble(lines, nil, placeholderLines(matches), func(line string, p placeholder) (string, bool) {
		return dropPlaceholder(line, comment, comment+" autoprog: removed unimplemented statement", p)
	})
	return joinLines(out)
}

// indexTopLevel returns the index of the first sep at bracket depth zero in
// s, or -1.
func indexTopLevel(s string, sep byte) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case sep:
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
