package workers

import (
	"errors"
	"fmt"
	"go/format"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/steveyegge/autoprog/internal/analysis"
)

var (
	pyImportsLogging = regexp.MustCompile(`(?m)^import\s+logging\s*$`)
	pyTopLevelDecl   = regexp.MustCompile(`^(?:async\s+def|def|class)\s|^@`)
)

// convertPython regenerates each placeholder function body as a call into
// the category engine and inserts the engine ahead of the first definition.
func convertPython(path string, content []byte, tmpl categoryTemplate, patterns []analysis.MockPattern) (string, error) {
	lines := analysis.SplitLines(content)
	comments := analysis.CommentMask(analysis.LangPython, lines)
	matches := analysis.FindMocks(path, content, patterns)

	var spans []bodySpan
	for _, fn := range placeholderFunctions(analysis.FindFunctions(analysis.LangPython, lines, comments), matches) {
		if sp, ok := pythonSpan(lines, fn); ok {
			spans = append(spans, sp)
		}
	}

	out := assemble(lines, spans, placeholderLines(matches), func(line string, p placeholder) (string, bool) {
		return dropPlaceholder(line, "#", "pass", p)
	})
	if len(spans) == 0 {
		return joinLines(out), nil
	}

	engine, err := renderEngine(pythonEngine, engineData{
		categoryTemplate: tmpl,
		NeedLogging:      !pyImportsLogging.Match(content),
	})
	if err != nil {
		return "", err
	}
	engineLines := strings.Split(strings.TrimSuffix(engine, "\n"), "\n")

	at := len(out)
	for i, line := range out {
		if pyTopLevelDecl.MatchString(line) {
			at = i
			break
		}
	}
	if at == len(out) && at > 0 {
		engineLines = append([]string{""}, engineLines...)
	}
	merged := make([]string, 0, len(out)+len(engineLines))
	merged = append(merged, out[:at]...)
	merged = append(merged, engineLines...)
	merged = append(merged, out[at:]...)
	return joinLines(merged), nil
}

func pythonSpan(lines []string, fn analysis.Function) (bodySpan, bool) {
	sig, ok := analysis.ParseSignature(analysis.LangPython, lines, fn)
	if !ok || sig.EndLine > fn.End {
		return bodySpan{}, false
	}
	line := lines[sig.EndLine-1]
	rest := line[sig.EndCol+1:]
	colon := indexTopLevel(rest, ':')
	if colon < 0 {
		return bodySpan{}, false
	}

	defIndent := indentOf(lines[fn.Start-1])
	bodyIndent := defIndent + "    "
	for j := sig.EndLine + 1; j <= fn.End; j++ {
		if strings.TrimSpace(lines[j-1]) == "" {
			continue
		}
		if ind := indentOf(lines[j-1]); len(ind) > len(defIndent) {
			bodyIndent = ind
		}
		break
	}

	var items []string
	for _, p := range sig.Params {
		name := p
		if i := indexTopLevel(name, ':'); i >= 0 {
			name = name[:i]
		}
		if i := strings.Index(name, "="); i >= 0 {
			name = name[:i]
		}
		name = strings.TrimLeft(strings.TrimSpace(name), "*")
		if name == "self" || name == "cls" || !identRe.MatchString(name) {
			continue
		}
		items = append(items, fmt.Sprintf("%q: %s", name, name))
	}

	call := fmt.Sprintf("_engine.handle(%q, {%s})", fn.Name, strings.Join(items, ", "))
	stmt := bodyIndent + "return " + call
	if fn.Name == "__init__" {
		stmt = bodyIndent + call
	}
	return bodySpan{
		fn:         fn,
		headerEnd:  sig.EndLine,
		headerTail: line[:sig.EndCol+1+colon+1],
		body:       []string{stmt},
	}, true
}

// convertGo regenerates each placeholder function body as a call into the
// category engine and appends the engine to the file. The engine is named
// after the file so converted files of one package never redeclare it; taken
// reports identifiers already used in the package. The result is gofmt'd.
func convertGo(path string, content []byte, tmpl categoryTemplate, patterns []analysis.MockPattern, taken func(string) bool) (string, error) {
	lines := analysis.SplitLines(content)
	comments := analysis.CommentMask(analysis.LangGo, lines)
	matches := analysis.FindMocks(path, content, patterns)
	tmpl.GoType = goEngineName(path, tmpl.GoType, taken)
	engineVar := tmpl.GoType + "Engine"

	var spans []bodySpan
	for _, fn := range placeholderFunctions(analysis.FindFunctions(analysis.LangGo, lines, comments), matches) {
		if sp, ok := goSpan(lines, fn, engineVar); ok {
			spans = append(spans, sp)
		}
	}

	out := assemble(lines, spans, placeholderLines(matches), func(line string, p placeholder) (string, bool) {
		return dropPlaceholder(line, "//", "", p)
	})
	src := joinLines(out)
	if len(spans) > 0 {
		engine, err := renderEngine(goEngine, engineData{categoryTemplate: tmpl})
		if err != nil {
			return "", err
		}
		src += engine
	}

	formatted, err := format.Source([]byte(src))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errUnparsable, err)
	}
	return string(formatted), nil
}

// errUnparsable means the converted Go source does not parse.
var errUnparsable = errors.New("converted source does not parse")

// goEngineName derives the engine type from the file stem and the category
// type, e.g. tasks/work_queue.go and taskQueue give workQueueTaskQueue. A
// numeric suffix is added while the name or its Engine var is taken.
func goEngineName(path, goType string, taken func(string) bool) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var b strings.Builder
	upper := false
	for _, r := range stem {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if b.Len() == 0 {
				if unicode.IsDigit(r) {
					b.WriteByte('f')
					b.WriteRune(r)
				} else {
					b.WriteRune(unicode.ToLower(r))
				}
			} else if upper {
				b.WriteRune(unicode.ToUpper(r))
			} else {
				b.WriteRune(r)
			}
			upper = false
		default:
			upper = true
		}
	}
	base := b.String() + strings.ToUpper(goType[:1]) + goType[1:]
	if taken == nil {
		return base
	}
	name := base
	for i := 2; taken(name) || taken(name+"Engine"); i++ {
		name = fmt.Sprintf("%s%d", base, i)
	}
	return name
}

func goSpan(lines []string, fn analysis.Function, engineVar string) (bodySpan, bool) {
	sig, ok := analysis.ParseSignature(analysis.LangGo, lines, fn)
	if !ok || sig.EndLine > fn.End {
		return bodySpan{}, false
	}
	line := lines[sig.EndLine-1]
	rest := line[sig.EndCol+1:]
	brace := bodyBrace(rest)
	if brace < 0 {
		return bodySpan{}, false
	}
	results := strings.TrimSpace(rest[:brace])

	args := append([]string{fmt.Sprintf("%q", fn.Name)}, goParamNames(sig.Params)...)
	call := fmt.Sprintf("%s.handle(%s)", engineVar, strings.Join(args, ", "))

	var body []string
	switch ret := goReturn(results); {
	case results == "int":
		body = []string{"\treturn " + call}
	case ret == "":
		body = []string{"\t" + call}
	default:
		body = []string{"\t" + call, "\t" + ret}
	}
	body = append(body, "}")

	return bodySpan{
		fn:         fn,
		headerEnd:  sig.EndLine,
		headerTail: line[:sig.EndCol+1+brace+1],
		body:       body,
	}, true
}

// bodyBrace finds the brace opening a function body in the text following
// the parameter list, skipping interface{} and struct{} result types.
func bodyBrace(rest string) int {
	for i := 0; i < len(rest); i++ {
		if rest[i] != '{' {
			continue
		}
		before := strings.TrimSpace(rest[:i])
		if strings.HasSuffix(before, "interface") || strings.HasSuffix(before, "struct") {
			end := strings.IndexByte(rest[i:], '}')
			if end < 0 {
				return -1
			}
			i += end
			continue
		}
		return i
	}
	return -1
}

// goParamNames returns the usable parameter names of a Go parameter list.
// Lists of bare types have no names.
func goParamNames(params []string) []string {
	named := false
	for _, p := range params {
		if len(strings.Fields(p)) >= 2 {
			named = true
			break
		}
	}
	if !named {
		return nil
	}
	var names []string
	for _, p := range params {
		name := strings.Fields(p)[0]
		if name == "_" || !identRe.MatchString(name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

var goTypeKeywords = map[string]bool{"chan": true, "func": true, "map": true, "struct": true, "interface": true}

// goReturn builds the return statement for a result list.
func goReturn(results string) string {
	if results == "" {
		return ""
	}
	var list []string
	if strings.HasPrefix(results, "(") && strings.HasSuffix(results, ")") {
		list = analysis.SplitParams(results[1 : len(results)-1])
		if len(list) > 0 {
			fields := strings.Fields(list[0])
			if len(fields) >= 2 && identRe.MatchString(fields[0]) && !goTypeKeywords[fields[0]] {
				return "return"
			}
		}
	} else {
		list = []string{results}
	}
	zeros := make([]string, len(list))
	for i, t := range list {
		zeros[i] = goZero(t)
	}
	return "return " + strings.Join(zeros, ", ")
}

func goZero(t string) string {
	switch {
	case t == "string":
		return `""`
	case t == "bool":
		return "false"
	case t == "error", t == "any", strings.HasPrefix(t, "interface"),
		strings.HasPrefix(t, "*"), strings.HasPrefix(t, "[]"),
		strings.HasPrefix(t, "map["), strings.HasPrefix(t, "chan "),
		strings.HasPrefix(t, "func("):
		return "nil"
	case strings.HasPrefix(t, "int"), strings.HasPrefix(t, "uint"),
		strings.HasPrefix(t, "float"), t == "byte", t == "rune":
		return "0"
	}
	return "*new(" + t + ")"
}
