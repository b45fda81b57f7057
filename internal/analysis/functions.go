package analysis

import (
	"regexp"
	"strings"
)

var (
	pyDef    = regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+(\w+)\s*\(`)
	goFunc   = regexp.MustCompile(`^func\s*(?:\([^)]*\)\s*)?(\w+)\s*(?:\[[^\]]*\])?\(`)
	clikeDef = regexp.MustCompile(`\b(?:function|fn)\s+(\w+)\s*\(`)
)

// FindFunctions locates function spans. comments is the mask returned for
// the same lines; commented-out definitions are ignored.
func FindFunctions(lang Language, lines []string, comments []bool) []Function {
	if lang == LangPython {
		return pythonFunctions(lines, comments)
	}
	re := clikeDef
	if lang == LangGo {
		re = goFunc
	}
	return braceFunctions(re, lines, comments)
}

func pythonFunctions(lines []string, comments []bool) []Function {
	var fns []Function
	for i, line := range lines {
		if comments[i] {
			continue
		}
		m := pyDef.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		defIndent := indentWidth(m[1])
		fn := Function{Name: m[2], Start: i + 1, End: i + 1}

		sig, sigEnd, _ := collectParens(lines, i, len(m[0])-1)
		fn.Params = countParams(sig, true)

		unit := 0
		for j := sigEnd + 1; j < len(lines); j++ {
			body := lines[j]
			if strings.TrimSpace(body) == "" {
				continue
			}
			indent := indentWidth(leadingSpace(body))
			if indent <= defIndent {
				break
			}
			fn.End = j + 1
			if comments[j] {
				continue
			}
			if unit == 0 {
				unit = indent - defIndent
			}
			depth := (indent - defIndent) / unit
			if depth-1 > fn.MaxNesting {
				fn.MaxNesting = depth - 1
			}
			fn.Branches += countBranches(LangPython, stripTrailingComment(LangPython, body))
		}
		if fn.End < sigEnd+1 {
			fn.End = sigEnd + 1
		}
		fns = append(fns, fn)
	}
	return fns
}

func braceFunctions(re *regexp.Regexp, lines []string, comments []bool) []Function {
	var fns []Function
	for i := 0; i < len(lines); i++ {
		if comments[i] {
			continue
		}
		loc := re.FindStringSubmatchIndex(lines[i])
		if loc == nil {
			continue
		}
		name := lines[i][loc[2]:loc[3]]
		fn := Function{Name: name, Start: i + 1, End: i + 1}

		sig, sigEnd, closeCol := collectParens(lines, i, loc[1]-1)
		fn.Params = countParams(sig, false)

		depth, opened := 0, false
		for j := sigEnd; j < len(lines); j++ {
			raw := lines[j]
			if j == sigEnd {
				raw = raw[min(closeCol+1, len(raw)):]
			}
			code := emptyType.ReplaceAllString(stripStrings(stripTrailingComment(LangCLike, raw)), "")
			for _, ch := range code {
				switch ch {
				case '{':
					depth++
					opened = true
					if depth-1 > fn.MaxNesting {
						fn.MaxNesting = depth - 1
					}
				case '}':
					depth--
				}
			}
			if j > sigEnd && !comments[j] {
				fn.Branches += countBranches(LangCLike, code)
			}
			fn.End = j + 1
			if opened && depth <= 0 {
				break
			}
			if !opened && strings.HasSuffix(strings.TrimSpace(code), ";") {
				// declaration without a body
				break
			}
		}
		fns = append(fns, fn)
		if fn.End-1 > i {
			i = fn.End - 1
		}
	}
	return fns
}

// collectParens returns the text inside the parenthesis opened at
// lines[start][open], following it across lines, plus the line and column
// where it closes.
func collectParens(lines []string, start, open int) (string, int, int) {
	var b strings.Builder
	depth := 0
	for j := start; j < len(lines); j++ {
		line := lines[j]
		from := 0
		if j == start {
			from = open
		}
		for k := from; k < len(line); k++ {
			ch := line[k]
			switch ch {
			case '(':
				depth++
				if depth == 1 {
					continue
				}
			case ')':
				depth--
				if depth == 0 {
					return b.String(), j, k
				}
			}
			if depth >= 1 {
				b.WriteByte(ch)
			}
		}
		b.WriteByte(' ')
	}
	last := len(lines) - 1
	return b.String(), last, len(lines[last])
}

// countParams counts top-level comma separated parameters.
func countParams(sig string, python bool) int {
	count := 0
	depth := 0
	var cur strings.Builder
	flush := func() {
		p := strings.TrimSpace(cur.String())
		cur.Reset()
		if p == "" {
			return
		}
		if python {
			name := strings.TrimSpace(strings.SplitN(strings.SplitN(p, ":", 2)[0], "=", 2)[0])
			if name == "self" || name == "cls" || name == "*" || name == "/" {
				return
			}
		}
		count++
	}
	for _, ch := range sig {
		switch ch {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				flush()
				continue
			}
		}
		cur.WriteRune(ch)
	}
	flush()
	return count
}

var emptyType = regexp.MustCompile(`\b(?:interface|struct)\{\}`)

var stringLit = regexp.MustCompile("\"(?:[^\"\\\\]|\\\\.)*\"|'(?:[^'\\\\]|\\\\.)*'|`[^`]*`")

func stripStrings(line string) string {
	return stringLit.ReplaceAllString(line, `""`)
}

func leadingSpace(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

// indentWidth counts tabs as four spaces.
func indentWidth(ws string) int {
	n := 0
	for _, ch := range ws {
		if ch == '\t' {
			n += 4
		} else {
			n++
		}
	}
	return n
}

// Signature is the parameter list of a function and where it closes.
type Signature struct {
	Params  []string // top-level parameter declarations, trimmed
	EndLine int      // 1-based line holding the closing parenthesis
	EndCol  int      // byte offset of the closing parenthesis in that line
}

// ParseSignature locates the parameter list of fn. It reports false when
// the definition line no longer matches.
func ParseSignature(lang Language, lines []string, fn Function) (Signature, bool) {
	if fn.Start < 1 || fn.Start > len(lines) {
		return Signature{}, false
	}
	line := lines[fn.Start-1]
	var loc []int
	switch lang {
	case LangPython:
		loc = pyDef.FindStringIndex(line)
	case LangGo:
		loc = goFunc.FindStringIndex(line)
	default:
		loc = clikeDef.FindStringIndex(line)
	}
	if loc == nil {
		return Signature{}, false
	}
	sig, endLine, endCol := collectParens(lines, fn.Start-1, loc[1]-1)
	return Signature{Params: SplitParams(sig), EndLine: endLine + 1, EndCol: endCol}, true
}

// SplitParams splits a parameter list on top-level commas.
func SplitParams(sig string) []string {
	var out []string
	depth := 0
	var cur strings.Builder
	flush := func() {
		if p := strings.TrimSpace(cur.String()); p != "" {
			out = append(out, p)
		}
		cur.Reset()
	}
	for _, ch := range sig {
		switch ch {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				flush()
				continue
			}
		}
		cur.WriteRune(ch)
	}
	flush()
	return out
}
