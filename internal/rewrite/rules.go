package rewrite

import (
	"regexp"
	"strings"

	"github.com/steveyegge/autoprog/internal/analysis"
)

var (
	pyFromImport = regexp.MustCompile(`^from\s+([\w.]+)\s+import\s+([\w\s,]+?)\s*$`)
	pyImport     = regexp.MustCompile(`^import\s+([\w.\s,]+?)\s*$`)
)

// pyImportConsolidation merges repeated "from X import a" lines for the same
// module into the first one.
type pyImportConsolidation struct{}

func (pyImportConsolidation) ID() string              { return "imports.consolidate" }
func (pyImportConsolidation) Description() string     { return "merge repeated from-imports of one module" }
func (pyImportConsolidation) Gain() float64           { return 5 }
func (pyImportConsolidation) Lang() analysis.Language { return analysis.LangPython }

type pyImportLine struct {
	idx    int
	module string
	names  []string
}

// importedNames returns the names bound by an import statement line.
func importedNames(line string) []string {
	if m := pyFromImport.FindStringSubmatch(line); m != nil {
		return boundNames(m[2])
	}
	if m := pyImport.FindStringSubmatch(line); m != nil {
		var out []string
		for _, part := range strings.Split(m[1], ",") {
			f := strings.Fields(part)
			switch {
			case len(f) == 3 && f[1] == "as":
				out = append(out, f[2])
			case len(f) == 1:
				out = append(out, strings.Split(f[0], ".")[0])
			}
		}
		return out
	}
	return nil
}

func boundNames(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		f := strings.Fields(part)
		switch {
		case len(f) == 3 && f[1] == "as":
			out = append(out, f[2])
		case len(f) == 1:
			out = append(out, f[0])
		}
	}
	return out
}

func (r pyImportConsolidation) plan(lines []string) (merge map[int][]int) {
	groups := make(map[string][]pyImportLine)
	var order []string
	for i, line := range lines {
		m := pyFromImport.FindStringSubmatch(line)
		if m == nil || m[1] == "__future__" {
			continue
		}
		if _, ok := groups[m[1]]; !ok {
			order = append(order, m[1])
		}
		groups[m[1]] = append(groups[m[1]], pyImportLine{idx: i, module: m[1], names: strings.Split(m[2], ",")})
	}

	merge = make(map[int][]int)
	for _, mod := range order {
		g := groups[mod]
		if len(g) < 2 {
			continue
		}
		first := g[0]
		for _, later := range g[1:] {
			if r.safeToHoist(lines, first.idx, later.idx, boundNames(strings.Join(later.names, ","))) {
				merge[first.idx] = append(merge[first.idx], later.idx)
			}
		}
	}
	return merge
}

// safeToHoist checks that only imports, blanks and comments sit between from
// and to, and that none of them rebinds a hoisted name.
func (pyImportConsolidation) safeToHoist(lines []string, from, to int, names []string) bool {
	for i := from + 1; i < to; i++ {
		t := strings.TrimSpace(lines[i])
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		if lines[i] != t {
			return false
		}
		if !pyFromImport.MatchString(t) && !pyImport.MatchString(t) {
			return false
		}
		for _, bound := range importedNames(t) {
			for _, n := range names {
				if bound == n {
					return false
				}
			}
		}
	}
	return true
}

func (r pyImportConsolidation) Find(lines []string) []Match {
	var out []Match
	for _, later := range r.plan(lines) {
		for _, idx := range later {
			out = append(out, Match{RuleID: r.ID(), Line: idx + 1})
		}
	}
	return out
}

func (r pyImportConsolidation) Apply(lines []string) ([]string, int) {
	merge := r.plan(lines)
	if len(merge) == 0 {
		return lines, 0
	}
	drop := make(map[int]bool)
	out := make([]string, len(lines))
	copy(out, lines)
	count := 0
	for firstIdx, later := range merge {
		m := pyFromImport.FindStringSubmatch(lines[firstIdx])
		seen := make(map[string]bool)
		var names []string
		add := func(list string) {
			for _, n := range strings.Split(list, ",") {
				n = strings.Join(strings.Fields(n), " ")
				if n != "" && !seen[n] {
					seen[n] = true
					names = append(names, n)
				}
			}
		}
		add(m[2])
		for _, idx := range later {
			add(pyFromImport.FindStringSubmatch(lines[idx])[2])
			drop[idx] = true
			count++
		}
		out[firstIdx] = "from " + m[1] + " import " + strings.Join(names, ", ")
	}
	result := out[:0]
	for i, line := range out {
		if !drop[i] {
			result = append(result, line)
		}
	}
	return result, count
}

var goSingleImport = regexp.MustCompile(`^import\s+((?:[\w.]+\s+)?"[^"]+")\s*$`)

// goImportConsolidation folds consecutive single-line Go imports into one
// import block.
type goImportConsolidation struct{}

func (goImportConsolidation) ID() string              { return "imports.group" }
func (goImportConsolidation) Description() string     { return "group single-line imports into a block" }
func (goImportConsolidation) Gain() float64           { return 5 }
func (goImportConsolidation) Lang() analysis.Language { return analysis.LangGo }

func (goImportConsolidation) span(lines []string) (start, end int, specs []string) {
	start = -1
	for i, line := range lines {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "import (") || t == "import(" {
			return -1, -1, nil
		}
		if m := goSingleImport.FindStringSubmatch(line); m != nil {
			if start == -1 {
				start = i
			} else {
				for j := end + 1; j < i; j++ {
					if strings.TrimSpace(lines[j]) != "" {
						return -1, -1, nil
					}
				}
			}
			end = i
			specs = append(specs, m[1])
		}
	}
	if len(specs) < 2 {
		return -1, -1, nil
	}
	return start, end, specs
}

func (r goImportConsolidation) Find(lines []string) []Match {
	start, _, _ := r.span(lines)
	if start < 0 {
		return nil
	}
	return []Match{{RuleID: r.ID(), Line: start + 1}}
}

func (r goImportConsolidation) Apply(lines []string) ([]string, int) {
	start, end, specs := r.span(lines)
	if start < 0 {
		return lines, 0
	}
	block := []string{"import ("}
	for _, s := range specs {
		block = append(block, "\t"+s)
	}
	block = append(block, ")")

	out := append([]string{}, lines[:start]...)
	out = append(out, block...)
	out = append(out, lines[end+1:]...)
	return out, 1
}

var (
	emptyListAssign = regexp.MustCompile(`^(\s*)(\w+)\s*=\s*\[\s*\]\s*$`)
	forHeader       = regexp.MustCompile(`^(\s*)for\s+(\w+(?:\s*,\s*\w+)*)\s+in\s+(.+):\s*$`)
	appendCall      = regexp.MustCompile(`^(\s*)(\w+)\.append\((.+)\)\s*$`)
)

// appendLoopComprehension turns
//
//	out = []
//	for x in items:
//	    out.append(f(x))
//
// into a list comprehension.
type appendLoopComprehension struct{}

func (appendLoopComprehension) ID() string              { return "loops.list_comprehension" }
func (appendLoopComprehension) Description() string     { return "replace append loop with a list comprehension" }
func (appendLoopComprehension) Gain() float64           { return 15 }
func (appendLoopComprehension) Lang() analysis.Language { return analysis.LangPython }

type comprehensionSite struct {
	idx         int
	replacement string
}

func (appendLoopComprehension) sites(lines []string) []comprehensionSite {
	var out []comprehensionSite
	for i := 0; i+2 < len(lines); i++ {
		a := emptyListAssign.FindStringSubmatch(lines[i])
		if a == nil {
			continue
		}
		f := forHeader.FindStringSubmatch(lines[i+1])
		if f == nil || f[1] != a[1] {
			continue
		}
		ap := appendCall.FindStringSubmatch(lines[i+2])
		if ap == nil || ap[2] != a[2] || len(ap[1]) <= len(f[1]) {
			continue
		}
		name, vars, iter, expr := a[2], f[2], strings.TrimSpace(f[3]), strings.TrimSpace(ap[3])
		if !balanced(expr) || !balanced(iter) {
			continue
		}
		nameRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
		if nameRe.MatchString(expr) || nameRe.MatchString(iter) {
			continue
		}
		if strings.Contains(expr, "yield") || strings.Contains(expr, ":=") || strings.Contains(expr, "await") {
			continue
		}

		// the loop body must be the single append line, without for-else
		next := i + 3
		for next < len(lines) && strings.TrimSpace(lines[next]) == "" {
			next++
		}
		if next < len(lines) {
			ind := indentOf(lines[next])
			if len(ind) > len(f[1]) {
				continue
			}
			if len(ind) == len(f[1]) && strings.HasPrefix(strings.TrimSpace(lines[next]), "else") {
				continue
			}
		}

		// loop variables leak after a for statement but not from a comprehension
		leaks := false
		for _, v := range strings.Split(vars, ",") {
			vRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.TrimSpace(v)) + `\b`)
			for j := i + 3; j < len(lines); j++ {
				if strings.TrimSpace(lines[j]) != "" && len(indentOf(lines[j])) < len(a[1]) {
					break
				}
				if vRe.MatchString(lines[j]) {
					leaks = true
					break
				}
			}
		}
		if leaks || inClassBody(lines, i) {
			continue
		}

		out = append(out, comprehensionSite{
			idx:         i,
			replacement: a[1] + name + " = [" + expr + " for " + vars + " in " + iter + "]",
		})
		i += 2
	}
	return out
}

// inClassBody reports whether line idx sits directly in a class body, where
// comprehensions cannot see class-level names.
func inClassBody(lines []string, idx int) bool {
	ind := len(indentOf(lines[idx]))
	if ind == 0 {
		return false
	}
	for j := idx - 1; j >= 0; j-- {
		t := strings.TrimSpace(lines[j])
		if t == "" {
			continue
		}
		if len(indentOf(lines[j])) < ind {
			return strings.HasPrefix(t, "class ")
		}
	}
	return false
}

func balanced(s string) bool {
	depth := 0
	for _, ch := range s {
		switch ch {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

func (r appendLoopComprehension) Find(lines []string) []Match {
	var out []Match
	for _, s := range r.sites(lines) {
		out = append(out, Match{RuleID: r.ID(), Line: s.idx + 1})
	}
	return out
}

func (r appendLoopComprehension) Apply(lines []string) ([]string, int) {
	sites := r.sites(lines)
	if len(sites) == 0 {
		return lines, 0
	}
	out := make([]string, 0, len(lines))
	next := 0
	for _, s := range sites {
		out = append(out, lines[next:s.idx]...)
		out = append(out, s.replacement)
		next = s.idx + 3
	}
	out = append(out, lines[next:]...)
	return out, len(sites)
}

var (
	membershipCond = regexp.MustCompile(`^\s*(?:if|elif|while)\b`)
	inListLiteral  = regexp.MustCompile(`\bin\s+\[([^\[\]]*)\]`)
	hashableLit    = regexp.MustCompile(`^(?:'[^'\\]*'|"[^"\\]*"|-?\d+)$`)
)

// setMembership replaces membership tests against literal lists in
// conditions with set literals.
type setMembership struct{}

func (setMembership) ID() string              { return "membership.set_literal" }
func (setMembership) Description() string     { return "test membership against a set literal" }
func (setMembership) Gain() float64           { return 10 }
func (setMembership) Lang() analysis.Language { return analysis.LangPython }

func literalElements(body string) bool {
	parts := strings.Split(body, ",")
	n := 0
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" && i == len(parts)-1 {
			continue
		}
		if !hashableLit.MatchString(p) {
			return false
		}
		n++
	}
	return n >= 2
}

func (setMembership) rewriteLine(line string) (string, int) {
	if !membershipCond.MatchString(line) {
		return line, 0
	}
	count := 0
	out := inListLiteral.ReplaceAllStringFunc(line, func(m string) string {
		sub := inListLiteral.FindStringSubmatch(m)
		if !literalElements(sub[1]) {
			return m
		}
		count++
		return strings.Replace(m, "["+sub[1]+"]", "{"+sub[1]+"}", 1)
	})
	return out, count
}

func (r setMembership) Find(lines []string) []Match {
	var out []Match
	for i, line := range lines {
		if _, n := r.rewriteLine(line); n > 0 {
			out = append(out, Match{RuleID: r.ID(), Line: i + 1})
		}
	}
	return out
}

func (r setMembership) Apply(lines []string) ([]string, int) {
	out := make([]string, len(lines))
	total := 0
	for i, line := range lines {
		var n int
		out[i], n = r.rewriteLine(line)
		total += n
	}
	return out, total
}
