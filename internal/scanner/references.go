package scanner

import (
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/mod/modfile"
)

// reference is an import of a local module that does not exist.
type reference struct {
	target  string // slash-separated path of the file that would satisfy it
	from    string
	line    int
	symbols []string
	pattern string
}

const (
	patternMissingPython = "missing.python_module"
	patternMissingGo     = "missing.go_package"
)

var (
	pyFromRe   = regexp.MustCompile(`^\s*from\s+(\.*)([\w.]*)\s+import\s+\(?([\w\s,]+)\)?\s*(?:#.*)?$`)
	pyImportRe = regexp.MustCompile(`^\s*import\s+([\w.]+)(?:\s+as\s+(\w+))?\s*(?:#.*)?$`)
	goImportRe = regexp.MustCompile(`^\s*(?:import\s+)?([\w.]+\s+)?"([^"]+)"\s*(?://.*)?$`)
)

// workspace answers existence queries relative to the scan root.
type workspace struct {
	root       string
	modulePath string
}

func newWorkspace(root string) *workspace {
	ws := &workspace{root: root}
	if data, err := os.ReadFile(filepath.Join(root, "go.mod")); err == nil {
		ws.modulePath = modfile.ModulePath(data)
	}
	return ws
}

func (w *workspace) isFile(rel string) bool {
	info, err := os.Stat(filepath.Join(w.root, filepath.FromSlash(rel)))
	return err == nil && !info.IsDir()
}

func (w *workspace) isDir(rel string) bool {
	info, err := os.Stat(filepath.Join(w.root, filepath.FromSlash(rel)))
	return err == nil && info.IsDir()
}

func (w *workspace) hasGoFiles(rel string) bool {
	entries, err := os.ReadDir(filepath.Join(w.root, filepath.FromSlash(rel)))
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".go") {
			return true
		}
	}
	return false
}

// pythonReferences finds imports of local Python modules that are missing.
// An absolute import is local when its top-level package exists under the
// workspace root or next to the importing file.
func (w *workspace) pythonReferences(relPath string, lines []string) []reference {
	dir := path.Dir(filepath.ToSlash(relPath))
	var refs []reference

	for i, line := range lines {
		var dots, module string
		var names []string
		if m := pyFromRe.FindStringSubmatch(line); m != nil {
			dots, module = m[1], m[2]
			for _, n := range strings.Split(m[3], ",") {
				f := strings.Fields(n)
				if len(f) > 0 {
					names = append(names, f[0])
				}
			}
		} else if m := pyImportRe.FindStringSubmatch(line); m != nil {
			module = m[1]
			alias := m[2]
			if alias == "" {
				alias = module
			}
			names = attributeUses(lines, alias)
		} else {
			continue
		}
		if module == "" {
			continue
		}

		var bases []string
		if dots != "" {
			base := dir
			for k := 1; k < len(dots); k++ {
				base = path.Dir(base)
			}
			if strings.HasPrefix(base, "..") {
				continue
			}
			bases = []string{base}
		} else {
			bases = []string{".", dir}
		}

		parts := strings.Split(module, ".")
		for _, base := range bases {
			top := path.Join(base, parts[0])
			if dots == "" && !w.isDir(top) && !w.isFile(top+".py") {
				continue
			}
			if target, ok := w.missingPythonModule(base, parts); ok {
				refs = append(refs, reference{
					target:  target,
					from:    relPath,
					line:    i + 1,
					symbols: names,
					pattern: patternMissingPython,
				})
			}
			break
		}
	}
	return refs
}

// missingPythonModule walks the dotted parts under base. It reports the file
// to create when every parent is a package directory and the leaf module is
// absent.
func (w *workspace) missingPythonModule(base string, parts []string) (string, bool) {
	cur := base
	for i, p := range parts {
		next := path.Join(cur, p)
		last := i == len(parts)-1
		if w.isFile(next + ".py") {
			return "", false
		}
		if w.isDir(next) {
			if last {
				return "", false
			}
			cur = next
			continue
		}
		if !last && i > 0 {
			// an intermediate package is missing as well; create the leaf inside it
			return path.Join(cur, path.Join(parts[i:]...)) + ".py", true
		}
		if !last {
			return "", false
		}
		return next + ".py", true
	}
	return "", false
}

// goReferences finds imports under the workspace module path whose package
// directory is missing or holds no Go files.
func (w *workspace) goReferences(relPath string, lines []string) []reference {
	if w.modulePath == "" {
		return nil
	}
	var refs []reference
	inBlock := false
	for i, line := range lines {
		t := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(t, "import ("):
			inBlock = true
			continue
		case inBlock && t == ")":
			inBlock = false
			continue
		case !inBlock && !strings.HasPrefix(t, "import "):
			continue
		}
		m := goImportRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		importPath := m[2]
		if !strings.HasPrefix(importPath, w.modulePath+"/") {
			continue
		}
		rel := strings.TrimPrefix(importPath, w.modulePath+"/")
		if w.hasGoFiles(rel) {
			continue
		}
		name := path.Base(rel)
		alias := strings.TrimSpace(m[1])
		if alias == "" || alias == "_" || alias == "." {
			alias = name
		}
		refs = append(refs, reference{
			target:  path.Join(rel, strings.ReplaceAll(name, "-", "_")+".go"),
			from:    relPath,
			line:    i + 1,
			symbols: attributeUses(lines, alias),
			pattern: patternMissingGo,
		})
	}
	return refs
}

// attributeUses returns the sorted unique names accessed as qualifier.Name.
func attributeUses(lines []string, qualifier string) []string {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(qualifier) + `\.(\w+)`)
	seen := make(map[string]bool)
	var out []string
	for _, line := range lines {
		for _, m := range re.FindAllStringSubmatch(line, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				out = append(out, m[1])
			}
		}
	}
	sort.Strings(out)
	return out
}
