// Package ai provides the synthesis capability used by the Creator worker.
//
// Synthesis is an opaque provider: the coordinator hands it a Requirement and
// receives file content back. TemplateSynthesizer is always available and
// deterministic. AnthropicSynthesizer asks a model and is enabled through
// configuration.
package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"text/template"
	"unicode"

	"github.com/steveyegge/autoprog/internal/analysis"
	"github.com/steveyegge/autoprog/internal/types"
)

// ErrEmptySynthesis is returned when a provider produces no content.
var ErrEmptySynthesis = errors.New("synthesizer produced no content")

// Requirement describes a file the workspace references but does not contain.
type Requirement struct {
	Path           string
	Category       types.Category
	Symbols        []string // names the referencing file expects
	ReferencedFrom string
}

// Language returns the source language of the target path.
func (r Requirement) Language() analysis.Language {
	return analysis.DetectLanguage(r.Path)
}

// Synthesizer produces the content of a new file.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req Requirement) ([]byte, error)
}

// TemplateSynthesizer renders a minimal working module that defines every
// expected symbol.
type TemplateSynthesizer struct{}

// NewTemplateSynthesizer returns the default synthesizer.
func NewTemplateSynthesizer() *TemplateSynthesizer {
	return &TemplateSynthesizer{}
}

// Name implements Synthesizer.
func (TemplateSynthesizer) Name() string {
	return "template"
}

type symbol struct {
	Name  string
	Class bool
}

type moduleData struct {
	Path           string
	Package        string
	Category       types.Category
	ReferencedFrom string
	Symbols        []symbol
}

var moduleTemplates = map[analysis.Language]*template.Template{
	analysis.LangPython: template.Must(template.New("python").Parse(
		`"""{{.Package}}: {{.Category}} module required by {{if .ReferencedFrom}}{{.ReferencedFrom}}{{else}}the workspace{{end}}."""
{{range .Symbols}}{{if .Class}}

class {{.Name}}:
    """{{.Name}} keeps the options it was created with."""

    def __init__(self, **options):
        self.options = dict(options)

    def configure(self, **options):
        self.options.update(options)
        return self
{{else}}

def {{.Name}}(*args, **kwargs):
    return {"args": list(args), "kwargs": dict(kwargs)}
{{end}}{{end}}`)),
	analysis.LangGo: template.Must(template.New("go").Parse(
		`// Package {{.Package}} is the {{.Category}} package required by {{if .ReferencedFrom}}{{.ReferencedFrom}}{{else}}the workspace{{end}}.
package {{.Package}}
{{range .Symbols}}
// {{.Name}} returns its arguments unchanged.
func {{.Name}}(args ...any) []any {
	return args
}
{{end}}`)),
	analysis.LangCLike: template.Must(template.New("clike").Parse(
		`// {{.Path}}: {{.Category}} module required by {{if .ReferencedFrom}}{{.ReferencedFrom}}{{else}}the workspace{{end}}.
{{range .Symbols}}
export function {{.Name}}(...args) {
  return args;
}
{{end}}`)),
}

// Synthesize implements Synthesizer.
func (TemplateSynthesizer) Synthesize(ctx context.Context, req Requirement) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Path == "" {
		return nil, fmt.Errorf("requirement path is required")
	}

	lang := req.Language()
	data := moduleData{
		Path:           req.Path,
		Package:        packageName(req.Path, lang),
		Category:       req.Category,
		ReferencedFrom: req.ReferencedFrom,
	}
	for _, name := range req.Symbols {
		if !isIdentifier(name) {
			continue
		}
		if lang == analysis.LangGo && !unicode.IsUpper([]rune(name)[0]) {
			continue
		}
		data.Symbols = append(data.Symbols, symbol{Name: name, Class: unicode.IsUpper([]rune(name)[0])})
	}

	var buf bytes.Buffer
	if err := moduleTemplates[lang].Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render %s module: %w", lang, err)
	}
	return buf.Bytes(), nil
}

// packageName derives a package or module name from the target path.
func packageName(p string, lang analysis.Language) string {
	dir, file := path.Split(p)
	name := strings.TrimSuffix(file, path.Ext(file))
	if lang == analysis.LangGo {
		name = path.Base(strings.TrimSuffix(dir, "/"))
		if name == "." || name == "" || name == "/" {
			name = "main"
		}
	}
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "module"
	}
	return b.String()
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
