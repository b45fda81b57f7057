package workers

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/steveyegge/autoprog/internal/types"
)

// categoryTemplate is one row of the conversion lookup table.
type categoryTemplate struct {
	Category types.Category
	Class    string // Python engine class
	GoType   string // Go engine type
	Unit     string // what a single call handles
	Units    string
	Summary  string
	Keep     int // history entries retained
}

var categoryTemplates = map[types.Category]categoryTemplate{
	types.CategoryVision: {
		Class: "_FramePipeline", GoType: "visionPipeline", Unit: "frame", Units: "frames", Keep: 32,
		Summary: "Frame pipeline backing the vision operations of this module.",
	},
	types.CategoryAudio: {
		Class: "_AudioPipeline", GoType: "audioPipeline", Unit: "chunk", Units: "chunks", Keep: 64,
		Summary: "Chunk pipeline backing the audio operations of this module.",
	},
	types.CategoryML: {
		Class: "_ModelState", GoType: "modelState", Unit: "sample", Units: "samples", Keep: 128,
		Summary: "Model state tracking the samples seen by this module.",
	},
	types.CategoryMemory: {
		Class: "_MemoryStore", GoType: "memoryStore", Unit: "entry", Units: "entries", Keep: 256,
		Summary: "In-process store holding the entries written by this module.",
	},
	types.CategoryNetwork: {
		Class: "_Channel", GoType: "channelState", Unit: "message", Units: "messages", Keep: 64,
		Summary: "Message channel state for the network operations of this module.",
	},
	types.CategoryTasks: {
		Class: "_TaskQueue", GoType: "taskQueue", Unit: "job", Units: "jobs", Keep: 128,
		Summary: "Job queue state for the task operations of this module.",
	},
	types.CategoryGeneric: {
		Class: "_Component", GoType: "componentState", Unit: "call", Units: "calls", Keep: 32,
		Summary: "Component state for the operations of this module.",
	},
}

// templateFor returns the table row for a category. Unknown categories use
// the generic row and report false so the caller can flag the result.
func templateFor(c types.Category) (categoryTemplate, bool) {
	if c == types.CategoryGeneric {
		t := categoryTemplates[types.CategoryGeneric]
		t.Category = c
		return t, false
	}
	t, ok := categoryTemplates[c]
	if !ok {
		t = categoryTemplates[types.CategoryGeneric]
		c = types.CategoryGeneric
	}
	t.Category = c
	return t, ok
}

// pythonEngineTemplate is inserted ahead of the first top-level definition.
const pythonEngineTemplate = `{{if .NeedLogging}}import logging

{{end}}_log = logging.getLogger(__name__)


class {{.Class}}:
    """{{.Summary}}"""

    def __init__(self):
        self.{{.Units}} = 0
        self.history = []

    def handle(self, operation, inputs):
        self.{{.Units}} += 1
        entry = {"operation": operation, "{{.Unit}}": self.{{.Units}}, "inputs": inputs}
        self.history.append(entry)
        if len(self.history) > {{.Keep}}:
            self.history.pop(0)
        _log.debug("%s handled {{.Unit}} %d", operation, self.{{.Units}})
        return entry


_engine = {{.Class}}()


`

// goEngineTemplate is appended to the end of a converted Go file.
const goEngineTemplate = `
// {{.GoType}} backs the converted {{.Category}} functions in this file.
type {{.GoType}} struct {
	{{.Units}} int
	history []string
}

func (e *{{.GoType}}) handle(operation string, inputs ...any) int {
	e.{{.Units}}++
	e.history = append(e.history, operation)
	if len(e.history) > {{.Keep}} {
		e.history = e.history[1:]
	}
	return len(inputs)
}

var {{.GoType}}Engine = &{{.GoType}}{}
`

var (
	pythonEngine = template.Must(template.New("python-engine").Parse(pythonEngineTemplate))
	goEngine     = template.Must(template.New("go-engine").Parse(goEngineTemplate))
)

type engineData struct {
	categoryTemplate
	NeedLogging bool
}

func renderEngine(t *template.Template, data engineData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
