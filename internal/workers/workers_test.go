package workers

import (
	"context"
	"errors"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	gotypes "go/types"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/autoprog/internal/ai"
	"github.com/steveyegge/autoprog/internal/analysis"
	"github.com/steveyegge/autoprog/internal/types"
)

func setupRunContext(t *testing.T, files map[string]string) *RunContext {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	rc, err := NewRunContext(RunContextConfig{RunID: "run-1", Root: root})
	require.NoError(t, err)
	return rc
}

func newTask(tt types.TaskType, path string, cat types.Category, findings ...*types.Finding) *types.Task {
	return &types.Task{
		ID:       "task-" + strings.ToLower(string(tt)),
		Type:     tt,
		Priority: types.PriorityHigh,
		Path:     path,
		Category: cat,
		Status:   types.StatusRunning,
		Attempt:  1,
		Findings: findings,
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, types.AllTaskTypes(), r.Types())

	for _, tt := range types.AllTaskTypes() {
		w, ok := r.Get(tt)
		require.True(t, ok, tt)
		assert.Equal(t, tt, w.Type())
	}

	err := r.Register(NewAnalyzer())
	assert.Error(t, err, "one worker per task type")
}

func TestRunContextKeepsLatestReport(t *testing.T) {
	rc := setupRunContext(t, nil)
	first := rc.Reviewer.Review("a.py", []byte("x = 1\n"))
	second := rc.Reviewer.Review("a.py", []byte("x = 2\n"))
	first.GeneratedAt = second.GeneratedAt.Add(-time.Second)
	rc.RecordReport(second)
	rc.RecordReport(first)

	got, ok := rc.LatestReport("a.py")
	require.True(t, ok)
	assert.Equal(t, second.ContentHash, got.ContentHash)
	assert.Len(t, rc.Reports(), 1)
}

func TestAnalyzerIsReadOnly(t *testing.T) {
	src := "def f(a, b, c, d, e, g):\n    return a\n"
	rc := setupRunContext(t, map[string]string{"core/util.py": src})

	out, err := NewAnalyzer().Execute(context.Background(), rc, newTask(types.TaskAnalysis, "core/util.py", types.CategoryGeneric))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Nil(t, out.Artifact)
	require.NotNil(t, out.Report)
	assert.Equal(t, "core/util.py", out.Report.Path)
	for _, is := range out.Issues {
		assert.Equal(t, "task-analysis", is.TaskID)
	}
	assert.Contains(t, out.Message, "maintainability")
}

func TestReviewerReportsSecurityIssues(t *testing.T) {
	rc := setupRunContext(t, map[string]string{"tools/run.py": "def run(expr):\n    return eval(expr)\n"})

	out, err := NewReviewer().Execute(context.Background(), rc, newTask(types.TaskReview, "tools/run.py", types.CategoryGeneric))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Nil(t, out.Artifact)
	require.NotEmpty(t, out.Issues)
	assert.Equal(t, types.SeverityCritical, out.Issues[0].Severity)
	assert.Equal(t, "security.eval", out.Issues[0].Rule)
}

func TestVerify(t *testing.T) {
	rc := setupRunContext(t, nil)

	v := Verify(rc, newTask(types.TaskOptimization, "a.py", types.CategoryGeneric), nil, []byte("def f(x):\n    return eval(x)\n"))
	assert.False(t, v.Passed)
	assert.Contains(t, v.Detail, "CRITICAL")

	conversion := newTask(types.TaskConversion, "a.py", types.CategoryGeneric)
	v = Verify(rc, conversion, nil, []byte("def f(x):\n    raise NotImplementedError\n"))
	assert.False(t, v.Passed)
	assert.Contains(t, v.Detail, "mock confidence")

	v = Verify(rc, conversion, nil, []byte("def f(x):\n    return x * 2\n"))
	assert.True(t, v.Passed)
	require.NotNil(t, v.Report)

	// placeholders only block conversions
	v = Verify(rc, newTask(types.TaskOptimization, "a.py", types.CategoryGeneric), nil, []byte("def f(x):\n    raise NotImplementedError\n"))
	assert.True(t, v.Passed)
}

const visionMock = `"""Vision detection."""
import os


# mock implementation
def detect(frame, threshold=0.5):
    """Detect objects."""
    raise NotImplementedError


def helper(x):
    return x + 1
`

func TestConverterPython(t *testing.T) {
	rc := setupRunContext(t, map[string]string{"vision/detect.py": visionMock})
	task := newTask(types.TaskConversion, "vision/detect.py", types.CategoryVision)

	out, err := NewConverter().Execute(context.Background(), rc, task)
	require.NoError(t, err)
	require.True(t, out.Success)
	assert.Empty(t, out.Issues, "vision has a specific template")

	src := string(out.Artifact)
	assert.Contains(t, src, `    return _engine.handle("detect", {"frame": frame, "threshold": threshold})`)
	assert.Contains(t, src, "def detect(frame, threshold=0.5):\n")
	assert.Contains(t, src, "class _FramePipeline:")
	assert.Contains(t, src, "import logging\n")
	assert.Contains(t, src, "def helper(x):\n    return x + 1\n", "working functions are untouched")
	assert.NotContains(t, src, "NotImplementedError")
	assert.NotContains(t, src, "# mock implementation")
	assert.True(t, strings.HasPrefix(src, `"""Vision detection."""`+"\nimport os\n"))

	// the engine sits before the first definition
	assert.Less(t, strings.Index(src, "_engine = _FramePipeline()"), strings.Index(src, "def detect("))

	v := Verify(rc, task, nil, out.Artifact)
	assert.True(t, v.Passed, v.Detail)
	assert.Zero(t, analysis.ScoreMocks("vision/detect.py", out.Artifact, rc.MockPatterns))
}

func TestConverterPythonMethods(t *testing.T) {
	src := `import logging


class Recorder:
    def __init__(self, rate):
        pass  # TODO wire the device

    def record(self, seconds: float = 1.0) -> bytes:
        return None  # mock
`
	rc := setupRunContext(t, map[string]string{"audio/recorder.py": src})
	task := newTask(types.TaskConversion, "audio/recorder.py", types.CategoryAudio)

	out, err := NewConverter().Execute(context.Background(), rc, task)
	require.NoError(t, err)
	got := string(out.Artifact)

	assert.Contains(t, got, "    def __init__(self, rate):\n        _engine.handle(\"__init__\", {\"rate\": rate})\n")
	assert.Contains(t, got, "    def record(self, seconds: float = 1.0) -> bytes:\n        return _engine.handle(\"record\", {\"seconds\": seconds})\n")
	assert.Contains(t, got, "class _AudioPipeline:")
	assert.Equal(t, 1, strings.Count(got, "import logging"), "existing logging import is reused")

	v := Verify(rc, task, nil, out.Artifact)
	assert.True(t, v.Passed, v.Detail)
}

func TestConverterGo(t *testing.T) {
	src := `package cache

// Open opens the cache.
func Open(path string, size int) (*Cache, error) {
	panic("not implemented")
}

func Size() int {
	return 0
}

type Cache struct{}
`
	rc := setupRunContext(t, map[string]string{"internal/cache/cache.go": src})
	task := newTask(types.TaskConversion, "internal/cache/cache.go", types.CategoryMemory)

	out, err := NewConverter().Execute(context.Background(), rc, task)
	require.NoError(t, err)
	got := string(out.Artifact)

	assert.Contains(t, got, "// Open opens the cache.\nfunc Open(path string, size int) (*Cache, error) {\n\tcacheMemoryStoreEngine.handle(\"Open\", path, size)\n\treturn nil, nil\n}\n")
	assert.Contains(t, got, "func Size() int {\n\treturn 0\n}\n")
	assert.Contains(t, got, "type cacheMemoryStore struct {")
	assert.Contains(t, got, "var cacheMemoryStoreEngine = &cacheMemoryStore{}")

	formatted, err := format.Source(out.Artifact)
	require.NoError(t, err)
	assert.Equal(t, string(formatted), got, "converted Go is gofmt clean")
	assert.NotContains(t, got, "panic(")

	v := Verify(rc, task, nil, out.Artifact)
	assert.True(t, v.Passed, v.Detail)
}

// typeCheck parses and type-checks Go sources as one package. The sources
// must not import anything.
func typeCheck(t *testing.T, pkg string, sources map[string]string) error {
	t.Helper()
	fset := token.NewFileSet()
	var files []*ast.File
	for name, src := range sources {
		f, err := parser.ParseFile(fset, name, src, 0)
		require.NoError(t, err, name)
		files = append(files, f)
	}
	_, err := (&gotypes.Config{}).Check(pkg, fset, files, nil)
	return err
}

func TestConverterGoSamePackage(t *testing.T) {
	files := map[string]string{
		"tasks/queue.go":  "package tasks\n\nfunc Enqueue(job string) error {\n\tpanic(\"not implemented\")\n}\n",
		"tasks/worker.go": "package tasks\n\nfunc Work(job string) error {\n\tpanic(\"not implemented\")\n}\n",
		// already declares the name the worker.go engine would take
		"tasks/state.go": "package tasks\n\ntype workerTaskQueue struct{}\n",
	}
	rc := setupRunContext(t, files)

	converted := map[string]string{"tasks/state.go": files["tasks/state.go"]}
	for _, p := range []string{"tasks/queue.go", "tasks/worker.go"} {
		out, err := NewConverter().Execute(context.Background(), rc, newTask(types.TaskConversion, p, types.CategoryTasks))
		require.NoError(t, err)
		require.True(t, out.Success, out.Message)
		converted[p] = string(out.Artifact)
		require.NoError(t, os.WriteFile(rc.Abs(p), out.Artifact, 0644))
	}

	assert.Contains(t, converted["tasks/queue.go"], "var queueTaskQueueEngine = &queueTaskQueue{}")
	assert.Contains(t, converted["tasks/worker.go"], "var workerTaskQueue2Engine = &workerTaskQueue2{}")
	assert.NoError(t, typeCheck(t, "tasks", converted))
}

func TestConverterGoUnparsable(t *testing.T) {
	src := "package broken\n\nfunc Open() error {\n\tpanic(\"not implemented\")\n}\n\nfunc (\n"
	rc := setupRunContext(t, map[string]string{"broken/open.go": src})

	out, err := NewConverter().Execute(context.Background(), rc, newTask(types.TaskConversion, "broken/open.go", types.CategoryGeneric))
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Nil(t, out.Artifact)
	assert.Contains(t, out.Message, "does not parse")
}

func TestGoEngineName(t *testing.T) {
	tests := []struct {
		path     string
		goType   string
		taken    []string
		expected string
	}{
		{"tasks/queue.go", "taskQueue", nil, "queueTaskQueue"},
		{"tasks/work_queue.go", "taskQueue", nil, "workQueueTaskQueue"},
		{"net/HTTP-client.go", "channelState", nil, "hTTPClientChannelState"},
		{"v/2d.go", "visionPipeline", nil, "f2dVisionPipeline"},
		{"tasks/queue.go", "taskQueue", []string{"queueTaskQueue"}, "queueTaskQueue2"},
		{"tasks/queue.go", "taskQueue", []string{"queueTaskQueueEngine", "queueTaskQueue2"}, "queueTaskQueue3"},
	}
	for _, tt := range tests {
		t.Run(tt.path+"/"+tt.expected, func(t *testing.T) {
			taken := func(s string) bool {
				for _, x := range tt.taken {
					if x == s {
						return true
					}
				}
				return false
			}
			if got := goEngineName(tt.path, tt.goType, taken); got != tt.expected {
				t.Errorf("goEngineName() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestVerifyAllowsExistingCritical(t *testing.T) {
	original := "def predict(x):\n    raise NotImplementedError\n\n\ndef evaluate(expr):\n    return eval(expr)\n"
	rc := setupRunContext(t, map[string]string{"neural/model.py": original})
	task := newTask(types.TaskConversion, "neural/model.py", types.CategoryML)

	out, err := NewConverter().Execute(context.Background(), rc, task)
	require.NoError(t, err)
	require.True(t, out.Success, out.Message)
	assert.Contains(t, string(out.Artifact), "return eval(expr)")

	v := Verify(rc, task, []byte(original), out.Artifact)
	assert.True(t, v.Passed, v.Detail)
	assert.Contains(t, v.Detail, "1 CRITICAL carried over")

	// without the original the same eval counts as introduced
	v = Verify(rc, task, nil, out.Artifact)
	assert.False(t, v.Passed)

	// a second eval is new even though the rule already fired before
	worse := append(append([]byte{}, out.Artifact...), []byte("\n\ndef run(code):\n    return eval(code)\n")...)
	v = Verify(rc, task, []byte(original), worse)
	assert.False(t, v.Passed)
	assert.Contains(t, v.Detail, "security.eval")
}

func TestConverterGenericIsFlagged(t *testing.T) {
	rc := setupRunContext(t, map[string]string{"misc/thing.py": "def thing():\n    raise NotImplementedError\n"})

	out, err := NewConverter().Execute(context.Background(), rc, newTask(types.TaskConversion, "misc/thing.py", types.CategoryGeneric))
	require.NoError(t, err)
	require.Len(t, out.Issues, 1)
	assert.Equal(t, types.SeverityLow, out.Issues[0].Severity)
	assert.Equal(t, "conversion.generic", out.Issues[0].Rule)
	assert.Contains(t, string(out.Artifact), "class _Component:")
}

func TestConverterFallbackLanguage(t *testing.T) {
	src := "export function connect(host) {\n  throw new Error(\"not implemented\");\n}\n"
	rc := setupRunContext(t, map[string]string{"net/client.js": src})

	out, err := NewConverter().Execute(context.Background(), rc, newTask(types.TaskConversion, "net/client.js", types.CategoryNetwork))
	require.NoError(t, err)
	assert.Equal(t, "export function connect(host) {\n  // autoprog: removed unimplemented statement\n}\n", string(out.Artifact))
	require.Len(t, out.Issues, 1)
	assert.Equal(t, types.SeverityLow, out.Issues[0].Severity)
}

func TestConverterCutsTrailingPlaceholderComment(t *testing.T) {
	src := "RATE = 16000  # simulated device rate\n\n\ndef rate():\n    return RATE\n"
	rc := setupRunContext(t, map[string]string{"audio/device.py": src})

	out, err := NewConverter().Execute(context.Background(), rc, newTask(types.TaskConversion, "audio/device.py", types.CategoryAudio))
	require.NoError(t, err)
	assert.Equal(t, "RATE = 16000\n\n\ndef rate():\n    return RATE\n", string(out.Artifact))
}

func TestCreator(t *testing.T) {
	rc := setupRunContext(t, map[string]string{"app/main.py": "from core.planner import Planner\n"})
	task := newTask(types.TaskCreation, "core/planner.py", types.CategoryGeneric, &types.Finding{
		Path: "core/planner.py", Kind: types.KindMissing, Category: types.CategoryGeneric,
		Symbols: []string{"Planner"}, ReferencedFrom: "app/main.py",
	})

	out, err := NewCreator().Execute(context.Background(), rc, task)
	require.NoError(t, err)
	require.True(t, out.Success)
	assert.Contains(t, string(out.Artifact), "class Planner:")
	assert.Contains(t, out.Message, "via template")
	assert.NoFileExists(t, rc.Abs("core/planner.py"), "workers never write files")
}

func TestCreatorRefusesExistingTarget(t *testing.T) {
	rc := setupRunContext(t, map[string]string{"core/planner.py": "class Planner:\n    x = 1\n"})

	out, err := NewCreator().Execute(context.Background(), rc, newTask(types.TaskCreation, "core/planner.py", types.CategoryGeneric))
	require.NoError(t, err)
	assert.False(t, out.Success)
	require.Len(t, out.Issues, 1)
	assert.Contains(t, out.Issues[0].Message, "already exists")
}

type failingSynthesizer struct{}

func (failingSynthesizer) Name() string { return "failing" }
func (failingSynthesizer) Synthesize(context.Context, ai.Requirement) ([]byte, error) {
	return nil, errors.New("model unavailable")
}

func TestCreatorSynthesisFailure(t *testing.T) {
	rc := setupRunContext(t, nil)
	rc.Synthesizer = failingSynthesizer{}

	out, err := NewCreator().Execute(context.Background(), rc, newTask(types.TaskCreation, "core/planner.py", types.CategoryGeneric))
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "model unavailable")
}

func TestOptimizer(t *testing.T) {
	src := "from os import path\nfrom os import getcwd\n\n\ndef f():\n    return path, getcwd\n"
	rc := setupRunContext(t, map[string]string{"core/paths.py": src})

	out, err := NewOptimizer().Execute(context.Background(), rc, newTask(types.TaskOptimization, "core/paths.py", types.CategoryGeneric))
	require.NoError(t, err)
	require.True(t, out.Success)
	assert.Equal(t, "from os import path, getcwd\n\n\ndef f():\n    return path, getcwd\n", string(out.Artifact))
	assert.Equal(t, 5.0, out.PerformanceDelta)

	rc = setupRunContext(t, map[string]string{"core/plain.py": "def f():\n    return 1\n"})
	out, err = NewOptimizer().Execute(context.Background(), rc, newTask(types.TaskOptimization, "core/plain.py", types.CategoryGeneric))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Nil(t, out.Artifact)
}

func TestWorkersHonorCancellation(t *testing.T) {
	rc := setupRunContext(t, map[string]string{"a.py": "x = 1\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, tt := range types.AllTaskTypes() {
		w, _ := DefaultRegistry().Get(tt)
		_, err := w.Execute(ctx, rc, newTask(tt, "a.py", types.CategoryGeneric))
		assert.ErrorIs(t, err, context.Canceled, tt)
	}
}

func TestGoReturn(t *testing.T) {
	tests := map[string]string{
		"":                       "",
		"error":                  "return nil",
		"(string, bool)":         `return "", false`,
		"(n int, err error)":     "return",
		"(chan int, error)":      "return nil, nil",
		"Config":                 "return *new(Config)",
		"map[string]interface{}": "return nil",
		"float64":                "return 0",
	}
	for results, want := range tests {
		if got := goReturn(results); got != want {
			t.Errorf("goReturn(%q) = %q, want %q", results, got, want)
		}
	}
}
