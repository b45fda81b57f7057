package scanner

import (
	"testing"

	"github.com/steveyegge/autoprog/internal/types"
)

func TestResolveCategory(t *testing.T) {
	tests := []struct {
		path    string
		content string
		want    types.Category
	}{
		{"vision/detector.py", "", types.CategoryVision},
		{"src/audio_player.py", "", types.CategoryAudio},
		{"util.py", "import torch\nmodel = train(tensor)\n", types.CategoryML},
		{"util.py", "", types.CategoryGeneric},
		{"lib/helpers.go", "func Add(a, b int) int { return a + b }", types.CategoryGeneric},
		// path evidence ties; declaration order picks network
		{"tasks/http_client.py", "", types.CategoryNetwork},
		{"core/memory_store.py", "", types.CategoryMemory},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := ResolveCategory(tt.path, []byte(tt.content)); got != tt.want {
				t.Errorf("ResolveCategory(%q) = %s, want %s", tt.path, got, tt.want)
			}
		})
	}
}

func TestShouldExcludePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		isDir    bool
		patterns []string
		want     bool
	}{
		{"prefix", "vendor/foo.py", false, []string{"vendor/"}, true},
		{"component boundary", "vendorized/bar.py", false, []string{"vendor/"}, false},
		{"nested component", "a/vendor/x.py", false, []string{"vendor/"}, true},
		{"suffix", "gen/x_pb2.py", false, []string{"_pb2.py"}, true},
		{"glob on base name", "a/b/c.min.js", false, []string{"*.min.js"}, true},
		{"always excluded dir", "external", true, AlwaysExcluded, true},
		{"state dir", ".autoprog", true, AlwaysExcluded, true},
		{"plain source", "src/main.py", false, AlwaysExcluded, false},
		{"empty pattern ignored", "src/main.py", false, []string{""}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldExcludePath(tt.path, tt.isDir, tt.patterns); got != tt.want {
				t.Errorf("ShouldExcludePath(%q, %v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
			}
		})
	}
}
