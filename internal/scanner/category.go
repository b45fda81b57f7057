package scanner

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/steveyegge/autoprog/internal/types"
)

// categoryKeywords drives category resolution. A keyword in a path segment
// counts three times as much as one in the file body.
var categoryKeywords = map[types.Category][]string{
	types.CategoryVision:  {"vision", "camera", "image", "cv2", "perception", "video"},
	types.CategoryAudio:   {"audio", "voice", "speech", "tts", "microphone", "sound"},
	types.CategoryML:      {"neural", "model", "train", "learning", "tensor", "inference"},
	types.CategoryMemory:  {"memory", "cache", "storage", "knowledge", "database"},
	types.CategoryNetwork: {"network", "http", "socket", "api", "protocol", "communication"},
	types.CategoryTasks:   {"task", "queue", "scheduler", "job", "worker", "agent"},
}

const (
	pathWeight     = 3
	maxContentHits = 5
)

var keywordPatterns = func() map[types.Category]*regexp.Regexp {
	out := make(map[types.Category]*regexp.Regexp)
	for cat, words := range categoryKeywords {
		out[cat] = regexp.MustCompile(`(?i)\b(?:` + strings.Join(words, "|") + `)s?\b`)
	}
	return out
}()

// ResolveCategory assigns a category from path segments and content
// keywords. Ties break in category declaration order; no evidence at all
// resolves to generic.
func ResolveCategory(relPath string, content []byte) types.Category {
	segments := pathTokens(relPath)

	best := types.CategoryGeneric
	bestScore := 0
	for _, cat := range types.AllCategories() {
		words, ok := categoryKeywords[cat]
		if !ok {
			continue
		}
		score := 0
		for _, seg := range segments {
			for _, w := range words {
				if seg == w || seg == w+"s" || strings.HasPrefix(seg, w) {
					score += pathWeight
					break
				}
			}
		}
		if len(content) > 0 {
			hits := len(keywordPatterns[cat].FindAllIndex(content, maxContentHits))
			score += hits
		}
		if score > bestScore {
			best, bestScore = cat, score
		}
	}
	return best
}

// pathTokens splits a relative path into lowercase words.
func pathTokens(relPath string) []string {
	relPath = strings.TrimSuffix(filepath.ToSlash(relPath), filepath.Ext(relPath))
	fields := strings.FieldsFunc(strings.ToLower(relPath), func(r rune) bool {
		return r == '/' || r == '_' || r == '-' || r == '.'
	})
	return fields
}
