package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/steveyegge/autoprog/internal/analysis"
)

// DiffResult is the stored text of a change plus line statistics.
type DiffResult struct {
	Text         string
	AddedLines   int
	DeletedLines int
}

// GenerateDiff builds a patch-format diff from old to new content with
// unified headers. Binary content gets a one-line marker instead.
func GenerateDiff(path string, oldContent, newContent []byte) *DiffResult {
	if bytes.Equal(oldContent, newContent) {
		return &DiffResult{}
	}
	if analysis.IsBinary(oldContent) || analysis.IsBinary(newContent) {
		return &DiffResult{Text: "Binary file " + path + " has changed\n"}
	}

	dmp := diffmatchpatch.New()
	oldText, newText := string(oldContent), string(newContent)
	diffs := dmp.DiffMain(oldText, newText, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	patches := dmp.PatchMake(oldText, diffs)

	var b strings.Builder
	b.WriteString("--- a/" + path + "\n")
	b.WriteString("+++ b/" + path + "\n")
	b.WriteString(dmp.PatchToText(patches))

	added, deleted := countLines(dmp, oldText, newText)
	return &DiffResult{Text: b.String(), AddedLines: added, DeletedLines: deleted}
}

// countLines diffs in line mode so statistics count whole lines.
func countLines(dmp *diffmatchpatch.DiffMatchPatch, oldText, newText string) (added, deleted int) {
	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if n == 0 && d.Text != "" {
			n = 1
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			deleted += n
		}
	}
	return added, deleted
}

// diffRef addresses a diff by the path and both sides of the change.
func diffRef(path string, oldContent, newContent []byte) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(oldContent)
	h.Write([]byte{0})
	h.Write(newContent)
	return "d-" + hex.EncodeToString(h.Sum(nil))
}
