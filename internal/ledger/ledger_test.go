package ledger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/autoprog/internal/storage/sqlite"
	"github.com/steveyegge/autoprog/internal/types"
)

func setupLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	root := t.TempDir()
	store, err := sqlite.New(filepath.Join(root, ".autoprog", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	l, err := New(store, root, nil)
	require.NoError(t, err)
	return l.ForRun("run-1"), root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func outcomes(recs []*types.ChangeRecord) []types.Outcome {
	out := make([]types.Outcome, len(recs))
	for i, r := range recs {
		out[i] = r.Outcome
	}
	return out
}

func TestCommitRollbackRoundTrip(t *testing.T) {
	ctx := context.Background()
	l, root := setupLedger(t)
	original := "def detect(frame):\n    raise NotImplementedError\n"
	writeFile(t, root, "vision/detect.py", original)

	bk, err := l.Backup(ctx, "t1", "vision/detect.py")
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeBackup, bk.Outcome)
	assert.Equal(t, "run-1", bk.RunID)

	applied, err := l.Commit(ctx, "t1", "vision/detect.py", []byte("def detect(frame):\n    return []\n"))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeApplied, applied.Outcome)
	assert.Equal(t, bk.BackupRef, applied.BackupRef)
	assert.Equal(t, "def detect(frame):\n    return []\n", readFile(t, root, "vision/detect.py"))

	diff, err := l.Store().GetDiff(ctx, applied.DiffRef)
	require.NoError(t, err)
	assert.Contains(t, diff.Text, "--- a/vision/detect.py")

	rb, err := l.Rollback(ctx, applied)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeRolledBack, rb.Outcome)
	assert.Equal(t, applied.ID, rb.Reverses)
	assert.Equal(t, original, readFile(t, root, "vision/detect.py"))

	orig, err := l.Original(ctx, bk)
	require.NoError(t, err)
	assert.Equal(t, original, string(orig.Content))
	assert.False(t, orig.Absent)

	_, err = l.Original(ctx, applied)
	assert.ErrorIs(t, err, types.ErrLedgerIntegrity)

	history, err := l.History(ctx, types.ChangeFilter{Path: "vision/detect.py"})
	require.NoError(t, err)
	assert.Equal(t, []types.Outcome{types.OutcomeBackup, types.OutcomeApplied, types.OutcomeRolledBack}, outcomes(history))
}

func TestCommitWithoutBackupFails(t *testing.T) {
	ctx := context.Background()
	l, root := setupLedger(t)
	writeFile(t, root, "a.py", "x = 1\n")

	_, err := l.Commit(ctx, "t1", "a.py", []byte("x = 2\n"))
	assert.ErrorIs(t, err, types.ErrLedgerIntegrity)
	assert.Equal(t, "x = 1\n", readFile(t, root, "a.py"))

	// a backup taken by another task does not count
	_, err = l.Backup(ctx, "t2", "a.py")
	require.NoError(t, err)
	_, err = l.Commit(ctx, "t1", "a.py", []byte("x = 2\n"))
	assert.ErrorIs(t, err, types.ErrLedgerIntegrity)

	history, err := l.History(ctx, types.ChangeFilter{Path: "a.py"})
	require.NoError(t, err)
	assert.Equal(t, []types.Outcome{types.OutcomeBackup}, outcomes(history))
}

func TestCommitRequiresExactlyOneBackup(t *testing.T) {
	ctx := context.Background()
	l, root := setupLedger(t)
	writeFile(t, root, "a.py", "x = 1\n")

	_, err := l.Backup(ctx, "t1", "a.py")
	require.NoError(t, err)
	_, err = l.Backup(ctx, "t1", "a.py")
	require.NoError(t, err)

	_, err = l.Commit(ctx, "t1", "a.py", []byte("x = 2\n"))
	assert.ErrorIs(t, err, types.ErrLedgerIntegrity)
}

func TestBackupsAreContentAddressed(t *testing.T) {
	ctx := context.Background()
	l, root := setupLedger(t)
	writeFile(t, root, "a.py", "same\n")

	first, err := l.Backup(ctx, "t1", "a.py")
	require.NoError(t, err)
	second, err := l.Backup(ctx, "t2", "a.py")
	require.NoError(t, err)
	assert.Equal(t, first.BackupRef, second.BackupRef)
	assert.NotEqual(t, first.ID, second.ID)

	writeFile(t, root, "a.py", "changed\n")
	third, err := l.Backup(ctx, "t3", "a.py")
	require.NoError(t, err)
	assert.NotEqual(t, first.BackupRef, third.BackupRef)

	// same bytes under another path is a different backup
	assert.NotEqual(t, BackupRef("a.py", []byte("x"), false), BackupRef("b.py", []byte("x"), false))
	assert.NotEqual(t, BackupRef("a.py", []byte{}, false), BackupRef("a.py", []byte{}, true))
}

func TestCreationRollbackDeletesFile(t *testing.T) {
	ctx := context.Background()
	l, root := setupLedger(t)

	bk, err := l.Backup(ctx, "t1", "core/planner.py")
	require.NoError(t, err)

	applied, err := l.Commit(ctx, "t1", "core/planner.py", []byte("class Planner:\n    pass\n"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "core", "planner.py"))

	_, err = l.Rollback(ctx, applied)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(root, "core", "planner.py"))

	orig, err := l.Original(ctx, bk)
	require.NoError(t, err)
	assert.True(t, orig.Absent)
}

func TestVerificationAndRollbackOfFailedRecord(t *testing.T) {
	ctx := context.Background()
	l, root := setupLedger(t)
	writeFile(t, root, "a.py", "old\n")

	_, err := l.Backup(ctx, "t1", "a.py")
	require.NoError(t, err)
	applied, err := l.Commit(ctx, "t1", "a.py", []byte("new\n"))
	require.NoError(t, err)

	failed, err := l.RecordVerification(ctx, applied, false, "CRITICAL issue remains")
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeFailed, failed.Outcome)
	assert.Equal(t, "CRITICAL issue remains", failed.Verification)

	rb, err := l.Rollback(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, applied.ID, rb.Reverses)
	assert.Equal(t, "old\n", readFile(t, root, "a.py"))

	_, err = l.Rollback(ctx, applied)
	assert.ErrorIs(t, err, types.ErrLedgerIntegrity)

	_, err = l.RecordVerification(ctx, rb, true, "")
	assert.ErrorIs(t, err, types.ErrLedgerIntegrity)

	history, err := l.History(ctx, types.ChangeFilter{TaskID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, []types.Outcome{
		types.OutcomeBackup, types.OutcomeApplied, types.OutcomeFailed, types.OutcomeRolledBack,
	}, outcomes(history))
}

func TestRollbackLastUnwindsNewestFirst(t *testing.T) {
	ctx := context.Background()
	l, root := setupLedger(t)
	writeFile(t, root, "a.py", "v0\n")

	for i, next := range []string{"v1\n", "v2\n"} {
		task := []string{"t1", "t2"}[i]
		_, err := l.Backup(ctx, task, "a.py")
		require.NoError(t, err)
		applied, err := l.Commit(ctx, task, "a.py", []byte(next))
		require.NoError(t, err)
		_, err = l.RecordVerification(ctx, applied, true, "ok")
		require.NoError(t, err)
	}

	_, err := l.RollbackLast(ctx, "a.py")
	require.NoError(t, err)
	assert.Equal(t, "v1\n", readFile(t, root, "a.py"))

	_, err = l.RollbackLast(ctx, "./a.py")
	require.NoError(t, err)
	assert.Equal(t, "v0\n", readFile(t, root, "a.py"))

	_, err = l.RollbackLast(ctx, "a.py")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRejectsPathsOutsideWorkspace(t *testing.T) {
	ctx := context.Background()
	l, _ := setupLedger(t)

	for _, p := range []string{"../escape.py", "/etc/passwd", ".", "a/../../b.py"} {
		_, err := l.Backup(ctx, "t1", p)
		assert.Error(t, err, p)
	}
}

func TestConcurrentCommitsOnDifferentFiles(t *testing.T) {
	ctx := context.Background()
	l, root := setupLedger(t)

	paths := []string{"a.py", "b.py", "c.py", "d.py", "e.py", "f.py"}
	for _, p := range paths {
		writeFile(t, root, p, "pass\n")
	}

	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func(task, p string) {
			defer wg.Done()
			_, err := l.Backup(ctx, task, p)
			assert.NoError(t, err)
			_, err = l.Commit(ctx, task, p, []byte("done = True\n"))
			assert.NoError(t, err)
		}("t"+p, p)
	}
	wg.Wait()

	for _, p := range paths {
		assert.Equal(t, "done = True\n", readFile(t, root, p))
	}
	applied, err := l.History(ctx, types.ChangeFilter{Outcome: types.OutcomeApplied})
	require.NoError(t, err)
	assert.Len(t, applied, len(paths))
}

func TestGenerateDiff(t *testing.T) {
	d := GenerateDiff("a.py", []byte("a\nb\nc\n"), []byte("a\nB\nc\nd\n"))
	assert.Contains(t, d.Text, "--- a/a.py\n+++ b/a.py\n")
	assert.Equal(t, 2, d.AddedLines)
	assert.Equal(t, 1, d.DeletedLines)

	assert.Empty(t, GenerateDiff("a.py", []byte("x"), []byte("x")).Text)
	assert.Contains(t, GenerateDiff("a.bin", []byte("x\x00"), []byte("y")).Text, "Binary file")
}
