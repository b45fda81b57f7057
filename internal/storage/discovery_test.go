package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverWorkspaceWalksUp(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".autoprog"), 0755))
	nested := filepath.Join(root, "src", "pkg")
	require.NoError(t, os.MkdirAll(nested, 0755))

	got, err := DiscoverWorkspace(nested)
	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestDiscoverWorkspaceMissing(t *testing.T) {
	_, err := DiscoverWorkspace(t.TempDir())
	if err == nil {
		t.Skip("a parent of the temp dir is an initialized workspace")
	}
	assert.Contains(t, err.Error(), "autoprog init")
}

func TestDiscoverDatabaseEnvOverride(t *testing.T) {
	t.Setenv(EnvDBPath, "/tmp/custom.db")
	got, err := DiscoverDatabase(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.db", got)
}

func TestDiscoverDatabaseDefaultPath(t *testing.T) {
	t.Setenv(EnvDBPath, "")
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".autoprog"), 0755))

	got, err := DiscoverDatabase(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".autoprog", "ledger.db"), got)
}

func TestValidateAlignment(t *testing.T) {
	root := t.TempDir()
	db := DBPath(root)

	assert.NoError(t, ValidateAlignment(db, root))
	assert.NoError(t, ValidateAlignment(db, filepath.Join(root, "sub")))
	assert.Error(t, ValidateAlignment(db, filepath.Dir(root)))
	assert.Error(t, ValidateAlignment(filepath.Join(root, "x.db"), root))
}

func TestRunLock(t *testing.T) {
	root := t.TempDir()

	path, err := AcquireRunLock(root, "run-1")
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = AcquireRunLock(root, "run-2")
	assert.ErrorIs(t, err, ErrWorkspaceLocked)

	require.NoError(t, ReleaseRunLock(path))
	assert.NoFileExists(t, path)
	assert.NoError(t, ReleaseRunLock(path))

	path, err = AcquireRunLock(root, "run-3")
	require.NoError(t, err)
	require.NoError(t, ReleaseRunLock(path))
}

func TestRunLockReplacesStaleLock(t *testing.T) {
	root := t.TempDir()
	host, err := os.Hostname()
	require.NoError(t, err)

	stale := `{"holder":"autoprog","pid":1073741823,"hostname":"` + host + `","run_id":"old"}`
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".autoprog"), 0755))
	require.NoError(t, os.WriteFile(LockPath(root), []byte(stale), 0644))

	path, err := AcquireRunLock(root, "new")
	require.NoError(t, err)
	defer func() { _ = ReleaseRunLock(path) }()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id": "new"`)
}
