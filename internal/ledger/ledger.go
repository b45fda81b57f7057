// Package ledger is the append-only change ledger. Every file mutation made
// by the coordinator goes through it: a content-addressed backup first, then
// an atomic commit of the new bytes together with its diff and record, and
// rollback by restoring backed-up bytes under a new record.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/steveyegge/autoprog/internal/storage"
	"github.com/steveyegge/autoprog/internal/types"
)

// pathLocks hands out one mutex per workspace-relative path.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (p *pathLocks) lock(relPath string) func() {
	p.mu.Lock()
	m, ok := p.locks[relPath]
	if !ok {
		m = &sync.Mutex{}
		p.locks[relPath] = m
	}
	p.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Ledger records backups and changes for one workspace.
type Ledger struct {
	store  storage.Storage
	root   string
	runID  string
	logger *slog.Logger
	locks  *pathLocks
}

// New creates a ledger for the workspace at root.
func New(store storage.Storage, root string, logger *slog.Logger) (*Ledger, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  store,
		root:   absRoot,
		logger: logger,
		locks:  &pathLocks{locks: make(map[string]*sync.Mutex)},
	}, nil
}

// ForRun returns a ledger that stamps records with runID. It shares storage
// and path locks with l.
func (l *Ledger) ForRun(runID string) *Ledger {
	c := *l
	c.runID = runID
	return &c
}

// Root returns the absolute workspace root.
func (l *Ledger) Root() string {
	return l.root
}

// Store exposes the underlying storage for read-side queries.
func (l *Ledger) Store() storage.Storage {
	return l.store
}

// Backup snapshots the current bytes of relPath (or its absence) and records
// a BACKUP entry for taskID. Identical content maps to the same backup ref,
// so repeated backups store the blob once.
func (l *Ledger) Backup(ctx context.Context, taskID, relPath string) (*types.ChangeRecord, error) {
	abs, err := l.resolve(relPath)
	if err != nil {
		return nil, err
	}
	unlock := l.locks.lock(relPath)
	defer unlock()

	content, absent, err := readCurrent(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s for backup: %w", relPath, err)
	}

	b := &types.Backup{
		Ref:     BackupRef(relPath, content, absent),
		Path:    relPath,
		Absent:  absent,
		Content: content,
	}
	if err := l.store.StoreBackup(ctx, b); err != nil {
		return nil, err
	}

	rec := &types.ChangeRecord{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		RunID:     l.runID,
		Path:      relPath,
		BackupRef: b.Ref,
		Outcome:   types.OutcomeBackup,
	}
	if err := l.store.AppendChange(ctx, rec, nil, nil); err != nil {
		return nil, err
	}

	l.logger.Debug("backup recorded", "path", relPath, "task", taskID, "ref", b.Ref, "absent", absent)
	return rec, nil
}

// Commit writes content to relPath and appends an APPLIED record carrying
// the diff. The task must have exactly one BACKUP record for the path,
// otherwise ErrLedgerIntegrity is returned and nothing is written. If the
// record cannot be committed after the file was written, the backed-up bytes
// are restored.
func (l *Ledger) Commit(ctx context.Context, taskID, relPath string, content []byte) (*types.ChangeRecord, error) {
	abs, err := l.resolve(relPath)
	if err != nil {
		return nil, err
	}
	unlock := l.locks.lock(relPath)
	defer unlock()

	backups, err := l.store.ListChanges(ctx, types.ChangeFilter{
		TaskID:  taskID,
		Path:    relPath,
		Outcome: types.OutcomeBackup,
	})
	if err != nil {
		return nil, err
	}
	if len(backups) != 1 {
		return nil, fmt.Errorf("%w: task %s has %d backup records for %s, want 1",
			types.ErrLedgerIntegrity, taskID, len(backups), relPath)
	}
	backupRec := backups[0]

	backup, err := l.store.GetBackup(ctx, backupRec.BackupRef)
	if err != nil {
		return nil, fmt.Errorf("%w: backup %s for %s not retrievable: %v",
			types.ErrLedgerIntegrity, backupRec.BackupRef, relPath, err)
	}

	d := GenerateDiff(relPath, backup.Content, content)
	diff := &types.Diff{Ref: diffRef(relPath, backup.Content, content), Path: relPath, Text: d.Text}
	rec := &types.ChangeRecord{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		RunID:     l.runID,
		Path:      relPath,
		BackupRef: backup.Ref,
		DiffRef:   diff.Ref,
		Outcome:   types.OutcomeApplied,
	}

	written := false
	err = l.store.AppendChange(ctx, rec, diff, func() error {
		if err := writeAtomic(abs, content); err != nil {
			return fmt.Errorf("failed to write %s: %w", relPath, err)
		}
		written = true
		return nil
	})
	if err != nil {
		if written {
			if rerr := restore(abs, backup); rerr != nil {
				return nil, fmt.Errorf("commit of %s failed (%v) and restore failed: %w", relPath, err, rerr)
			}
		}
		return nil, err
	}

	l.logger.Debug("change committed",
		"path", relPath,
		"task", taskID,
		"added", d.AddedLines,
		"deleted", d.DeletedLines)
	return rec, nil
}

// RecordVerification appends a VERIFIED or FAILED record for an APPLIED change.
func (l *Ledger) RecordVerification(ctx context.Context, applied *types.ChangeRecord, passed bool, detail string) (*types.ChangeRecord, error) {
	if applied.Outcome != types.OutcomeApplied {
		return nil, fmt.Errorf("%w: cannot verify %s record %s", types.ErrLedgerIntegrity, applied.Outcome, applied.ID)
	}
	unlock := l.locks.lock(applied.Path)
	defer unlock()

	outcome := types.OutcomeVerified
	if !passed {
		outcome = types.OutcomeFailed
	}
	rec := &types.ChangeRecord{
		ID:           uuid.New().String(),
		TaskID:       applied.TaskID,
		RunID:        l.runID,
		Path:         applied.Path,
		BackupRef:    applied.BackupRef,
		DiffRef:      applied.DiffRef,
		Outcome:      outcome,
		Verification: detail,
	}
	if err := l.store.AppendChange(ctx, rec, nil, nil); err != nil {
		return nil, err
	}
	return rec, nil
}

// Rollback restores the bytes backed up before rec's change and appends a
// ROLLED_BACK record referencing the APPLIED record it reverses. VERIFIED
// and FAILED records resolve to their APPLIED record. A change can only be
// reversed once.
func (l *Ledger) Rollback(ctx context.Context, rec *types.ChangeRecord) (*types.ChangeRecord, error) {
	abs, err := l.resolve(rec.Path)
	if err != nil {
		return nil, err
	}
	unlock := l.locks.lock(rec.Path)
	defer unlock()

	history, err := l.store.ListChanges(ctx, types.ChangeFilter{Path: rec.Path})
	if err != nil {
		return nil, err
	}
	applied, err := resolveApplied(rec, history)
	if err != nil {
		return nil, err
	}
	if reversed(history)[applied.ID] {
		return nil, fmt.Errorf("%w: change %s on %s is already rolled back", types.ErrLedgerIntegrity, applied.ID, rec.Path)
	}

	backup, err := l.store.GetBackup(ctx, applied.BackupRef)
	if err != nil {
		return nil, fmt.Errorf("%w: backup %s for %s not retrievable: %v",
			types.ErrLedgerIntegrity, applied.BackupRef, rec.Path, err)
	}

	current, currentAbsent, err := readCurrent(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rec.Path, err)
	}
	d := GenerateDiff(rec.Path, current, backup.Content)
	diff := &types.Diff{Ref: diffRef(rec.Path, current, backup.Content), Path: rec.Path, Text: d.Text}

	out := &types.ChangeRecord{
		ID:        uuid.New().String(),
		TaskID:    applied.TaskID,
		RunID:     l.runID,
		Path:      rec.Path,
		BackupRef: backup.Ref,
		DiffRef:   diff.Ref,
		Outcome:   types.OutcomeRolledBack,
		Reverses:  applied.ID,
	}

	restored := false
	err = l.store.AppendChange(ctx, out, diff, func() error {
		if err := restore(abs, backup); err != nil {
			return fmt.Errorf("failed to restore %s: %w", rec.Path, err)
		}
		restored = true
		return nil
	})
	if err != nil {
		if restored {
			prev := &types.Backup{Path: rec.Path, Absent: currentAbsent, Content: current}
			if rerr := restore(abs, prev); rerr != nil {
				return nil, fmt.Errorf("rollback of %s failed (%v) and reapply failed: %w", rec.Path, err, rerr)
			}
		}
		return nil, err
	}

	l.logger.Info("change rolled back", "path", rec.Path, "reverses", applied.ID, "task", applied.TaskID)
	return out, nil
}

// RollbackLast reverses the most recent change to relPath that has not been
// rolled back yet. Repeated calls unwind changes newest first.
func (l *Ledger) RollbackLast(ctx context.Context, relPath string) (*types.ChangeRecord, error) {
	relPath = path.Clean(filepath.ToSlash(relPath))
	history, err := l.store.ListChanges(ctx, types.ChangeFilter{Path: relPath})
	if err != nil {
		return nil, err
	}
	done := reversed(history)
	for i := len(history) - 1; i >= 0; i-- {
		rec := history[i]
		if rec.Outcome == types.OutcomeApplied && !done[rec.ID] {
			return l.Rollback(ctx, rec)
		}
	}
	return nil, fmt.Errorf("no change to roll back for %s: %w", relPath, types.ErrNotFound)
}

// History returns matching records in append order.
func (l *Ledger) History(ctx context.Context, filter types.ChangeFilter) ([]*types.ChangeRecord, error) {
	if filter.Path != "" {
		filter.Path = path.Clean(filepath.ToSlash(filter.Path))
	}
	return l.store.ListChanges(ctx, filter)
}

// Original returns the file state captured by the BACKUP record bk.
func (l *Ledger) Original(ctx context.Context, bk *types.ChangeRecord) (*types.Backup, error) {
	if bk.Outcome != types.OutcomeBackup {
		return nil, fmt.Errorf("%w: record %s is %s, not a backup", types.ErrLedgerIntegrity, bk.ID, bk.Outcome)
	}
	return l.store.GetBackup(ctx, bk.BackupRef)
}

// BackupRef is the content address of a file state.
func BackupRef(relPath string, content []byte, absent bool) string {
	h := sha256.New()
	h.Write([]byte(relPath))
	h.Write([]byte{0})
	if absent {
		h.Write([]byte("absent"))
	} else {
		h.Write([]byte{1})
		h.Write(content)
	}
	return "b-" + hex.EncodeToString(h.Sum(nil))
}

// resolve maps a workspace-relative slash path to an absolute path inside
// the root.
func (l *Ledger) resolve(relPath string) (string, error) {
	clean := path.Clean(filepath.ToSlash(relPath))
	if clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %q is outside the workspace", relPath)
	}
	if clean != relPath {
		return "", fmt.Errorf("path %q is not in canonical form (%q)", relPath, clean)
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

func resolveApplied(rec *types.ChangeRecord, history []*types.ChangeRecord) (*types.ChangeRecord, error) {
	switch rec.Outcome {
	case types.OutcomeApplied:
		return rec, nil
	case types.OutcomeVerified, types.OutcomeFailed:
		for i := len(history) - 1; i >= 0; i-- {
			h := history[i]
			if h.Outcome == types.OutcomeApplied && h.TaskID == rec.TaskID && h.DiffRef == rec.DiffRef {
				return h, nil
			}
		}
		return nil, fmt.Errorf("%w: no applied change for %s record %s", types.ErrLedgerIntegrity, rec.Outcome, rec.ID)
	}
	return nil, fmt.Errorf("%w: cannot roll back a %s record", types.ErrLedgerIntegrity, rec.Outcome)
}

func reversed(history []*types.ChangeRecord) map[string]bool {
	out := make(map[string]bool)
	for _, h := range history {
		if h.Outcome == types.OutcomeRolledBack && h.Reverses != "" {
			out[h.Reverses] = true
		}
	}
	return out
}

func readCurrent(abs string) (content []byte, absent bool, err error) {
	content, err = os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return []byte{}, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return content, false, nil
}

func restore(abs string, b *types.Backup) error {
	if b.Absent {
		if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return writeAtomic(abs, b.Content)
}

// writeAtomic replaces abs via a temp file in the same directory and rename,
// keeping the existing file mode.
func writeAtomic(abs string, content []byte) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	mode := fs.FileMode(0644)
	if info, err := os.Stat(abs); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, ".autoprog-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, abs); err != nil {
		cleanup()
		return err
	}
	return nil
}
