package storageserver

import (
	"time"

	"github.com/spf13/afero"

	"github.com/marmos91/dfs/internal/dfserrors"
)

// SnapshotForUndo copies name's current content into undo/<name>,
// overwriting any previous backup. Called before the first edit of a WRITE
// session, per §4.6: "each mutating WRITE first copies the current file to
// undo/<name>."
func (e *Engine) SnapshotForUndo(name string) error {
	data, err := afero.ReadFile(e.fs, e.layout.FilePath(name))
	if err != nil {
		return dfserrors.Internal(err, "read %q for undo snapshot", name)
	}
	if err := afero.WriteFile(e.fs, e.layout.UndoPath(name), data, 0o644); err != nil {
		return dfserrors.Internal(err, "write undo snapshot for %q", name)
	}
	return nil
}

// Undo performs the three-step bistate swap: current -> swap/tmp,
// undo -> current, swap/tmp -> undo. A second Undo therefore returns to
// the pre-undo state.
func (e *Engine) Undo(name, user string) (string, error) {
	lock := e.fileLock(name)
	lock.Lock()
	defer lock.Unlock()

	a, err := e.readACL(name)
	if err != nil {
		return "", dfserrors.NotFound("File '%s' not found", name)
	}
	if !a.CheckWrite(user) {
		return "", dfserrors.Denied("Access denied. You do not have write permission for '%s'", name)
	}

	currentPath := e.layout.FilePath(name)
	undoPath := e.layout.UndoPath(name)
	swapPath := e.layout.SwapPath(name)

	if !e.exists(currentPath) {
		return "", dfserrors.NotFound("File '%s' not found", name)
	}
	if !e.exists(undoPath) {
		return "", dfserrors.NotFound("No undo history available for '%s'", name)
	}

	current, err := afero.ReadFile(e.fs, currentPath)
	if err != nil {
		return "", dfserrors.Internal(err, "read current content of %q", name)
	}
	if err := afero.WriteFile(e.fs, swapPath, current, 0o644); err != nil {
		return "", dfserrors.Internal(err, "stage swap backup for %q", name)
	}

	undoContent, err := afero.ReadFile(e.fs, undoPath)
	if err != nil {
		return "", dfserrors.Internal(err, "read undo backup for %q", name)
	}
	if err := afero.WriteFile(e.fs, currentPath, undoContent, 0o644); err != nil {
		return "", dfserrors.Internal(err, "restore undo backup for %q", name)
	}

	e.fs.Remove(undoPath)
	if err := e.fs.Rename(swapPath, undoPath); err != nil {
		return "", dfserrors.Internal(err, "swap undo backup for %q", name)
	}

	a.Modified = time.Now()
	e.writeACL(name, a)

	return "Undo Successful!\n", nil
}
