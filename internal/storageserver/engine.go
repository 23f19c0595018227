package storageserver

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/marmos91/dfs/internal/acl"
	"github.com/marmos91/dfs/internal/dfserrors"
)

// Engine is the storage server's data plane: file CRUD, streaming, undo,
// and checkpoints, all scoped to one Layout. Filesystem access goes through
// afero.Fs so tests can run against an in-memory filesystem.
type Engine struct {
	fs     afero.Fs
	layout *Layout

	// fileLocks is the striped per-filename lock set the concurrency model
	// requires for serializing read-modify-write of a file's sentence
	// array (spec.md §5, "a per-file write mutex is sufficient").
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// writeLocks tracks which (file, sentence) pairs are currently held by
	// an interactive WRITE session, mirrored by a marker file in the
	// storage<id> root (Layout.LockPath) for crash visibility.
	writeLocksMu sync.Mutex
	writeLocks   map[lockKey]struct{}

	metrics *Metrics
}

// SetMetrics attaches metrics so write-lock acquisition and release update
// the WriteLocksHeld gauge. Optional; a nil Engine.metrics is a no-op.
func (e *Engine) SetMetrics(m *Metrics) { e.metrics = m }

// NewEngine builds an Engine over fs, creating the layout's directories if
// they don't already exist.
func NewEngine(fs afero.Fs, layout *Layout) (*Engine, error) {
	e := &Engine{fs: fs, layout: layout, locks: make(map[string]*sync.Mutex)}
	for _, dir := range layout.Dirs() {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storageserver: create %s: %w", dir, err)
		}
	}
	return e, nil
}

// fileLock returns the mutex guarding name, creating it on first use.
func (e *Engine) fileLock(name string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	m, ok := e.locks[name]
	if !ok {
		m = &sync.Mutex{}
		e.locks[name] = m
	}
	return m
}

func (e *Engine) exists(path string) bool {
	_, err := e.fs.Stat(path)
	return err == nil
}

func (e *Engine) readACL(name string) (*acl.ACL, error) {
	raw, err := afero.ReadFile(e.fs, e.layout.MetaPath(name))
	if err != nil {
		return nil, dfserrors.NotFound("file %q not found", name)
	}
	return acl.Decode(string(raw)), nil
}

func (e *Engine) writeACL(name string, a *acl.ACL) error {
	return afero.WriteFile(e.fs, e.layout.MetaPath(name), []byte(a.Encode()), 0o644)
}

// CheckRead reports whether user may read name, for callers outside the
// engine (the write coordinator) that need the same check.
func (e *Engine) CheckRead(name, user string) (bool, error) {
	a, err := e.readACL(name)
	if err != nil {
		return false, err
	}
	return a.CheckRead(user), nil
}

// CheckWrite reports whether user may write name.
func (e *Engine) CheckWrite(name, user string) (bool, error) {
	a, err := e.readACL(name)
	if err != nil {
		return false, err
	}
	return a.CheckWrite(user), nil
}

// Create creates an empty file and its ACL sidecar, failing if the file
// already exists.
func (e *Engine) Create(name, user string) (string, error) {
	lock := e.fileLock(name)
	lock.Lock()
	defer lock.Unlock()

	path := e.layout.FilePath(name)
	if e.exists(path) {
		return "", dfserrors.Conflict("File '%s' already exists", name)
	}
	if err := afero.WriteFile(e.fs, path, nil, 0o644); err != nil {
		return "", dfserrors.Internal(err, "create file %q", name)
	}
	now := time.Now()
	if err := e.writeACL(name, acl.New(user, now)); err != nil {
		return "", dfserrors.Internal(err, "write sidecar for %q", name)
	}
	return fmt.Sprintf("Success: File '%s' created successfully\n", name), nil
}

// Read returns the file's bytes and updates last_accessed.
func (e *Engine) Read(name, user string) ([]byte, error) {
	lock := e.fileLock(name)
	lock.Lock()
	defer lock.Unlock()

	a, err := e.readACL(name)
	if err != nil {
		return nil, err
	}
	if !a.CheckRead(user) {
		return nil, dfserrors.Denied("Access denied")
	}
	data, err := afero.ReadFile(e.fs, e.layout.FilePath(name))
	if err != nil {
		return nil, dfserrors.NotFound("file %q not found", name)
	}
	a.Touch(time.Now())
	e.writeACL(name, a)
	return data, nil
}

// Delete removes the file and its sidecar, requiring write access.
func (e *Engine) Delete(name, user string) (string, error) {
	lock := e.fileLock(name)
	lock.Lock()
	defer lock.Unlock()

	a, err := e.readACL(name)
	if err != nil {
		return "", err
	}
	if !a.CheckWrite(user) {
		return "", dfserrors.Denied("Access denied")
	}
	e.fs.Remove(e.layout.FilePath(name))
	e.fs.Remove(e.layout.MetaPath(name))
	e.fs.Remove(e.layout.UndoPath(name))
	return fmt.Sprintf("Success: File '%s' deleted successfully\n", name), nil
}

// Info renders the human-readable metadata block for an INFO request that
// reaches this storage server with a user, after a read-access check. The
// name server's index refresh uses InfoUnchecked instead, and the client's
// INFO is answered from the name server's index.
func (e *Engine) Info(name, user string) (string, error) {
	a, err := e.readACL(name)
	if err != nil {
		return "", err
	}
	if !a.CheckRead(user) {
		return "", dfserrors.Denied("Access denied")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Owner: %s\n", a.Owner)
	fmt.Fprintf(&b, "Created: %s\n", a.Created.Format(time.RFC3339))
	fmt.Fprintf(&b, "Modified: %s\n", a.Modified.Format(time.RFC3339))
	fmt.Fprintf(&b, "Accessed: %s\n", a.Accessed.Format(time.RFC3339))
	fmt.Fprintf(&b, "ReadUsers: %s\n", a.Read.String())
	fmt.Fprintf(&b, "WriteUsers: %s\n", a.Write.String())
	return b.String(), nil
}

// InfoUnchecked renders name's metadata block without an ACL check, for the
// name server's own post-registration index refresh: the NS is not a user
// acting on anyone's behalf, so the usual read-access gate does not apply.
func (e *Engine) InfoUnchecked(name string) (string, error) {
	a, err := e.readACL(name)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Owner: %s\n", a.Owner)
	fmt.Fprintf(&b, "Created: %s\n", a.Created.Format(time.RFC3339))
	fmt.Fprintf(&b, "Modified: %s\n", a.Modified.Format(time.RFC3339))
	fmt.Fprintf(&b, "Accessed: %s\n", a.Accessed.Format(time.RFC3339))
	fmt.Fprintf(&b, "ReadUsers: %s\n", a.Read.String())
	fmt.Fprintf(&b, "WriteUsers: %s\n", a.Write.String())
	return b.String(), nil
}

// StreamTokens reports whether user may stream name and returns its content
// split into whitespace-delimited tokens; the caller (the connection
// handler) is responsible for the inter-token pause, since that is a
// protocol-timing concern, not a storage concern.
func (e *Engine) StreamTokens(name, user string) ([]string, error) {
	lock := e.fileLock(name)
	lock.Lock()
	defer lock.Unlock()

	a, err := e.readACL(name)
	if err != nil {
		return nil, err
	}
	if !a.CheckRead(user) {
		return nil, dfserrors.Denied("Access denied")
	}
	data, err := afero.ReadFile(e.fs, e.layout.FilePath(name))
	if err != nil {
		return nil, dfserrors.NotFound("file %q not found", name)
	}
	return strings.Fields(string(data)), nil
}

// ListFiles returns the names of every regular file under the files
// directory, used for the initial REGISTER_SS report and the admin mux's
// /debug/files endpoint.
func (e *Engine) ListFiles() ([]string, error) {
	entries, err := afero.ReadDir(e.fs, e.layout.FilesDir())
	if err != nil {
		return nil, dfserrors.Internal(err, "list files directory")
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}
