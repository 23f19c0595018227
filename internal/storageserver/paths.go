// Package storageserver implements the DFS data plane: per-file storage on
// local disk, ACL enforcement, the undo bistate swap, tagged checkpoints,
// and the interactive per-sentence write protocol.
package storageserver

import (
	"path/filepath"
	"strconv"
	"strings"
)

// Layout resolves every on-disk path for one storage server instance, per
// spec.md §6.4's persisted state layout.
type Layout struct {
	Root string // <configured root>/storage<id>
	ID   int
}

// NewLayout builds a Layout rooted at <root>/storage<id>.
func NewLayout(root string, id int) *Layout {
	return &Layout{Root: filepath.Join(root, "storage"+strconv.Itoa(id)), ID: id}
}

func (l *Layout) FilesDir() string       { return filepath.Join(l.Root, "files") }
func (l *Layout) MetaDir() string        { return filepath.Join(l.Root, "meta") }
func (l *Layout) UndoDir() string        { return filepath.Join(l.Root, "undo") }
func (l *Layout) SwapDir() string        { return filepath.Join(l.Root, "swap") }
func (l *Layout) CheckpointDir() string  { return filepath.Join(l.Root, "checkpoints") }

func (l *Layout) FilePath(name string) string  { return filepath.Join(l.FilesDir(), name) }
func (l *Layout) MetaPath(name string) string  { return filepath.Join(l.MetaDir(), name+".meta") }
func (l *Layout) UndoPath(name string) string   { return filepath.Join(l.UndoDir(), name) }
func (l *Layout) SwapPath(name string) string   { return filepath.Join(l.SwapDir(), name+".tmp") }
func (l *Layout) BackupPath(name string) string { return l.FilePath(name) + ".backup" }

func (l *Layout) LockPath(name string, sentence int) string {
	return filepath.Join(l.Root, name+"."+strconv.Itoa(sentence)+".lock")
}

// Sanitize replaces path separators in a checkpoint filename component, per
// §3's "sanitization replaces / and \ with _".
func Sanitize(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_")
	return r.Replace(name)
}

func (l *Layout) CheckpointPath(name, tag string) string {
	return filepath.Join(l.CheckpointDir(), Sanitize(name)+"_"+tag+".ckpt")
}

func (l *Layout) CheckpointMetaPath(name, tag string) string {
	return filepath.Join(l.CheckpointDir(), Sanitize(name)+"_"+tag+".meta")
}

// Dirs returns every directory that must exist for this layout's root.
func (l *Layout) Dirs() []string {
	return []string{l.FilesDir(), l.MetaDir(), l.UndoDir(), l.SwapDir(), l.CheckpointDir()}
}
