package storageserver

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/marmos91/dfs/internal/dfserrors"
	"github.com/marmos91/dfs/internal/output"
)

// checkpointMeta is the small sidecar a checkpoint carries: who made it and
// when, per spec.md §3.
type checkpointMeta struct {
	Filename string
	Tag      string
	Created  time.Time
	Creator  string
}

func encodeCheckpointMeta(m checkpointMeta) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FILENAME:%s\n", m.Filename)
	fmt.Fprintf(&b, "TAG:%s\n", m.Tag)
	fmt.Fprintf(&b, "CREATED:%s\n", m.Created.Format(time.RFC3339))
	fmt.Fprintf(&b, "CREATOR:%s\n", m.Creator)
	return b.String()
}

func decodeCheckpointMeta(raw string) checkpointMeta {
	var m checkpointMeta
	for _, line := range strings.Split(raw, "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		switch key {
		case "FILENAME":
			m.Filename = val
		case "TAG":
			m.Tag = val
		case "CREATED":
			m.Created, _ = time.Parse(time.RFC3339, val)
		case "CREATOR":
			m.Creator = val
		}
	}
	return m
}

// CheckpointCreate snapshots name under tag, requiring read access and
// rejecting a duplicate tag.
func (e *Engine) CheckpointCreate(name, tag, user string) (string, error) {
	a, err := e.readACL(name)
	if err != nil {
		return "", dfserrors.NotFound("File '%s' does not exist", name)
	}
	if !a.CheckRead(user) {
		return "", dfserrors.Denied("Access denied. You do not have read permission for '%s'", name)
	}

	ckptPath := e.layout.CheckpointPath(name, tag)
	if e.exists(ckptPath) {
		return "", dfserrors.Conflict("Checkpoint '%s' already exists for file '%s'", tag, name)
	}

	data, err := afero.ReadFile(e.fs, e.layout.FilePath(name))
	if err != nil {
		return "", dfserrors.NotFound("File '%s' does not exist", name)
	}
	if err := afero.WriteFile(e.fs, ckptPath, data, 0o644); err != nil {
		return "", dfserrors.Internal(err, "write checkpoint for %q", name)
	}

	meta := checkpointMeta{Filename: name, Tag: tag, Created: time.Now(), Creator: user}
	metaPath := e.layout.CheckpointMetaPath(name, tag)
	if err := afero.WriteFile(e.fs, metaPath, []byte(encodeCheckpointMeta(meta)), 0o644); err != nil {
		e.fs.Remove(ckptPath)
		return "", dfserrors.Internal(err, "write checkpoint metadata for %q", name)
	}

	return fmt.Sprintf("Success: Checkpoint '%s' created successfully for file '%s'\n", tag, name), nil
}

// CheckpointView streams a checkpoint's content framed with a header and
// footer line.
func (e *Engine) CheckpointView(name, tag, user string) (string, error) {
	a, err := e.readACL(name)
	if err != nil {
		return "", dfserrors.NotFound("File '%s' does not exist", name)
	}
	if !a.CheckRead(user) {
		return "", dfserrors.Denied("Access denied. You do not have read permission for '%s'", name)
	}

	ckptPath := e.layout.CheckpointPath(name, tag)
	data, err := afero.ReadFile(e.fs, ckptPath)
	if err != nil {
		return "", dfserrors.NotFound("Checkpoint '%s' not found for file '%s'", tag, name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Content of checkpoint '%s' for file '%s' ===\n", tag, name)
	b.Write(data)
	fmt.Fprintf(&b, "\n=== End of checkpoint ===\n")
	return b.String(), nil
}

// CheckpointRevert overwrites name with its checkpointed content, taking a
// `.backup` copy first and rolling back from it on failure.
func (e *Engine) CheckpointRevert(name, tag, user string) (string, error) {
	lock := e.fileLock(name)
	lock.Lock()
	defer lock.Unlock()

	a, err := e.readACL(name)
	if err != nil {
		return "", dfserrors.NotFound("File '%s' does not exist", name)
	}
	if !a.CheckWrite(user) {
		return "", dfserrors.Denied("Access denied. You do not have write permission for '%s'", name)
	}

	ckptPath := e.layout.CheckpointPath(name, tag)
	ckptData, err := afero.ReadFile(e.fs, ckptPath)
	if err != nil {
		return "", dfserrors.NotFound("Checkpoint '%s' not found for file '%s'", tag, name)
	}

	filePath := e.layout.FilePath(name)
	backupPath := e.layout.BackupPath(name)

	if current, err := afero.ReadFile(e.fs, filePath); err == nil {
		afero.WriteFile(e.fs, backupPath, current, 0o644)
	}

	if err := afero.WriteFile(e.fs, filePath, ckptData, 0o644); err != nil {
		if backup, berr := afero.ReadFile(e.fs, backupPath); berr == nil {
			afero.WriteFile(e.fs, filePath, backup, 0o644)
		}
		return "", dfserrors.Internal(err, "restore checkpoint %q for %q", tag, name)
	}

	a.Modified = time.Now()
	e.writeACL(name, a)
	e.fs.Remove(backupPath)

	return fmt.Sprintf("Success: File '%s' successfully reverted to checkpoint '%s'\n", name, tag), nil
}

// CheckpointList renders a table of every checkpoint for name.
func (e *Engine) CheckpointList(name, user string) (string, error) {
	a, err := e.readACL(name)
	if err != nil {
		return "", dfserrors.NotFound("File '%s' does not exist", name)
	}
	if !a.CheckRead(user) {
		return "", dfserrors.Denied("Access denied. You do not have read permission for '%s'", name)
	}

	prefix := Sanitize(name) + "_"
	entries, err := afero.ReadDir(e.fs, e.layout.CheckpointDir())
	if err != nil {
		return fmt.Sprintf("No checkpoints found for file '%s'\n", name), nil
	}

	type row struct {
		tag     string
		created string
		size    int64
		creator string
	}
	var rows []row
	for _, entry := range entries {
		n := entry.Name()
		if !strings.HasPrefix(n, prefix) || !strings.HasSuffix(n, ".ckpt") {
			continue
		}
		tag := strings.TrimSuffix(strings.TrimPrefix(n, prefix), ".ckpt")
		metaRaw, _ := afero.ReadFile(e.fs, e.layout.CheckpointMetaPath(name, tag))
		meta := decodeCheckpointMeta(string(metaRaw))
		created := "N/A"
		if !meta.Created.IsZero() {
			created = meta.Created.Format("2006-01-02 15:04:05")
		}
		creator := meta.Creator
		if creator == "" {
			creator = "Unknown"
		}
		rows = append(rows, row{tag: tag, created: created, size: entry.Size(), creator: creator})
	}

	if len(rows) == 0 {
		return fmt.Sprintf("No checkpoints found for this file\n"), nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].tag < rows[j].tag })

	table := output.NewTableData("Tag", "Timestamp", "Size", "Created By")
	for _, r := range rows {
		table.AddRow(r.tag, r.created, strconv.FormatInt(r.size, 10), r.creator)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Checkpoints for file '%s':\n", name)
	_ = output.PrintTable(&b, table)
	fmt.Fprintf(&b, "Total: %d checkpoint(s)\n", len(rows))
	return b.String(), nil
}
