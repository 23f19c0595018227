package storageserver

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	fs := afero.NewMemMapFs()
	layout := NewLayout("/data", 1)
	e, err := NewEngine(fs, layout)
	require.NoError(t, err)
	return e
}

func TestEngineCreateAndRead(t *testing.T) {
	e := newTestEngine(t)

	msg, err := e.Create("notes.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Success: File 'notes.txt' created successfully\n", msg)

	data, err := e.Read("notes.txt", "alice")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestEngineCreateConflict(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("notes.txt", "alice")
	require.NoError(t, err)

	_, err = e.Create("notes.txt", "alice")
	require.Error(t, err)
}

func TestEngineReadDeniedForNonReader(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("notes.txt", "alice")
	require.NoError(t, err)

	_, err = e.Read("notes.txt", "mallory")
	require.Error(t, err)
}

func TestEngineDeleteRequiresWriteAccess(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("notes.txt", "alice")
	require.NoError(t, err)

	_, err = e.Delete("notes.txt", "mallory")
	require.Error(t, err)

	msg, err := e.Delete("notes.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Success: File 'notes.txt' deleted successfully\n", msg)

	_, err = e.Read("notes.txt", "alice")
	require.Error(t, err)
}

func TestEngineInfoRendersOwnerAndTimestamps(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("notes.txt", "alice")
	require.NoError(t, err)

	info, err := e.Info("notes.txt", "alice")
	require.NoError(t, err)
	assert.Contains(t, info, "Owner: alice")
	assert.Contains(t, info, "ReadUsers:")
	assert.Contains(t, info, "WriteUsers:")
}

func TestEngineStreamTokens(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("poem.txt", "alice")
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(e.fs, e.layout.FilePath("poem.txt"), []byte("roses are red violets are blue"), 0o644))

	tokens, err := e.StreamTokens("poem.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"roses", "are", "red", "violets", "are", "blue"}, tokens)
}
