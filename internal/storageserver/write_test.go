package storageserver

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSentencesRightInclusive(t *testing.T) {
	got := splitSentences("Hello world. How are you? Fine!")
	assert.Equal(t, []string{"Hello world.", " How are you?", " Fine!"}, got)
}

func TestSplitSentencesTrailingIncomplete(t *testing.T) {
	got := splitSentences("Hello world. and more")
	assert.Equal(t, []string{"Hello world.", " and more"}, got)
}

func TestSplitWordsCollapsesSpaces(t *testing.T) {
	got := splitWords("one   two three")
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestBeginWriteOnEmptyFileOnlyAllowsSentenceZero(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("notes.txt", "alice")
	require.NoError(t, err)

	_, reply, err := e.BeginWrite("notes.txt", 0, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Sentence 0 locked. You may begin writing.\n", reply)

	_, _, err = e.BeginWrite("notes.txt", 1, "alice")
	require.Error(t, err)
}

func TestBeginWriteRejectsOutOfRangeSentence(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("notes.txt", "alice")
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(e.fs, e.layout.FilePath("notes.txt"), []byte("One. Two."), 0o644))

	_, _, err = e.BeginWrite("notes.txt", 5, "alice")
	require.Error(t, err)
}

func TestBeginWriteRejectsConcurrentLock(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("notes.txt", "alice")
	require.NoError(t, err)

	s, _, err := e.BeginWrite("notes.txt", 0, "alice")
	require.NoError(t, err)
	defer s.Abort()

	_, _, err = e.BeginWrite("notes.txt", 0, "alice")
	require.Error(t, err)
}

func TestWriteSessionApplyEditAndCommit(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("notes.txt", "alice")
	require.NoError(t, err)

	s, reply, err := e.BeginWrite("notes.txt", 0, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Sentence 0 locked. You may begin writing.\n", reply)

	result := s.ApplyEdit("0 Hello")
	assert.Equal(t, "Update applied successfully.\n", result)

	msg, err := s.Commit()
	require.NoError(t, err)
	assert.Equal(t, "Write Successful!\n", msg)

	data, err := afero.ReadFile(e.fs, e.layout.FilePath("notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(data))
}

func TestWriteSessionAbortReleasesLockWithoutWriting(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("notes.txt", "alice")
	require.NoError(t, err)

	s, _, err := e.BeginWrite("notes.txt", 0, "alice")
	require.NoError(t, err)
	s.ApplyEdit("0 discarded")
	s.Abort()

	data, err := afero.ReadFile(e.fs, e.layout.FilePath("notes.txt"))
	require.NoError(t, err)
	assert.Empty(t, data)

	s2, _, err := e.BeginWrite("notes.txt", 0, "alice")
	require.NoError(t, err)
	s2.Abort()
}

func TestWriteSessionApplyEditOutOfRangeWordIndex(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("notes.txt", "alice")
	require.NoError(t, err)

	s, _, err := e.BeginWrite("notes.txt", 0, "alice")
	require.NoError(t, err)
	defer s.Abort()

	result := s.ApplyEdit("5 oops")
	assert.Equal(t, "ERROR: Word index out of range.\n", result)
}

func TestWriteSessionSplitsSentenceOnInsertedDelimiter(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create("notes.txt", "alice")
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(e.fs, e.layout.FilePath("notes.txt"), []byte("Hello world"), 0o644))

	s, _, err := e.BeginWrite("notes.txt", 0, "alice")
	require.NoError(t, err)

	s.ApplyEdit("1 there.")
	msg, err := s.Commit()
	require.NoError(t, err)
	assert.Equal(t, "Write Successful!\n", msg)

	data, err := afero.ReadFile(e.fs, e.layout.FilePath("notes.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), ".")
}
