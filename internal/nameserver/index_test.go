package nameserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPutCreatesEntryOnFirstInsert(t *testing.T) {
	idx := NewFileIndex(16)
	now := time.Now()

	m := idx.Put("hello.txt", 1, func() *FileMeta { return NewFileMeta("hello.txt", "alice", now) })
	require.Equal(t, "alice", m.Owner)
	require.Contains(t, m.SSIDs, 1)

	got, ok := idx.Get("hello.txt")
	require.True(t, ok)
	require.Same(t, m, got)
}

func TestPutIsIdempotentUnionOnSSIDs(t *testing.T) {
	idx := NewFileIndex(16)
	now := time.Now()
	newMeta := func() *FileMeta { return NewFileMeta("shared.txt", "alice", now) }

	idx.Put("shared.txt", 1, newMeta)
	idx.Put("shared.txt", 2, newMeta)
	idx.Put("shared.txt", 1, newMeta)

	m, ok := idx.Get("shared.txt")
	require.True(t, ok)
	require.Len(t, m.SSIDs, 2)
}

func TestRemoveDropsEntryWhenSSIDSetEmpties(t *testing.T) {
	idx := NewFileIndex(16)
	now := time.Now()
	newMeta := func() *FileMeta { return NewFileMeta("solo.txt", "alice", now) }

	idx.Put("solo.txt", 1, newMeta)
	idx.Remove("solo.txt", 1)

	_, ok := idx.Get("solo.txt")
	require.False(t, ok)
}

func TestRemoveKeepsEntryWhileOtherSSRemains(t *testing.T) {
	idx := NewFileIndex(16)
	now := time.Now()
	newMeta := func() *FileMeta { return NewFileMeta("dup.txt", "alice", now) }

	idx.Put("dup.txt", 1, newMeta)
	idx.Put("dup.txt", 2, newMeta)
	idx.Remove("dup.txt", 1)

	m, ok := idx.Get("dup.txt")
	require.True(t, ok)
	require.NotContains(t, m.SSIDs, 1)
	require.Contains(t, m.SSIDs, 2)
}

func TestRemoveSSPrunesAcrossAllFiles(t *testing.T) {
	idx := NewFileIndex(16)
	now := time.Now()
	idx.Put("a.txt", 1, func() *FileMeta { return NewFileMeta("a.txt", "alice", now) })
	idx.Put("b.txt", 1, func() *FileMeta { return NewFileMeta("b.txt", "bob", now) })
	idx.Put("b.txt", 2, func() *FileMeta { return NewFileMeta("b.txt", "bob", now) })

	idx.RemoveSS(1)

	_, ok := idx.Get("a.txt")
	require.False(t, ok)
	m, ok := idx.Get("b.txt")
	require.True(t, ok)
	require.NotContains(t, m.SSIDs, 1)
}

func TestIterVisitsEveryEntry(t *testing.T) {
	idx := NewFileIndex(4)
	now := time.Now()
	idx.Put("one.txt", 1, func() *FileMeta { return NewFileMeta("one.txt", "alice", now) })
	idx.Put("two.txt", 1, func() *FileMeta { return NewFileMeta("two.txt", "alice", now) })

	var names []string
	idx.Iter(func(m *FileMeta) { names = append(names, m.Name) })
	require.ElementsMatch(t, []string{"one.txt", "two.txt"}, names)
}
