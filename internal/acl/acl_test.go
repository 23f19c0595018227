package acl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewGrantsOwnerBothSides(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := New("alice", now)

	require.True(t, a.CheckRead("alice"))
	require.True(t, a.CheckWrite("alice"))
	require.False(t, a.CheckRead("bob"))
	require.False(t, a.CheckWrite("bob"))
}

func TestAddReadGrantsAccess(t *testing.T) {
	now := time.Now()
	a := New("alice", now)
	a.AddRead("bob", now)

	require.True(t, a.CheckRead("bob"))
	require.False(t, a.CheckWrite("bob"))
}

func TestRemoveAllRejectsOwner(t *testing.T) {
	now := time.Now()
	a := New("alice", now)

	ok := a.RemoveAll("alice", now)
	require.False(t, ok)
	require.True(t, a.CheckRead("alice"))
}

func TestRemoveAllRevokesNonOwner(t *testing.T) {
	now := time.Now()
	a := New("alice", now)
	a.AddRead("bob", now)
	a.AddWrite("bob", now)

	ok := a.RemoveAll("bob", now)
	require.True(t, ok)
	require.False(t, a.CheckRead("bob"))
	require.False(t, a.CheckWrite("bob"))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	a := New("alice", now)
	a.AddRead("bob", now)

	decoded := Decode(a.Encode())
	require.Equal(t, "alice", decoded.Owner)
	require.True(t, decoded.CheckRead("bob"))
	require.True(t, decoded.Created.Equal(now))
}

func TestSetStringIsSortedAndDeterministic(t *testing.T) {
	s := NewSet("carol", "alice", "bob")
	require.Equal(t, "alice,bob,carol", s.String())
}

func TestParseSetEmpty(t *testing.T) {
	s := ParseSet("")
	require.Len(t, s, 0)
}
