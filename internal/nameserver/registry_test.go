package nameserver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func alwaysAlive(addr string) bool { return true }
func alwaysDead(addr string) bool  { return false }

func TestRegisterAllocatesLowestFreeID(t *testing.T) {
	r := NewRegistry(4, alwaysAlive)

	id1, _ := r.Register("127.0.0.1", 9001)
	id2, _ := r.Register("127.0.0.1", 9002)
	require.Equal(t, 1, id1)
	require.Equal(t, 2, id2)
}

func TestRegisterFullTableReturnsNegativeOne(t *testing.T) {
	r := NewRegistry(1, alwaysAlive)

	id1, _ := r.Register("127.0.0.1", 9001)
	require.Equal(t, 1, id1)

	id2, _ := r.Register("127.0.0.1", 9002)
	require.Equal(t, -1, id2)
}

func TestEvictedIDIsReusedByNextRegistration(t *testing.T) {
	probe := alwaysAlive
	r := NewRegistry(1, func(addr string) bool { return probe(addr) })

	id1, _ := r.Register("127.0.0.1", 9001)
	require.Equal(t, 1, id1)

	probe = alwaysDead
	id2, evicted := r.Register("127.0.0.1", 9002)
	require.Equal(t, []int{1}, evicted)
	require.Equal(t, 1, id2)
}

func TestFindReturnsRegisteredDescriptor(t *testing.T) {
	r := NewRegistry(4, alwaysAlive)
	id, _ := r.Register("10.0.0.5", 8081)

	d, ok := r.Find(id)
	require.True(t, ok)
	require.Equal(t, "10.0.0.5", d.Host)
	require.Equal(t, "10.0.0.5:8081", d.Addr())
}

func TestIterActiveIsOrderedByID(t *testing.T) {
	r := NewRegistry(4, alwaysAlive)
	r.Register("a", 1)
	r.Register("b", 2)
	r.Register("c", 3)

	active := r.IterActive()
	require.Len(t, active, 3)
	require.Equal(t, 1, active[0].ID)
	require.Equal(t, 2, active[1].ID)
	require.Equal(t, 3, active[2].ID)
}
