package nameserver

import (
	"fmt"
	"net"
	"time"
)

// MaxStorageServers is the spec's MAX_SS bound on simultaneously registered
// storage servers; a full registry returns -1 from Register.
const MaxStorageServers = 32

// SSDescriptor is the name server's in-memory record of one storage server.
type SSDescriptor struct {
	ID         int
	Host       string
	Port       int // the SS's client-facing listen port (base+id)
	LastSeen   time.Time
	Reachable  bool
	ReportedAt time.Time
}

// Addr renders the descriptor's dial address.
func (d *SSDescriptor) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// Registry is the live set of storage server descriptors. It holds no lock
// of its own: callers (nameserver.State) serialize access under a single
// mutex shared with the file index, per the concurrency model.
type Registry struct {
	max     int
	probe   func(addr string) bool
	entries map[int]*SSDescriptor
}

// NewRegistry builds an empty registry. probe is the liveness check used
// during registration sweeps; pass nil to use a real TCP connect probe.
func NewRegistry(max int, probe func(addr string) bool) *Registry {
	if max <= 0 {
		max = MaxStorageServers
	}
	if probe == nil {
		probe = tcpProbe
	}
	return &Registry{max: max, probe: probe, entries: make(map[int]*SSDescriptor)}
}

func tcpProbe(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 300*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Sweep evicts every descriptor that fails the liveness probe, returning the
// set of evicted IDs so the caller can prune the file index accordingly.
func (r *Registry) Sweep() []int {
	var evicted []int
	for id, d := range r.entries {
		if !r.probe(d.Addr()) {
			evicted = append(evicted, id)
			delete(r.entries, id)
		}
	}
	return evicted
}

// Register sweeps the table, allocates the lowest unused id in [1, max],
// and records the descriptor. Returns -1 if the table is full after the
// sweep.
func (r *Registry) Register(host string, clientPort int) (int, []int) {
	evicted := r.Sweep()

	id := r.lowestFreeID()
	if id == -1 {
		return -1, evicted
	}

	now := time.Now()
	r.entries[id] = &SSDescriptor{
		ID:         id,
		Host:       host,
		Port:       clientPort,
		LastSeen:   now,
		Reachable:  true,
		ReportedAt: now,
	}
	return id, evicted
}

func (r *Registry) lowestFreeID() int {
	for id := 1; id <= r.max; id++ {
		if _, ok := r.entries[id]; !ok {
			return id
		}
	}
	return -1
}

// Find returns the descriptor for id, if registered.
func (r *Registry) Find(id int) (*SSDescriptor, bool) {
	d, ok := r.entries[id]
	return d, ok
}

// IterActive returns every registered descriptor, ordered by id.
func (r *Registry) IterActive() []*SSDescriptor {
	out := make([]*SSDescriptor, 0, len(r.entries))
	for id := 1; id <= r.max; id++ {
		if d, ok := r.entries[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Len reports the number of currently registered storage servers.
func (r *Registry) Len() int {
	return len(r.entries)
}
