package nameserver

import (
	"net"
	"sync"
	"time"

	"github.com/marmos91/dfs/internal/auth"
	"github.com/marmos91/dfs/internal/config"
)

// State is the name server's entire mutable process-wide state: the SS
// registry and the file index, guarded by one mutex, plus the read-only
// credential oracle. Passed explicitly to every handler, never a package
// global, per the spec's design note on converting globals to an explicit
// state object.
type State struct {
	mu       sync.Mutex
	Registry *Registry
	Index    *FileIndex

	Auth   *auth.FlatFileStore
	Config *config.Config

	// Metrics is optional; a nil Metrics disables command counting.
	Metrics *Metrics

	// Dial opens a TCP connection to an SS; overridable in tests.
	Dial func(addr string) (Conn, error)

	// rrCursor rotates CREATE's round-robin target selection. Mutated only
	// from within WithLock.
	rrCursor int
}

// NewState builds a State from configuration and a loaded credential store.
func NewState(cfg *config.Config, store *auth.FlatFileStore) *State {
	var probe func(addr string) bool
	if timeout := cfg.NameServer.ProbeTimeout; timeout > 0 {
		probe = func(addr string) bool {
			conn, err := net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				return false
			}
			conn.Close()
			return true
		}
	}
	return &State{
		Registry: NewRegistry(cfg.NameServer.MaxStorageServers, probe),
		Index:    NewFileIndex(cfg.NameServer.IndexBuckets),
		Auth:     store,
		Config:   cfg,
		Dial:     dialTCP,
	}
}

// SetMetrics attaches metrics so Dispatch and registration update the
// exported collectors. Optional; a nil State.Metrics is a no-op.
func (s *State) SetMetrics(m *Metrics) { s.Metrics = m }

// WithLock runs fn with the registry+index mutex held. Every handler that
// reads or mutates either structure must go through this.
func (s *State) WithLock(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// NewFileMeta builds a fresh FileMeta for a file just created by requester.
func NewFileMeta(name, requester string, now time.Time) *FileMeta {
	return &FileMeta{
		Name:     name,
		Owner:    requester,
		Created:  now,
		Modified: now,
		Accessed: now,
		Read:     map[string]struct{}{requester: {}},
		Write:    map[string]struct{}{requester: {}},
		SSIDs:    make(map[int]struct{}),
	}
}
