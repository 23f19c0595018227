package nameserver

import (
	"time"

	"github.com/marmos91/dfs/internal/acl"
)

// FileMeta is the NS-side mirror of a file's metadata, authoritative for
// ACLs per the spec's NS↔SS consistency note (see DESIGN.md).
type FileMeta struct {
	Name     string
	Owner    string
	Created  time.Time
	Modified time.Time
	Accessed time.Time
	Read     acl.Set
	Write    acl.Set
	SSIDs    map[int]struct{}
}

// CheckRead reports whether user may read this file.
func (m *FileMeta) CheckRead(user string) bool {
	return user == m.Owner || m.Read.Has(user)
}

// CheckWrite reports whether user may write this file.
func (m *FileMeta) CheckWrite(user string) bool {
	return user == m.Owner || m.Write.Has(user)
}

// SSIDList returns the owning SS ids in ascending order.
func (m *FileMeta) SSIDList() []int {
	out := make([]int, 0, len(m.SSIDs))
	for id := range m.SSIDs {
		out = append(out, id)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

const defaultBuckets = 4096

// FileIndex is a hash table keyed by filename with separate chaining, as
// specified in §4.2: djb2 hash, bucketed chains, idempotent SS-id
// set-union on Put. Holds no lock of its own, see Registry's comment.
type FileIndex struct {
	buckets [][]*FileMeta
}

// NewFileIndex builds an index with the given bucket count (0 selects the
// spec default of 4096).
func NewFileIndex(buckets int) *FileIndex {
	if buckets <= 0 {
		buckets = defaultBuckets
	}
	return &FileIndex{buckets: make([][]*FileMeta, buckets)}
}

// djb2 is the hash the spec names explicitly.
func djb2(s string) uint64 {
	var h uint64 = 5381
	for i := 0; i < len(s); i++ {
		h = ((h << 5) + h) + uint64(s[i])
	}
	return h
}

func (idx *FileIndex) bucketFor(name string) int {
	return int(djb2(name) % uint64(len(idx.buckets)))
}

// Get returns the metadata for name, if present.
func (idx *FileIndex) Get(name string) (*FileMeta, bool) {
	b := idx.buckets[idx.bucketFor(name)]
	for _, m := range b {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// Put inserts ssID into name's owning-SS set, creating the entry via newMeta
// if name is not yet indexed. newMeta is called at most once and only when
// name is genuinely new.
func (idx *FileIndex) Put(name string, ssID int, newMeta func() *FileMeta) *FileMeta {
	if m, ok := idx.Get(name); ok {
		m.SSIDs[ssID] = struct{}{}
		return m
	}
	m := newMeta()
	if m.SSIDs == nil {
		m.SSIDs = make(map[int]struct{})
	}
	m.SSIDs[ssID] = struct{}{}
	bi := idx.bucketFor(name)
	idx.buckets[bi] = append(idx.buckets[bi], m)
	return m
}

// Remove drops ssID from name's owning-SS set; once the set empties, the
// whole entry is removed from its bucket.
func (idx *FileIndex) Remove(name string, ssID int) {
	bi := idx.bucketFor(name)
	b := idx.buckets[bi]
	for i, m := range b {
		if m.Name != name {
			continue
		}
		delete(m.SSIDs, ssID)
		if len(m.SSIDs) == 0 {
			idx.buckets[bi] = append(b[:i], b[i+1:]...)
		}
		return
	}
}

// Delete removes name's entry entirely, regardless of its SS-id set.
func (idx *FileIndex) Delete(name string) {
	bi := idx.bucketFor(name)
	b := idx.buckets[bi]
	for i, m := range b {
		if m.Name == name {
			idx.buckets[bi] = append(b[:i], b[i+1:]...)
			return
		}
	}
}

// RemoveSS drops ssID from every indexed file, used when a registration
// sweep evicts an unreachable storage server.
func (idx *FileIndex) RemoveSS(ssID int) {
	for bi, b := range idx.buckets {
		var kept []*FileMeta
		for _, m := range b {
			delete(m.SSIDs, ssID)
			if len(m.SSIDs) > 0 {
				kept = append(kept, m)
			}
		}
		idx.buckets[bi] = kept
	}
}

// Iter calls cb for every indexed file, in unspecified order.
func (idx *FileIndex) Iter(cb func(*FileMeta)) {
	for _, b := range idx.buckets {
		for _, m := range b {
			cb(m)
		}
	}
}
