// Package acl implements per-file access control lists for a storage
// server: an owner plus read and write user sets, persisted beside each
// file as a small KEY:value sidecar.
package acl

import (
	"sort"
	"strings"
	"time"
)

// Set is an unordered collection of usernames. Kept as a genuine set in
// memory; only the sidecar encoding ever flattens it to a comma-separated
// string.
type Set map[string]struct{}

// NewSet builds a Set from the given usernames, trimming whitespace and
// dropping empties.
func NewSet(users ...string) Set {
	s := make(Set, len(users))
	for _, u := range users {
		u = strings.TrimSpace(u)
		if u != "" {
			s[u] = struct{}{}
		}
	}
	return s
}

// Has reports whether user is in the set.
func (s Set) Has(user string) bool {
	_, ok := s[user]
	return ok
}

// Add inserts user into the set.
func (s Set) Add(user string) {
	user = strings.TrimSpace(user)
	if user != "" {
		s[user] = struct{}{}
	}
}

// Remove deletes user from the set.
func (s Set) Remove(user string) {
	delete(s, user)
}

// String renders the set as a sorted, comma-separated list for the sidecar
// encoding (sorted so the on-disk form is deterministic and diffable).
func (s Set) String() string {
	if len(s) == 0 {
		return ""
	}
	users := make([]string, 0, len(s))
	for u := range s {
		users = append(users, u)
	}
	sort.Strings(users)
	return strings.Join(users, ",")
}

// ParseSet parses a comma-separated list back into a Set.
func ParseSet(raw string) Set {
	if raw == "" {
		return Set{}
	}
	return NewSet(strings.Split(raw, ",")...)
}

// ACL is the full per-file access control record: owner, read/write sets,
// and the three timestamps file metadata carries (spec.md §3).
type ACL struct {
	Owner    string
	Read     Set
	Write    Set
	Created  time.Time
	Modified time.Time
	Accessed time.Time
}

// New builds the ACL a freshly created file gets: owner present in both
// read and write sets, all timestamps set to now.
func New(owner string, now time.Time) *ACL {
	return &ACL{
		Owner:    owner,
		Read:     NewSet(owner),
		Write:    NewSet(owner),
		Created:  now,
		Modified: now,
		Accessed: now,
	}
}

// Touch bumps Accessed, used on every READ.
func (a *ACL) Touch(now time.Time) {
	a.Accessed = now
}

// CheckRead reports whether user may read the file: owner always matches,
// otherwise exact membership in Read.
func (a *ACL) CheckRead(user string) bool {
	return user == a.Owner || a.Read.Has(user)
}

// CheckWrite reports whether user may write the file.
func (a *ACL) CheckWrite(user string) bool {
	return user == a.Owner || a.Write.Has(user)
}

// AddRead grants user read access.
func (a *ACL) AddRead(user string, now time.Time) {
	a.Read.Add(user)
	a.Modified = now
}

// AddWrite grants user write access.
func (a *ACL) AddWrite(user string, now time.Time) {
	a.Write.Add(user)
	a.Modified = now
}

// RemoveAll revokes user's read and write access. Revoking the owner's own
// access is the caller's responsibility to reject before calling this,
// kept here as a guard so a programming error can't silently lock the
// owner out.
func (a *ACL) RemoveAll(user string, now time.Time) bool {
	if user == a.Owner {
		return false
	}
	a.Read.Remove(user)
	a.Write.Remove(user)
	a.Modified = now
	return true
}

// Encode renders the ACL as KEY:value lines for the sidecar file, using the
// key names the persisted-state layout (spec.md §6.4) names explicitly:
// OWNER, CREATED, LAST_ACCESS, READ_USERS, WRITE_USERS, plus MODIFIED for
// the third timestamp §3's data model requires.
func (a *ACL) Encode() string {
	var b strings.Builder
	b.WriteString("OWNER:" + a.Owner + "\n")
	b.WriteString("CREATED:" + a.Created.Format(time.RFC3339) + "\n")
	b.WriteString("MODIFIED:" + a.Modified.Format(time.RFC3339) + "\n")
	b.WriteString("LAST_ACCESS:" + a.Accessed.Format(time.RFC3339) + "\n")
	b.WriteString("READ_USERS:" + a.Read.String() + "\n")
	b.WriteString("WRITE_USERS:" + a.Write.String() + "\n")
	return b.String()
}

// Decode parses the sidecar format produced by Encode. Unknown keys are
// ignored so the format can grow without breaking old sidecars.
func Decode(raw string) *ACL {
	a := &ACL{Read: Set{}, Write: Set{}}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch key {
		case "OWNER":
			a.Owner = val
		case "READ_USERS":
			a.Read = ParseSet(val)
		case "WRITE_USERS":
			a.Write = ParseSet(val)
		case "CREATED":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				a.Created = t
			}
		case "MODIFIED":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				a.Modified = t
			}
		case "LAST_ACCESS":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				a.Accessed = t
			}
		}
	}
	return a
}
