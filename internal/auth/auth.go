// Package auth implements the name server's credential oracle: a flat file
// of "username:bcrypt-hash" lines, optionally hot-reloaded with fsnotify.
package auth

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/bcrypt"

	"github.com/marmos91/dfs/internal/logger"
)

// FlatFileStore authenticates against a users.txt file, loading its
// contents in memory on construction and on every fsnotify write or create
// event once Watch has been called.
type FlatFileStore struct {
	path string

	mu    sync.RWMutex
	users map[string]string // username -> bcrypt hash

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFlatFileStore loads path immediately and returns a ready store.
func NewFlatFileStore(path string) (*FlatFileStore, error) {
	s := &FlatFileStore{path: path, users: make(map[string]string)}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Watch starts an fsnotify watch on the credential file so new or changed
// users show up without a name server restart. Never required for
// correctness: callers that skip Watch still get a correct, static store.
func (s *FlatFileStore) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("auth: create watcher: %w", err)
	}
	if err := w.Add(s.path); err != nil {
		w.Close()
		return fmt.Errorf("auth: watch %s: %w", s.path, err)
	}
	s.watcher = w
	s.done = make(chan struct{})
	go s.watchLoop()
	return nil
}

func (s *FlatFileStore) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := s.reload(); err != nil {
					logger.Warn("failed to reload credential file", logger.Err(err))
				} else {
					logger.Info("credential file reloaded")
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("credential watcher error", logger.Err(err))
		case <-s.done:
			return
		}
	}
}

// Close stops the watch loop, if any.
func (s *FlatFileStore) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	return s.watcher.Close()
}

func (s *FlatFileStore) reload() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("auth: open %s: %w", s.path, err)
	}
	defer f.Close()

	users := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		users[user] = hash
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("auth: scan %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()
	return nil
}

// Authenticate reports whether user/pass is a valid credential pair. A
// missing user and a wrong password are indistinguishable to the caller,
// matching the spec's opaque authenticate(user,pass)->bool oracle.
func (s *FlatFileStore) Authenticate(user, pass string) (bool, error) {
	s.mu.RLock()
	hash, ok := s.users[user]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass))
	if err != nil {
		if err == bcrypt.ErrMismatchedHashAndPassword {
			return false, nil
		}
		return false, fmt.Errorf("auth: compare hash for %q: %w", user, err)
	}
	return true, nil
}

// List returns every known username, sorted by the caller if order matters.
func (s *FlatFileStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.users))
	for u := range s.users {
		out = append(out, u)
	}
	return out
}

// AddUser hashes pass and appends "user:hash" to the backing file. It does
// not reload any store; a watching store picks the change up through
// fsnotify. Used by the `dfs-nameserver user add` admin command.
func AddUser(path, user, pass string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("auth: open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s:%s\n", user, hash); err != nil {
		return fmt.Errorf("auth: write %s: %w", path, err)
	}
	return nil
}
