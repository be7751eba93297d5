// Package store implements the durable key-value store shared between the
// background daemon, the popup, and bridge clients. Values are persisted in a
// single JSON file; cross-process visibility comes from watching that file and
// fanning the resulting changes out to in-process subscribers.
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Keys shared across contexts. Writers must only write keys they own: the
// refresh coordinator owns the token keys, the popup owns the selection keys.
const (
	KeyAccessToken      = "access_token"
	KeyRefreshToken     = "refresh_token"
	KeyOrganizationID   = "current_organization_id"
	KeyMembershipID     = "currentMembershipId"
	KeyInstanceEndpoint = "instance_endpoint"
	KeyInstanceClientID = "instance_client_id"
	KeyCurrentTimeEntry = "currentTimeEntry"
	KeyLastTimeEntry    = "lastTimeEntry"
)

// Change describes a single key transition. Value is empty for deletions.
type Change struct {
	Key   string
	Value string
}

// Store is a file-backed key-value store with change notifications.
type Store struct {
	path string

	mu     sync.RWMutex
	values map[string]string

	subMu   sync.Mutex
	subs    map[int]chan Change
	nextSub int

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Open loads the store file at path, creating an empty store if the file does
// not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{
		path:   path,
		values: make(map[string]string),
		subs:   make(map[int]chan Change),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read store file: %w", err)
	}

	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse store file: %w", err)
	}

	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

// Watch starts observing the store file for writes made by other processes.
// Detected changes are delivered to subscribers. Watch must be called at most
// once.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create store watcher: %w", err)
	}

	// Watch the directory rather than the file: writers replace the file via
	// rename, which would otherwise drop the watch.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch store directory: %w", err)
	}

	s.watcher = watcher
	s.done = make(chan struct{})

	go s.watchLoop()
	return nil
}

func (s *Store) watchLoop() {
	base := filepath.Base(s.path)
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.reload(); err != nil {
				log.Printf("store: reload after external write failed: %v", err)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("store: watcher error: %v", err)
		}
	}
}

// reload re-reads the file and notifies subscribers about every key whose
// value differs from the in-memory copy. Writes made through this process
// update the in-memory copy first, so their own file event diffs to nothing.
func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			data = []byte("{}")
		} else {
			return fmt.Errorf("failed to read store file: %w", err)
		}
	}

	fresh := make(map[string]string)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fresh); err != nil {
			return fmt.Errorf("failed to parse store file: %w", err)
		}
	}

	var changes []Change
	s.mu.Lock()
	for key, value := range fresh {
		if s.values[key] != value {
			changes = append(changes, Change{Key: key, Value: value})
		}
	}
	for key := range s.values {
		if _, ok := fresh[key]; !ok {
			changes = append(changes, Change{Key: key})
		}
	}
	s.values = fresh
	s.mu.Unlock()

	for _, c := range changes {
		s.notify(c)
	}
	return nil
}

// Get returns the value for key, or the empty string when absent.
func (s *Store) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

// Set writes a single key and persists the store.
func (s *Store) Set(key, value string) error {
	return s.SetMany(map[string]string{key: value})
}

// SetMany writes several keys atomically and persists the store. Subscribers
// in this process are notified synchronously; other processes observe the
// change through their file watch.
func (s *Store) SetMany(values map[string]string) error {
	var changes []Change

	s.mu.Lock()
	for key, value := range values {
		if s.values[key] != value {
			s.values[key] = value
			changes = append(changes, Change{Key: key, Value: value})
		}
	}
	err := s.persistLocked()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	for _, c := range changes {
		s.notify(c)
	}
	return nil
}

// Delete removes keys from the store and persists it.
func (s *Store) Delete(keys ...string) error {
	var changes []Change

	s.mu.Lock()
	for _, key := range keys {
		if _, ok := s.values[key]; ok {
			delete(s.values, key)
			changes = append(changes, Change{Key: key})
		}
	}
	err := s.persistLocked()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	for _, c := range changes {
		s.notify(c)
	}
	return nil
}

// persistLocked writes the store file via a temp-file rename so concurrent
// readers never observe a partial write. Caller holds s.mu.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

// Subscribe registers a change listener. The returned cancel function must be
// called when the listener is no longer interested.
func (s *Store) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 16)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
			// Slow subscriber: drop rather than block writers. Subscribers
			// re-read the store on wake, so a dropped event is recoverable.
		}
	}
}

// Close stops the file watcher. The store remains usable for reads/writes.
func (s *Store) Close() error {
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
