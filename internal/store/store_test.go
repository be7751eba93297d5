package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

func TestSetGetDelete(t *testing.T) {
	s, _ := openTestStore(t)

	if got := s.Get(KeyAccessToken); got != "" {
		t.Errorf("Get on empty store = %q, want \"\"", got)
	}

	if err := s.Set(KeyAccessToken, "token-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := s.Get(KeyAccessToken); got != "token-1" {
		t.Errorf("Get = %q, want token-1", got)
	}

	if err := s.Delete(KeyAccessToken); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := s.Get(KeyAccessToken); got != "" {
		t.Errorf("Get after Delete = %q, want \"\"", got)
	}
}

func TestPersistenceAcrossOpens(t *testing.T) {
	s, path := openTestStore(t)
	if err := s.SetMany(map[string]string{
		KeyAccessToken:    "a1",
		KeyOrganizationID: "org-1",
	}); err != nil {
		t.Fatalf("SetMany: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.Get(KeyAccessToken); got != "a1" {
		t.Errorf("reopened access token = %q, want a1", got)
	}
	if got := reopened.Get(KeyOrganizationID); got != "org-1" {
		t.Errorf("reopened org id = %q, want org-1", got)
	}
}

func TestOpenMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Open on missing file: %v", err)
	}
	if got := s.Get(KeyAccessToken); got != "" {
		t.Errorf("Get = %q, want \"\"", got)
	}
}

func TestSubscribeNotifications(t *testing.T) {
	s, _ := openTestStore(t)

	changes, cancel := s.Subscribe()
	defer cancel()

	if err := s.Set(KeyAccessToken, "a1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	expectChange(t, changes, Change{Key: KeyAccessToken, Value: "a1"})

	// Writing the same value again must not notify.
	if err := s.Set(KeyAccessToken, "a1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(KeyRefreshToken, "r1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	expectChange(t, changes, Change{Key: KeyRefreshToken, Value: "r1"})

	if err := s.Delete(KeyAccessToken); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	expectChange(t, changes, Change{Key: KeyAccessToken})
}

func TestSubscribeCancel(t *testing.T) {
	s, _ := openTestStore(t)

	changes, cancel := s.Subscribe()
	cancel()

	if _, ok := <-changes; ok {
		t.Error("channel still open after cancel")
	}

	// Writes after cancel must not panic.
	if err := s.Set(KeyAccessToken, "a1"); err != nil {
		t.Fatalf("Set after cancel: %v", err)
	}
}

func TestReloadDiffsExternalWrite(t *testing.T) {
	s, path := openTestStore(t)
	if err := s.SetMany(map[string]string{
		KeyAccessToken:  "a1",
		KeyRefreshToken: "r1",
	}); err != nil {
		t.Fatalf("SetMany: %v", err)
	}

	changes, cancel := s.Subscribe()
	defer cancel()

	// Simulate another process rewriting the file: refresh token rotated,
	// access token unchanged, organization selected.
	external := map[string]string{
		KeyAccessToken:    "a1",
		KeyRefreshToken:   "r2",
		KeyOrganizationID: "org-1",
	}
	writeStoreFile(t, path, external)

	if err := s.reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		c := expectAnyChange(t, changes)
		got[c.Key] = c.Value
	}
	want := map[string]string{KeyRefreshToken: "r2", KeyOrganizationID: "org-1"}
	for key, value := range want {
		if got[key] != value {
			t.Errorf("change for %s = %q, want %q", key, got[key], value)
		}
	}
	if _, ok := got[KeyAccessToken]; ok {
		t.Error("unchanged access token produced a notification")
	}

	if s.Get(KeyRefreshToken) != "r2" {
		t.Errorf("Get(refresh) = %q, want r2", s.Get(KeyRefreshToken))
	}
}

func TestReloadNotifiesDeletions(t *testing.T) {
	s, path := openTestStore(t)
	if err := s.Set(KeyCurrentTimeEntry, `{"id":"e1"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	changes, cancel := s.Subscribe()
	defer cancel()

	writeStoreFile(t, path, map[string]string{})
	if err := s.reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	c := expectAnyChange(t, changes)
	if c.Key != KeyCurrentTimeEntry || c.Value != "" {
		t.Errorf("change = %+v, want deletion of %s", c, KeyCurrentTimeEntry)
	}
}

func TestWatchPicksUpExternalRename(t *testing.T) {
	s, path := openTestStore(t)
	if err := s.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer s.Close()

	changes, cancel := s.Subscribe()
	defer cancel()

	// Replace the file the way another store process would: write a temp file
	// and rename it into place.
	tmp := path + ".external"
	data, err := json.Marshal(map[string]string{KeyAccessToken: "from-other-process"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	select {
	case c := <-changes:
		if c.Key != KeyAccessToken || c.Value != "from-other-process" {
			t.Errorf("change = %+v, want access token update", c)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification after external rename")
	}

	if got := s.Get(KeyAccessToken); got != "from-other-process" {
		t.Errorf("Get = %q, want from-other-process", got)
	}
}

func TestOwnWritesDoNotEcho(t *testing.T) {
	s, _ := openTestStore(t)
	if err := s.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer s.Close()

	changes, cancel := s.Subscribe()
	defer cancel()

	if err := s.Set(KeyAccessToken, "a1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	expectChange(t, changes, Change{Key: KeyAccessToken, Value: "a1"})

	// The write above also triggers a file event; the reload it causes must
	// diff to nothing and deliver no duplicate.
	select {
	case c := <-changes:
		t.Errorf("unexpected echo notification: %+v", c)
	case <-time.After(300 * time.Millisecond):
	}
}

func writeStoreFile(t *testing.T, path string, values map[string]string) {
	t.Helper()
	data, err := json.Marshal(values)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write store file: %v", err)
	}
}

func expectChange(t *testing.T, changes <-chan Change, want Change) {
	t.Helper()
	got := expectAnyChange(t, changes)
	if got != want {
		t.Errorf("change = %+v, want %+v", got, want)
	}
}

func expectAnyChange(t *testing.T, changes <-chan Change) Change {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change notification")
		return Change{}
	}
}
