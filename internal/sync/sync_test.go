package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/solidtime-io/tracker-companion/internal/api"
	"github.com/solidtime-io/tracker-companion/internal/db"
	"github.com/solidtime-io/tracker-companion/internal/models"
	"github.com/solidtime-io/tracker-companion/internal/session"
	"github.com/solidtime-io/tracker-companion/internal/store"
)

type noRefresh struct{}

func (noRefresh) RefreshSession(context.Context, string) (*models.Session, error) {
	return nil, errors.New("refresh not expected")
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func newSyncer(t *testing.T, handler http.Handler) (*Syncer, *db.DB) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	if err := st.SetMany(map[string]string{
		store.KeyAccessToken:  "access-1",
		store.KeyRefreshToken: "refresh-1",
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	sess := session.NewManager(st, noRefresh{})
	t.Cleanup(sess.Close)

	database, err := db.New(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	return New(database, api.NewClient(srv.URL, sess)), database
}

func remoteFixture(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/users/me/memberships", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, []models.Membership{
			{ID: "mem-1", Organization: models.Organization{ID: "org-1", Name: "Acme", Currency: "EUR"}},
			{ID: "mem-2", Organization: models.Organization{ID: "org-2", Name: "Side"}},
		})
	})
	mux.HandleFunc("GET /api/v1/organizations/org-1/projects", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, []models.Project{{ID: "p1", Name: "Website", Color: "#ffffff"}})
	})
	mux.HandleFunc("GET /api/v1/organizations/org-1/time-entries", func(w http.ResponseWriter, r *http.Request) {
		end := "2026-08-31T10:00:00Z"
		duration := int64(3600)
		writeData(w, []models.TimeEntry{{
			ID: "e1", OrganizationID: "org-1", Description: "work",
			Start: "2026-08-31T09:00:00Z", End: &end, Duration: &duration,
		}})
	})
	// org-2 is broken on purpose so SyncAll has a partial failure to survive.
	mux.HandleFunc("GET /api/v1/organizations/org-2/projects", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"server error"}`, http.StatusInternalServerError)
	})

	return mux
}

func TestSyncOrganization(t *testing.T) {
	s, database := newSyncer(t, remoteFixture(t))

	if err := s.SyncOrganization(context.Background(), "org-1"); err != nil {
		t.Fatalf("SyncOrganization: %v", err)
	}

	var name string
	if err := database.QueryRow("SELECT name FROM organizations WHERE id = ?", "org-1").Scan(&name); err != nil {
		t.Fatalf("organization row: %v", err)
	}
	if name != "Acme" {
		t.Errorf("name = %q, want Acme", name)
	}

	var projects int
	if err := database.QueryRow("SELECT COUNT(*) FROM projects WHERE organization_id = ?", "org-1").Scan(&projects); err != nil {
		t.Fatalf("project count: %v", err)
	}
	if projects != 1 {
		t.Errorf("projects = %d, want 1", projects)
	}

	var entries int
	if err := database.QueryRow("SELECT COUNT(*) FROM time_entries WHERE organization_id = ?", "org-1").Scan(&entries); err != nil {
		t.Fatalf("entry count: %v", err)
	}
	if entries != 1 {
		t.Errorf("entries = %d, want 1", entries)
	}

	last, err := database.GetLastSyncTime("org-1")
	if err != nil {
		t.Fatalf("GetLastSyncTime: %v", err)
	}
	if last.IsZero() {
		t.Error("last sync time not recorded")
	}
}

func TestSyncAllSurvivesPartialFailure(t *testing.T) {
	s, database := newSyncer(t, remoteFixture(t))

	if err := s.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}

	// org-1 synced despite org-2 failing.
	var entries int
	if err := database.QueryRow("SELECT COUNT(*) FROM time_entries WHERE organization_id = ?", "org-1").Scan(&entries); err != nil {
		t.Fatalf("entry count: %v", err)
	}
	if entries != 1 {
		t.Errorf("entries = %d, want 1", entries)
	}

	last, err := database.GetLastSyncTime("org-2")
	if err != nil {
		t.Fatalf("GetLastSyncTime: %v", err)
	}
	if !last.IsZero() {
		t.Error("failed organization recorded a sync time")
	}
}

func TestSyncIncrementalWindow(t *testing.T) {
	var gotStart string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/users/me/memberships", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, []models.Membership{
			{ID: "mem-1", Organization: models.Organization{ID: "org-1", Name: "Acme"}},
		})
	})
	mux.HandleFunc("GET /api/v1/organizations/org-1/projects", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, []models.Project{})
	})
	mux.HandleFunc("GET /api/v1/organizations/org-1/time-entries", func(w http.ResponseWriter, r *http.Request) {
		gotStart = r.URL.Query().Get("start")
		writeData(w, []models.TimeEntry{})
	})

	s, _ := newSyncer(t, mux)

	// First sync: no window.
	if err := s.SyncOrganization(context.Background(), "org-1"); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if gotStart != "" {
		t.Errorf("first sync start = %q, want unbounded", gotStart)
	}

	// Second sync: bounded by the recorded sync time.
	if err := s.SyncOrganization(context.Background(), "org-1"); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if gotStart == "" {
		t.Error("second sync start empty, want incremental window")
	}
}
