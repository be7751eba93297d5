package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/solidtime-io/tracker-companion/internal/models"
	"github.com/solidtime-io/tracker-companion/internal/session"
	"github.com/solidtime-io/tracker-companion/internal/store"
)

type refresherFunc func(ctx context.Context, refreshToken string) (*models.Session, error)

func (f refresherFunc) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	return f(ctx, refreshToken)
}

// newTestSession builds a session manager seeded with the given tokens whose
// refresher always returns refreshed.
func newTestSession(t *testing.T, access, refresh string, refreshed *models.Session) *session.Manager {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	values := map[string]string{}
	if access != "" {
		values[store.KeyAccessToken] = access
	}
	if refresh != "" {
		values[store.KeyRefreshToken] = refresh
	}
	if len(values) > 0 {
		if err := st.SetMany(values); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}

	m := session.NewManager(st, refresherFunc(func(context.Context, string) (*models.Session, error) {
		if refreshed == nil {
			return nil, errors.New("refresh not expected")
		}
		return refreshed, nil
	}))
	t.Cleanup(m.Close)
	return m
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func TestRetryAfter401(t *testing.T) {
	var tokens []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		tokens = append(tokens, token)
		if token != "Bearer access-fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeData(w, models.User{ID: "u1", Name: "Ada"})
	}))
	defer srv.Close()

	sess := newTestSession(t, "access-stale", "refresh-1",
		&models.Session{AccessToken: "access-fresh", RefreshToken: "refresh-2"})
	c := NewClient(srv.URL, sess)

	user, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("user.ID = %q, want u1", user.ID)
	}

	want := []string{"Bearer access-stale", "Bearer access-fresh"}
	if len(tokens) != len(want) {
		t.Fatalf("server saw %d requests, want %d", len(tokens), len(want))
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("request %d Authorization = %q, want %q", i, tokens[i], want[i])
		}
	}
}

func TestSecond401IsTerminal(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sess := newTestSession(t, "access-stale", "refresh-1",
		&models.Session{AccessToken: "still-rejected", RefreshToken: "refresh-2"})
	c := NewClient(srv.URL, sess)

	_, err := c.Me(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsAuthError(err) {
		t.Errorf("IsAuthError(%v) = false, want true", err)
	}
	if requests != 2 {
		t.Errorf("server saw %d requests, want exactly 2", requests)
	}
}

func TestRefreshFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	// No refresh token: the 401 retry path must surface ErrUnauthenticated.
	sess := newTestSession(t, "access-stale", "", nil)
	c := NewClient(srv.URL, sess)

	_, err := c.Me(context.Background())
	if !errors.Is(err, session.ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestActiveTimeEntry(t *testing.T) {
	t.Run("running entry", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeData(w, models.TimeEntry{ID: "e1", Start: "2026-08-31T10:00:00Z"})
		}))
		defer srv.Close()

		c := NewClient(srv.URL, newTestSession(t, "access-1", "refresh-1", nil))
		entry, err := c.ActiveTimeEntry(context.Background())
		if err != nil {
			t.Fatalf("ActiveTimeEntry: %v", err)
		}
		if entry == nil || entry.ID != "e1" {
			t.Errorf("entry = %+v, want e1", entry)
		}
	})

	t.Run("404 means no timer", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, newTestSession(t, "access-1", "refresh-1", nil))
		entry, err := c.ActiveTimeEntry(context.Background())
		if err != nil {
			t.Fatalf("ActiveTimeEntry: %v", err)
		}
		if entry != nil {
			t.Errorf("entry = %+v, want nil", entry)
		}
	})

	t.Run("finished entry means no timer", func(t *testing.T) {
		end := "2026-08-31T11:00:00Z"
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeData(w, models.TimeEntry{ID: "e1", Start: "2026-08-31T10:00:00Z", End: &end})
		}))
		defer srv.Close()

		c := NewClient(srv.URL, newTestSession(t, "access-1", "refresh-1", nil))
		entry, err := c.ActiveTimeEntry(context.Background())
		if err != nil {
			t.Fatalf("ActiveTimeEntry: %v", err)
		}
		if entry != nil {
			t.Errorf("entry = %+v, want nil for finished entry", entry)
		}
	})
}

func TestCreateTimeEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/organizations/org-1/time-entries" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body models.CreateTimeEntryBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Description != "ST-583: fix bug" || body.MemberID != "mem-1" {
			t.Errorf("body = %+v", body)
		}
		writeData(w, models.TimeEntry{
			ID:             "e1",
			Description:    body.Description,
			OrganizationID: "org-1",
			MemberID:       body.MemberID,
			Start:          body.Start,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, newTestSession(t, "access-1", "refresh-1", nil))
	entry, err := c.CreateTimeEntry(context.Background(), "org-1", models.CreateTimeEntryBody{
		Description: "ST-583: fix bug",
		MemberID:    "mem-1",
		Tags:        []string{},
		Start:       "2026-08-31T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("CreateTimeEntry: %v", err)
	}
	if entry.ID != "e1" {
		t.Errorf("entry.ID = %q, want e1", entry.ID)
	}
}

func TestListTimeEntriesQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		writeData(w, []models.TimeEntry{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, newTestSession(t, "access-1", "refresh-1", nil))
	active := true
	_, err := c.ListTimeEntries(context.Background(), "org-1", TimeEntryListOptions{
		Start:  "2026-08-01T00:00:00Z",
		Active: &active,
		Limit:  5,
	})
	if err != nil {
		t.Fatalf("ListTimeEntries: %v", err)
	}

	q, err := url.ParseQuery(gotQuery)
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}
	if q.Get("start") != "2026-08-01T00:00:00Z" || q.Get("active") != "true" || q.Get("limit") != "5" {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestAPIErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"message": "The start field is required."})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, newTestSession(t, "access-1", "refresh-1", nil))
	_, err := c.Me(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("StatusCode = %d, want 422", apiErr.StatusCode)
	}
	if apiErr.Message != "The start field is required." {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if IsAuthError(err) {
		t.Error("IsAuthError = true for a 422")
	}
}
