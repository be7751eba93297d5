package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/solidtime-io/tracker-companion/internal/inject"
	"github.com/solidtime-io/tracker-companion/internal/oauth"
	"github.com/solidtime-io/tracker-companion/internal/session"
)

// longPollTimeout bounds a directive long-poll; clients immediately poll
// again, so the bound only recycles idle connections.
const longPollTimeout = 25 * time.Second

// Server is the daemon end of the bridge.
type Server struct {
	addr        string
	redirectURL string
	session     *session.Manager
	manager     *inject.Manager

	// OpenURL launches the interactive authorization URL in the user's
	// browser. Defaults to logging the URL for the user to open manually.
	OpenURL func(url string) error

	mu   sync.Mutex
	tabs map[string]chan inject.Directive

	httpServer *http.Server
}

// NewServer wires the bridge to the daemon's session manager and injection
// actions. redirectURL is the loopback callback the OAuth driver serves.
func NewServer(addr, redirectURL string, sess *session.Manager, actions inject.Actions) *Server {
	s := &Server{
		addr:        addr,
		redirectURL: redirectURL,
		session:     sess,
		OpenURL: func(url string) error {
			log.Printf("bridge: open this URL to authorize: %s", url)
			return nil
		},
		tabs: make(map[string]chan inject.Directive),
	}
	s.manager = inject.NewManager(actions, s.queueDirective)
	return s
}

// SetEnricher installs an identity enricher on the per-tab controllers. Call
// before ListenAndServe.
func (s *Server) SetEnricher(e inject.Enricher) {
	s.manager.SetEnricher(e)
}

// Handler returns the bridge's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /message", s.handleMessage)
	mux.HandleFunc("POST /tabs/{tab}/events", s.handleTabEvent)
	mux.HandleFunc("GET /tabs/{tab}/directives", s.handleTabDirectives)
	mux.HandleFunc("DELETE /tabs/{tab}", s.handleTabClosed)
	return mux
}

// ListenAndServe blocks serving the bridge until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("bridge: listening on %s", s.addr)
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, Response{Error: "malformed request"})
		return
	}

	switch req.Type {
	case TypeStartOAuthFlow:
		s.startOAuthFlow(w, r.Context(), req)
	case TypeRefreshToken:
		s.refreshToken(w, r.Context(), req)
	default:
		writeResponse(w, Response{Error: "unknown message type: " + req.Type})
	}
}

// startOAuthFlow runs the full interactive authorization. The response is
// held open until the user completes or cancels the browser flow.
func (s *Server) startOAuthFlow(w http.ResponseWriter, ctx context.Context, req Request) {
	driver := oauth.NewDriver(req.Endpoint, req.ClientID, s.redirectURL)

	sess, err := driver.Login(ctx, s.OpenURL)
	if err != nil {
		writeResponse(w, Response{Error: err.Error()})
		return
	}

	// The background process is the only writer of fresh tokens.
	if err := s.session.SetSession(*sess); err != nil {
		writeResponse(w, Response{Error: err.Error()})
		return
	}

	writeResponse(w, Response{
		Success: true,
		Data:    &TokenData{AccessToken: sess.AccessToken, RefreshToken: sess.RefreshToken},
	})
}

func (s *Server) refreshToken(w http.ResponseWriter, ctx context.Context, req Request) {
	driver := oauth.NewDriver(req.Endpoint, req.ClientID, s.redirectURL)

	sess, err := driver.RefreshSession(ctx, req.RefreshToken)
	if err != nil {
		writeResponse(w, Response{Error: err.Error()})
		return
	}

	writeResponse(w, Response{
		Success: true,
		Data:    &TokenData{AccessToken: sess.AccessToken, RefreshToken: sess.RefreshToken},
	})
}

func (s *Server) handleTabEvent(w http.ResponseWriter, r *http.Request) {
	tabID := r.PathValue("tab")

	var ev inject.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}

	s.manager.HandleEvent(r.Context(), tabID, ev)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTabDirectives(w http.ResponseWriter, r *http.Request) {
	ch := s.tabChannel(r.PathValue("tab"))

	var directives []inject.Directive
	select {
	case d := <-ch:
		directives = append(directives, d)
		// Drain whatever else is already queued.
		for {
			select {
			case d := <-ch:
				directives = append(directives, d)
			default:
				json.NewEncoder(w).Encode(directives)
				return
			}
		}
	case <-time.After(longPollTimeout):
		json.NewEncoder(w).Encode([]inject.Directive{})
	case <-r.Context().Done():
	}
}

func (s *Server) handleTabClosed(w http.ResponseWriter, r *http.Request) {
	tabID := r.PathValue("tab")

	s.manager.DropTab(tabID)
	s.mu.Lock()
	delete(s.tabs, tabID)
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) tabChannel(tabID string) chan inject.Directive {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.tabs[tabID]
	if !ok {
		ch = make(chan inject.Directive, 64)
		s.tabs[tabID] = ch
	}
	return ch
}

func (s *Server) queueDirective(tabID string, d inject.Directive) {
	ch := s.tabChannel(tabID)
	select {
	case ch <- d:
	default:
		log.Printf("bridge: directive queue full for tab %s, dropping %s", tabID, d.Action)
	}
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
