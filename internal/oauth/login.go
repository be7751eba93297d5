package oauth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/solidtime-io/tracker-companion/internal/models"
)

// Login runs a complete interactive authorization: it serves the loopback
// redirect URL, hands the authorization URL to open (typically a function
// that launches the browser or prints the URL), and blocks until the user
// completes or cancels the flow in the browser. There is no enforced timeout;
// cancel ctx to abandon a stalled attempt.
func (d *Driver) Login(ctx context.Context, open func(authURL string) error) (*models.Session, error) {
	ln, err := net.Listen("tcp", redirectHost(d.conf.RedirectURL))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on redirect address: %w", err)
	}
	defer ln.Close()

	authURL, err := d.Begin()
	if err != nil {
		return nil, err
	}

	type result struct {
		session *models.Session
		err     error
	}
	results := make(chan result, 1)

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := d.HandleCallback(r.Context(), r.URL.String())
			if err != nil {
				http.Error(w, "Login failed. You can close this window.", http.StatusBadRequest)
			} else {
				fmt.Fprintln(w, "Logged in. You can close this window.")
			}
			select {
			case results <- result{session: session, err: err}:
			default:
			}
		}),
	}
	go server.Serve(ln)
	defer server.Close()

	if err := open(authURL); err != nil {
		return nil, fmt.Errorf("failed to open authorization URL: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-results:
		return r.session, r.err
	}
}

func redirectHost(redirectURL string) string {
	// RedirectURL is always of the form http://127.0.0.1:port/callback; fall
	// back to an ephemeral loopback port if it does not parse.
	if u, err := url.Parse(redirectURL); err == nil && u.Host != "" {
		return u.Host
	}
	return "127.0.0.1:0"
}
