package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/solidtime-io/tracker-companion/internal/models"
)

// Client lets a non-privileged context (the popup) send messages to the
// background daemon. It implements session.Refresher, so token refreshes in
// the popup go through the daemon like every other cross-origin exchange.
type Client struct {
	baseURL  string
	endpoint string
	clientID string

	httpClient *http.Client
}

// NewClient targets the bridge at addr for the given instance deployment.
func NewClient(addr, endpoint, clientID string) *Client {
	return &Client{
		baseURL:  "http://" + addr,
		endpoint: endpoint,
		clientID: clientID,
		httpClient: &http.Client{
			// OAuth messages are held open while the user interacts with the
			// browser; only transport-level hangs should give up.
			Timeout: 0,
		},
	}
}

func (c *Client) send(ctx context.Context, req Request) (*TokenData, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bridge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/message", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("bridge request failed (is the daemon running?): %w", err)
	}
	defer httpResp.Body.Close()

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode bridge response: %w", err)
	}
	if !resp.Success {
		if resp.Error == "" {
			resp.Error = "bridge request failed"
		}
		return nil, errors.New(resp.Error)
	}
	if resp.Data == nil {
		return nil, errors.New("bridge response missing token data")
	}
	return resp.Data, nil
}

// StartOAuthFlow asks the daemon to run the interactive login and blocks
// until the user finishes it.
func (c *Client) StartOAuthFlow(ctx context.Context) (*models.Session, error) {
	data, err := c.send(ctx, Request{
		Type:     TypeStartOAuthFlow,
		Endpoint: c.endpoint,
		ClientID: c.clientID,
	})
	if err != nil {
		return nil, err
	}
	return &models.Session{AccessToken: data.AccessToken, RefreshToken: data.RefreshToken}, nil
}

// RefreshSession implements session.Refresher through the daemon.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	data, err := c.send(ctx, Request{
		Type:         TypeRefreshToken,
		Endpoint:     c.endpoint,
		ClientID:     c.clientID,
		RefreshToken: refreshToken,
	})
	if err != nil {
		return nil, err
	}
	return &models.Session{AccessToken: data.AccessToken, RefreshToken: data.RefreshToken}, nil
}
