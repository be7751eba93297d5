// Package bridge carries the cross-context protocol between the privileged
// background daemon and the non-privileged surfaces (popup, per-tab browser
// clients). Requests are asynchronous request/response pairs over localhost
// HTTP; tab directives flow back through long-polling.
package bridge

// Message types understood by the daemon.
const (
	TypeStartOAuthFlow = "START_OAUTH_FLOW"
	TypeRefreshToken   = "REFRESH_TOKEN"
)

// Request is the envelope sent to POST /message.
type Request struct {
	Type         string `json:"type"`
	Endpoint     string `json:"endpoint,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// TokenData is the payload of a successful token response.
type TokenData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Response is the envelope returned for every message.
type Response struct {
	Success bool       `json:"success"`
	Data    *TokenData `json:"data,omitempty"`
	Error   string     `json:"error,omitempty"`
}
