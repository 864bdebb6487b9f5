package authsdk

import "github.com/litimahmed/universal-hub/pkg/session"

// ============================================================================
// Common Types
// ============================================================================

// ErrorResponse represents an OAuth2 error response body.
type ErrorResponse struct {
	// Error is the OAuth2 error code
	Error string `json:"error"`

	// ErrorDescription is a human-readable error description
	ErrorDescription string `json:"error_description,omitempty"`
}

// HealthResponse is returned by GET /livez.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// ============================================================================
// Token Types
// ============================================================================

// TokenResponse represents a successful OAuth2 token response.
type TokenResponse struct {
	// AccessToken is the JWT access token
	AccessToken string `json:"access_token"`

	// RefreshToken is the opaque refresh token. It is omitted when the
	// authority did not rotate it.
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int `json:"expires_in"`

	// Scope is the space-delimited list of granted scopes
	Scope string `json:"scope,omitempty"`
}

// Pair returns the tokens in the form session.Controller stores them.
func (r *TokenResponse) Pair() session.TokenPair {
	return session.TokenPair{Access: r.AccessToken, Refresh: r.RefreshToken}
}

// ============================================================================
// User Types
// ============================================================================

// UserInfoResponse is returned by GET /v1/userinfo. Requires the
// profile:read scope.
type UserInfoResponse struct {
	// UserID is the unique identifier for the user
	UserID string `json:"user_id"`

	// Username is the user's login username
	Username string `json:"username"`

	// PreferredName is the user's display name
	PreferredName string `json:"preferred_name"`

	// SessionID identifies the login the access token belongs to
	SessionID string `json:"session_id"`

	// AMR lists how the user authenticated ("pwd", "otp")
	AMR []string `json:"amr,omitempty"`
}
