package domain

import "time"

// TokenPair is what the token endpoint returns: the short-lived access
// token (JWT) and the opaque refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	Scope        string // space-delimited
}

// RefreshToken models the stored refresh token record.
type RefreshToken struct {
	ID        string
	UserID    string
	ClientID  string
	TokenHash string // base64url SHA-256 of the opaque token
	SessionID string // survives rotation; one per login
	Scopes    []string
	AMR       []string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
