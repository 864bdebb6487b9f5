package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Authentication method references carried in the amr claim.
const (
	AMRPassword = "pwd"
	AMROTP      = "otp"
	AMRRefresh  = "refresh"
)

// Claims is the access-token payload shared by the authority and its clients.
type Claims struct {
	jwt.RegisteredClaims

	// SID survives refresh rotation and ties every token of one login together.
	SID string `json:"sid,omitempty"`

	Scopes        []string `json:"scopes,omitempty"`
	AMR           []string `json:"amr,omitempty"`
	Username      string   `json:"username,omitempty"`
	PreferredName string   `json:"preferred_name,omitempty"`
}

// AccessParams describes an access token to be minted.
type AccessParams struct {
	Subject       string
	SessionID     string
	Issuer        string
	Audience      []string
	Scopes        []string
	AMR           []string
	Username      string
	PreferredName string
	TTL           time.Duration
}

// NewAccessClaims stamps p with iat/nbf/exp relative to now and a fresh jti.
func NewAccessClaims(p AccessParams, now time.Time) Claims {
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.Issuer,
			Subject:   p.Subject,
			Audience:  jwt.ClaimStrings(p.Audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		SID:           p.SessionID,
		Scopes:        p.Scopes,
		AMR:           p.AMR,
		Username:      p.Username,
		PreferredName: p.PreferredName,
	}
}

// NewJTI returns 160 random bits as base64url.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
