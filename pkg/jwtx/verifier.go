package jwtx

import (
	"errors"
	"time"
)

// Verifier checks a token signature and its registered claims.
type Verifier interface {
	Verify(token string) (Claims, error)
}

var (
	ErrMalformed     = errors.New("jwtx: malformed token")
	ErrMissingExpiry = errors.New("jwtx: token has no exp claim")
	ErrUnknownKID    = errors.New("jwtx: unknown kid")
	ErrInvalid       = errors.New("jwtx: invalid token")
)

// VerifyOptions are the expectations a verifier enforces.
type VerifyOptions struct {
	// Issuer the token must carry. Empty skips the check.
	Issuer string

	// Audience the token must contain. Empty skips the check.
	Audience string

	// Leeway tolerated on exp and nbf.
	Leeway time.Duration
}
