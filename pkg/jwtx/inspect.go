package jwtx

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSkew is how long before its exp a token already counts as expired,
// so a request never leaves with a token that dies in flight.
const DefaultSkew = 30 * time.Second

// Inspector reads expiry from access tokens without verifying signatures.
// Verification belongs to the resource server; clients only need to know
// whether a token is still worth sending.
type Inspector struct {
	// Skew is subtracted from exp. Zero means no margin.
	Skew time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// IsExpired reports whether token is expired, or will be within skew. Any
// token that cannot be decoded, or carries no exp, counts as expired.
func IsExpired(token string, skew time.Duration) bool {
	return Inspector{Skew: skew}.IsExpired(token)
}

func (i Inspector) IsExpired(token string) bool {
	exp, err := ExpiresAt(token)
	if err != nil {
		return true
	}
	return !i.now().Before(exp.Add(-i.Skew))
}

// Remaining is the time left before token counts as expired under i, or zero.
func (i Inspector) Remaining(token string) time.Duration {
	exp, err := ExpiresAt(token)
	if err != nil {
		return 0
	}
	return max(exp.Add(-i.Skew).Sub(i.now()), 0)
}

func (i Inspector) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// ExpiresAt decodes the exp claim of token. Only exp is read: other claims
// and the alg header may hold anything without affecting the result.
func ExpiresAt(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, ErrMalformed
	}
	raw, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var payload struct {
		Exp *jwt.NumericDate `json:"exp"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if payload.Exp == nil {
		return time.Time{}, ErrMissingExpiry
	}
	return payload.Exp.Time, nil
}

// Peek decodes the payload of token without checking its signature. The
// result must never be used for authorization decisions.
func Peek(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrMalformed
	}
	var c Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return c, nil
}
