package jwtx

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// EdDSAVerifier validates tokens signed by any of its registered Ed25519 keys.
type EdDSAVerifier struct {
	opts VerifyOptions

	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

func NewVerifierEdDSA(opts VerifyOptions) *EdDSAVerifier {
	return &EdDSAVerifier{opts: opts, keys: make(map[string]ed25519.PublicKey)}
}

// AddKey registers pub under kid, replacing any previous key.
func (v *EdDSAVerifier) AddKey(kid string, pub ed25519.PublicKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[kid] = pub
}

func (v *EdDSAVerifier) Verify(raw string) (Claims, error) {
	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.opts.Leeway),
	}
	if v.opts.Issuer != "" {
		popts = append(popts, jwt.WithIssuer(v.opts.Issuer))
	}
	if v.opts.Audience != "" {
		popts = append(popts, jwt.WithAudience(v.opts.Audience))
	}

	var claims Claims
	_, err := jwt.NewParser(popts...).ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)

		v.mu.RLock()
		pub, ok := v.keys[kid]
		v.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownKID, kid)
		}
		return pub, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return claims, nil
}
