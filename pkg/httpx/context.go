package httpx

import (
	"context"

	"github.com/litimahmed/universal-hub/pkg/jwtx"
)

type claimsKey struct{}

// WithClaims stores verified access-token claims in ctx.
func WithClaims(ctx context.Context, c jwtx.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFrom returns the claims stored by AuthnMiddleware.
func ClaimsFrom(ctx context.Context) (jwtx.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(jwtx.Claims)
	return c, ok
}
