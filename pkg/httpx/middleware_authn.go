package httpx

import (
	"net/http"
	"slices"
	"strings"

	"github.com/litimahmed/universal-hub/pkg/jwtx"
	"github.com/litimahmed/universal-hub/pkg/slogx"
)

// AuthnMiddleware rejects requests without a valid bearer access token and
// stores the verified claims in the request context.
func AuthnMiddleware(v jwtx.Verifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				writeBearerError(w, "invalid_token", "missing bearer token")
				return
			}

			claims, err := v.Verify(strings.TrimSpace(raw))
			if err != nil {
				slogx.FromContext(r.Context()).Debug("bearer token rejected", "error", err)
				writeBearerError(w, "invalid_token", "token verification failed")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireAnyScope lets the request through when the verified token carries at
// least one of the listed scopes. It must run after AuthnMiddleware.
func RequireAnyScope(scopes ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := ClaimsFrom(r.Context())
			for _, s := range claims.Scopes {
				if slices.Contains(scopes, s) {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("WWW-Authenticate",
				`Bearer error="insufficient_scope", scope="`+strings.Join(scopes, " ")+`"`)
			WriteError(w, http.StatusForbidden, "insufficient_scope", "the access token does not have the required scopes")
		})
	}
}

// RFC 6750 bearer challenge.
func writeBearerError(w http.ResponseWriter, code, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	WriteError(w, http.StatusUnauthorized, code, desc)
}
