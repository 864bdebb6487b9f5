package routeguard

import (
	"net/http"
	"net/url"

	"github.com/litimahmed/universal-hub/pkg/httpx"
	"github.com/litimahmed/universal-hub/pkg/session"
	"github.com/litimahmed/universal-hub/pkg/slogx"
)

// Middleware applies g to every request using the session state reported
// by state.
//
// A redirect is a 303 to the login path. While the session is loading the
// client is asked to retry; once the guard has already redirected it
// answers 401 instead of redirecting again.
func Middleware(g *Guard, state func() session.State) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := state()
			target, redirect := g.Decide(r.URL.Path, st)

			switch {
			case redirect:
				slogx.FromContext(r.Context()).Debug("redirecting to login", "path", r.URL.Path)
				q := url.Values{"next": {r.URL.Path}}
				http.Redirect(w, r, target+"?"+q.Encode(), http.StatusSeeOther)
			case st.Authenticated || !g.Protected(r.URL.Path):
				next.ServeHTTP(w, r)
			case st.Loading:
				w.Header().Set("Retry-After", "1")
				httpx.WriteError(w, http.StatusServiceUnavailable, "session_loading", "session is being restored")
			default:
				httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "signed out, please sign in again")
			}
		})
	}
}
