package routeguard_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/litimahmed/universal-hub/pkg/routeguard"
	"github.com/litimahmed/universal-hub/pkg/session"
)

var (
	signedOut = session.State{}
	loading   = session.State{Loading: true}
	signedIn  = session.State{Authenticated: true}
)

func TestDecide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		state    session.State
		redirect bool
	}{
		{name: "signed out on protected page", path: "/admin/dashboard", state: signedOut, redirect: true},
		{name: "signed out on login page", path: "/admin/login", state: signedOut},
		{name: "still loading", path: "/admin/dashboard", state: loading},
		{name: "signed in", path: "/admin/dashboard", state: signedIn},
		{name: "outside prefix", path: "/about", state: signedOut},
		{name: "prefix lookalike", path: "/administrator", state: signedOut},
		{name: "prefix root", path: "/admin", state: signedOut, redirect: true},
		{name: "dot segments", path: "/admin/x/../../admin/login", state: signedOut},
		{name: "escaping prefix", path: "/admin/../about", state: signedOut},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := routeguard.New("/admin/", "/admin/login")

			target, redirect := g.Decide(tc.path, tc.state)
			require.Equal(t, tc.redirect, redirect)
			if redirect {
				require.Equal(t, "/admin/login", target)
			} else {
				require.Empty(t, target)
			}
		})
	}
}

func TestDecideRedirectsOncePerSignOut(t *testing.T) {
	t.Parallel()
	g := routeguard.New("/admin", "/admin/login")

	_, redirect := g.Decide("/admin/dashboard", signedOut)
	require.True(t, redirect)

	// State flapping through loading must not produce a redirect loop.
	_, redirect = g.Decide("/admin/dashboard", loading)
	require.False(t, redirect)
	_, redirect = g.Decide("/admin/dashboard", signedOut)
	require.False(t, redirect)

	g.Observe(signedIn)
	_, redirect = g.Decide("/admin/dashboard", signedOut)
	require.True(t, redirect)

	// Reaching the login page re-arms the guard as well.
	_, redirect = g.Decide("/admin/login", signedOut)
	require.False(t, redirect)
	_, redirect = g.Decide("/admin/settings", signedOut)
	require.True(t, redirect)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	var state atomic.Value
	state.Store(signedOut)
	g := routeguard.New("/admin", "/admin/login")

	var served atomic.Int32
	h := routeguard.Middleware(g, func() session.State { return state.Load().(session.State) })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			served.Add(1)
			w.WriteHeader(http.StatusNoContent)
		}))

	do := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := do("/admin/dashboard")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/admin/login?next=%2Fadmin%2Fdashboard", rec.Header().Get("Location"))

	rec = do("/admin/dashboard")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), `"unauthenticated"`)

	require.Equal(t, http.StatusNoContent, do("/admin/login").Code)
	require.Equal(t, http.StatusNoContent, do("/livez").Code)

	state.Store(loading)
	rec = do("/admin/dashboard")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))

	state.Store(signedIn)
	require.Equal(t, http.StatusNoContent, do("/admin/dashboard").Code)
	require.Equal(t, int32(3), served.Load())
}
