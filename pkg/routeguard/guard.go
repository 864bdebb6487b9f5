// Package routeguard keeps signed-out users away from protected paths
// without bouncing them between a page and the login screen.
package routeguard

import (
	"path"
	"strings"
	"sync"

	"github.com/litimahmed/universal-hub/pkg/session"
)

// Guard decides whether a request for a protected path must go to the
// login path instead.
//
// It redirects at most once per sign-out: after a redirect it stays quiet
// until the session is authenticated again or the login path is visited.
type Guard struct {
	prefix    string
	loginPath string

	mu         sync.Mutex
	redirected bool
}

// New guards every path under prefix except loginPath.
func New(prefix, loginPath string) *Guard {
	return &Guard{
		prefix:    strings.TrimSuffix(clean(prefix), "/"),
		loginPath: clean(loginPath),
	}
}

func (g *Guard) LoginPath() string { return g.loginPath }

// Protected reports whether p needs an authenticated session.
func (g *Guard) Protected(p string) bool {
	p = clean(p)
	if p == g.loginPath {
		return false
	}
	return p == g.prefix || strings.HasPrefix(p, g.prefix+"/")
}

// Decide returns the login path and true when p must be redirected.
// Nothing is decided while the session is still loading.
func (g *Guard) Decide(p string, st session.State) (target string, redirect bool) {
	p = clean(p)

	g.mu.Lock()
	defer g.mu.Unlock()

	if st.Authenticated || p == g.loginPath {
		g.redirected = false
		return "", false
	}
	if st.Loading || !g.Protected(p) || g.redirected {
		return "", false
	}
	g.redirected = true
	return g.loginPath, true
}

// Observe feeds a state change to the guard so an authenticated session
// re-arms it even when no request arrives in between.
func (g *Guard) Observe(st session.State) {
	if !st.Authenticated {
		return
	}
	g.mu.Lock()
	g.redirected = false
	g.mu.Unlock()
}

func clean(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
