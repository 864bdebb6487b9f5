package console

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/litimahmed/universal-hub/pkg/authsdk"
	"github.com/litimahmed/universal-hub/pkg/httpx"
	"github.com/litimahmed/universal-hub/pkg/routeguard"
	"github.com/litimahmed/universal-hub/pkg/slogx"
)

// Router is the console's HTTP shell. Everything under /admin/ except the
// login path sits behind the route guard.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	app       *Application
	logger    *slog.Logger
	startTime time.Time
}

func NewRouter(app *Application, logger *slog.Logger) *Router {
	r := &Router{
		Mux:       http.NewServeMux(),
		app:       app,
		logger:    logger,
		startTime: time.Now(),
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(logger),
		routeguard.Middleware(app.guard, app.controller.State),
	}

	r.registerSession()
	r.registerSystem()
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerSession() {
	r.Mux.Handle("GET "+loginPath, http.HandlerFunc(r.handleLoginPrompt))
	r.Mux.Handle("POST "+loginPath,
		httpx.Chain(http.HandlerFunc(r.handleLogin),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.HandleFunc("POST /admin/logout", r.handleLogout)
	r.Mux.HandleFunc("GET /admin/session", r.handleSession)
	r.Mux.HandleFunc("GET /admin/dashboard", r.handleDashboard)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, authsdk.HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(r.startTime).String(),
			Version: BuildVersion,
		})
	}))
	r.Mux.HandleFunc("GET /readyz", r.handleReadyz)
	r.Mux.Handle("GET /metrics", r.app.metrics.Handler())
}

// handleReadyz is ready while the authority is, since no sign-in or refresh
// can succeed without it.
func (r *Router) handleReadyz(w http.ResponseWriter, req *http.Request) {
	status, code := "ok", http.StatusOK
	if _, err := r.app.sdk.GetReadiness(req.Context()); err != nil {
		slogx.FromContext(req.Context()).Warn("authority not ready", "error", err)
		status, code = "degraded", http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, code, authsdk.HealthResponse{
		Status:  status,
		Uptime:  time.Since(r.startTime).String(),
		Version: BuildVersion,
	})
}

// SessionResponse describes the console's session.
type SessionResponse struct {
	Phase         string `json:"phase"`
	Authenticated bool   `json:"authenticated"`
	Loading       bool   `json:"loading"`
}

type loginPrompt struct {
	Method string   `json:"method"`
	Action string   `json:"action"`
	Fields []string `json:"fields"`
	Next   string   `json:"next,omitempty"`
}

func (r *Router) handleLoginPrompt(w http.ResponseWriter, req *http.Request) {
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, loginPrompt{
		Method: http.MethodPost,
		Action: loginPath,
		Fields: []string{"username", "password", "otp_code"},
		Next:   safeNext(req.URL.Query().Get("next")),
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	log := slogx.FromContext(ctx)

	if ct := req.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		authsdk.ErrInvalidContentType.WriteError(w)
		return
	}
	if err := req.ParseForm(); err != nil {
		authsdk.ErrInvalidFormBody.WriteError(w)
		return
	}

	username := strings.TrimSpace(req.PostForm.Get("username"))
	password := req.PostForm.Get("password")
	if username == "" || password == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	err := r.app.Login(ctx, username, password, strings.TrimSpace(req.PostForm.Get("otp_code")))
	switch {
	case err == nil:
	case errors.Is(err, authsdk.ErrMFARequired):
		authsdk.ErrMFARequired.WriteError(w)
		return
	case errors.Is(err, authsdk.ErrInvalidGrant):
		authsdk.ErrInvalidGrant.WriteError(w)
		return
	default:
		log.Error("login failed", "error", err)
		httpx.WriteError(w, http.StatusBadGateway, "upstream_error", "the token authority could not be reached")
		return
	}

	if next := safeNext(req.PostForm.Get("next")); next != "" {
		http.Redirect(w, req, next, http.StatusSeeOther)
		return
	}
	r.writeSession(w)
}

func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	if err := r.app.Logout(req.Context()); err != nil {
		slogx.FromContext(req.Context()).Warn("logout could not clear tokens", "error", err)
	}
	r.writeSession(w)
}

func (r *Router) handleSession(w http.ResponseWriter, _ *http.Request) {
	r.writeSession(w)
}

func (r *Router) handleDashboard(w http.ResponseWriter, req *http.Request) {
	info, err := r.app.UserInfo(req.Context())
	if err != nil {
		if authsdk.IsSessionRevoked(err) || errors.Is(err, authsdk.ErrInvalidToken) {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "signed out, please sign in again")
			return
		}
		slogx.FromContext(req.Context()).Error("userinfo failed", "error", err)
		httpx.WriteError(w, http.StatusBadGateway, "upstream_error", "the token authority could not be reached")
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, info)
}

func (r *Router) writeSession(w http.ResponseWriter) {
	p := r.app.Phase()
	st := p.State()
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, SessionResponse{
		Phase:         p.String(),
		Authenticated: st.Authenticated,
		Loading:       st.Loading,
	})
}

// safeNext only lets the console redirect to its own guarded pages.
func safeNext(next string) string {
	if !strings.HasPrefix(next, adminPrefix+"/") || strings.HasPrefix(next, "//") || next == loginPath {
		return ""
	}
	return next
}
