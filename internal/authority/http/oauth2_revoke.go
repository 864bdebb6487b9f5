package http

import (
	"net/http"
	"strings"

	"github.com/litimahmed/universal-hub/internal/authority/service"
	"github.com/litimahmed/universal-hub/pkg/authsdk"
	"github.com/litimahmed/universal-hub/pkg/httpx"
	"github.com/litimahmed/universal-hub/pkg/slogx"
)

// RevokeHandler serves POST /v1/oauth2/revoke (RFC 7009). Only refresh
// tokens are revocable; revoking one ends its whole session. Unknown tokens
// still get 200 OK so the endpoint cannot be used to probe for valid ones.
type RevokeHandler struct {
	TokenService *service.TokenService
}

func (h *RevokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		authsdk.ErrInvalidContentType.WriteError(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		authsdk.ErrInvalidFormBody.WriteError(w)
		return
	}

	token := r.PostForm.Get("token")
	hint := r.PostForm.Get("token_type_hint")

	if token == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	if hint == "" || hint == "refresh_token" {
		if err := h.TokenService.RevokeRefreshToken(ctx, token); err != nil {
			log.Warn("revoke refresh failed", "error", err)
		}
	}

	httpx.NoCache(w)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}
