package http

import (
	"errors"
	"net/http"

	"github.com/litimahmed/universal-hub/internal/authority/service"
	"github.com/litimahmed/universal-hub/internal/authority/store"
	"github.com/litimahmed/universal-hub/pkg/authsdk"
	"github.com/litimahmed/universal-hub/pkg/httpx"
	"github.com/litimahmed/universal-hub/pkg/slogx"
)

// UserInfoHandler serves GET /v1/userinfo. Besides signature and expiry,
// the token's session must still be live, so a revoked login stops working
// before its access token runs out.
type UserInfoHandler struct {
	UserService  *service.UserService
	TokenService *service.TokenService
}

func (h *UserInfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	claims, ok := httpx.ClaimsFrom(ctx)
	if !ok || claims.Subject == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	active, err := h.TokenService.SessionActive(ctx, claims.SID)
	if err != nil {
		log.Error("session lookup failed", "sid", claims.SID, "error", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}
	if !active {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="session revoked"`)
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	user, err := h.UserService.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			authsdk.ErrInvalidToken.WriteError(w)
			return
		}
		log.Warn("failed to load user", "user_id", claims.Subject, "error", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, authsdk.UserInfoResponse{
		UserID:        user.ID,
		Username:      user.Username,
		PreferredName: user.PreferredName,
		SessionID:     claims.SID,
		AMR:           claims.AMR,
	})
}
