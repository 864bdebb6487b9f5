package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/litimahmed/universal-hub/internal/authority/service"
	"github.com/litimahmed/universal-hub/internal/authority/store/drivers/sqlite"
	"github.com/litimahmed/universal-hub/pkg/authsdk"
	"github.com/litimahmed/universal-hub/pkg/cryptox"
	"github.com/litimahmed/universal-hub/pkg/httpx"
	"github.com/litimahmed/universal-hub/pkg/jwtx"
	"github.com/litimahmed/universal-hub/pkg/slogx"
)

const testClient = "hub-console"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.NewStore(filepath.Join(t.TempDir(), "authority.db"))
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	pem, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)
	signer, err := jwtx.NewSignerEdDSA("k1", pem)
	require.NoError(t, err)

	verifier := jwtx.NewVerifierEdDSA(jwtx.VerifyOptions{Issuer: "hubauth-test", Audience: testClient})
	verifier.AddKey(signer.KID(), signer.PublicKey())

	users := &service.UserService{Store: st}
	_, err = users.EnsureUser(ctx, service.SeedUser{
		Username: "admin",
		Password: "pw",
		Scopes:   []string{"profile:read"},
	})
	require.NoError(t, err)
	_, err = users.EnsureUser(ctx, service.SeedUser{Username: "noscope", Password: "pw"})
	require.NoError(t, err)

	r := NewRouter(verifier, "test", st, slogx.Discard())
	r.TokenService = &service.TokenService{
		Signer:   signer,
		Store:    st,
		Issuer:   "hubauth-test",
		ClientID: testClient,
	}
	r.UserService = users
	r.TokenLimit = httpx.Limit{Requests: 1000, Window: time.Minute, Burst: 1000}
	r.ApplyRoutes()

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func getUserInfo(t *testing.T, srv *httptest.Server, access string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/userinfo", nil)
	require.NoError(t, err)
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestTokenEndpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newTestServer(t)
	sdk := authsdk.NewSDKClient(srv.URL, testClient)

	t.Run("password then refresh", func(t *testing.T) {
		first, err := sdk.PasswordGrant(ctx, "admin", "pw", "")
		require.NoError(t, err)
		require.Equal(t, "Bearer", first.TokenType)
		require.NotEmpty(t, first.RefreshToken)

		second, err := sdk.RefreshGrant(ctx, first.RefreshToken)
		require.NoError(t, err)
		require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	})

	t.Run("bad password", func(t *testing.T) {
		_, err := sdk.PasswordGrant(ctx, "admin", "nope", "")
		require.ErrorIs(t, err, authsdk.ErrInvalidGrant)
	})

	t.Run("foreign client", func(t *testing.T) {
		other := authsdk.NewSDKClient(srv.URL, "other")
		_, err := other.PasswordGrant(ctx, "admin", "pw", "")
		require.ErrorIs(t, err, authsdk.ErrInvalidClient)
	})

	t.Run("unknown refresh token", func(t *testing.T) {
		_, err := sdk.RefreshGrant(ctx, "bogus")
		require.ErrorIs(t, err, authsdk.ErrInvalidGrant)
	})

	t.Run("unsupported grant", func(t *testing.T) {
		resp, err := srv.Client().PostForm(srv.URL+"/v1/oauth2/token", url.Values{"grant_type": {"client_credentials"}})
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("json body rejected", func(t *testing.T) {
		resp, err := srv.Client().Post(srv.URL+"/v1/oauth2/token", "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestUserInfo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newTestServer(t)
	sdk := authsdk.NewSDKClient(srv.URL, testClient)

	pair, err := sdk.PasswordGrant(ctx, "admin", "pw", "")
	require.NoError(t, err)

	require.Equal(t, http.StatusUnauthorized, getUserInfo(t, srv, "").StatusCode)
	require.Equal(t, http.StatusUnauthorized, getUserInfo(t, srv, "garbage").StatusCode)
	require.Equal(t, http.StatusOK, getUserInfo(t, srv, pair.AccessToken).StatusCode)

	t.Run("missing scope", func(t *testing.T) {
		other, err := sdk.PasswordGrant(ctx, "noscope", "pw", "")
		require.NoError(t, err)
		require.Equal(t, http.StatusForbidden, getUserInfo(t, srv, other.AccessToken).StatusCode)
	})

	t.Run("revoked session stops its access token", func(t *testing.T) {
		require.NoError(t, sdk.RevokeToken(ctx, pair.RefreshToken))
		require.NoError(t, sdk.RevokeToken(ctx, "unknown"))

		resp := getUserInfo(t, srv, pair.AccessToken)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Contains(t, resp.Header.Get("WWW-Authenticate"), "invalid_token")
	})
}

func TestHealth(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	sdk := authsdk.NewSDKClient(srv.URL, testClient)

	health, err := sdk.GetLiveness(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", health.Status)
	require.Equal(t, "test", health.Version)

	resp, err := srv.Client().Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
