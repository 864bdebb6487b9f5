package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/litimahmed/universal-hub/internal/authority/store/drivers/sqlite"
	"github.com/litimahmed/universal-hub/pkg/cryptox"
	"github.com/litimahmed/universal-hub/pkg/jwtx"
)

const testClient = "hub-console"

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	st, err := sqlite.NewStore(filepath.Join(t.TempDir(), "authority.db"))
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestService(t *testing.T) (*TokenService, *UserService) {
	t.Helper()

	pem, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)
	signer, err := jwtx.NewSignerEdDSA("test", pem)
	require.NoError(t, err)

	st := newTestStore(t)
	return &TokenService{
		Signer:   signer,
		Store:    st,
		Issuer:   "hubauth-test",
		ClientID: testClient,
	}, &UserService{Store: st}
}

func TestExchangePassword(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tokens, users := newTestService(t)
	u, err := users.EnsureUser(ctx, SeedUser{
		Username: "admin",
		Password: "correct horse",
		Scopes:   []string{"profile:read", "admin"},
	})
	require.NoError(t, err)

	t.Run("issues a signed pair", func(t *testing.T) {
		pair, err := tokens.ExchangePassword(ctx, testClient, "admin", "correct horse", "")
		require.NoError(t, err)
		require.NotEmpty(t, pair.RefreshToken)
		require.Equal(t, "profile:read admin", pair.Scope)

		claims, err := jwtx.Peek(pair.AccessToken)
		require.NoError(t, err)
		require.Equal(t, u.ID, claims.Subject)
		require.Equal(t, "admin", claims.Username)
		require.NotEmpty(t, claims.SID)
		require.Equal(t, []string{jwtx.AMRPassword}, claims.AMR)
		require.False(t, jwtx.IsExpired(pair.AccessToken, 0))
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := tokens.ExchangePassword(ctx, testClient, "admin", "wrong", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := tokens.ExchangePassword(ctx, testClient, "nobody", "correct horse", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("foreign client", func(t *testing.T) {
		_, err := tokens.ExchangePassword(ctx, "other", "admin", "correct horse", "")
		require.ErrorIs(t, err, ErrInvalidClient)
	})
}

func TestExchangePasswordWithTOTP(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "hubauth", AccountName: "admin"})
	require.NoError(t, err)

	tokens, users := newTestService(t)
	_, err = users.EnsureUser(ctx, SeedUser{
		Username:   "admin",
		Password:   "pw",
		TOTPSecret: key.Secret(),
	})
	require.NoError(t, err)

	_, err = tokens.ExchangePassword(ctx, testClient, "admin", "pw", "")
	require.ErrorIs(t, err, ErrMFARequired)

	_, err = tokens.ExchangePassword(ctx, testClient, "admin", "pw", "000000x")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)

	pair, err := tokens.ExchangePassword(ctx, testClient, "admin", "pw", code)
	require.NoError(t, err)

	claims, err := jwtx.Peek(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, []string{jwtx.AMRPassword, jwtx.AMROTP}, claims.AMR)
}

func TestExchangeRefreshToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tokens, users := newTestService(t)
	_, err := users.EnsureUser(ctx, SeedUser{Username: "admin", Password: "pw"})
	require.NoError(t, err)

	first, err := tokens.ExchangePassword(ctx, testClient, "admin", "pw", "")
	require.NoError(t, err)
	firstClaims, err := jwtx.Peek(first.AccessToken)
	require.NoError(t, err)

	t.Run("rotates under the same session", func(t *testing.T) {
		second, err := tokens.ExchangeRefreshToken(ctx, testClient, first.RefreshToken)
		require.NoError(t, err)
		require.NotEqual(t, first.RefreshToken, second.RefreshToken)

		claims, err := jwtx.Peek(second.AccessToken)
		require.NoError(t, err)
		require.Equal(t, firstClaims.SID, claims.SID)
		require.Contains(t, claims.AMR, jwtx.AMRRefresh)

		active, err := tokens.SessionActive(ctx, claims.SID)
		require.NoError(t, err)
		require.True(t, active)

		t.Run("replaying the rotated token revokes the session", func(t *testing.T) {
			_, err := tokens.ExchangeRefreshToken(ctx, testClient, first.RefreshToken)
			require.ErrorIs(t, err, ErrInvalidRefresh)

			_, err = tokens.ExchangeRefreshToken(ctx, testClient, second.RefreshToken)
			require.ErrorIs(t, err, ErrInvalidRefresh)

			active, err := tokens.SessionActive(ctx, claims.SID)
			require.NoError(t, err)
			require.False(t, active)
		})
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := tokens.ExchangeRefreshToken(ctx, testClient, "not-a-token")
		require.ErrorIs(t, err, ErrInvalidRefresh)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := tokens.ExchangeRefreshToken(ctx, testClient, " ")
		require.ErrorIs(t, err, ErrInvalidRefresh)
	})
}

func TestExchangeRefreshTokenExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tokens, users := newTestService(t)
	_, err := users.EnsureUser(ctx, SeedUser{Username: "admin", Password: "pw"})
	require.NoError(t, err)

	tokens.RefreshTTL = time.Minute
	tokens.Now = func() time.Time { return time.Now().Add(-time.Hour) }
	pair, err := tokens.ExchangePassword(ctx, testClient, "admin", "pw", "")
	require.NoError(t, err)

	tokens.Now = nil
	_, err = tokens.ExchangeRefreshToken(ctx, testClient, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestConcurrentRefreshWithOneToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tokens, users := newTestService(t)
	_, err := users.EnsureUser(ctx, SeedUser{Username: "admin", Password: "pw"})
	require.NoError(t, err)

	pair, err := tokens.ExchangePassword(ctx, testClient, "admin", "pw", "")
	require.NoError(t, err)

	// Two clients presenting the same token: one wins the rotation, the
	// other looks like reuse and takes the whole session down.
	var (
		wg   sync.WaitGroup
		errs [2]error
	)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = tokens.ExchangeRefreshToken(ctx, testClient, pair.RefreshToken)
		}()
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrInvalidRefresh)
			failures++
		}
	}
	require.Equal(t, 1, failures)

	claims, err := jwtx.Peek(pair.AccessToken)
	require.NoError(t, err)
	active, err := tokens.SessionActive(ctx, claims.SID)
	require.NoError(t, err)
	require.False(t, active)
}

func TestRevokeRefreshToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tokens, users := newTestService(t)
	_, err := users.EnsureUser(ctx, SeedUser{Username: "admin", Password: "pw"})
	require.NoError(t, err)

	pair, err := tokens.ExchangePassword(ctx, testClient, "admin", "pw", "")
	require.NoError(t, err)

	require.NoError(t, tokens.RevokeRefreshToken(ctx, pair.RefreshToken))
	require.NoError(t, tokens.RevokeRefreshToken(ctx, "unknown"))

	_, err = tokens.ExchangeRefreshToken(ctx, testClient, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefresh)
}
