package jwtx_test

import (
	"testing"
	"time"

	"github.com/litimahmed/universal-hub/pkg/cryptox"
	"github.com/litimahmed/universal-hub/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const exampleIssuer = "hub-auth"

func newSigner(t *testing.T, kid string) *jwtx.EdDSASigner {
	t.Helper()
	pemKey, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)
	s, err := jwtx.NewSignerEdDSA(kid, pemKey)
	require.NoError(t, err)
	return s
}

func TestNewAccessClaims(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	c := jwtx.NewAccessClaims(jwtx.AccessParams{
		Subject:   "user-1",
		SessionID: "sid-1",
		Issuer:    exampleIssuer,
		Audience:  []string{"hub-admin"},
		Scopes:    []string{"profile:read"},
		AMR:       []string{jwtx.AMRPassword},
		Username:  "admin",
		TTL:       5 * time.Minute,
	}, now)

	require.Equal(t, "user-1", c.Subject)
	require.Equal(t, now.Add(5*time.Minute), c.ExpiresAt.Time)
	require.Equal(t, now, c.IssuedAt.Time)
	require.NotEmpty(t, c.ID)

	t.Run("zero ttl falls back to default", func(t *testing.T) {
		c := jwtx.NewAccessClaims(jwtx.AccessParams{Subject: "u"}, now)
		require.Equal(t, now.Add(jwtx.DefaultAccessTokenTTL), c.ExpiresAt.Time)
	})
}

func TestEdDSASignAndVerify(t *testing.T) {
	signer := newSigner(t, "k1")
	require.Equal(t, "EdDSA", signer.Alg())

	verifier := jwtx.NewVerifierEdDSA(jwtx.VerifyOptions{Issuer: exampleIssuer, Audience: "hub-admin"})
	verifier.AddKey(signer.KID(), signer.PublicKey())

	claims := jwtx.NewAccessClaims(jwtx.AccessParams{
		Subject:  "user-1",
		Issuer:   exampleIssuer,
		Audience: []string{"hub-admin"},
		Scopes:   []string{"profile:read"},
		Username: "admin",
	}, time.Now())
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	got, err := verifier.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", got.Subject)
	require.Equal(t, []string{"profile:read"}, got.Scopes)
	require.Equal(t, "admin", got.Username)
}

func TestEdDSAVerifyRejects(t *testing.T) {
	signer := newSigner(t, "k1")
	now := time.Now()

	sign := func(p jwtx.AccessParams, at time.Time) string {
		tok, err := signer.Sign(jwtx.NewAccessClaims(p, at))
		require.NoError(t, err)
		return tok
	}

	good := jwtx.AccessParams{Subject: "u", Issuer: exampleIssuer, Audience: []string{"hub-admin"}}

	tests := []struct {
		name  string
		token string
		setup func(v *jwtx.EdDSAVerifier)
	}{
		{"wrong issuer", sign(jwtx.AccessParams{Subject: "u", Issuer: "evil", Audience: []string{"hub-admin"}}, now), nil},
		{"wrong audience", sign(jwtx.AccessParams{Subject: "u", Issuer: exampleIssuer, Audience: []string{"other"}}, now), nil},
		{"expired", sign(good, now.Add(-time.Hour)), nil},
		{"garbage", "not.a.jwt", nil},
		{"unknown kid", sign(good, now), func(v *jwtx.EdDSAVerifier) {
			v.AddKey("k2", newSigner(t, "k2").PublicKey())
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := jwtx.NewVerifierEdDSA(jwtx.VerifyOptions{Issuer: exampleIssuer, Audience: "hub-admin"})
			if tt.setup != nil {
				tt.setup(v)
			} else {
				v.AddKey(signer.KID(), signer.PublicKey())
			}
			_, err := v.Verify(tt.token)
			require.ErrorIs(t, err, jwtx.ErrInvalid)
		})
	}
}
