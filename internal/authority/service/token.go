package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/litimahmed/universal-hub/internal/authority/domain"
	"github.com/litimahmed/universal-hub/internal/authority/store"
	"github.com/litimahmed/universal-hub/pkg/cryptox"
	"github.com/litimahmed/universal-hub/pkg/idx"
	"github.com/litimahmed/universal-hub/pkg/jwtx"
	"github.com/litimahmed/universal-hub/pkg/slogx"
)

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInvalidClient      = errors.New("invalid_client")
	ErrInvalidRefresh     = errors.New("invalid_refresh_token")
	ErrMFARequired        = errors.New("mfa_required")
)

type TokenService struct {
	Signer     jwtx.Signer
	Store      store.Store
	Issuer     string
	ClientID   string // the only client this authority serves
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// ExchangePassword implements the password grant. Accounts with a TOTP
// secret must also present a current one-time code; an absent code yields
// ErrMFARequired so clients can prompt for it.
func (s *TokenService) ExchangePassword(
	ctx context.Context,
	clientID, username, password, otpCode string,
) (*domain.TokenPair, error) {
	l := slogx.FromContext(ctx)

	if clientID != s.ClientID {
		return nil, ErrInvalidClient
	}

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	u, err := s.Store.Users().GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn a hash so unknown users cost the same as wrong passwords.
			_, _ = cryptox.HashPassword(password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := cryptox.VerifyPassword(password, u.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrMismatch) {
			l.Error("stored password hash unreadable", slog.String("user_id", u.ID), slog.Any("error", err))
		}
		return nil, ErrInvalidCredentials
	}

	amr := []string{jwtx.AMRPassword}
	if u.HasTOTP() {
		otpCode = strings.TrimSpace(otpCode)
		if otpCode == "" {
			return nil, ErrMFARequired
		}
		if !totp.Validate(otpCode, *u.TOTPSecret) {
			l.Info("one-time code rejected", slog.String("user_id", u.ID))
			return nil, ErrInvalidCredentials
		}
		amr = append(amr, jwtx.AMROTP)
	}

	now := s.now()
	sessionID := idx.NewAt(now).String()

	var pair *domain.TokenPair
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		pair, err = s.issue(ctx, tx, u, sessionID, amr, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.Info("password grant issued", slog.String("user_id", u.ID), slog.String("sid", sessionID))
	return pair, nil
}

// ExchangeRefreshToken implements the refresh_token grant with rotation.
//
// The presented token is revoked and a new one issued under the same
// session id. Presenting a token that was already rotated away means it
// leaked or two clients raced; either way the whole session is revoked.
func (s *TokenService) ExchangeRefreshToken(
	ctx context.Context,
	clientID, refreshOpaque string,
) (*domain.TokenPair, error) {
	l := slogx.FromContext(ctx)
	now := s.now()

	if clientID != s.ClientID {
		return nil, ErrInvalidClient
	}
	if strings.TrimSpace(refreshOpaque) == "" {
		return nil, ErrInvalidRefresh
	}

	fp := cryptox.FingerprintToken(refreshOpaque)

	var (
		pair   *domain.TokenPair
		reused string
	)
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		rt, err := tx.RefreshTokens().GetRefreshTokenByHash(ctx, fp)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidRefresh
			}
			return err
		}

		if rt.ClientID != clientID {
			return ErrInvalidClient
		}
		if rt.Revoked {
			reused = rt.SessionID
			return tx.RefreshTokens().RevokeSession(ctx, rt.SessionID)
		}
		if !now.Before(rt.ExpiresAt) {
			return ErrInvalidRefresh
		}

		u, err := tx.Users().GetUserByID(ctx, rt.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidRefresh
			}
			return err
		}

		if err := tx.RefreshTokens().RevokeRefreshToken(ctx, fp); err != nil {
			return err
		}

		amr := dedupe(append(rt.AMR, jwtx.AMRRefresh))
		pair, err = s.issue(ctx, tx, u, rt.SessionID, amr, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if reused != "" {
		l.Warn("rotated refresh token presented again; session revoked", slog.String("sid", reused))
		return nil, ErrInvalidRefresh
	}
	return pair, nil
}

// RevokeRefreshToken revokes the session the refresh token belongs to.
// Unknown tokens are not an error.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, refreshOpaque string) error {
	fp := cryptox.FingerprintToken(refreshOpaque)
	rt, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, fp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.Store.RefreshTokens().RevokeSession(ctx, rt.SessionID)
}

// SessionActive reports whether the login identified by sid can still be
// refreshed. Access tokens of revoked sessions are refused early with it.
func (s *TokenService) SessionActive(ctx context.Context, sid string) (bool, error) {
	if sid == "" {
		return false, nil
	}
	return s.Store.RefreshTokens().IsSessionActive(ctx, sid)
}

func (s *TokenService) issue(
	ctx context.Context,
	tx store.Tx,
	u domain.User,
	sessionID string,
	amr []string,
	now time.Time,
) (*domain.TokenPair, error) {
	claims := jwtx.NewAccessClaims(jwtx.AccessParams{
		Subject:       u.ID,
		SessionID:     sessionID,
		Issuer:        s.Issuer,
		Audience:      []string{s.ClientID},
		Scopes:        u.Scopes,
		AMR:           amr,
		Username:      u.Username,
		PreferredName: u.PreferredName,
		TTL:           s.accessTTL(),
	}, now)

	access, err := s.Signer.Sign(claims)
	if err != nil {
		return nil, err
	}

	refreshOpaque, err := cryptox.GenerateToken(cryptox.RefreshTokenSize)
	if err != nil {
		return nil, err
	}

	rt := domain.RefreshToken{
		ID:        idx.NewAt(now).String(),
		UserID:    u.ID,
		ClientID:  s.ClientID,
		TokenHash: cryptox.FingerprintToken(refreshOpaque),
		SessionID: sessionID,
		Scopes:    u.Scopes,
		AMR:       amr,
		ExpiresAt: now.Add(s.refreshTTL()),
	}
	if err := tx.RefreshTokens().CreateRefreshToken(ctx, rt); err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refreshOpaque,
		ExpiresIn:    s.accessTTL(),
		Scope:        strings.Join(u.Scopes, " "),
	}, nil
}

func (s *TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *TokenService) accessTTL() time.Duration {
	if s.AccessTTL > 0 {
		return s.AccessTTL
	}
	return jwtx.DefaultAccessTokenTTL
}

func (s *TokenService) refreshTTL() time.Duration {
	if s.RefreshTTL > 0 {
		return s.RefreshTTL
	}
	return jwtx.DefaultRefreshTokenTTL
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
