package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/litimahmed/universal-hub/internal/authority/domain"
	"github.com/litimahmed/universal-hub/internal/authority/store"
	"github.com/litimahmed/universal-hub/pkg/cryptox"
	"github.com/litimahmed/universal-hub/pkg/idx"
	"github.com/litimahmed/universal-hub/pkg/slogx"
)

// ErrInvalidSeed is returned when a seed user lacks a username or password.
var ErrInvalidSeed = errors.New("seed user needs a username and password")

type UserService struct {
	Store store.Store
}

// SeedUser describes an account provisioned from configuration.
type SeedUser struct {
	Username      string
	PreferredName string
	Password      string
	Scopes        []string
	TOTPSecret    string // base32, empty disables the second factor
}

// GetUserByID fetches a user by id.
func (s *UserService) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	return s.Store.Users().GetUserByID(ctx, userID)
}

// EnsureUser creates the seed account, or brings an existing one in line
// with the configured password, scopes and TOTP secret.
func (s *UserService) EnsureUser(ctx context.Context, seed SeedUser) (domain.User, error) {
	l := slogx.FromContext(ctx)

	seed.Username = strings.TrimSpace(seed.Username)
	if seed.Username == "" || seed.Password == "" {
		return domain.User{}, ErrInvalidSeed
	}

	hash, err := cryptox.HashPassword(seed.Password)
	if err != nil {
		return domain.User{}, err
	}

	var secret *string
	if seed.TOTPSecret != "" {
		secret = &seed.TOTPSecret
	}

	preferred := seed.PreferredName
	if preferred == "" {
		preferred = seed.Username
	}

	var out domain.User
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		existing, err := tx.Users().GetUserByUsername(ctx, seed.Username)
		switch {
		case errors.Is(err, store.ErrNotFound):
			now := time.Now().UTC()
			out = domain.User{
				ID:            idx.New().String(),
				Username:      seed.Username,
				PreferredName: preferred,
				PasswordHash:  hash,
				Scopes:        seed.Scopes,
				TOTPSecret:    secret,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			l.Info("creating seed user", slog.String("username", seed.Username))
			return tx.Users().CreateUser(ctx, out)
		case err != nil:
			return err
		}

		existing.PreferredName = preferred
		existing.PasswordHash = hash
		existing.Scopes = seed.Scopes
		existing.TOTPSecret = secret
		out = existing
		l.Info("updating seed user", slog.String("username", seed.Username))
		return tx.Users().UpdateCredentials(ctx, existing)
	})
	if err != nil {
		return domain.User{}, err
	}
	return out, nil
}
