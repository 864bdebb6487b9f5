package store

import (
	"context"
	"errors"

	"github.com/litimahmed/universal-hub/internal/authority/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. It exposes sub-repositories so a
// transaction-scoped Store offers exactly the same API.
type Store interface {
	Users() Users
	RefreshTokens() RefreshTokens

	ApplyMigrations() error

	// WithTx runs fn in a transaction, committing when it returns nil and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store.
type Tx interface {
	Users() Users
	RefreshTokens() RefreshTokens
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByUsername is used during the password grant.
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	// CreateUser returns ErrAlreadyExists when the username is taken.
	CreateUser(ctx context.Context, u domain.User) error

	// UpdateCredentials replaces the password hash, scopes and TOTP secret.
	UpdateCredentials(ctx context.Context, u domain.User) error
}

type RefreshTokens interface {
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns revoked and expired rows too; callers
	// need them to detect reuse.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// RevokeRefreshToken flips revoked=1. Unknown hashes are not an error.
	RevokeRefreshToken(ctx context.Context, hash string) error

	// RevokeSession revokes every refresh token of one login.
	RevokeSession(ctx context.Context, sessionID string) error

	// IsSessionActive reports whether any unrevoked, unexpired token of the
	// session remains.
	IsSessionActive(ctx context.Context, sessionID string) (bool, error)

	DeleteExpiredRefreshTokens(ctx context.Context) error
}
