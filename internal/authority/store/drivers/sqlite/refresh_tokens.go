package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/litimahmed/universal-hub/internal/authority/domain"
)

type refreshTokensRepo struct {
	db dbtx
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	now := millis(time.Now())
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens
		   (id, user_id, client_id, token_hash, session_id, scopes, amr, expires_at, revoked, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.ClientID, t.TokenHash, t.SessionID,
		joinFields(t.Scopes), joinFields(t.AMR), millis(t.ExpiresAt), t.Revoked, now, now,
	)
	return err
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	var (
		t                               domain.RefreshToken
		scopes, amr                     string
		expiresAt, createdAt, updatedAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, client_id, token_hash, session_id, scopes, amr, expires_at, revoked, created_at, updated_at
		   FROM refresh_tokens WHERE token_hash = ?`, hash,
	).Scan(&t.ID, &t.UserID, &t.ClientID, &t.TokenHash, &t.SessionID, &scopes, &amr,
		&expiresAt, &t.Revoked, &createdAt, &updatedAt)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}

	t.Scopes = splitFields(scopes)
	t.AMR = splitFields(amr)
	t.ExpiresAt = fromMillis(expiresAt)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return t, nil
}

func (r *refreshTokensRepo) RevokeRefreshToken(ctx context.Context, hash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1, updated_at = ? WHERE token_hash = ? AND revoked = 0`,
		millis(time.Now()), hash)
	return err
}

func (r *refreshTokensRepo) RevokeSession(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1, updated_at = ? WHERE session_id = ? AND revoked = 0`,
		millis(time.Now()), sessionID)
	return err
}

func (r *refreshTokensRepo) IsSessionActive(ctx context.Context, sessionID string) (bool, error) {
	var active bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM refresh_tokens WHERE session_id = ? AND revoked = 0 AND expires_at > ?
		 )`, sessionID, millis(time.Now()),
	).Scan(&active)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return active, err
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= ?`, millis(time.Now()))
	return err
}
