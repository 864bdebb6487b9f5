package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/litimahmed/universal-hub/internal/authority/domain"
	"github.com/litimahmed/universal-hub/internal/authority/store"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `id, username, preferred_name, password_hash, scopes, totp_secret, created_at, updated_at`

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	now := millis(time.Now())
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.PreferredName, u.PasswordHash, joinFields(u.Scopes),
		mapOptionalString(u.TOTPSecret), now, now,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: user %q", store.ErrAlreadyExists, u.Username)
	}
	return err
}

func (r *usersRepo) UpdateCredentials(ctx context.Context, u domain.User) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users
		    SET preferred_name = ?, password_hash = ?, scopes = ?, totp_secret = ?, updated_at = ?
		  WHERE id = ?`,
		u.PreferredName, u.PasswordHash, joinFields(u.Scopes), mapOptionalString(u.TOTPSecret),
		millis(time.Now()), u.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (domain.User, error) {
	var (
		u                    domain.User
		scopes               string
		totp                 sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.PreferredName, &u.PasswordHash, &scopes, &totp, &createdAt, &updatedAt)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.Scopes = splitFields(scopes)
	u.TOTPSecret = mapNullStringPtr(totp)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}
