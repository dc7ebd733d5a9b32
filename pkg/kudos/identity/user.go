// Package identity manages users and their credentials.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// User is an account on the platform. UserTypeID references the
// user_type dictionary (superadmin, admin, user, bot).
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Username     *string    `json:"username,omitempty"`
	PasswordHash string     `json:"-"`
	UserTypeID   string     `json:"-"`
	UserTypeCode string     `json:"user_type"`
	IsVerified   bool       `json:"is_verified"`
	IsActive     bool       `json:"is_active"`
	Notes        *string    `json:"notes,omitempty"`
	IsDeleted    bool       `json:"-"`
	DeletedAt    *time.Time `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NormalizeEmail lower-cases and trims an email address. All storage and
// lookups go through this, so the unique index is effectively
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

const userColumns = `id, email, username, password_hash, user_type_id,
	is_verified, is_active, notes, is_deleted, deleted_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.UserTypeID,
		&u.IsVerified, &u.IsActive, &u.Notes, &u.IsDeleted, &u.DeletedAt,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("identity: scan user: %w", err)
	}
	return &u, nil
}

// InsertUser persists a new user.
func InsertUser(ctx context.Context, q store.Querier, u *User) error {
	_, err := q.Exec(ctx, `
		INSERT INTO users (id, email, username, password_hash, user_type_id,
			is_verified, is_active, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		u.ID, u.Email, u.Username, u.PasswordHash, u.UserTypeID,
		u.IsVerified, u.IsActive, u.Notes, u.CreatedAt)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return apperr.Conflict("email_taken", "error.email_taken").Wrap(err)
		}
		return fmt.Errorf("identity: insert user: %w", err)
	}
	return nil
}

// GetUser loads a user by id, excluding soft-deleted rows.
func GetUser(ctx context.Context, q store.Querier, id string) (*User, error) {
	row := q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND NOT is_deleted`, id)
	return scanUser(row)
}

// GetUserByEmail loads a user by normalized email.
func GetUserByEmail(ctx context.Context, q store.Querier, email string) (*User, error) {
	row := q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 AND NOT is_deleted`,
		NormalizeEmail(email))
	return scanUser(row)
}

// GetUserByUsername loads a user by username.
func GetUserByUsername(ctx context.Context, q store.Querier, username string) (*User, error) {
	row := q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1 AND NOT is_deleted`, username)
	return scanUser(row)
}

// UpdateUser persists mutable profile fields.
func UpdateUser(ctx context.Context, q store.Querier, u *User) error {
	_, err := q.Exec(ctx, `
		UPDATE users SET username = $2, notes = $3, is_verified = $4,
			is_active = $5, password_hash = $6, updated_at = $7
		WHERE id = $1 AND NOT is_deleted`,
		u.ID, u.Username, u.Notes, u.IsVerified, u.IsActive, u.PasswordHash,
		time.Now().UTC())
	if err != nil {
		if store.IsUniqueViolation(err) {
			return apperr.Conflict("username_taken", "error.validation").Wrap(err)
		}
		return fmt.Errorf("identity: update user: %w", err)
	}
	return nil
}
