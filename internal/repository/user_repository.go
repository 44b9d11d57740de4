package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/amirk1998/account-manager/internal/database"
	"github.com/amirk1998/account-manager/internal/models"
	apperrors "github.com/amirk1998/account-manager/pkg/errors"
)

const userColumns = `id, username, email, password_hash, session_token, reset_token,
               reset_token_expires, created_at, updated_at, last_login`

type UserRepository struct {
	db database.DBTX
}

// NewUserRepository creates a new user repository
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *UserRepository) WithTx(tx database.DBTX) *UserRepository {
	return &UserRepository{db: tx}
}

// Create inserts a new user. UNIQUE violations map to ErrUserAlreadyExists.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
        INSERT INTO users (id, username, email, password_hash, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.ErrUserAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// ExistsByUsernameOrEmail checks both unique fields in a single query.
func (r *UserRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE username = ? OR email = ?)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, username, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}

	return exists, nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, "id", id)
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, "username", username)
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "email", email)
}

// GetBySessionToken retrieves the user owning an active session token
func (r *UserRepository) GetBySessionToken(ctx context.Context, token string) (*models.User, error) {
	return r.getOne(ctx, "session_token", token)
}

// GetByResetToken retrieves the user with a pending reset token, expired or not
func (r *UserRepository) GetByResetToken(ctx context.Context, token string) (*models.User, error) {
	return r.getOne(ctx, "reset_token", token)
}

// getOne is only called with the fixed column names above.
func (r *UserRepository) getOne(ctx context.Context, column, value string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = ?`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by %s: %w", column, err)
	}

	return user, nil
}

// StartSession stores the session token and last login time, replacing any
// previous session of the user.
func (r *UserRepository) StartSession(ctx context.Context, userID, token string, at time.Time) error {
	query := `
        UPDATE users
        SET session_token = ?, last_login = ?, updated_at = ?
        WHERE id = ?
    `

	return r.execOne(ctx, "start session", query, token, at, at, userID)
}

// ClearSession removes the session token of the user.
func (r *UserRepository) ClearSession(ctx context.Context, userID string, at time.Time) error {
	query := `
        UPDATE users
        SET session_token = NULL, updated_at = ?
        WHERE id = ?
    `

	return r.execOne(ctx, "clear session", query, at, userID)
}

// SetResetToken stores a pending reset token, overwriting an older one.
func (r *UserRepository) SetResetToken(ctx context.Context, userID, token string, expires, at time.Time) error {
	query := `
        UPDATE users
        SET reset_token = ?, reset_token_expires = ?, updated_at = ?
        WHERE id = ?
    `

	return r.execOne(ctx, "set reset token", query, token, expires, at, userID)
}

// UpdatePassword stores a new password hash and clears any pending reset token.
func (r *UserRepository) UpdatePassword(ctx context.Context, userID, passwordHash string, at time.Time) error {
	query := `
        UPDATE users
        SET password_hash = ?, reset_token = NULL, reset_token_expires = NULL, updated_at = ?
        WHERE id = ?
    `

	return r.execOne(ctx, "update password", query, passwordHash, at, userID)
}

// RehashPassword replaces the stored hash with an equivalent one in a newer
// format. A pending reset token is kept.
func (r *UserRepository) RehashPassword(ctx context.Context, userID, oldHash, newHash string, at time.Time) error {
	query := `
        UPDATE users
        SET password_hash = ?, updated_at = ?
        WHERE id = ? AND password_hash = ?
    `

	return r.execOne(ctx, "rehash password", query, newHash, at, userID, oldHash)
}

func (r *UserRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("failed to %s: token collision: %w", op, err)
		}
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return apperrors.ErrUserNotFound
	}

	return nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var (
		user          models.User
		sessionToken  sql.NullString
		resetToken    sql.NullString
		resetExpires  sql.NullTime
		lastLoginTime sql.NullTime
	)

	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&sessionToken,
		&resetToken,
		&resetExpires,
		&user.CreatedAt,
		&user.UpdatedAt,
		&lastLoginTime,
	)
	if err != nil {
		return nil, err
	}

	if sessionToken.Valid {
		user.SessionToken = &sessionToken.String
	}
	if resetToken.Valid {
		user.ResetToken = &resetToken.String
	}
	if resetExpires.Valid {
		user.ResetTokenExpires = &resetExpires.Time
	}
	if lastLoginTime.Valid {
		user.LastLogin = &lastLoginTime.Time
	}

	return &user, nil
}
