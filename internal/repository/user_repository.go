package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/oszuidwest/zwfm-noticeboard/internal/models"
)

// UserRepository defines the interface for user data access.
type UserRepository interface {
	Create(ctx context.Context, username, fullName string, email *string, passwordHash, role string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	IsUsernameTaken(ctx context.Context, username string) (bool, error)

	// RecordLoginSuccess resets the failed attempt counter and bumps the login count.
	RecordLoginSuccess(ctx context.Context, id int64) error
	// RecordLoginFailure increments the failed attempt counter.
	RecordLoginFailure(ctx context.Context, id int64) error
}

// userRepository implements UserRepository.
type userRepository struct {
	*BaseRepository[models.User]
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{
		BaseRepository: NewBaseRepository[models.User](db, "users"),
	}
}

// Create inserts a new user and returns the created record.
func (r *userRepository) Create(ctx context.Context, username, fullName string, email *string, passwordHash, role string) (*models.User, error) {
	q := r.getQueryable(ctx)

	result, err := q.ExecContext(ctx,
		q.Rebind("INSERT INTO users (username, full_name, email, password_hash, role) VALUES (?, ?, ?, ?, ?)"),
		username, fullName, email, passwordHash, role,
	)
	if err != nil {
		return nil, ParseDBError(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return r.GetByID(ctx, id)
}

// GetByUsername retrieves a user by username.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getBy(ctx, "username = ?", username)
}

// GetByEmail retrieves a user by email address.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getBy(ctx, "email = ?", email)
}

func (r *userRepository) getBy(ctx context.Context, condition string, arg any) (*models.User, error) {
	q := r.getQueryable(ctx)

	var user models.User
	if err := q.GetContext(ctx, &user, q.Rebind("SELECT * FROM users WHERE "+condition), arg); err != nil {
		return nil, ParseDBError(err)
	}
	return &user, nil
}

// IsUsernameTaken checks if username is in use.
func (r *userRepository) IsUsernameTaken(ctx context.Context, username string) (bool, error) {
	return r.ExistsBy(ctx, "username = ?", username)
}

// RecordLoginSuccess updates login bookkeeping after a successful authentication.
func (r *userRepository) RecordLoginSuccess(ctx context.Context, id int64) error {
	return r.exec(ctx,
		"UPDATE users SET last_login_at = CURRENT_TIMESTAMP, login_count = login_count + 1, failed_login_attempts = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		id)
}

// RecordLoginFailure updates login bookkeeping after a rejected password.
func (r *userRepository) RecordLoginFailure(ctx context.Context, id int64) error {
	return r.exec(ctx,
		"UPDATE users SET failed_login_attempts = failed_login_attempts + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		id)
}

func (r *userRepository) exec(ctx context.Context, query string, id int64) error {
	q := r.getQueryable(ctx)

	result, err := q.ExecContext(ctx, q.Rebind(query), id)
	if err != nil {
		return ParseDBError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return ParseDBError(err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
