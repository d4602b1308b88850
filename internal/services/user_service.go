package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/oszuidwest/zwfm-noticeboard/internal/apperrors"
	"github.com/oszuidwest/zwfm-noticeboard/internal/models"
	"github.com/oszuidwest/zwfm-noticeboard/internal/repository"
	"github.com/oszuidwest/zwfm-noticeboard/pkg/logger"
)

// UserService handles user-related business logic
type UserService struct {
	users repository.UserRepository
}

// NewUserService creates a new user service instance
func NewUserService(users repository.UserRepository) *UserService {
	return &UserService{
		users: users,
	}
}

// Create creates a new local user account with a bcrypt password hash.
func (s *UserService) Create(ctx context.Context, username, fullName, email, password, role string) (*models.User, error) {
	const op = "UserService.Create"

	username = strings.TrimSpace(username)
	switch {
	case username == "":
		return nil, fmt.Errorf("%s: %w", op, apperrors.MissingField("username"))
	case password == "":
		return nil, fmt.Errorf("%s: %w", op, apperrors.MissingField("password"))
	case !isValidRole(role):
		return nil, fmt.Errorf("%s: %w", op, apperrors.MissingField("role").WithInternal("invalid role %q", role))
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to hash password: %w", op, err)
	}

	// Empty email is stored as NULL so the unique index allows many
	var emailValue *string
	if email != "" {
		emailValue = &email
	}

	user, err := s.users.Create(ctx, username, fullName, emailValue, string(hashedPassword), role)
	if err != nil {
		return nil, MapRepoError(op, err, "user")
	}
	return user, nil
}

// EnsureAdmin creates the bootstrap administrator unless a user with that name exists.
// It reports whether a user was created.
func (s *UserService) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	const op = "UserService.EnsureAdmin"

	if username == "" || password == "" {
		return false, nil
	}

	_, err := s.users.GetByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return false, MapRepoError(op, err, "user")
	}

	if _, err := s.Create(ctx, username, "Administrator", "", password, models.RoleAdmin); err != nil {
		return false, err
	}
	logger.Info("Created bootstrap administrator %q", username)
	return true, nil
}

func isValidRole(role string) bool {
	switch role {
	case models.RoleAdmin, models.RoleEditor, models.RoleViewer:
		return true
	}
	return false
}
