// Package services provides the noticeboard's business logic.
package services

import (
	"errors"
	"fmt"

	"github.com/oszuidwest/zwfm-noticeboard/internal/apperrors"
	"github.com/oszuidwest/zwfm-noticeboard/internal/repository"
)

// MapRepoError translates repository errors to application-level errors.
// Not-found, duplicate and too-long values keep their meaning; every other backing failure
// becomes a storage error whose detail is kept for the logs only.
func MapRepoError(op string, err error, resource string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, apperrors.NotFound(resource+" not found"))
	}
	if errors.Is(err, repository.ErrDuplicateKey) {
		return fmt.Errorf("%s: %w", op, apperrors.Duplicate(resource+" already exists"))
	}
	if errors.Is(err, repository.ErrDataTooLong) {
		return fmt.Errorf("%s: %w", op,
			apperrors.InvalidField(resource, resource+" contains a value that is too long").WithInternal("%s: %v", op, err))
	}

	return fmt.Errorf("%s: %w", op,
		apperrors.Storage("failed to access "+resource).WithInternal("%s: %v", op, err).Wrap(err))
}
