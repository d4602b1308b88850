package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/oszuidwest/zwfm-noticeboard/internal/models"
)

// NoticeRepository is the authoritative collection of notices. There is no update operation.
type NoticeRepository interface {
	Insert(ctx context.Context, n models.NoticeInsert) (*models.Notice, error)
	// Delete removes the notice and returns the removed record, or ErrNotFound.
	Delete(ctx context.Context, id int64) (*models.Notice, error)
	GetByID(ctx context.Context, id int64) (*models.Notice, error)
	// List returns notices newest first; a nil department returns every notice,
	// otherwise only those whose department matches case-insensitively.
	List(ctx context.Context, department *string) ([]models.Notice, error)
	IsFileReferenced(ctx context.Context, filePath string) (bool, error)
	// Departments returns the distinct non-empty departments in alphabetical order.
	Departments(ctx context.Context) ([]string, error)
}

// Clock supplies insert timestamps.
type Clock func() time.Time

// noticeRepository implements NoticeRepository.
type noticeRepository struct {
	*BaseRepository[models.Notice]
	now Clock
}

// NewNoticeRepository creates a new notice repository stamping rows with the wall clock.
func NewNoticeRepository(db *sqlx.DB) NoticeRepository {
	return NewNoticeRepositoryWithClock(db, time.Now)
}

// NewNoticeRepositoryWithClock creates a notice repository with an injectable clock.
func NewNoticeRepositoryWithClock(db *sqlx.DB, now Clock) NoticeRepository {
	return &noticeRepository{
		BaseRepository: NewBaseRepository[models.Notice](db, "notices"),
		now:            now,
	}
}

// Insert stores a new notice and returns it with its assigned id and creation time.
func (r *noticeRepository) Insert(ctx context.Context, n models.NoticeInsert) (*models.Notice, error) {
	q := r.getQueryable(ctx)

	createdAt := r.now().UTC()
	result, err := q.ExecContext(ctx,
		q.Rebind("INSERT INTO notices (title, file_path, file_type, department, created_at) VALUES (?, ?, ?, ?, ?)"),
		n.Title, n.FilePath, n.FileType, n.Department, createdAt,
	)
	if err != nil {
		return nil, ParseDBError(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &models.Notice{
		ID:         id,
		Title:      n.Title,
		FilePath:   n.FilePath,
		FileType:   n.FileType,
		Department: n.Department,
		CreatedAt:  createdAt,
	}, nil
}

// Delete removes a notice inside a transaction and returns what was removed.
func (r *noticeRepository) Delete(ctx context.Context, id int64) (*models.Notice, error) {
	var removed *models.Notice
	err := WithTransaction(ctx, r.db, func(ctx context.Context) error {
		notice, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}

		q := r.getQueryable(ctx)
		result, err := q.ExecContext(ctx, q.Rebind("DELETE FROM notices WHERE id = ?"), id)
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

		removed = notice
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// List returns notices ordered newest first, optionally filtered by department.
func (r *noticeRepository) List(ctx context.Context, department *string) ([]models.Notice, error) {
	q := r.getQueryable(ctx)

	query := "SELECT * FROM notices"
	var args []any
	if department != nil {
		query += " WHERE LOWER(department) = LOWER(?)"
		args = append(args, *department)
	}
	query += " ORDER BY created_at DESC, id DESC"

	notices := []models.Notice{}
	if err := q.SelectContext(ctx, &notices, q.Rebind(query), args...); err != nil {
		return nil, ParseDBError(err)
	}
	return notices, nil
}

// IsFileReferenced reports whether any notice points at filePath.
func (r *noticeRepository) IsFileReferenced(ctx context.Context, filePath string) (bool, error) {
	return r.ExistsBy(ctx, "file_path = ?", filePath)
}

// Departments returns the distinct non-empty departments.
func (r *noticeRepository) Departments(ctx context.Context) ([]string, error) {
	q := r.getQueryable(ctx)

	departments := []string{}
	err := q.SelectContext(ctx, &departments,
		"SELECT DISTINCT department FROM notices WHERE department <> '' ORDER BY department")
	if err != nil {
		return nil, ParseDBError(err)
	}
	return departments, nil
}
