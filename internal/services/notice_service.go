package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/oszuidwest/zwfm-noticeboard/internal/apperrors"
	"github.com/oszuidwest/zwfm-noticeboard/internal/blobstore"
	"github.com/oszuidwest/zwfm-noticeboard/internal/config"
	"github.com/oszuidwest/zwfm-noticeboard/internal/models"
	"github.com/oszuidwest/zwfm-noticeboard/internal/repository"
	"github.com/oszuidwest/zwfm-noticeboard/internal/validation"
	"github.com/oszuidwest/zwfm-noticeboard/pkg/logger"
)

// Gate decides whether a caller may mutate notices.
type Gate interface {
	IsAdmin(caller models.Caller) bool
}

// Publisher fans a full notice list out to connected viewers.
type Publisher interface {
	Publish(notices []models.Notice) int
}

// BlobWriter is the part of the blob store the service mutates.
type BlobWriter interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	Delete(ctx context.Context, path string) error
}

// Column limits of the notices table, counted in characters.
const (
	MaxTitleLength      = 255
	MaxDepartmentLength = 100
)

// NoticeOptions holds per-deployment notice policy.
type NoticeOptions struct {
	RequireDepartment bool
	BlobDeletePolicy  config.BlobDeletePolicy
}

// NoticeService owns the coupling between a notice row, its media blob and
// the live broadcast. It is the only caller of Publish.
type NoticeService struct {
	notices repository.NoticeRepository
	blobs   BlobWriter
	hub     Publisher
	gate    Gate
	opts    NoticeOptions

	// writeMu orders row mutations with the snapshots published after them
	writeMu sync.Mutex
}

// NewNoticeService creates a new notice service instance.
func NewNoticeService(notices repository.NoticeRepository, blobs BlobWriter, hub Publisher, gate Gate, opts NoticeOptions) *NoticeService {
	if opts.BlobDeletePolicy == "" {
		opts.BlobDeletePolicy = config.BlobDeleteIgnore
	}
	return &NoticeService{
		notices: notices,
		blobs:   blobs,
		hub:     hub,
		gate:    gate,
		opts:    opts,
	}
}

// CreateNoticeRequest contains the data needed to create a new notice.
type CreateNoticeRequest struct {
	Title      string
	Department string
	Filename   string    // original client-side name, used for the extension and the stored name
	Content    io.Reader // nil when no file was uploaded
}

// CreateNotice validates the upload, stores its file, records the notice and
// broadcasts the new board. Nothing is written unless the caller is an admin
// and the request is valid.
func (s *NoticeService) CreateNotice(ctx context.Context, caller models.Caller, req CreateNoticeRequest) (*models.Notice, error) {
	const op = "NoticeService.CreateNotice"

	if err := s.Authorize(caller); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	title := strings.TrimSpace(req.Title)
	department := strings.ToLower(strings.TrimSpace(req.Department))
	switch {
	case title == "":
		return nil, fmt.Errorf("%s: %w", op, apperrors.MissingField("title"))
	case req.Content == nil || req.Filename == "":
		return nil, fmt.Errorf("%s: %w", op, apperrors.MissingField("file"))
	case department == "" && s.opts.RequireDepartment:
		return nil, fmt.Errorf("%s: %w", op, apperrors.MissingField("department"))
	}
	if err := checkLength("title", title, MaxTitleLength); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := checkLength("department", department, MaxDepartmentLength); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ext, ok := validation.Validate(req.Filename)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, apperrors.UnsupportedFileType(fmt.Sprintf(
			"file type not allowed, use one of: %s", strings.Join(validation.AllowedExtensions(), ", "))))
	}

	path, err := s.blobs.Save(ctx, validation.StoredName(req.Filename, ext), req.Content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op,
			apperrors.Storage("failed to store file").WithInternal("save %q: %v", req.Filename, err).Wrap(err))
	}

	s.writeMu.Lock()
	notice, err := s.notices.Insert(ctx, models.NoticeInsert{
		Title:      title,
		FilePath:   path,
		FileType:   ext,
		Department: department,
	})
	if err != nil {
		s.writeMu.Unlock()
		// Blob without a row is tolerated, but only as a leftover of a crash
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), path); delErr != nil && !errors.Is(delErr, blobstore.ErrBlobNotFound) {
			logger.Warn("%s: failed to remove blob %s after insert failure: %v", op, path, delErr)
		}
		return nil, MapRepoError(op, err, "notice")
	}
	s.publishLocked(ctx, op)
	s.writeMu.Unlock()

	logger.Info("Notice %d %q created in %q (%s)", notice.ID, notice.Title, notice.Department, notice.FilePath)
	return notice, nil
}

// DeleteNotice removes the notice, broadcasts the new board and then removes
// its file. A file that is already gone counts as removed.
func (s *NoticeService) DeleteNotice(ctx context.Context, caller models.Caller, id int64) error {
	const op = "NoticeService.DeleteNotice"

	if err := s.Authorize(caller); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.writeMu.Lock()
	removed, err := s.notices.Delete(ctx, id)
	if err != nil {
		s.writeMu.Unlock()
		return MapRepoError(op, err, "notice")
	}
	s.publishLocked(ctx, op)
	s.writeMu.Unlock()

	logger.Info("Notice %d %q deleted", removed.ID, removed.Title)

	err = s.blobs.Delete(context.WithoutCancel(ctx), removed.FilePath)
	if err == nil || errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil
	}
	if s.opts.BlobDeletePolicy == config.BlobDeleteReport {
		return fmt.Errorf("%s: %w", op,
			apperrors.Storage("notice deleted but its file could not be removed").
				WithInternal("delete %s: %v", removed.FilePath, err).Wrap(err))
	}
	logger.Warn("%s: notice %d deleted but blob %s remains: %v", op, removed.ID, removed.FilePath, err)
	return nil
}

// ListNotices returns notices newest first, filtered case-insensitively by department when given.
func (s *NoticeService) ListNotices(ctx context.Context, department *string) ([]models.Notice, error) {
	const op = "NoticeService.ListNotices"

	notices, err := s.notices.List(ctx, department)
	if err != nil {
		return nil, MapRepoError(op, err, "notices")
	}
	return notices, nil
}

// GetNotice returns a single notice.
func (s *NoticeService) GetNotice(ctx context.Context, id int64) (*models.Notice, error) {
	const op = "NoticeService.GetNotice"

	notice, err := s.notices.GetByID(ctx, id)
	if err != nil {
		return nil, MapRepoError(op, err, "notice")
	}
	return notice, nil
}

// Departments returns every department that currently has notices.
func (s *NoticeService) Departments(ctx context.Context) ([]string, error) {
	const op = "NoticeService.Departments"

	departments, err := s.notices.Departments(ctx)
	if err != nil {
		return nil, MapRepoError(op, err, "departments")
	}
	return departments, nil
}

// Authorize returns Unauthorized for anonymous callers and Forbidden for
// users whose role may not change notices.
func (s *NoticeService) Authorize(caller models.Caller) error {
	if caller.Anonymous() {
		return apperrors.Unauthorized("authentication required")
	}
	if !s.gate.IsAdmin(caller) {
		return apperrors.Forbidden("only administrators can change notices")
	}
	return nil
}

// publishLocked broadcasts the full board. The caller holds writeMu.
// Failures are logged and never fail the mutation.
func (s *NoticeService) publishLocked(ctx context.Context, op string) {
	notices, err := s.notices.List(context.WithoutCancel(ctx), nil)
	if err != nil {
		logger.Error("%s: failed to load snapshot for broadcast: %v", op, err)
		return
	}
	n := s.hub.Publish(notices)
	logger.Debug("%s: snapshot of %d notices offered to %d viewers", op, len(notices), n)
}

func checkLength(field, value string, limit int) error {
	if utf8.RuneCountInString(value) > limit {
		return apperrors.InvalidField(field, fmt.Sprintf("%s must be at most %d characters", field, limit))
	}
	return nil
}
