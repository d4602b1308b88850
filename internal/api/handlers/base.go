// Package handlers provides HTTP request handlers for all API endpoints.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oszuidwest/zwfm-noticeboard/internal/apperrors"
	"github.com/oszuidwest/zwfm-noticeboard/internal/blobstore"
	"github.com/oszuidwest/zwfm-noticeboard/internal/broadcast"
	"github.com/oszuidwest/zwfm-noticeboard/internal/services"
	"github.com/oszuidwest/zwfm-noticeboard/internal/utils"
	"github.com/oszuidwest/zwfm-noticeboard/pkg/logger"
)

// Streamer registers live viewers.
type Streamer interface {
	Subscribe(ctx context.Context, conn broadcast.Connection, department *string) (*broadcast.Subscription, error)
	Unsubscribe(id uint64)
}

// Options tunes handler behaviour per deployment.
type Options struct {
	// UploadPrefix is the first segment of stored paths and of the public file URLs.
	UploadPrefix string
	// Heartbeat is the interval of SSE keepalive comments; zero disables them.
	Heartbeat time.Duration
	// WriteTimeout bounds each SSE write; zero means no deadline.
	WriteTimeout time.Duration
}

// Handlers contains all the dependencies needed by the API handlers.
type Handlers struct {
	noticeSvc *services.NoticeService
	userSvc   *services.UserService
	streams   Streamer
	blobs     blobstore.Store
	opts      Options
}

// NewHandlers creates a new Handlers instance with all required dependencies.
func NewHandlers(
	noticeSvc *services.NoticeService,
	userSvc *services.UserService,
	streams Streamer,
	blobs blobstore.Store,
	opts Options,
) *Handlers {
	return &Handlers{
		noticeSvc: noticeSvc,
		userSvc:   userSvc,
		streams:   streams,
		blobs:     blobs,
		opts:      opts,
	}
}

// handleServiceError converts apperrors.Error to appropriate HTTP responses.
// Internal error details are logged but never exposed to clients.
func handleServiceError(c *gin.Context, err error, resource string) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		logger.Error("Unhandled error for %s: %v", resource, err)
		utils.ProblemInternalServer(c, fmt.Sprintf("Failed to process %s", resource))
		return
	}

	if appErr.Internal != "" {
		logger.Error("%s error: %s (internal: %s)", resource, appErr.Message, appErr.Internal)
	}
	if appErr.Err != nil {
		logger.Error("%s underlying error: %v", resource, appErr.Err)
	}

	switch appErr.Code {
	case apperrors.CodeUnauthorized:
		utils.ProblemAuthentication(c, appErr.Message)
	case apperrors.CodeForbidden:
		utils.ProblemForbidden(c, appErr.Message)
	case apperrors.CodeMissingField:
		utils.ProblemValidationError(c, "The request contains invalid data", []utils.ValidationError{
			{Field: appErr.Field, Message: appErr.Message},
		})
	case apperrors.CodeUnsupportedFileType:
		utils.ProblemCustom(c, utils.ProblemTypeUnsupportedFileType, "Unsupported File Type", 400, appErr.Message)
	case apperrors.CodeNotFound:
		utils.ProblemNotFound(c, resource)
	case apperrors.CodeDuplicate:
		utils.ProblemDuplicate(c, resource)
	default:
		utils.ProblemInternalServer(c, appErr.Message)
	}
}

// getIDParam parses the :id route parameter, responding with 400 when it is not a positive integer.
func getIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		utils.ProblemBadRequest(c, "Invalid ID")
		return 0, false
	}
	return id, true
}
