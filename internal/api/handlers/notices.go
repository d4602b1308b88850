package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/oszuidwest/zwfm-noticeboard/internal/auth"
	"github.com/oszuidwest/zwfm-noticeboard/internal/services"
	"github.com/oszuidwest/zwfm-noticeboard/internal/utils"
	"github.com/oszuidwest/zwfm-noticeboard/pkg/logger"
)

// maxMultipartMemory is how much of an upload is buffered in memory before
// spilling to a temporary file.
const maxMultipartMemory = 32 << 20

// ListNotices returns all notices newest first, or only those of the
// department given in the query string.
func (h *Handlers) ListNotices(c *gin.Context) {
	h.listNotices(c, departmentQuery(c))
}

// ListDepartmentNotices returns the feed of the department in the path.
func (h *Handlers) ListDepartmentNotices(c *gin.Context) {
	department := c.Param("department")
	h.listNotices(c, &department)
}

func (h *Handlers) listNotices(c *gin.Context, department *string) {
	notices, err := h.noticeSvc.ListNotices(c.Request.Context(), department)
	if err != nil {
		handleServiceError(c, err, "Notices")
		return
	}
	utils.List(c, toNoticeResponses(notices), len(notices))
}

// GetNotice returns a single notice by ID.
func (h *Handlers) GetNotice(c *gin.Context) {
	id, ok := getIDParam(c)
	if !ok {
		return
	}

	notice, err := h.noticeSvc.GetNotice(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err, "Notice")
		return
	}
	utils.Success(c, toNoticeResponse(*notice))
}

// ListDepartments returns every department that currently has notices.
func (h *Handlers) ListDepartments(c *gin.Context) {
	departments, err := h.noticeSvc.Departments(c.Request.Context())
	if err != nil {
		handleServiceError(c, err, "Departments")
		return
	}
	utils.List(c, departments, len(departments))
}

// CreateNotice accepts a multipart upload with title, department and file fields.
// The caller is authorized before the body is read. Returns 201 Created with
// the notice and its Location.
func (h *Handlers) CreateNotice(c *gin.Context) {
	caller := auth.CallerFromContext(c)
	if err := h.noticeSvc.Authorize(caller); err != nil {
		handleServiceError(c, err, "Notice")
		return
	}

	if err := c.Request.ParseMultipartForm(maxMultipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		h.badUpload(c, err)
		return
	}
	defer func() {
		if c.Request.MultipartForm != nil {
			_ = c.Request.MultipartForm.RemoveAll()
		}
	}()

	req := services.CreateNoticeRequest{
		Title:      c.PostForm("title"),
		Department: c.PostForm("department"),
	}

	file, header, err := c.Request.FormFile("file")
	switch {
	case err == nil:
		defer func() {
			if cerr := file.Close(); cerr != nil {
				logger.Warn("Failed to close uploaded file: %v", cerr)
			}
		}()
		req.Filename = header.Filename
		req.Content = file
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		// Reported by the service as a missing field
	default:
		h.badUpload(c, err)
		return
	}

	notice, err := h.noticeSvc.CreateNotice(c.Request.Context(), caller, req)
	if err != nil {
		handleServiceError(c, err, "Notice")
		return
	}

	utils.CreatedWithLocation(c, notice.ID, "/api/v1/notices", toNoticeResponse(*notice))
}

func (h *Handlers) badUpload(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		utils.ProblemPayloadTooLarge(c, tooLarge.Limit)
		return
	}
	logger.Warn("Rejected malformed upload: %v", err)
	utils.ProblemBadRequest(c, "Invalid multipart form")
}

// DeleteNotice removes a notice and its file. Returns 204 No Content.
func (h *Handlers) DeleteNotice(c *gin.Context) {
	id, ok := getIDParam(c)
	if !ok {
		return
	}

	if err := h.noticeSvc.DeleteNotice(c.Request.Context(), auth.CallerFromContext(c), id); err != nil {
		handleServiceError(c, err, "Notice")
		return
	}
	utils.NoContent(c)
}

// departmentQuery returns the ?department= filter, or nil when absent or blank.
func departmentQuery(c *gin.Context) *string {
	department, ok := c.GetQuery("department")
	if !ok || strings.TrimSpace(department) == "" {
		return nil
	}
	return &department
}
