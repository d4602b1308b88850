// Package utils provides shared helpers for HTTP handlers: RFC 9457 problem
// responses, success responses, request binding and request ids.
package utils

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ProblemDetail represents an RFC 9457 Problem Details response for HTTP APIs.
// See: https://datatracker.ietf.org/doc/html/rfc9457
type ProblemDetail struct {
	// Type is a URI that identifies the problem type.
	Type string `json:"type"`

	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`

	// Status is the HTTP status code for this occurrence of the problem.
	Status int `json:"status"`

	// Detail is a human-readable explanation specific to this occurrence of the problem.
	Detail string `json:"detail,omitempty"`

	// Instance is a URI that identifies the specific occurrence of the problem.
	Instance string `json:"instance,omitempty"`

	// Timestamp is the time when the problem occurred in ISO 8601 format.
	Timestamp string `json:"timestamp"`

	// Errors contains validation errors for 422 responses.
	Errors []ValidationError `json:"errors,omitempty"`

	// TraceID can be used for request tracing and debugging.
	TraceID string `json:"trace_id,omitempty"`
}

// ValidationError represents a single validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Problem type URIs for common error types
const (
	ProblemTypeValidationError         = "https://noticeboard.api/problems/validation-error"
	ProblemTypeResourceNotFound        = "https://noticeboard.api/problems/resource-not-found"
	ProblemTypeAuthenticationRequired  = "https://noticeboard.api/problems/authentication-required"
	ProblemTypeInsufficientPermissions = "https://noticeboard.api/problems/insufficient-permissions"
	ProblemTypeDuplicateResource       = "https://noticeboard.api/problems/duplicate-resource"
	ProblemTypeUnsupportedFileType     = "https://noticeboard.api/problems/unsupported-file-type"
	ProblemTypePayloadTooLarge         = "https://noticeboard.api/problems/payload-too-large"
	ProblemTypeInternalServerError     = "https://noticeboard.api/problems/internal-server-error"
	ProblemTypeBadRequest              = "https://noticeboard.api/problems/bad-request"
)

// NewProblemDetail creates a new RFC 9457 compliant problem detail response.
func NewProblemDetail(problemType, title string, status int, detail, instance string) *ProblemDetail {
	return &ProblemDetail{
		Type:      problemType,
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  instance,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// NewValidationProblem creates a 422 response for validation errors.
func NewValidationProblem(detail, instance string, errors []ValidationError) *ProblemDetail {
	problem := NewProblemDetail(
		ProblemTypeValidationError,
		"Validation Error",
		http.StatusUnprocessableEntity,
		detail,
		instance,
	)
	problem.Errors = errors
	return problem
}

// NewNotFoundProblem creates a 404 response for missing resources.
func NewNotFoundProblem(resource, instance string) *ProblemDetail {
	return NewProblemDetail(
		ProblemTypeResourceNotFound,
		"Resource Not Found",
		http.StatusNotFound,
		fmt.Sprintf("%s not found", resource),
		instance,
	)
}

// NewAuthenticationProblem creates a 401 response for authentication failures.
func NewAuthenticationProblem(detail, instance string) *ProblemDetail {
	return NewProblemDetail(
		ProblemTypeAuthenticationRequired,
		"Authentication Required",
		http.StatusUnauthorized,
		detail,
		instance,
	)
}

// NewForbiddenProblem creates a 403 response for callers lacking permission.
func NewForbiddenProblem(detail, instance string) *ProblemDetail {
	return NewProblemDetail(
		ProblemTypeInsufficientPermissions,
		"Insufficient Permissions",
		http.StatusForbidden,
		detail,
		instance,
	)
}

// NewInternalServerProblem creates a 500 response for server-side errors.
func NewInternalServerProblem(detail, instance string) *ProblemDetail {
	return NewProblemDetail(
		ProblemTypeInternalServerError,
		"Internal Server Error",
		http.StatusInternalServerError,
		detail,
		instance,
	)
}

// NewBadRequestProblem creates a 400 response for malformed requests.
func NewBadRequestProblem(detail, instance string) *ProblemDetail {
	return NewProblemDetail(
		ProblemTypeBadRequest,
		"Bad Request",
		http.StatusBadRequest,
		detail,
		instance,
	)
}

// WithTraceID adds a trace ID to the problem detail.
func (p *ProblemDetail) WithTraceID(traceID string) *ProblemDetail {
	p.TraceID = traceID
	return p
}

// SendProblem sends an RFC 9457 problem details response.
func SendProblem(c *gin.Context, problem *ProblemDetail) {
	// Set the correct content type for RFC 9457
	c.Header("Content-Type", "application/problem+json")

	// Set the instance if not already set
	if problem.Instance == "" {
		problem.Instance = c.Request.URL.Path
	}
	if problem.TraceID == "" {
		problem.TraceID = getTraceID(c)
	}

	c.JSON(problem.Status, problem)
}

// RFC 9457 Problem Details compatible error response functions.

// ProblemValidationError responds with HTTP 422 for input validation failures.
func ProblemValidationError(c *gin.Context, detail string, errors []ValidationError) {
	SendProblem(c, NewValidationProblem(detail, c.Request.URL.Path, errors))
}

// ProblemNotFound responds with HTTP 404 Not Found.
func ProblemNotFound(c *gin.Context, resource string) {
	SendProblem(c, NewNotFoundProblem(resource, c.Request.URL.Path))
}

// ProblemAuthentication responds with HTTP 401 Unauthorized.
// Per RFC 7235, includes WWW-Authenticate header.
func ProblemAuthentication(c *gin.Context, detail string) {
	c.Header("WWW-Authenticate", `Session realm="Noticeboard"`)
	SendProblem(c, NewAuthenticationProblem(detail, c.Request.URL.Path))
}

// ProblemDuplicate responds with HTTP 409 Conflict for unique constraint violations.
func ProblemDuplicate(c *gin.Context, resource string) {
	SendProblem(c, NewProblemDetail(
		ProblemTypeDuplicateResource,
		"Duplicate Resource",
		http.StatusConflict,
		fmt.Sprintf("%s already exists", resource),
		c.Request.URL.Path,
	))
}

// ProblemForbidden responds with HTTP 403 Forbidden.
func ProblemForbidden(c *gin.Context, detail string) {
	SendProblem(c, NewForbiddenProblem(detail, c.Request.URL.Path))
}

// ProblemInternalServer responds with HTTP 500 Internal Server Error.
func ProblemInternalServer(c *gin.Context, detail string) {
	SendProblem(c, NewInternalServerProblem(detail, c.Request.URL.Path))
}

// ProblemBadRequest responds with HTTP 400 Bad Request.
func ProblemBadRequest(c *gin.Context, detail string) {
	SendProblem(c, NewBadRequestProblem(detail, c.Request.URL.Path))
}

// ProblemPayloadTooLarge responds with HTTP 413 for request bodies over limit bytes.
func ProblemPayloadTooLarge(c *gin.Context, limit int64) {
	SendProblem(c, NewProblemDetail(
		ProblemTypePayloadTooLarge,
		"Payload Too Large",
		http.StatusRequestEntityTooLarge,
		fmt.Sprintf("Upload exceeds the limit of %d bytes", limit),
		c.Request.URL.Path,
	))
}

// ProblemCustom responds with a custom problem type.
func ProblemCustom(c *gin.Context, problemType, title string, status int, detail string) {
	SendProblem(c, NewProblemDetail(problemType, title, status, detail, c.Request.URL.Path))
}

// getTraceID extracts the trace ID from the Gin context.
func getTraceID(c *gin.Context) string {
	if traceID, exists := c.Get(TraceIDKey); exists {
		if id, ok := traceID.(string); ok {
			return id
		}
	}
	return ""
}
