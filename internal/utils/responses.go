package utils

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// MessageResponse represents a simple message response (typed alternative to gin.H).
type MessageResponse struct {
	Message string `json:"message"`
}

// ListResponse wraps a collection so the top-level JSON value is always an object.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// Success responds with HTTP 200 OK status and the provided data.
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// List responds with HTTP 200 OK and a ListResponse.
func List(c *gin.Context, data any, total int) {
	c.JSON(http.StatusOK, ListResponse{Data: data, Total: total})
}

// NoContent responds with HTTP 204 No Content.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// CreatedWithLocation responds with HTTP 201 Created, the created resource as
// body and a Location header per RFC 7231.
// The resourcePath should be the base path (e.g., "/api/v1/notices"), the ID will be appended.
func CreatedWithLocation(c *gin.Context, id int64, resourcePath string, body any) {
	c.Header("Location", fmt.Sprintf("%s/%d", resourcePath, id))
	c.JSON(http.StatusCreated, body)
}
