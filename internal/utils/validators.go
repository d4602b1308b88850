package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// InitializeValidators registers custom validation rules with Gin's binding engine.
// Must be called during application startup to enable custom validation tags.
// Panics if validator registration fails, as this is a critical configuration error.
func InitializeValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		// notblank rejects empty and whitespace-only strings
		if err := v.RegisterValidation("notblank", notBlankValidator); err != nil {
			panic(fmt.Sprintf("Failed to register notblank validator: %v", err))
		}
	}
}

// notBlankValidator validates that a string field is not empty or whitespace-only.
// More strict than the standard required validator which allows whitespace.
func notBlankValidator(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// BindAndValidate binds a JSON body and responds with a problem when it is malformed or invalid.
func BindAndValidate(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			ProblemValidationError(c, "The request contains invalid data", formatValidationErrors(validationErrors))
		} else {
			ProblemBadRequest(c, "Invalid JSON format")
		}
		return false
	}
	return true
}

// formatValidationErrors converts validation errors to developer-friendly messages
func formatValidationErrors(validationErrors validator.ValidationErrors) []ValidationError {
	out := make([]ValidationError, 0, len(validationErrors))
	for _, e := range validationErrors {
		field := strings.ToLower(e.Field())
		var message string
		switch e.Tag() {
		case "required", "notblank":
			message = fmt.Sprintf("%s is required", field)
		case "max":
			message = fmt.Sprintf("%s cannot exceed %s characters", field, e.Param())
		default:
			message = fmt.Sprintf("%s failed validation (%s)", field, e.Tag())
		}
		out = append(out, ValidationError{Field: field, Message: message})
	}
	return out
}
