// Package apperrors provides typed error handling for the noticeboard.
// It uses struct-based errors with separate user-safe and internal messages.
package apperrors

import "fmt"

// Code categorizes errors for consistent handling across the application.
type Code int

// Error codes for categorizing application errors.
const (
	// CodeUnknown indicates an unspecified error type
	CodeUnknown Code = iota
	// CodeUnauthorized indicates the caller is not an authenticated administrator
	CodeUnauthorized
	// CodeForbidden indicates an authenticated caller whose role lacks permission
	CodeForbidden
	// CodeMissingField indicates a required input was blank or absent
	CodeMissingField
	// CodeUnsupportedFileType indicates an upload whose extension is not allowed
	CodeUnsupportedFileType
	// CodeNotFound indicates a requested resource does not exist
	CodeNotFound
	// CodeStorage indicates a blob store or notice store failure
	CodeStorage
	// CodeDuplicate indicates a unique value that is already taken
	CodeDuplicate
)

// Error represents a domain error with separate user-safe and internal messages.
// The Message field is always safe to expose to clients.
// The Internal field contains debugging details and should only be logged.
type Error struct {
	Code     Code   // Error category for handler mapping
	Message  string // User-safe message (always exposable)
	Internal string // Internal details (for logging only)
	Field    string // Optional: which field caused the error
	Err      error  // Wrapped underlying error
}

// Error implements the error interface.
// Returns the user-safe message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithInternal adds internal debugging details to the error.
func (e *Error) WithInternal(format string, args ...any) *Error {
	e.Internal = fmt.Sprintf(format, args...)
	return e
}

// WithField adds field information to the error.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// Wrap wraps an underlying error.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// String returns the string representation of the error code.
func (c Code) String() string {
	switch c {
	case CodeUnknown:
		return "unknown"
	case CodeUnauthorized:
		return "unauthorized"
	case CodeForbidden:
		return "forbidden"
	case CodeMissingField:
		return "missing_field"
	case CodeUnsupportedFileType:
		return "unsupported_file_type"
	case CodeNotFound:
		return "not_found"
	case CodeStorage:
		return "storage"
	case CodeDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("unknown_code_%d", c)
	}
}

// Is reports whether target matches this error's code. A Forbidden error
// also matches ErrUnauthorized: the caller is known but still not allowed.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Code == CodeForbidden && t.Code == CodeUnauthorized {
		return true
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is checks. Compare by code only; never mutate them.
var (
	ErrUnauthorized        = &Error{Code: CodeUnauthorized, Message: "authentication required"}
	ErrForbidden           = &Error{Code: CodeForbidden, Message: "insufficient permissions"}
	ErrMissingField        = &Error{Code: CodeMissingField, Message: "missing required field"}
	ErrUnsupportedFileType = &Error{Code: CodeUnsupportedFileType, Message: "unsupported file type"}
	ErrNotFound            = &Error{Code: CodeNotFound, Message: "not found"}
	ErrStorage             = &Error{Code: CodeStorage, Message: "storage failure"}
	ErrDuplicate           = &Error{Code: CodeDuplicate, Message: "already exists"}
)

// Unauthorized creates a new unauthorized error with the given message.
func Unauthorized(message string) *Error {
	return &Error{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

// Forbidden creates a new forbidden error with the given message.
func Forbidden(message string) *Error {
	return &Error{
		Code:    CodeForbidden,
		Message: message,
	}
}

// MissingField creates a missing field error naming the offending input.
func MissingField(field string) *Error {
	return &Error{
		Code:    CodeMissingField,
		Message: fmt.Sprintf("%s is required", field),
		Field:   field,
	}
}

// InvalidField creates a field error for input that is present but unusable,
// such as a value longer than its column. It shares the MissingField code.
func InvalidField(field, message string) *Error {
	return &Error{
		Code:    CodeMissingField,
		Message: message,
		Field:   field,
	}
}

// UnsupportedFileType creates an error for an upload with a disallowed extension.
func UnsupportedFileType(message string) *Error {
	return &Error{
		Code:    CodeUnsupportedFileType,
		Message: message,
		Field:   "file",
	}
}

// NotFound creates a new not found error with the given message.
func NotFound(message string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: message,
	}
}

// Storage creates a new storage error with the given message.
func Storage(message string) *Error {
	return &Error{
		Code:    CodeStorage,
		Message: message,
	}
}

// Duplicate creates an error for a unique value that is already in use.
func Duplicate(message string) *Error {
	return &Error{
		Code:    CodeDuplicate,
		Message: message,
	}
}
