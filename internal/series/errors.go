package series

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the request carried no resolvable team context.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound means the series, deal or merchant does not exist in the
	// caller's team scope.
	ErrNotFound = errors.New("not found")
)

// ValidationError is a field-level invariant violation. It maps to a 400 at
// the API layer and is always raised before any mutation is attempted.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalidf(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
