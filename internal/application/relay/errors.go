package relay

import (
	"errors"
	"fmt"
)

var (
	ErrUpstreamNotConfigured = errors.New("Server Config Error: Missing GEMINI_API_KEY")
	ErrStoreNotConfigured    = errors.New("Server Config Error: result store not configured")
)

// ValidationError marks a request the client must fix; it maps to HTTP 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
