package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// AuthError indicates the provider rejected the access token (401).
// It is returned by provider adapters; the pass engine decides whether
// a refresh-and-retry is still available for this credential.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("provider auth error (%d): %s", e.StatusCode, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an
// AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// CursorInvalidError indicates the change-stream cursor itself is no
// longer honored by the provider. The caller re-baselines; this is not
// a retryable failure.
type CursorInvalidError struct {
	Cursor string
}

func (e *CursorInvalidError) Error() string {
	return fmt.Sprintf("history cursor %q invalid or expired", e.Cursor)
}

// IsCursorInvalid reports whether err is a CursorInvalidError.
func IsCursorInvalid(err error) bool {
	var cursorErr *CursorInvalidError
	return errors.As(err, &cursorErr)
}

// NotFoundError indicates a specific entity (message, thread) does not
// exist on the provider side.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nfErr *NotFoundError
	return errors.As(err, &nfErr)
}

// IsTransient reports whether err looks like a temporary provider or
// network failure that the next scheduled pass should simply retry.
// Typed auth/cursor/not-found errors are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsAuthError(err) || IsCursorInvalid(err) || IsNotFound(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var srvErr *ServerError
	return errors.As(err, &srvErr)
}

// ServerError wraps a provider-side failure (5xx or rate limiting).
type ServerError struct {
	StatusCode int
	Err        error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("provider server error (%d): %v", e.StatusCode, e.Err)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
