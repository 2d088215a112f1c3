package aem

import (
	"errors"
	"fmt"
)

// AuthError means token acquisition or refresh failed, or a call was retried
// after a 401 and rejected again.
type AuthError struct {
	Reason     string
	HTTPStatus int
}

func (e *AuthError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("authentication failed: %s (status %d)", e.Reason, e.HTTPStatus)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// NotFoundError means the path or asset does not exist upstream. Callers can
// rely on this to distinguish "empty folder" from "no such folder".
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

// ForbiddenError means the call was authenticated but not authorized.
type ForbiddenError struct {
	Path string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Path)
}

// TimeoutError means an outbound call exceeded its deadline. It is not
// retried automatically.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout during %s", e.Op)
}

// UpstreamError carries any other non-2xx response from AEM.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: status %d: %s", e.Status, e.Body)
}

// ValidationError means a caller-supplied argument failed a precondition.
// It is raised before any network call is attempted.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// ErrorKind returns the taxonomy name for err, used in bulk failure reports
// and tool responses.
func ErrorKind(err error) string {
	var (
		authErr      *AuthError
		notFound     *NotFoundError
		forbidden    *ForbiddenError
		timeout      *TimeoutError
		upstream     *UpstreamError
		invalidInput *ValidationError
	)
	switch {
	case errors.As(err, &authErr):
		return "AuthError"
	case errors.As(err, &notFound):
		return "NotFoundError"
	case errors.As(err, &forbidden):
		return "ForbiddenError"
	case errors.As(err, &timeout):
		return "TimeoutError"
	case errors.As(err, &upstream):
		return "UpstreamError"
	case errors.As(err, &invalidInput):
		return "ValidationError"
	default:
		return "UnknownError"
	}
}
