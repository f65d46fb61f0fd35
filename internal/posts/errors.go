package posts

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to the boundary. Every error returned by Service wraps
// exactly one of them.
var (
	ErrValidation      = errors.New("posts: validation failed")
	ErrUnauthenticated = errors.New("posts: authentication required")
	ErrForbidden       = errors.New("posts: forbidden")
	ErrNotFound        = errors.New("posts: post not found")
	ErrStorage         = errors.New("posts: storage failure")
)

// ErrVoteConflict is returned by stores when optimistic vote updates keep
// losing to concurrent writers.
var ErrVoteConflict = errors.New("posts: vote update conflict")

// ServiceError carries a stable operation.reason code alongside the wrapped error kind.
type ServiceError struct {
	code string
	err  error
}

// Error renders the code followed by the cause.
func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

// Unwrap exposes the error kind and cause to errors.Is.
func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable code, for example posts.vote.not_found.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, kind, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	switch {
	case cause == nil:
		cause = kind
	case !errors.Is(cause, kind):
		cause = fmt.Errorf("%w: %w", kind, cause)
	}
	return &ServiceError{code: code, err: cause}
}
