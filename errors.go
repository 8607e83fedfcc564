package driftline

import (
	"errors"

	"github.com/driftline-labs/driftline-go/internal/transport"
)

var (
	// ErrMissingProjectAPIKey is returned by New when no
	// WithProjectAPIKey option was supplied.
	ErrMissingProjectAPIKey = errors.New("driftline: ProjectAPIKey is required")

	// ErrInvalidPort is returned by New when an admin or webhook port
	// is outside 1-65535.
	ErrInvalidPort = errors.New("driftline: port must be between 1 and 65535")

	// ErrMissingEventName is returned by Capture when args.Event is empty.
	ErrMissingEventName = errors.New("driftline: event name is required")

	// ErrMissingDistinctID is returned by Capture, Identify,
	// GetFeatureFlag, and friends when distinctID is empty.
	ErrMissingDistinctID = errors.New("driftline: distinct ID is required")

	// ErrNoSnapshot is returned by flag evaluation calls made with
	// WithOnlyEvaluateLocally before the Flag Definition Loader has
	// fetched its first snapshot.
	ErrNoSnapshot = errors.New("driftline: no local flag snapshot available yet")

	// ErrClosed is returned by Capture and friends once Close has been
	// called.
	ErrClosed = errors.New("driftline: client is closed")
)

// APIError wraps a non-2xx, non-404, non-401/403 response from the
// backend. Aliased from the transport package so callers don't need
// to import it directly.
type APIError = transport.APIError

// UnauthorizedError is returned for a 401/403 response.
type UnauthorizedError = transport.UnauthorizedError

// NotFoundError is returned for a 404 response.
type NotFoundError = transport.NotFoundError

// IsUnauthorized reports whether err (or a wrapped cause) is an
// UnauthorizedError.
func IsUnauthorized(err error) bool {
	var target *UnauthorizedError
	return errors.As(err, &target)
}

// IsNotFound reports whether err (or a wrapped cause) is a
// NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsAPIError reports whether err (or a wrapped cause) is a structured
// APIError, and returns it.
func IsAPIError(err error) (*APIError, bool) {
	var target *APIError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
