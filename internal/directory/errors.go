package directory

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when live access is requested without credentials.
var ErrNotConfigured = errors.New("directory credentials are not configured")

// AuthError reports a failed credential acquisition against the identity provider.
type AuthError struct {
	// Status is the HTTP status of the token endpoint response, when known.
	Status int
	// Body is the token endpoint response body, when known.
	Body string
	// Err is the underlying cause.
	Err error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("directory auth failed: status %d: %s", e.Status, e.Body)
	}

	return fmt.Sprintf("directory auth failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RequestError reports a non-retryable request failure against the directory API.
type RequestError struct {
	// Status is the HTTP status code of the failed request.
	Status int
	// Body is the response body returned with the failure.
	Body string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("directory request failed: status %d: %s", e.Status, e.Body)
}
