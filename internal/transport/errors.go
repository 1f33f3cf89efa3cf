package transport

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrClosed is returned when sending on a closed transport.
	ErrClosed = errors.New("transport closed")

	// ErrSessionExpired is returned when the server answers 404 to a request
	// carrying a session id. The session id and event cursor are cleared.
	// Any 404 is taken as expiry, even one caused by a wrong endpoint path.
	ErrSessionExpired = errors.New("session expired")

	// ErrUnauthorized matches 401 failures that could not be recovered.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden matches 403 failures.
	ErrForbidden = errors.New("forbidden")

	// ErrReauthorizationRequired means automatic recovery was exhausted and
	// the user has to authorize again.
	ErrReauthorizationRequired = errors.New("re-authorization required")
)

// AuthError is an HTTP authorization failure.
type AuthError struct {
	StatusCode int
	Challenge  string
	Err        error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("authorization failed: HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if e.Challenge != "" {
		msg += fmt.Sprintf(" (WWW-Authenticate: %s)", e.Challenge)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches ErrUnauthorized for 401 and ErrForbidden for 403.
func (e *AuthError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	}
	return false
}

func (e *AuthError) Unwrap() error { return e.Err }

// StatusError is an unexpected non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected HTTP status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("unexpected HTTP status %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}
