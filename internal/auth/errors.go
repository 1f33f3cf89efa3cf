package auth

import "errors"

var (
	// ErrStepUpLimit is returned when repeated insufficient_scope challenges
	// exhaust the step-up budget. It always wraps
	// transport.ErrReauthorizationRequired.
	ErrStepUpLimit = errors.New("step-up authorization limit reached")

	// ErrNoClientRegistration is returned when no static client id, client
	// metadata document or registration endpoint is available.
	ErrNoClientRegistration = errors.New("no viable client registration mechanism")

	// ErrStateMismatch is returned when the callback state does not match the
	// one sent with the authorization request.
	ErrStateMismatch = errors.New("state mismatch (CSRF protection)")

	// ErrAuthorizationTimeout is returned when the user does not complete the
	// browser flow in time.
	ErrAuthorizationTimeout = errors.New("authorization timeout")

	// ErrUnknownServer is returned by Manager methods for ids that were never
	// added.
	ErrUnknownServer = errors.New("unknown server")
)
