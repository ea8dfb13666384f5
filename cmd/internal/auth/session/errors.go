package session

import (
	"errors"

	"github.com/Tureluurtje/Pulse/cmd/security/token"
)

var (
	// ErrInvalidCredentials is returned by Login for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrIdentityConflict is returned by Register when the email is already registered.
	ErrIdentityConflict = errors.New("identity already exists")

	// ErrUnauthenticated is the umbrella for every token failure surfaced to callers.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrRecordNotFound is returned by Store.Rotate when no active record matches.
	ErrRecordNotFound = errors.New("refresh token record not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)

// UnauthenticatedError hides the token failure reason from Error() while keeping it reachable
// through errors.Is for logging.
type UnauthenticatedError struct {
	Op    string
	Cause error
}

func (e *UnauthenticatedError) Error() string { return ErrUnauthenticated.Error() }

func (e *UnauthenticatedError) Unwrap() []error {
	return []error{ErrUnauthenticated, e.Cause}
}

// Reason is a log-safe label for the underlying failure.
func (e *UnauthenticatedError) Reason() string {
	switch {
	case errors.Is(e.Cause, token.ErrTokenExpired):
		return "expired"
	case errors.Is(e.Cause, token.ErrTokenInvalid):
		return "invalid"
	default:
		return "error"
	}
}

func unauthenticated(op string, cause error) error {
	return &UnauthenticatedError{Op: op, Cause: cause}
}
