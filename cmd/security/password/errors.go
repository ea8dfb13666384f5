package password

import "errors"

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
	ErrInvalidHash      = errors.New("invalid password hash")
	ErrInvalidConfig    = errors.New("invalid password config")
)

// VerificationError reports a stored hash that could not be used for verification.
// Callers treat it as a failed verification, never as a crash.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	if e.Reason == "" {
		return ErrInvalidHash.Error()
	}
	return ErrInvalidHash.Error() + ": " + e.Reason
}

func (e *VerificationError) Unwrap() error { return ErrInvalidHash }

func malformed(reason string) error {
	return &VerificationError{Reason: reason}
}
