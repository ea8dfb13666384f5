package identity

import (
	"errors"
	"strings"
)

// Error kinds. Callers match them with errors.Is; the HTTP layer maps them to status codes.
var (
	ErrInvalidInput = errors.New("identity: invalid input")
	ErrNotFound     = errors.New("identity: not found")
	ErrConflict     = errors.New("identity: already exists")
)

// Error carries the store operation, its kind and an optional subject
// ("email", "credential", or a short reason). Subject never holds user data.
type Error struct {
	Op      string
	Kind    error
	Subject string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Subject != "" {
		b.WriteString(" (")
		b.WriteString(e.Subject)
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

func invalid(op, reason string) error { return &Error{Op: op, Kind: ErrInvalidInput, Subject: reason} }

func conflict(op, field string) error { return &Error{Op: op, Kind: ErrConflict, Subject: field} }

func notFound(op string) error { return &Error{Op: op, Kind: ErrNotFound, Subject: "credential"} }

func IsConflict(err error) bool     { return errors.Is(err, ErrConflict) }
func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// Subject returns the subject of the first *Error in err's chain, or "".
func Subject(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Subject
	}
	return ""
}
