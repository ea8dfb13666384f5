package identity

import (
	"context"
	"strings"
	"time"
)

// Credential is a user's sign-in record.
type Credential struct {
	UserID       string
	Email        string
	EmailNorm    string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateCredentialInput registers a new identity. PasswordHash is already hashed.
type CreateCredentialInput struct {
	Email        string
	PasswordHash string
	Now          time.Time
}

// Store is the credential persistence boundary.
type Store interface {
	// CreateCredential inserts a user and its password hash. A duplicate normalized email
	// returns an error matching ErrConflict.
	CreateCredential(ctx context.Context, in CreateCredentialInput) (Credential, error)

	// CredentialByEmail looks up by normalized email. A miss matches ErrNotFound.
	CredentialByEmail(ctx context.Context, email string) (Credential, error)

	// UpdatePasswordHash replaces the stored hash, e.g. after a parameter upgrade.
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string, now time.Time) error
}

func validateCreate(op string, in CreateCredentialInput) (CreateCredentialInput, error) {
	in.Email = strings.TrimSpace(in.Email)
	if !ValidEmail(in.Email) {
		return in, invalid(op, "invalid email")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return in, invalid(op, "password hash is required")
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, nil
}
