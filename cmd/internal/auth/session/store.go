package session

import (
	"context"
	"time"
)

// Record is one stored refresh token. The raw token is never stored, only its digest.
type Record struct {
	ID         string
	UserID     string
	TokenHash  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	LastUsedAt *time.Time
}

// Active reports whether the record can still be redeemed at now.
func (r Record) Active(now time.Time) bool {
	return r.RevokedAt == nil && r.ExpiresAt.After(now)
}

// Store persists refresh-token records.
//
// Replace and Rotate are each one atomic unit of work, serialized per user, so no observer
// ever sees zero or two active records for a user between them.
type Store interface {
	// Replace revokes every non-revoked record of rec.UserID and inserts rec.
	Replace(ctx context.Context, now time.Time, rec Record) error

	// Rotate finds the active record with tokenHash, marks it revoked and used, and inserts the
	// successor built by next for the same user. It returns the consumed record, or
	// ErrRecordNotFound when nothing active matches. An error from next aborts the rotation.
	Rotate(ctx context.Context, now time.Time, tokenHash string, next func(userID string) (Record, error)) (Record, error)

	// RevokeAll revokes every non-revoked record of userID and returns how many changed.
	RevokeAll(ctx context.Context, now time.Time, userID string) (int64, error)

	// DeleteInactive removes records that are revoked or expired at now.
	DeleteInactive(ctx context.Context, now time.Time) (int64, error)

	// ListByUser returns every stored record of userID, oldest first.
	ListByUser(ctx context.Context, userID string) ([]Record, error)
}
