package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tureluurtje/Pulse/cmd/identity/ids"
	"github.com/Tureluurtje/Pulse/cmd/security/token"
)

// maxRefreshTokenLen bounds input before hashing or parsing.
const maxRefreshTokenLen = 4096

// RefreshTokens issues, rotates and revokes refresh tokens.
//
// A refresh token is a signed JWT, but its validity is decided by the digest table: the
// signature only makes the string unguessable.
type RefreshTokens struct {
	store  Store
	codec  *token.Codec
	digest token.Digester
	ttl    time.Duration
	now    func() time.Time
}

// NewRefreshTokens wires the protocol to a store. codec may be the access codec; a
// refresh-only copy is derived from it.
func NewRefreshTokens(store Store, codec *token.Codec, digest token.Digester, ttl time.Duration) *RefreshTokens {
	return &RefreshTokens{
		store:  store,
		codec:  codec.For(token.UseRefresh),
		digest: digest,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue mints a refresh token for userID and makes it the user's only active one.
func (r *RefreshTokens) Issue(ctx context.Context, userID string) (string, Record, error) {
	now := r.now().UTC()

	raw, rec, err := r.mint(userID, now)
	if err != nil {
		return "", Record{}, err
	}
	if err := r.store.Replace(ctx, now, rec); err != nil {
		return "", Record{}, fmt.Errorf("issue refresh token: %w", err)
	}
	return raw, rec, nil
}

// ValidateAndRotate redeems raw and returns its successor and the subject.
//
// Unknown, rotated, revoked and expired tokens all fail with token.ErrTokenInvalid.
func (r *RefreshTokens) ValidateAndRotate(ctx context.Context, raw string) (string, Record, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxRefreshTokenLen {
		return "", Record{}, token.ErrTokenInvalid
	}

	now := r.now().UTC()

	claims, err := r.codec.DecodeAt(raw, now)
	if err != nil {
		return "", Record{}, token.ErrTokenInvalid
	}

	var (
		nextRaw string
		nextRec Record
	)
	_, err = r.store.Rotate(ctx, now, r.digest.Digest(raw), func(userID string) (Record, error) {
		if userID != claims.Subject {
			return Record{}, ErrRecordNotFound
		}
		var err error
		nextRaw, nextRec, err = r.mint(userID, now)
		return nextRec, err
	})
	if errors.Is(err, ErrRecordNotFound) {
		return "", Record{}, token.ErrTokenInvalid
	}
	if err != nil {
		return "", Record{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	return nextRaw, nextRec, nil
}

// RevokeAll revokes every outstanding refresh token of userID. Repeating it is harmless.
func (r *RefreshTokens) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := r.store.RevokeAll(ctx, r.now().UTC(), userID)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return n, nil
}

// Cleanup deletes revoked and expired records. Active records are never touched.
func (r *RefreshTokens) Cleanup(ctx context.Context) (int64, error) {
	n, err := r.store.DeleteInactive(ctx, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup refresh tokens: %w", err)
	}
	return n, nil
}

func (r *RefreshTokens) mint(userID string, now time.Time) (string, Record, error) {
	raw, claims, err := r.codec.EncodeAt(userID, now, r.ttl)
	if err != nil {
		return "", Record{}, err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return "", Record{}, err
	}
	return raw, Record{
		ID:        id,
		UserID:    userID,
		TokenHash: r.digest.Digest(raw),
		IssuedAt:  now,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}
