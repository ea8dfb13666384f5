package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tureluurtje/Pulse/cmd/identity"
	"github.com/Tureluurtje/Pulse/cmd/security/password"
	"github.com/Tureluurtje/Pulse/cmd/security/token"
)

// Service orchestrates registration, login, token validation, refresh and logout.
// It is the only entry point the transport layers use.
type Service struct {
	creds     identity.Store
	hasher    *password.Hasher
	access    *token.Codec
	accessTTL time.Duration
	refresh   *RefreshTokens
	sweeper   *Sweeper

	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// TokenPair is the result of every successful sign-in or refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	UserID           string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithSweeper lets Logout schedule an opportunistic cleanup pass.
func WithSweeper(sw *Sweeper) Option {
	return func(s *Service) { s.sweeper = sw }
}

func NewService(
	creds identity.Store,
	hasher *password.Hasher,
	access *token.Codec,
	accessTTL time.Duration,
	refresh *RefreshTokens,
	opts ...Option,
) *Service {
	s := &Service{
		creds:     creds,
		hasher:    hasher,
		access:    access.For(token.UseAccess),
		accessTTL: accessTTL,
		refresh:   refresh,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a credential for email and signs the new user in.
func (s *Service) Register(ctx context.Context, email, pw string) (TokenPair, error) {
	const op = "register"

	hash, err := s.hasher.Hash(pw)
	if err != nil {
		s.metrics.op(op, "rejected")
		return TokenPair{}, err
	}

	cred, err := s.creds.CreateCredential(ctx, identity.CreateCredentialInput{
		Email:        email,
		PasswordHash: hash,
		Now:          s.now().UTC(),
	})
	if err != nil {
		if identity.IsConflict(err) {
			s.metrics.op(op, "conflict")
			return TokenPair{}, fmt.Errorf("%w: %w", ErrIdentityConflict, err)
		}
		s.metrics.op(op, "rejected")
		return TokenPair{}, err
	}

	pair, err := s.issuePair(ctx, cred.UserID)
	if err != nil {
		s.metrics.op(op, "error")
		return TokenPair{}, err
	}

	s.metrics.op(op, "ok")
	s.log.Info("auth.register.ok", "user_id", cred.UserID)
	return pair, nil
}

// Login verifies email and password and issues a fresh pair, which revokes any previous
// refresh token of the user.
func (s *Service) Login(ctx context.Context, email, pw string) (TokenPair, error) {
	const op = "login"

	cred, err := s.creds.CredentialByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			_, _ = s.hasher.Verify(pw, s.hasher.DummyHash())
			s.metrics.op(op, "invalid")
			return TokenPair{}, ErrInvalidCredentials
		}
		s.metrics.op(op, "error")
		return TokenPair{}, err
	}

	ok, err := s.hasher.Verify(pw, cred.PasswordHash)
	if err != nil {
		s.log.Warn("auth.login.bad_hash", "user_id", cred.UserID, "err", err)
		s.metrics.op(op, "invalid")
		return TokenPair{}, ErrInvalidCredentials
	}
	if !ok {
		s.metrics.op(op, "invalid")
		return TokenPair{}, ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(cred.PasswordHash) {
		s.rehash(ctx, cred.UserID, pw)
	}

	pair, err := s.issuePair(ctx, cred.UserID)
	if err != nil {
		s.metrics.op(op, "error")
		return TokenPair{}, err
	}

	s.metrics.op(op, "ok")
	s.log.Info("auth.login.ok", "user_id", cred.UserID)
	return pair, nil
}

// Authenticate checks an access token. Every failure is an *UnauthenticatedError.
func (s *Service) Authenticate(_ context.Context, accessToken string) (token.Claims, error) {
	claims, err := s.access.DecodeAt(accessToken, s.now())
	if err != nil {
		s.metrics.op("authenticate", "unauthenticated")
		return token.Claims{}, unauthenticated("authenticate", err)
	}
	return claims, nil
}

// Refresh redeems a refresh token for a new pair. The presented token stops working.
func (s *Service) Refresh(ctx context.Context, raw string) (TokenPair, error) {
	const op = "refresh"

	nextRaw, rec, err := s.refresh.ValidateAndRotate(ctx, raw)
	if err != nil {
		if errors.Is(err, token.ErrTokenInvalid) {
			s.metrics.op(op, "unauthenticated")
			return TokenPair{}, unauthenticated(op, err)
		}
		s.metrics.op(op, "error")
		return TokenPair{}, err
	}

	access, claims, err := s.access.EncodeAt(rec.UserID, s.now(), s.accessTTL)
	if err != nil {
		s.metrics.op(op, "error")
		return TokenPair{}, err
	}

	s.metrics.op(op, "ok")
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     nextRaw,
		TokenType:        "bearer",
		UserID:           rec.UserID,
		AccessExpiresAt:  claims.ExpiresAt,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// Logout revokes every refresh token of userID. Outstanding access tokens stay valid until
// they expire.
func (s *Service) Logout(ctx context.Context, userID string) error {
	n, err := s.refresh.RevokeAll(ctx, userID)
	if err != nil {
		s.metrics.op("logout", "error")
		return err
	}

	if s.sweeper != nil {
		s.sweeper.Trigger()
	}

	s.metrics.op("logout", "ok")
	s.log.Info("auth.logout.ok", "user_id", userID, "revoked", n)
	return nil
}

func (s *Service) issuePair(ctx context.Context, userID string) (TokenPair, error) {
	access, claims, err := s.access.EncodeAt(userID, s.now(), s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, rec, err := s.refresh.Issue(ctx, userID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "bearer",
		UserID:           userID,
		AccessExpiresAt:  claims.ExpiresAt,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// rehash upgrades a stored hash after a successful login. Failures only cost the upgrade.
func (s *Service) rehash(ctx context.Context, userID, pw string) {
	hash, err := s.hasher.Hash(pw)
	if err != nil {
		s.log.Debug("auth.rehash.skipped", "user_id", userID, "err", err)
		return
	}
	if err := s.creds.UpdatePasswordHash(ctx, userID, hash, s.now().UTC()); err != nil {
		s.log.Warn("auth.rehash.failed", "user_id", userID, "err", err)
		return
	}
	s.log.Info("auth.rehash.ok", "user_id", userID)
}
