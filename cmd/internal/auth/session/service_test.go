package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Tureluurtje/Pulse/cmd/identity"
	"github.com/Tureluurtje/Pulse/cmd/security/password"
	"github.com/Tureluurtje/Pulse/cmd/security/token"
)

func TestService_RegisterLoginRefreshScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reg, err := env.svc.Register(ctx, "a@x.com", "pw1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.AccessToken == "" || reg.RefreshToken == "" || reg.TokenType != "bearer" {
		t.Fatalf("Register returned incomplete pair: %+v", reg)
	}

	env.clock.Advance(time.Second)
	login, err := env.svc.Login(ctx, "a@x.com", "pw1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if login.RefreshToken == reg.RefreshToken {
		t.Fatalf("login must return a new refresh token")
	}
	if login.UserID != reg.UserID {
		t.Fatalf("login user mismatch: %s vs %s", login.UserID, reg.UserID)
	}

	if _, err := env.svc.Login(ctx, "a@x.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}

	_, err = env.svc.Refresh(ctx, reg.RefreshToken)
	if !errors.Is(err, token.ErrTokenInvalid) || !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("rotated-away token: expected ErrTokenInvalid/ErrUnauthenticated, got %v", err)
	}

	next, err := env.svc.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	claims, err := env.svc.Authenticate(ctx, next.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if claims.Subject != reg.UserID {
		t.Fatalf("subject mismatch: %s", claims.Subject)
	}
}

func TestService_RegisterConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Register(ctx, "a@x.com", "pw1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := env.svc.Register(ctx, "A@X.COM", "other")
	if !errors.Is(err, ErrIdentityConflict) {
		t.Fatalf("expected ErrIdentityConflict, got %v", err)
	}
	if !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("expected identity.ErrConflict in chain, got %v", err)
	}
}

func TestService_RegisterRejectsPolicyAndBadEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Register(ctx, "a@x.com", ""); !errors.Is(err, password.ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if _, err := env.svc.Register(ctx, "nope", "pw1"); !identity.IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestService_LoginUnknownEmail(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Login(context.Background(), "ghost@x.com", "pw1")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_LoginMalformedStoredHash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.creds.CreateCredential(ctx, identity.CreateCredentialInput{
		Email:        "broken@x.com",
		PasswordHash: "$argon2id$garbage",
	}); err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}

	_, err := env.svc.Login(ctx, "broken@x.com", "pw1")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_LoginRehashesLegacyBcrypt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if _, err := env.creds.CreateCredential(ctx, identity.CreateCredentialInput{
		Email:        "old@x.com",
		PasswordHash: string(legacy),
	}); err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}

	if _, err := env.svc.Login(ctx, "old@x.com", "legacy-pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	cred, err := env.creds.CredentialByEmail(ctx, "old@x.com")
	if err != nil {
		t.Fatalf("CredentialByEmail: %v", err)
	}
	if !strings.HasPrefix(cred.PasswordHash, "$argon2id$") {
		t.Fatalf("expected argon2id hash after login, got %q", cred.PasswordHash)
	}
	if _, err := env.svc.Login(ctx, "old@x.com", "legacy-pw"); err != nil {
		t.Fatalf("Login with upgraded hash: %v", err)
	}
}

func TestService_AuthenticateFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.svc.Register(ctx, "a@x.com", "pw1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := env.svc.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("fresh access token rejected: %v", err)
	}

	_, err = env.svc.Authenticate(ctx, pair.RefreshToken)
	if !errors.Is(err, ErrUnauthenticated) || !errors.Is(err, token.ErrTokenInvalid) {
		t.Fatalf("refresh token as access: expected unauthenticated/invalid, got %v", err)
	}

	env.clock.Advance(15 * time.Minute)
	_, err = env.svc.Authenticate(ctx, pair.AccessToken)
	if !errors.Is(err, ErrUnauthenticated) || !errors.Is(err, token.ErrTokenExpired) {
		t.Fatalf("expired access token: expected unauthenticated/expired, got %v", err)
	}

	var ue *UnauthenticatedError
	if !errors.As(err, &ue) || ue.Reason() != "expired" {
		t.Fatalf("expected *UnauthenticatedError with reason expired, got %#v", err)
	}
	if err.Error() != "unauthenticated" {
		t.Fatalf("error text must not reveal the reason: %q", err.Error())
	}
}

func TestService_LogoutRevokesRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.svc.Register(ctx, "a@x.com", "pw1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := env.svc.Logout(ctx, pair.UserID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := env.svc.Logout(ctx, pair.UserID); err != nil {
		t.Fatalf("second Logout: %v", err)
	}

	if _, err := env.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated after logout, got %v", err)
	}
	if got := activeCount(t, env.store, pair.UserID, env.clock.Now()); got != 0 {
		t.Fatalf("expected no active records after logout, got %d", got)
	}
}

func TestService_LogoutTriggersSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sw := NewSweeper(env.refresh, time.Hour, time.Second)
	env.svc.sweeper = sw

	pair, err := env.svc.Register(ctx, "a@x.com", "pw1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := env.svc.Logout(ctx, pair.UserID); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	select {
	case <-sw.kick:
	default:
		t.Fatalf("expected logout to request a cleanup pass")
	}
}

func TestService_RefreshStoreErrorIsNotUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.svc.Register(ctx, "a@x.com", "pw1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	boom := errors.New("db down")
	env.refresh.store = failingStore{Store: env.store, err: boom}

	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	if !errors.Is(err, boom) || errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}

type failingStore struct {
	Store
	err error
}

func (f failingStore) Rotate(context.Context, time.Time, string, func(string) (Record, error)) (Record, error) {
	return Record{}, f.err
}

func (f failingStore) DeleteInactive(context.Context, time.Time) (int64, error) {
	return 0, f.err
}
