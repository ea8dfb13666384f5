package session

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tureluurtje/Pulse/cmd/identity"
	"github.com/Tureluurtje/Pulse/cmd/identity/ids"
	"github.com/Tureluurtje/Pulse/cmd/internal/migrations"
	"github.com/Tureluurtje/Pulse/cmd/security/token"
)

// Integration tests are opt-in and require PULSE_DATABASE_URL.

func TestPostgresStore_ConcurrentIssueLeavesOneActive(t *testing.T) {
	pool := mustOpenTestPool(t)
	store := mustNewSessionStore(t, pool)
	userID := mustCreateUser(t, pool)

	r := NewRefreshTokens(store, mustCodec(t), token.Digester{}, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := r.Issue(ctx, userID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Issue: %v", err)
	}

	if got := activeCount(t, store, userID, time.Now()); got != 1 {
		t.Fatalf("expected exactly one active record, got %d", got)
	}
}

func TestPostgresStore_RotateReplayAndRevoke(t *testing.T) {
	pool := mustOpenTestPool(t)
	store := mustNewSessionStore(t, pool)
	userID := mustCreateUser(t, pool)

	r := NewRefreshTokens(store, mustCodec(t), token.Digester{}, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	raw, _, err := r.Issue(ctx, userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	next, rec, err := r.ValidateAndRotate(ctx, raw)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rec.UserID != userID || next == raw {
		t.Fatalf("unexpected rotation result: %+v", rec)
	}

	if _, _, err := r.ValidateAndRotate(ctx, raw); !errors.Is(err, token.ErrTokenInvalid) {
		t.Fatalf("replay: expected invalid token, got %v", err)
	}

	recs, err := store.ListByUser(ctx, userID)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	var used int
	for _, rr := range recs {
		if rr.LastUsedAt != nil {
			used++
		}
	}
	if used != 1 {
		t.Fatalf("expected one record marked used, got %d", used)
	}

	n, err := r.RevokeAll(ctx, userID)
	if err != nil || n != 1 {
		t.Fatalf("RevokeAll: n=%d err=%v", n, err)
	}
	if _, _, err := r.ValidateAndRotate(ctx, next); !errors.Is(err, token.ErrTokenInvalid) {
		t.Fatalf("after revoke: expected invalid token, got %v", err)
	}

	if _, err := r.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	recs, err = store.ListByUser(ctx, userID)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected revoked records to be deleted, got %d", len(recs))
	}
}

func TestPostgresStore_ConcurrentReplayOneWinner(t *testing.T) {
	pool := mustOpenTestPool(t)
	store := mustNewSessionStore(t, pool)
	userID := mustCreateUser(t, pool)

	r := NewRefreshTokens(store, mustCodec(t), token.Digester{}, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	raw, _, err := r.Issue(ctx, userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const n = 6
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := r.ValidateAndRotate(ctx, raw); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one successful rotation, got %d", wins)
	}
	if got := activeCount(t, store, userID, time.Now()); got != 1 {
		t.Fatalf("expected exactly one active record, got %d", got)
	}
}

func TestPostgresStore_RejectsBadSchema(t *testing.T) {
	if _, err := NewPostgresStore(nil, WithSchema("bad schema")); err == nil {
		t.Fatalf("expected error for invalid schema")
	}
}

var migrateOnce sync.Once

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("PULSE_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: PULSE_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("ping: %v", err)
	}

	var migErr error
	migrateOnce.Do(func() { migErr = migrations.Up(ctx, pool) })
	if migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	return pool
}

func mustNewSessionStore(t *testing.T, pool *pgxpool.Pool) *PostgresStore {
	t.Helper()
	s, err := NewPostgresStore(pool, WithSchema(migrations.Schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func mustCreateUser(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	creds, err := identity.NewPostgresStore(pool, identity.WithSchema(migrations.Schema))
	if err != nil {
		t.Fatalf("identity store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	email := "it-" + strings.ToLower(ids.MustULID(time.Now())) + "@example.test"
	c, err := creds.CreateCredential(ctx, identity.CreateCredentialInput{Email: email, PasswordHash: "$argon2id$test"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DELETE FROM pulse.users WHERE id = $1`, c.UserID)
	})
	return c.UserID
}

func shouldSkipIntegration(err error) bool {
	if err == nil || os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "no such host")
}
