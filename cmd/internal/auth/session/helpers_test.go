package session

import (
	"sync"
	"testing"
	"time"

	"github.com/Tureluurtje/Pulse/cmd/identity"
	"github.com/Tureluurtje/Pulse/cmd/security/password"
	"github.com/Tureluurtje/Pulse/cmd/security/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// fakeClock is shared by the service and the refresh protocol in tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func mustCodec(t *testing.T) *token.Codec {
	t.Helper()
	c, err := token.NewCodec([]byte(testSecret), "HS256")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func newTestRefreshTokens(t *testing.T, store Store, clock *fakeClock) *RefreshTokens {
	t.Helper()
	r := NewRefreshTokens(store, mustCodec(t), token.Digester{}, 30*24*time.Hour)
	if clock != nil {
		r.now = clock.Now
	}
	return r
}

type testEnv struct {
	svc     *Service
	creds   *identity.MemoryStore
	store   *MemoryStore
	refresh *RefreshTokens
	hasher  *password.Hasher
	clock   *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	hasher, err := password.NewHasher(cfg)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	clock := newFakeClock()
	store := NewMemoryStore()
	creds := identity.NewMemoryStore()
	refresh := newTestRefreshTokens(t, store, clock)

	svc := NewService(creds, hasher, mustCodec(t), 15*time.Minute, refresh)
	svc.now = clock.Now

	return &testEnv{svc: svc, creds: creds, store: store, refresh: refresh, hasher: hasher, clock: clock}
}

func activeCount(t *testing.T, s Store, userID string, now time.Time) int {
	t.Helper()
	recs, err := s.ListByUser(t.Context(), userID)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	n := 0
	for _, r := range recs {
		if r.Active(now) {
			n++
		}
	}
	return n
}
