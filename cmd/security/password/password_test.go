package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func mustHasher(t *testing.T, cfg Config) *Hasher {
	t.Helper()
	h, err := NewHasher(cfg)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestHashAndVerify_OK(t *testing.T) {
	h := mustHasher(t, fastConfig())

	enc, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(enc, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding: %q", enc)
	}

	ok, err := h.Verify("correct horse battery staple", enc)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	h := mustHasher(t, fastConfig())

	enc, err := h.Hash("pw1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	for _, pw := range []string{"pw2", "PW1", "pw1 ", ""} {
		ok, err := h.Verify(pw, enc)
		if err != nil {
			t.Fatalf("Verify(%q) error: %v", pw, err)
		}
		if ok {
			t.Fatalf("Verify(%q) expected mismatch", pw)
		}
	}
}

func TestHash_FreshSaltPerCall(t *testing.T) {
	h := mustHasher(t, fastConfig())

	a, err := h.Hash("same input")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	b, err := h.Hash("same input")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if a == b {
		t.Fatalf("expected different encodings for the same password")
	}
}

func TestVerify_MalformedHash(t *testing.T) {
	h := mustHasher(t, fastConfig())

	cases := []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=99999999,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5a2V5",
	}
	for _, enc := range cases {
		ok, err := h.Verify("whatever", enc)
		if ok {
			t.Fatalf("Verify(%q) expected false", enc)
		}
		if !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("Verify(%q) expected ErrInvalidHash, got %v", enc, err)
		}
		var verr *VerificationError
		if !errors.As(err, &verr) {
			t.Fatalf("Verify(%q) expected *VerificationError, got %T", enc, err)
		}
	}
}

func TestVerify_LegacyBcrypt(t *testing.T) {
	h := mustHasher(t, fastConfig())

	legacy, err := bcrypt.GenerateFromPassword([]byte("imported-pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	ok, err := h.Verify("imported-pw", string(legacy))
	if err != nil || !ok {
		t.Fatalf("expected legacy match, got ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("other", string(legacy))
	if err != nil || ok {
		t.Fatalf("expected legacy mismatch, got ok=%v err=%v", ok, err)
	}
	if !h.NeedsRehash(string(legacy)) {
		t.Fatalf("expected bcrypt hash to need rehash")
	}
}

func TestNeedsRehash_WeakerParams(t *testing.T) {
	weak := mustHasher(t, fastConfig())
	enc, err := weak.Hash("pw")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	strongCfg := fastConfig()
	strongCfg.Params.Iterations = 2
	strong := mustHasher(t, strongCfg)

	if weak.NeedsRehash(enc) {
		t.Fatalf("hash made with current params should not need rehash")
	}
	if !strong.NeedsRehash(enc) {
		t.Fatalf("hash made with fewer iterations should need rehash")
	}

	ok, err := strong.Verify("pw", enc)
	if err != nil || !ok {
		t.Fatalf("older params must still verify, got ok=%v err=%v", ok, err)
	}
}

func TestHash_EnforcesPolicy(t *testing.T) {
	cfg := fastConfig()
	cfg.Policy.MinLength = 8
	cfg.Policy.MaxLength = 16
	h := mustHasher(t, cfg)

	if _, err := h.Hash("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if _, err := h.Hash("this password is definitely too long"); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestPolicy_RejectVeryWeak(t *testing.T) {
	p := Policy{MinLength: 6, MaxLength: 64, RejectVeryWeak: true}

	for _, pw := range []string{"password", "11111111", "aaaaaaaa", "1234567890", "QWERTY"} {
		if err := p.Check(pw); !errors.Is(err, ErrWeakPassword) {
			t.Fatalf("Check(%q) expected ErrWeakPassword, got %v", pw, err)
		}
	}
	if err := p.Check("a-very-ok-pass"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestPolicy_CountsRunes(t *testing.T) {
	p := Policy{MinLength: 4, MaxLength: 4}
	if err := p.Check("пароль"[:8]); err != nil {
		t.Fatalf("4 cyrillic runes should pass, got %v", err)
	}
}

func TestDummyHash_StableAndNeverMatches(t *testing.T) {
	h := mustHasher(t, fastConfig())

	d := h.DummyHash()
	if d != h.DummyHash() {
		t.Fatalf("expected dummy hash to be computed once")
	}
	ok, err := h.Verify("", d)
	if err != nil {
		t.Fatalf("dummy hash must be well-formed: %v", err)
	}
	if ok {
		t.Fatalf("dummy hash must not match")
	}
}
