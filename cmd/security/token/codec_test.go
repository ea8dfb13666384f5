package token

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func mustCodec(t *testing.T, alg string) *Codec {
	t.Helper()
	c, err := NewCodec(testSecret, alg)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestEncodeDecode_RoundTripBeforeExpiry(t *testing.T) {
	c := mustCodec(t, "HS256")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	raw, issued, err := c.EncodeAt("user-1", now, 15*time.Minute)
	if err != nil {
		t.Fatalf("EncodeAt: %v", err)
	}
	if got := strings.Count(raw, "."); got != 2 {
		t.Fatalf("expected three segments, got %d dots", got)
	}

	claims, err := c.DecodeAt(raw, now.Add(15*time.Minute-time.Second))
	if err != nil {
		t.Fatalf("DecodeAt: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject mismatch: %q", claims.Subject)
	}
	if !claims.ExpiresAt.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("exp mismatch: got %v", claims.ExpiresAt)
	}
	if claims.ID == "" || claims.ID != issued.ID {
		t.Fatalf("jti mismatch: %q vs %q", claims.ID, issued.ID)
	}
}

func TestDecode_ExpiredIsStrict(t *testing.T) {
	c := mustCodec(t, "HS256")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	raw, _, err := c.EncodeAt("user-1", now, time.Minute)
	if err != nil {
		t.Fatalf("EncodeAt: %v", err)
	}

	if _, err := c.DecodeAt(raw, now.Add(time.Minute)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("at exp: expected ErrTokenExpired, got %v", err)
	}
	if _, err := c.DecodeAt(raw, now.Add(time.Hour)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("after exp: expected ErrTokenExpired, got %v", err)
	}
}

func TestEncode_DistinctTokensSameSecond(t *testing.T) {
	c := mustCodec(t, "HS256")
	now := time.Now()

	a, _, err := c.EncodeAt("u", now, time.Hour)
	if err != nil {
		t.Fatalf("EncodeAt: %v", err)
	}
	b, _, err := c.EncodeAt("u", now, time.Hour)
	if err != nil {
		t.Fatalf("EncodeAt: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct tokens")
	}
}

func TestDecode_Invalid(t *testing.T) {
	c := mustCodec(t, "HS256")
	now := time.Now()

	good, _, err := c.EncodeAt("user-1", now, time.Hour)
	if err != nil {
		t.Fatalf("EncodeAt: %v", err)
	}

	other, err := NewCodec([]byte("ffffffffffffffffffffffffffffffff"), "HS256")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	forged, _, err := other.EncodeAt("user-1", now, time.Hour)
	if err != nil {
		t.Fatalf("EncodeAt: %v", err)
	}

	hs512 := mustCodec(t, "HS512")
	wrongAlg, _, err := hs512.EncodeAt("user-1", now, time.Hour)
	if err != nil {
		t.Fatalf("EncodeAt: %v", err)
	}

	parts := strings.Split(good, ".")
	none := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`)) + "." + parts[1] + "."
	tampered := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"admin","exp":9999999999,"use":"access"}`)) + "." + parts[2]

	cases := map[string]string{
		"empty":     "",
		"garbage":   "not.a.token",
		"two parts": parts[0] + "." + parts[1],
		"forged":    forged,
		"wrong alg": wrongAlg,
		"alg none":  none,
		"tampered":  tampered,
	}
	for name, raw := range cases {
		if _, err := c.DecodeAt(raw, now); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("%s: expected ErrTokenInvalid, got %v", name, err)
		}
	}
}

func TestDecode_ForgedAndExpiredIsInvalid(t *testing.T) {
	c := mustCodec(t, "HS256")
	other, err := NewCodec([]byte("ffffffffffffffffffffffffffffffff"), "HS256")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	now := time.Now()

	forged, _, err := other.EncodeAt("user-1", now.Add(-2*time.Hour), time.Hour)
	if err != nil {
		t.Fatalf("EncodeAt: %v", err)
	}
	if _, err := c.DecodeAt(forged, now); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestDecode_MissingExpiryIsInvalid(t *testing.T) {
	c := mustCodec(t, "HS256")

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u", "use": "access"}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := c.Decode(raw); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestUse_NotCrossAccepted(t *testing.T) {
	access := mustCodec(t, "HS256")
	refresh := access.For(UseRefresh)
	now := time.Now()

	rt, _, err := refresh.EncodeAt("u", now, time.Hour)
	if err != nil {
		t.Fatalf("EncodeAt: %v", err)
	}
	at, _, err := access.EncodeAt("u", now, time.Hour)
	if err != nil {
		t.Fatalf("EncodeAt: %v", err)
	}

	if _, err := access.DecodeAt(rt, now); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh token accepted as access: %v", err)
	}
	if _, err := refresh.DecodeAt(at, now); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("access token accepted as refresh: %v", err)
	}
	if c, err := refresh.DecodeAt(rt, now); err != nil || c.Use != UseRefresh {
		t.Fatalf("refresh round trip failed: %+v %v", c, err)
	}
}

func TestNewCodec_Validation(t *testing.T) {
	if _, err := NewCodec(testSecret, "RS256"); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
	if _, err := NewCodec([]byte("short"), "HS256"); !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("expected ErrSecretTooShort, got %v", err)
	}
	if c := mustCodec(t, "HS384"); c.Algorithm() != "HS384" {
		t.Fatalf("algorithm mismatch: %s", c.Algorithm())
	}
}
