package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const argon2Version = argon2.Version // 0x13

// Hasher produces and checks self-describing password hashes.
// It is safe for concurrent use.
type Hasher struct {
	cfg Config

	dummyOnce sync.Once
	dummy     string
}

func NewHasher(cfg Config) (*Hasher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Hasher{cfg: cfg}, nil
}

// Policy returns the policy enforced by Hash.
func (h *Hasher) Policy() Policy { return h.cfg.Policy }

// Hash returns an Argon2id PHC string for password using a fresh random salt.
func (h *Hasher) Hash(password string) (string, error) {
	if err := h.cfg.Policy.Check(password); err != nil {
		return "", err
	}

	p := h.cfg.Params
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	return phc{params: p, salt: salt, key: key}.String(), nil
}

// Verify reports whether password matches encoded.
// A mismatch is (false, nil). A hash that cannot be parsed or exceeds the cost bounds is
// (false, *VerificationError).
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	if isBcrypt(encoded) {
		return verifyBcrypt(password, encoded)
	}

	ph, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	if !withinBounds(ph.params, h.cfg.Params) {
		return false, malformed("parameters exceed configured bounds")
	}

	key := argon2.IDKey(
		[]byte(password),
		ph.salt,
		ph.params.Iterations,
		ph.params.MemoryKiB,
		ph.params.Parallelism,
		ph.params.KeyLength,
	)
	return subtle.ConstantTimeCompare(key, ph.key) == 1, nil
}

// NeedsRehash reports whether encoded should be replaced by a fresh Hash after a successful
// login: legacy bcrypt strings, and Argon2id strings weaker than the current configuration.
func (h *Hasher) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	ph, err := parsePHC(encoded)
	if err != nil {
		return false
	}
	want := h.cfg.Params
	return ph.params.MemoryKiB < want.MemoryKiB ||
		ph.params.Iterations < want.Iterations ||
		ph.params.KeyLength < want.KeyLength
}

// DummyHash returns a hash of a random secret, computed once per Hasher. Verifying against it
// costs the same as a real verification, so a login for an unknown account takes as long as
// one with a wrong password.
func (h *Hasher) DummyHash() string {
	h.dummyOnce.Do(func() {
		secret := make([]byte, 24)
		_, _ = rand.Read(secret)

		p := h.cfg.Params
		salt := make([]byte, p.SaltLength)
		_, _ = rand.Read(salt)

		key := argon2.IDKey(secret, salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)
		h.dummy = phc{params: p, salt: salt, key: key}.String()
	})
	return h.dummy
}

// withinBounds accepts hashes made with older, cheaper settings but refuses attacker-sized
// parameters.
func withinBounds(got, limits Argon2idParams) bool {
	switch {
	case got.MemoryKiB > limits.MemoryKiB*2:
		return false
	case got.Iterations > limits.Iterations*2:
		return false
	case got.Parallelism > limits.Parallelism*2:
		return false
	case got.SaltLength < 8 || got.SaltLength > 64:
		return false
	case got.KeyLength < 16 || got.KeyLength > 128:
		return false
	}
	return true
}

type phc struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

func (p phc) String() string {
	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		p.params.MemoryKiB,
		p.params.Iterations,
		p.params.Parallelism,
		b64.EncodeToString(p.salt),
		b64.EncodeToString(p.key),
	)
}

func parsePHC(encoded string) (phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return phc{}, malformed("unexpected segment count")
	}
	if parts[1] != "argon2id" {
		return phc{}, malformed("unsupported algorithm")
	}
	if parts[2] != "v="+strconv.Itoa(argon2Version) {
		return phc{}, malformed("unsupported version")
	}

	var out phc
	seen := 0
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return phc{}, malformed("bad parameter")
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return phc{}, malformed("bad parameter value")
		}
		switch k {
		case "m":
			out.params.MemoryKiB = uint32(n)
		case "t":
			out.params.Iterations = uint32(n)
		case "p":
			if n > 255 {
				return phc{}, malformed("parallelism out of range")
			}
			out.params.Parallelism = uint8(n)
		default:
			return phc{}, malformed("unknown parameter")
		}
		seen++
	}
	if seen != 3 || out.params.MemoryKiB == 0 || out.params.Iterations == 0 || out.params.Parallelism == 0 {
		return phc{}, malformed("missing parameter")
	}

	b64 := base64.RawStdEncoding
	var err error
	if out.salt, err = b64.DecodeString(parts[4]); err != nil {
		return phc{}, malformed("salt encoding")
	}
	if out.key, err = b64.DecodeString(parts[5]); err != nil {
		return phc{}, malformed("key encoding")
	}
	out.params.SaltLength = uint32(len(out.salt)) // #nosec G115 -- bounded by withinBounds.
	out.params.KeyLength = uint32(len(out.key))   // #nosec G115 -- bounded by withinBounds.

	return out, nil
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

func verifyBcrypt(password, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, malformed("bcrypt: " + err.Error())
	}
}
