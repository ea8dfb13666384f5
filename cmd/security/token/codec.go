package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretBytes is the smallest accepted signing secret.
const MinSecretBytes = 32

// Use separates access tokens from refresh tokens. A token minted for one use never decodes
// under the other.
type Use string

const (
	UseAccess  Use = "access"
	UseRefresh Use = "refresh"
)

// Claims is the decoded content of a token.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
	ID        string
	Use       Use
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Use Use `json:"use"`
}

// Codec encodes and decodes signed, expiring tokens.
type Codec struct {
	secret []byte
	method jwt.SigningMethod
	use    Use
	now    func() time.Time
}

// NewCodec builds an access-token codec for algorithm (HS256, HS384 or HS512).
func NewCodec(secret []byte, algorithm string) (*Codec, error) {
	var method jwt.SigningMethod
	switch algorithm {
	case "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
	if len(secret) < MinSecretBytes {
		return nil, ErrSecretTooShort
	}

	s := make([]byte, len(secret))
	copy(s, secret)
	return &Codec{secret: s, method: method, use: UseAccess, now: time.Now}, nil
}

// For returns a codec sharing the secret and algorithm but minting and accepting only use.
func (c *Codec) For(use Use) *Codec {
	cp := *c
	cp.use = use
	return &cp
}

// Algorithm returns the configured algorithm name.
func (c *Codec) Algorithm() string { return c.method.Alg() }

// Encode signs a token for subject that expires ttl from now.
func (c *Codec) Encode(subject string, ttl time.Duration) (string, Claims, error) {
	return c.EncodeAt(subject, c.now(), ttl)
}

// EncodeAt is Encode with an explicit clock.
func (c *Codec) EncodeAt(subject string, now time.Time, ttl time.Duration) (string, Claims, error) {
	if subject == "" {
		return "", Claims{}, errors.New("token: empty subject")
	}
	if ttl <= 0 {
		return "", Claims{}, errors.New("token: non-positive ttl")
	}

	rc := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Use: c.use,
	}

	signed, err := jwt.NewWithClaims(c.method, rc).SignedString(c.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, rc.claims(), nil
}

// Decode verifies signature, use and expiry.
// It returns ErrTokenInvalid for anything that is not a well-formed token signed by this
// codec, and ErrTokenExpired once now >= exp.
func (c *Codec) Decode(raw string) (Claims, error) {
	return c.DecodeAt(raw, c.now())
}

// DecodeAt is Decode with an explicit clock.
func (c *Codec) DecodeAt(raw string, now time.Time) (Claims, error) {
	var rc jwtClaims
	_, err := jwt.ParseWithClaims(raw, &rc, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		// Signature is checked before claims, so an expired forgery is still invalid.
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if rc.Subject == "" || rc.Use != c.use {
		return Claims{}, ErrTokenInvalid
	}
	return rc.claims(), nil
}

func (rc jwtClaims) claims() Claims {
	out := Claims{Subject: rc.Subject, ID: rc.ID, Use: rc.Use}
	if rc.ExpiresAt != nil {
		out.ExpiresAt = rc.ExpiresAt.Time
	}
	if rc.IssuedAt != nil {
		out.IssuedAt = rc.IssuedAt.Time
	}
	return out
}
