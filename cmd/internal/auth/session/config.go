package session

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/Tureluurtje/Pulse/cmd/security/token"
)

// Config is the session subsystem's runtime configuration.
//
// The signing secret has no default: a deployment must supply it.
type Config struct {
	JWTSecret    string `env:"PULSE_JWT_SECRET" env-required:"true"`
	JWTAlgorithm string `env:"PULSE_JWT_ALGORITHM" env-default:"HS256"`

	AccessTokenExpireMinutes int `env:"PULSE_ACCESS_TOKEN_EXPIRE_MINUTES" env-default:"15"`
	RefreshTokenExpireDays   int `env:"PULSE_REFRESH_TOKEN_EXPIRE_DAYS" env-default:"30"`

	// TokenHMACKey switches refresh digests from SHA-256 to HMAC-SHA-256.
	TokenHMACKey string `env:"PULSE_TOKEN_HMAC_KEY"`

	CleanupInterval time.Duration `env:"PULSE_TOKEN_CLEANUP_INTERVAL" env-default:"1h"`
	CleanupTimeout  time.Duration `env:"PULSE_TOKEN_CLEANUP_TIMEOUT" env-default:"30s"`
}

// LoadConfigFromEnv reads PULSE_JWT_*, PULSE_*_EXPIRE_* and PULSE_TOKEN_* variables.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("%w: unsupported PULSE_JWT_ALGORITHM %q", ErrConfig, c.JWTAlgorithm)
	}
	if len(c.JWTSecret) < token.MinSecretBytes {
		return fmt.Errorf("%w: PULSE_JWT_SECRET must be at least %d bytes", ErrConfig, token.MinSecretBytes)
	}
	if c.TokenHMACKey != "" && len(c.TokenHMACKey) < token.MinHMACKeyBytes {
		return fmt.Errorf("%w: PULSE_TOKEN_HMAC_KEY must be at least %d bytes", ErrConfig, token.MinHMACKeyBytes)
	}
	if c.AccessTokenExpireMinutes <= 0 || c.RefreshTokenExpireDays <= 0 {
		return fmt.Errorf("%w: token lifetimes must be positive", ErrConfig)
	}
	if c.AccessTTL() >= c.RefreshTTL() {
		return fmt.Errorf("%w: access lifetime must be shorter than refresh lifetime", ErrConfig)
	}
	if c.CleanupInterval <= 0 || c.CleanupTimeout <= 0 {
		return fmt.Errorf("%w: cleanup interval and timeout must be positive", ErrConfig)
	}
	return nil
}

func (c Config) AccessTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

func (c Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTokenExpireDays) * 24 * time.Hour
}

// Codec builds the access-token codec described by the config.
func (c Config) Codec() (*token.Codec, error) {
	return token.NewCodec([]byte(c.JWTSecret), c.JWTAlgorithm)
}

// Digester builds the refresh-token digester described by the config.
func (c Config) Digester() (token.Digester, error) {
	return token.NewDigester([]byte(c.TokenHMACKey))
}
