package authapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

var ErrConfig = errors.New("invalid auth api config")

// Config controls request limits and login throttling.
type Config struct {
	MaxBodyBytes int64 `env:"PULSE_AUTH_MAX_BODY_BYTES" env-default:"1048576"`
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool `env:"PULSE_AUTH_TRUST_PROXY" env-default:"false"`

	// Failed logins per client IP within LoginIPWindow before /auth/login answers 429.
	LoginIPMax    int           `env:"PULSE_AUTH_LOGIN_IP_MAX" env-default:"20"`
	LoginIPWindow time.Duration `env:"PULSE_AUTH_LOGIN_IP_WINDOW" env-default:"5m"`
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:  1 << 20,
		LoginIPMax:    20,
		LoginIPWindow: 5 * time.Minute,
	}
}

func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("%w: PULSE_AUTH_MAX_BODY_BYTES must be positive", ErrConfig)
	}
	if cfg.LoginIPMax < 0 || cfg.LoginIPWindow <= 0 {
		return Config{}, fmt.Errorf("%w: login throttle settings are invalid", ErrConfig)
	}
	return cfg, nil
}
