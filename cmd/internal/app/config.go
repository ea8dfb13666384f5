package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

var ErrConfig = errors.New("invalid app config")

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// Config is the process-level configuration. Subsystems read their own PULSE_* variables.
type Config struct {
	Env string `env:"PULSE_ENV" env-default:"dev"`

	HTTPAddr  string `env:"PULSE_HTTP_ADDR" env-default:"0.0.0.0:8080"`
	LogLevel  string `env:"PULSE_LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"PULSE_LOG_FORMAT" env-default:"json"`

	ReadHeaderTimeout time.Duration `env:"PULSE_HTTP_READ_HEADER_TIMEOUT" env-default:"5s"`
	ReadTimeout       time.Duration `env:"PULSE_HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout      time.Duration `env:"PULSE_HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout       time.Duration `env:"PULSE_HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout   time.Duration `env:"PULSE_HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
	MaxHeaderBytes    int           `env:"PULSE_HTTP_MAX_HEADER_BYTES" env-default:"1048576"`

	DatabaseURL       string        `env:"PULSE_DATABASE_URL"`
	DBMaxConns        int32         `env:"PULSE_DB_MAX_CONNS" env-default:"10"`
	DBMinConns        int32         `env:"PULSE_DB_MIN_CONNS" env-default:"0"`
	DBConnMaxLifetime time.Duration `env:"PULSE_DB_CONN_MAX_LIFETIME" env-default:"30m"`
	DBMigrate         bool          `env:"PULSE_DB_MIGRATE" env-default:"true"`

	// RequireTokenHMAC refuses to start without PULSE_TOKEN_HMAC_KEY. Always on in prod.
	RequireTokenHMAC bool `env:"PULSE_REQUIRE_TOKEN_HMAC" env-default:"false"`

	SentryDSN string `env:"PULSE_SENTRY_DSN"`
}

// LoadConfig loads .env (if present) and then reads the environment.
func LoadConfig() (Config, error) {
	if err := LoadDotEnv(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Env {
	case EnvDev, EnvProd:
	default:
		return fmt.Errorf("%w: PULSE_ENV must be %q or %q", ErrConfig, EnvDev, EnvProd)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: PULSE_LOG_FORMAT must be json or text", ErrConfig)
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%w: PULSE_HTTP_ADDR is required", ErrConfig)
	}
	if c.IsProd() && c.DatabaseURL == "" {
		return fmt.Errorf("%w: PULSE_DATABASE_URL is required when PULSE_ENV=prod", ErrConfig)
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("%w: invalid PULSE_DB_MIN_CONNS/PULSE_DB_MAX_CONNS", ErrConfig)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: PULSE_HTTP_SHUTDOWN_TIMEOUT must be positive", ErrConfig)
	}
	return nil
}

func (c Config) IsProd() bool { return c.Env == EnvProd }

func (c Config) DBEnabled() bool { return c.DatabaseURL != "" }
