package realtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

var ErrConfig = errors.New("invalid realtime config")

// GatewayConfig holds websocket limits and the origin policy.
type GatewayConfig struct {
	// AllowedOrigins is matched against the Origin header by full origin or by host.
	// "*" allows any origin.
	AllowedOrigins []string `env:"PULSE_WS_ALLOWED_ORIGINS" env-separator:"," env-default:"http://localhost,http://127.0.0.1"`
	// OriginRequired rejects handshakes without an Origin header. Native clients send none.
	OriginRequired bool `env:"PULSE_WS_ORIGIN_REQUIRED" env-default:"false"`

	InsecureSkipVerify bool `env:"PULSE_WS_DEV_INSECURE" env-default:"false"`

	WriteTimeout time.Duration `env:"PULSE_WS_WRITE_TIMEOUT" env-default:"5s"`
	// ReadIdleTimeout closes sockets that send nothing for this long. Zero disables it and
	// leaves liveness to the heartbeat.
	ReadIdleTimeout time.Duration `env:"PULSE_WS_READ_IDLE_TIMEOUT" env-default:"0s"`

	HeartbeatInterval time.Duration `env:"PULSE_WS_HEARTBEAT_INTERVAL" env-default:"25s"`
	HeartbeatTimeout  time.Duration `env:"PULSE_WS_HEARTBEAT_TIMEOUT" env-default:"5s"`
	MaxPingFailures   int           `env:"PULSE_WS_MAX_PING_FAILURES" env-default:"3"`

	RateEvents int           `env:"PULSE_WS_RATE_EVENTS" env-default:"120"`
	RateWindow time.Duration `env:"PULSE_WS_RATE_WINDOW" env-default:"10s"`

	MaxFrameBytes int64 `env:"PULSE_WS_MAX_FRAME_BYTES" env-default:"65536"`
}

// DefaultGatewayConfig matches the env defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:      5 * time.Second,
		HeartbeatInterval: 25 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
		MaxPingFailures:   3,
		RateEvents:        120,
		RateWindow:        10 * time.Second,
		MaxFrameBytes:     64 << 10,
	}
}

func LoadGatewayConfigFromEnv() (GatewayConfig, error) {
	var cfg GatewayConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return GatewayConfig{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return GatewayConfig{}, err
	}
	return cfg, nil
}

func (c GatewayConfig) Validate() error {
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: PULSE_WS_WRITE_TIMEOUT must be positive", ErrConfig)
	}
	if c.ReadIdleTimeout < 0 {
		return fmt.Errorf("%w: PULSE_WS_READ_IDLE_TIMEOUT must not be negative", ErrConfig)
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0 || c.MaxPingFailures <= 0 {
		return fmt.Errorf("%w: heartbeat settings must be positive", ErrConfig)
	}
	if c.RateEvents <= 0 || c.RateWindow <= 0 {
		return fmt.Errorf("%w: rate limit settings must be positive", ErrConfig)
	}
	if c.MaxFrameBytes < 1024 {
		return fmt.Errorf("%w: PULSE_WS_MAX_FRAME_BYTES must be at least 1024", ErrConfig)
	}
	return nil
}
