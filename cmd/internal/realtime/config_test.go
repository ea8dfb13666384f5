package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGatewayConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadGatewayConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultGatewayConfig(), cfg)
}

func TestLoadGatewayConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("PULSE_WS_ALLOWED_ORIGINS", "https://app.pulse.test, http://localhost:5173")
	t.Setenv("PULSE_WS_ORIGIN_REQUIRED", "true")
	t.Setenv("PULSE_WS_WRITE_TIMEOUT", "2s")
	t.Setenv("PULSE_WS_RATE_EVENTS", "10")

	cfg, err := LoadGatewayConfigFromEnv()
	require.NoError(t, err)
	assert.Len(t, cfg.AllowedOrigins, 2)
	assert.True(t, cfg.OriginRequired)
	assert.Equal(t, 2*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 10, cfg.RateEvents)
}

func TestLoadGatewayConfigFromEnv_Invalid(t *testing.T) {
	t.Setenv("PULSE_WS_RATE_EVENTS", "0")

	_, err := LoadGatewayConfigFromEnv()
	assert.ErrorIs(t, err, ErrConfig)
}

func TestOriginPatterns(t *testing.T) {
	got := originPatterns([]string{"http://localhost:5173", "https://App.Pulse.test", "http://localhost"})
	assert.Equal(t, []string{"app.pulse.test", "app.pulse.test:*", "localhost", "localhost:*"}, got)

	assert.Equal(t, []string{"*"}, originPatterns([]string{"http://a.test", "*"}))
}
