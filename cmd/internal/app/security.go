package app

import (
	"fmt"

	"github.com/Tureluurtje/Pulse/cmd/internal/auth/session"
)

// ValidateSecurityConfig enforces startup policy that spans subsystems.
// In prod, and whenever PULSE_REQUIRE_TOKEN_HMAC is set, refresh-token digests must be keyed.
func ValidateSecurityConfig(cfg Config, sess session.Config) error {
	if !cfg.RequireTokenHMAC && !cfg.IsProd() {
		return nil
	}
	if sess.TokenHMACKey == "" {
		return fmt.Errorf("%w: PULSE_TOKEN_HMAC_KEY is required (PULSE_ENV=%s, PULSE_REQUIRE_TOKEN_HMAC=%t)",
			ErrConfig, cfg.Env, cfg.RequireTokenHMAC)
	}
	return nil
}
