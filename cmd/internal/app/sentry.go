package app

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry enables error reporting when a DSN is configured. It reports whether
// reporting is active.
func InitSentry(cfg Config, release string) (bool, error) {
	if cfg.SentryDSN == "" {
		return false, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Env,
		Release:          release,
		AttachStacktrace: true,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// reportError forwards maintenance failures. It is a no-op without an initialised client.
func reportError(err error) {
	if err == nil {
		return
	}
	sentry.CaptureException(err)
}
