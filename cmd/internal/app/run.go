package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run is the CLI entrypoint used by cmd/pulse.
// It returns an error instead of calling os.Exit so deferred flushes run.
func Run(version string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	sentryOn, err := InitSentry(cfg, version)
	if err != nil {
		log.Warn("sentry.init.fail", "err", err)
	}
	if sentryOn {
		defer FlushSentry()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		reportError(err)
		return err
	}
	return a.Run(ctx)
}
