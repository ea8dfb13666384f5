package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper runs RefreshTokens.Cleanup on a ticker and whenever Trigger is called.
// Failures are logged and reported, then retried on the next run; they never reach callers.
type Sweeper struct {
	tokens   *RefreshTokens
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
	metrics  *Metrics
	report   func(error)
	kick     chan struct{}
}

type SweeperOption func(*Sweeper)

func WithSweeperLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

func WithSweeperMetrics(m *Metrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

// WithFailureReporter forwards cleanup failures, e.g. to an error tracker.
func WithFailureReporter(fn func(error)) SweeperOption {
	return func(s *Sweeper) { s.report = fn }
}

func NewSweeper(tokens *RefreshTokens, interval, timeout time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		tokens:   tokens,
		interval: interval,
		timeout:  timeout,
		log:      slog.Default(),
		kick:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Trigger requests an extra pass without blocking. Requests made while one is pending
// coalesce.
func (s *Sweeper) Trigger() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.log.Info("session.cleanup.start", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("session.cleanup.stop")
			return
		case <-t.C:
			s.SweepOnce(ctx)
		case <-s.kick:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single bounded cleanup pass and returns the number of deleted records.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.tokens.Cleanup(ctx)
	s.metrics.cleanup(n, err)
	if err != nil {
		s.log.Error("session.cleanup.failed", "err", err)
		if s.report != nil {
			s.report(err)
		}
		return 0
	}

	s.log.Debug("session.cleanup.done", "deleted", n, "duration_ms", time.Since(start).Milliseconds())
	return n
}
