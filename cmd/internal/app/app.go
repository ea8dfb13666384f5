// Package app wires the Pulse server runtime: config, logging, storage, metrics, HTTP routes
// and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Tureluurtje/Pulse/cmd/identity"
	authapi "github.com/Tureluurtje/Pulse/cmd/internal/auth/api"
	"github.com/Tureluurtje/Pulse/cmd/internal/auth/session"
	"github.com/Tureluurtje/Pulse/cmd/internal/migrations"
	"github.com/Tureluurtje/Pulse/cmd/internal/realtime"
	"github.com/Tureluurtje/Pulse/cmd/security/password"
)

// App owns the HTTP server, the database pool and the background sweeper.
type App struct {
	cfg Config
	log Logger

	pool    *pgxpool.Pool
	handler http.Handler
	sweeper *session.Sweeper

	Registry *realtime.Registry
}

// New builds a fully wired App. Without PULSE_DATABASE_URL (dev only) it runs on
// in-memory stores.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg, sessCfg); err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	apiCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	gwCfg, err := realtime.LoadGatewayConfigFromEnv()
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(pwCfg)
	if err != nil {
		return nil, err
	}
	codec, err := sessCfg.Codec()
	if err != nil {
		return nil, err
	}
	digester, err := sessCfg.Digester()
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}

	creds, tokens, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sessMetrics := session.NewMetrics(reg)

	refresh := session.NewRefreshTokens(tokens, codec, digester, sessCfg.RefreshTTL())
	a.sweeper = session.NewSweeper(refresh, sessCfg.CleanupInterval, sessCfg.CleanupTimeout,
		session.WithSweeperLogger(log),
		session.WithSweeperMetrics(sessMetrics),
		session.WithFailureReporter(reportError),
	)
	svc := session.NewService(creds, hasher, codec, sessCfg.AccessTTL(), refresh,
		session.WithLogger(log),
		session.WithMetrics(sessMetrics),
		session.WithSweeper(a.sweeper),
	)

	authHandler, err := authapi.NewHandler(svc, apiCfg, authapi.WithLogger(log))
	if err != nil {
		a.close()
		return nil, err
	}

	a.Registry = realtime.NewRegistry(
		realtime.WithRegistryLogger(log),
		realtime.WithRegistryMetrics(realtime.NewMetrics(reg)),
	)
	gateway := realtime.NewGateway(a.Registry, svc, gwCfg, realtime.WithGatewayLogger(log))

	mux := http.NewServeMux()
	registerHTTP(mux, routes{
		log:     log,
		pool:    a.pool,
		metrics: reg,
		auth:    authHandler,
		ws:      gateway,
	})
	a.handler = wrapHTTP(mux, log)

	return a, nil
}

func (a *App) openStores(ctx context.Context) (identity.Store, session.Store, error) {
	if !a.cfg.DBEnabled() {
		a.log.Warn("db.disabled.inmemory_store")
		return identity.NewMemoryStore(), session.NewMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	a.pool = pool

	if err := PrepareDB(ctx, a.cfg, pool, a.log); err != nil {
		a.close()
		return nil, nil, err
	}

	creds, err := identity.NewPostgresStore(pool, identity.WithSchema(migrations.Schema))
	if err != nil {
		a.close()
		return nil, nil, err
	}
	tokens, err := session.NewPostgresStore(pool, session.WithSchema(migrations.Schema))
	if err != nil {
		a.close()
		return nil, nil, err
	}

	a.log.Info("db.enabled.postgres_store")
	return creds, tokens, nil
}

// Handler is the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP and runs the sweeper until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "env", a.cfg.Env, "db_enabled", a.pool != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.sweeper.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

func (a *App) close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
