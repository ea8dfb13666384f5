package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tureluurtje/Pulse/cmd/internal/migrations"
)

const (
	dbConnectTimeout = 3 * time.Second
	dbReadyTimeout   = 2 * time.Second
)

// NewDBPool opens the pool described by cfg. It fails fast when the database is unreachable
// so a bad PULSE_DATABASE_URL is reported at startup rather than on the first request.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		// ParseConfig errors can echo the DSN, password included.
		return nil, fmt.Errorf("%w: PULSE_DATABASE_URL is not a valid connection string", ErrConfig)
	}
	pcfg.MaxConns = cfg.DBMaxConns
	pcfg.MinConns = cfg.DBMinConns
	if cfg.DBConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.DBConnMaxLifetime
		pcfg.MaxConnLifetimeJitter = cfg.DBConnMaxLifetime / 10
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("db: open pool: %w", err)
	}
	if err := PingDB(ctx, pool, dbConnectTimeout); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: %s:%d unreachable: %w", pcfg.ConnConfig.Host, pcfg.ConnConfig.Port, err)
	}
	return pool, nil
}

// PrepareDB brings the schema up to date unless PULSE_DB_MIGRATE=false.
func PrepareDB(ctx context.Context, cfg Config, pool *pgxpool.Pool, log Logger) error {
	if !cfg.DBMigrate {
		log.Info("db.migrate.skipped")
		return nil
	}

	start := time.Now()
	if err := migrations.Up(ctx, pool); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	st := pool.Stat()
	log.Info("db.ready",
		"duration_ms", time.Since(start).Milliseconds(),
		"max_conns", st.MaxConns(),
		"open_conns", st.TotalConns(),
	)
	return nil
}

// PingDB round-trips to the server within timeout.
func PingDB(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return pool.Ping(ctx)
}
