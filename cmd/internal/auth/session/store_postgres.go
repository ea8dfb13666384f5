package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over the refresh_tokens table.
//
// Every write transaction first takes a transactional advisory lock keyed by user id, so
// concurrent logins and refreshes for one user run one after another and always lock in the
// same order.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

type PostgresOption func(*PostgresStore) error

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "pulse").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRE.MatchString(schema) {
			return errors.New("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool, schema: "pulse"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.pool == nil {
		return nil, errors.New("session: nil pool")
	}
	return s, nil
}

func (s *PostgresStore) Replace(ctx context.Context, now time.Time, rec Record) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tbl := s.table()
	if err := lockUserTx(ctx, tx, rec.UserID); err != nil {
		return err
	}
	if _, err := revokeActiveTx(ctx, tx, tbl, now, rec.UserID); err != nil {
		return fmt.Errorf("revoke previous: %w", err)
	}
	if err := insertTx(ctx, tx, tbl, rec); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, tokenHash string, next func(userID string) (Record, error)) (Record, error) {
	tbl := s.table()

	// Resolve the owner outside the transaction so the advisory lock is always taken first.
	userID, err := ownerByHash(ctx, s.pool, tbl, tokenHash)
	if err != nil {
		return Record{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockUserTx(ctx, tx, userID); err != nil {
		return Record{}, err
	}

	old, err := activeByHashForUpdateTx(ctx, tx, tbl, now, tokenHash)
	if err != nil {
		return Record{}, err
	}

	if err := markUsedTx(ctx, tx, tbl, now, old.ID); err != nil {
		return Record{}, fmt.Errorf("mark used: %w", err)
	}
	if _, err := revokeActiveTx(ctx, tx, tbl, now, old.UserID); err != nil {
		return Record{}, fmt.Errorf("revoke previous: %w", err)
	}

	succ, err := next(old.UserID)
	if err != nil {
		return Record{}, err
	}
	if err := insertTx(ctx, tx, tbl, succ); err != nil {
		return Record{}, fmt.Errorf("insert refresh token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, err
	}

	used, revoked := now, now
	old.LastUsedAt, old.RevokedAt = &used, &revoked
	return old, nil
}

// RevokeAll is idempotent: already revoked rows keep their original revoked_at.
func (s *PostgresStore) RevokeAll(ctx context.Context, now time.Time, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table()+`
		SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteInactive(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.table()+`
		WHERE revoked_at IS NOT NULL OR expires_at <= $1 -- same boundary as Record.Active
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM `+s.table()+`
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRecord)
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "refresh_tokens"}.Sanitize()
}
