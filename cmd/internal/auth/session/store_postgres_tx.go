package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `id, user_id, token_hash, issued_at, expires_at, revoked_at, last_used_at`

func scanRecord(row pgx.CollectableRow) (Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.UserID, &r.TokenHash, &r.IssuedAt, &r.ExpiresAt, &r.RevokedAt, &r.LastUsedAt)
	return r, err
}

func lockUserTx(ctx context.Context, tx pgx.Tx, userID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

func ownerByHash(ctx context.Context, pool *pgxpool.Pool, tbl, tokenHash string) (string, error) {
	var userID string
	err := pool.QueryRow(ctx, `SELECT user_id FROM `+tbl+` WHERE token_hash = $1`, tokenHash).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrRecordNotFound
	}
	return userID, err
}

func activeByHashForUpdateTx(ctx context.Context, tx pgx.Tx, tbl string, now time.Time, tokenHash string) (Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+recordColumns+`
		FROM `+tbl+`
		WHERE token_hash = $1
		  AND revoked_at IS NULL
		  AND expires_at > $2
		FOR UPDATE
	`, tokenHash, now)
	if err != nil {
		return Record{}, err
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	return rec, err
}

func markUsedTx(ctx context.Context, tx pgx.Tx, tbl string, now time.Time, id string) error {
	_, err := tx.Exec(ctx, `
		UPDATE `+tbl+`
		SET revoked_at = $2, last_used_at = $2
		WHERE id = $1
	`, id, now)
	return err
}

func revokeActiveTx(ctx context.Context, tx pgx.Tx, tbl string, now time.Time, userID string) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE `+tbl+`
		SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func insertTx(ctx context.Context, tx pgx.Tx, tbl string, r Record) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO `+tbl+` (id, user_id, token_hash, issued_at, expires_at, revoked_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, NULL, NULL)
	`, r.ID, r.UserID, r.TokenHash, r.IssuedAt, r.ExpiresAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("duplicate refresh token: %w", err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
