package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS idle;

CREATE TABLE IF NOT EXISTS idle.player_fields (
	player_key text NOT NULL,
	field      text NOT NULL,
	value      jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (player_key, field)
);

CREATE TABLE IF NOT EXISTS idle.rankings (
	metric     text NOT NULL,
	player_key text NOT NULL,
	score      integer NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (metric, player_key)
);

CREATE INDEX IF NOT EXISTS rankings_metric_score_idx ON idle.rankings (metric, score DESC);
`

// Migrate creates the idle schema when it does not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const (
	maxAttempts     = 5
	firstRetryDelay = 50 * time.Millisecond
)

// withRetry reruns fn while it fails with a serialization conflict.
func withRetry(ctx context.Context, fn func() error) error {
	delay := firstRetryDelay
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil || !isSerializationError(err) {
			return err
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
	return err
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
