package db

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"idlecore/internal/ranking"
)

// PGStore keeps player fields and ranking scores in Postgres.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{db: pool}
}

func (s *PGStore) Get(ctx context.Context, playerKey, field string) ([]byte, bool, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `
		SELECT value::text
		FROM idle.player_fields
		WHERE player_key = $1 AND field = $2
	`, playerKey, field).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", playerKey, field, err)
	}
	return raw, true, nil
}

// PutAll upserts every field inside one transaction.
func (s *PGStore) PutAll(ctx context.Context, playerKey string, fields map[string][]byte) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		batch := &pgx.Batch{}
		for _, k := range keys {
			batch.Queue(`
				INSERT INTO idle.player_fields (player_key, field, value, updated_at)
				VALUES ($1, $2, $3::jsonb, now())
				ON CONFLICT (player_key, field)
				DO UPDATE SET value = EXCLUDED.value, updated_at = now()
			`, playerKey, k, string(fields[k]))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("put %s: %w", playerKey, err)
		}
		return tx.Commit(ctx)
	})
}

func (s *PGStore) SetScore(ctx context.Context, metric, playerKey string, value int32, allowOverwriteLowerScore bool) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO idle.rankings (metric, player_key, score, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (metric, player_key)
		DO UPDATE SET
			score = CASE WHEN $4 THEN EXCLUDED.score ELSE GREATEST(idle.rankings.score, EXCLUDED.score) END,
			updated_at = now()
	`, metric, playerKey, value, allowOverwriteLowerScore)
	if err != nil {
		return fmt.Errorf("set score %s/%s: %w", metric, playerKey, err)
	}
	return nil
}

func (s *PGStore) Top(ctx context.Context, metric string, limit int) ([]ranking.Row, error) {
	rows, err := s.db.Query(ctx, `
		SELECT player_key, score
		FROM idle.rankings
		WHERE metric = $1
		ORDER BY score DESC, player_key ASC
		LIMIT $2
	`, metric, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ranking.Row
	var rank int64 = 1
	for rows.Next() {
		var r ranking.Row
		if err := rows.Scan(&r.PlayerKey, &r.Score); err != nil {
			return nil, err
		}
		r.Rank = rank
		rank++
		out = append(out, r)
	}
	return out, rows.Err()
}
