package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"idlecore/internal/ranking"
)

type PlayerFieldModel struct {
	PlayerKey string    `gorm:"column:player_key;primaryKey"`
	Field     string    `gorm:"column:field;primaryKey"`
	Value     string    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (PlayerFieldModel) TableName() string {
	return "player_fields"
}

type RankingModel struct {
	Metric    string    `gorm:"column:metric;primaryKey"`
	PlayerKey string    `gorm:"column:player_key;primaryKey"`
	Score     int32     `gorm:"column:score;not null;index"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (RankingModel) TableName() string {
	return "rankings"
}

// SQLiteStore is the single-node backend: same surface as PGStore, kept in
// one sqlite file through gorm.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the database at path and migrates it. Use
// ":memory:" for a throwaway store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// One connection keeps ":memory:" databases shared and writes serialized.
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.AutoMigrate(&PlayerFieldModel{}, &RankingModel{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: gdb}, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, playerKey, field string) ([]byte, bool, error) {
	var m PlayerFieldModel
	err := s.db.WithContext(ctx).
		Where("player_key = ? AND field = ?", playerKey, field).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", playerKey, field, err)
	}
	return []byte(m.Value), true, nil
}

func (s *SQLiteStore) PutAll(ctx context.Context, playerKey string, fields map[string][]byte) error {
	now := time.Now().UTC()
	rows := make([]PlayerFieldModel, 0, len(fields))
	for k, v := range fields {
		rows = append(rows, PlayerFieldModel{PlayerKey: playerKey, Field: k, Value: string(v), UpdatedAt: now})
	}
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_key"}, {Name: "field"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&rows).Error; err != nil {
			return fmt.Errorf("put %s: %w", playerKey, err)
		}
		return nil
	})
}

func (s *SQLiteStore) SetScore(ctx context.Context, metric, playerKey string, value int32, allowOverwriteLowerScore bool) error {
	update := clause.Assignments(map[string]any{
		"score":      clause.Expr{SQL: "excluded.score"},
		"updated_at": clause.Expr{SQL: "excluded.updated_at"},
	})
	if !allowOverwriteLowerScore {
		update = clause.Assignments(map[string]any{
			"score":      clause.Expr{SQL: "MAX(score, excluded.score)"},
			"updated_at": clause.Expr{SQL: "excluded.updated_at"},
		})
	}
	row := RankingModel{Metric: metric, PlayerKey: playerKey, Score: value, UpdatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "metric"}, {Name: "player_key"}},
		DoUpdates: update,
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("set score %s/%s: %w", metric, playerKey, err)
	}
	return nil
}

func (s *SQLiteStore) Top(ctx context.Context, metric string, limit int) ([]ranking.Row, error) {
	var models []RankingModel
	q := s.db.WithContext(ctx).
		Where("metric = ?", metric).
		Order("score DESC").
		Order("player_key ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]ranking.Row, 0, len(models))
	for i, m := range models {
		out = append(out, ranking.Row{Rank: int64(i + 1), PlayerKey: m.PlayerKey, Score: m.Score})
	}
	return out, nil
}
