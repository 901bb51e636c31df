package ranking

import (
	"context"
	"sort"
	"sync"
)

// Store is the external ranking system. When allowOverwriteLowerScore is
// false the store keeps whichever of the existing and new value is higher.
type Store interface {
	SetScore(ctx context.Context, metric, playerKey string, value int32, allowOverwriteLowerScore bool) error
}

// Board reads rank-ordered rows back out of a ranking store.
type Board interface {
	Top(ctx context.Context, metric string, limit int) ([]Row, error)
}

type Row struct {
	Rank      int64  `json:"rank"`
	PlayerKey string `json:"player_key"`
	Score     int32  `json:"score"`
}

type MemoryStore struct {
	mu     sync.Mutex
	scores map[string]map[string]int32
	calls  int
	err    error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scores: make(map[string]map[string]int32)}
}

func (m *MemoryStore) SetScore(_ context.Context, metric, playerKey string, value int32, allowOverwriteLowerScore bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	board := m.scores[metric]
	if board == nil {
		board = make(map[string]int32)
		m.scores[metric] = board
	}
	cur, ok := board[playerKey]
	if ok && !allowOverwriteLowerScore && cur >= value {
		return nil
	}
	board[playerKey] = value
	return nil
}

func (m *MemoryStore) Top(_ context.Context, metric string, limit int) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]Row, 0, len(m.scores[metric]))
	for player, score := range m.scores[metric] {
		rows = append(rows, Row{PlayerKey: player, Score: score})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].PlayerKey < rows[j].PlayerKey
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	for i := range rows {
		rows[i].Rank = int64(i + 1)
	}
	return rows, nil
}

// Score returns the stored value for one player.
func (m *MemoryStore) Score(metric, playerKey string) (int32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.scores[metric][playerKey]
	return v, ok
}

// Calls counts SetScore invocations, failed ones included.
func (m *MemoryStore) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// FailWith makes every SetScore return err until cleared with nil.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
