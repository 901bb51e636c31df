package session

import (
	"encoding/json"

	"idlecore/internal/game"
)

// Event is an outbound notification for one player.
type Event interface {
	EventType() string
}

type StateChanged struct {
	Balance         float64        `json:"balance"`
	LifetimeEarned  float64        `json:"lifetime_earned"`
	EarnRate        float64        `json:"earn_rate"`
	ClickYield      float64        `json:"click_yield"`
	ClickMultiplier float64        `json:"click_multiplier"`
	StreakTier      int            `json:"streak_tier"`
	OwnedCounts     map[string]int `json:"owned_counts"`
}

type WelcomeBack struct {
	OfflineEarnings float64 `json:"offline_earnings"`
	ElapsedMs       int64   `json:"elapsed_ms"`
	Completions     int64   `json:"completions"`
}

type PurchaseResult struct {
	Success  bool    `json:"success"`
	UnitID   string  `json:"unit_id"`
	Reason   string  `json:"reason,omitempty"`
	Owned    int     `json:"owned,omitempty"`
	Spent    float64 `json:"spent,omitempty"`
	NextCost float64 `json:"next_cost,omitempty"`
}

// FullState answers RequestFullState.
type FullState struct {
	game.StateView
}

// CycleProgress answers SyncCycleProgress with authoritative values.
type CycleProgress struct {
	ProgressByUnit map[string]float64 `json:"progress_by_unit"`
}

func (StateChanged) EventType() string   { return "state_changed" }
func (WelcomeBack) EventType() string    { return "welcome_back" }
func (PurchaseResult) EventType() string { return "purchase_result" }
func (FullState) EventType() string      { return "full_state" }
func (CycleProgress) EventType() string  { return "cycle_progress" }

type envelope struct {
	Type string `json:"type"`
	Data Event  `json:"data"`
}

// Encode wraps ev as {"type": ..., "data": ...}.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(envelope{Type: ev.EventType(), Data: ev})
}

func stateChanged(v game.StateView) StateChanged {
	return StateChanged{
		Balance:         v.Balance,
		LifetimeEarned:  v.LifetimeEarned,
		EarnRate:        v.EarnRate,
		ClickYield:      v.ClickYield,
		ClickMultiplier: v.ClickMultiplier,
		StreakTier:      v.StreakTier,
		OwnedCounts:     v.Owned,
	}
}
