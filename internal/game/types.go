package game

import (
	"time"

	"idlecore/internal/catalog"
)

type UnitView struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Owned          int     `json:"owned"`
	MaxOwned       int     `json:"max_owned,omitempty"`
	NextCost       float64 `json:"next_cost"`
	PayoutPerCycle float64 `json:"payout_per_cycle"`
	Tier           int     `json:"tier"`
	NextTierAt     int     `json:"next_tier_at,omitempty"`
	CycleMs        float64 `json:"cycle_ms"`
	Progress       float64 `json:"progress"`
	EarnRate       float64 `json:"earn_rate"`
	ClickBonus     bool    `json:"click_bonus,omitempty"`
}

// StateView is an immutable picture of a player's economy for presentation.
type StateView struct {
	Balance         float64        `json:"balance"`
	LifetimeEarned  float64        `json:"lifetime_earned"`
	EarnRate        float64        `json:"earn_rate"`
	ClickYield      float64        `json:"click_yield"`
	ClickMultiplier float64        `json:"click_multiplier"`
	StreakTier      int            `json:"streak_tier"`
	StreakExpiresAt *time.Time     `json:"streak_expires_at,omitempty"`
	LongestStreakMs int64          `json:"longest_streak_ms"`
	TimeOnlineMs    int64          `json:"time_online_ms"`
	Owned           map[string]int `json:"owned"`
	Units           []UnitView     `json:"units"`
	At              time.Time      `json:"at"`
}

// View computes a StateView at now. Lapsed streaks read as Idle.
func (s *Store) View(now time.Time) StateView {
	st := s.State()
	return buildView(s.cat, st, now)
}

func buildView(cat *catalog.Catalog, st EconomyState, now time.Time) StateView {
	v := StateView{
		Balance:         st.Balance,
		LifetimeEarned:  st.LifetimeEarned,
		EarnRate:        TotalEarnRate(cat, st.Owned),
		ClickYield:      ClickYield(ClickerCount(cat, st.Owned)),
		ClickMultiplier: st.Streak.MultiplierAt(now),
		LongestStreakMs: st.LongestStreakMs,
		TimeOnlineMs:    st.TimeOnlineMs,
		Owned:           st.Owned,
		At:              now,
	}
	if st.Streak.Active(now) {
		exp := st.Streak.ExpiresAt
		v.StreakTier = st.Streak.Tier
		v.StreakExpiresAt = &exp
	}
	for _, def := range cat.Units() {
		n := st.Owned[def.ID]
		u := UnitView{
			ID:             def.ID,
			Name:           def.Name,
			Owned:          n,
			MaxOwned:       def.MaxOwned,
			NextCost:       CostToBuyNext(def, n),
			PayoutPerCycle: PayoutPerCycle(def, n),
			Tier:           Tier(n),
			NextTierAt:     NextTierAt(n),
			Progress:       st.Progress[def.ID],
			EarnRate:       EarnRate(def, n),
			ClickBonus:     def.ClickBonus,
		}
		if def.Produces() {
			u.CycleMs = EffectiveCycleMs(def, n)
		}
		v.Units = append(v.Units, u)
	}
	return v
}
