package game

import (
	"fmt"
	"math"
	"sync"
	"time"

	"idlecore/internal/catalog"
)

// Snapshot is the persisted form of a player's economy.
type Snapshot struct {
	Balance         float64
	LifetimeEarned  float64
	Owned           map[string]int
	Progress        map[string]float64
	LastSaveTime    time.Time
	LongestStreakMs int64
	TimeOnlineMs    int64
}

// EconomyState is the canonical, server-owned record for one player.
type EconomyState struct {
	Balance         float64
	LifetimeEarned  float64
	Owned           map[string]int
	Progress        map[string]float64
	Streak          Streak
	LongestStreakMs int64
	TimeOnlineMs    int64
	LastSaveTime    time.Time
	LastJoinTime    time.Time
}

// TickResult summarizes the cycle completions applied by one Tick.
type TickResult struct {
	Completions int64
	Earned      float64
}

type PurchaseResult struct {
	UnitID   string
	Owned    int
	Spent    float64
	NextCost float64
}

// Store owns one EconomyState and serializes every mutation behind a mutex.
type Store struct {
	mu     sync.Mutex
	cat    *catalog.Catalog
	streak StreakConfig
	st     EconomyState
}

func NewStore(cat *catalog.Catalog, streak StreakConfig, now time.Time) *Store {
	return &Store{
		cat:    cat,
		streak: streak,
		st: EconomyState{
			Owned:        make(map[string]int, cat.Len()),
			Progress:     make(map[string]float64, cat.Len()),
			LastSaveTime: now,
			LastJoinTime: now,
		},
	}
}

// Restore builds a Store from a snapshot, repairing anything that would
// violate the state invariants.
func Restore(cat *catalog.Catalog, streak StreakConfig, snap Snapshot, now time.Time) *Store {
	s := NewStore(cat, streak, now)
	s.st.Balance = nonNegative(snap.Balance)
	s.st.LifetimeEarned = nonNegative(snap.LifetimeEarned)
	s.st.LongestStreakMs = max(snap.LongestStreakMs, 0)
	s.st.TimeOnlineMs = max(snap.TimeOnlineMs, 0)
	if !snap.LastSaveTime.IsZero() {
		s.st.LastSaveTime = snap.LastSaveTime
	}
	for _, def := range cat.Units() {
		n := snap.Owned[def.ID]
		if n < 0 {
			n = 0
		}
		if def.Capped() && n > def.MaxOwned {
			n = def.MaxOwned
		}
		if n > 0 {
			s.st.Owned[def.ID] = n
		}
		if def.Produces() && n > 0 {
			s.st.Progress[def.ID] = clampProgress(snap.Progress[def.ID])
		}
	}
	return s
}

func (s *Store) Catalog() *catalog.Catalog {
	return s.cat
}

// Tick advances every producing unit by deltaMs, crediting each completed
// cycle. Multiple completions in one call are all credited. Negative deltas
// are treated as zero.
func (s *Store) Tick(deltaMs float64) TickResult {
	if deltaMs <= 0 || math.IsNaN(deltaMs) || math.IsInf(deltaMs, 0) {
		return TickResult{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var res TickResult
	for _, def := range s.cat.Units() {
		n := s.st.Owned[def.ID]
		if n <= 0 || !def.Produces() {
			continue
		}
		dur := EffectiveCycleMs(def, n)
		if dur <= 0 {
			continue
		}
		p := s.st.Progress[def.ID] + deltaMs/dur
		if p >= 1 {
			done := math.Floor(p)
			p -= done
			earned := PayoutPerCycle(def, n) * done
			s.credit(earned)
			res.Completions += int64(done)
			res.Earned += earned
		}
		s.st.Progress[def.ID] = clampProgress(p)
	}
	return res
}

// ApplyClick credits one click. A hint caps the multiplier applied; a
// non-positive hint is rejected with ErrInvalidMultiplier and earns nothing.
func (s *Store) ApplyClick(now time.Time, hint *float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(now)
	mult := s.st.Streak.MultiplierAt(now)
	if hint != nil {
		if *hint <= 0 || math.IsNaN(*hint) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidMultiplier, *hint)
		}
		if *hint < mult {
			mult = *hint
		}
	}
	if mult <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidMultiplier, mult)
	}
	earned := ClickYield(ClickerCount(s.cat, s.st.Owned)) * mult
	s.credit(earned)
	if s.st.Streak.Active(now) {
		s.st.Streak = s.st.Streak.record(now, s.streak)
	}
	return earned, nil
}

// Purchase buys one unit. Cost comes out of the balance only; lifetime
// earnings and other units' progress are untouched.
func (s *Store) Purchase(unitID string) (PurchaseResult, error) {
	def, ok := s.cat.Get(unitID)
	if !ok {
		return PurchaseResult{}, fmt.Errorf("%w: %s", ErrUnknownUnit, unitID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	owned := s.st.Owned[unitID]
	if def.Capped() && owned >= def.MaxOwned {
		return PurchaseResult{}, fmt.Errorf("%w: %s (%d)", ErrCapReached, unitID, def.MaxOwned)
	}
	cost := CostToBuyNext(def, owned)
	if s.st.Balance < cost {
		return PurchaseResult{}, fmt.Errorf("%w: need %.0f have %.0f", ErrInsufficientFunds, cost, math.Floor(s.st.Balance))
	}
	s.st.Balance -= cost
	owned++
	s.st.Owned[unitID] = owned
	if def.Produces() {
		if _, ok := s.st.Progress[unitID]; !ok {
			s.st.Progress[unitID] = 0
		}
	}
	return PurchaseResult{
		UnitID:   unitID,
		Owned:    owned,
		Spent:    cost,
		NextCost: CostToBuyNext(def, owned),
	}, nil
}

// StartMultiplierStreak enters Active(1) with the given multiplier and window,
// replacing any streak in progress.
func (s *Store) StartMultiplierStreak(now time.Time, base float64, d time.Duration) Streak {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	s.st.Streak = startStreak(now, base, d)
	return s.st.Streak
}

// BeginStreak handles the triggering gesture: Idle enters Active(1) with the
// configured base multiplier, an active streak is left as is.
func (s *Store) BeginStreak(now time.Time) Streak {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	if !s.st.Streak.Active(now) {
		s.st.Streak = startStreak(now, s.streak.BaseMultiplier, s.streak.durationFor(1))
	}
	return s.st.Streak
}

// ExtendStreak pushes the expiry of an active streak to at least now+d.
func (s *Store) ExtendStreak(now time.Time, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	if !s.st.Streak.Active(now) {
		return false
	}
	s.st.Streak = s.st.Streak.extend(now, d)
	return true
}

// EscalateStreak doubles the multiplier up to the ceiling and resets the
// action counter and expiry for the new tier.
func (s *Store) EscalateStreak(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	if !s.st.Streak.Active(now) {
		return false
	}
	s.st.Streak = s.st.Streak.escalate(now, s.streak)
	return true
}

// SweepStreak drops a lapsed streak back to Idle, returning how long it ran.
func (s *Store) SweepStreak(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

func (s *Store) sweepLocked(now time.Time) (time.Duration, bool) {
	next, length, lapsed := s.st.Streak.lapse(now)
	if !lapsed {
		return 0, false
	}
	s.st.Streak = next
	s.recordStreakLocked(length.Milliseconds())
	return length, true
}

// RecordStreakEnded folds a client-reported streak duration into the
// longest-streak record.
func (s *Store) RecordStreakEnded(durationMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordStreakLocked(durationMs)
}

func (s *Store) recordStreakLocked(ms int64) {
	if ms > s.st.LongestStreakMs {
		s.st.LongestStreakMs = ms
	}
}

func (s *Store) AddOnlineTime(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.TimeOnlineMs += d.Milliseconds()
}

// ApplyOffline fast-forwards the store by elapsed (already clamped by the
// caller) and credits the summed payout once.
func (s *Store) ApplyOffline(elapsed time.Duration) OfflineResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, progress := Reconcile(s.cat, s.st.Owned, s.st.Progress, elapsed)
	s.st.Progress = progress
	s.credit(res.Earnings)
	return res
}

// ProgressFor returns the authoritative cycle progress of the requested
// units. Unknown or non-producing ids are omitted.
func (s *Store) ProgressFor(ids []string) map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(ids))
	for _, id := range ids {
		def, ok := s.cat.Get(id)
		if !ok || !def.Produces() {
			continue
		}
		out[id] = s.st.Progress[id]
	}
	return out
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Balance:         s.st.Balance,
		LifetimeEarned:  s.st.LifetimeEarned,
		Owned:           copyOwned(s.st.Owned),
		Progress:        copyProgress(s.st.Progress),
		LastSaveTime:    s.st.LastSaveTime,
		LongestStreakMs: s.st.LongestStreakMs,
		TimeOnlineMs:    s.st.TimeOnlineMs,
	}
}

// State returns a deep copy of the current record.
func (s *Store) State() EconomyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.st
	out.Owned = copyOwned(s.st.Owned)
	out.Progress = copyProgress(s.st.Progress)
	return out
}

func (s *Store) MarkSaved(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.LastSaveTime = at
}

func (s *Store) MarkJoined(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.LastJoinTime = at
}

// credit adds to both balance and lifetime earnings; callers hold mu.
func (s *Store) credit(amount float64) {
	if amount <= 0 || math.IsNaN(amount) {
		return
	}
	s.st.Balance += amount
	s.st.LifetimeEarned += amount
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

func copyOwned(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyProgress(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
