package game

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fundedStore(t *testing.T, balance float64) *Store {
	t.Helper()
	return Restore(testCatalog(t), DefaultStreakConfig(), Snapshot{Balance: balance, LifetimeEarned: balance}, t0)
}

func TestNewStoreDefaults(t *testing.T) {
	s := NewStore(testCatalog(t), DefaultStreakConfig(), t0)
	st := s.State()
	assert.Equal(t, 0.0, st.Balance)
	assert.Equal(t, 0.0, st.LifetimeEarned)
	assert.Empty(t, st.Owned)
	assert.True(t, st.LastSaveTime.Equal(t0))
	assert.True(t, st.LastJoinTime.Equal(t0))
}

func TestPurchaseDeductsBalanceOnly(t *testing.T) {
	s := fundedStore(t, 100)

	res, err := s.Purchase("a")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Owned)
	assert.Equal(t, 15.0, res.Spent)
	assert.Equal(t, 17.0, res.NextCost)

	st := s.State()
	assert.Equal(t, 85.0, st.Balance)
	assert.Equal(t, 100.0, st.LifetimeEarned)
	assert.Equal(t, 0.0, st.Progress["a"])
}

func TestPurchaseErrors(t *testing.T) {
	s := fundedStore(t, 10)

	_, err := s.Purchase("nope")
	assert.ErrorIs(t, err, ErrUnknownUnit)

	_, err = s.Purchase("a")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 10.0, s.State().Balance)

	capped := Restore(testCatalog(t), DefaultStreakConfig(), Snapshot{
		Balance: 1e12,
		Owned:   map[string]int{"clicker": 24},
	}, t0)
	_, err = capped.Purchase("clicker")
	assert.ErrorIs(t, err, ErrCapReached)
	assert.Equal(t, 24, capped.State().Owned["clicker"])
}

func TestPurchaseLeavesOtherProgress(t *testing.T) {
	s := Restore(testCatalog(t), DefaultStreakConfig(), Snapshot{
		Balance:  1000,
		Owned:    map[string]int{"a": 1},
		Progress: map[string]float64{"a": 0.6},
	}, t0)
	_, err := s.Purchase("b")
	require.NoError(t, err)
	assert.Equal(t, 0.6, s.State().Progress["a"])
}

func TestBalanceNeverNegativeAcrossPurchases(t *testing.T) {
	s := fundedStore(t, 5000)
	for i := 0; i < 200; i++ {
		for _, id := range []string{"a", "b", "c", "clicker"} {
			_, _ = s.Purchase(id)
			require.GreaterOrEqual(t, s.State().Balance, 0.0)
		}
	}
}

func TestTickCreditsCompletedCycles(t *testing.T) {
	s := Restore(testCatalog(t), DefaultStreakConfig(), Snapshot{Owned: map[string]int{"a": 1}}, t0)

	res := s.Tick(4_000)
	assert.Equal(t, int64(0), res.Completions)
	assert.InDelta(t, 0.4, s.State().Progress["a"], 1e-12)

	res = s.Tick(27_000)
	assert.Equal(t, int64(3), res.Completions)
	assert.Equal(t, 30.0, res.Earned)
	st := s.State()
	assert.InDelta(t, 0.1, st.Progress["a"], 1e-9)
	assert.Equal(t, 30.0, st.Balance)
	assert.Equal(t, 30.0, st.LifetimeEarned)
}

func TestTickRejectsNegativeDelta(t *testing.T) {
	s := Restore(testCatalog(t), DefaultStreakConfig(), Snapshot{
		Owned:    map[string]int{"a": 1},
		Progress: map[string]float64{"a": 0.5},
	}, t0)
	res := s.Tick(-5_000)
	assert.Equal(t, TickResult{}, res)
	assert.Equal(t, 0.5, s.State().Progress["a"])
}

func TestTierCrossingOnlyAtTenthUnit(t *testing.T) {
	s := Restore(testCatalog(t), DefaultStreakConfig(), Snapshot{
		Balance:  1e9,
		Owned:    map[string]int{"a": 5},
		Progress: map[string]float64{"a": 0.5},
	}, t0)
	for i := 0; i < 4; i++ {
		_, err := s.Purchase("a")
		require.NoError(t, err)
	}
	// nine owned: 1s of ticking is a tenth of a base cycle.
	s.Tick(1_000)
	assert.InDelta(t, 0.6, s.State().Progress["a"], 1e-12)

	_, err := s.Purchase("a")
	require.NoError(t, err)
	// ten owned: the same 1s is now a fifth of the cycle, progress fraction kept.
	s.Tick(1_000)
	assert.InDelta(t, 0.8, s.State().Progress["a"], 1e-12)
}

func TestTickMatchesReconcile(t *testing.T) {
	snap := Snapshot{
		Owned:    map[string]int{"a": 3, "b": 12, "c": 30},
		Progress: map[string]float64{"a": 0.25, "b": 0.5, "c": 0.125},
	}
	live := Restore(testCatalog(t), DefaultStreakConfig(), snap, t0)
	offline := Restore(testCatalog(t), DefaultStreakConfig(), snap, t0)

	for i := 0; i < 640; i++ {
		live.Tick(62.5)
	}
	res := offline.ApplyOffline(40 * time.Second)

	assert.Equal(t, live.State().Balance, offline.State().Balance)
	assert.Equal(t, res.Earnings, offline.State().LifetimeEarned)
	for id, p := range live.State().Progress {
		assert.InDelta(t, p, offline.State().Progress[id], 1e-9, id)
	}
}

func TestApplyClick(t *testing.T) {
	s := Restore(testCatalog(t), DefaultStreakConfig(), Snapshot{Owned: map[string]int{"clicker": 3}}, t0)

	earned, err := s.ApplyClick(t0, nil)
	require.NoError(t, err)
	assert.Equal(t, 4.0, earned)

	bad := -2.0
	earned, err = s.ApplyClick(t0, &bad)
	assert.ErrorIs(t, err, ErrInvalidMultiplier)
	assert.Equal(t, 0.0, earned)
	assert.Equal(t, 4.0, s.State().Balance)
}

func TestApplyClickHintCannotExceedServerMultiplier(t *testing.T) {
	s := NewStore(testCatalog(t), DefaultStreakConfig(), t0)
	hint := 16.0
	earned, err := s.ApplyClick(t0, &hint)
	require.NoError(t, err)
	assert.Equal(t, 1.0, earned)

	s.BeginStreak(t0)
	earned, err = s.ApplyClick(t0.Add(time.Second), &hint)
	require.NoError(t, err)
	assert.Equal(t, 2.0, earned)

	low := 0.5
	earned, err = s.ApplyClick(t0.Add(2*time.Second), &low)
	require.NoError(t, err)
	assert.Equal(t, 0.5, earned)
}

func TestLifetimeNeverDecreases(t *testing.T) {
	s := fundedStore(t, 500)
	last := s.State().LifetimeEarned
	step := func() {
		cur := s.State().LifetimeEarned
		require.GreaterOrEqual(t, cur, last)
		last = cur
	}
	for i := 0; i < 50; i++ {
		_, _ = s.ApplyClick(t0, nil)
		step()
		_, _ = s.Purchase("a")
		step()
		s.Tick(750)
		step()
		s.ApplyOffline(time.Duration(i) * time.Second)
		step()
	}
}

func TestRestoreRepairsSnapshot(t *testing.T) {
	s := Restore(testCatalog(t), DefaultStreakConfig(), Snapshot{
		Balance:  -40,
		Owned:    map[string]int{"a": -2, "clicker": 99, "ghost": 7, "b": 2},
		Progress: map[string]float64{"b": 3.5, "a": 0.2},
	}, t0)
	st := s.State()
	assert.Equal(t, 0.0, st.Balance)
	assert.Equal(t, 24, st.Owned["clicker"])
	assert.NotContains(t, st.Owned, "a")
	assert.NotContains(t, st.Owned, "ghost")
	assert.Less(t, st.Progress["b"], 1.0)
	assert.NotContains(t, st.Progress, "a")
}

func TestSnapshotIsCopy(t *testing.T) {
	s := Restore(testCatalog(t), DefaultStreakConfig(), Snapshot{Owned: map[string]int{"a": 2}}, t0)
	snap := s.Snapshot()
	snap.Owned["a"] = 50
	assert.Equal(t, 2, s.State().Owned["a"])
}

func TestProgressFor(t *testing.T) {
	s := Restore(testCatalog(t), DefaultStreakConfig(), Snapshot{
		Owned:    map[string]int{"a": 1},
		Progress: map[string]float64{"a": 0.3},
	}, t0)
	got := s.ProgressFor([]string{"a", "b", "clicker", "ghost"})
	assert.Equal(t, map[string]float64{"a": 0.3, "b": 0}, got)
}

func TestViewReportsUnits(t *testing.T) {
	s := Restore(testCatalog(t), DefaultStreakConfig(), Snapshot{
		Balance: 42,
		Owned:   map[string]int{"a": 10, "clicker": 2},
	}, t0)
	v := s.View(t0)
	assert.Equal(t, 42.0, v.Balance)
	assert.Equal(t, 3.0, v.ClickYield)
	assert.Equal(t, 1.0, v.ClickMultiplier)
	require.Len(t, v.Units, 4)
	assert.Equal(t, "a", v.Units[1].ID)
	assert.Equal(t, 1, v.Units[1].Tier)
	assert.Equal(t, 5_000.0, v.Units[1].CycleMs)
	assert.Equal(t, 25, v.Units[1].NextTierAt)
	assert.InDelta(t, v.Units[1].EarnRate, v.EarnRate, 1e-9)
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := fundedStore(t, 1e6)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.Tick(50)
				_, _ = s.ApplyClick(t0, nil)
				_, _ = s.Purchase("b")
				_ = s.View(t0)
			}
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, s.State().Balance, 0.0)
}
