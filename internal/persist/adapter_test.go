package persist

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idlecore/internal/catalog"
	"idlecore/internal/clock"
	"idlecore/internal/game"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newAdapter(t *testing.T) (*Adapter, *MemoryKV, *clock.Fake) {
	t.Helper()
	cat, err := catalog.New([]catalog.UnitDefinition{
		{ID: "clicker", BaseCost: 15, MaxOwned: 24, ClickBonus: true},
		{ID: "a", BaseCost: 15, BasePayout: 10, BaseCycleMs: 10_000},
		{ID: "b", BaseCost: 100, BasePayout: 6, BaseCycleMs: 3_000},
	})
	require.NoError(t, err)
	kv := NewMemoryKV()
	clk := clock.NewFake(t0)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewAdapter(kv, cat, clk, logger), kv, clk
}

func TestLoadFreshPlayerDefaults(t *testing.T) {
	a, _, _ := newAdapter(t)
	snap, info, err := a.Load(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, info.Fresh)
	assert.Len(t, info.Defaulted, 7)
	assert.Zero(t, snap.Balance)
	assert.Zero(t, snap.LifetimeEarned)
	assert.Empty(t, snap.Owned)
	assert.Empty(t, snap.Progress)
	assert.Equal(t, t0, snap.LastSaveTime)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	a, _, clk := newAdapter(t)
	ctx := context.Background()
	in := game.Snapshot{
		Balance:         1234.9,
		LifetimeEarned:  9876.5,
		Owned:           map[string]int{"a": 3, "clicker": 2},
		Progress:        map[string]float64{"a": 0.4375, "b": 0},
		LongestStreakMs: 12_000,
		TimeOnlineMs:    90_000,
	}
	clk.Advance(time.Minute)
	savedAt, err := a.Save(ctx, "p1", in)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Minute), savedAt)

	out, info, err := a.Load(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, info.Fresh)
	assert.Empty(t, info.Defaulted)
	assert.Equal(t, 1234.0, out.Balance)
	assert.Equal(t, 9876.0, out.LifetimeEarned)
	assert.Equal(t, in.Owned, out.Owned)
	assert.Equal(t, in.Progress, out.Progress)
	assert.Equal(t, int64(12_000), out.LongestStreakMs)
	assert.Equal(t, int64(90_000), out.TimeOnlineMs)
	assert.True(t, savedAt.Equal(out.LastSaveTime))
}

func TestLoadToleratesMalformedOwnedCounts(t *testing.T) {
	a, kv, _ := newAdapter(t)
	kv.Set("p1", FieldBalance, []byte(`500`))
	kv.Set("p1", FieldOwnedCounts, []byte(`"not a map"`))
	kv.Set("p1", FieldCycleProgress, []byte(`{"a":0.5}`))

	snap, info, err := a.Load(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, info.Fresh)
	assert.Contains(t, info.Defaulted, FieldOwnedCounts)
	assert.Equal(t, 500.0, snap.Balance)
	assert.Empty(t, snap.Owned)
	assert.Equal(t, 0.5, snap.Progress["a"])
}

func TestLoadDropsUnknownAndBadEntries(t *testing.T) {
	a, kv, _ := newAdapter(t)
	kv.Set("p1", FieldOwnedCounts, []byte(`{"a":4,"retired":9,"b":-2,"clicker":1.5}`))
	kv.Set("p1", FieldCycleProgress, []byte(`{"a":1.5,"b":0.25,"ghost":0.1}`))

	snap, info, err := a.Load(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 4}, snap.Owned)
	assert.Equal(t, map[string]float64{"b": 0.25}, snap.Progress)
	assert.Contains(t, info.Defaulted, FieldOwnedCounts)
	assert.Contains(t, info.Defaulted, FieldCycleProgress)
}

func TestLoadMalformedScalars(t *testing.T) {
	a, kv, _ := newAdapter(t)
	kv.Set("p1", FieldBalance, []byte(`"lots"`))
	kv.Set("p1", FieldLifetimeEarned, []byte(`-5`))
	kv.Set("p1", FieldLastSaveTime, []byte(`{broken`))
	kv.Set("p1", FieldLongestStreakMs, []byte(`true`))
	kv.Set("p1", FieldTimeOnlineMs, []byte(`3000.75`))

	snap, info, err := a.Load(context.Background(), "p1")
	require.NoError(t, err)
	assert.Zero(t, snap.Balance)
	assert.Zero(t, snap.LifetimeEarned)
	assert.Equal(t, t0, snap.LastSaveTime)
	assert.Zero(t, snap.LongestStreakMs)
	assert.Zero(t, snap.TimeOnlineMs)
	assert.Subset(t, info.Defaulted, []string{FieldBalance, FieldLifetimeEarned, FieldLastSaveTime, FieldLongestStreakMs, FieldTimeOnlineMs})
}

func TestLoadFractionalCurrencyTruncates(t *testing.T) {
	a, kv, _ := newAdapter(t)
	kv.Set("p1", FieldBalance, []byte(`42.99`))
	snap, _, err := a.Load(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 42.0, snap.Balance)
}

func TestLoadBackendFailure(t *testing.T) {
	a, kv, _ := newAdapter(t)
	kv.FailReads(true)
	_, _, err := a.Load(context.Background(), "p1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSaveFailureLeavesPreviousSnapshot(t *testing.T) {
	a, kv, _ := newAdapter(t)
	ctx := context.Background()
	_, err := a.Save(ctx, "p1", game.Snapshot{Balance: 10, Owned: map[string]int{"a": 1}})
	require.NoError(t, err)

	kv.FailWrites(true)
	_, err = a.Save(ctx, "p1", game.Snapshot{Balance: 99, Owned: map[string]int{"a": 7}})
	require.ErrorIs(t, err, ErrInjected)
	kv.FailWrites(false)

	snap, _, err := a.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, snap.Balance)
	assert.Equal(t, 1, snap.Owned["a"])
	assert.Equal(t, 1, kv.Writes())
}

func TestSaveDropsZeroCounts(t *testing.T) {
	a, kv, _ := newAdapter(t)
	_, err := a.Save(context.Background(), "p1", game.Snapshot{Owned: map[string]int{"a": 0, "b": 2}})
	require.NoError(t, err)
	raw, ok, err := kv.Get(context.Background(), "p1", FieldOwnedCounts)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"b":2}`, string(raw))
}

func TestTruncCurrency(t *testing.T) {
	assert.Equal(t, int64(0), truncCurrency(-3))
	assert.Equal(t, int64(12), truncCurrency(12.9))
	assert.Equal(t, 1e20, truncCurrency(1e20))
}
