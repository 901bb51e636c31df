package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"idlecore/internal/catalog"
	"idlecore/internal/clock"
	"idlecore/internal/game"
)

const (
	FieldBalance         = "balance"
	FieldLifetimeEarned  = "lifetimeEarned"
	FieldOwnedCounts     = "ownedCounts"
	FieldCycleProgress   = "cycleProgress"
	FieldLastSaveTime    = "lastSaveTime"
	FieldLongestStreakMs = "longestStreakMs"
	FieldTimeOnlineMs    = "timeOnlineMs"
)

var (
	ErrUnavailable = errors.New("storage unavailable")
	errMalformed   = errors.New("malformed value")
)

// LoadInfo describes how a snapshot was assembled.
type LoadInfo struct {
	// Fresh is set when the store held no field at all for the player.
	Fresh bool
	// Defaulted lists the fields that were missing or malformed.
	Defaulted []string
}

// Adapter maps game snapshots onto a KV surface.
type Adapter struct {
	kv  KV
	cat *catalog.Catalog
	clk clock.Clock
	log *slog.Logger

	// Serializes saves so the last call to Save is the last write applied.
	mu sync.Mutex
}

func NewAdapter(kv KV, cat *catalog.Catalog, clk clock.Clock, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Adapter{kv: kv, cat: cat, clk: clk, log: logger}
}

// Load reads every field independently. Missing or malformed fields fall
// back to their defaults; only a backend failure aborts the load.
func (a *Adapter) Load(ctx context.Context, playerKey string) (game.Snapshot, LoadInfo, error) {
	now := a.clk.Now()
	snap := game.Snapshot{
		Owned:        make(map[string]int),
		Progress:     make(map[string]float64),
		LastSaveTime: now,
	}
	var info LoadInfo
	found := 0

	read := func(field string, apply func(raw []byte) error) error {
		raw, ok, err := a.kv.Get(ctx, playerKey, field)
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", ErrUnavailable, field, err)
		}
		if !ok {
			info.Defaulted = append(info.Defaulted, field)
			return nil
		}
		found++
		if err := apply(raw); err != nil {
			info.Defaulted = append(info.Defaulted, field)
			a.log.Warn("stored field malformed, using default", "player", playerKey, "field", field, "err", err)
		}
		return nil
	}

	steps := []struct {
		field string
		apply func(raw []byte) error
	}{
		{FieldBalance, func(raw []byte) error {
			v, err := decodeCurrency(raw)
			snap.Balance = v
			return err
		}},
		{FieldLifetimeEarned, func(raw []byte) error {
			v, err := decodeCurrency(raw)
			snap.LifetimeEarned = v
			return err
		}},
		{FieldOwnedCounts, func(raw []byte) error {
			return a.decodeOwned(raw, snap.Owned)
		}},
		{FieldCycleProgress, func(raw []byte) error {
			return a.decodeProgress(raw, snap.Progress)
		}},
		{FieldLastSaveTime, func(raw []byte) error {
			ms, err := decodeInt(raw)
			if err != nil {
				return err
			}
			snap.LastSaveTime = time.UnixMilli(ms)
			return nil
		}},
		{FieldLongestStreakMs, func(raw []byte) error {
			ms, err := decodeNonNegativeInt(raw)
			snap.LongestStreakMs = ms
			return err
		}},
		{FieldTimeOnlineMs, func(raw []byte) error {
			ms, err := decodeNonNegativeInt(raw)
			snap.TimeOnlineMs = ms
			return err
		}},
	}
	for _, step := range steps {
		if err := read(step.field, step.apply); err != nil {
			return game.Snapshot{}, LoadInfo{}, err
		}
	}
	info.Fresh = found == 0
	return snap, info, nil
}

// Save writes the whole snapshot as one unit, truncating currency to whole
// numbers and stamping lastSaveTime with the current time, which it returns.
func (a *Adapter) Save(ctx context.Context, playerKey string, snap game.Snapshot) (time.Time, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clk.Now()
	owned := make(map[string]int, len(snap.Owned))
	for id, n := range snap.Owned {
		if n > 0 {
			owned[id] = n
		}
	}
	values := map[string]any{
		FieldBalance:         truncCurrency(snap.Balance),
		FieldLifetimeEarned:  truncCurrency(snap.LifetimeEarned),
		FieldOwnedCounts:     owned,
		FieldCycleProgress:   snap.Progress,
		FieldLastSaveTime:    now.UnixMilli(),
		FieldLongestStreakMs: snap.LongestStreakMs,
		FieldTimeOnlineMs:    snap.TimeOnlineMs,
	}
	fields := make(map[string][]byte, len(values))
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("encode %s: %w", k, err)
		}
		fields[k] = raw
	}
	if err := a.kv.PutAll(ctx, playerKey, fields); err != nil {
		return time.Time{}, fmt.Errorf("save %s: %w", playerKey, err)
	}
	return now, nil
}

func (a *Adapter) decodeOwned(raw []byte, out map[string]int) error {
	m, err := decodeObject(raw)
	if err != nil {
		return err
	}
	var bad []string
	for id, v := range m {
		if !a.cat.Has(id) {
			continue
		}
		n, err := numberToInt(v)
		if err != nil || n < 0 {
			bad = append(bad, id)
			continue
		}
		if n > 0 {
			out[id] = int(n)
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: owned counts for %v", errMalformed, bad)
	}
	return nil
}

func (a *Adapter) decodeProgress(raw []byte, out map[string]float64) error {
	m, err := decodeObject(raw)
	if err != nil {
		return err
	}
	var bad []string
	for id, v := range m {
		if !a.cat.Has(id) {
			continue
		}
		num, ok := v.(json.Number)
		if !ok {
			bad = append(bad, id)
			continue
		}
		p, err := num.Float64()
		if err != nil || math.IsNaN(p) || p < 0 || p >= 1 {
			bad = append(bad, id)
			continue
		}
		out[id] = p
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: cycle progress for %v", errMalformed, bad)
	}
	return nil
}

func decodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return v, nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	v, err := decodeValue(raw)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: want object, got %T", errMalformed, v)
	}
	return m, nil
}

func decodeInt(raw []byte) (int64, error) {
	v, err := decodeValue(raw)
	if err != nil {
		return 0, err
	}
	return numberToInt(v)
}

func decodeNonNegativeInt(raw []byte) (int64, error) {
	n, err := decodeInt(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative %d", errMalformed, n)
	}
	return n, nil
}

// decodeCurrency accepts any finite non-negative number and drops the
// fractional part.
func decodeCurrency(raw []byte) (float64, error) {
	v, err := decodeValue(raw)
	if err != nil {
		return 0, err
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: want number, got %T", errMalformed, v)
	}
	f, err := num.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, fmt.Errorf("%w: currency %s", errMalformed, num.String())
	}
	return math.Trunc(f), nil
}

func numberToInt(v any) (int64, error) {
	num, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: want number, got %T", errMalformed, v)
	}
	if n, err := num.Int64(); err == nil {
		return n, nil
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, fmt.Errorf("%w: want integer, got %s", errMalformed, num.String())
	}
	return int64(f), nil
}

// truncCurrency returns the whole-number part as an int64 when it fits, so
// the stored value is an exact integer; larger balances stay float.
func truncCurrency(v float64) any {
	if math.IsNaN(v) || v < 0 {
		return int64(0)
	}
	t := math.Trunc(v)
	if t < 1<<62 {
		return int64(t)
	}
	if math.IsInf(t, 0) {
		return math.MaxFloat64
	}
	return t
}
