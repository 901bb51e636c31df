package game

import (
	"math"
	"time"

	"idlecore/internal/catalog"
)

// OfflineResult is the "welcome back" summary of a reconciliation.
type OfflineResult struct {
	Elapsed     time.Duration
	Earnings    float64
	Completions int64
}

// ClampElapsed bounds offline time to [0, max]. A save time in the future
// (clock skew) yields zero.
func ClampElapsed(elapsed, max time.Duration) time.Duration {
	if elapsed < 0 {
		return 0
	}
	if max > 0 && elapsed > max {
		return max
	}
	return elapsed
}

// ReconcileUnit replays elapsedMs of production for a single unit line at a
// fixed owned count: the partial cycle is finished first, then whole cycles
// are counted, and the remainder becomes the new progress fraction.
func ReconcileUnit(def catalog.UnitDefinition, owned int, progress0, elapsedMs float64) (payout float64, completions int64, progress float64) {
	progress0 = clampProgress(progress0)
	if owned <= 0 || !def.Produces() || elapsedMs <= 0 {
		return 0, 0, progress0
	}
	dur := EffectiveCycleMs(def, owned)
	if dur <= 0 {
		return 0, 0, progress0
	}

	toFirst := (1 - progress0) * dur
	if elapsedMs < toFirst {
		return 0, 0, clampProgress(progress0 + elapsedMs/dur)
	}

	per := PayoutPerCycle(def, owned)
	remaining := elapsedMs - toFirst
	full := math.Floor(remaining / dur)
	leftover := remaining - full*dur
	if leftover < 0 {
		leftover = 0
	}
	completions = 1 + int64(full)
	return per * float64(completions), completions, clampProgress(leftover / dur)
}

// Reconcile runs ReconcileUnit independently for every owned producing unit.
// Units with a zero owned count are skipped and keep their progress.
func Reconcile(cat *catalog.Catalog, owned map[string]int, progress map[string]float64, elapsed time.Duration) (OfflineResult, map[string]float64) {
	out := OfflineResult{Elapsed: elapsed}
	next := make(map[string]float64, len(progress))
	for id, p := range progress {
		next[id] = p
	}
	elapsedMs := float64(elapsed) / float64(time.Millisecond)
	for _, def := range cat.Units() {
		n := owned[def.ID]
		if n <= 0 || !def.Produces() {
			continue
		}
		payout, completions, p := ReconcileUnit(def, n, progress[def.ID], elapsedMs)
		out.Earnings += payout
		out.Completions += completions
		next[def.ID] = p
	}
	return out, next
}

func clampProgress(p float64) float64 {
	if math.IsNaN(p) || p < 0 || math.IsInf(p, 0) {
		return 0
	}
	if p >= 1 {
		return math.Nextafter(1, 0)
	}
	return p
}
