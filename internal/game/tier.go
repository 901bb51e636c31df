package game

import (
	"math"

	"idlecore/internal/catalog"
)

// TierThresholds are the owned counts at which a unit line doubles its speed.
var TierThresholds = []int{10, 25, 50, 100, 150, 200, 350, 500, 750, 1000}

// Tier is the number of thresholds at or below owned.
func Tier(owned int) int {
	t := 0
	for _, threshold := range TierThresholds {
		if owned < threshold {
			break
		}
		t++
	}
	return t
}

func SpeedMultiplier(tier int) float64 {
	if tier < 0 {
		tier = 0
	}
	return math.Pow(2, float64(tier))
}

// EffectiveCycleMs applies the tier speed multiplier for the current owned
// count. There is no grandfathering: a threshold crossing shortens the
// duration of the in-flight cycle immediately.
func EffectiveCycleMs(def catalog.UnitDefinition, owned int) float64 {
	return float64(def.BaseCycleMs) / SpeedMultiplier(Tier(owned))
}

// NextTierAt returns the owned count that unlocks the next tier, or 0 once
// the last threshold has been passed.
func NextTierAt(owned int) int {
	for _, threshold := range TierThresholds {
		if owned < threshold {
			return threshold
		}
	}
	return 0
}
