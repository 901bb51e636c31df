package game

import (
	"errors"
	"math"
	"time"

	"idlecore/internal/catalog"
)

const (
	// GrowthFactor is the per-owned-unit multiplier applied to a unit's base cost.
	GrowthFactor = 1.15
	// BonusFactor compounds the payout of every additional owned unit.
	BonusFactor = 1.087

	BaseClickAmount = 1.0

	DefaultMaxOffline = 7 * 24 * time.Hour
)

var (
	ErrUnknownUnit       = errors.New("unknown unit")
	ErrCapReached        = errors.New("unit cap reached")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidMultiplier = errors.New("invalid click multiplier")
)

// IsValidation reports whether err is a caller-correctable rejection that
// leaves state unchanged.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnknownUnit) ||
		errors.Is(err, ErrCapReached) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidMultiplier)
}

// CostToBuyNext is floor(baseCost * 1.15^owned).
func CostToBuyNext(def catalog.UnitDefinition, owned int) float64 {
	if owned < 0 {
		owned = 0
	}
	return math.Floor(def.BaseCost * math.Pow(GrowthFactor, float64(owned)))
}

// PayoutPerCycle is the rounded geometric sum of basePayout * 1.087^i for
// i in [0, owned).
func PayoutPerCycle(def catalog.UnitDefinition, owned int) float64 {
	if owned <= 0 || def.BasePayout <= 0 {
		return 0
	}
	sum := 0.0
	term := def.BasePayout
	for i := 0; i < owned; i++ {
		sum += term
		if math.IsInf(sum, 1) {
			return sum
		}
		term *= BonusFactor
	}
	return math.Round(sum)
}

// EarnRate is the per-second display rate for one unit line. Payout itself is
// only ever credited on cycle boundaries.
func EarnRate(def catalog.UnitDefinition, owned int) float64 {
	if owned <= 0 || !def.Produces() {
		return 0
	}
	dur := EffectiveCycleMs(def, owned)
	if dur <= 0 {
		return 0
	}
	return PayoutPerCycle(def, owned) / dur * 1000
}

// TotalEarnRate sums EarnRate across the catalog for the given owned counts.
func TotalEarnRate(cat *catalog.Catalog, owned map[string]int) float64 {
	total := 0.0
	for _, def := range cat.Units() {
		total += EarnRate(def, owned[def.ID])
	}
	return total
}

// ClickYield is the base amount one click earns before any streak multiplier.
func ClickYield(clickers int) float64 {
	if clickers < 0 {
		clickers = 0
	}
	return BaseClickAmount + float64(clickers)
}

// ClickerCount totals the owned units flagged as click bonuses.
func ClickerCount(cat *catalog.Catalog, owned map[string]int) int {
	n := 0
	for _, def := range cat.Units() {
		if def.ClickBonus {
			n += owned[def.ID]
		}
	}
	return n
}
