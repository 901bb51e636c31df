package game

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"idlecore/internal/catalog"
)

func unitA() catalog.UnitDefinition {
	return catalog.UnitDefinition{ID: "a", BaseCost: 15, BasePayout: 10, BaseCycleMs: 10_000}
}

func TestCostToBuyNextScenario(t *testing.T) {
	def := unitA()
	assert.Equal(t, 15.0, CostToBuyNext(def, 0))
	assert.Equal(t, 17.0, CostToBuyNext(def, 1))
}

func TestCostToBuyNextStrictlyIncreasing(t *testing.T) {
	for _, base := range []float64{7, 15, 100, 1100, 5_100_000_000} {
		def := catalog.UnitDefinition{ID: "x", BaseCost: base, BaseCycleMs: 1000}
		prev := CostToBuyNext(def, 0)
		if prev < base || prev != math.Floor(prev) {
			t.Fatalf("base=%v owned=0 cost=%v", base, prev)
		}
		for n := 1; n <= 200; n++ {
			got := CostToBuyNext(def, n)
			if got <= prev {
				t.Fatalf("base=%v owned=%d cost=%v not above %v", base, n, got, prev)
			}
			if got != math.Floor(got) {
				t.Fatalf("base=%v owned=%d cost=%v not integral", base, n, got)
			}
			prev = got
		}
	}
}

func TestPayoutPerCycle(t *testing.T) {
	def := unitA()
	assert.Equal(t, 0.0, PayoutPerCycle(def, 0))
	assert.Equal(t, 10.0, PayoutPerCycle(def, 1))

	for _, n := range []int{2, 5, 17, 60, 250} {
		closed := def.BasePayout * (math.Pow(BonusFactor, float64(n)) - 1) / (BonusFactor - 1)
		got := PayoutPerCycle(def, n)
		assert.InDelta(t, closed, got, math.Max(1, closed*1e-9), "owned=%d", n)
		assert.Equal(t, math.Round(got), got, "owned=%d", n)
	}
}

func TestEarnRateUsesTierSpeed(t *testing.T) {
	def := unitA()
	assert.Equal(t, 0.0, EarnRate(def, 0))
	assert.InDelta(t, 1.0, EarnRate(def, 1), 1e-12)

	nine := EarnRate(def, 9)
	ten := EarnRate(def, 10)
	assert.InDelta(t, PayoutPerCycle(def, 9)/10, nine, 1e-9)
	assert.InDelta(t, PayoutPerCycle(def, 10)/5, ten, 1e-9)

	clicker := catalog.UnitDefinition{ID: "c", BaseCost: 15, ClickBonus: true}
	assert.Equal(t, 0.0, EarnRate(clicker, 5))
}

func TestClickYield(t *testing.T) {
	assert.Equal(t, 1.0, ClickYield(0))
	assert.Equal(t, 25.0, ClickYield(24))
	assert.Equal(t, 1.0, ClickYield(-3))
}

func TestIsValidation(t *testing.T) {
	for _, err := range []error{ErrUnknownUnit, ErrCapReached, ErrInsufficientFunds, ErrInvalidMultiplier} {
		assert.True(t, IsValidation(fmt.Errorf("wrapped: %w", err)))
	}
	assert.False(t, IsValidation(errors.New("disk on fire")))
}
