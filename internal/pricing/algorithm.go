// Package pricing moves drink prices on a fixed cycle: demand pushes a
// price up by its step, silence walks it back down toward its floor.
package pricing

import (
	"github.com/shopspring/decimal"

	"taproom/internal/core"
	"taproom/internal/model"
)

// NextPrice returns the price after one cycle. Any sales raise the price by
// one step with no ceiling; no sales lower it by one step, never below the
// minimum.
func NextPrice(current, minimum, step decimal.Decimal, sales int) decimal.Decimal {
	if sales >= 1 {
		return current.Add(step)
	}
	lowered := current.Sub(step)
	if lowered.LessThan(minimum) {
		return minimum
	}
	return lowered
}

// TrendFor classifies the movement between two prices.
func TrendFor(oldPrice, newPrice decimal.Decimal) string {
	switch {
	case newPrice.GreaterThan(oldPrice):
		return model.TrendIncreasing
	case newPrice.LessThan(oldPrice):
		return model.TrendDecreasing
	default:
		return model.TrendStable
	}
}

// ApplyCycle runs one pricing pass over the snapshot in place: each drink
// gets its next price and trend, the pending sales count is archived into
// the history window and reset. Returns the drinks whose price actually
// moved, keyed by id.
func ApplyCycle(snap *model.Snapshot) map[int]core.PriceChange {
	changes := make(map[int]core.PriceChange)

	for i := range snap.Drinks {
		d := &snap.Drinks[i]
		oldPrice := d.CurrentPrice
		newPrice := NextPrice(d.CurrentPrice, d.MinimumPrice, d.PriceStepSize, d.SalesCount)

		d.Trend = TrendFor(oldPrice, newPrice)
		d.CurrentPrice = newPrice

		// Most recent cycle first, fixed window.
		history := append([]int{d.SalesCount}, d.NormalizedHistory()...)
		d.SalesHistory = history[:model.SalesHistoryLen]

		if !newPrice.Equal(oldPrice) {
			changes[d.ID] = core.PriceChange{
				Name:       d.Name,
				OldPrice:   oldPrice,
				NewPrice:   newPrice,
				SalesCount: d.SalesCount,
			}
		}
		d.SalesCount = 0
	}

	return changes
}
