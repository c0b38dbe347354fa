package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taproom/internal/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNextPriceRaisesOnAnySale(t *testing.T) {
	for _, sales := range []int{1, 2, 50} {
		next := NextPrice(dec("5.50"), dec("4.00"), dec("0.50"), sales)
		assert.True(t, next.Equal(dec("6.00")), "sales=%d", sales)
	}
}

func TestNextPriceHasNoCeiling(t *testing.T) {
	price := dec("5.00")
	for i := 0; i < 100; i++ {
		price = NextPrice(price, dec("4.00"), dec("1.00"), 1)
	}
	assert.True(t, price.Equal(dec("105.00")))
}

func TestNextPriceWalksDownToFloor(t *testing.T) {
	min := dec("4.00")
	step := dec("0.50")

	price := dec("5.50")
	want := []string{"5.00", "4.50", "4.00", "4.00", "4.00"}
	for i, expected := range want {
		price = NextPrice(price, min, step, 0)
		assert.True(t, price.Equal(dec(expected)), "cycle %d: got %s", i+1, price)
	}
}

func TestNextPriceClampsPartialStep(t *testing.T) {
	// A step that would overshoot the floor lands exactly on it.
	next := NextPrice(dec("4.25"), dec("4.00"), dec("0.50"), 0)
	assert.True(t, next.Equal(dec("4.00")))
}

func TestTrendFor(t *testing.T) {
	assert.Equal(t, model.TrendIncreasing, TrendFor(dec("5.00"), dec("5.50")))
	assert.Equal(t, model.TrendDecreasing, TrendFor(dec("5.00"), dec("4.50")))
	assert.Equal(t, model.TrendStable, TrendFor(dec("4.00"), dec("4.00")))
}

func TestApplyCycle(t *testing.T) {
	snap := model.DefaultSnapshot(time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC))
	// Beer sold, Wine idle above floor, Cocktail idle above floor,
	// Spirits pinned at its floor.
	snap.Drinks[0].SalesCount = 3
	snap.Drinks[3].CurrentPrice = dec("7.00")
	snap.Drinks[3].SalesHistory = []int{2, 0, 1, 0, 0}

	changes := ApplyCycle(snap)

	beer := snap.DrinkByID(1)
	require.NotNil(t, beer)
	assert.True(t, beer.CurrentPrice.Equal(dec("6.00")))
	assert.Equal(t, model.TrendIncreasing, beer.Trend)
	assert.Equal(t, 0, beer.SalesCount)
	assert.Equal(t, []int{3, 0, 0, 0, 0}, beer.SalesHistory)

	wine := snap.DrinkByID(2)
	assert.True(t, wine.CurrentPrice.Equal(dec("7.50")))
	assert.Equal(t, model.TrendDecreasing, wine.Trend)

	// Already at the floor: no movement, no change entry.
	spirits := snap.DrinkByID(4)
	assert.True(t, spirits.CurrentPrice.Equal(dec("7.00")))
	assert.Equal(t, model.TrendStable, spirits.Trend)
	assert.Equal(t, []int{0, 2, 0, 1, 0}, spirits.SalesHistory)

	require.Len(t, changes, 3)
	assert.Contains(t, changes, 1)
	assert.Contains(t, changes, 2)
	assert.Contains(t, changes, 3)
	assert.NotContains(t, changes, 4)

	change := changes[1]
	assert.Equal(t, "Beer", change.Name)
	assert.True(t, change.OldPrice.Equal(dec("5.50")))
	assert.True(t, change.NewPrice.Equal(dec("6.00")))
	assert.Equal(t, 3, change.SalesCount)
}

func TestApplyCycleHistoryWindowStaysFixed(t *testing.T) {
	snap := model.DefaultSnapshot(time.Now())
	d := snap.DrinkByID(1)

	for cycle := 1; cycle <= 8; cycle++ {
		d.SalesCount = cycle
		ApplyCycle(snap)
		d = snap.DrinkByID(1)
		assert.Len(t, d.SalesHistory, model.SalesHistoryLen)
	}
	// Most recent first, oldest cycles fell off the window.
	assert.Equal(t, []int{8, 7, 6, 5, 4}, d.SalesHistory)
}
