package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultSettings returns the settings used when no durable snapshot exists.
func DefaultSettings() Settings {
	return Settings{
		RefreshCycle:        300,
		DisplayTitle:        "Taproom Exchange",
		CurrencySymbol:      "$",
		SoundEnabled:        true,
		SoundVolume:         70,
		AutoBackupEnabled:   true,
		BackupRetentionDays: 30,
		MaxConcurrentUsers:  10,
		TrendHistoryCycles:  5,
	}
}

// DefaultSnapshot returns a sealed snapshot with the sample drink list used
// on first boot.
func DefaultSnapshot(now time.Time) *Snapshot {
	s := &Snapshot{
		Settings: DefaultSettings(),
		Drinks: []Drink{
			defaultDrink(1, "Beer", "4.00", "5.50", "0.50", 1),
			defaultDrink(2, "Wine", "6.00", "8.00", "0.50", 2),
			defaultDrink(3, "Cocktail", "8.00", "12.00", "1.00", 3),
			defaultDrink(4, "Spirits", "7.00", "10.00", "0.75", 4),
		},
	}
	s.Seal(now)
	return s
}

func defaultDrink(id int, name, min, current, step string, pos int) Drink {
	return Drink{
		ID:            id,
		Name:          name,
		MinimumPrice:  decimal.RequireFromString(min),
		CurrentPrice:  decimal.RequireFromString(current),
		PriceStepSize: decimal.RequireFromString(step),
		ListPosition:  pos,
		Trend:         TrendStable,
		SalesCount:    0,
		SalesHistory:  make([]int, SalesHistoryLen),
	}
}
