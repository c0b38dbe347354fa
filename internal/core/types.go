package core

import (
	"time"

	"github.com/shopspring/decimal"

	"taproom/internal/model"
)

// PriceChange describes a single drink whose price moved during a cycle.
type PriceChange struct {
	Name       string          `json:"name"`
	OldPrice   decimal.Decimal `json:"old_price"`
	NewPrice   decimal.Decimal `json:"new_price"`
	SalesCount int             `json:"sales_count"`
}

// PriceUpdate is the cycle-result event pushed to display clients.
type PriceUpdate struct {
	Timestamp time.Time           `json:"timestamp"`
	Drinks    []model.Drink       `json:"drinks"`
	Changes   map[int]PriceChange `json:"changes"`
}

// TimerUpdate tells displays how long until the next cycle fires.
type TimerUpdate struct {
	RefreshCycle  int `json:"refresh_cycle"`
	TimeRemaining int `json:"time_remaining"`
}
