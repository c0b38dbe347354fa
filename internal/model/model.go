// Package model defines the snapshot data types owned by the pricing system.
//
// A Snapshot is the unit of atomicity: every commit replaces the whole
// snapshot so the integrity checksum always matches what is in memory and on
// disk together.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SchemaVersion is stamped into snapshot metadata and backup documents.
const SchemaVersion = "1.0.0"

// SalesHistoryLen is the fixed number of cycles retained per drink,
// most-recent-first.
const SalesHistoryLen = 5

// Trend values derived by display clients from price history.
const (
	TrendIncreasing = "increasing"
	TrendStable     = "stable"
	TrendDecreasing = "decreasing"
)

// Drink is a single priced menu item.
type Drink struct {
	ID            int             `json:"id" yaml:"id"`
	Name          string          `json:"name" yaml:"name"`
	MinimumPrice  decimal.Decimal `json:"minimum_price" yaml:"minimum_price"`
	CurrentPrice  decimal.Decimal `json:"current_price" yaml:"current_price"`
	PriceStepSize decimal.Decimal `json:"price_step_size" yaml:"price_step_size"`
	ListPosition  int             `json:"list_position" yaml:"list_position"`
	Trend         string          `json:"trend" yaml:"trend"`
	SalesCount    int             `json:"sales_count" yaml:"sales_count"`
	SalesHistory  []int           `json:"sales_history" yaml:"sales_history"`
}

// Clone returns a deep copy of the drink.
func (d Drink) Clone() Drink {
	c := d
	c.SalesHistory = append([]int(nil), d.SalesHistory...)
	return c
}

// NormalizedHistory returns the sales history padded or truncated to exactly
// SalesHistoryLen entries.
func (d Drink) NormalizedHistory() []int {
	h := make([]int, SalesHistoryLen)
	copy(h, d.SalesHistory)
	return h
}

// Settings holds the user-editable system configuration.
type Settings struct {
	RefreshCycle        int    `json:"refresh_cycle" yaml:"refresh_cycle"`
	DisplayTitle        string `json:"display_title" yaml:"display_title"`
	CurrencySymbol      string `json:"currency_symbol" yaml:"currency_symbol"`
	SoundEnabled        bool   `json:"sound_enabled" yaml:"sound_enabled"`
	SoundVolume         int    `json:"sound_volume" yaml:"sound_volume"`
	AutoBackupEnabled   bool   `json:"auto_backup_enabled" yaml:"auto_backup_enabled"`
	BackupRetentionDays int    `json:"backup_retention_days" yaml:"backup_retention_days"`
	MaxConcurrentUsers  int    `json:"max_concurrent_users" yaml:"max_concurrent_users"`
	TrendHistoryCycles  int    `json:"trend_history_cycles" yaml:"trend_history_cycles"`
}

// Metadata is system-owned bookkeeping, never user-editable.
type Metadata struct {
	Version     string `json:"version" yaml:"version"`
	LastUpdated string `json:"last_updated" yaml:"last_updated"`
	Checksum    string `json:"checksum" yaml:"checksum"`
}

// Snapshot is the complete in-memory state: metadata, settings and drinks.
type Snapshot struct {
	Metadata Metadata `json:"metadata" yaml:"metadata"`
	Settings Settings `json:"settings" yaml:"settings"`
	Drinks   []Drink  `json:"drinks" yaml:"drinks"`
}

// Clone returns a deep copy of the snapshot. Mutating the copy never touches
// the original.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Metadata: s.Metadata,
		Settings: s.Settings,
		Drinks:   make([]Drink, len(s.Drinks)),
	}
	for i, d := range s.Drinks {
		c.Drinks[i] = d.Clone()
	}
	return c
}

// DrinkByID returns the drink with the given id, or nil.
func (s *Snapshot) DrinkByID(id int) *Drink {
	for i := range s.Drinks {
		if s.Drinks[i].ID == id {
			return &s.Drinks[i]
		}
	}
	return nil
}

// NextDrinkID returns the next free integer id.
func (s *Snapshot) NextDrinkID() int {
	next := 1
	for _, d := range s.Drinks {
		if d.ID >= next {
			next = d.ID + 1
		}
	}
	return next
}

// NextListPosition returns the position after the current maximum.
func (s *Snapshot) NextListPosition() int {
	next := 1
	for _, d := range s.Drinks {
		if d.ListPosition >= next {
			next = d.ListPosition + 1
		}
	}
	return next
}

// Seal refreshes metadata: version, last-updated timestamp and checksum.
// Must be called on every candidate right before it is persisted.
func (s *Snapshot) Seal(now time.Time) {
	s.Metadata.Version = SchemaVersion
	s.Metadata.LastUpdated = now.Format(time.RFC3339)
	s.Metadata.Checksum = ""
	s.Metadata.Checksum = s.ComputeChecksum()
}
