package backup

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"taproom/internal/model"
	"taproom/pkg/apperrors"
)

// CreatedBy is stamped into every backup document this build writes.
const CreatedBy = "Taproom Exchange"

// legacyDefaultStep is assigned to drinks migrated from the legacy flat
// format, which never recorded a step size. The migration is lossy and
// one-way.
var legacyDefaultStep = decimal.RequireFromString("0.50")

// document is the durable snapshot format. Prices are rendered as fixed
// 2-place strings so the on-disk form round-trips decimals exactly and stays
// human-editable.
type document struct {
	BackupName    string      `yaml:"backup_name"`
	BackupDate    string      `yaml:"backup_date"`
	BackupVersion string      `yaml:"backup_version"`
	CreatedBy     string      `yaml:"created_by"`
	Description   string      `yaml:"description"`
	Metadata      metadataDoc `yaml:"metadata"`
	Settings      settingsDoc `yaml:"settings"`
	Drinks        []drinkDoc  `yaml:"drinks"`
}

type metadataDoc struct {
	Version     string `yaml:"version"`
	LastUpdated string `yaml:"last_updated"`
	Checksum    string `yaml:"checksum"`
}

type settingsDoc struct {
	RefreshCycle        int    `yaml:"refresh_cycle"`
	DisplayTitle        string `yaml:"display_title"`
	CurrencySymbol      string `yaml:"currency_symbol"`
	SoundEnabled        bool   `yaml:"sound_enabled"`
	SoundVolume         int    `yaml:"sound_volume"`
	AutoBackupEnabled   bool   `yaml:"auto_backup_enabled"`
	BackupRetentionDays int    `yaml:"backup_retention_days"`
	MaxConcurrentUsers  int    `yaml:"max_concurrent_users"`
	TrendHistoryCycles  int    `yaml:"trend_history_cycles"`
}

type drinkDoc struct {
	ID            int    `yaml:"id"`
	Name          string `yaml:"name"`
	MinimumPrice  string `yaml:"minimum_price"`
	CurrentPrice  string `yaml:"current_price"`
	PriceStepSize string `yaml:"price_step_size"`
	ListPosition  int    `yaml:"list_position"`
	Trend         string `yaml:"trend"`
	SalesCount    int    `yaml:"sales_count"`
	SalesHistory  []int  `yaml:"sales_history"`
}

// legacyEntry is one drink in the legacy flat format: top-level keys are
// drink names, prices are floats, ordering comes from a position field.
type legacyEntry struct {
	InitialPrice float64 `yaml:"initial_price"`
	MinPrice     float64 `yaml:"min_price"`
	MaxPrice     float64 `yaml:"max_price"`
	Position     int     `yaml:"position"`
}

func newDocument(name, description string, snap *model.Snapshot, now time.Time) document {
	doc := document{
		BackupName:    name,
		BackupDate:    now.Format(time.RFC3339),
		BackupVersion: model.SchemaVersion,
		CreatedBy:     CreatedBy,
		Description:   description,
		Metadata: metadataDoc{
			Version:     snap.Metadata.Version,
			LastUpdated: snap.Metadata.LastUpdated,
			Checksum:    snap.Metadata.Checksum,
		},
		Settings: settingsDoc{
			RefreshCycle:        snap.Settings.RefreshCycle,
			DisplayTitle:        snap.Settings.DisplayTitle,
			CurrencySymbol:      snap.Settings.CurrencySymbol,
			SoundEnabled:        snap.Settings.SoundEnabled,
			SoundVolume:         snap.Settings.SoundVolume,
			AutoBackupEnabled:   snap.Settings.AutoBackupEnabled,
			BackupRetentionDays: snap.Settings.BackupRetentionDays,
			MaxConcurrentUsers:  snap.Settings.MaxConcurrentUsers,
			TrendHistoryCycles:  snap.Settings.TrendHistoryCycles,
		},
		Drinks: make([]drinkDoc, len(snap.Drinks)),
	}

	for i, d := range snap.Drinks {
		doc.Drinks[i] = drinkDoc{
			ID:            d.ID,
			Name:          d.Name,
			MinimumPrice:  d.MinimumPrice.StringFixed(2),
			CurrentPrice:  d.CurrentPrice.StringFixed(2),
			PriceStepSize: d.PriceStepSize.StringFixed(2),
			ListPosition:  d.ListPosition,
			Trend:         d.Trend,
			SalesCount:    d.SalesCount,
			SalesHistory:  d.NormalizedHistory(),
		}
	}

	return doc
}

// toSnapshot converts a parsed document into an unsealed model snapshot.
// Malformed values are a corruption condition, not a validation one: the
// model cannot even be constructed from them.
func (doc document) toSnapshot(name string) (*model.Snapshot, error) {
	snap := &model.Snapshot{
		Metadata: model.Metadata{
			Version:     doc.Metadata.Version,
			LastUpdated: doc.Metadata.LastUpdated,
			Checksum:    doc.Metadata.Checksum,
		},
		Settings: model.Settings{
			RefreshCycle:        doc.Settings.RefreshCycle,
			DisplayTitle:        doc.Settings.DisplayTitle,
			CurrencySymbol:      doc.Settings.CurrencySymbol,
			SoundEnabled:        doc.Settings.SoundEnabled,
			SoundVolume:         doc.Settings.SoundVolume,
			AutoBackupEnabled:   doc.Settings.AutoBackupEnabled,
			BackupRetentionDays: doc.Settings.BackupRetentionDays,
			MaxConcurrentUsers:  doc.Settings.MaxConcurrentUsers,
			TrendHistoryCycles:  doc.Settings.TrendHistoryCycles,
		},
		Drinks: make([]model.Drink, len(doc.Drinks)),
	}

	for i, dd := range doc.Drinks {
		min, err := decimal.NewFromString(dd.MinimumPrice)
		if err != nil {
			return nil, &apperrors.CorruptedSnapshotError{Name: name,
				Reason: fmt.Sprintf("drink %q has malformed minimum_price %q", dd.Name, dd.MinimumPrice), Err: err}
		}
		cur, err := decimal.NewFromString(dd.CurrentPrice)
		if err != nil {
			return nil, &apperrors.CorruptedSnapshotError{Name: name,
				Reason: fmt.Sprintf("drink %q has malformed current_price %q", dd.Name, dd.CurrentPrice), Err: err}
		}
		step, err := decimal.NewFromString(dd.PriceStepSize)
		if err != nil {
			return nil, &apperrors.CorruptedSnapshotError{Name: name,
				Reason: fmt.Sprintf("drink %q has malformed price_step_size %q", dd.Name, dd.PriceStepSize), Err: err}
		}

		trend := dd.Trend
		if trend == "" {
			trend = model.TrendStable
		}

		snap.Drinks[i] = model.Drink{
			ID:            dd.ID,
			Name:          dd.Name,
			MinimumPrice:  min,
			CurrentPrice:  cur,
			PriceStepSize: step,
			ListPosition:  dd.ListPosition,
			Trend:         trend,
			SalesCount:    dd.SalesCount,
			SalesHistory:  model.Drink{SalesHistory: dd.SalesHistory}.NormalizedHistory(),
		}
	}

	return snap, nil
}

// structuralCheck verifies the required top-level sections are present.
func (doc document) structuralCheck(name string) error {
	if doc.Settings.RefreshCycle == 0 {
		return &apperrors.CorruptedSnapshotError{Name: name, Reason: "settings section missing or empty"}
	}
	if len(doc.Drinks) == 0 {
		return &apperrors.CorruptedSnapshotError{Name: name, Reason: "drinks section missing or empty"}
	}
	return nil
}

// isLegacyFormat detects the legacy flat layout: no backup_version marker,
// no drinks list, and at least one top-level mapping that looks like a
// legacy drink entry.
func isLegacyFormat(raw map[string]interface{}) bool {
	if _, ok := raw["backup_version"]; ok {
		return false
	}
	if _, ok := raw["drinks"]; ok {
		return false
	}
	for key, value := range raw {
		if key == "settings" || key == "metadata" {
			continue
		}
		entry, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		for _, field := range []string{"initial_price", "min_price", "max_price", "position"} {
			if _, ok := entry[field]; ok {
				return true
			}
		}
	}
	return false
}

// migrateLegacy upgrades a legacy flat document to the current schema.
// Step size and trend were never recorded in that format, so migrated drinks
// get the defaults; this is documented as a lossy, one-way migration.
func migrateLegacy(name string, data []byte, now time.Time) (*model.Snapshot, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &apperrors.CorruptedSnapshotError{Name: name, Reason: "unparsable legacy document", Err: err}
	}

	type namedEntry struct {
		name  string
		entry legacyEntry
	}
	var entries []namedEntry
	for key, node := range raw {
		if key == "settings" || key == "metadata" {
			continue
		}
		var entry legacyEntry
		if err := node.Decode(&entry); err != nil {
			return nil, &apperrors.CorruptedSnapshotError{Name: name,
				Reason: fmt.Sprintf("legacy entry %q is malformed", key), Err: err}
		}
		entries = append(entries, namedEntry{name: key, entry: entry})
	}
	if len(entries) == 0 {
		return nil, &apperrors.CorruptedSnapshotError{Name: name, Reason: "legacy document contains no drinks"}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].entry.Position != entries[j].entry.Position {
			return entries[i].entry.Position < entries[j].entry.Position
		}
		return entries[i].name < entries[j].name
	})

	snap := &model.Snapshot{Settings: model.DefaultSettings()}
	if node, ok := raw["settings"]; ok {
		var sd settingsDoc
		if err := node.Decode(&sd); err == nil && sd.RefreshCycle > 0 {
			snap.Settings.RefreshCycle = sd.RefreshCycle
			if sd.DisplayTitle != "" {
				snap.Settings.DisplayTitle = sd.DisplayTitle
			}
		}
	}

	for i, e := range entries {
		initial := decimal.NewFromFloat(e.entry.InitialPrice).Round(2)
		min := decimal.NewFromFloat(e.entry.MinPrice).Round(2)
		if min.IsZero() {
			min = initial
		}
		// A step above the floor would fail validation, so cheap drinks get
		// their floor as the step.
		step := legacyDefaultStep
		if min.LessThan(step) {
			step = min
		}
		// Legacy positions may carry gaps or duplicates; after sorting,
		// sequential reassignment preserves the intended order.
		snap.Drinks = append(snap.Drinks, model.Drink{
			ID:            i + 1,
			Name:          e.name,
			MinimumPrice:  min,
			CurrentPrice:  initial,
			PriceStepSize: step,
			ListPosition:  i + 1,
			Trend:         model.TrendStable,
			SalesCount:    0,
			SalesHistory:  make([]int, model.SalesHistoryLen),
		})
	}

	snap.Seal(now)
	return snap, nil
}
