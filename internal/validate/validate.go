// Package validate implements the business-rule validation applied to every
// candidate snapshot before it is persisted or committed.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"taproom/internal/model"
	"taproom/pkg/apperrors"
)

// System-wide limits. The deployment target is a single small device driving
// a handful of display screens.
const (
	MaxDrinks             = 50
	MaxConcurrentUsers    = 20
	MaxUpdatesPerHour     = 120
	MinRefreshCycle       = 1
	MaxRefreshCycle       = 3600
	RefreshCycleIncrement = 30
)

var (
	nameRe = regexp.MustCompile(`^[a-zA-Z0-9\s\-'&.,!]+$`)

	maxPrice = decimal.RequireFromString("999.99")
	minStep  = decimal.RequireFromString("0.01")
	maxStep  = decimal.RequireFromString("99.99")
)

// Snapshot runs the full rule set against a candidate snapshot and returns a
// *apperrors.ValidationError listing every violation, or nil.
func Snapshot(s *model.Snapshot) error {
	var problems []string

	problems = append(problems, Drinks(s.Drinks)...)
	problems = append(problems, Settings(s.Settings)...)
	problems = append(problems, refreshCycleCompatibility(s.Settings.RefreshCycle, len(s.Drinks))...)
	problems = append(problems, systemLimits(s)...)

	if len(problems) > 0 {
		return apperrors.NewValidationError(problems...)
	}
	return nil
}

// Drinks validates every drink plus the cross-drink uniqueness rules.
func Drinks(drinks []model.Drink) []string {
	var problems []string

	seenNames := make(map[string]bool, len(drinks))
	seenPositions := make(map[int]bool, len(drinks))

	for _, d := range drinks {
		problems = append(problems, drinkFields(d)...)

		name := strings.ToLower(strings.TrimSpace(d.Name))
		if name != "" {
			if seenNames[name] {
				problems = append(problems, fmt.Sprintf("duplicate drink name %q", d.Name))
			}
			seenNames[name] = true
		}

		if seenPositions[d.ListPosition] {
			problems = append(problems, fmt.Sprintf("drink %d: duplicate list position %d", d.ID, d.ListPosition))
		}
		seenPositions[d.ListPosition] = true
	}

	return problems
}

func drinkFields(d model.Drink) []string {
	var problems []string

	if d.ID < 1 {
		problems = append(problems, fmt.Sprintf("drink %q: id must be a positive integer", d.Name))
	}

	trimmed := strings.TrimSpace(d.Name)
	if trimmed == "" {
		problems = append(problems, fmt.Sprintf("drink %d: name cannot be empty", d.ID))
	} else {
		if len(d.Name) > 50 {
			problems = append(problems, fmt.Sprintf("drink %d: name must be 1-50 characters", d.ID))
		}
		if !nameRe.MatchString(d.Name) {
			problems = append(problems, fmt.Sprintf("drink %d: name contains invalid characters", d.ID))
		}
	}

	problems = append(problems, priceField(d.ID, "minimum_price", d.MinimumPrice, decimal.Zero, maxPrice)...)
	problems = append(problems, priceField(d.ID, "current_price", d.CurrentPrice, decimal.Zero, maxPrice)...)
	problems = append(problems, priceField(d.ID, "price_step_size", d.PriceStepSize, minStep, maxStep)...)

	if d.CurrentPrice.LessThan(d.MinimumPrice) {
		problems = append(problems, fmt.Sprintf("drink %d: current price %s is below minimum price %s",
			d.ID, d.CurrentPrice.StringFixed(2), d.MinimumPrice.StringFixed(2)))
	}
	if d.PriceStepSize.GreaterThan(d.MinimumPrice) {
		problems = append(problems, fmt.Sprintf("drink %d: price step size %s is larger than minimum price %s",
			d.ID, d.PriceStepSize.StringFixed(2), d.MinimumPrice.StringFixed(2)))
	}

	if d.ListPosition < 1 || d.ListPosition > 100 {
		problems = append(problems, fmt.Sprintf("drink %d: list position must be between 1 and 100", d.ID))
	}

	switch d.Trend {
	case model.TrendIncreasing, model.TrendStable, model.TrendDecreasing:
	default:
		problems = append(problems, fmt.Sprintf("drink %d: trend must be increasing, stable or decreasing", d.ID))
	}

	if d.SalesCount < 0 {
		problems = append(problems, fmt.Sprintf("drink %d: sales count cannot be negative", d.ID))
	}
	if len(d.SalesHistory) > model.SalesHistoryLen {
		problems = append(problems, fmt.Sprintf("drink %d: sales history cannot exceed %d entries", d.ID, model.SalesHistoryLen))
	}
	for _, c := range d.SalesHistory {
		if c < 0 {
			problems = append(problems, fmt.Sprintf("drink %d: sales history contains a negative count", d.ID))
			break
		}
	}

	return problems
}

func priceField(id int, field string, v, min, max decimal.Decimal) []string {
	var problems []string
	if v.LessThan(min) || v.GreaterThan(max) {
		problems = append(problems, fmt.Sprintf("drink %d: %s must be between %s and %s",
			id, field, min.StringFixed(2), max.StringFixed(2)))
	}
	if v.Exponent() < -2 {
		problems = append(problems, fmt.Sprintf("drink %d: %s must have at most 2 decimal places", id, field))
	}
	return problems
}

// Settings validates setting ranges and increments.
func Settings(s model.Settings) []string {
	var problems []string

	if s.RefreshCycle < MinRefreshCycle || s.RefreshCycle > MaxRefreshCycle {
		problems = append(problems, fmt.Sprintf("refresh cycle must be between %d and %d seconds",
			MinRefreshCycle, MaxRefreshCycle))
	} else if s.RefreshCycle%RefreshCycleIncrement != 0 {
		problems = append(problems, fmt.Sprintf("refresh cycle must be a multiple of %d seconds", RefreshCycleIncrement))
	}

	if len(s.DisplayTitle) > 100 {
		problems = append(problems, "display title must be 100 characters or less")
	}
	if len(s.CurrencySymbol) > 5 {
		problems = append(problems, "currency symbol must be 5 characters or less")
	}
	if s.SoundVolume < 0 || s.SoundVolume > 100 {
		problems = append(problems, "sound volume must be between 0 and 100")
	}
	if s.BackupRetentionDays < 1 || s.BackupRetentionDays > 365 {
		problems = append(problems, "backup retention must be between 1 and 365 days")
	}
	if s.MaxConcurrentUsers < 1 || s.MaxConcurrentUsers > 100 {
		problems = append(problems, "max concurrent users must be between 1 and 100")
	}
	if s.TrendHistoryCycles < 1 || s.TrendHistoryCycles > model.SalesHistoryLen {
		problems = append(problems, fmt.Sprintf("trend history cycles must be between 1 and %d", model.SalesHistoryLen))
	}

	return problems
}

// refreshCycleCompatibility rejects cycle settings that would overload the
// device for the configured drink count.
func refreshCycleCompatibility(refreshCycle, drinkCount int) []string {
	if refreshCycle <= 0 {
		return nil // already reported by Settings
	}

	var problems []string
	if drinkCount > 20 && refreshCycle < 120 {
		problems = append(problems, "refresh cycle must be at least 2 minutes with more than 20 drinks")
	}
	if drinkCount > 50 && refreshCycle < 300 {
		problems = append(problems, "refresh cycle must be at least 5 minutes with more than 50 drinks")
	}
	if 3600/refreshCycle > MaxUpdatesPerHour {
		problems = append(problems, fmt.Sprintf("refresh cycle produces more than %d updates per hour", MaxUpdatesPerHour))
	}
	return problems
}

func systemLimits(s *model.Snapshot) []string {
	var problems []string
	if len(s.Drinks) > MaxDrinks {
		problems = append(problems, fmt.Sprintf("system supports a maximum of %d drinks", MaxDrinks))
	}
	if s.Settings.MaxConcurrentUsers > MaxConcurrentUsers {
		problems = append(problems, fmt.Sprintf("max concurrent users cannot exceed %d on the target device", MaxConcurrentUsers))
	}
	return problems
}
