// Package store holds the live state and enforces the commit discipline:
// one writer at a time, validate then persist then publish.
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"taproom/internal/core"
	"taproom/internal/model"
	"taproom/internal/validate"
	"taproom/pkg/apperrors"
	"taproom/pkg/telemetry"
)

// Persister writes a committed snapshot to durable storage. The state store
// calls it before publishing: a snapshot that did not persist never becomes
// current.
type Persister interface {
	PersistCurrent(snap *model.Snapshot) error
}

// StateStore owns the authoritative snapshot. Reads are lock-cheap pointer
// loads; writes serialize on a single update mutex and follow the
// copy, mutate, validate, persist, publish sequence.
type StateStore struct {
	persister Persister
	logger    core.ILogger
	metrics   *telemetry.MetricsHolder
	now       func() time.Time

	mu      sync.RWMutex
	current *model.Snapshot

	updateMu       sync.Mutex
	lastPersistErr error
}

// NewStateStore creates a state store seeded with the given snapshot. The
// seed is assumed already validated (loaded from a backup or built from
// defaults).
func NewStateStore(seed *model.Snapshot, persister Persister, logger core.ILogger) *StateStore {
	return &StateStore{
		persister: persister,
		logger:    logger.WithField("component", "state_store"),
		metrics:   telemetry.GetGlobalMetrics(),
		now:       time.Now,
		current:   seed,
	}
}

// SetNow overrides the clock, for tests.
func (s *StateStore) SetNow(now func() time.Time) { s.now = now }

// Read returns a deep copy of the committed snapshot. Callers may mutate the
// copy freely; only Update can change the committed state.
func (s *StateStore) Read() *model.Snapshot {
	s.mu.RLock()
	snap := s.current
	s.mu.RUnlock()
	return snap.Clone()
}

// Update runs one committed state change. The mutator receives a private
// copy of the current snapshot; if it returns nil the copy is validated,
// sealed, persisted and only then published. Any failure leaves the
// previously committed snapshot untouched.
func (s *StateStore) Update(mutate func(snap *model.Snapshot) error) (*model.Snapshot, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.mu.RLock()
	candidate := s.current.Clone()
	s.mu.RUnlock()

	if err := mutate(candidate); err != nil {
		return nil, err
	}
	if err := validate.Snapshot(candidate); err != nil {
		return nil, err
	}
	candidate.Seal(s.now())

	if err := s.persister.PersistCurrent(candidate); err != nil {
		s.setPersistErr(err)
		s.logger.Error("Persist failed, state change rejected", "error", err)
		return nil, err
	}
	s.setPersistErr(nil)

	s.mu.Lock()
	s.current = candidate
	s.mu.Unlock()

	return candidate.Clone(), nil
}

func (s *StateStore) setPersistErr(err error) {
	s.mu.Lock()
	s.lastPersistErr = err
	s.mu.Unlock()
}

// Healthy reports whether the last persist attempt succeeded.
func (s *StateStore) Healthy() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPersistErr
}

// ReplaceAll swaps in a complete snapshot. The snapshot is re-validated and
// persisted like any other committed change.
func (s *StateStore) ReplaceAll(snap *model.Snapshot) error {
	_, err := s.Update(func(current *model.Snapshot) error {
		replacement := snap.Clone()
		current.Settings = replacement.Settings
		current.Drinks = replacement.Drinks
		current.Metadata = replacement.Metadata
		return nil
	})
	return err
}

// Restore swaps in a complete snapshot under the same writer serialization as
// an ordinary update. persistSafety runs with the writer lock held and
// receives a copy of the still-committed snapshot, so the safety backup and
// the swap see the same state with no window for another writer between them.
func (s *StateStore) Restore(snap *model.Snapshot, persistSafety func(current *model.Snapshot) error) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	candidate := snap.Clone()
	if err := validate.Snapshot(candidate); err != nil {
		return err
	}
	candidate.Seal(s.now())

	s.mu.RLock()
	previous := s.current.Clone()
	s.mu.RUnlock()
	if persistSafety != nil {
		if err := persistSafety(previous); err != nil {
			return err
		}
	}

	if err := s.persister.PersistCurrent(candidate); err != nil {
		s.setPersistErr(err)
		s.logger.Error("Persist failed, restore rejected", "error", err)
		return err
	}
	s.setPersistErr(nil)

	s.mu.Lock()
	s.current = candidate
	s.mu.Unlock()
	return nil
}

// DrinkPatch carries the optional fields of a drink update. Nil means leave
// unchanged.
type DrinkPatch struct {
	Name          *string
	MinimumPrice  *decimal.Decimal
	CurrentPrice  *decimal.Decimal
	PriceStepSize *decimal.Decimal
	ListPosition  *int
}

// SettingsPatch carries the optional fields of a settings update.
type SettingsPatch struct {
	RefreshCycle        *int
	DisplayTitle        *string
	CurrencySymbol      *string
	SoundEnabled        *bool
	SoundVolume         *int
	AutoBackupEnabled   *bool
	BackupRetentionDays *int
	MaxConcurrentUsers  *int
	TrendHistoryCycles  *int
}

// CreateDrink adds a drink to the board. ID and list position are assigned
// when not supplied; new drinks start with no sales and a stable trend.
func (s *StateStore) CreateDrink(name string, min, current, step decimal.Decimal, position int) (*model.Drink, error) {
	var created model.Drink
	_, err := s.Update(func(snap *model.Snapshot) error {
		pos := position
		if pos == 0 {
			pos = snap.NextListPosition()
		}
		drink := model.Drink{
			ID:            snap.NextDrinkID(),
			Name:          strings.TrimSpace(name),
			MinimumPrice:  min,
			CurrentPrice:  current,
			PriceStepSize: step,
			ListPosition:  pos,
			Trend:         model.TrendStable,
			SalesCount:    0,
			SalesHistory:  make([]int, model.SalesHistoryLen),
		}
		snap.Drinks = append(snap.Drinks, drink)
		created = drink
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateDrink applies a partial update to one drink.
func (s *StateStore) UpdateDrink(id int, patch DrinkPatch) (*model.Drink, error) {
	var updated model.Drink
	_, err := s.Update(func(snap *model.Snapshot) error {
		drink := snap.DrinkByID(id)
		if drink == nil {
			return apperrors.ErrDrinkNotFound
		}
		if patch.Name != nil {
			drink.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.MinimumPrice != nil {
			drink.MinimumPrice = *patch.MinimumPrice
		}
		if patch.CurrentPrice != nil {
			drink.CurrentPrice = *patch.CurrentPrice
		}
		if patch.PriceStepSize != nil {
			drink.PriceStepSize = *patch.PriceStepSize
		}
		if patch.ListPosition != nil {
			drink.ListPosition = *patch.ListPosition
		}
		updated = drink.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteDrink removes a drink and closes the gap in list positions.
func (s *StateStore) DeleteDrink(id int) error {
	var removedName string
	_, err := s.Update(func(snap *model.Snapshot) error {
		idx := -1
		for i := range snap.Drinks {
			if snap.Drinks[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return apperrors.ErrDrinkNotFound
		}
		removedPos := snap.Drinks[idx].ListPosition
		removedName = snap.Drinks[idx].Name
		snap.Drinks = append(snap.Drinks[:idx], snap.Drinks[idx+1:]...)
		for i := range snap.Drinks {
			if snap.Drinks[i].ListPosition > removedPos {
				snap.Drinks[i].ListPosition--
			}
		}
		return nil
	})
	if err == nil {
		s.metrics.DropDrinkPrice(removedName)
	}
	return err
}

// RecordSale increments a drink's pending sales count. The count feeds the
// next price cycle; prices never move here.
func (s *StateStore) RecordSale(id, quantity int) (*model.Drink, error) {
	if quantity <= 0 {
		return nil, apperrors.NewValidationError("sale quantity must be positive")
	}
	var updated model.Drink
	_, err := s.Update(func(snap *model.Snapshot) error {
		drink := snap.DrinkByID(id)
		if drink == nil {
			return apperrors.ErrDrinkNotFound
		}
		drink.SalesCount += quantity
		updated = drink.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.SalesRecordedTotal.Add(context.Background(), int64(quantity),
		metric.WithAttributes(attribute.String("drink", updated.Name)))
	return &updated, nil
}

// Reorder assigns list positions from the given id order. The id list must
// be a permutation of the current board.
func (s *StateStore) Reorder(ids []int) error {
	_, err := s.Update(func(snap *model.Snapshot) error {
		if len(ids) != len(snap.Drinks) {
			return apperrors.NewValidationError("reorder must include every drink exactly once")
		}
		seen := make(map[int]bool, len(ids))
		for pos, id := range ids {
			if seen[id] {
				return apperrors.NewValidationError("reorder contains duplicate drink ids")
			}
			seen[id] = true
			drink := snap.DrinkByID(id)
			if drink == nil {
				return apperrors.ErrDrinkNotFound
			}
			drink.ListPosition = pos + 1
		}
		return nil
	})
	return err
}

// UpdateSettings applies a partial settings update.
func (s *StateStore) UpdateSettings(patch SettingsPatch) (*model.Settings, error) {
	var updated model.Settings
	_, err := s.Update(func(snap *model.Snapshot) error {
		st := &snap.Settings
		if patch.RefreshCycle != nil {
			st.RefreshCycle = *patch.RefreshCycle
		}
		if patch.DisplayTitle != nil {
			st.DisplayTitle = strings.TrimSpace(*patch.DisplayTitle)
		}
		if patch.CurrencySymbol != nil {
			st.CurrencySymbol = *patch.CurrencySymbol
		}
		if patch.SoundEnabled != nil {
			st.SoundEnabled = *patch.SoundEnabled
		}
		if patch.SoundVolume != nil {
			st.SoundVolume = *patch.SoundVolume
		}
		if patch.AutoBackupEnabled != nil {
			st.AutoBackupEnabled = *patch.AutoBackupEnabled
		}
		if patch.BackupRetentionDays != nil {
			st.BackupRetentionDays = *patch.BackupRetentionDays
		}
		if patch.MaxConcurrentUsers != nil {
			st.MaxConcurrentUsers = *patch.MaxConcurrentUsers
		}
		if patch.TrendHistoryCycles != nil {
			st.TrendHistoryCycles = *patch.TrendHistoryCycles
		}
		updated = snap.Settings
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
