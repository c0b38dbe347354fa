package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"

	"taproom/internal/model"
	"taproom/pkg/apperrors"
	"taproom/pkg/logging"
	"taproom/pkg/telemetry"
)

func init() {
	// Initialize telemetry for tests
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	meter := provider.Meter("test")
	_ = telemetry.GetGlobalMetrics().InitMetrics(meter)
}

type memPersister struct {
	mu       sync.Mutex
	persists int
	failWith error
	last     *model.Snapshot
}

func (p *memPersister) PersistCurrent(snap *model.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.persists++
	p.last = snap
	return nil
}

func newTestStore(t *testing.T) (*StateStore, *memPersister) {
	t.Helper()
	persister := &memPersister{}
	logger, _ := logging.NewZapLogger("ERROR")
	seed := model.DefaultSnapshot(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	return NewStateStore(seed, persister, logger), persister
}

func TestReadReturnsIndependentCopy(t *testing.T) {
	store, _ := newTestStore(t)

	snap := store.Read()
	snap.Drinks[0].Name = "Tampered"
	snap.Settings.RefreshCycle = 1

	fresh := store.Read()
	assert.Equal(t, "Beer", fresh.Drinks[0].Name)
	assert.Equal(t, 300, fresh.Settings.RefreshCycle)
}

func TestUpdatePersistsBeforePublishing(t *testing.T) {
	store, persister := newTestStore(t)

	committed, err := store.Update(func(snap *model.Snapshot) error {
		snap.Settings.DisplayTitle = "Thursday Board"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Thursday Board", committed.Settings.DisplayTitle)
	assert.Equal(t, 1, persister.persists)
	assert.Equal(t, "Thursday Board", persister.last.Settings.DisplayTitle)
	assert.NotEmpty(t, persister.last.Metadata.Checksum)

	assert.Equal(t, "Thursday Board", store.Read().Settings.DisplayTitle)
}

func TestUpdateRejectsInvalidCandidate(t *testing.T) {
	store, persister := newTestStore(t)

	_, err := store.Update(func(snap *model.Snapshot) error {
		snap.Drinks[0].CurrentPrice = decimal.RequireFromString("0.10")
		return nil
	})
	assert.True(t, apperrors.IsValidation(err))
	assert.Zero(t, persister.persists)

	// Committed state is untouched.
	assert.True(t, store.Read().Drinks[0].CurrentPrice.Equal(decimal.RequireFromString("5.50")))
}

func TestUpdateRejectedWhenPersistFails(t *testing.T) {
	store, persister := newTestStore(t)
	persister.failWith = errors.New("disk full")

	_, err := store.Update(func(snap *model.Snapshot) error {
		snap.Settings.DisplayTitle = "Never Lands"
		return nil
	})
	require.Error(t, err)

	assert.Equal(t, "Taproom Exchange", store.Read().Settings.DisplayTitle)
	assert.Error(t, store.Healthy())

	// A later successful update clears the health flag.
	persister.failWith = nil
	_, err = store.Update(func(snap *model.Snapshot) error { return nil })
	require.NoError(t, err)
	assert.NoError(t, store.Healthy())
}

func TestConcurrentUpdatesAllLand(t *testing.T) {
	store, persister := newTestStore(t)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RecordSale(1, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, writers, store.Read().Drinks[0].SalesCount)
	assert.Equal(t, writers, persister.persists)
}

func TestCreateDrinkAssignsIDAndPosition(t *testing.T) {
	store, _ := newTestStore(t)

	created, err := store.CreateDrink("Cider",
		decimal.RequireFromString("4.50"),
		decimal.RequireFromString("6.00"),
		decimal.RequireFromString("0.50"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, created.ID)
	assert.Equal(t, 5, created.ListPosition)
	assert.Equal(t, model.TrendStable, created.Trend)
	assert.Len(t, created.SalesHistory, model.SalesHistoryLen)
	assert.Len(t, store.Read().Drinks, 5)
}

func TestCreateDrinkRejectsDuplicateName(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.CreateDrink("  beer ",
		decimal.RequireFromString("4.50"),
		decimal.RequireFromString("6.00"),
		decimal.RequireFromString("0.50"), 0)
	assert.True(t, apperrors.IsValidation(err))
}

func TestUpdateDrinkPartialPatch(t *testing.T) {
	store, _ := newTestStore(t)

	name := "Craft Beer"
	price := decimal.RequireFromString("6.25")
	updated, err := store.UpdateDrink(1, DrinkPatch{Name: &name, CurrentPrice: &price})
	require.NoError(t, err)
	assert.Equal(t, "Craft Beer", updated.Name)
	assert.True(t, updated.CurrentPrice.Equal(price))
	// Untouched fields survive.
	assert.True(t, updated.MinimumPrice.Equal(decimal.RequireFromString("4.00")))
}

func TestUpdateDrinkNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	name := "Ghost"
	_, err := store.UpdateDrink(99, DrinkPatch{Name: &name})
	assert.ErrorIs(t, err, apperrors.ErrDrinkNotFound)
}

func TestDeleteDrinkClosesPositionGap(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.DeleteDrink(2))

	snap := store.Read()
	require.Len(t, snap.Drinks, 3)
	positions := make(map[string]int)
	for _, d := range snap.Drinks {
		positions[d.Name] = d.ListPosition
	}
	assert.Equal(t, 1, positions["Beer"])
	assert.Equal(t, 2, positions["Cocktail"])
	assert.Equal(t, 3, positions["Spirits"])
}

func TestRecordSaleQuantityRules(t *testing.T) {
	store, _ := newTestStore(t)

	updated, err := store.RecordSale(1, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.SalesCount)

	_, err = store.RecordSale(1, 0)
	assert.True(t, apperrors.IsValidation(err))
	_, err = store.RecordSale(1, -2)
	assert.True(t, apperrors.IsValidation(err))
	_, err = store.RecordSale(42, 1)
	assert.ErrorIs(t, err, apperrors.ErrDrinkNotFound)
}

func TestReorder(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Reorder([]int{4, 3, 2, 1}))
	snap := store.Read()
	for _, d := range snap.Drinks {
		switch d.ID {
		case 4:
			assert.Equal(t, 1, d.ListPosition)
		case 1:
			assert.Equal(t, 4, d.ListPosition)
		}
	}

	err := store.Reorder([]int{1, 2})
	assert.True(t, apperrors.IsValidation(err))
	err = store.Reorder([]int{1, 1, 2, 3})
	assert.True(t, apperrors.IsValidation(err))
	err = store.Reorder([]int{1, 2, 3, 99})
	assert.ErrorIs(t, err, apperrors.ErrDrinkNotFound)
}

func TestUpdateSettingsValidated(t *testing.T) {
	store, _ := newTestStore(t)

	cycle := 120
	title := "Happy Hour"
	updated, err := store.UpdateSettings(SettingsPatch{RefreshCycle: &cycle, DisplayTitle: &title})
	require.NoError(t, err)
	assert.Equal(t, 120, updated.RefreshCycle)
	assert.Equal(t, "Happy Hour", updated.DisplayTitle)

	bad := 7 // not a multiple of the allowed increment
	_, err = store.UpdateSettings(SettingsPatch{RefreshCycle: &bad})
	assert.True(t, apperrors.IsValidation(err))
}

func TestReplaceAll(t *testing.T) {
	store, persister := newTestStore(t)

	replacement := model.DefaultSnapshot(time.Now())
	replacement.Settings.DisplayTitle = "Restored"
	replacement.Drinks = replacement.Drinks[:2]

	require.NoError(t, store.ReplaceAll(replacement))
	snap := store.Read()
	assert.Equal(t, "Restored", snap.Settings.DisplayTitle)
	assert.Len(t, snap.Drinks, 2)
	assert.Equal(t, 1, persister.persists)
}

func TestRestorePersistsSafetyUnderWriterLock(t *testing.T) {
	store, _ := newTestStore(t)

	replacement := model.DefaultSnapshot(time.Now())
	replacement.Settings.DisplayTitle = "Restored"

	saleDone := make(chan error, 1)
	var safetySeen *model.Snapshot
	err := store.Restore(replacement, func(current *model.Snapshot) error {
		safetySeen = current
		go func() {
			_, err := store.RecordSale(1, 3)
			saleDone <- err
		}()
		select {
		case <-saleDone:
			t.Fatal("concurrent sale committed while restore held the writer lock")
		case <-time.After(50 * time.Millisecond):
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, <-saleDone)

	// The safety copy holds the pre-restore state, and the blocked sale
	// landed only after the swap, on the restored snapshot.
	assert.Equal(t, 0, safetySeen.DrinkByID(1).SalesCount)
	snap := store.Read()
	assert.Equal(t, "Restored", snap.Settings.DisplayTitle)
	assert.Equal(t, 3, snap.DrinkByID(1).SalesCount)
}

func TestRestoreAbortsWhenSafetyPersistFails(t *testing.T) {
	store, persister := newTestStore(t)
	before := store.Read()

	replacement := model.DefaultSnapshot(time.Now())
	replacement.Settings.DisplayTitle = "Restored"

	err := store.Restore(replacement, func(current *model.Snapshot) error {
		return errors.New("safety backup failed")
	})
	require.Error(t, err)
	assert.Equal(t, before.Settings.DisplayTitle, store.Read().Settings.DisplayTitle)
	assert.Equal(t, 0, persister.persists)
}

func TestManyDrinksStillValidate(t *testing.T) {
	store, _ := newTestStore(t)

	cycle := 300
	_, err := store.UpdateSettings(SettingsPatch{RefreshCycle: &cycle})
	require.NoError(t, err)

	for i := 0; i < 21; i++ {
		_, err := store.CreateDrink(fmt.Sprintf("Drink %02d", i),
			decimal.RequireFromString("3.00"),
			decimal.RequireFromString("5.00"),
			decimal.RequireFromString("0.25"), 0)
		require.NoError(t, err)
	}
	assert.Len(t, store.Read().Drinks, 25)
}
