package backup

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"taproom/internal/core"
	"taproom/internal/model"
	"taproom/pkg/apperrors"
	"taproom/pkg/telemetry"
)

// StateReplacer is the slice of the runtime state store the restorer needs.
// Restore holds the store's writer lock across the safety-persist callback
// and the swap, so no other commit can land between the two. ReplaceAll is
// the rollback path.
type StateReplacer interface {
	Restore(snap *model.Snapshot, persistSafety func(current *model.Snapshot) error) error
	ReplaceAll(snap *model.Snapshot) error
}

// Notifier receives restore outcome alerts. Critical severity is reserved
// for the rollback-failed case, which leaves the system needing attention.
type Notifier interface {
	Notify(severity, title, message string)
}

// Restorer replaces the live state from a named backup, taking a safety
// snapshot of the pre-restore state first so a failed restore can roll back.
type Restorer struct {
	store    *Store
	state    StateReplacer
	notifier Notifier
	logger   core.ILogger
	now      func() time.Time
}

// NewRestorer wires a restorer. notifier may be nil.
func NewRestorer(store *Store, state StateReplacer, notifier Notifier, logger core.ILogger) *Restorer {
	return &Restorer{
		store:    store,
		state:    state,
		notifier: notifier,
		logger:   logger.WithField("component", "restorer"),
		now:      time.Now,
	}
}

// RestoreResult reports a completed restore.
type RestoreResult struct {
	BackupName   string    `json:"backup_name"`
	SafetyBackup string    `json:"safety_backup"`
	DrinkCount   int       `json:"drink_count"`
	RestoredAt   time.Time `json:"restored_at"`
}

// Restore loads and validates the named backup, persists the current state
// as a safety backup, then swaps the restored snapshot in. Safety backup and
// swap run under the state store's writer lock so no concurrent commit can
// land between them. If the swap fails the safety backup is rolled back; if
// the rollback also fails the returned RestoreFailure says so and a critical
// alert fires.
func (r *Restorer) Restore(name string) (*RestoreResult, error) {
	restored, err := r.store.Load(name)
	if err != nil {
		return nil, err
	}

	safetyName := SafetyName(r.now())
	var previous *model.Snapshot
	safetyDone := false
	err = r.state.Restore(restored, func(current *model.Snapshot) error {
		previous = current
		if _, err := r.store.Persist(safetyName, current, "pre-restore safety snapshot", TypeSafety); err != nil {
			return fmt.Errorf("refusing restore, safety backup failed: %w", err)
		}
		safetyDone = true
		return nil
	})
	if err != nil {
		if !safetyDone {
			// Nothing changed: validation or the safety backup failed before
			// any swap was attempted.
			return nil, err
		}
		telemetry.GetGlobalMetrics().RestoresTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("outcome", "failed")))
		return nil, r.rollback(name, safetyName, previous, err)
	}

	telemetry.GetGlobalMetrics().RestoresTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", "ok")))
	r.logger.Info("State restored from backup",
		"backup", name, "safety_backup", safetyName, "drinks", len(restored.Drinks))
	return &RestoreResult{
		BackupName:   name,
		SafetyBackup: safetyName,
		DrinkCount:   len(restored.Drinks),
		RestoredAt:   r.now(),
	}, nil
}

func (r *Restorer) rollback(name, safetyName string, previous *model.Snapshot, restoreErr error) error {
	rollbackErr := r.state.ReplaceAll(previous)
	failure := &apperrors.RestoreFailure{
		BackupName:   name,
		SafetyBackup: safetyName,
		RollbackOK:   rollbackErr == nil,
		RestoreErr:   restoreErr,
		RollbackErr:  rollbackErr,
	}

	if rollbackErr == nil {
		r.logger.Error("Restore failed, previous state rolled back",
			"backup", name, "error", restoreErr)
		return failure
	}

	r.logger.Error("Restore failed and rollback failed, state needs manual recovery",
		"backup", name, "safety_backup", safetyName,
		"restore_error", restoreErr, "rollback_error", rollbackErr)
	if r.notifier != nil {
		r.notifier.Notify("critical", "Restore rollback failed",
			fmt.Sprintf("restore of %s failed and rollback did not complete; recover from %s", name, safetyName))
	}
	return failure
}
