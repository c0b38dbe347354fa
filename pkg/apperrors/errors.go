// Package apperrors defines the error taxonomy shared across the pricing core.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Standardized operational errors
var (
	ErrDrinkNotFound    = errors.New("drink not found")
	ErrBackupNotFound   = errors.New("backup not found")
	ErrEngineNotRunning = errors.New("price engine is not running")
	ErrEngineRunning    = errors.New("price engine is already running")
	ErrCycleInProgress  = errors.New("price cycle already in progress")
)

// ValidationError reports business-rule violations in a candidate snapshot.
// It never indicates a mutated state: the caller's data was rejected before
// any commit was attempted.
type ValidationError struct {
	Problems []string
}

func NewValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Problems, "; "))
}

// CorruptedSnapshotError indicates durable data that failed to parse or is
// structurally incomplete. Distinct from ValidationError so callers can decide
// whether restoring from elsewhere is viable.
type CorruptedSnapshotError struct {
	Name   string
	Reason string
	Err    error
}

func (e *CorruptedSnapshotError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("snapshot %q is corrupted: %s: %v", e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("snapshot %q is corrupted: %s", e.Name, e.Reason)
}

func (e *CorruptedSnapshotError) Unwrap() error { return e.Err }

// PersistenceError indicates a failed write/verify/rename sequence. The prior
// committed snapshot remains authoritative.
type PersistenceError struct {
	Name string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed for %q during %s: %v", e.Name, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// RestoreFailure reports a failed restore attempt. RollbackOK distinguishes
// the recoverable case (system returned to its pre-restore state) from the
// severe one (rollback itself failed, state may be inconsistent).
type RestoreFailure struct {
	BackupName   string
	SafetyBackup string
	RollbackOK   bool
	RestoreErr   error
	RollbackErr  error
}

func (e *RestoreFailure) Error() string {
	if e.RollbackOK {
		return fmt.Sprintf("restore of %q failed (rollback succeeded): %v", e.BackupName, e.RestoreErr)
	}
	return fmt.Sprintf("restore of %q failed and rollback failed, state may be inconsistent: restore: %v, rollback: %v",
		e.BackupName, e.RestoreErr, e.RollbackErr)
}

func (e *RestoreFailure) Unwrap() error { return e.RestoreErr }

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsCorrupted reports whether err carries a CorruptedSnapshotError.
func IsCorrupted(err error) bool {
	var ce *CorruptedSnapshotError
	return errors.As(err, &ce)
}

// IsPersistence reports whether err carries a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
