// SPDX-License-Identifier: MPL-2.0

package update

import (
	"errors"
	"fmt"
)

var (
	// ErrUpdateInFlight is returned by Run when another update transaction
	// is already executing on the same Orchestrator.
	ErrUpdateInFlight = errors.New("an update is already in flight")
)

// ManualRecoveryError is the worst outcome an update can have: a
// destructive phase failed and the automatic restore from backup failed
// too, so the installation is in an unknown state. The snapshot at
// BackupPath is retained for manual recovery.
type ManualRecoveryError struct {
	// Phase is the phase whose failure triggered the rollback.
	Phase Phase
	// BackupPath is the retained snapshot to restore by hand.
	BackupPath string
	// Cause is the failure that triggered the rollback.
	Cause error
	// RestoreErr is the error the restore itself failed with.
	RestoreErr error
}

// Error implements the error interface for ManualRecoveryError.
func (e *ManualRecoveryError) Error() string {
	return fmt.Sprintf(
		"update failed during %s and automatic rollback failed (%v); manual recovery required, backup retained at %s (original failure: %v)",
		e.Phase, e.RestoreErr, e.BackupPath, e.Cause,
	)
}

// Unwrap returns the original failure that triggered the rollback.
func (e *ManualRecoveryError) Unwrap() error { return e.Cause }
