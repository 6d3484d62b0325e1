// SPDX-License-Identifier: MPL-2.0

// Package backup snapshots an installed extension before it is replaced.
//
// A backup is a full copy of the installation directory placed next to it,
// named "<dirname>_backup_<timestamp>". Keeping the snapshot a sibling of the
// installation means restore is a same-filesystem copy and the snapshot is
// easy to find by hand if automatic recovery ever fails.
package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andiusndd/hotswap/internal/fsutil"
	"github.com/andiusndd/hotswap/internal/testutil"
)

// TimestampLayout is the time layout embedded in backup directory names,
// chosen to sort lexicographically in creation order.
const TimestampLayout = "20060102_150405"

var (
	// ErrBackupFailed is the sentinel error wrapped by Error.
	ErrBackupFailed = errors.New("backup operation failed")
)

type (
	// Manager creates, restores, and discards installation snapshots. The
	// zero value is not usable; construct with NewManager.
	Manager struct {
		clock testutil.Clock
	}

	// Error reports a failed backup operation. It wraps ErrBackupFailed for
	// errors.Is() compatibility.
	Error struct {
		// Op is the operation that failed ("backup", "restore", "discard").
		Op string
		// Path is the directory the operation was acting on.
		Path string
		// Cause is the underlying error.
		Cause error
	}
)

// Error implements the error interface for Error.
func (e *Error) Error() string {
	return fmt.Sprintf("backup %s of %s failed: %v", e.Op, e.Path, e.Cause)
}

// Unwrap returns ErrBackupFailed for errors.Is() compatibility.
func (e *Error) Unwrap() error { return ErrBackupFailed }

// NewManager returns a Manager stamping backup names with the given clock.
// Pass testutil.RealClock{} outside of tests.
func NewManager(clock testutil.Clock) *Manager {
	return &Manager{clock: clock}
}

// BackupPath returns the sibling path a snapshot of installDir taken now
// would be written to.
func (m *Manager) BackupPath(installDir string) string {
	stamp := m.clock.Now().Format(TimestampLayout)
	return filepath.Join(filepath.Dir(installDir), fmt.Sprintf("%s_backup_%s", filepath.Base(installDir), stamp))
}

// Backup copies installDir to a timestamped sibling directory and returns
// the snapshot path. An existing directory at the snapshot path (two updates
// inside the same clock second) is removed first, so the snapshot always
// reflects the current installation.
func (m *Manager) Backup(installDir string) (string, error) {
	if !fsutil.DirExists(installDir) {
		return "", &Error{Op: "backup", Path: installDir, Cause: errors.New("installation directory does not exist")}
	}

	backupPath := m.BackupPath(installDir)
	if fsutil.Exists(backupPath) {
		if err := os.RemoveAll(backupPath); err != nil {
			return "", &Error{Op: "backup", Path: backupPath, Cause: err}
		}
	}

	if err := fsutil.CopyTree(installDir, backupPath); err != nil {
		// Do not leave a half-written snapshot that could later be restored.
		_ = os.RemoveAll(backupPath)
		return "", &Error{Op: "backup", Path: installDir, Cause: err}
	}
	return backupPath, nil
}

// Restore replaces whatever is at installDir with the snapshot's contents.
// The snapshot itself is left in place, so Restore can be retried; callers
// discard it separately once they no longer need it.
func (m *Manager) Restore(backupPath, installDir string) error {
	if !fsutil.DirExists(backupPath) {
		return &Error{Op: "restore", Path: backupPath, Cause: errors.New("backup directory does not exist")}
	}

	if err := os.RemoveAll(installDir); err != nil {
		return &Error{Op: "restore", Path: installDir, Cause: err}
	}
	if err := fsutil.CopyTree(backupPath, installDir); err != nil {
		return &Error{Op: "restore", Path: installDir, Cause: err}
	}
	return nil
}

// Discard deletes the snapshot at backupPath. Discarding a snapshot that is
// already gone is not an error.
func (m *Manager) Discard(backupPath string) error {
	if err := os.RemoveAll(backupPath); err != nil {
		return &Error{Op: "discard", Path: backupPath, Cause: err}
	}
	return nil
}
