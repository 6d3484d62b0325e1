// SPDX-License-Identifier: MPL-2.0

// Package install swaps a staged extension tree into the installation path.
//
// The swap is intentionally not atomic: the installed tree is deleted first
// and the staged tree moved in afterwards, which is why callers take a
// snapshot before asking for a Replace. A rename is attempted first; when
// staging lives on a different filesystem the tree is copied instead.
package install

import (
	"errors"
	"fmt"
	"os"

	"github.com/andiusndd/hotswap/internal/fsutil"
)

var (
	// ErrReplaceFailed is the sentinel error wrapped by ReplaceError.
	ErrReplaceFailed = errors.New("installation replace failed")
)

type (
	// Installer performs the destructive swap step of an update.
	Installer struct{}

	// ReplaceError reports a failed swap, including the step that failed so
	// the caller knows whether the installation path was already destroyed.
	ReplaceError struct {
		// Step is "remove" (old tree still partially present) or "move"
		// (old tree gone, new tree not in place).
		Step string
		// Path is the directory the failing step was acting on.
		Path string
		// Cause is the underlying error.
		Cause error
	}
)

// Error implements the error interface for ReplaceError.
func (e *ReplaceError) Error() string {
	return fmt.Sprintf("replace failed at %s step on %s: %v", e.Step, e.Path, e.Cause)
}

// Unwrap returns ErrReplaceFailed for errors.Is() compatibility.
func (e *ReplaceError) Unwrap() error { return ErrReplaceFailed }

// NewInstaller returns a ready-to-use Installer.
func NewInstaller() *Installer { return &Installer{} }

// Replace removes the tree at installDir (if present) and moves the staged
// tree at stagedRoot into its place. On success the staging location no
// longer contains the tree. Replace assumes the caller has already backed up
// installDir; after the remove step there is no old tree to go back to.
func (i *Installer) Replace(stagedRoot, installDir string) error {
	if !fsutil.DirExists(stagedRoot) {
		return &ReplaceError{Step: "move", Path: stagedRoot, Cause: errors.New("staged tree does not exist")}
	}

	if err := os.RemoveAll(installDir); err != nil {
		return &ReplaceError{Step: "remove", Path: installDir, Cause: err}
	}

	if err := os.Rename(stagedRoot, installDir); err != nil {
		// Staging may sit on another filesystem; fall back to a copy.
		if copyErr := fsutil.CopyTree(stagedRoot, installDir); copyErr != nil {
			_ = os.RemoveAll(installDir)
			return &ReplaceError{Step: "move", Path: installDir, Cause: copyErr}
		}
		_ = os.RemoveAll(stagedRoot)
	}
	return nil
}

// Remove deletes the tree at installDir. It is used to clear install
// remnants when a swap fails and no snapshot exists to restore.
func (i *Installer) Remove(installDir string) error {
	if err := os.RemoveAll(installDir); err != nil {
		return &ReplaceError{Step: "remove", Path: installDir, Cause: err}
	}
	return nil
}
