// SPDX-License-Identifier: MPL-2.0

package cmd

import "fmt"

// ExitError carries the process exit code a failed command resolved to.
// RunE handlers return it instead of calling os.Exit, so fang still renders
// the failure before Execute maps the code onto the process exit status.
type ExitError struct {
	Code int
	Err  error
}

// exitFailure wraps a command failure in the conventional exit code 1.
func exitFailure(err error) *ExitError {
	return &ExitError{Code: 1, Err: err}
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("command failed with exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}
