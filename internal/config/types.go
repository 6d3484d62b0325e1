// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andiusndd/hotswap/internal/verify"
)

var (
	// ErrInvalidVerifyConfig is the sentinel error wrapped by InvalidVerifyConfigError.
	ErrInvalidVerifyConfig = errors.New("invalid verify config")
	// ErrInvalidExtensionConfig is the sentinel error wrapped by InvalidExtensionConfigError.
	ErrInvalidExtensionConfig = errors.New("invalid extension config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// Config is the engine configuration.
	Config struct {
		Extension ExtensionConfig `mapstructure:"extension"`
		Verify    VerifyConfig    `mapstructure:"verify"`
		UI        UIConfig        `mapstructure:"ui"`
	}

	// ExtensionConfig describes the managed extension.
	ExtensionConfig struct {
		// Entrypoint is the manifest file name expected at the top level of
		// the extension's root folder.
		Entrypoint string `mapstructure:"entrypoint"`
		// Namespace optionally pins the extension namespace; when empty the
		// staged manifest's namespace is trusted.
		Namespace string `mapstructure:"namespace"`
		// InstallDir is the directory the extension is installed into.
		InstallDir string `mapstructure:"install_dir"`
	}

	// VerifyConfig holds the readiness probe thresholds.
	VerifyConfig struct {
		MinSurfaces         int     `mapstructure:"min_surfaces"`
		MinCommands         int     `mapstructure:"min_commands"`
		RecheckDelaySeconds float64 `mapstructure:"recheck_delay_seconds"`
	}

	// UIConfig holds CLI presentation settings.
	UIConfig struct {
		Verbose bool `mapstructure:"verbose"`
	}

	// InvalidVerifyConfigError is returned when a VerifyConfig has invalid
	// fields. It wraps ErrInvalidVerifyConfig for errors.Is() compatibility
	// and collects field-level validation errors.
	InvalidVerifyConfigError struct {
		FieldErrors []error
	}

	// InvalidExtensionConfigError is returned when an ExtensionConfig has
	// invalid fields. It wraps ErrInvalidExtensionConfig for errors.Is()
	// compatibility and collects field-level validation errors.
	InvalidExtensionConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields. It
	// wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Extension: ExtensionConfig{
			Entrypoint: "extension.toml",
		},
		Verify: VerifyConfig{
			MinSurfaces:         6,
			MinCommands:         10,
			RecheckDelaySeconds: 1,
		},
	}
}

// Thresholds converts the verify section to verifier thresholds.
func (v *VerifyConfig) Thresholds() verify.Thresholds {
	return verify.Thresholds{
		MinSurfaces: v.MinSurfaces,
		MinCommands: v.MinCommands,
	}
}

// RecheckDelay returns the delayed re-check interval as a Duration.
func (v *VerifyConfig) RecheckDelay() time.Duration {
	return time.Duration(v.RecheckDelaySeconds * float64(time.Second))
}

// IsValid returns whether the VerifyConfig has sane values: counts and the
// re-check delay must be non-negative.
func (v *VerifyConfig) IsValid() (bool, []error) {
	var errs []error
	if v.MinSurfaces < 0 {
		errs = append(errs, fmt.Errorf("min_surfaces must be non-negative, got %d", v.MinSurfaces))
	}
	if v.MinCommands < 0 {
		errs = append(errs, fmt.Errorf("min_commands must be non-negative, got %d", v.MinCommands))
	}
	if v.RecheckDelaySeconds < 0 {
		errs = append(errs, fmt.Errorf("recheck_delay_seconds must be non-negative, got %v", v.RecheckDelaySeconds))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidVerifyConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// IsValid returns whether the ExtensionConfig has sane values. The
// entrypoint must not be whitespace-only; namespace and install dir may be
// empty (resolved from the manifest and flags respectively).
func (e *ExtensionConfig) IsValid() (bool, []error) {
	var errs []error
	if e.Entrypoint != "" && strings.TrimSpace(e.Entrypoint) == "" {
		errs = append(errs, errors.New("entrypoint must not be whitespace-only"))
	}
	if e.Namespace != "" && strings.TrimSpace(e.Namespace) == "" {
		errs = append(errs, errors.New("namespace must not be whitespace-only"))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidExtensionConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// IsValid returns whether the whole Config is valid, collecting the
// sub-component errors.
func (c *Config) IsValid() (bool, []error) {
	var errs []error
	if ok, subErrs := c.Extension.IsValid(); !ok {
		errs = append(errs, subErrs...)
	}
	if ok, subErrs := c.Verify.IsValid(); !ok {
		errs = append(errs, subErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

func joinFieldErrors(prefix string, fieldErrors []error) string {
	msgs := make([]string, len(fieldErrors))
	for i, err := range fieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%s: %s", prefix, strings.Join(msgs, "; "))
}

// Error implements the error interface for InvalidVerifyConfigError.
func (e *InvalidVerifyConfigError) Error() string {
	return joinFieldErrors("invalid verify config", e.FieldErrors)
}

// Unwrap returns ErrInvalidVerifyConfig for errors.Is() compatibility.
func (e *InvalidVerifyConfigError) Unwrap() error { return ErrInvalidVerifyConfig }

// Error implements the error interface for InvalidExtensionConfigError.
func (e *InvalidExtensionConfigError) Error() string {
	return joinFieldErrors("invalid extension config", e.FieldErrors)
}

// Unwrap returns ErrInvalidExtensionConfig for errors.Is() compatibility.
func (e *InvalidExtensionConfigError) Unwrap() error { return ErrInvalidExtensionConfig }

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return joinFieldErrors("invalid config", e.FieldErrors)
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }
