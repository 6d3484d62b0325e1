// SPDX-License-Identifier: MPL-2.0

// Package manifest parses the extension manifest file (extension.toml).
//
// The manifest is the host's required entry-point file: every distributable
// archive must carry one at the top level of its root folder, and every
// installed extension must carry one at the top level of its installation
// directory. It declares the extension's identity (name, version), the
// namespace prefix under which its code units and capabilities are
// registered, and the capability surface the host expects after a
// successful load.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// DefaultFileName is the manifest file name expected at the top level of an
// extension's root folder.
const DefaultFileName = "extension.toml"

var (
	// ErrInvalidManifest is the sentinel error wrapped by InvalidManifestError.
	ErrInvalidManifest = errors.New("invalid extension manifest")
)

type (
	// Manifest describes an extension: its identity, the namespace prefix
	// used to attribute loaded code units and registered capabilities to it,
	// and the capability identifiers its registration code installs.
	Manifest struct {
		// Name is the human-readable extension name.
		Name string `toml:"name"`
		// Version is the extension version string (free-form; the engine
		// only logs it, it never orders versions).
		Version string `toml:"version"`
		// Namespace is the stable identity prefix for this extension's
		// loaded modules and registered capabilities.
		Namespace string `toml:"namespace"`
		// Description optionally describes the extension.
		Description string `toml:"description,omitempty"`
		// Surfaces lists the UI-surface identifiers (relative to Namespace)
		// that the extension registers on load.
		Surfaces []string `toml:"surfaces,omitempty"`
		// Commands lists the command identifiers (relative to Namespace)
		// that the extension registers on load.
		Commands []string `toml:"commands,omitempty"`
		// Settings holds the extension's per-session default settings.
		Settings map[string]any `toml:"settings,omitempty"`
	}

	// InvalidManifestError is returned when a manifest is structurally valid
	// TOML but is missing required fields. It wraps ErrInvalidManifest for
	// errors.Is() compatibility and collects field-level validation errors.
	InvalidManifestError struct {
		FieldErrors []error
	}
)

// Error implements the error interface for InvalidManifestError.
func (e *InvalidManifestError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, fieldErr := range e.FieldErrors {
		msgs[i] = fieldErr.Error()
	}
	return fmt.Sprintf("invalid extension manifest: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidManifest for errors.Is() compatibility.
func (e *InvalidManifestError) Unwrap() error { return ErrInvalidManifest }

// Parse decodes and validates a manifest from raw TOML bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding extension manifest: %w", err)
	}
	if isValid, errs := m.IsValid(); !isValid {
		return nil, errs[0]
	}
	return &m, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading extension manifest: %w", err)
	}
	return Parse(data)
}

// IsValid returns whether the Manifest has all required fields.
// Name, Version, and Namespace must be non-empty and not whitespace-only.
func (m *Manifest) IsValid() (bool, []error) {
	var errs []error
	if strings.TrimSpace(m.Name) == "" {
		errs = append(errs, errors.New("name must be non-empty"))
	}
	if strings.TrimSpace(m.Version) == "" {
		errs = append(errs, errors.New("version must be non-empty"))
	}
	if strings.TrimSpace(m.Namespace) == "" {
		errs = append(errs, errors.New("namespace must be non-empty"))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidManifestError{FieldErrors: errs}}
	}
	return true, nil
}

// QualifiedSurfaces returns the surface identifiers prefixed with the
// extension namespace, as they appear in the host capability registry.
func (m *Manifest) QualifiedSurfaces() []string {
	return qualify(m.Namespace, m.Surfaces)
}

// QualifiedCommands returns the command identifiers prefixed with the
// extension namespace, as they appear in the host capability registry.
func (m *Manifest) QualifiedCommands() []string {
	return qualify(m.Namespace, m.Commands)
}

func qualify(namespace string, ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = namespace + "." + id
	}
	return out
}
