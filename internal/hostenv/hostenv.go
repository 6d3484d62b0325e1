// SPDX-License-Identifier: MPL-2.0

// Package hostenv adapts an on-disk extension installation into host
// registries, letting the CLI act as a stand-in host process: every apply,
// reload, and verify run exercises the same engine code paths an embedding
// host would.
//
// Each source file of the installation becomes one code unit whose loader
// re-reads the file from disk, so a reload observes whatever the installer
// put there. The extension's capabilities come from its manifest, installed
// by a registration unit named after the bare namespace; because the bare
// namespace sorts before any dotted unit, registration always runs first in
// a reload pass.
package hostenv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andiusndd/hotswap/internal/hostreg"
	"github.com/andiusndd/hotswap/internal/manifest"
)

// BuildHost constructs host registries for the extension installed at
// installDir and performs the initial load: units registered, capabilities
// installed, metadata and session settings attached. entryPoint is the
// manifest file name at the top level of the installation; empty means
// manifest.DefaultFileName.
func BuildHost(installDir, entryPoint string) (*hostreg.Host, *manifest.Manifest, error) {
	if entryPoint == "" {
		entryPoint = manifest.DefaultFileName
	}

	m, err := manifest.Load(filepath.Join(installDir, entryPoint))
	if err != nil {
		return nil, nil, fmt.Errorf("loading installed extension manifest: %w", err)
	}

	host := hostreg.NewHost()

	host.Modules.Register(&hostreg.Unit{
		Identifier: m.Namespace,
		Loader:     registrationLoader(host, installDir, entryPoint, m.Namespace),
	})

	if err := registerSourceUnits(host, installDir, entryPoint, m.Namespace); err != nil {
		return nil, nil, err
	}

	// Initial load: run the registration unit once so capabilities,
	// metadata, and settings reflect the installation.
	if unit, ok := host.Modules.Lookup(m.Namespace); ok {
		if err := unit.Loader(); err != nil {
			return nil, nil, err
		}
	}

	return host, m, nil
}

// registrationLoader returns the loader of the namespace registration
// unit. Each run re-reads the manifest from disk and replaces the
// extension's capabilities, metadata, and session settings, the way an
// extension's own registration code would on load.
func registrationLoader(host *hostreg.Host, installDir, entryPoint, namespace string) hostreg.LoaderFunc {
	return func() error {
		m, err := manifest.Load(filepath.Join(installDir, entryPoint))
		if err != nil {
			return fmt.Errorf("re-reading extension manifest: %w", err)
		}
		if m.Namespace != namespace {
			return fmt.Errorf("installed manifest namespace %q does not match loaded namespace %q", m.Namespace, namespace)
		}

		host.Capabilities.UnregisterPrefix(namespace)
		for _, id := range m.QualifiedSurfaces() {
			host.Capabilities.RegisterSurface(id)
		}
		for _, id := range m.QualifiedCommands() {
			host.Capabilities.RegisterCommand(id)
		}

		host.Metadata.Set(namespace, m)
		if len(m.Settings) > 0 {
			host.Session.Attach(namespace, m.Settings)
		}
		return nil
	}
}

// registerSourceUnits registers one code unit per regular file under
// installDir (manifest excluded). Loaders re-read their file on every
// invocation and fail when it is gone or unreadable.
func registerSourceUnits(host *hostreg.Host, installDir, entryPoint, namespace string) error {
	return filepath.WalkDir(installDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(installDir, path)
		if err != nil {
			return err
		}
		if rel == entryPoint {
			return nil
		}

		filePath := path
		host.Modules.Register(&hostreg.Unit{
			Identifier: UnitIdentifier(namespace, rel),
			Loader: func() error {
				if _, err := os.ReadFile(filePath); err != nil {
					return fmt.Errorf("loading unit source: %w", err)
				}
				return nil
			},
		})
		return nil
	})
}

// UnitIdentifier derives the qualified unit identifier for a source file:
// the relative path with its extension stripped and separators converted to
// dots, prefixed with the namespace. "panels/bake.mod" under namespace
// "advbake" becomes "advbake.panels.bake".
func UnitIdentifier(namespace, relPath string) string {
	p := filepath.ToSlash(relPath)
	if ext := filepath.Ext(p); ext != "" {
		p = strings.TrimSuffix(p, ext)
	}
	return namespace + "." + strings.ReplaceAll(p, "/", ".")
}
