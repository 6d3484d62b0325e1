// SPDX-License-Identifier: MPL-2.0

// Package hostreg models the host process state an extension occupies while
// loaded: the code units the host has imported, the UI surfaces and commands
// the extension registered, the per-session settings block, and the
// extension metadata record.
//
// The update engine only ever talks to these registries; the real host embeds
// them (or adapts its own state to them), which keeps the engine testable
// without a live host. All registries are safe for concurrent use.
package hostreg

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/andiusndd/hotswap/internal/manifest"
)

type (
	// LoaderFunc re-executes a code unit's load, returning an error when the
	// unit's new source cannot be loaded.
	LoaderFunc func() error

	// ConfigureFunc runs a unit's optional post-reload reconfiguration.
	ConfigureFunc func() error

	// Unit is one loadable code unit attributed to an extension. Identifier
	// is the fully qualified name (namespace-prefixed, dot-separated).
	Unit struct {
		Identifier string
		Loader     LoaderFunc
		// Configure, when non-nil, is invoked after every successful reload
		// of the unit.
		Configure ConfigureFunc
	}

	// ModuleRegistry tracks the code units currently loaded in the host.
	ModuleRegistry struct {
		mu    sync.RWMutex
		units map[string]*Unit
	}

	// CapabilityRegistry tracks the UI surfaces and commands extensions have
	// registered with the host, by fully qualified identifier.
	CapabilityRegistry struct {
		mu       sync.RWMutex
		surfaces map[string]struct{}
		commands map[string]struct{}
	}

	// Session holds per-session extension settings blocks, keyed by
	// extension namespace.
	Session struct {
		mu       sync.RWMutex
		settings map[string]map[string]any
	}

	// MetadataStore holds the host's metadata record per extension
	// namespace, sourced from the installed manifest.
	MetadataStore struct {
		mu      sync.RWMutex
		records map[string]*manifest.Manifest
	}

	// Host aggregates the four registries the update engine operates on.
	Host struct {
		Modules      *ModuleRegistry
		Capabilities *CapabilityRegistry
		Session      *Session
		Metadata     *MetadataStore
	}
)

// NewHost returns a Host with empty registries.
func NewHost() *Host {
	return &Host{
		Modules:      NewModuleRegistry(),
		Capabilities: NewCapabilityRegistry(),
		Session:      NewSession(),
		Metadata:     NewMetadataStore(),
	}
}

// NewModuleRegistry returns an empty ModuleRegistry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{units: map[string]*Unit{}}
}

// Register inserts or replaces the unit under its identifier.
func (r *ModuleRegistry) Register(unit *Unit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[unit.Identifier] = unit
}

// Evict removes the unit with the given identifier, if present.
func (r *ModuleRegistry) Evict(identifier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.units, identifier)
}

// Lookup returns the unit registered under identifier.
func (r *ModuleRegistry) Lookup(identifier string) (*Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	unit, ok := r.units[identifier]
	return unit, ok
}

// IdentifiersWithPrefix returns the identifiers of all registered units
// whose name starts with prefix, sorted lexicographically.
func (r *ModuleRegistry) IdentifiersWithPrefix(prefix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id := range r.units {
		if hasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// HasPrefix reports whether at least one registered unit carries the prefix.
func (r *ModuleRegistry) HasPrefix(prefix string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.units {
		if hasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

// Len returns the number of registered units.
func (r *ModuleRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}

// hasPrefix matches identifier against a namespace prefix: either the
// identifier is the prefix itself or it continues with a dot separator, so
// namespace "adv" never matches "advbake.core".
func hasPrefix(identifier, prefix string) bool {
	if identifier == prefix {
		return true
	}
	return len(identifier) > len(prefix) &&
		identifier[:len(prefix)] == prefix &&
		identifier[len(prefix)] == '.'
}

// NewCapabilityRegistry returns an empty CapabilityRegistry.
func NewCapabilityRegistry() *CapabilityRegistry {
	return &CapabilityRegistry{
		surfaces: map[string]struct{}{},
		commands: map[string]struct{}{},
	}
}

// RegisterSurface records a UI surface under its qualified identifier.
func (r *CapabilityRegistry) RegisterSurface(identifier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surfaces[identifier] = struct{}{}
}

// RegisterCommand records a command under its qualified identifier.
func (r *CapabilityRegistry) RegisterCommand(identifier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[identifier] = struct{}{}
}

// UnregisterPrefix removes every surface and command carrying the prefix.
func (r *CapabilityRegistry) UnregisterPrefix(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.surfaces {
		if hasPrefix(id, prefix) {
			delete(r.surfaces, id)
		}
	}
	for id := range r.commands {
		if hasPrefix(id, prefix) {
			delete(r.commands, id)
		}
	}
}

// SurfacesWithPrefix returns the qualified surface identifiers carrying the
// prefix, sorted lexicographically.
func (r *CapabilityRegistry) SurfacesWithPrefix(prefix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return withPrefix(r.surfaces, prefix)
}

// CommandsWithPrefix returns the qualified command identifiers carrying the
// prefix, sorted lexicographically.
func (r *CapabilityRegistry) CommandsWithPrefix(prefix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return withPrefix(r.commands, prefix)
}

func withPrefix(set map[string]struct{}, prefix string) []string {
	var ids []string
	for _, id := range maps.Keys(set) {
		if hasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// NewSession returns an empty Session.
func NewSession() *Session {
	return &Session{settings: map[string]map[string]any{}}
}

// Attach installs the settings block for an extension namespace, replacing
// any previous block.
func (s *Session) Attach(namespace string, settings map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[namespace] = settings
}

// Detach removes the settings block for the namespace, if present.
func (s *Session) Detach(namespace string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.settings, namespace)
}

// Settings returns the settings block attached for the namespace.
func (s *Session) Settings(namespace string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings, ok := s.settings[namespace]
	return settings, ok
}

// NewMetadataStore returns an empty MetadataStore.
func NewMetadataStore() *MetadataStore {
	return &MetadataStore{records: map[string]*manifest.Manifest{}}
}

// Set records the metadata for an extension namespace.
func (m *MetadataStore) Set(namespace string, record *manifest.Manifest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[namespace] = record
}

// Remove drops the metadata record for the namespace, if present.
func (m *MetadataStore) Remove(namespace string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, namespace)
}

// Get returns the metadata record for the namespace.
func (m *MetadataStore) Get(namespace string) (*manifest.Manifest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[namespace]
	return record, ok
}
