// SPDX-License-Identifier: MPL-2.0

// Package reload re-executes an extension's loaded code units against the
// files currently on disk.
//
// Reload is deliberately forgiving: a unit that fails to load is evicted
// from the module registry and recorded in the summary, and the remaining
// units are still attempted. The only hard error a reload can produce is an
// unusable registry; everything else is a per-unit outcome the readiness
// verifier will surface.
package reload

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/andiusndd/hotswap/internal/hostreg"
)

var (
	// ErrRegistryUnavailable is returned when the reloader has no module
	// registry to operate on.
	ErrRegistryUnavailable = errors.New("module registry unavailable")
)

type (
	// Reloader re-executes loaded code units by namespace prefix.
	Reloader struct {
		modules *hostreg.ModuleRegistry
		logger  *log.Logger
	}

	// Summary reports the outcome of one reload pass.
	Summary struct {
		// Namespace is the prefix that was reloaded.
		Namespace string
		// Attempted lists every unit identifier the pass visited, in the
		// order they were visited (lexicographic).
		Attempted []string
		// Reloaded lists the units that loaded successfully.
		Reloaded []string
		// Failures maps evicted unit identifiers to their load errors.
		Failures map[string]error
	}
)

// AllSucceeded reports whether every attempted unit reloaded cleanly.
func (s *Summary) AllSucceeded() bool { return len(s.Failures) == 0 }

// NewReloader returns a Reloader over the given module registry.
func NewReloader(modules *hostreg.ModuleRegistry, logger *log.Logger) *Reloader {
	if logger == nil {
		logger = log.Default()
	}
	return &Reloader{modules: modules, logger: logger}
}

// Reload re-executes every unit under namespace, in lexicographic identifier
// order. Units whose loader fails (or panics) are evicted from the registry
// and recorded in the summary; the pass continues with the next unit. The
// returned error is non-nil only when the registry itself is unavailable.
func (r *Reloader) Reload(namespace string) (*Summary, error) {
	if r.modules == nil {
		return nil, ErrRegistryUnavailable
	}

	summary := &Summary{
		Namespace: namespace,
		Attempted: r.modules.IdentifiersWithPrefix(namespace),
		Failures:  map[string]error{},
	}

	for _, id := range summary.Attempted {
		unit, ok := r.modules.Lookup(id)
		if !ok {
			// Evicted or replaced between scan and visit.
			summary.Failures[id] = fmt.Errorf("unit disappeared during reload")
			continue
		}

		if err := safeLoad(unit.Loader); err != nil {
			r.logger.Warn("unit failed to reload, evicting", "unit", id, "err", err)
			r.modules.Evict(id)
			summary.Failures[id] = err
			continue
		}

		summary.Reloaded = append(summary.Reloaded, id)
		r.logger.Debug("unit reloaded", "unit", id)

		if unit.Configure != nil {
			if err := safeLoad(hostreg.LoaderFunc(unit.Configure)); err != nil {
				// Reconfiguration is best effort; the unit stays loaded.
				r.logger.Warn("post-reload configure failed", "unit", id, "err", err)
			}
		}
	}

	return summary, nil
}

// safeLoad invokes fn, converting a panic into an ordinary load error so a
// misbehaving unit cannot take the host down mid-update.
func safeLoad(fn hostreg.LoaderFunc) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("loader panicked: %v", recovered)
		}
	}()
	if fn == nil {
		return errors.New("unit has no loader")
	}
	return fn()
}
