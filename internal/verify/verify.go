// SPDX-License-Identifier: MPL-2.0

// Package verify probes whether an extension is fully operational inside the
// host after a reload.
//
// The probe is a pure read of the host registries: it never mutates state
// and never errors. Checks run in order from most to least fundamental and
// the report cites the first shortfall, so "no code units loaded" is never
// drowned out by a capability count.
package verify

import (
	"fmt"

	"github.com/andiusndd/hotswap/internal/hostreg"
)

type (
	// Thresholds are the minimum capability counts a ready extension must
	// have registered.
	Thresholds struct {
		// MinSurfaces is the minimum number of registered UI surfaces.
		MinSurfaces int
		// MinCommands is the minimum number of registered commands.
		MinCommands int
	}

	// Verifier probes host registries for one extension's readiness.
	Verifier struct {
		host       *hostreg.Host
		thresholds Thresholds
	}

	// Report is the outcome of a readiness probe.
	Report struct {
		// Namespace is the probed extension namespace.
		Namespace string
		// Ready is true when every check passed.
		Ready bool
		// Detail describes the first failed check; empty when Ready.
		Detail string
		// Surfaces and Commands are the observed capability counts,
		// populated whether or not the probe passed their thresholds.
		Surfaces int
		Commands int
	}
)

// DefaultThresholds match the capability surface a complete extension
// installation registers.
func DefaultThresholds() Thresholds {
	return Thresholds{MinSurfaces: 6, MinCommands: 10}
}

// NewVerifier returns a Verifier over the given host with the given
// thresholds. Zero or negative threshold values disable that count check.
func NewVerifier(host *hostreg.Host, thresholds Thresholds) *Verifier {
	return &Verifier{host: host, thresholds: thresholds}
}

// CheckReady probes the host for the namespace and returns a report. The
// probe reads registries only; a failed check produces an unready report,
// never an error.
func (v *Verifier) CheckReady(namespace string) *Report {
	report := &Report{Namespace: namespace}
	if v.host == nil {
		report.Detail = "host registries unavailable"
		return report
	}

	report.Surfaces = len(v.host.Capabilities.SurfacesWithPrefix(namespace))
	report.Commands = len(v.host.Capabilities.CommandsWithPrefix(namespace))

	if !v.host.Modules.HasPrefix(namespace) {
		report.Detail = fmt.Sprintf("no code units loaded under namespace %s", namespace)
		return report
	}

	if _, ok := v.host.Metadata.Get(namespace); !ok {
		report.Detail = fmt.Sprintf("extension metadata missing for namespace %s", namespace)
		return report
	}

	if v.thresholds.MinSurfaces > 0 && report.Surfaces < v.thresholds.MinSurfaces {
		report.Detail = fmt.Sprintf("only %d/%d UI surfaces registered", report.Surfaces, v.thresholds.MinSurfaces)
		return report
	}

	if v.thresholds.MinCommands > 0 && report.Commands < v.thresholds.MinCommands {
		report.Detail = fmt.Sprintf("only %d/%d commands registered", report.Commands, v.thresholds.MinCommands)
		return report
	}

	settings, ok := v.host.Session.Settings(namespace)
	if !ok {
		report.Detail = fmt.Sprintf("session settings not attached for namespace %s", namespace)
		return report
	}
	if len(settings) == 0 {
		report.Detail = fmt.Sprintf("session settings block for namespace %s has no readable fields", namespace)
		return report
	}

	report.Ready = true
	return report
}
