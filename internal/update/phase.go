// SPDX-License-Identifier: MPL-2.0

package update

// Phase is a stage of the update transaction. Phases advance strictly
// forward; a transaction ends in exactly one of the terminal phases.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseStaging
	PhaseBackingUp
	PhaseReplacing
	PhaseReloading
	PhaseVerifying
	PhaseSucceeded
	PhaseRolledBack
	PhaseFailed
)

var phaseNames = map[Phase]string{
	PhaseIdle:       "idle",
	PhaseValidating: "validating",
	PhaseStaging:    "staging",
	PhaseBackingUp:  "backing-up",
	PhaseReplacing:  "replacing",
	PhaseReloading:  "reloading",
	PhaseVerifying:  "verifying",
	PhaseSucceeded:  "succeeded",
	PhaseRolledBack: "rolled-back",
	PhaseFailed:     "failed",
}

// String implements fmt.Stringer for Phase.
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the phase ends a transaction.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseRolledBack || p == PhaseFailed
}

// Destructive reports whether a failure in this phase leaves the
// installation in an unknown state and therefore requires rollback.
func (p Phase) Destructive() bool {
	return p == PhaseReplacing || p == PhaseReloading
}
