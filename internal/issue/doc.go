// SPDX-License-Identifier: MPL-2.0

// Package issue is the user-facing error surface of the update engine.
//
// It provides ActionableError, a structured error carrying the failed
// operation, the resource involved, and fix suggestions, plus a catalog of
// Markdown cards rendered for the failure modes an update operator runs
// into (invalid archive, rolled-back update, manual recovery).
package issue
