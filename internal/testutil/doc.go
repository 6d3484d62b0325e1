// SPDX-License-Identifier: MPL-2.0

// Package testutil provides shared test infrastructure: a Clock abstraction
// with a deterministic fake, and directory-tree fixture helpers used by the
// backup, install, and orchestrator tests to assert byte-identical trees.
//
// The Clock lives here rather than in a production package because only the
// backup manager consumes it in production (always via RealClock); everything
// else about it exists for tests.
package testutil
