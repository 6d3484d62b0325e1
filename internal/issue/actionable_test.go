// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"strings"
	"testing"
)

func TestActionableErrorMessageShape(t *testing.T) {
	cause := errors.New("zip: not a valid zip file")
	err := NewErrorContext().
		WithOperation("apply update archive").
		WithResource("./ultimate_bake.zip").
		Wrap(cause).
		Build()

	want := "failed to apply update archive: ./ultimate_bake.zip: zip: not a valid zip file"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not reach the cause")
	}
}

func TestFormatIncludesSuggestions(t *testing.T) {
	err := NewErrorContext().
		WithOperation("verify extension readiness").
		WithSuggestion("Re-run 'hotswap verify' after a moment").
		WithSuggestion("Check the reload summary for evicted modules").
		Build()

	out := err.Format(false)
	if !strings.Contains(out, "• Re-run 'hotswap verify' after a moment") {
		t.Errorf("Format missing first suggestion: %q", out)
	}
	if !strings.Contains(out, "• Check the reload summary") {
		t.Errorf("Format missing second suggestion: %q", out)
	}
}

func TestFormatVerboseWalksErrorChain(t *testing.T) {
	inner := errors.New("disk full")
	middle := &ActionableError{Operation: "swap staged tree", Cause: inner}
	err := NewErrorContext().
		WithOperation("apply update archive").
		Wrap(middle).
		Build()

	out := err.Format(true)
	if !strings.Contains(out, "Error chain:") {
		t.Fatalf("verbose Format missing chain: %q", out)
	}
	if !strings.Contains(out, "disk full") {
		t.Errorf("chain missing innermost error: %q", out)
	}
}

func TestBuildRequiresOperation(t *testing.T) {
	if err := NewErrorContext().WithResource("x").BuildError(); err != nil {
		t.Errorf("BuildError without operation = %v, want nil", err)
	}
}
