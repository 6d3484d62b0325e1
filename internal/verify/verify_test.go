// SPDX-License-Identifier: MPL-2.0

package verify

import (
	"fmt"
	"strings"
	"testing"

	"github.com/andiusndd/hotswap/internal/hostreg"
	"github.com/andiusndd/hotswap/internal/manifest"
)

// readyHost builds a host in which the advbake extension passes every check
// against DefaultThresholds. Tests knock out one aspect at a time.
func readyHost(t *testing.T) *hostreg.Host {
	t.Helper()

	h := hostreg.NewHost()
	h.Modules.Register(&hostreg.Unit{Identifier: "advbake.core", Loader: func() error { return nil }})
	h.Metadata.Set("advbake", &manifest.Manifest{Name: "Ultimate Bake", Version: "3.2.0", Namespace: "advbake"})
	for i := 0; i < 6; i++ {
		h.Capabilities.RegisterSurface(fmt.Sprintf("advbake.panel.p%d", i))
	}
	for i := 0; i < 10; i++ {
		h.Capabilities.RegisterCommand(fmt.Sprintf("advbake.cmd.c%d", i))
	}
	h.Session.Attach("advbake", map[string]any{"bake_type": "diffuse"})
	return h
}

func TestCheckReadyOnHealthyHost(t *testing.T) {
	v := NewVerifier(readyHost(t), DefaultThresholds())

	report := v.CheckReady("advbake")
	if !report.Ready {
		t.Fatalf("Ready = false, detail: %s", report.Detail)
	}
	if report.Detail != "" {
		t.Errorf("Detail = %q on a ready report", report.Detail)
	}
	if report.Surfaces != 6 || report.Commands != 10 {
		t.Errorf("counts = %d/%d", report.Surfaces, report.Commands)
	}
}

func TestCheckReadyNoUnitsLoaded(t *testing.T) {
	h := readyHost(t)
	h.Modules.Evict("advbake.core")

	report := NewVerifier(h, DefaultThresholds()).CheckReady("advbake")
	if report.Ready {
		t.Fatal("Ready = true with no loaded units")
	}
	if !strings.Contains(report.Detail, "no code units loaded") {
		t.Errorf("Detail = %q", report.Detail)
	}
}

func TestCheckReadyMissingMetadata(t *testing.T) {
	h := readyHost(t)
	h.Metadata.Remove("advbake")

	report := NewVerifier(h, DefaultThresholds()).CheckReady("advbake")
	if report.Ready || !strings.Contains(report.Detail, "metadata missing") {
		t.Errorf("report = %+v", report)
	}
}

func TestCheckReadySurfaceShortfallCitesCounts(t *testing.T) {
	h := readyHost(t)
	h.Capabilities.UnregisterPrefix("advbake.panel.p5")

	report := NewVerifier(h, DefaultThresholds()).CheckReady("advbake")
	if report.Ready {
		t.Fatal("Ready = true below the surface threshold")
	}
	if report.Detail != "only 5/6 UI surfaces registered" {
		t.Errorf("Detail = %q", report.Detail)
	}
}

func TestCheckReadyCommandShortfallCitesCounts(t *testing.T) {
	h := readyHost(t)
	h.Capabilities.UnregisterPrefix("advbake.cmd.c9")

	report := NewVerifier(h, DefaultThresholds()).CheckReady("advbake")
	if report.Ready {
		t.Fatal("Ready = true below the command threshold")
	}
	if report.Detail != "only 9/10 commands registered" {
		t.Errorf("Detail = %q", report.Detail)
	}
}

func TestCheckReadySessionSettings(t *testing.T) {
	t.Run("not attached", func(t *testing.T) {
		h := readyHost(t)
		h.Session.Detach("advbake")

		report := NewVerifier(h, DefaultThresholds()).CheckReady("advbake")
		if report.Ready || !strings.Contains(report.Detail, "not attached") {
			t.Errorf("report = %+v", report)
		}
	})

	t.Run("empty block", func(t *testing.T) {
		h := readyHost(t)
		h.Session.Attach("advbake", map[string]any{})

		report := NewVerifier(h, DefaultThresholds()).CheckReady("advbake")
		if report.Ready || !strings.Contains(report.Detail, "no readable fields") {
			t.Errorf("report = %+v", report)
		}
	})
}

func TestCheckReadyOrdersChecksByFundamentality(t *testing.T) {
	// A host that is broken in every way reports the missing units first.
	h := hostreg.NewHost()

	report := NewVerifier(h, DefaultThresholds()).CheckReady("advbake")
	if !strings.Contains(report.Detail, "no code units loaded") {
		t.Errorf("Detail = %q, want the module check to fire first", report.Detail)
	}
}

func TestCheckReadyIsPureRead(t *testing.T) {
	h := readyHost(t)
	v := NewVerifier(h, DefaultThresholds())

	first := v.CheckReady("advbake")
	second := v.CheckReady("advbake")
	if *first != *second {
		t.Errorf("repeated probes disagree: %+v vs %+v", first, second)
	}
}

func TestZeroThresholdDisablesCountCheck(t *testing.T) {
	h := readyHost(t)
	h.Capabilities.UnregisterPrefix("advbake")

	report := NewVerifier(h, Thresholds{}).CheckReady("advbake")
	if !report.Ready {
		t.Errorf("Ready = false with disabled thresholds, detail: %s", report.Detail)
	}
}
