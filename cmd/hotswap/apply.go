// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andiusndd/hotswap/internal/archive"
	"github.com/andiusndd/hotswap/internal/fsutil"
	"github.com/andiusndd/hotswap/internal/hostenv"
	"github.com/andiusndd/hotswap/internal/hostreg"
	"github.com/andiusndd/hotswap/internal/issue"
	"github.com/andiusndd/hotswap/internal/manifest"
	"github.com/andiusndd/hotswap/internal/update"
)

var (
	applyInstallDir string
	applyNamespace  string

	applyCmd = &cobra.Command{
		Use:   "apply <archive.zip>",
		Short: "Run a full update transaction from an archive",
		Long: `Apply validates the archive, extracts it to staging, backs up the
current installation, swaps the trees, reloads the extension's modules,
and verifies readiness. Failures at or after the swap roll back to the
backup automatically.`,
		Args: cobra.ExactArgs(1),
		RunE: runApply,
	}
)

func init() {
	applyCmd.Flags().StringVar(&applyInstallDir, "install-dir", "", "extension installation directory (defaults to extension.install_dir from config)")
	applyCmd.Flags().StringVar(&applyNamespace, "namespace", "", "extension namespace (defaults to the staged manifest's namespace)")
}

func runApply(cmd *cobra.Command, args []string) error {
	archivePath := args[0]

	installDir, err := resolveInstallDir(applyInstallDir)
	if err != nil {
		return err
	}
	namespace := applyNamespace
	if namespace == "" {
		namespace = cfg.Extension.Namespace
	}

	// Load the current installation into stand-in host registries. A fresh
	// install has nothing to load yet; the reload phase then operates on an
	// empty registry and readiness is reported accordingly.
	host := hostreg.NewHost()
	if fsutil.DirExists(installDir) {
		builtHost, installed, buildErr := hostenv.BuildHost(installDir, cfg.Extension.Entrypoint)
		if buildErr != nil {
			return fmt.Errorf("loading installed extension: %w", buildErr)
		}
		host = builtHost
		if namespace == "" {
			namespace = installed.Namespace
		}
	}

	scheduler := &update.TimerScheduler{}
	orchestrator := update.New(installDir, namespace, host,
		update.WithLogger(newLogger()),
		update.WithScheduler(scheduler),
		update.WithEntryPoint(cfg.Extension.Entrypoint),
		update.WithThresholds(cfg.Verify.Thresholds()),
		update.WithRecheckDelay(cfg.Verify.RecheckDelay()),
	)

	result, err := orchestrator.Run(cmd.Context(), archivePath)
	if err != nil {
		reportApplyFailure(result, err)
		return exitFailure(err)
	}

	fmt.Printf("%s version %s installed to %s\n",
		SuccessStyle.Render("✓ update succeeded:"),
		result.Version,
		PathStyle.Render(installDir))
	if result.ReloadSummary != nil {
		fmt.Println(DetailStyle.Render(fmt.Sprintf("  reloaded %d module(s), %d failure(s)",
			len(result.ReloadSummary.Reloaded), len(result.ReloadSummary.Failures))))
	}
	if !result.Report.Ready {
		fmt.Println(WarningStyle.Render("  extension not fully ready: ") + result.Report.Detail)
		renderIssueCard(issue.ExtensionNotReadyId)
	}

	// Let the delayed readiness re-check fire before the process exits.
	scheduler.Wait()
	return nil
}

// reportApplyFailure prints the terse failure line plus the catalog card
// matching the failure mode.
func reportApplyFailure(result *update.Result, err error) {
	fmt.Println(ErrorStyle.Render("✗ update failed: ") + formatErrorForDisplay(err, verbose))

	var manual *update.ManualRecoveryError
	switch {
	case errors.Is(err, update.ErrUpdateInFlight):
		renderIssueCard(issue.UpdateInFlightId)
	case errors.As(err, &manual):
		renderIssueCard(issue.ManualRecoveryRequiredId)
	case result != nil && result.Phase == update.PhaseRolledBack:
		renderIssueCard(issue.UpdateRolledBackId)
	case errors.Is(err, manifest.ErrInvalidManifest):
		renderIssueCard(issue.ManifestInvalidId)
	case errors.Is(err, archive.ErrInvalidArchive):
		renderIssueCard(issue.ArchiveInvalidId)
	}
}

// resolveInstallDir picks the installation directory from the flag or the
// configuration, requiring one of the two.
func resolveInstallDir(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if cfg.Extension.InstallDir != "" {
		return cfg.Extension.InstallDir, nil
	}
	return "", issue.NewErrorContext().
		WithOperation("resolve installation directory").
		WithSuggestion("Pass --install-dir").
		WithSuggestion("Or set extension.install_dir in the configuration file").
		Wrap(errors.New("no installation directory configured")).
		BuildError()
}
