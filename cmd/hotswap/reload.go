// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andiusndd/hotswap/internal/hostenv"
	"github.com/andiusndd/hotswap/internal/reload"
	"github.com/andiusndd/hotswap/internal/verify"
)

var (
	reloadInstallDir string

	reloadCmd = &cobra.Command{
		Use:   "reload",
		Short: "Reload the installed extension's modules in place",
		Long: `Reload re-executes every code unit of the installed extension from
disk, in lexicographic identifier order, without touching the
installation. Units that fail to load are evicted from the registry and
the rest continue. A readiness probe runs afterwards.`,
		Args: cobra.NoArgs,
		RunE: runReload,
	}
)

func init() {
	reloadCmd.Flags().StringVar(&reloadInstallDir, "install-dir", "", "extension installation directory (defaults to extension.install_dir from config)")
}

func runReload(cmd *cobra.Command, _ []string) error {
	installDir, err := resolveInstallDir(reloadInstallDir)
	if err != nil {
		return err
	}

	host, installed, err := hostenv.BuildHost(installDir, cfg.Extension.Entrypoint)
	if err != nil {
		return fmt.Errorf("loading installed extension: %w", err)
	}

	summary, err := reload.NewReloader(host.Modules, newLogger()).Reload(installed.Namespace)
	if err != nil {
		return exitFailure(err)
	}

	fmt.Printf("%s %d/%d module(s) under %s\n",
		SuccessStyle.Render("✓ reloaded"),
		len(summary.Reloaded), len(summary.Attempted),
		DetailStyle.Render(installed.Namespace))
	for id, loadErr := range summary.Failures {
		fmt.Println(ErrorStyle.Render("  ✗ evicted ") + id + DetailStyle.Render(": "+loadErr.Error()))
	}

	report := verify.NewVerifier(host, cfg.Verify.Thresholds()).CheckReady(installed.Namespace)
	printReport(report)
	if !summary.AllSucceeded() || !report.Ready {
		return exitFailure(fmt.Errorf("extension %s not fully operational after reload", installed.Namespace))
	}
	return nil
}

// printReport writes one line summarizing a readiness probe.
func printReport(report *verify.Report) {
	if report.Ready {
		fmt.Printf("%s %s (%d surfaces, %d commands)\n",
			SuccessStyle.Render("✓ ready:"),
			report.Namespace, report.Surfaces, report.Commands)
		return
	}
	fmt.Printf("%s %s: %s\n",
		WarningStyle.Render("! not ready:"),
		report.Namespace, report.Detail)
}
