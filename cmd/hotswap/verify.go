// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andiusndd/hotswap/internal/hostenv"
	"github.com/andiusndd/hotswap/internal/issue"
	"github.com/andiusndd/hotswap/internal/verify"
)

var (
	verifyInstallDir string

	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Probe the installed extension's readiness",
		Long: `Verify loads the installed extension into stand-in host registries and
runs the readiness probe: code units loaded, metadata published,
capability counts at their thresholds, session settings attached. The
probe is read-only; it exits non-zero when the extension is not ready.`,
		Args: cobra.NoArgs,
		RunE: runVerify,
	}
)

func init() {
	verifyCmd.Flags().StringVar(&verifyInstallDir, "install-dir", "", "extension installation directory (defaults to extension.install_dir from config)")
}

func runVerify(cmd *cobra.Command, _ []string) error {
	installDir, err := resolveInstallDir(verifyInstallDir)
	if err != nil {
		return err
	}

	host, installed, err := hostenv.BuildHost(installDir, cfg.Extension.Entrypoint)
	if err != nil {
		return fmt.Errorf("loading installed extension: %w", err)
	}

	report := verify.NewVerifier(host, cfg.Verify.Thresholds()).CheckReady(installed.Namespace)
	printReport(report)
	if !report.Ready {
		renderIssueCard(issue.ExtensionNotReadyId)
		return exitFailure(fmt.Errorf("extension %s not ready: %s", report.Namespace, report.Detail))
	}
	return nil
}
