// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/andiusndd/hotswap/internal/config"
	"github.com/andiusndd/hotswap/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// verbose enables verbose output
	verbose bool
	// cfgFile allows specifying a custom config file
	cfgFile string

	// cfg is the configuration resolved by initRootConfig; never nil after
	// initialization (falls back to defaults).
	cfg = config.DefaultConfig()

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "hotswap",
		Short: "Live-update engine for host extensions",
		Long: TitleStyle.Render("hotswap") + SubtitleStyle.Render(" - Live-update engine for host extensions") + `

hotswap replaces an installed extension inside a long-lived host process
without restarting it: the update archive is validated, extracted to a
staging area, the current installation is backed up, the trees are
swapped, the extension's modules are reloaded in-process, and readiness
is verified. Failures after the point of no return roll back to the
backup automatically.

` + SubtitleStyle.Render("Examples:") + `
  hotswap apply ./ultimate_bake.zip   Run a full update transaction
  hotswap reload                      Reload the installed extension in place
  hotswap verify                      Probe extension readiness
  hotswap config show                 Show the resolved configuration`,
	}
)

func init() {
	cobra.OnInitialize(initRootConfig)

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/hotswap/config.cue)")

	// Add subcommands
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(configCmd)
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// initRootConfig resolves the configuration before any command runs.
func initRootConfig() {
	loaded, err := config.Load(context.Background(), config.LoadOptions{
		ConfigFilePath: cfgFile,
	})
	if err != nil {
		// Surface the problem but keep running on defaults.
		fmt.Fprintln(os.Stderr, WarningStyle.Render("Warning: ")+formatErrorForDisplay(err, verbose))
		return
	}
	cfg = loaded

	// Apply verbose from config if not set via flag
	if !verbose {
		verbose = cfg.UI.Verbose
	}
}

// newLogger builds the transaction logger for command handlers.
func newLogger() *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "hotswap"})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// formatErrorForDisplay formats an error for user display. ActionableError
// values render their suggestions; verbose mode shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}

// renderIssueCard prints the catalog card for id, falling back to the raw
// markdown when rendering fails (e.g. no TTY style support).
func renderIssueCard(id issue.Id) {
	card := issue.Get(id)
	if card == nil {
		return
	}
	rendered, err := card.Render("dark")
	if err != nil {
		rendered = string(card.MarkdownMsg())
	}
	fmt.Fprintln(os.Stderr, rendered)
}
