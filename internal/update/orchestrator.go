// SPDX-License-Identifier: MPL-2.0

// Package update coordinates the live-update transaction: validate the
// incoming archive, extract it to staging, snapshot the current
// installation, swap the trees, reload the extension's code units in the
// host, and verify readiness.
//
// The transaction is asymmetric around the Replacing phase. Failures before
// it leave the installation untouched and end in Failed; failures at or
// after it trigger an automatic restore from the snapshot and end in
// RolledBack. An unready verification result is the one exception: the swap
// and reload already succeeded, so the transaction still ends in Succeeded
// and the readiness report carries the shortfall for the operator.
package update

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/andiusndd/hotswap/internal/archive"
	"github.com/andiusndd/hotswap/internal/backup"
	"github.com/andiusndd/hotswap/internal/fsutil"
	"github.com/andiusndd/hotswap/internal/hostreg"
	"github.com/andiusndd/hotswap/internal/install"
	"github.com/andiusndd/hotswap/internal/manifest"
	"github.com/andiusndd/hotswap/internal/reload"
	"github.com/andiusndd/hotswap/internal/testutil"
	"github.com/andiusndd/hotswap/internal/verify"
)

// DefaultRecheckDelay is how long after a completed transaction the
// one-shot readiness re-check fires.
const DefaultRecheckDelay = time.Second

type (
	// snapshotter is the backup surface the orchestrator needs.
	snapshotter interface {
		Backup(installDir string) (string, error)
		Restore(backupPath, installDir string) error
		Discard(backupPath string) error
	}

	// swapper is the installer surface the orchestrator needs.
	swapper interface {
		Replace(stagedRoot, installDir string) error
		Remove(installDir string) error
	}

	// moduleReloader re-executes the extension's loaded code units.
	moduleReloader interface {
		Reload(namespace string) (*reload.Summary, error)
	}

	// readinessChecker probes the host for extension readiness.
	readinessChecker interface {
		CheckReady(namespace string) *verify.Report
	}

	// Orchestrator drives one extension's update transactions. A single
	// Orchestrator serializes its transactions; concurrent Run calls beyond
	// the first return ErrUpdateInFlight.
	Orchestrator struct {
		installDir string
		namespace  string
		entryPoint string
		host       *hostreg.Host

		snapshots snapshotter
		installer swapper
		reloader  moduleReloader
		verifier  readinessChecker
		scheduler Scheduler
		logger    *log.Logger

		recheckDelay time.Duration
		inFlight     atomic.Bool

		// Seams for archive handling, overridable in tests.
		validateArchive func(path, entryPoint string) (*archive.Info, error)
		extractArchive  func(info *archive.Info, destDir string) (string, error)
		loadManifest    func(path string) (*manifest.Manifest, error)
	}

	// Option configures an Orchestrator.
	Option func(*Orchestrator)

	// Result describes a finished transaction.
	Result struct {
		// Phase is the phase the transaction ended in: Succeeded,
		// RolledBack, or Failed, or Idle when the attempt was cancelled
		// before any mutation.
		Phase Phase
		// Version is the incoming extension version from the staged
		// manifest, when staging got far enough to read it.
		Version string
		// ReloadSummary is the per-unit reload outcome, when the
		// transaction reached the Reloading phase.
		ReloadSummary *reload.Summary
		// Report is the immediate readiness probe outcome, when the
		// transaction reached the Verifying phase.
		Report *verify.Report
		// BackupPath is the retained snapshot path when manual recovery is
		// required; empty otherwise.
		BackupPath string
	}
)

// WithLogger sets the transaction logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithScheduler sets the scheduler used for the delayed readiness re-check.
func WithScheduler(s Scheduler) Option {
	return func(o *Orchestrator) { o.scheduler = s }
}

// WithClock sets the clock used to stamp backup names.
func WithClock(clock testutil.Clock) Option {
	return func(o *Orchestrator) { o.snapshots = backup.NewManager(clock) }
}

// WithThresholds sets the readiness thresholds for the verification phase.
func WithThresholds(t verify.Thresholds) Option {
	return func(o *Orchestrator) { o.verifier = verify.NewVerifier(o.host, t) }
}

// WithRecheckDelay sets the delay before the one-shot readiness re-check.
func WithRecheckDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.recheckDelay = d }
}

// WithEntryPoint sets the manifest file name required at the top level of
// the archive's root folder. Empty keeps manifest.DefaultFileName.
func WithEntryPoint(name string) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.entryPoint = name
		}
	}
}

// WithSnapshotter replaces the backup manager.
func WithSnapshotter(s snapshotter) Option {
	return func(o *Orchestrator) { o.snapshots = s }
}

// WithInstaller replaces the tree swapper.
func WithInstaller(s swapper) Option {
	return func(o *Orchestrator) { o.installer = s }
}

// WithReloader replaces the module reloader.
func WithReloader(r moduleReloader) Option {
	return func(o *Orchestrator) { o.reloader = r }
}

// WithVerifier replaces the readiness checker.
func WithVerifier(v readinessChecker) Option {
	return func(o *Orchestrator) { o.verifier = v }
}

// New returns an Orchestrator updating the extension installed at
// installDir and loaded in host under namespace. The namespace may be left
// empty to trust the staged manifest's namespace.
func New(installDir, namespace string, host *hostreg.Host, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		installDir:      installDir,
		namespace:       namespace,
		entryPoint:      manifest.DefaultFileName,
		host:            host,
		snapshots:       backup.NewManager(testutil.RealClock{}),
		installer:       install.NewInstaller(),
		scheduler:       &TimerScheduler{},
		logger:          log.Default(),
		recheckDelay:    DefaultRecheckDelay,
		validateArchive: archive.Validate,
		extractArchive:  archive.Extract,
		loadManifest:    manifest.Load,
	}
	for _, opt := range opts {
		opt(o)
	}
	// Default collaborators are built after the options so they observe the
	// configured logger; explicit WithReloader/WithVerifier still win.
	if host != nil {
		if o.reloader == nil {
			o.reloader = reload.NewReloader(host.Modules, o.logger)
		}
		if o.verifier == nil {
			o.verifier = verify.NewVerifier(host, verify.DefaultThresholds())
		}
	}
	return o
}

// Run executes one full update transaction from the archive at archivePath
// and blocks until it reaches a terminal phase. The returned Result is
// always non-nil once the transaction started; the error is nil only when
// the terminal phase is Succeeded. A second Run while one is executing
// returns ErrUpdateInFlight without touching the running transaction.
func (o *Orchestrator) Run(ctx context.Context, archivePath string) (*Result, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return nil, ErrUpdateInFlight
	}
	defer o.inFlight.Store(false)

	result := &Result{}

	// Validating: pure read of the archive.
	o.enterPhase(PhaseValidating, archivePath)
	info, err := o.validateArchive(archivePath, o.entryPoint)
	if err != nil {
		return o.fail(result, PhaseValidating, err)
	}

	// Staging: extract to a scratch directory that is removed on every
	// terminal phase.
	o.enterPhase(PhaseStaging, archivePath)
	stagingDir, err := os.MkdirTemp("", "hotswap-staging-*")
	if err != nil {
		return o.fail(result, PhaseStaging, fmt.Errorf("creating staging directory: %w", err))
	}
	defer func() {
		_ = os.RemoveAll(stagingDir)
	}()

	stagedRoot, err := o.extractArchive(info, stagingDir)
	if err != nil {
		return o.fail(result, PhaseStaging, err)
	}

	staged, err := o.loadManifest(filepath.Join(stagedRoot, o.entryPoint))
	if err != nil {
		return o.fail(result, PhaseStaging, err)
	}
	result.Version = staged.Version

	namespace := o.namespace
	if namespace == "" {
		namespace = staged.Namespace
	}

	// Cancellation is honored up to here; from BackingUp on the
	// transaction runs to a terminal phase regardless of ctx. A cancelled
	// attempt returns to Idle: staging is discarded, nothing was mutated,
	// and a fresh Run may follow immediately.
	if err := ctx.Err(); err != nil {
		result.Phase = PhaseIdle
		o.logger.Info("update cancelled before backup, returning to idle", "err", err)
		return result, fmt.Errorf("update cancelled before backup: %w", err)
	}

	// BackingUp: snapshot the current installation. A fresh install has
	// nothing to snapshot and nothing to roll back to.
	o.enterPhase(PhaseBackingUp, o.installDir)
	backupPath := ""
	if fsutil.DirExists(o.installDir) {
		backupPath, err = o.snapshots.Backup(o.installDir)
		if err != nil {
			return o.fail(result, PhaseBackingUp, err)
		}
	}

	// Replacing: the destructive swap.
	o.enterPhase(PhaseReplacing, o.installDir)
	if err := o.installer.Replace(stagedRoot, o.installDir); err != nil {
		return o.rollback(result, PhaseReplacing, backupPath, err)
	}

	// Reloading: re-execute the extension's code units in the host.
	o.enterPhase(PhaseReloading, namespace)
	summary, err := o.reloader.Reload(namespace)
	result.ReloadSummary = summary
	if err != nil {
		return o.rollback(result, PhaseReloading, backupPath, err)
	}
	o.publishStagedState(namespace, staged)

	// Verifying: pure-read probe. An unready result is reported, not
	// rolled back: the new version is installed and loaded, and readiness
	// may still converge (the delayed re-check observes that).
	o.enterPhase(PhaseVerifying, namespace)
	result.Report = o.verifier.CheckReady(namespace)
	if !result.Report.Ready {
		o.logger.Warn("extension not ready after update", "namespace", namespace, "detail", result.Report.Detail)
	}

	if backupPath != "" {
		if err := o.snapshots.Discard(backupPath); err != nil {
			// The update itself succeeded; a stale snapshot is an
			// operator cleanup task, not a failure.
			o.logger.Warn("could not discard backup", "path", backupPath, "err", err)
		}
	}

	o.scheduleRecheck(namespace)

	result.Phase = PhaseSucceeded
	o.logger.Info("update transaction finished",
		"phase", result.Phase, "namespace", namespace, "version", result.Version, "ready", result.Report.Ready)
	return result, nil
}

// publishStagedState installs the staged manifest as the host's metadata
// record and session settings block, the way a completed load would.
func (o *Orchestrator) publishStagedState(namespace string, staged *manifest.Manifest) {
	if o.host == nil {
		return
	}
	o.host.Metadata.Set(namespace, staged)
	if len(staged.Settings) > 0 {
		o.host.Session.Attach(namespace, staged.Settings)
	}
}

// scheduleRecheck arms the one-shot delayed readiness probe. Its outcome is
// diagnostic only; the transaction's result is already reported.
func (o *Orchestrator) scheduleRecheck(namespace string) {
	if o.scheduler == nil {
		return
	}
	o.scheduler.Schedule(o.recheckDelay, func() {
		report := o.verifier.CheckReady(namespace)
		if report.Ready {
			o.logger.Info("delayed readiness re-check passed", "namespace", namespace)
		} else {
			o.logger.Warn("delayed readiness re-check failed", "namespace", namespace, "detail", report.Detail)
		}
	})
}

// fail ends the transaction in Failed. Used for non-destructive phases,
// where the installation on disk is untouched.
func (o *Orchestrator) fail(result *Result, phase Phase, cause error) (*Result, error) {
	result.Phase = PhaseFailed
	o.logger.Error("update transaction failed", "phase", phase, "err", cause)
	return result, fmt.Errorf("update failed during %s: %w", phase, cause)
}

// rollback restores the snapshot after a destructive-phase failure. With no
// snapshot (fresh install) it clears the remnants and ends in Failed; when
// the restore itself fails it retains the snapshot and escalates to
// ManualRecoveryError.
func (o *Orchestrator) rollback(result *Result, phase Phase, backupPath string, cause error) (*Result, error) {
	o.logger.Error("destructive phase failed, rolling back", "phase", phase, "err", cause)

	if backupPath == "" {
		if err := o.installer.Remove(o.installDir); err != nil {
			o.logger.Error("could not clear install remnants", "path", o.installDir, "err", err)
		}
		result.Phase = PhaseFailed
		return result, fmt.Errorf("update failed during %s with no backup to restore: %w", phase, cause)
	}

	if restoreErr := o.snapshots.Restore(backupPath, o.installDir); restoreErr != nil {
		result.Phase = PhaseFailed
		result.BackupPath = backupPath
		manual := &ManualRecoveryError{
			Phase:      phase,
			BackupPath: backupPath,
			Cause:      cause,
			RestoreErr: restoreErr,
		}
		o.logger.Error("rollback failed, manual recovery required", "backup", backupPath, "err", restoreErr)
		return result, manual
	}

	if err := o.snapshots.Discard(backupPath); err != nil {
		o.logger.Warn("could not discard backup after rollback", "path", backupPath, "err", err)
	}

	result.Phase = PhaseRolledBack
	o.logger.Info("rolled back to previous version", "phase", phase)
	return result, fmt.Errorf("update failed during %s, previous version restored: %w", phase, cause)
}

// enterPhase logs a phase transition.
func (o *Orchestrator) enterPhase(phase Phase, subject string) {
	o.logger.Info("entering phase", "phase", phase, "subject", subject)
}
