// SPDX-License-Identifier: MPL-2.0

package update

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/andiusndd/hotswap/internal/hostreg"
	"github.com/andiusndd/hotswap/internal/reload"
	"github.com/andiusndd/hotswap/internal/testutil"
	"github.com/andiusndd/hotswap/internal/verify"
)

const stagedManifest = `name = "Ultimate Bake"
version = "3.3.0"
namespace = "advbake"

[settings]
bake_type = "diffuse"
`

var newVersionTree = map[string]string{
	"extension.toml": stagedManifest,
	"core.mod":       "unit core v3.3",
}

var oldVersionTree = map[string]string{
	"extension.toml": "name = \"Ultimate Bake\"\nversion = \"3.2.0\"\nnamespace = \"advbake\"\n",
	"core.mod":       "unit core v3.2",
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

// writeArchive builds a well-formed update archive for the advbake
// extension and returns its path.
func writeArchive(t *testing.T, files map[string]string) string {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for rel, content := range files {
		fw, err := w.Create("ultimate_bake/" + rel)
		if err != nil {
			t.Fatalf("creating entry: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "ultimate_bake.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeInstall(t *testing.T, files map[string]string) string {
	t.Helper()

	installDir := filepath.Join(t.TempDir(), "extensions", "ultimate_bake")
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		t.Fatal(err)
	}
	testutil.WriteTree(t, installDir, files)
	return installDir
}

// backups lists the sibling snapshot directories next to installDir.
func backups(t *testing.T, installDir string) []string {
	t.Helper()

	entries, err := os.ReadDir(filepath.Dir(installDir))
	if err != nil {
		t.Fatal(err)
	}
	var found []string
	for _, e := range entries {
		if e.Name() != filepath.Base(installDir) {
			found = append(found, e.Name())
		}
	}
	return found
}

type (
	fakeReloader struct {
		summary *reload.Summary
		err     error
		calls   int
	}

	fakeVerifier struct {
		reports []*verify.Report
		calls   int
	}

	fakeScheduler struct {
		mu    sync.Mutex
		fns   []func()
		delay time.Duration
	}

	fakeSnapshots struct {
		backupPath string
		backupErr  error
		restoreErr error
		backups    int
		restores   int
		discards   int
	}

	failingSwapper struct {
		err error
	}
)

func (f *fakeReloader) Reload(namespace string) (*reload.Summary, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.summary != nil {
		return f.summary, nil
	}
	return &reload.Summary{Namespace: namespace, Failures: map[string]error{}}, nil
}

func (f *fakeVerifier) CheckReady(namespace string) *verify.Report {
	f.calls++
	if len(f.reports) > 0 {
		r := f.reports[0]
		if len(f.reports) > 1 {
			f.reports = f.reports[1:]
		}
		return r
	}
	return &verify.Report{Namespace: namespace, Ready: true}
}

func (s *fakeScheduler) Schedule(delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = delay
	s.fns = append(s.fns, fn)
}

func (s *fakeScheduler) fire(t *testing.T) {
	s.mu.Lock()
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()
	if len(fns) != 1 {
		t.Fatalf("scheduled callbacks = %d, want exactly 1", len(fns))
	}
	fns[0]()
}

func (f *fakeSnapshots) Backup(installDir string) (string, error) {
	f.backups++
	if f.backupErr != nil {
		return "", f.backupErr
	}
	return f.backupPath, nil
}

func (f *fakeSnapshots) Restore(backupPath, installDir string) error {
	f.restores++
	return f.restoreErr
}

func (f *fakeSnapshots) Discard(backupPath string) error {
	f.discards++
	return nil
}

func (f *failingSwapper) Replace(stagedRoot, installDir string) error { return f.err }
func (f *failingSwapper) Remove(installDir string) error              { return nil }

func TestRunHappyPathReplacesInstallAndSucceeds(t *testing.T) {
	archivePath := writeArchive(t, newVersionTree)
	installDir := writeInstall(t, oldVersionTree)
	host := hostreg.NewHost()
	scheduler := &fakeScheduler{}

	o := New(installDir, "", host,
		WithLogger(quietLogger()),
		WithScheduler(scheduler),
		WithReloader(&fakeReloader{}),
		WithVerifier(&fakeVerifier{}),
	)

	result, err := o.Run(context.Background(), archivePath)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Phase != PhaseSucceeded {
		t.Errorf("Phase = %s", result.Phase)
	}
	if result.Version != "3.3.0" {
		t.Errorf("Version = %q", result.Version)
	}
	if result.Report == nil || !result.Report.Ready {
		t.Errorf("Report = %+v", result.Report)
	}
	testutil.AssertTreeEquals(t, newVersionTree, installDir)
	if got := backups(t, installDir); len(got) != 0 {
		t.Errorf("backup not discarded after success: %v", got)
	}
}

func TestRunPublishesStagedMetadataAndSettings(t *testing.T) {
	archivePath := writeArchive(t, newVersionTree)
	installDir := writeInstall(t, oldVersionTree)
	host := hostreg.NewHost()

	o := New(installDir, "", host,
		WithLogger(quietLogger()),
		WithScheduler(&fakeScheduler{}),
		WithReloader(&fakeReloader{}),
		WithVerifier(&fakeVerifier{}),
	)
	if _, err := o.Run(context.Background(), archivePath); err != nil {
		t.Fatalf("Run: %v", err)
	}

	record, ok := host.Metadata.Get("advbake")
	if !ok || record.Version != "3.3.0" {
		t.Errorf("metadata record = %+v, %v", record, ok)
	}
	settings, ok := host.Session.Settings("advbake")
	if !ok || settings["bake_type"] != "diffuse" {
		t.Errorf("session settings = %v, %v", settings, ok)
	}
}

func TestRunValidationFailureLeavesInstallUntouched(t *testing.T) {
	badArchive := filepath.Join(t.TempDir(), "bad.zip")
	if err := os.WriteFile(badArchive, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	installDir := writeInstall(t, oldVersionTree)

	o := New(installDir, "", nil,
		WithLogger(quietLogger()),
		WithReloader(&fakeReloader{}),
		WithVerifier(&fakeVerifier{}),
	)

	result, err := o.Run(context.Background(), badArchive)
	if err == nil {
		t.Fatal("Run succeeded on a corrupt archive")
	}
	if result.Phase != PhaseFailed {
		t.Errorf("Phase = %s", result.Phase)
	}
	testutil.AssertTreeEquals(t, oldVersionTree, installDir)
	if got := backups(t, installDir); len(got) != 0 {
		t.Errorf("backup created before a destructive phase: %v", got)
	}
}

func TestRunReplaceFailureRollsBack(t *testing.T) {
	archivePath := writeArchive(t, newVersionTree)
	installDir := writeInstall(t, oldVersionTree)

	o := New(installDir, "", nil,
		WithLogger(quietLogger()),
		WithClock(testutil.NewFakeClock(time.Time{})),
		WithInstaller(&failingSwapper{err: errors.New("disk full")}),
		WithReloader(&fakeReloader{}),
		WithVerifier(&fakeVerifier{}),
	)

	result, err := o.Run(context.Background(), archivePath)
	if err == nil {
		t.Fatal("Run succeeded despite replace failure")
	}
	if result.Phase != PhaseRolledBack {
		t.Errorf("Phase = %s", result.Phase)
	}
	// Previous version restored, snapshot cleaned up.
	testutil.AssertTreeEquals(t, oldVersionTree, installDir)
	if got := backups(t, installDir); len(got) != 0 {
		t.Errorf("backup left behind after rollback: %v", got)
	}
}

func TestRunReloadRegistryFailureRollsBack(t *testing.T) {
	archivePath := writeArchive(t, newVersionTree)
	installDir := writeInstall(t, oldVersionTree)

	o := New(installDir, "", nil,
		WithLogger(quietLogger()),
		WithClock(testutil.NewFakeClock(time.Time{})),
		WithReloader(&fakeReloader{err: reload.ErrRegistryUnavailable}),
		WithVerifier(&fakeVerifier{}),
	)

	result, err := o.Run(context.Background(), archivePath)
	if !errors.Is(err, reload.ErrRegistryUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if result.Phase != PhaseRolledBack {
		t.Errorf("Phase = %s", result.Phase)
	}
	testutil.AssertTreeEquals(t, oldVersionTree, installDir)
}

func TestRunUnreadyVerificationStillSucceeds(t *testing.T) {
	archivePath := writeArchive(t, newVersionTree)
	installDir := writeInstall(t, oldVersionTree)
	unready := &verify.Report{Namespace: "advbake", Detail: "only 5/6 UI surfaces registered"}

	o := New(installDir, "", nil,
		WithLogger(quietLogger()),
		WithScheduler(&fakeScheduler{}),
		WithReloader(&fakeReloader{summary: &reload.Summary{
			Namespace: "advbake",
			Failures:  map[string]error{"advbake.panels": errors.New("load failed")},
		}}),
		WithVerifier(&fakeVerifier{reports: []*verify.Report{unready}}),
	)

	result, err := o.Run(context.Background(), archivePath)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Phase != PhaseSucceeded {
		t.Errorf("Phase = %s, want optimistic success", result.Phase)
	}
	if result.Report.Ready {
		t.Error("Report.Ready = true, want the shortfall reported")
	}
	// The swap stands: no restore happened.
	testutil.AssertTreeEquals(t, newVersionTree, installDir)
}

func TestRunRestoreFailureEscalatesToManualRecovery(t *testing.T) {
	archivePath := writeArchive(t, newVersionTree)
	installDir := writeInstall(t, oldVersionTree)
	snapshots := &fakeSnapshots{
		backupPath: "/backups/ultimate_bake_backup_20240601_123045",
		restoreErr: errors.New("backup volume unmounted"),
	}

	o := New(installDir, "", nil,
		WithLogger(quietLogger()),
		WithSnapshotter(snapshots),
		WithInstaller(&failingSwapper{err: errors.New("disk full")}),
		WithReloader(&fakeReloader{}),
		WithVerifier(&fakeVerifier{}),
	)

	result, err := o.Run(context.Background(), archivePath)
	var manual *ManualRecoveryError
	if !errors.As(err, &manual) {
		t.Fatalf("err = %v, want ManualRecoveryError", err)
	}
	if manual.BackupPath != snapshots.backupPath {
		t.Errorf("BackupPath = %q", manual.BackupPath)
	}
	if result.Phase != PhaseFailed {
		t.Errorf("Phase = %s", result.Phase)
	}
	if result.BackupPath != snapshots.backupPath {
		t.Errorf("result.BackupPath = %q", result.BackupPath)
	}
	if snapshots.discards != 0 {
		t.Errorf("backup discarded %d times despite failed restore", snapshots.discards)
	}
}

func TestRunFreshInstallFailureClearsRemnants(t *testing.T) {
	archivePath := writeArchive(t, newVersionTree)
	// No existing installation: nothing to back up, nothing to restore.
	installDir := filepath.Join(t.TempDir(), "extensions", "ultimate_bake")
	snapshots := &fakeSnapshots{}

	o := New(installDir, "", nil,
		WithLogger(quietLogger()),
		WithSnapshotter(snapshots),
		WithInstaller(&failingSwapper{err: errors.New("disk full")}),
		WithReloader(&fakeReloader{}),
		WithVerifier(&fakeVerifier{}),
	)

	result, err := o.Run(context.Background(), archivePath)
	if err == nil {
		t.Fatal("Run succeeded despite replace failure")
	}
	if result.Phase != PhaseFailed {
		t.Errorf("Phase = %s, want Failed (no backup to roll back to)", result.Phase)
	}
	if snapshots.backups != 0 || snapshots.restores != 0 {
		t.Errorf("snapshot calls = %d backups, %d restores, want none", snapshots.backups, snapshots.restores)
	}
}

func TestRunCancelledBeforeBackingUp(t *testing.T) {
	archivePath := writeArchive(t, newVersionTree)
	installDir := writeInstall(t, oldVersionTree)
	snapshots := &fakeSnapshots{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(installDir, "", nil,
		WithLogger(quietLogger()),
		WithSnapshotter(snapshots),
		WithReloader(&fakeReloader{}),
		WithVerifier(&fakeVerifier{}),
	)

	result, err := o.Run(ctx, archivePath)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if result.Phase != PhaseIdle {
		t.Errorf("Phase = %s, want return to Idle", result.Phase)
	}
	if snapshots.backups != 0 {
		t.Error("backup created for a cancelled transaction")
	}
	testutil.AssertTreeEquals(t, oldVersionTree, installDir)

	// Back at Idle, a fresh attempt is admitted immediately.
	if _, err := o.Run(context.Background(), archivePath); err != nil {
		t.Fatalf("Run after cancellation: %v", err)
	}
}

func TestRunRejectsConcurrentTransactions(t *testing.T) {
	archivePath := writeArchive(t, newVersionTree)
	installDir := writeInstall(t, oldVersionTree)

	parked := make(chan struct{})
	block := make(chan struct{})
	var once sync.Once
	o := New(installDir, "", nil,
		WithLogger(quietLogger()),
		WithClock(testutil.NewFakeClock(time.Time{})),
		WithScheduler(&fakeScheduler{}),
		WithReloader(reloaderFunc(func(namespace string) (*reload.Summary, error) {
			once.Do(func() {
				close(parked)
				<-block
			})
			return &reload.Summary{Namespace: namespace, Failures: map[string]error{}}, nil
		})),
		WithVerifier(&fakeVerifier{}),
	)

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), archivePath)
		done <- err
	}()

	// Wait until the first transaction is parked inside Reloading, then a
	// second Run must bounce off the in-flight guard.
	<-parked
	if _, err := o.Run(context.Background(), archivePath); !errors.Is(err, ErrUpdateInFlight) {
		t.Fatalf("second Run: err = %v, want ErrUpdateInFlight", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// With the first transaction finished, a new one is admitted.
	if _, err := o.Run(context.Background(), archivePath); err != nil {
		t.Fatalf("follow-up Run: %v", err)
	}
}

type reloaderFunc func(namespace string) (*reload.Summary, error)

func (f reloaderFunc) Reload(namespace string) (*reload.Summary, error) { return f(namespace) }

func TestRunSchedulesExactlyOneDelayedRecheck(t *testing.T) {
	archivePath := writeArchive(t, newVersionTree)
	installDir := writeInstall(t, oldVersionTree)
	scheduler := &fakeScheduler{}
	verifier := &fakeVerifier{}

	o := New(installDir, "", nil,
		WithLogger(quietLogger()),
		WithScheduler(scheduler),
		WithRecheckDelay(250*time.Millisecond),
		WithReloader(&fakeReloader{}),
		WithVerifier(verifier),
	)

	result, err := o.Run(context.Background(), archivePath)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if scheduler.delay != 250*time.Millisecond {
		t.Errorf("recheck delay = %v", scheduler.delay)
	}

	scheduler.fire(t)
	if verifier.calls != 2 {
		t.Errorf("verifier calls = %d, want immediate probe plus one re-check", verifier.calls)
	}
	// The re-check is diagnostic only.
	if result.Phase != PhaseSucceeded {
		t.Errorf("Phase changed after re-check: %s", result.Phase)
	}
}

func TestRunHonorsConfiguredEntryPoint(t *testing.T) {
	archivePath := writeArchive(t, map[string]string{
		"plugin.toml": stagedManifest,
		"core.mod":    "unit core v3.3",
	})
	installDir := writeInstall(t, oldVersionTree)

	o := New(installDir, "", nil,
		WithLogger(quietLogger()),
		WithScheduler(&fakeScheduler{}),
		WithEntryPoint("plugin.toml"),
		WithReloader(&fakeReloader{}),
		WithVerifier(&fakeVerifier{}),
	)

	result, err := o.Run(context.Background(), archivePath)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Phase != PhaseSucceeded || result.Version != "3.3.0" {
		t.Errorf("result = %s/%s", result.Phase, result.Version)
	}

	// The default entry-point name rejects the same archive at validation.
	o = New(installDir, "", nil,
		WithLogger(quietLogger()),
		WithReloader(&fakeReloader{}),
		WithVerifier(&fakeVerifier{}),
	)
	result, err = o.Run(context.Background(), archivePath)
	if err == nil {
		t.Fatal("Run accepted an archive without the default manifest name")
	}
	if result.Phase != PhaseFailed {
		t.Errorf("Phase = %s", result.Phase)
	}
}

func TestRunEvictionWarningsUseConfiguredLogger(t *testing.T) {
	archivePath := writeArchive(t, newVersionTree)
	installDir := writeInstall(t, oldVersionTree)

	host := hostreg.NewHost()
	host.Modules.Register(&hostreg.Unit{
		Identifier: "advbake.broken",
		Loader:     func() error { return errors.New("load failed") },
	})

	var buf bytes.Buffer
	o := New(installDir, "", host,
		WithLogger(log.New(&buf)),
		WithScheduler(&fakeScheduler{}),
		WithVerifier(&fakeVerifier{}),
	)

	result, err := o.Run(context.Background(), archivePath)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ReloadSummary.Failures["advbake.broken"] == nil {
		t.Fatalf("failures = %v", result.ReloadSummary.Failures)
	}
	if !strings.Contains(buf.String(), "advbake.broken") {
		t.Error("eviction warning bypassed the configured logger")
	}
}

func TestRunStagingFailureOnBadManifest(t *testing.T) {
	archivePath := writeArchive(t, map[string]string{
		"extension.toml": "name = [unclosed",
		"core.mod":       "unit core",
	})
	installDir := writeInstall(t, oldVersionTree)

	o := New(installDir, "", nil,
		WithLogger(quietLogger()),
		WithReloader(&fakeReloader{}),
		WithVerifier(&fakeVerifier{}),
	)

	result, err := o.Run(context.Background(), archivePath)
	if err == nil {
		t.Fatal("Run succeeded with an unparseable staged manifest")
	}
	if result.Phase != PhaseFailed {
		t.Errorf("Phase = %s", result.Phase)
	}
	testutil.AssertTreeEquals(t, oldVersionTree, installDir)
}

func TestManualRecoveryErrorMessageNamesBackup(t *testing.T) {
	err := &ManualRecoveryError{
		Phase:      PhaseReplacing,
		BackupPath: "/backups/ultimate_bake_backup_20240601_123045",
		Cause:      errors.New("disk full"),
		RestoreErr: errors.New("backup volume unmounted"),
	}
	msg := err.Error()
	for _, want := range []string{"manual recovery", "/backups/ultimate_bake_backup_20240601_123045", "disk full"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestPhaseStringAndTerminal(t *testing.T) {
	if PhaseReplacing.String() != "replacing" {
		t.Errorf("String = %q", PhaseReplacing.String())
	}
	for _, p := range []Phase{PhaseSucceeded, PhaseRolledBack, PhaseFailed} {
		if !p.Terminal() {
			t.Errorf("%s not terminal", p)
		}
	}
	for _, p := range []Phase{PhaseIdle, PhaseValidating, PhaseVerifying} {
		if p.Terminal() {
			t.Errorf("%s reported terminal", p)
		}
	}
}
