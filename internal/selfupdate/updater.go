// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/postmir/postmir-update/internal/digest"
	"github.com/postmir/postmir-update/internal/governor"
	"github.com/postmir/postmir-update/internal/installer"
	"github.com/postmir/postmir-update/internal/manifest"
)

type (
	// VersionCodeProvider returns the running build's version code, and false
	// when it cannot be determined.
	VersionCodeProvider func() (int64, bool)

	// CheckOutcome is the result of a completed check. IsNewer is false
	// whenever the running version code is unknown.
	CheckOutcome struct {
		Manifest           *manifest.Manifest
		IsNewer            bool
		CurrentVersionCode int64
		CurrentKnown       bool
	}

	// PollResult is the result of a background poll.
	PollResult struct {
		// Outcome is nil when the poll was throttled.
		Outcome  *CheckOutcome
		Notified bool
	}

	// Status is a snapshot of the Updater for presentation.
	Status struct {
		State       State
		Busy        bool
		Progress    float64
		HasProgress bool
		Err         error
		// Latest is the manifest from the most recent successful check.
		Latest *manifest.Manifest
		// ArtifactPath is the verified artifact awaiting install, if any.
		ArtifactPath string
	}

	// Updater composes the client, governor, downloader and installer into the
	// end-to-end update flow. It is the primary facade for the selfupdate
	// package and is safe for concurrent use.
	Updater struct {
		manifestURL string
		client      *Client
		downloader  *Downloader
		governor    *governor.Governor
		installer   installer.Installer
		versionCode VersionCodeProvider
		now         func() time.Time
		notify      func(CheckOutcome)
		onProgress  ProgressFunc
		logger      *log.Logger

		checks singleflight.Group

		mu          sync.Mutex
		state       State
		busy        bool
		progress    float64
		hasProgress bool
		lastErr     error
		latest      *manifest.Manifest
		verified    *verifiedArtifact

		// onTransition observes every state change; tests only.
		onTransition func(from, to State)
	}

	verifiedArtifact struct {
		path     string
		manifest *manifest.Manifest
	}

	// UpdaterOption configures an Updater during construction.
	UpdaterOption func(*Updater)
)

// WithClient overrides the default Client.
func WithClient(c *Client) UpdaterOption {
	return func(u *Updater) { u.client = c }
}

// WithDownloader overrides the default Downloader.
func WithDownloader(d *Downloader) UpdaterOption {
	return func(u *Updater) { u.downloader = d }
}

// WithGovernor sets the governor. Defaults to one backed by a MemoryStore.
func WithGovernor(g *governor.Governor) UpdaterOption {
	return func(u *Updater) { u.governor = g }
}

// WithInstaller overrides the platform installer.
func WithInstaller(i installer.Installer) UpdaterOption {
	return func(u *Updater) { u.installer = i }
}

// WithVersionCode sets the running build's version code provider.
func WithVersionCode(p VersionCodeProvider) UpdaterOption {
	return func(u *Updater) { u.versionCode = p }
}

// WithNow sets the time source used for throttling.
func WithNow(now func() time.Time) UpdaterOption {
	return func(u *Updater) { u.now = now }
}

// WithNotifier sets the callback invoked by Poll when a version is surfaced
// for the first time.
func WithNotifier(fn func(CheckOutcome)) UpdaterOption {
	return func(u *Updater) { u.notify = fn }
}

// WithProgress sets a callback that receives download progress in addition to
// the progress exposed through Status.
func WithProgress(fn ProgressFunc) UpdaterOption {
	return func(u *Updater) { u.onProgress = fn }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) UpdaterOption {
	return func(u *Updater) { u.logger = l }
}

// KnownVersion returns a provider that always reports code.
func KnownVersion(code int64) VersionCodeProvider {
	return func() (int64, bool) { return code, code > 0 }
}

// NewUpdater creates an Updater polling manifestURL. Collaborators that are
// not supplied get production defaults.
func NewUpdater(manifestURL string, opts ...UpdaterOption) (*Updater, error) {
	u := &Updater{
		manifestURL: manifestURL,
		versionCode: func() (int64, bool) { return 0, false },
		now:         time.Now,
		logger:      log.NewWithOptions(os.Stderr, log.Options{Prefix: "updater"}),
	}
	for _, opt := range opts {
		opt(u)
	}

	if u.client == nil {
		u.client = NewClient()
	}
	if u.governor == nil {
		u.governor = governor.New(&governor.MemoryStore{})
	}
	if u.installer == nil {
		u.installer = installer.ForPlatform()
	}
	if u.downloader == nil {
		engine, err := digest.NewEngine()
		if err != nil {
			return nil, &Error{Kind: KindDigestUnsupported, Op: "init", Err: err}
		}
		u.downloader = NewDownloader(u.client, engine)
	}
	return u, nil
}

// Check fetches the manifest and compares it with the running version. It
// returns nil, nil when the governor throttles an unforced check. Every
// attempt is recorded with the governor, whatever its outcome.
//
// Concurrent calls share a single request. The shared request is detached
// from the callers' contexts and bounded by the HTTP client timeout; a caller
// whose context ends stops waiting with a Transport error while the others
// still get the result.
func (u *Updater) Check(ctx context.Context, force bool) (*CheckOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: KindTransport, Op: "check", Err: err}
	}
	if !u.governor.ShouldCheck(u.now(), force) {
		u.logger.Debug("check throttled", "next", u.governor.NextCheck())
		return nil, nil
	}

	detached := context.WithoutCancel(ctx)
	results := u.checks.DoChan("check", func() (any, error) {
		return u.check(detached)
	})

	select {
	case <-ctx.Done():
		return nil, &Error{Kind: KindTransport, Op: "check", Err: ctx.Err()}
	case res := <-results:
		if res.Shared {
			u.logger.Debug("joined in-flight check")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*CheckOutcome), nil
	}
}

func (u *Updater) check(ctx context.Context) (*CheckOutcome, error) {
	u.mu.Lock()
	u.setCheckStateLocked(StateChecking)
	u.mu.Unlock()

	m, err := u.client.FetchManifest(ctx, u.manifestURL)
	if markErr := u.governor.MarkChecked(u.now()); markErr != nil {
		u.logger.Warn("could not record check time", "error", markErr)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if err != nil {
		werr := wrap("check", err)
		u.setCheckStateLocked(StateIdle)
		u.recordErrLocked(werr)
		return nil, werr
	}

	current, known := u.versionCode()
	outcome := &CheckOutcome{
		Manifest:           m,
		CurrentVersionCode: current,
		CurrentKnown:       known,
		IsNewer:            known && m.VersionCode() > current,
	}

	u.latest = m
	u.lastErr = nil
	if outcome.IsNewer {
		u.setCheckStateLocked(StateUpdateFound)
	} else {
		u.setCheckStateLocked(StateNoUpdate)
	}

	u.logger.Debug("check complete", "latest", m.VersionCode(), "current", current, "known", known, "newer", outcome.IsNewer)
	return outcome, nil
}

// setCheckStateLocked moves the check-related states without disturbing a
// running pipeline or a verified artifact awaiting install.
func (u *Updater) setCheckStateLocked(next State) {
	if u.busy || u.state == StateVerified {
		return
	}
	if u.state.CanTransition(next) {
		u.moveLocked(next)
	}
}

// moveLocked enters next. Transitions the state machine forbids are logged
// as errors.
func (u *Updater) moveLocked(next State) {
	if !u.state.CanTransition(next) {
		u.logger.Error("invalid state transition", "from", u.state, "to", next)
	}
	if u.onTransition != nil {
		u.onTransition(u.state, next)
	}
	u.state = next
}

// Poll performs a throttled background check. When a newer version has not
// been surfaced before, the notifier is called and the version is recorded so
// it is surfaced only once.
func (u *Updater) Poll(ctx context.Context) (PollResult, error) {
	outcome, err := u.Check(ctx, false)
	if err != nil || outcome == nil {
		return PollResult{Outcome: outcome}, err
	}

	res := PollResult{Outcome: outcome}
	if !outcome.IsNewer {
		return res, nil
	}

	code := outcome.Manifest.VersionCode()
	if !u.governor.ShouldNotify(code) {
		u.logger.Debug("update already surfaced", "version_code", code)
		return res, nil
	}

	if u.notify != nil {
		u.notify(*outcome)
	}
	if err := u.governor.MarkNotified(code); err != nil {
		u.logger.Warn("could not record notified version", "version_code", code, "error", err)
	}
	res.Notified = true
	return res, nil
}

// Watch polls every interval until ctx is done. The first poll runs
// immediately. Poll failures are logged and do not stop the loop.
func (u *Updater) Watch(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = u.governor.Interval()
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if _, err := u.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			u.logger.Warn("background check failed", "kind", KindOf(err), "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DownloadAndVerify downloads the artifact for m and returns its path once the
// digest matches. A second call while a download or install is running fails
// with ErrBusy.
func (u *Updater) DownloadAndVerify(ctx context.Context, m *manifest.Manifest) (string, error) {
	if m == nil {
		return "", &Error{Kind: KindManifestInvalid, Op: "download", Err: manifest.ErrInvalid}
	}
	if err := u.acquire("download"); err != nil {
		return "", err
	}
	defer u.release()

	return u.downloadAndVerify(ctx, m)
}

func (u *Updater) downloadAndVerify(ctx context.Context, m *manifest.Manifest) (string, error) {
	u.mu.Lock()
	u.moveLocked(StateDownloading)
	u.progress, u.hasProgress = 0, false
	u.lastErr = nil
	u.verified = nil
	u.mu.Unlock()

	path, err := u.downloader.Download(ctx, m, u.reportProgress)
	if err != nil {
		u.finish(StateUpdateFound, err)
		return "", err
	}

	u.mu.Lock()
	u.moveLocked(StateVerifying)
	u.mu.Unlock()

	if err := u.downloader.Verify(m, path); err != nil {
		u.finish(StateVerifyFailed, err)
		return "", err
	}

	u.mu.Lock()
	u.moveLocked(StateVerified)
	u.verified = &verifiedArtifact{path: path, manifest: m}
	u.mu.Unlock()

	u.logger.Info("update verified", "version_code", m.VersionCode(), "path", path)
	return path, nil
}

// Install hands the artifact at path to the platform installer. path must be
// the artifact returned by the most recent successful DownloadAndVerify; it is
// verified again immediately before the hand-off.
func (u *Updater) Install(ctx context.Context, path string) error {
	if err := u.acquire("install"); err != nil {
		return err
	}
	defer u.release()

	return u.install(ctx, path)
}

func (u *Updater) install(ctx context.Context, path string) error {
	if !u.installer.CanInstall() {
		err := &Error{Kind: KindPlatformNotSupported, Op: "install", Err: installer.ErrPlatformNotSupported}
		u.mu.Lock()
		u.recordErrLocked(err)
		u.mu.Unlock()
		return err
	}

	u.mu.Lock()
	va := u.verified
	if va == nil || va.path != path || u.state != StateVerified {
		err := &Error{Kind: KindInstallFailed, Op: "install", Err: fmt.Errorf("%w: %s", ErrNotVerified, path)}
		u.recordErrLocked(err)
		u.mu.Unlock()
		return err
	}
	u.moveLocked(StateVerifying)
	u.mu.Unlock()

	// The file may have changed since it was verified.
	if err := u.downloader.Verify(va.manifest, path); err != nil {
		u.finish(StateVerifyFailed, err)
		return err
	}

	u.mu.Lock()
	u.moveLocked(StateVerified)
	u.moveLocked(StateInstalling)
	u.mu.Unlock()

	u.logger.Info("launching installer", "version_code", va.manifest.VersionCode(), "path", path)
	if err := u.installer.Install(ctx, path); err != nil {
		werr := &Error{Kind: KindInstallFailed, Op: "install", Err: err}
		u.downloader.discard(path, werr)
		u.finish(StateInstallFailed, werr)
		return werr
	}

	u.finish(StateInstallRequested, nil)
	return nil
}

// Apply runs the whole pipeline for m: platform gate, download, verify and
// install. The platform is checked first so nothing is downloaded on a
// platform that cannot install. It returns the artifact path.
func (u *Updater) Apply(ctx context.Context, m *manifest.Manifest) (string, error) {
	if m == nil {
		return "", &Error{Kind: KindManifestInvalid, Op: "apply", Err: manifest.ErrInvalid}
	}
	if err := u.acquire("apply"); err != nil {
		return "", err
	}
	defer u.release()

	if !u.installer.CanInstall() {
		err := &Error{Kind: KindPlatformNotSupported, Op: "apply", Err: installer.ErrPlatformNotSupported}
		u.mu.Lock()
		u.recordErrLocked(err)
		u.mu.Unlock()
		return "", err
	}

	path, err := u.downloadAndVerify(ctx, m)
	if err != nil {
		return "", err
	}
	return path, u.install(ctx, path)
}

// Status returns a snapshot for presentation.
func (u *Updater) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()

	s := Status{
		State:       u.state,
		Busy:        u.busy,
		Progress:    u.progress,
		HasProgress: u.hasProgress,
		Err:         u.lastErr,
		Latest:      u.latest,
	}
	if u.verified != nil {
		s.ArtifactPath = u.verified.path
	}
	return s
}

// Governor returns the governor in use.
func (u *Updater) Governor() *governor.Governor { return u.governor }

// CanInstall reports whether this platform can install updates.
func (u *Updater) CanInstall() bool { return u.installer.CanInstall() }

func (u *Updater) acquire(op string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.busy {
		return &Error{Kind: KindUnknown, Op: op, Err: ErrBusy}
	}
	u.busy = true
	return nil
}

func (u *Updater) release() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.busy = false
}

func (u *Updater) reportProgress(fraction float64) {
	u.mu.Lock()
	u.progress, u.hasProgress = fraction, true
	u.mu.Unlock()

	if u.onProgress != nil {
		u.onProgress(fraction)
	}
}

// finish moves to a terminal pipeline state and records err, if any.
func (u *Updater) finish(next State, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.moveLocked(next)
	if next != StateVerified {
		u.verified = nil
	}
	if err != nil {
		u.recordErrLocked(err)
	}
}

func (u *Updater) recordErrLocked(err error) {
	u.lastErr = err
	kind := KindOf(err)
	switch {
	case kind.SecurityRelevant():
		u.logger.Error("update rejected", "kind", kind, "error", err)
	case kind == KindUnknown && !errors.Is(err, ErrBusy):
		u.logger.Error("unexpected update failure", "error", err)
	default:
		u.logger.Warn("update failed", "kind", kind, "error", err)
	}
}
