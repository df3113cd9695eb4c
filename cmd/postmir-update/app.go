// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/postmir/postmir-update/internal/config"
	"github.com/postmir/postmir-update/internal/digest"
	"github.com/postmir/postmir-update/internal/governor"
	"github.com/postmir/postmir-update/internal/installer"
	"github.com/postmir/postmir-update/internal/selfupdate"
)

// errManifestURLMissing is returned by commands that need a manifest URL when none is configured.
var errManifestURLMissing = errors.New("manifest_url is not configured")

type (
	// ConfirmFunc asks the user a yes/no question.
	ConfirmFunc func(title, description string) (bool, error)

	// App wires CLI services and shared dependencies. All Cobra handlers
	// receive an App and build their collaborators through it.
	App struct {
		Config     config.Provider
		Fs         afero.Fs
		HTTPClient *http.Client
		Installer  installer.Installer
		Confirm    ConfirmFunc
		Now        func() time.Time
		stdout     io.Writer
		stderr     io.Writer
		logger     *log.Logger

		// Set from persistent flags before any command runs.
		configPath string
		verbose    bool

		// scheme is the color scheme of the last loaded config.
		scheme config.ColorScheme
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config     config.Provider
		Fs         afero.Fs
		HTTPClient *http.Client
		Installer  installer.Installer
		Confirm    ConfirmFunc
		Now        func() time.Time
		Stdout     io.Writer
		Stderr     io.Writer
	}

	// configLoadError marks failures to produce a usable configuration.
	configLoadError struct {
		err error
	}
)

func (e *configLoadError) Error() string { return e.err.Error() }
func (e *configLoadError) Unwrap() error { return e.err }

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) (*App, error) {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider(config.WithFs(deps.Fs))
	}
	if deps.Confirm == nil {
		deps.Confirm = huhConfirm
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &App{
		Config:     deps.Config,
		Fs:         deps.Fs,
		HTTPClient: deps.HTTPClient,
		Installer:  deps.Installer,
		Confirm:    deps.Confirm,
		Now:        deps.Now,
		stdout:     deps.Stdout,
		stderr:     deps.Stderr,
		logger: log.NewWithOptions(deps.Stderr, log.Options{
			Prefix:          "postmir-update",
			ReportTimestamp: false,
		}),
	}, nil
}

// loadOptions translates the persistent flags into config.LoadOptions.
func (a *App) loadOptions() config.LoadOptions {
	return config.LoadOptions{ConfigFilePath: a.configPath}
}

// loadConfig returns the effective configuration and applies its UI settings.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := a.Config.Load(ctx, a.loadOptions())
	if err != nil {
		return nil, &configLoadError{err: err}
	}
	if cfg.UI.Verbose {
		a.verbose = true
	}
	a.scheme = cfg.UI.ColorScheme
	a.applyLogLevel()
	return cfg, nil
}

// colorScheme returns the configured scheme, or auto before any config is loaded.
func (a *App) colorScheme() config.ColorScheme {
	if a.scheme == "" {
		return config.ColorSchemeAuto
	}
	return a.scheme
}

func (a *App) applyLogLevel() {
	if a.verbose {
		a.logger.SetLevel(log.DebugLevel)
	} else {
		a.logger.SetLevel(log.InfoLevel)
	}
}

// governorFor opens the persisted check state described by cfg.
func (a *App) governorFor(cfg *config.Config) (*governor.Governor, *governor.FileStore, error) {
	path, err := cfg.StatePath()
	if err != nil {
		return nil, nil, &configLoadError{err: fmt.Errorf("resolve state file: %w", err)}
	}
	store := governor.NewFileStore(a.Fs, path, governor.WithStoreLogger(a.logger.WithPrefix("governor")))
	g := governor.New(store,
		governor.WithInterval(cfg.CheckInterval),
		governor.WithLogger(a.logger.WithPrefix("governor")),
	)
	return g, store, nil
}

// newUpdater builds the full pipeline from cfg. progress may be nil; extra
// options are applied last.
func (a *App) newUpdater(cfg *config.Config, progress selfupdate.ProgressFunc, extra ...selfupdate.UpdaterOption) (*selfupdate.Updater, error) {
	if cfg.ManifestURL == "" {
		return nil, errManifestURLMissing
	}

	httpClient := a.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Download.Timeout}
	}
	client := selfupdate.NewClient(
		selfupdate.WithHTTPClient(httpClient),
		selfupdate.WithUserAgent("postmir-update/"+Version),
		selfupdate.WithRetry(uint64(cfg.Download.Retries), cfg.Download.RetryDelay), //nolint:gosec // validated 0..10
		selfupdate.WithClientLogger(a.logger.WithPrefix("client")),
	)

	strategy, err := digest.Select(cfg.DigestStrategy)
	if err != nil {
		return nil, &selfupdate.Error{Kind: selfupdate.KindDigestUnsupported, Op: "init", Err: err}
	}
	engine, err := digest.NewEngine(
		digest.WithFs(a.Fs),
		digest.WithStrategy(strategy),
		digest.WithMaxBytes(cfg.MaxArtifactBytes),
	)
	if err != nil {
		return nil, &selfupdate.Error{Kind: selfupdate.KindDigestUnsupported, Op: "init", Err: err}
	}

	dirs := selfupdate.DefaultDirs()
	if cfg.Download.Dir != "" {
		dirs = []string{cfg.Download.Dir}
	}
	downloader := selfupdate.NewDownloader(client, engine,
		selfupdate.WithFs(a.Fs),
		selfupdate.WithNamer(selfupdate.DirNamer(dirs, cfg.Download.FilePrefix, cfg.Download.Extension)),
		selfupdate.WithDownloaderLogger(a.logger.WithPrefix("downloader")),
	)

	gov, _, err := a.governorFor(cfg)
	if err != nil {
		return nil, err
	}

	inst := a.Installer
	if inst == nil {
		inst = installer.ForPlatform(installer.WithLogger(a.logger.WithPrefix("installer")))
	}

	opts := []selfupdate.UpdaterOption{
		selfupdate.WithClient(client),
		selfupdate.WithDownloader(downloader),
		selfupdate.WithGovernor(gov),
		selfupdate.WithInstaller(inst),
		selfupdate.WithVersionCode(selfupdate.KnownVersion(cfg.CurrentVersionCode)),
		selfupdate.WithNow(a.Now),
		selfupdate.WithLogger(a.logger.WithPrefix("updater")),
	}
	if progress != nil {
		opts = append(opts, selfupdate.WithProgress(progress))
	}
	opts = append(opts, extra...)
	return selfupdate.NewUpdater(cfg.ManifestURL, opts...)
}

// huhConfirm shows an interactive yes/no prompt.
func huhConfirm(title, description string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	return ok, nil
}
