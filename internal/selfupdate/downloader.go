// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/postmir/postmir-update/internal/digest"
	"github.com/postmir/postmir-update/internal/manifest"
)

const (
	// DefaultFilePrefix is the artifact file name prefix.
	DefaultFilePrefix = "postmir_companion"
	// DefaultFileExtension is the artifact file extension.
	DefaultFileExtension = ".apk"
)

type (
	// DestinationNamer maps a version code to the local artifact path.
	DestinationNamer func(versionCode int64) (string, error)

	// Downloader streams artifacts to disk and verifies them against the
	// manifest digest. A file that fails verification is deleted.
	Downloader struct {
		client *Client
		engine *digest.Engine
		fs     afero.Fs
		namer  DestinationNamer
		logger *log.Logger
	}

	// DownloaderOption configures a Downloader during construction.
	DownloaderOption func(*Downloader)
)

// DirNamer returns a namer placing artifacts as <dir>/<prefix>_<code><ext> in
// the first non-empty directory of dirs.
func DirNamer(dirs []string, prefix, ext string) DestinationNamer {
	if prefix == "" {
		prefix = DefaultFilePrefix
	}
	return func(versionCode int64) (string, error) {
		for _, dir := range dirs {
			if dir != "" {
				return filepath.Join(dir, prefix+"_"+strconv.FormatInt(versionCode, 10)+ext), nil
			}
		}
		return "", errors.New("no cache or data directory configured")
	}
}

// DefaultDirs returns the user cache directory followed by the user config
// directory, each with an app-specific child. Unavailable entries are empty.
func DefaultDirs() []string {
	var dirs []string
	if cache, err := os.UserCacheDir(); err == nil {
		dirs = append(dirs, filepath.Join(cache, "postmir-update"))
	}
	if data, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(data, "postmir-update", "downloads"))
	}
	return dirs
}

// WithFs sets the filesystem artifacts are written to. It must be the same
// filesystem the digest engine reads from.
func WithFs(fs afero.Fs) DownloaderOption {
	return func(d *Downloader) { d.fs = fs }
}

// WithNamer sets how artifact paths are chosen.
func WithNamer(n DestinationNamer) DownloaderOption {
	return func(d *Downloader) { d.namer = n }
}

// WithDownloaderLogger sets the logger.
func WithDownloaderLogger(l *log.Logger) DownloaderOption {
	return func(d *Downloader) { d.logger = l }
}

// NewDownloader creates a Downloader.
func NewDownloader(client *Client, engine *digest.Engine, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		client: client,
		engine: engine,
		fs:     afero.NewOsFs(),
		namer:  DirNamer(DefaultDirs(), DefaultFilePrefix, DefaultFileExtension),
		logger: log.NewWithOptions(os.Stderr, log.Options{Prefix: "download"}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DownloadAndVerify downloads the artifact described by m and returns its path
// only if its digest matches. Any failure leaves no artifact behind except for
// digest-unsupported failures.
func (d *Downloader) DownloadAndVerify(ctx context.Context, m *manifest.Manifest, onProgress ProgressFunc) (string, error) {
	path, err := d.Download(ctx, m, onProgress)
	if err != nil {
		return "", err
	}
	if err := d.Verify(m, path); err != nil {
		return "", err
	}
	return path, nil
}

// Download streams the artifact to its destination without verifying it.
// Callers must pass the result through Verify before using it.
func (d *Downloader) Download(ctx context.Context, m *manifest.Manifest, onProgress ProgressFunc) (_ string, err error) {
	path, err := d.namer(m.VersionCode())
	if err == nil && path == "" {
		err = errors.New("empty destination path")
	}
	if err != nil {
		return "", &Error{Kind: KindWriteLocationUnavailable, Op: "download", Err: fmt.Errorf("%w: %w", ErrWriteLocationUnavailable, err)}
	}

	if err := d.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &Error{Kind: KindWriteLocationUnavailable, Op: "download", Err: fmt.Errorf("%w: %w", ErrWriteLocationUnavailable, err)}
	}

	f, err := d.fs.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return "", &Error{Kind: KindWriteLocationUnavailable, Op: "download", Err: fmt.Errorf("%w: %w", ErrWriteLocationUnavailable, err)}
	}
	defer func() {
		if err != nil && !KindOf(err).keepsArtifact() {
			d.discard(path, err)
		}
	}()

	d.logger.Debug("downloading artifact", "version_code", m.VersionCode(), "path", path)
	n, dlErr := d.client.Download(ctx, m.ArtifactURL(), f, d.engine.MaxBytes(), onProgress)
	closeErr := f.Close()
	if dlErr != nil {
		return "", wrap("download", dlErr)
	}
	if closeErr != nil {
		return "", wrap("download", fmt.Errorf("%w: closing %s: %w", ErrWriteLocationUnavailable, path, closeErr))
	}

	d.logger.Debug("artifact downloaded", "bytes", n)
	return path, nil
}

// Verify checks the artifact at path against m's digest. On mismatch the file
// is deleted before the error is returned.
func (d *Downloader) Verify(m *manifest.Manifest, path string) error {
	err := VerifyFile(d.engine, path, m.Digest())
	if err == nil {
		d.logger.Debug("artifact verified", "path", path, "strategy", d.engine.Strategy().Name())
		return nil
	}

	if errors.Is(err, ErrChecksumMismatch) {
		d.logger.Error("artifact digest mismatch, refusing to install", "path", path, "version_code", m.VersionCode())
		d.discard(path, err)
		return &Error{Kind: KindIntegrityMismatch, Op: "verify", Err: err}
	}

	werr := wrap("verify", err)
	if !KindOf(werr).keepsArtifact() {
		d.discard(path, werr)
	}
	return werr
}

// discard removes path. Removal failures are logged and swallowed so the
// original error is what the caller sees.
func (d *Downloader) discard(path string, cause error) {
	if rmErr := d.fs.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		d.logger.Warn("could not delete artifact", "path", path, "cause", cause, "error", rmErr)
	}
}
