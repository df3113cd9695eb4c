// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

const (
	// PackageMIMEType is the MIME type under which APKs are handed off.
	PackageMIMEType = "application/vnd.android.package-archive"

	// Intent flags: FLAG_ACTIVITY_NEW_TASK | FLAG_GRANT_READ_URI_PERMISSION.
	intentFlags = 0x10000000 | 0x00000001
)

var (
	// ErrPlatformNotSupported indicates the platform cannot install updates.
	ErrPlatformNotSupported = errors.New("platform does not support installing updates")

	// ErrInstallFailed indicates the platform installer could not be launched.
	ErrInstallFailed = errors.New("install failed")

	// execCommand is a test seam for exec.CommandContext.
	//
	//nolint:gochecknoglobals // Test seam requires a package-level variable.
	execCommand = exec.CommandContext
)

type (
	// Installer hands a verified artifact to the platform.
	Installer interface {
		// CanInstall reports whether Install can succeed on this platform.
		CanInstall() bool
		// Install launches the platform installer for the artifact at path.
		// It returns once the hand-off has been accepted.
		Install(ctx context.Context, path string) error
	}

	// InstallError carries the installer's output.
	// It wraps ErrInstallFailed so callers can use errors.Is for classification.
	InstallError struct {
		Path   string
		Output string
		Err    error
	}

	// Unsupported is the Installer for platforms without a package installer.
	Unsupported struct{}

	// PackageInstaller launches the Android package installer through the
	// activity manager.
	PackageInstaller struct {
		amPath string
		logger *log.Logger
	}

	// Option configures a PackageInstaller.
	Option func(*PackageInstaller)
)

// Error describes the failed hand-off.
func (e *InstallError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrInstallFailed, e.Path)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += " (" + out + ")"
	}
	return msg
}

// Unwrap returns ErrInstallFailed and, when present, the underlying cause.
func (e *InstallError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInstallFailed}
	}
	return []error{ErrInstallFailed, e.Err}
}

// CanInstall always reports false.
func (Unsupported) CanInstall() bool { return false }

// Install always fails with ErrPlatformNotSupported.
func (Unsupported) Install(context.Context, string) error { return ErrPlatformNotSupported }

// WithActivityManager overrides the path of the `am` binary.
func WithActivityManager(path string) Option {
	return func(p *PackageInstaller) { p.amPath = path }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(p *PackageInstaller) { p.logger = l }
}

// NewPackageInstaller creates a PackageInstaller.
func NewPackageInstaller(opts ...Option) *PackageInstaller {
	p := &PackageInstaller{
		amPath: "am",
		logger: log.NewWithOptions(os.Stderr, log.Options{Prefix: "installer"}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ForPlatform returns the Installer for the detected platform class.
func ForPlatform(opts ...Option) Installer {
	if DetectClass() == ClassAndroid {
		return NewPackageInstaller(opts...)
	}
	return Unsupported{}
}

// CanInstall reports true.
func (p *PackageInstaller) CanInstall() bool { return true }

// Install starts a VIEW intent for the artifact with the package MIME type.
func (p *PackageInstaller) Install(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return &InstallError{Path: path, Err: err}
	}
	if _, err := os.Stat(abs); err != nil {
		return &InstallError{Path: abs, Err: err}
	}

	args := p.intentArgs(abs)
	p.logger.Debug("launching package installer", "path", abs, "args", strings.Join(args, " "))

	out, err := execCommand(ctx, p.amPath, args...).CombinedOutput()
	if err != nil {
		return &InstallError{Path: abs, Output: string(out), Err: err}
	}
	// am exits 0 even when the intent could not be resolved.
	if strings.Contains(string(out), "Error:") {
		return &InstallError{Path: abs, Output: string(out)}
	}
	return nil
}

func (p *PackageInstaller) intentArgs(abs string) []string {
	return []string{
		"start",
		"-a", "android.intent.action.VIEW",
		"-d", "file://" + filepath.ToSlash(abs),
		"-t", PackageMIMEType,
		"-f", fmt.Sprintf("0x%08x", intentFlags),
	}
}
