// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"errors"
	"fmt"

	"github.com/postmir/postmir-update/internal/digest"
	"github.com/postmir/postmir-update/internal/installer"
	"github.com/postmir/postmir-update/internal/manifest"
)

// Error kinds. The set is closed; KindOf maps any error onto one of them.
const (
	KindUnknown Kind = iota
	KindManifestInvalid
	KindTransport
	KindPlatformNotSupported
	KindWriteLocationUnavailable
	KindDownloadIncomplete
	KindDigestUnsupported
	KindArtifactTooLarge
	KindIntegrityMismatch
	KindInstallFailed
)

var (
	// ErrTransport is wrapped by every network or HTTP status failure.
	ErrTransport = errors.New("transport error")

	// ErrDownloadIncomplete indicates the artifact stream ended early.
	ErrDownloadIncomplete = errors.New("download incomplete")

	// ErrArtifactTooLarge indicates the artifact exceeded the size ceiling
	// while streaming.
	ErrArtifactTooLarge = errors.New("artifact too large")

	// ErrWriteLocationUnavailable indicates no destination path could be
	// obtained for the artifact.
	ErrWriteLocationUnavailable = errors.New("no writable location for the artifact")

	// ErrBusy indicates another download or install is already running.
	ErrBusy = errors.New("an update is already in progress")

	// ErrNotVerified indicates Install was given a path that was not produced
	// by a successful DownloadAndVerify.
	ErrNotVerified = errors.New("artifact has not been verified")
)

type (
	// Kind classifies update failures.
	Kind int

	// Error is the error type returned by the Updater. Op names the pipeline
	// step that failed.
	Error struct {
		Kind Kind
		Op   string
		Err  error
	}
)

// String returns the stable identifier of the kind.
func (k Kind) String() string {
	switch k {
	case KindManifestInvalid:
		return "MANIFEST_INVALID"
	case KindTransport:
		return "TRANSPORT_ERROR"
	case KindPlatformNotSupported:
		return "PLATFORM_NOT_SUPPORTED"
	case KindWriteLocationUnavailable:
		return "WRITE_LOCATION_UNAVAILABLE"
	case KindDownloadIncomplete:
		return "DOWNLOAD_INCOMPLETE"
	case KindDigestUnsupported:
		return "DIGEST_UNSUPPORTED"
	case KindArtifactTooLarge:
		return "ARTIFACT_TOO_LARGE"
	case KindIntegrityMismatch:
		return "INTEGRITY_MISMATCH"
	case KindInstallFailed:
		return "INSTALL_FAILED"
	case KindUnknown:
		return "UNKNOWN"
	}
	return "UNKNOWN"
}

// SecurityRelevant reports whether the failure indicates a possibly
// compromised update source rather than an environmental problem.
func (k Kind) SecurityRelevant() bool {
	return k == KindManifestInvalid || k == KindIntegrityMismatch
}

// Retryable reports whether retrying the same operation later may succeed.
func (k Kind) Retryable() bool {
	return k == KindTransport || k == KindDownloadIncomplete
}

// keepsArtifact reports whether a failure of this kind leaves the downloaded
// file in place. Integrity failures delete it themselves.
func (k Kind) keepsArtifact() bool {
	return k == KindManifestInvalid || k == KindIntegrityMismatch || k == KindDigestUnsupported
}

// Error returns "op: cause".
func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// KindOf classifies err. A nil error has KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	switch {
	case errors.Is(err, manifest.ErrInvalid):
		return KindManifestInvalid
	case errors.Is(err, ErrChecksumMismatch):
		return KindIntegrityMismatch
	case errors.Is(err, digest.ErrTooLarge), errors.Is(err, ErrArtifactTooLarge):
		return KindArtifactTooLarge
	case errors.Is(err, digest.ErrUnsupported):
		return KindDigestUnsupported
	case errors.Is(err, installer.ErrPlatformNotSupported):
		return KindPlatformNotSupported
	case errors.Is(err, installer.ErrInstallFailed):
		return KindInstallFailed
	case errors.Is(err, ErrWriteLocationUnavailable):
		return KindWriteLocationUnavailable
	case errors.Is(err, ErrDownloadIncomplete):
		return KindDownloadIncomplete
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindTransport
	}
	return KindUnknown
}

// wrap tags err with its kind and op. Errors that are already *Error keep
// their kind.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}
