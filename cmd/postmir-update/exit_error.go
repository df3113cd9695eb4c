// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/postmir/postmir-update/internal/selfupdate"
	"github.com/postmir/postmir-update/pkg/types"
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code types.ExitCode
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// classifyExitCode maps an error to the process exit code. Configuration
// problems and unsupported hosts are user-correctable; network trouble is
// transient; validation failures of the manifest or artifact are security
// relevant; the rest means the update could not be completed on this host.
func classifyExitCode(err error) types.ExitCode {
	if err == nil {
		return types.ExitOK
	}

	var cfgErr *configLoadError
	switch {
	case errors.As(err, &cfgErr), errors.Is(err, errManifestURLMissing), errors.Is(err, errDigestSource):
		return types.ExitUserError
	case errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		if selfupdate.KindOf(err) == selfupdate.KindUnknown {
			return types.ExitUserError
		}
	}

	switch kind := selfupdate.KindOf(err); kind {
	case selfupdate.KindPlatformNotSupported, selfupdate.KindWriteLocationUnavailable:
		return types.ExitUserError
	case selfupdate.KindManifestInvalid, selfupdate.KindIntegrityMismatch:
		return types.ExitSecurity
	case selfupdate.KindInstallFailed, selfupdate.KindArtifactTooLarge, selfupdate.KindDigestUnsupported:
		return types.ExitInstallFailed
	case selfupdate.KindTransport, selfupdate.KindDownloadIncomplete, selfupdate.KindUnknown:
		return types.ExitTransient
	default:
		return types.ExitTransient
	}
}
