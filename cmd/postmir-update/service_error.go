// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/postmir/postmir-update/internal/digest"
	"github.com/postmir/postmir-update/internal/issue"
	"github.com/postmir/postmir-update/internal/selfupdate"
)

// stepNames turns Updater op names into the phrase after "failed to".
//
//nolint:gochecknoglobals // read-only lookup table
var stepNames = map[string]string{
	"init":     "set up the updater",
	"check":    "check for updates",
	"download": "download the update",
	"verify":   "verify the download",
	"install":  "install the update",
	"apply":    "apply the update",
}

// issueFor picks the guidance entry for err, or 0 when there is none.
func issueFor(err error) issue.Id {
	var cfgErr *configLoadError
	switch {
	case errors.Is(err, errManifestURLMissing):
		return issue.ManifestURLMissingId
	case errors.As(err, &cfgErr):
		return issue.ConfigLoadFailedId
	case errors.Is(err, selfupdate.ErrBusy):
		return issue.UpdateBusyId
	}

	switch selfupdate.KindOf(err) {
	case selfupdate.KindManifestInvalid:
		return issue.ManifestInvalidId
	case selfupdate.KindTransport:
		return issue.TransportFailedId
	case selfupdate.KindDownloadIncomplete:
		return issue.DownloadIncompleteId
	case selfupdate.KindArtifactTooLarge:
		return issue.ArtifactTooLargeId
	case selfupdate.KindDigestUnsupported:
		return issue.DigestUnsupportedId
	case selfupdate.KindIntegrityMismatch:
		return issue.IntegrityMismatchId
	case selfupdate.KindWriteLocationUnavailable:
		return issue.WriteLocationUnavailableId
	case selfupdate.KindPlatformNotSupported:
		return issue.PlatformNotSupportedId
	case selfupdate.KindInstallFailed:
		return issue.InstallFailedId
	case selfupdate.KindUnknown:
		return 0
	}
	return 0
}

// describeError turns a pipeline error into an ActionableError naming the
// failed step, the file involved and hints drawn from the concrete cause.
// Other errors are returned unchanged.
func describeError(err error) error {
	var ae *issue.ActionableError
	var e *selfupdate.Error
	if errors.As(err, &ae) || !errors.As(err, &e) || e.Op == "" {
		return err
	}

	step, ok := stepNames[e.Op]
	if !ok {
		step = e.Op
	}
	ctx := issue.NewErrorContext().
		WithOperation(step).
		WithSuggestions(causeHints(e.Err)...).
		Wrap(e.Err)

	var sumErr *selfupdate.ChecksumError
	var sizeErr *digest.TooLargeError
	switch {
	case errors.As(e.Err, &sumErr):
		ctx.WithResource(sumErr.Filename)
	case errors.As(e.Err, &sizeErr):
		ctx.WithResource(sizeErr.Path)
	}
	return ctx.BuildError()
}

// causeHints returns suggestions that depend on details of err rather than
// only its kind. The general guidance lives in the issue catalogue.
func causeHints(err error) []string {
	var hints []string

	var statusErr *selfupdate.HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusNotFound:
			hints = append(hints, "The server has no file at "+statusErr.URL+"; check manifest_url or the apkUrl it publishes")
		case statusErr.StatusCode == http.StatusUnauthorized, statusErr.StatusCode == http.StatusForbidden:
			hints = append(hints, fmt.Sprintf("The server refused access (HTTP %d); the URL may have expired", statusErr.StatusCode))
		case statusErr.Temporary():
			hints = append(hints, fmt.Sprintf("The server reported a temporary problem (HTTP %d); try again later", statusErr.StatusCode))
		}
	}

	var sizeErr *digest.TooLargeError
	if errors.As(err, &sizeErr) {
		hints = append(hints, fmt.Sprintf("The file is %d bytes; raise max_artifact_bytes above that only if the release is expected to be this large", sizeErr.Size))
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		hints = append(hints, "The request timed out; increase download.timeout on slow connections")
	case errors.Is(err, selfupdate.ErrChecksumMismatch):
		hints = append(hints, "Run 'postmir-update download --force' to fetch a fresh copy")
	case errors.Is(err, selfupdate.ErrNotVerified):
		hints = append(hints, "Use 'postmir-update upgrade', which verifies the file before installing it")
	}
	return hints
}

// formatErrorForDisplay formats an error for user display.
// ActionableErrors carry their own suggestions; verbose mode adds the chain.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

// reportError prints err with its guidance and returns the ExitError the
// command should return.
func (a *App) reportError(stderr io.Writer, err error) error {
	code := classifyExitCode(err)
	shown := describeError(err)
	if kind := selfupdate.KindOf(err); kind != selfupdate.KindUnknown {
		fmt.Fprintln(stderr, ErrorStyle.Render(kind.String()+": ")+formatErrorForDisplay(shown, a.verbose))
	} else {
		fmt.Fprintln(stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(shown, a.verbose))
	}

	if id := issueFor(err); id != 0 {
		if entry := issue.Get(id); entry != nil {
			rendered, renderErr := entry.Render(glamourStyle(a.colorScheme()))
			if renderErr != nil {
				a.logger.Warn("failed to render guidance", "issue", id, "error", renderErr)
			} else {
				fmt.Fprint(stderr, rendered)
			}
		}
	}
	return &ExitError{Code: code, Err: err}
}
