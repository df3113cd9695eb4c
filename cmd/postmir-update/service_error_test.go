// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/postmir/postmir-update/internal/digest"
	"github.com/postmir/postmir-update/internal/issue"
	"github.com/postmir/postmir-update/internal/selfupdate"
	"github.com/postmir/postmir-update/pkg/types"
)

func TestIssueFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want issue.Id
	}{
		{"manifest url", errManifestURLMissing, issue.ManifestURLMissingId},
		{"config", &configLoadError{err: errors.New("x")}, issue.ConfigLoadFailedId},
		{"busy", &selfupdate.Error{Kind: selfupdate.KindUnknown, Op: "download", Err: selfupdate.ErrBusy}, issue.UpdateBusyId},
		{"integrity", &selfupdate.Error{Kind: selfupdate.KindIntegrityMismatch, Err: errors.New("x")}, issue.IntegrityMismatchId},
		{"platform", &selfupdate.Error{Kind: selfupdate.KindPlatformNotSupported, Err: errors.New("x")}, issue.PlatformNotSupportedId},
		{"transport", &selfupdate.Error{Kind: selfupdate.KindTransport, Err: errors.New("x")}, issue.TransportFailedId},
		{"unclassified", errors.New("x"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := issueFor(tt.err); got != tt.want {
				t.Errorf("issueFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDescribeError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantOp   string
		wantRes  string
		wantHint string
	}{
		{
			name: "integrity mismatch",
			err: &selfupdate.Error{Kind: selfupdate.KindIntegrityMismatch, Op: "download", Err: &selfupdate.ChecksumError{
				Filename: "/cache/postmir_5.apk", Expected: "aa", Got: "bb",
			}},
			wantOp:   "download the update",
			wantRes:  "/cache/postmir_5.apk",
			wantHint: "download --force",
		},
		{
			name: "not found",
			err: &selfupdate.Error{Kind: selfupdate.KindTransport, Op: "check", Err: &selfupdate.HTTPStatusError{
				URL: "https://updates.example.com/manifest.json", StatusCode: 404,
			}},
			wantOp:   "check for updates",
			wantHint: "no file at https://updates.example.com/manifest.json",
		},
		{
			name: "server error",
			err: &selfupdate.Error{Kind: selfupdate.KindTransport, Op: "download", Err: &selfupdate.HTTPStatusError{
				URL: "https://cdn.example.com/app.apk", StatusCode: 503,
			}},
			wantOp:   "download the update",
			wantHint: "HTTP 503",
		},
		{
			name:     "timeout",
			err:      &selfupdate.Error{Kind: selfupdate.KindTransport, Op: "check", Err: fmt.Errorf("GET: %w", context.DeadlineExceeded)},
			wantOp:   "check for updates",
			wantHint: "download.timeout",
		},
		{
			name: "too large",
			err: &selfupdate.Error{Kind: selfupdate.KindArtifactTooLarge, Op: "verify", Err: &digest.TooLargeError{
				Path: "/cache/postmir_5.apk", Size: 300, Limit: 200,
			}},
			wantOp:   "verify the download",
			wantRes:  "/cache/postmir_5.apk",
			wantHint: "300 bytes",
		},
		{
			name:   "unmapped op",
			err:    &selfupdate.Error{Kind: selfupdate.KindUnknown, Op: "rename", Err: errors.New("x")},
			wantOp: "rename",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := describeError(tt.err)
			var ae *issue.ActionableError
			if !errors.As(got, &ae) {
				t.Fatalf("describeError() = %T, want *issue.ActionableError", got)
			}
			if ae.Operation != tt.wantOp {
				t.Errorf("Operation = %q, want %q", ae.Operation, tt.wantOp)
			}
			if ae.Resource != tt.wantRes {
				t.Errorf("Resource = %q, want %q", ae.Resource, tt.wantRes)
			}
			if tt.wantHint == "" {
				if len(ae.Suggestions) != 0 {
					t.Errorf("Suggestions = %q, want none", ae.Suggestions)
				}
			} else if !strings.Contains(strings.Join(ae.Suggestions, "\n"), tt.wantHint) {
				t.Errorf("Suggestions = %q, want one containing %q", ae.Suggestions, tt.wantHint)
			}
		})
	}
}

func TestDescribeError_PassesThroughOtherErrors(t *testing.T) {
	t.Parallel()

	plain := errors.New("plain failure")
	if got := describeError(plain); got != plain {
		t.Errorf("describeError(plain) = %v", got)
	}
	if got := describeError(errManifestURLMissing); got != errManifestURLMissing {
		t.Errorf("describeError(errManifestURLMissing) = %v", got)
	}
}

func TestFormatErrorForDisplay(t *testing.T) {
	t.Parallel()

	plain := errors.New("plain failure")
	if got := formatErrorForDisplay(plain, false); got != "plain failure" {
		t.Errorf("plain = %q", got)
	}

	actionable := issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource("/cfg/config.cue").
		WithSuggestion("Run 'postmir-update config init'").
		Wrap(errors.New("not found")).
		BuildError()
	got := formatErrorForDisplay(actionable, false)
	if !strings.Contains(got, "load configuration") || !strings.Contains(got, "config init") {
		t.Errorf("actionable = %q", got)
	}
}

func TestReportError(t *testing.T) {
	t.Parallel()

	f := newCLIFixture(t, fixtureOptions{serverCode: 5})
	var stderr bytes.Buffer

	cause := &selfupdate.Error{Kind: selfupdate.KindIntegrityMismatch, Op: "verify", Err: selfupdate.ErrChecksumMismatch}
	err := f.app.reportError(&stderr, cause)

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("reportError() = %T, want *ExitError", err)
	}
	if exitErr.Code != types.ExitSecurity {
		t.Errorf("Code = %d, want %d", exitErr.Code, types.ExitSecurity)
	}
	if !errors.Is(err, selfupdate.ErrChecksumMismatch) {
		t.Error("ExitError does not wrap the cause")
	}

	out := stderr.String()
	if !strings.Contains(out, "INTEGRITY_MISMATCH") {
		t.Errorf("kind missing from output:\n%s", out)
	}
	if !strings.Contains(out, "failed to verify the download") {
		t.Errorf("step missing from output:\n%s", out)
	}
	if !strings.Contains(out, "Integrity check failed") {
		t.Errorf("guidance missing from output:\n%s", out)
	}
}
