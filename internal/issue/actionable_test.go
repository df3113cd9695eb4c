// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
)

func TestActionableError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *ActionableError
		expected string
	}{
		{
			name:     "operation only",
			err:      &ActionableError{Operation: "check for updates"},
			expected: "failed to check for updates",
		},
		{
			name:     "operation with resource",
			err:      &ActionableError{Operation: "validate manifest", Resource: "manifest.json"},
			expected: "failed to validate manifest: manifest.json",
		},
		{
			name:     "operation with cause",
			err:      &ActionableError{Operation: "verify download", Cause: errors.New("checksum mismatch")},
			expected: "failed to verify download: checksum mismatch",
		},
		{
			name: "full context",
			err: &ActionableError{
				Operation: "load configuration",
				Resource:  "/home/u/.config/postmir-update/config.cue",
				Cause:     errors.New("file not found"),
			},
			expected: "failed to load configuration: /home/u/.config/postmir-update/config.cue: file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestActionableError_ErrorsIs(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("transport failure")
	err := NewErrorContext().
		WithOperation("fetch manifest").
		Wrap(fmt.Errorf("GET: %w", sentinel)).
		BuildError()

	if !errors.Is(err, sentinel) {
		t.Error("errors.Is should see through ActionableError")
	}
	var ae *ActionableError
	if !errors.As(err, &ae) {
		t.Fatal("errors.As should find *ActionableError")
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	inner := errors.New("connection reset")
	err := &ActionableError{
		Operation:   "download update",
		Resource:    "https://cdn.example.com/app.apk",
		Suggestions: []string{"Check your network connection", "Try again later"},
		Cause:       fmt.Errorf("read body: %w", inner),
	}

	short := err.Format(false)
	if !strings.HasPrefix(short, err.Error()) {
		t.Errorf("Format(false) should start with Error():\n%s", short)
	}
	for _, s := range err.Suggestions {
		if !strings.Contains(short, "• "+s) {
			t.Errorf("Format(false) missing suggestion %q:\n%s", s, short)
		}
	}
	if strings.Contains(short, "Error chain") {
		t.Errorf("Format(false) should not include the chain:\n%s", short)
	}

	verbose := err.Format(true)
	if !strings.Contains(verbose, "Error chain:") {
		t.Fatalf("Format(true) should include the chain:\n%s", verbose)
	}
	if !strings.Contains(verbose, "1. read body: connection reset") || !strings.Contains(verbose, "2. connection reset") {
		t.Errorf("Format(true) chain incomplete:\n%s", verbose)
	}
}

func TestActionableError_FormatJoinedCause(t *testing.T) {
	t.Parallel()

	err := &ActionableError{
		Operation: "reset update state",
		Cause:     errors.Join(errors.New("remove last check"), errors.New("remove notified version")),
	}

	verbose := err.Format(true)
	for _, want := range []string{"2. remove last check", "3. remove notified version"} {
		if !strings.Contains(verbose, want) {
			t.Errorf("Format(true) missing %q:\n%s", want, verbose)
		}
	}
}

func TestErrorContext_Build(t *testing.T) {
	t.Parallel()

	if NewErrorContext().WithResource("x").Build() != nil {
		t.Error("Build() without operation should return nil")
	}
	if NewErrorContext().BuildError() != nil {
		t.Error("BuildError() without operation should return nil")
	}

	ctx := NewErrorContext().
		WithOperation("install update").
		WithResource("/cache/postmir_companion_42.apk").
		WithSuggestion("Allow installs from this source").
		WithSuggestions("Run with --verbose", "", "  ", "Allow installs from this source", "Try again").
		Wrap(errors.New("am failed"))
	err := ctx.Build()
	if err == nil {
		t.Fatal("Build() returned nil")
	}
	if err.Operation != "install update" || err.Resource != "/cache/postmir_companion_42.apk" {
		t.Errorf("unexpected context %+v", err)
	}
	want := []string{"Allow installs from this source", "Run with --verbose", "Try again"}
	if !slices.Equal(err.Suggestions, want) {
		t.Errorf("Suggestions = %q, want %q", err.Suggestions, want)
	}

	ctx.WithSuggestion("Later hint")
	if len(err.Suggestions) != len(want) {
		t.Error("built error shares its suggestions with the builder")
	}
}
