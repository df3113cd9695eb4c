// SPDX-License-Identifier: MPL-2.0

// Package types holds small value types shared across postmir-update packages.
package types

import (
	"errors"
	"fmt"
	"strconv"
)

const (
	// ExitOK means the command did what was asked.
	ExitOK ExitCode = 0
	// ExitUserError covers problems the user can fix locally: configuration,
	// an unsupported platform or an unwritable download location.
	ExitUserError ExitCode = 1
	// ExitTransient covers network failures, interrupted downloads and
	// anything unclassified. Retrying later may succeed.
	ExitTransient ExitCode = 2
	// ExitSecurity means a manifest or artifact failed validation.
	ExitSecurity ExitCode = 3
	// ExitInstallFailed means a verified update could not be installed, or
	// could not be verified at all on this host.
	ExitInstallFailed ExitCode = 4
)

// ErrInvalidExitCode is the sentinel error wrapped by InvalidExitCodeError.
var ErrInvalidExitCode = errors.New("invalid exit code")

type (
	// ExitCode represents a process exit status code.
	// Exit codes are in the range 0-255 on POSIX systems.
	// The zero value (0) means success.
	ExitCode int

	// InvalidExitCodeError is returned when an ExitCode is outside the
	// valid range (0-255).
	InvalidExitCodeError struct {
		Value ExitCode
	}
)

// Error implements the error interface.
func (e *InvalidExitCodeError) Error() string {
	return fmt.Sprintf("invalid exit code %d (must be in range 0-255)", e.Value)
}

// Unwrap returns ErrInvalidExitCode so callers can use errors.Is for programmatic detection.
func (e *InvalidExitCodeError) Unwrap() error { return ErrInvalidExitCode }

// Validate returns an error if the ExitCode is outside the valid range (0-255).
func (c ExitCode) Validate() error {
	if c < 0 || c > 255 {
		return &InvalidExitCodeError{Value: c}
	}
	return nil
}

// IsSuccess returns true if the exit code indicates successful execution.
func (c ExitCode) IsSuccess() bool { return c == ExitOK }

// IsTransient reports whether running the same command later might succeed.
func (c ExitCode) IsTransient() bool { return c == ExitTransient }

// String returns the decimal string representation of the ExitCode.
func (c ExitCode) String() string { return strconv.Itoa(int(c)) }
