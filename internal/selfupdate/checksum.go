// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/postmir/postmir-update/internal/digest"
)

// ErrChecksumMismatch indicates the computed SHA-256 does not match the
// manifest's digest.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ChecksumError provides details about a checksum verification failure.
// It wraps ErrChecksumMismatch so callers can use errors.Is for classification.
type ChecksumError struct {
	Filename string
	Expected string
	Got      string
}

// Error returns a human-readable description of the checksum mismatch,
// showing both expected and actual hash values for debugging.
func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum verification failed for %s\nExpected: %s\nGot:      %s", e.Filename, e.Expected, e.Got)
}

// Unwrap returns ErrChecksumMismatch so callers can use errors.Is.
func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// VerifyFile digests the file at path with engine and compares it with
// expectedHash. Returns nil if the hashes match (case-insensitive comparison),
// or a *ChecksumError wrapping ErrChecksumMismatch if they differ.
func VerifyFile(engine *digest.Engine, path, expectedHash string) error {
	got, err := engine.FileDigest(path)
	if err != nil {
		return err
	}

	if !strings.EqualFold(got, expectedHash) {
		return &ChecksumError{
			Filename: path,
			Expected: strings.ToLower(expectedHash),
			Got:      got,
		}
	}

	return nil
}
