// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers shared by the update pipeline tests.
//
// FakeClock drives throttling decisions deterministically, and
// MustWriteAferoFile seeds in-memory filesystems, failing the test on error.
package testutil
