// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

// MustWriteAferoFile writes data to path on fs, creating parent directories.
// The test fails immediately if the write fails.
func MustWriteAferoFile(t testing.TB, fs afero.Fs, path string, data []byte) {
	t.Helper()
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
