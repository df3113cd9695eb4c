// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"testing"

	"github.com/spf13/afero"
)

func TestMustWriteAferoFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	MustWriteAferoFile(t, fs, "/a/b/state.toml", []byte("x = 1"))

	data, err := afero.ReadFile(fs, "/a/b/state.toml")
	if err != nil || string(data) != "x = 1" {
		t.Errorf("ReadFile() = %q, %v", data, err)
	}
}
