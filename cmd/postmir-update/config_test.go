// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/postmir/postmir-update/internal/config"
)

func TestShowConfig(t *testing.T) {
	t.Parallel()

	f := newCLIFixture(t, fixtureOptions{serverCode: 5, currentCode: 4})
	if err := showConfig(context.Background(), f.app, f.stdout); err != nil {
		t.Fatalf("showConfig() error: %v", err)
	}

	out := f.stdout.String()
	for _, want := range []string{testConfigPath, f.server.URL, testStatePath, testCacheDir, "6h0m0s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestInitConfig_ExplicitPath(t *testing.T) {
	t.Parallel()

	f := newCLIFixture(t, fixtureOptions{serverCode: 5})
	f.app.configPath = "/fresh/postmir.cue"

	if err := initConfig(f.app, f.stdout); err != nil {
		t.Fatalf("initConfig() error: %v", err)
	}
	data, err := afero.ReadFile(f.fs, "/fresh/postmir.cue")
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if string(data) != config.GenerateCUE(config.DefaultConfig()) {
		t.Errorf("written config differs from defaults:\n%s", data)
	}
	if _, err := f.app.loadConfig(context.Background()); err != nil {
		t.Errorf("generated config does not load: %v", err)
	}

	// A second run leaves the file alone.
	if err := afero.WriteFile(f.fs, "/fresh/postmir.cue", []byte("// edited\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	f.stdout.Reset()
	if err := initConfig(f.app, f.stdout); err != nil {
		t.Fatalf("initConfig() error: %v", err)
	}
	if !strings.Contains(f.stdout.String(), "already exists") {
		t.Errorf("unexpected output:\n%s", f.stdout.String())
	}
	data, _ = afero.ReadFile(f.fs, "/fresh/postmir.cue")
	if string(data) != "// edited\n" {
		t.Error("existing config overwritten")
	}
}
