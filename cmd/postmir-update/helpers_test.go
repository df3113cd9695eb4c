// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/postmir/postmir-update/internal/config"
	"github.com/postmir/postmir-update/internal/testutil"
)

const (
	testConfigPath = "/cfg/config.cue"
	testCacheDir   = "/cache"
	testStatePath  = "/state/state.toml"
)

var testArtifact = []byte("postmir companion release payload")

type (
	// updateServer is a TLS endpoint serving /manifest.json and /app.apk.
	updateServer struct {
		*httptest.Server

		mu           sync.Mutex
		manifestBody string

		manifestHits atomic.Int32
		artifactHits atomic.Int32
	}

	fakeInstaller struct {
		mu         sync.Mutex
		canInstall bool
		err        error
		paths      []string
	}

	// cliFixture is an App wired to an updateServer and an in-memory filesystem.
	cliFixture struct {
		app       *App
		server    *updateServer
		fs        afero.Fs
		installer *fakeInstaller
		clock     *testutil.FakeClock
		stdout    *bytes.Buffer
		stderr    *bytes.Buffer
		confirms  atomic.Int32
		confirmed bool
	}

	fixtureOptions struct {
		serverCode  int64
		currentCode int64
		canInstall  bool
		digest      string
		noURL       bool
	}
)

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func newUpdateServer(t *testing.T) *updateServer {
	t.Helper()

	us := &updateServer{}
	us.Server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/manifest.json":
			us.manifestHits.Add(1)
			us.mu.Lock()
			body := us.manifestBody
			us.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		case "/app.apk":
			us.artifactHits.Add(1)
			w.Header().Set("Content-Length", fmt.Sprint(len(testArtifact)))
			_, _ = w.Write(testArtifact)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(us.Close)
	return us
}

func (us *updateServer) setManifest(versionCode int64, digest, notes string) {
	us.mu.Lock()
	defer us.mu.Unlock()
	us.manifestBody = fmt.Sprintf(`{
		"versionCode": %d,
		"versionName": "1.%d.0",
		"apkUrl": %q,
		"sha256": %q,
		"notes": %q
	}`, versionCode, versionCode, us.URL+"/app.apk", digest, notes)
}

func (f *fakeInstaller) CanInstall() bool { return f.canInstall }

func (f *fakeInstaller) Install(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return f.err
}

func (f *fakeInstaller) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func newCLIFixture(t *testing.T, opts fixtureOptions) *cliFixture {
	t.Helper()

	if opts.digest == "" {
		opts.digest = sha256Hex(testArtifact)
	}

	server := newUpdateServer(t)
	server.setManifest(opts.serverCode, opts.digest, "- Faster sync\n- Fixed crash on login")

	fs := afero.NewMemMapFs()
	var cfg strings.Builder
	if !opts.noURL {
		fmt.Fprintf(&cfg, "manifest_url: %q\n", server.URL+"/manifest.json")
	}
	fmt.Fprintf(&cfg, "current_version_code: %d\n", opts.currentCode)
	fmt.Fprintf(&cfg, "state_file: %q\n", testStatePath)
	fmt.Fprintf(&cfg, "download: {\n\tdir: %q\n\tretries: 0\n}\n", testCacheDir)
	testutil.MustWriteAferoFile(t, fs, testConfigPath, []byte(cfg.String()))

	f := &cliFixture{
		server:    server,
		fs:        fs,
		installer: &fakeInstaller{canInstall: opts.canInstall},
		clock:     testutil.NewFakeClock(time.Time{}),
		stdout:    &bytes.Buffer{},
		stderr:    &bytes.Buffer{},
		confirmed: true,
	}

	app, err := NewApp(Dependencies{
		Config:     config.NewProvider(config.WithFs(fs)),
		Fs:         fs,
		HTTPClient: server.Client(),
		Installer:  f.installer,
		Confirm: func(string, string) (bool, error) {
			f.confirms.Add(1)
			return f.confirmed, nil
		},
		Now:    f.clock.Now,
		Stdout: f.stdout,
		Stderr: f.stderr,
	})
	if err != nil {
		t.Fatalf("NewApp() error: %v", err)
	}
	app.configPath = testConfigPath
	f.app = app
	return f
}

// cachedArtifacts lists the files left in the download directory.
func (f *cliFixture) cachedArtifacts(t *testing.T) []string {
	t.Helper()

	entries, err := afero.ReadDir(f.fs, testCacheDir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
