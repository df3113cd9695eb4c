// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/postmir/postmir-update/internal/digest"
	"github.com/postmir/postmir-update/internal/governor"
	"github.com/postmir/postmir-update/internal/manifest"
)

const artifactDir = "/cache/postmir-update"

// sha256Hex computes the lowercase hex-encoded SHA256 digest of data.
func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func quietLogger() *log.Logger { return log.New(io.Discard) }

type (
	// releaseServer is a TLS update endpoint serving /manifest.json and /app.apk.
	releaseServer struct {
		*httptest.Server

		mu             sync.Mutex
		manifestBody   []byte
		manifestStatus int
		artifact       []byte
		artifactStatus int
		unknownLength  bool
		truncateTo     int
		failFirst      int
		manifestGate   chan struct{}
		artifactGate   chan struct{}
		lastHeader     http.Header

		manifestHits atomic.Int32
		artifactHits atomic.Int32
		arrived      chan struct{}
	}

	fakeInstaller struct {
		mu         sync.Mutex
		canInstall bool
		err        error
		paths      []string
	}
)

func newReleaseServer(t *testing.T, versionCode int64, artifact []byte) *releaseServer {
	t.Helper()

	rs := &releaseServer{artifact: artifact, arrived: make(chan struct{}, 16)}
	rs.Server = httptest.NewTLSServer(http.HandlerFunc(rs.handle))
	t.Cleanup(rs.Close)

	rs.setManifest(versionCode, sha256Hex(artifact))
	return rs
}

func (rs *releaseServer) setManifest(versionCode int64, digest string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.manifestBody = fmt.Appendf(nil, `{
		"versionCode": %d,
		"versionName": "1.%d.0",
		"apkUrl": %q,
		"sha256": %q,
		"notes": "Bug fixes"
	}`, versionCode, versionCode, rs.URL+"/app.apk", digest)
}

func (rs *releaseServer) handle(w http.ResponseWriter, r *http.Request) {
	rs.mu.Lock()
	rs.lastHeader = r.Header.Clone()
	manifestBody, manifestStatus := rs.manifestBody, rs.manifestStatus
	artifact, artifactStatus := rs.artifact, rs.artifactStatus
	unknownLength, truncateTo := rs.unknownLength, rs.truncateTo
	manifestGate, artifactGate := rs.manifestGate, rs.artifactGate
	failFirst := rs.failFirst
	if failFirst > 0 {
		rs.failFirst--
	}
	rs.mu.Unlock()

	select {
	case rs.arrived <- struct{}{}:
	default:
	}

	if failFirst > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	switch r.URL.Path {
	case "/manifest.json":
		rs.manifestHits.Add(1)
		if manifestGate != nil {
			<-manifestGate
		}
		if manifestStatus != 0 {
			w.WriteHeader(manifestStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(manifestBody)

	case "/app.apk":
		rs.artifactHits.Add(1)
		if artifactGate != nil {
			<-artifactGate
		}
		if artifactStatus != 0 {
			w.WriteHeader(artifactStatus)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.android.package-archive")
		switch {
		case unknownLength:
			half := len(artifact) / 2
			_, _ = w.Write(artifact[:half])
			w.(http.Flusher).Flush()
			_, _ = w.Write(artifact[half:])
		case truncateTo > 0:
			w.Header().Set("Content-Length", fmt.Sprint(len(artifact)))
			_, _ = w.Write(artifact[:truncateTo])
		default:
			w.Header().Set("Content-Length", fmt.Sprint(len(artifact)))
			_, _ = w.Write(artifact)
		}

	default:
		http.NotFound(w, r)
	}
}

// with mutates the server configuration under its lock.
func (rs *releaseServer) with(fn func(*releaseServer)) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	fn(rs)
}

func (rs *releaseServer) manifestURL() string { return rs.URL + "/manifest.json" }

func (rs *releaseServer) header() http.Header {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastHeader
}

func (rs *releaseServer) client(opts ...ClientOption) *Client {
	base := []ClientOption{
		WithHTTPClient(rs.Client()),
		WithRetry(0, 0),
		WithClientLogger(quietLogger()),
	}
	return NewClient(append(base, opts...)...)
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

func newTestDownloader(t *testing.T, client *Client, fs afero.Fs, engineOpts ...digest.EngineOption) *Downloader {
	t.Helper()

	engine, err := digest.NewEngine(append([]digest.EngineOption{digest.WithFs(fs)}, engineOpts...)...)
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	return NewDownloader(client, engine,
		WithFs(fs),
		WithNamer(DirNamer([]string{artifactDir}, DefaultFilePrefix, DefaultFileExtension)),
		WithDownloaderLogger(quietLogger()),
	)
}

type updaterFixture struct {
	server    *releaseServer
	fs        afero.Fs
	installer *fakeInstaller
	governor  *governor.Governor
	updater   *Updater
}

func newUpdaterFixture(t *testing.T, serverCode, currentCode int64, canInstall bool, opts ...UpdaterOption) *updaterFixture {
	t.Helper()

	f := &updaterFixture{
		server:    newReleaseServer(t, serverCode, []byte("postmir companion apk payload")),
		fs:        afero.NewMemMapFs(),
		installer: &fakeInstaller{canInstall: canInstall},
		governor:  governor.New(&governor.MemoryStore{}, governor.WithLogger(quietLogger())),
	}

	client := f.server.client()
	base := []UpdaterOption{
		WithClient(client),
		WithDownloader(newTestDownloader(t, client, f.fs)),
		WithGovernor(f.governor),
		WithInstaller(f.installer),
		WithLogger(quietLogger()),
	}
	if currentCode > 0 {
		base = append(base, WithVersionCode(KnownVersion(currentCode)))
	}

	u, err := NewUpdater(f.server.manifestURL(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewUpdater() error: %v", err)
	}
	f.updater = u
	return f
}

func (f *updaterFixture) check(t *testing.T) *manifest.Manifest {
	t.Helper()
	out, err := f.updater.Check(context.Background(), true)
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	return out.Manifest
}
