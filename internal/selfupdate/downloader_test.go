// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/postmir/postmir-update/internal/digest"
	"github.com/postmir/postmir-update/internal/manifest"
)

func fetchManifest(t *testing.T, rs *releaseServer) *manifest.Manifest {
	t.Helper()
	m, err := rs.client().FetchManifest(context.Background(), rs.manifestURL())
	if err != nil {
		t.Fatalf("FetchManifest() error: %v", err)
	}
	return m
}

func TestDownloader_DownloadAndVerify_Match(t *testing.T) {
	t.Parallel()

	payload := []byte("verified apk bytes")
	rs := newReleaseServer(t, 5, payload)
	fs := afero.NewMemMapFs()
	d := newTestDownloader(t, rs.client(), fs)

	path, err := d.DownloadAndVerify(context.Background(), fetchManifest(t, rs), nil)
	if err != nil {
		t.Fatalf("DownloadAndVerify() error: %v", err)
	}

	if want := filepath.Join(artifactDir, "postmir_companion_5.apk"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	got, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("artifact content = %q, want %q", got, payload)
	}
}

func TestDownloader_DownloadAndVerify_MismatchDeletesArtifact(t *testing.T) {
	t.Parallel()

	rs := newReleaseServer(t, 5, []byte("tampered apk bytes"))
	rs.setManifest(5, sha256Hex([]byte("the real apk bytes")))
	fs := afero.NewMemMapFs()
	d := newTestDownloader(t, rs.client(), fs)

	path, err := d.DownloadAndVerify(context.Background(), fetchManifest(t, rs), nil)
	if path != "" {
		t.Errorf("path = %q, want empty on mismatch", path)
	}
	if KindOf(err) != KindIntegrityMismatch {
		t.Fatalf("KindOf(err) = %v, want INTEGRITY_MISMATCH (err = %v)", KindOf(err), err)
	}
	var checksumErr *ChecksumError
	if !errors.As(err, &checksumErr) {
		t.Fatalf("expected *ChecksumError, got %T", err)
	}
	if checksumErr.Got != sha256Hex([]byte("tampered apk bytes")) {
		t.Errorf("ChecksumError.Got = %s", checksumErr.Got)
	}

	if exists, _ := afero.Exists(fs, filepath.Join(artifactDir, "postmir_companion_5.apk")); exists {
		t.Error("artifact left on disk after integrity mismatch")
	}
}

func TestDownloader_FailuresLeaveNoArtifact(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		setup      func(*releaseServer)
		engineOpts []digest.EngineOption
		wantKind   Kind
	}{
		{"server error", func(rs *releaseServer) { rs.artifactStatus = http.StatusInternalServerError }, nil, KindTransport},
		{"truncated body", func(rs *releaseServer) { rs.truncateTo = 4 }, nil, KindDownloadIncomplete},
		{"above size ceiling", func(*releaseServer) {}, []digest.EngineOption{digest.WithMaxBytes(8)}, KindArtifactTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rs := newReleaseServer(t, 7, []byte("a reasonably long payload"))
			m := fetchManifest(t, rs)
			rs.with(tt.setup)

			fs := afero.NewMemMapFs()
			d := newTestDownloader(t, rs.client(), fs, tt.engineOpts...)

			_, err := d.DownloadAndVerify(context.Background(), m, nil)
			if KindOf(err) != tt.wantKind {
				t.Fatalf("KindOf(err) = %v, want %v (err = %v)", KindOf(err), tt.wantKind, err)
			}
			if exists, _ := afero.Exists(fs, filepath.Join(artifactDir, "postmir_companion_7.apk")); exists {
				t.Error("artifact left on disk after failure")
			}
		})
	}
}

func TestDownloader_NoWriteLocation(t *testing.T) {
	t.Parallel()

	rs := newReleaseServer(t, 5, []byte("payload"))
	d := newTestDownloader(t, rs.client(), afero.NewMemMapFs())
	d.namer = DirNamer(nil, "", DefaultFileExtension)

	_, err := d.DownloadAndVerify(context.Background(), fetchManifest(t, rs), nil)
	if KindOf(err) != KindWriteLocationUnavailable {
		t.Fatalf("KindOf(err) = %v, want WRITE_LOCATION_UNAVAILABLE", KindOf(err))
	}
	if !errors.Is(err, ErrWriteLocationUnavailable) {
		t.Errorf("errors.Is(err, ErrWriteLocationUnavailable) = false")
	}
	if hits := rs.artifactHits.Load(); hits != 0 {
		t.Errorf("artifact requested %d times without a destination", hits)
	}
}

func TestDownloader_ReadOnlyFilesystem(t *testing.T) {
	t.Parallel()

	rs := newReleaseServer(t, 5, []byte("payload"))
	d := newTestDownloader(t, rs.client(), afero.NewReadOnlyFs(afero.NewMemMapFs()))

	_, err := d.DownloadAndVerify(context.Background(), fetchManifest(t, rs), nil)
	if KindOf(err) != KindWriteLocationUnavailable {
		t.Fatalf("KindOf(err) = %v, want WRITE_LOCATION_UNAVAILABLE (err = %v)", KindOf(err), err)
	}
}

func TestDirNamer(t *testing.T) {
	t.Parallel()

	namer := DirNamer([]string{"", "/data/files"}, "", ".apk")
	got, err := namer(42)
	if err != nil {
		t.Fatalf("namer() error: %v", err)
	}
	if want := filepath.Join("/data/files", "postmir_companion_42.apk"); got != want {
		t.Errorf("namer(42) = %q, want %q", got, want)
	}
}

func TestVerifyFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/a.apk", []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	engine, err := digest.NewEngine(digest.WithFs(fs), digest.WithStrategy(digest.Software{}))
	if err != nil {
		t.Fatal(err)
	}

	upper := "BA7816BF8F01CFEA414140DE5DAE2223B00361A396177A9CB410FF61F20015AD"
	if err := VerifyFile(engine, "/a.apk", upper); err != nil {
		t.Errorf("VerifyFile() with uppercase digest: %v", err)
	}

	err = VerifyFile(engine, "/a.apk", sha256Hex([]byte("abd")))
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("VerifyFile() error = %v, want ErrChecksumMismatch", err)
	}
}
