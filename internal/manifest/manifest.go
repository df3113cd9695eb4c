// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"encoding/json"
	"net/url"
	"time"
)

type (
	// Manifest describes an available release. Fields are unexported so a value
	// cannot exist without having passed Validate.
	Manifest struct {
		versionCode  int64
		versionName  string
		artifactURL  *url.URL
		digest       string
		signature    string
		signatureAlg string
		notes        string
		publishedAt  time.Time
	}

	// wireManifest is the JSON shape served by the update endpoint.
	wireManifest struct {
		VersionCode  int64  `json:"versionCode"`
		VersionName  string `json:"versionName,omitempty"`
		APKURL       string `json:"apkUrl"`
		SHA256       string `json:"sha256"`
		Signature    string `json:"signature,omitempty"`
		SignatureAlg string `json:"signatureAlg,omitempty"`
		Notes        string `json:"notes,omitempty"`
		PublishedAt  string `json:"publishedAt,omitempty"`
	}
)

// VersionCode returns the monotonic build number. It is the only field used to
// decide whether a release is newer than the running build.
func (m *Manifest) VersionCode() int64 { return m.versionCode }

// VersionName returns the human-readable version, or "" when absent.
func (m *Manifest) VersionName() string { return m.versionName }

// ArtifactURL returns the normalized https URL of the artifact.
func (m *Manifest) ArtifactURL() string { return m.artifactURL.String() }

// Digest returns the expected SHA-256 of the artifact as 64 lowercase hex chars.
func (m *Manifest) Digest() string { return m.digest }

// Signature returns the detached signature, or "" when absent. It is carried
// for forward compatibility and never verified.
func (m *Manifest) Signature() string { return m.signature }

// SignatureAlgorithm returns the signature algorithm label, or "" when absent.
func (m *Manifest) SignatureAlgorithm() string { return m.signatureAlg }

// Notes returns the release notes (markdown), or "" when absent.
func (m *Manifest) Notes() string { return m.notes }

// PublishedAt returns the publication time and whether it was present.
func (m *Manifest) PublishedAt() (time.Time, bool) {
	return m.publishedAt, !m.publishedAt.IsZero()
}

// DisplayVersion returns the version name when present, falling back to the
// version code.
func (m *Manifest) DisplayVersion() string {
	if m.versionName != "" {
		return m.versionName
	}
	return formatInt(m.versionCode)
}

// MarshalJSON renders the manifest in its wire format. The output is accepted
// by Parse unchanged.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	w := wireManifest{
		VersionCode:  m.versionCode,
		VersionName:  m.versionName,
		APKURL:       m.ArtifactURL(),
		SHA256:       m.digest,
		Signature:    m.signature,
		SignatureAlg: m.signatureAlg,
		Notes:        m.notes,
	}
	if !m.publishedAt.IsZero() {
		w.PublishedAt = m.publishedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(w)
}
