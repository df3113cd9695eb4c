// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"encoding/json"
	"time"
)

// GenerateOptions carries the inputs for publishing a manifest.
type GenerateOptions struct {
	VersionCode        int64
	VersionName        string
	ArtifactURL        string
	Digest             string
	Signature          string
	SignatureAlgorithm string
	Notes              string
	// PublishedAt defaults to the current time when zero.
	PublishedAt time.Time
}

// Generate builds a manifest for publishing. The result goes through Validate,
// so a generated manifest is always one that clients accept.
func Generate(opts GenerateOptions) (*Manifest, error) {
	publishedAt := opts.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now()
	}

	raw := map[string]any{
		"versionCode":  json.Number(formatInt(opts.VersionCode)),
		"versionName":  opts.VersionName,
		"apkUrl":       opts.ArtifactURL,
		"sha256":       opts.Digest,
		"signature":    opts.Signature,
		"signatureAlg": opts.SignatureAlgorithm,
		"notes":        opts.Notes,
		"publishedAt":  publishedAt.UTC().Format(time.RFC3339Nano),
	}
	return Validate(raw)
}

// MarshalIndent renders m as indented JSON followed by a newline, the layout
// written to manifest files.
func MarshalIndent(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
