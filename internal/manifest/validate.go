// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxSignatureChars bounds the optional signature field.
	MaxSignatureChars = 4096
	// MaxSignatureAlgorithmChars bounds the optional signatureAlg field.
	MaxSignatureAlgorithmChars = 128

	// maxSafeInteger is the largest integer a JSON number can carry without
	// losing precision in common decoders.
	maxSafeInteger = 1<<53 - 1
)

// ErrInvalid is the sentinel wrapped by every validation failure.
var ErrInvalid = errors.New("invalid update manifest")

var (
	digestPattern    = regexp.MustCompile(`^[0-9a-f]{64}$`)
	signaturePattern = regexp.MustCompile(`^[0-9A-Za-z+/=_-]+$`)

	publishedAtLayouts = []string{time.RFC3339Nano, time.RFC3339, time.DateOnly}
)

// ValidationError names the first manifest field that failed validation.
// It wraps ErrInvalid so callers can use errors.Is for classification.
type ValidationError struct {
	Field  string
	Reason string
}

// Error returns a description naming the offending field.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrInvalid, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrInvalid, e.Field, e.Reason)
}

// Unwrap returns ErrInvalid so callers can use errors.Is.
func (e *ValidationError) Unwrap() error { return ErrInvalid }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Parse decodes a manifest document and validates it.
func Parse(data []byte) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, invalid("", "malformed JSON: "+err.Error())
	}
	if dec.More() {
		return nil, invalid("", "trailing data after JSON document")
	}
	return Validate(raw)
}

// Validate turns an untyped decoded JSON value into a Manifest. Rules are
// applied in a fixed order and the first failure is returned.
func Validate(raw any) (*Manifest, error) {
	obj, ok := raw.(map[string]any)
	if !ok || obj == nil {
		return nil, invalid("", "document must be a JSON object")
	}

	versionCode, err := coerceVersionCode(obj["versionCode"])
	if err != nil {
		return nil, err
	}

	artifactURL, err := parseArtifactURL(obj["apkUrl"])
	if err != nil {
		return nil, err
	}

	rawDigest, ok := obj["sha256"].(string)
	if !ok {
		return nil, invalid("sha256", "is missing")
	}
	digest := strings.ToLower(strings.TrimSpace(rawDigest))
	if !digestPattern.MatchString(digest) {
		return nil, invalid("sha256", "must be 64 hexadecimal characters")
	}

	signature := optionalText(obj["signature"])
	if signature != "" {
		if utf8.RuneCountInString(signature) > MaxSignatureChars {
			return nil, invalid("signature", fmt.Sprintf("exceeds %d characters", MaxSignatureChars))
		}
		if !signaturePattern.MatchString(signature) {
			return nil, invalid("signature", "must be base64 or base64url")
		}
	}

	signatureAlg := optionalText(obj["signatureAlg"])
	if utf8.RuneCountInString(signatureAlg) > MaxSignatureAlgorithmChars {
		return nil, invalid("signatureAlg", fmt.Sprintf("exceeds %d characters", MaxSignatureAlgorithmChars))
	}

	return &Manifest{
		versionCode:  versionCode,
		versionName:  optionalText(obj["versionName"]),
		artifactURL:  artifactURL,
		digest:       digest,
		signature:    signature,
		signatureAlg: signatureAlg,
		notes:        optionalText(obj["notes"]),
		publishedAt:  parsePublishedAt(optionalText(obj["publishedAt"])),
	}, nil
}

// coerceVersionCode accepts JSON numbers and numeric strings, and requires a
// positive integer that survives a round trip through float64.
func coerceVersionCode(v any) (int64, error) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return 0, invalid("versionCode", "is not a number")
		}
		f = parsed
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, invalid("versionCode", "is not a number")
		}
		f = parsed
	case nil:
		return 0, invalid("versionCode", "is missing")
	default:
		return 0, invalid("versionCode", "is not a number")
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 || f != math.Trunc(f) || f > maxSafeInteger {
		return 0, invalid("versionCode", "must be a positive integer")
	}
	return int64(f), nil
}

func parseArtifactURL(v any) (*url.URL, error) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil, invalid("apkUrl", "is missing")
	}

	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || !u.IsAbs() || u.Scheme != "https" || u.Host == "" || u.Hostname() == "" {
		return nil, invalid("apkUrl", "must be a valid https URL")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

func optionalText(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// parsePublishedAt returns the zero time when s is empty or unparsable; an
// unreadable timestamp is dropped rather than rejecting the manifest.
func parsePublishedAt(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range publishedAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
