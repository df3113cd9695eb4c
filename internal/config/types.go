// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/postmir/postmir-update/internal/digest"
	"github.com/postmir/postmir-update/internal/governor"
	"github.com/postmir/postmir-update/internal/selfupdate"
)

const (
	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// maxVersionCode is the largest version code a manifest can carry.
	maxVersionCode = 1<<53 - 1
	// maxRetries mirrors the schema bound on download.retries.
	maxRetries = 10
)

var (
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidField is the sentinel wrapped by InvalidFieldError.
	ErrInvalidField = errors.New("invalid config field")
	// ErrInvalidDownloadConfig is the sentinel error wrapped by InvalidDownloadConfigError.
	ErrInvalidDownloadConfig = errors.New("invalid download config")
	// ErrInvalidUIConfig is the sentinel error wrapped by InvalidUIConfigError.
	ErrInvalidUIConfig = errors.New("invalid UI config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	// It wraps ErrInvalidColorScheme for errors.Is() compatibility.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// InvalidFieldError describes a single rejected scalar value.
	InvalidFieldError struct {
		Field  string
		Reason string
	}

	// InvalidDownloadConfigError collects field errors from a DownloadConfig.
	InvalidDownloadConfigError struct {
		FieldErrors []error
	}

	// InvalidUIConfigError collects field errors from a UIConfig.
	InvalidUIConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// ManifestURL is the HTTPS location of the update manifest.
		ManifestURL string `json:"manifest_url" mapstructure:"manifest_url"`
		// CurrentVersionCode is the installed build's version code; 0 means unknown.
		CurrentVersionCode int64 `json:"current_version_code" mapstructure:"current_version_code"`
		// CheckInterval is the minimum time between automatic checks.
		CheckInterval time.Duration `json:"check_interval" mapstructure:"check_interval"`
		// MaxArtifactBytes caps download and digest size.
		MaxArtifactBytes int64 `json:"max_artifact_bytes" mapstructure:"max_artifact_bytes"`
		// DigestStrategy picks the SHA-256 provider.
		DigestStrategy digest.StrategyName `json:"digest_strategy" mapstructure:"digest_strategy"`
		// Download configures artifact retrieval.
		Download DownloadConfig `json:"download" mapstructure:"download"`
		// StateFile overrides where governor state is stored.
		StateFile string `json:"state_file" mapstructure:"state_file"`
		// UI configures the user interface
		UI UIConfig `json:"ui" mapstructure:"ui"`
	}

	// DownloadConfig configures artifact retrieval.
	DownloadConfig struct {
		// Dir overrides the artifact directory. Empty uses the user cache directory.
		Dir string `json:"dir" mapstructure:"dir"`
		// FilePrefix is the artifact file name prefix.
		FilePrefix string `json:"file_prefix" mapstructure:"file_prefix"`
		// Extension is the artifact file extension, including the dot.
		Extension string `json:"extension" mapstructure:"extension"`
		// Retries is how many times a transient failure is retried.
		Retries int `json:"retries" mapstructure:"retries"`
		// RetryDelay is the pause between retries.
		RetryDelay time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
		// Timeout bounds a whole HTTP exchange. Zero disables it.
		Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		// ColorScheme sets the color scheme
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		// Verbose enables verbose output
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}
)

// Error implements the error interface for InvalidFieldError.
func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap returns ErrInvalidField for errors.Is() compatibility.
func (e *InvalidFieldError) Unwrap() error { return ErrInvalidField }

// IsValid returns whether the DownloadConfig has valid fields.
func (c DownloadConfig) IsValid() (bool, []error) {
	var errs []error
	if c.FilePrefix == "" || strings.ContainsAny(c.FilePrefix, `/\`) {
		errs = append(errs, &InvalidFieldError{Field: "download.file_prefix", Reason: "must be a non-empty file name"})
	}
	if !strings.HasPrefix(c.Extension, ".") || len(c.Extension) < 2 || strings.ContainsAny(c.Extension, `/\`) {
		errs = append(errs, &InvalidFieldError{Field: "download.extension", Reason: "must start with a dot"})
	}
	if c.Retries < 0 || c.Retries > maxRetries {
		errs = append(errs, &InvalidFieldError{Field: "download.retries", Reason: fmt.Sprintf("must be between 0 and %d", maxRetries)})
	}
	if c.RetryDelay < 0 {
		errs = append(errs, &InvalidFieldError{Field: "download.retry_delay", Reason: "must not be negative"})
	}
	if c.Timeout < 0 {
		errs = append(errs, &InvalidFieldError{Field: "download.timeout", Reason: "must not be negative"})
	}
	if len(errs) > 0 {
		return false, []error{&InvalidDownloadConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidDownloadConfigError.
func (e *InvalidDownloadConfigError) Error() string {
	return "invalid download config: " + joinFieldErrors(e.FieldErrors)
}

// Unwrap returns ErrInvalidDownloadConfig for errors.Is() compatibility.
func (e *InvalidDownloadConfigError) Unwrap() error { return ErrInvalidDownloadConfig }

// IsValid returns whether the UIConfig has valid fields.
// It delegates to ColorScheme.IsValid(); bool fields need no validation.
func (c UIConfig) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.ColorScheme.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidUIConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidUIConfigError.
func (e *InvalidUIConfigError) Error() string {
	return "invalid UI config: " + joinFieldErrors(e.FieldErrors)
}

// Unwrap returns ErrInvalidUIConfig for errors.Is() compatibility.
func (e *InvalidUIConfigError) Unwrap() error { return ErrInvalidUIConfig }

// IsValid returns whether the Config has valid fields. An empty manifest URL is
// accepted here; commands that need one report it when they run.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if c.ManifestURL != "" {
		if err := validateManifestURL(c.ManifestURL); err != nil {
			errs = append(errs, err)
		}
	}
	if c.CurrentVersionCode < 0 || c.CurrentVersionCode > maxVersionCode {
		errs = append(errs, &InvalidFieldError{Field: "current_version_code", Reason: "must be between 0 and 2^53-1"})
	}
	if c.CheckInterval <= 0 {
		errs = append(errs, &InvalidFieldError{Field: "check_interval", Reason: "must be positive"})
	}
	if c.MaxArtifactBytes <= 0 {
		errs = append(errs, &InvalidFieldError{Field: "max_artifact_bytes", Reason: "must be positive"})
	}
	if valid, fieldErrs := c.DigestStrategy.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if c.StateFile != "" && strings.TrimSpace(c.StateFile) == "" {
		errs = append(errs, &InvalidFieldError{Field: "state_file", Reason: "must not be whitespace-only"})
	}
	if valid, fieldErrs := c.Download.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.UI.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return "invalid config: " + joinFieldErrors(e.FieldErrors)
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Error implements the error interface for InvalidColorSchemeError.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error {
	return ErrInvalidColorScheme
}

// String returns the string representation of the ColorScheme.
func (cs ColorScheme) String() string { return string(cs) }

// IsValid returns whether the ColorScheme is one of the defined color schemes,
// and a list of validation errors if it is not.
func (cs ColorScheme) IsValid() (bool, []error) {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: cs}}
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ManifestURL:        "",
		CurrentVersionCode: 0,
		CheckInterval:      governor.DefaultInterval,
		MaxArtifactBytes:   digest.DefaultMaxArtifactBytes,
		DigestStrategy:     digest.StrategyAuto,
		Download: DownloadConfig{
			Dir:        "", // user cache directory, then config directory
			FilePrefix: selfupdate.DefaultFilePrefix,
			Extension:  selfupdate.DefaultFileExtension,
			Retries:    1,
			RetryDelay: 3 * time.Second,
			Timeout:    10 * time.Minute,
		},
		StateFile: "",
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
			Verbose:     false,
		},
	}
}

func validateManifestURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &InvalidFieldError{Field: "manifest_url", Reason: err.Error()}
	}
	if u.Scheme != "https" || u.Host == "" {
		return &InvalidFieldError{Field: "manifest_url", Reason: "must be an https URL"}
	}
	return nil
}

func joinFieldErrors(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}
