// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
)

// ErrInvalidLoadOptions is the sentinel error wrapped by InvalidLoadOptionsError.
var ErrInvalidLoadOptions = errors.New("invalid load options")

type (
	// LoadOptions defines explicit configuration loading inputs.
	LoadOptions struct {
		// ConfigFilePath forces loading from a specific config file when set.
		ConfigFilePath string
		// ConfigDirPath overrides the config directory lookup when set.
		ConfigDirPath string
	}

	// InvalidLoadOptionsError collects rejected LoadOptions fields.
	InvalidLoadOptionsError struct {
		FieldErrors []error
	}

	// Provider loads configuration from explicit options.
	Provider interface {
		// Load returns the effective configuration.
		Load(ctx context.Context, opts LoadOptions) (*Config, error)
		// Resolve returns the config file Load would read, or "" when
		// only defaults and environment apply.
		Resolve(opts LoadOptions) (string, error)
	}

	// ProviderOption configures a Provider.
	ProviderOption func(*fileProvider)

	fileProvider struct {
		fs afero.Fs
	}
)

// Validate rejects paths that are set but whitespace-only. Empty fields mean "use default".
func (o LoadOptions) Validate() error {
	var errs []error
	if o.ConfigFilePath != "" && strings.TrimSpace(o.ConfigFilePath) == "" {
		errs = append(errs, &InvalidFieldError{Field: "config file path", Reason: "must not be whitespace-only"})
	}
	if o.ConfigDirPath != "" && strings.TrimSpace(o.ConfigDirPath) == "" {
		errs = append(errs, &InvalidFieldError{Field: "config dir path", Reason: "must not be whitespace-only"})
	}
	if len(errs) > 0 {
		return &InvalidLoadOptionsError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidLoadOptionsError) Error() string {
	return fmt.Sprintf("invalid load options: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidLoadOptions for errors.Is() compatibility.
func (e *InvalidLoadOptionsError) Unwrap() error { return ErrInvalidLoadOptions }

// WithFs sets the filesystem config files are read from.
func WithFs(fs afero.Fs) ProviderOption {
	return func(p *fileProvider) { p.fs = fs }
}

// NewProvider creates a configuration provider backed by the OS filesystem.
func NewProvider(opts ...ProviderOption) Provider {
	p := &fileProvider{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load reads configuration from the requested source.
func (p *fileProvider) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	cfg, _, err := loadWithOptions(ctx, p.fs, opts)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Resolve reports which file Load would use.
func (p *fileProvider) Resolve(opts LoadOptions) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}
	if opts.ConfigFilePath != "" {
		return opts.ConfigFilePath, nil
	}
	cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
	if err != nil {
		return "", err
	}
	path := FilePath(cfgDir)
	if !fileExists(p.fs, path) {
		return "", nil
	}
	return path, nil
}
