// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/postmir/postmir-update/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "postmir-update"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// StateFileName is the default governor state file name inside the config directory.
	StateFileName = "state.toml"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "POSTMIR_UPDATE"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the postmir-update configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// FilePath returns the config file location inside cfgDir.
func FilePath(cfgDir string) string {
	return filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
}

// StatePath returns the governor state file for cfg, defaulting to
// state.toml next to the config file.
func (c *Config) StatePath() (string, error) {
	if c.StateFile != "" {
		return c.StateFile, nil
	}
	cfgDir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfgDir, StateFileName), nil
}

// loadWithOptions performs option-driven config loading. It returns the
// effective config and the file it came from ("" when none was found).
func loadWithOptions(ctx context.Context, fs afero.Fs, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := newViper()
	resolvedPath := ""

	if opts.ConfigFilePath != "" {
		path := opts.ConfigFilePath
		if !fileExists(fs, path) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'postmir-update config init' to create a default configuration").
				Wrap(fmt.Errorf("config file not found: %s", path)).
				BuildError()
		}
		if err := loadCUEIntoViper(fs, v, path); err != nil {
			return nil, "", invalidFileError(path, err)
		}
		resolvedPath = path
	} else {
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
		if err != nil {
			return nil, "", err
		}

		cuePath := FilePath(cfgDir)
		if fileExists(fs, cuePath) {
			if err := loadCUEIntoViper(fs, v, cuePath); err != nil {
				return nil, "", invalidFileError(cuePath, err)
			}
			resolvedPath = cuePath
		}
		// No config file: defaults and environment only.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("parse configuration").
			WithSuggestion("Check " + EnvPrefix + "_* environment variables for malformed values").
			Wrap(err).
			BuildError()
	}

	// Environment overrides bypass the CUE schema, so check the decoded result too.
	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Run 'postmir-update config show' to see the effective values").
			WithSuggestion("Check " + EnvPrefix + "_* environment variables").
			Wrap(errs[0]).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("manifest_url", defaults.ManifestURL)
	v.SetDefault("current_version_code", defaults.CurrentVersionCode)
	v.SetDefault("check_interval", defaults.CheckInterval)
	v.SetDefault("max_artifact_bytes", defaults.MaxArtifactBytes)
	v.SetDefault("digest_strategy", string(defaults.DigestStrategy))
	v.SetDefault("download.dir", defaults.Download.Dir)
	v.SetDefault("download.file_prefix", defaults.Download.FilePrefix)
	v.SetDefault("download.extension", defaults.Download.Extension)
	v.SetDefault("download.retries", defaults.Download.Retries)
	v.SetDefault("download.retry_delay", defaults.Download.RetryDelay)
	v.SetDefault("download.timeout", defaults.Download.Timeout)
	v.SetDefault("state_file", defaults.StateFile)
	v.SetDefault("ui.color_scheme", string(defaults.UI.ColorScheme))
	v.SetDefault("ui.verbose", defaults.UI.Verbose)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func invalidFileError(path string, err error) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithSuggestion("Check that the file contains valid CUE syntax").
		WithSuggestion("Verify the configuration values match the expected schema").
		WithSuggestion("Run 'postmir-update config dump' to see a valid file").
		Wrap(err).
		BuildError()
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper. Fields are optional, so validation
// does not require concrete values.
func loadCUEIntoViper(fs afero.Fs, v *viper.Viper, path string) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := checkFileSize(data, path); err != nil {
		return err
	}

	configMap, err := decodeCUE(data, path)
	if err != nil {
		return err
	}

	// Merge into Viper (preserves defaults, allows env overrides)
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// decodeCUE unifies data with #Config and returns it as a plain map.
func decodeCUE(data []byte, path string) (map[string]any, error) {
	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return nil, fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return nil, formatCUEError(userValue.Err(), path)
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return nil, formatCUEError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return nil, formatCUEError(err, path)
	}
	return configMap, nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes the default config into cfgDir unless a file
// is already there. It reports the path and whether it wrote anything.
func CreateDefaultConfig(fs afero.Fs, cfgDir string) (string, bool, error) {
	cfgPath := FilePath(cfgDir)
	if fileExists(fs, cfgPath) {
		return cfgPath, false, nil
	}
	if _, err := Save(fs, cfgDir, DefaultConfig()); err != nil {
		return "", false, err
	}
	return cfgPath, true, nil
}

// Save writes cfg to the config file in cfgDir, replacing any existing file.
func Save(fs afero.Fs, cfgDir string, cfg *Config) (string, error) {
	if err := fs.MkdirAll(cfgDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := FilePath(cfgDir)
	if err := afero.WriteFile(fs, cfgPath, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return cfgPath, nil
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// postmir-update configuration\n")
	sb.WriteString("// Environment variables prefixed with " + EnvPrefix + "_ override these values.\n\n")

	if cfg.ManifestURL != "" {
		fmt.Fprintf(&sb, "manifest_url: %q\n", cfg.ManifestURL)
	}
	fmt.Fprintf(&sb, "current_version_code: %d\n", cfg.CurrentVersionCode)
	fmt.Fprintf(&sb, "check_interval: %q\n", durationString(cfg.CheckInterval))
	fmt.Fprintf(&sb, "max_artifact_bytes: %d\n", cfg.MaxArtifactBytes)
	fmt.Fprintf(&sb, "digest_strategy: %q\n", cfg.DigestStrategy)
	if cfg.StateFile != "" {
		fmt.Fprintf(&sb, "state_file: %q\n", cfg.StateFile)
	}

	sb.WriteString("\ndownload: {\n")
	if cfg.Download.Dir != "" {
		fmt.Fprintf(&sb, "\tdir: %q\n", cfg.Download.Dir)
	}
	fmt.Fprintf(&sb, "\tfile_prefix: %q\n", cfg.Download.FilePrefix)
	fmt.Fprintf(&sb, "\textension: %q\n", cfg.Download.Extension)
	fmt.Fprintf(&sb, "\tretries: %d\n", cfg.Download.Retries)
	fmt.Fprintf(&sb, "\tretry_delay: %q\n", durationString(cfg.Download.RetryDelay))
	fmt.Fprintf(&sb, "\ttimeout: %q\n", durationString(cfg.Download.Timeout))
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	sb.WriteString("}\n")

	return sb.String()
}

// durationString trims the zero minute and second units that
// time.Duration.String adds, so 6h prints as "6h" instead of "6h0m0s".
func durationString(d time.Duration) string {
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}
