// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/postmir/postmir-update/internal/config"
)

// newConfigCommand creates the `postmir-update config` command tree.
// Subcommands that read configuration use the App's config.Provider.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage postmir-update configuration",
		Long: `Manage postmir-update configuration.

Configuration is stored in:
  - Linux: ~/.config/postmir-update/config.cue
  - macOS: ~/Library/Application Support/postmir-update/config.cue
  - Windows: %APPDATA%\postmir-update\config.cue

Every key can be overridden with a POSTMIR_UPDATE_ environment variable,
for example POSTMIR_UPDATE_MANIFEST_URL or POSTMIR_UPDATE_DOWNLOAD_RETRIES.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := showConfig(cmd.Context(), app, cmd.OutOrStdout()); err != nil {
				return app.reportError(cmd.ErrOrStderr(), err)
			}
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(app, cmd.OutOrStdout()); err != nil {
				return app.reportError(cmd.ErrOrStderr(), err)
			}
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration and state file locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := showConfigPath(app, cmd.OutOrStdout()); err != nil {
				return app.reportError(cmd.ErrOrStderr(), err)
			}
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print the default configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), config.GenerateCUE(config.DefaultConfig()))
			return err
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App, stdout io.Writer) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(stdout)

	source, err := app.Config.Resolve(app.loadOptions())
	if err != nil || source == "" {
		fmt.Fprintln(stdout, field("Config file", SubtitleStyle.Render("(using defaults)")))
	} else {
		fmt.Fprintln(stdout, field("Config file", CmdStyle.Render(source)))
	}
	fmt.Fprintln(stdout)

	manifestURL := cfg.ManifestURL
	if manifestURL == "" {
		manifestURL = WarningStyle.Render("(not set)")
	}
	fmt.Fprintln(stdout, field("manifest_url", manifestURL))
	fmt.Fprintln(stdout, field("current_version_code", strconv.FormatInt(cfg.CurrentVersionCode, 10)))
	fmt.Fprintln(stdout, field("check_interval", cfg.CheckInterval.String()))
	fmt.Fprintln(stdout, field("max_artifact_bytes", strconv.FormatInt(cfg.MaxArtifactBytes, 10)))
	fmt.Fprintln(stdout, field("digest_strategy", string(cfg.DigestStrategy)))

	statePath, err := cfg.StatePath()
	if err != nil {
		statePath = SubtitleStyle.Render("(unavailable)")
	}
	fmt.Fprintln(stdout, field("state_file", statePath))

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, CmdStyle.Render("download"))
	dir := cfg.Download.Dir
	if dir == "" {
		dir = SubtitleStyle.Render("(cache directory)")
	}
	fmt.Fprintln(stdout, field("  dir", dir))
	fmt.Fprintln(stdout, field("  file_prefix", cfg.Download.FilePrefix))
	fmt.Fprintln(stdout, field("  extension", cfg.Download.Extension))
	fmt.Fprintln(stdout, field("  retries", strconv.Itoa(cfg.Download.Retries)))
	fmt.Fprintln(stdout, field("  retry_delay", cfg.Download.RetryDelay.String()))
	fmt.Fprintln(stdout, field("  timeout", cfg.Download.Timeout.String()))

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, CmdStyle.Render("ui"))
	fmt.Fprintln(stdout, field("  color_scheme", cfg.UI.ColorScheme.String()))
	fmt.Fprintln(stdout, field("  verbose", strconv.FormatBool(cfg.UI.Verbose)))

	return nil
}

// initConfig writes the default configuration to --config when given,
// otherwise into the config directory. Existing files are left alone.
func initConfig(app *App, stdout io.Writer) error {
	if app.configPath != "" {
		if _, err := app.Fs.Stat(app.configPath); err == nil {
			fmt.Fprintf(stdout, "Configuration already exists at %s\n", CmdStyle.Render(app.configPath))
			return nil
		}
		if err := app.Fs.MkdirAll(filepath.Dir(app.configPath), 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := afero.WriteFile(app.Fs, app.configPath, []byte(config.GenerateCUE(config.DefaultConfig())), 0o644); err != nil {
			return fmt.Errorf("failed to create config: %w", err)
		}
		fmt.Fprintf(stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), app.configPath)
		return nil
	}

	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	path, created, err := config.CreateDefaultConfig(app.Fs, cfgDir)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	if !created {
		fmt.Fprintf(stdout, "Configuration already exists at %s\n", CmdStyle.Render(path))
		return nil
	}
	fmt.Fprintf(stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	fmt.Fprintln(stdout, SubtitleStyle.Render("Set manifest_url before running 'postmir-update check'."))
	return nil
}

func showConfigPath(app *App, stdout io.Writer) error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}

	cfgFile := config.FilePath(cfgDir)
	if app.configPath != "" {
		cfgFile = app.configPath
	}
	fmt.Fprintln(stdout, field("Config directory", cfgDir))
	fmt.Fprintln(stdout, field("Config file", cfgFile))
	fmt.Fprintln(stdout, field("State file", filepath.Join(cfgDir, config.StateFileName)))
	return nil
}
