// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/postmir/postmir-update/pkg/types"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// newRootCommand builds the command tree around app.
func newRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "postmir-update",
		Short: "Check, verify and install companion app updates",
		Long: TitleStyle.Render("postmir-update") + SubtitleStyle.Render(" - secure self-update for the companion app") + `

postmir-update reads a release manifest published over HTTPS, downloads the
artifact it names and refuses to keep anything whose SHA-256 does not match.
Verified packages are handed to the Android package installer.

` + SubtitleStyle.Render("Examples:") + `
  postmir-update check            Look for a newer release
  postmir-update download         Fetch and verify the latest artifact
  postmir-update upgrade          Download, verify and install
  postmir-update state show       Show throttling state
  postmir-update config init      Write a default configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			app.applyLogLevel()
		},
	}

	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is $HOME/.config/postmir-update/config.cue)")

	rootCmd.AddCommand(newCheckCommand(app))
	rootCmd.AddCommand(newPollCommand(app))
	rootCmd.AddCommand(newWatchCommand(app))
	rootCmd.AddCommand(newDownloadCommand(app))
	rootCmd.AddCommand(newUpgradeCommand(app))
	rootCmd.AddCommand(newManifestCommand(app))
	rootCmd.AddCommand(newStateCommand(app))
	rootCmd.AddCommand(newConfigCommand(app))

	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute builds the production App and runs the command tree.
// This is called by main.main().
func Execute() {
	app, err := NewApp(Dependencies{})
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+err.Error())
		os.Exit(int(types.ExitUserError))
	}

	// Pass version via fang.WithVersion() since fang overrides rootCmd.Version
	if err := fang.Execute(
		context.Background(),
		newRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(errorHandler),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(int(types.ExitUserError))
	}
}

// errorHandler prints errors the commands did not already report. Command
// failures arrive as *ExitError after reportError has shown them.
func errorHandler(w io.Writer, _ fang.Styles, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return
	}
	fmt.Fprintln(w, ErrorStyle.Render("Error: ")+err.Error())
}
