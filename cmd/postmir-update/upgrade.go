// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/postmir/postmir-update/internal/installer"
	"github.com/postmir/postmir-update/internal/selfupdate"
)

// upgradeParams bundles the flags for the upgrade command so runUpgrade can
// be tested without a real Cobra command.
type upgradeParams struct {
	stdout io.Writer
	stderr io.Writer
	yes    bool // --yes flag: skip confirmation prompt
	force  bool // --force flag: reinstall a release that is not newer
}

// newUpgradeCommand creates the `postmir-update upgrade` command.
func newUpgradeCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Download, verify and install the latest release",
		Long: `Download, verify and install the latest release.

The artifact is checked against the manifest's SHA-256 after download and
again right before it is handed to the package installer. Installing is only
supported on Android; elsewhere the command stops before downloading.`,
		Example: `  # Upgrade after confirming
  postmir-update upgrade

  # Skip confirmation prompt
  postmir-update upgrade --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			force, _ := cmd.Flags().GetBool("force")

			p := upgradeParams{
				stdout: cmd.OutOrStdout(),
				stderr: cmd.ErrOrStderr(),
				yes:    yes,
				force:  force,
			}
			if err := runUpgrade(cmd.Context(), app, p); err != nil {
				return app.reportError(p.stderr, err)
			}
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "skip confirmation prompt")
	cmd.Flags().BoolP("force", "f", false, "install even when the release is not newer")
	return cmd
}

// runUpgrade is the core upgrade logic, separated from Cobra for testability.
//
// Flow:
//  1. Refuse early on platforms that cannot install.
//  2. Check the manifest (always forced; the user asked).
//  3. If not newer and not --force, print status and return.
//  4. Confirm with the user unless --yes.
//  5. Download, verify, re-verify and hand off to the installer.
func runUpgrade(ctx context.Context, app *App, p upgradeParams) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	progress := newProgressPrinter(p.stderr)
	u, err := app.newUpdater(cfg, progress.report)
	if err != nil {
		return err
	}

	if !u.CanInstall() {
		return &selfupdate.Error{Kind: selfupdate.KindPlatformNotSupported, Op: "upgrade", Err: installer.ErrPlatformNotSupported}
	}

	outcome, err := u.Check(ctx, true)
	if err != nil {
		return err
	}
	if !outcome.IsNewer && !p.force {
		app.printOutcome(p.stdout, outcome)
		return nil
	}

	m := outcome.Manifest
	if !p.yes {
		from := "the installed build"
		if outcome.CurrentKnown {
			from = strconv.FormatInt(outcome.CurrentVersionCode, 10)
		}
		confirmed, confirmErr := app.Confirm(
			fmt.Sprintf("Install %s?", m.DisplayVersion()),
			fmt.Sprintf("Replaces %s. The package is verified before install.", from),
		)
		if confirmErr != nil {
			return confirmErr
		}
		if !confirmed {
			fmt.Fprintln(p.stdout, SubtitleStyle.Render("Upgrade canceled."))
			return nil
		}
	}

	fmt.Fprintf(p.stdout, "Fetching %s\n", TitleStyle.Render(m.DisplayVersion()))
	path, err := u.Apply(ctx, m)
	progress.finish()
	if err != nil {
		return err
	}

	fmt.Fprintln(p.stdout, SuccessStyle.Render("✓ SHA-256 verified"))
	fmt.Fprintln(p.stdout, field("Artifact", CmdStyle.Render(path)))
	fmt.Fprintln(p.stdout, SuccessStyle.Render("✓ Installer launched. Confirm the install on the device."))
	return nil
}
