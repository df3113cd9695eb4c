// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/postmir/postmir-update/internal/selfupdate"
)

// progressPrinter draws a single updating percentage line.
type progressPrinter struct {
	w io.Writer

	mu   sync.Mutex
	last int
	done bool
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, last: -1}
}

// report implements selfupdate.ProgressFunc. It redraws only when the whole
// percentage changes.
func (p *progressPrinter) report(fraction float64) {
	pct := int(fraction * 100)
	p.mu.Lock()
	defer p.mu.Unlock()
	if pct == p.last || p.done {
		return
	}
	p.last = pct
	fmt.Fprintf(p.w, "\rDownloading... %3d%%", pct)
	if pct >= 100 {
		fmt.Fprintln(p.w)
		p.done = true
	}
}

// finish ends a partially drawn line.
func (p *progressPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last >= 0 && !p.done {
		fmt.Fprintln(p.w)
	}
	p.done = true
}

// newDownloadCommand creates the `postmir-update download` command.
func newDownloadCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download and verify the latest release without installing",
		Long: `Download and verify the latest release without installing.

The artifact is kept only if its SHA-256 matches the manifest. A mismatching
or incomplete file is deleted before the command exits.`,
		Example: `  # Fetch a newer release
  postmir-update download

  # Fetch the published release even if it is not newer
  postmir-update download --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			if err := runDownload(cmd.Context(), app, cmd.OutOrStdout(), cmd.ErrOrStderr(), force); err != nil {
				return app.reportError(cmd.ErrOrStderr(), err)
			}
			return nil
		},
	}
	cmd.Flags().BoolP("force", "f", false, "download even when the release is not newer")
	return cmd
}

// runDownload checks the manifest and downloads its artifact when it is
// newer, or unconditionally with force. It prints the verified path.
func runDownload(ctx context.Context, app *App, stdout, stderr io.Writer, force bool) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	progress := newProgressPrinter(stderr)
	u, err := app.newUpdater(cfg, progress.report)
	if err != nil {
		return err
	}

	outcome, err := u.Check(ctx, true)
	if err != nil {
		return err
	}
	if !outcome.IsNewer && !force {
		app.printOutcome(stdout, outcome)
		if !outcome.CurrentKnown {
			fmt.Fprintln(stdout, SubtitleStyle.Render("Use --force to download anyway."))
		}
		return nil
	}

	fmt.Fprintf(stdout, "Fetching %s\n", TitleStyle.Render(outcome.Manifest.DisplayVersion()))
	path, err := u.DownloadAndVerify(ctx, outcome.Manifest)
	progress.finish()
	if err != nil {
		return err
	}

	printVerified(stdout, u.Status(), path)
	return nil
}

func printVerified(w io.Writer, st selfupdate.Status, path string) {
	fmt.Fprintln(w, SuccessStyle.Render("✓ SHA-256 verified"))
	fmt.Fprintln(w, field("Artifact", CmdStyle.Render(path)))
	fmt.Fprintln(w, field("State", st.State.String()))
}
