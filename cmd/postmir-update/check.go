// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/postmir/postmir-update/internal/selfupdate"
	"github.com/postmir/postmir-update/internal/watch"
)

// renderMarkdown renders release notes for the terminal.
var renderMarkdown = glamour.Render //nolint:gochecknoglobals // replaced in tests

// newCheckCommand creates the `postmir-update check` command.
func newCheckCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a newer release is published",
		Long: `Check whether a newer release is published.

Checks are throttled: unless --force is given, nothing is fetched when the
last attempt is more recent than check_interval.`,
		Example: `  # Check if due
  postmir-update check

  # Check now regardless of the last attempt
  postmir-update check --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			if err := runCheck(cmd.Context(), app, cmd.OutOrStdout(), force); err != nil {
				return app.reportError(cmd.ErrOrStderr(), err)
			}
			return nil
		},
	}
	cmd.Flags().BoolP("force", "f", false, "check even if the last check was recent")
	return cmd
}

// newPollCommand creates the `postmir-update poll` command.
func newPollCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run one background check and announce new releases once",
		Long: `Run one background check and announce new releases once.

poll honors the check interval and prints a release only the first time it
is seen, which makes it suitable for cron jobs and login scripts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runPoll(cmd.Context(), app, cmd.OutOrStdout()); err != nil {
				return app.reportError(cmd.ErrOrStderr(), err)
			}
			return nil
		},
	}
}

// newWatchCommand creates the `postmir-update watch` command.
func newWatchCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll repeatedly until interrupted",
		Long: `Poll repeatedly until interrupted.

Each tick runs the same throttled check as 'poll'. Failures are logged and
the loop keeps going. Edits to the config file take effect without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			every, _ := cmd.Flags().GetDuration("every")
			reload, _ := cmd.Flags().GetBool("reload")
			if err := runWatch(cmd.Context(), app, cmd.OutOrStdout(), every, reload); err != nil {
				return app.reportError(cmd.ErrOrStderr(), err)
			}
			return nil
		},
	}
	cmd.Flags().Duration("every", 15*time.Minute, "time between polls")
	cmd.Flags().Bool("reload", true, "rebuild the pipeline when the config file changes")
	return cmd
}

// runCheck performs a governed or forced check and prints the outcome.
func runCheck(ctx context.Context, app *App, stdout io.Writer, force bool) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	u, err := app.newUpdater(cfg, nil)
	if err != nil {
		return err
	}

	outcome, err := u.Check(ctx, force)
	if err != nil {
		return err
	}
	if outcome == nil {
		next := u.Governor().NextCheck()
		fmt.Fprintf(stdout, "Checked recently. Next check after %s.\n", next.Local().Format(time.DateTime))
		fmt.Fprintln(stdout, SubtitleStyle.Render("Use --force to check now."))
		return nil
	}

	app.printOutcome(stdout, outcome)
	return nil
}

// runPoll performs one background poll. Releases already announced are not printed again.
func runPoll(ctx context.Context, app *App, stdout io.Writer) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	u, err := app.newUpdater(cfg, nil, selfupdate.WithNotifier(func(o selfupdate.CheckOutcome) {
		app.printOutcome(stdout, &o)
	}))
	if err != nil {
		return err
	}

	res, err := u.Poll(ctx)
	if err != nil {
		return err
	}
	if res.Outcome == nil {
		app.logger.Debug("poll throttled", "next", u.Governor().NextCheck())
		return nil
	}
	if !res.Notified {
		app.logger.Debug("nothing new to announce", "latest", res.Outcome.Manifest.VersionCode())
	}
	return nil
}

// runWatch polls until ctx is canceled. Interruption is a normal exit. With
// reload, edits to the config file rebuild the pipeline; an edit that does
// not load keeps the previous configuration.
func runWatch(ctx context.Context, app *App, stdout io.Writer, every time.Duration, reload bool) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}

	reloads := make(chan struct{}, 1)
	if reload {
		app.watchConfig(ctx, reloads)
	}

	notify := selfupdate.WithNotifier(func(o selfupdate.CheckOutcome) {
		app.printOutcome(stdout, &o)
	})
	for {
		u, err := app.newUpdater(cfg, nil, notify)
		if err != nil {
			return err
		}

		app.logger.Info("watching for updates", "every", every, "url", cfg.ManifestURL)
		runCtx, stop := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- u.Watch(runCtx, every) }()

		select {
		case err := <-done:
			stop()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil

		case <-reloads:
			stop()
			<-done
			next, loadErr := app.loadConfig(ctx)
			if loadErr != nil {
				app.logger.Warn("keeping previous configuration", "error", loadErr)
				continue
			}
			app.logger.Info("configuration reloaded")
			cfg = next
		}
	}
}

// watchConfig signals reloads whenever the config file changes. It only
// runs on the OS filesystem; other filesystems have nothing to notify.
func (a *App) watchConfig(ctx context.Context, reloads chan<- struct{}) {
	if _, ok := a.Fs.(*afero.OsFs); !ok {
		return
	}
	source, err := a.Config.Resolve(a.loadOptions())
	if err != nil || source == "" {
		a.logger.Debug("no config file to watch")
		return
	}

	w, err := watch.New(watch.Config{
		Paths:  []string{source},
		Logger: a.logger.WithPrefix("watch"),
		OnChange: func(context.Context, []string) error {
			select {
			case reloads <- struct{}{}:
			default:
			}
			return nil
		},
	})
	if err != nil {
		a.logger.Warn("config reload disabled", "error", err)
		return
	}
	go func() {
		if err := w.Run(ctx); err != nil {
			a.logger.Warn("config watcher stopped", "error", err)
		}
	}()
}

// printOutcome prints the versions and, for a newer release, its notes.
func (a *App) printOutcome(w io.Writer, o *selfupdate.CheckOutcome) {
	m := o.Manifest

	current := SubtitleStyle.Render("unknown")
	if o.CurrentKnown {
		current = strconv.FormatInt(o.CurrentVersionCode, 10)
	}
	fmt.Fprintln(w, field("Current version", current))
	fmt.Fprintln(w, field("Latest version", TitleStyle.Render(m.DisplayVersion())+SubtitleStyle.Render(fmt.Sprintf(" (code %d)", m.VersionCode()))))
	if published, ok := m.PublishedAt(); ok {
		fmt.Fprintln(w, field("Published", published.Local().Format(time.DateTime)))
	}
	fmt.Fprintln(w)

	switch {
	case !o.CurrentKnown:
		fmt.Fprintln(w, WarningStyle.Render("Cannot compare versions: current_version_code is not set."))
		return
	case !o.IsNewer:
		fmt.Fprintln(w, SuccessStyle.Render("✓ Up to date"))
		return
	}

	fmt.Fprintln(w, WarningStyle.Render("Update available: ")+m.DisplayVersion())
	if notes := strings.TrimSpace(m.Notes()); notes != "" {
		rendered, err := renderMarkdown(notes, glamourStyle(a.colorScheme()))
		if err != nil {
			a.logger.Debug("could not render notes", "error", err)
			rendered = notes + "\n"
		}
		fmt.Fprint(w, rendered)
	}
	fmt.Fprintln(w, SubtitleStyle.Render("Run 'postmir-update upgrade' to install."))
}
