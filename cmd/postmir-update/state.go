// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// newStateCommand creates the `postmir-update state` command tree.
func newStateCommand(app *App) *cobra.Command {
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or clear the check throttling state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	stateCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show when the last check ran and what was announced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runStateShow(cmd.Context(), app, cmd.OutOrStdout()); err != nil {
				return app.reportError(cmd.ErrOrStderr(), err)
			}
			return nil
		},
	})

	stateCmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Forget the last check time and announced version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runStateReset(cmd.Context(), app, cmd.OutOrStdout()); err != nil {
				return app.reportError(cmd.ErrOrStderr(), err)
			}
			return nil
		},
	})

	return stateCmd
}

func runStateShow(ctx context.Context, app *App, stdout io.Writer) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	gov, store, err := app.governorFor(cfg)
	if err != nil {
		return err
	}

	st := gov.State()
	fmt.Fprintln(stdout, TitleStyle.Render("Update check state"))
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, field("State file", CmdStyle.Render(store.Path())))
	fmt.Fprintln(stdout, field("Interval", cfg.CheckInterval.String()))

	if st.LastCheckAt.IsZero() {
		fmt.Fprintln(stdout, field("Last check", SubtitleStyle.Render("never")))
	} else {
		fmt.Fprintln(stdout, field("Last check", st.LastCheckAt.Local().Format(time.DateTime)))
	}

	now := app.Now()
	if gov.ShouldCheck(now, false) {
		fmt.Fprintln(stdout, field("Next check", SuccessStyle.Render("due now")))
	} else {
		fmt.Fprintln(stdout, field("Next check", gov.NextCheck().Local().Format(time.DateTime)))
	}

	if st.HasNotified {
		fmt.Fprintln(stdout, field("Last announced", fmt.Sprint(st.LastNotifiedVersionCode)))
	} else {
		fmt.Fprintln(stdout, field("Last announced", SubtitleStyle.Render("none")))
	}
	return nil
}

func runStateReset(ctx context.Context, app *App, stdout io.Writer) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	gov, store, err := app.governorFor(cfg)
	if err != nil {
		return err
	}
	if err := gov.Reset(); err != nil {
		return fmt.Errorf("reset %s: %w", store.Path(), err)
	}
	fmt.Fprintf(stdout, "%s Cleared update state in %s\n", SuccessStyle.Render("✓"), store.Path())
	return nil
}
