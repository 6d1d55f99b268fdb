package cli

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"packlist/internal/tui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTUICmd(app *App) *cobra.Command {
	var person string
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive terminal checklist",
		Long: strings.TrimSpace(`
Open the checklist in the terminal. Without --remote it works offline against
the local backup; with --remote it syncs live with everyone else on the hub.

Logs go nowhere unless --log-file is set, since the TUI owns the terminal.
`),
		Example: strings.TrimSpace(`
packlist tui
packlist --remote ws://camp.local:8787/db tui --person Jin
PACKLIST_TUI_GLYPHS=ascii packlist tui
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := app.Cfg.TargetTime()
			if err != nil {
				return writeErr(cmd, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := openStack(ctx, app, false)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer func() {
				if err := rt.Close(); err != nil {
					app.Log.Warn("shutdown", zap.Error(err))
				}
			}()
			if err := rt.start(ctx); err != nil {
				return writeErr(cmd, err)
			}

			err = tui.Run(ctx, rt.session, tui.Options{
				Person:        strings.TrimSpace(person),
				InitialFilter: app.Cfg.InitialFilter,
				Title:         app.Cfg.Title,
				Notes:         app.Cfg.Notes,
				Target:        target,
				Log:           app.Log,
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&person, "person", "", "Start on this person's view (default from config initialFilter)")
	return cmd
}
