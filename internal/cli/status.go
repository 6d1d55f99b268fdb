package cli

import (
	"context"
	"strings"
	"time"

	"packlist/internal/filter"
	"packlist/internal/keys"
	"packlist/internal/model"
	"packlist/internal/reconcile"

	"github.com/spf13/cobra"
)

func newSaveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Push both documents now and write the local backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st reconcile.SyncStatus
			err := withSession(cmd.Context(), app, func(ctx context.Context, s *reconcile.Session) error {
				if err := s.Save(ctx); err != nil {
					return err
				}
				st = s.SyncStatus()
				return nil
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{
				"saved":   true,
				"key":     app.Cfg.AppKey,
				"backend": app.Cfg.Backend,
				"sync":    st.State,
				"at":      time.Now().UTC().Format(time.RFC3339),
			}})
		},
	}
}

type statusOut struct {
	Sync     reconcile.SyncStatus `json:"sync"`
	Remote   string               `json:"remote,omitempty"`
	Items    int                  `json:"items"`
	Persons  []string             `json:"persons"`
	Progress map[string]progress  `json:"progress"`
}

type progress struct {
	Done    int `json:"done"`
	Total   int `json:"total"`
	Percent int `json:"percent"`
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state and packing progress per person",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out statusOut
			err := withSession(cmd.Context(), app, func(ctx context.Context, s *reconcile.Session) error {
				snap, err := s.Snapshot(ctx)
				if err != nil {
					return err
				}
				out = statusOut{
					Sync:     s.SyncStatus(),
					Remote:   app.Cfg.Remote,
					Items:    snap.Catalog.Len(),
					Persons:  snap.Persons(),
					Progress: map[string]progress{},
				}
				who := append([]string{model.AggregatePerson}, out.Persons...)
				for _, k := range who {
					p := filter.Select(k).Progress(snap)
					out.Progress[k] = progress{Done: p.Done, Total: p.Total, Percent: p.Percent()}
				}
				return nil
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": out})
		},
	}
}

func newExportCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the local snapshot (catalog and checked map) in --format",
		Example: strings.TrimSpace(`
packlist export --pretty > backup.json
packlist export --format yaml
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc model.BackupDoc
			err := withSession(cmd.Context(), app, func(ctx context.Context, s *reconcile.Session) error {
				var err error
				doc, err = s.Export(ctx)
				return err
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": doc})
		},
	}
}

func newSanitizeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "sanitize <key>...",
		Short:   "Show how names are rewritten into hub-safe keys",
		Args:    cobra.MinimumNArgs(1),
		Example: `packlist sanitize "Dr. Who" "tent/poles"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([]map[string]any, 0, len(args))
			for _, k := range args {
				s := keys.Sanitize(k)
				rows = append(rows, map[string]any{"key": k, "sanitized": s, "changed": s != k})
			}
			return writeOut(cmd, app, map[string]any{"data": rows})
		},
	}
}
