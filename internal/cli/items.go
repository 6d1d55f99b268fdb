package cli

import (
	"context"
	"errors"
	"strings"

	"packlist/internal/filter"
	"packlist/internal/model"
	"packlist/internal/reconcile"
	"packlist/internal/view"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newListCmd(app *App) *cobra.Command {
	var person string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checklist rows for a person or the aggregate view",
		Example: strings.TrimSpace(`
packlist list
packlist list --person Jin --pretty
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			var page view.Page
			err := withSession(cmd.Context(), app, func(ctx context.Context, s *reconcile.Session) error {
				snap, err := s.Snapshot(ctx)
				if err != nil {
					return err
				}
				st := filter.Initial(app.Cfg.InitialFilter, snap.Roster)
				if cmd.Flags().Changed("person") {
					st = filter.Select(person)
				}
				page = view.Build(snap, st, nil)
				if err := page.Err(); err != nil {
					app.Log.Warn("skipping categories without a section", zap.Error(err))
				}
				page.Title = app.Cfg.Title
				page.Sync = string(s.SyncStatus().State)
				return nil
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": page})
		},
	}
	cmd.Flags().StringVar(&person, "person", "", "Person to list for (\"all\" for the aggregate view)")
	return cmd
}

func newCheckCmd(app *App, checked bool) *cobra.Command {
	use, short := "check", "Mark an item packed for a person"
	if !checked {
		use, short = "uncheck", "Mark an item not packed for a person"
	}
	return &cobra.Command{
		Use:     use + " <person> <item-id>",
		Short:   short,
		Args:    cobra.ExactArgs(2),
		Example: "packlist " + use + " Henry item-1751360400000-ab12cd",
		RunE: func(cmd *cobra.Command, args []string) error {
			person, id := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
			var status model.Status
			err := withSession(cmd.Context(), app, func(ctx context.Context, s *reconcile.Session) error {
				if err := s.SetChecked(ctx, person, id, checked); err != nil {
					return err
				}
				var err error
				if status, err = s.Status(ctx, id); err != nil {
					return err
				}
				return s.Flush(ctx)
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{
				"id":      id,
				"person":  person,
				"checked": checked,
				"status":  status,
			}})
		},
	}
}

func newAddCmd(app *App) *cobra.Command {
	var category, name, quantity, persons string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an item to the catalog",
		Example: strings.TrimSpace(`
packlist add --name Lantern --persons Alex --category personal
packlist add --name "Water jug" --quantity 2 --persons "Henry,Jin"
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			var it model.Item
			err := withSession(cmd.Context(), app, func(ctx context.Context, s *reconcile.Session) error {
				var err error
				it, err = s.AddItem(ctx, model.ParseCategory(category), name, quantity, model.ParsePersons(persons))
				if err != nil {
					return err
				}
				return s.Flush(ctx)
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": it})
		},
	}
	cmd.Flags().StringVar(&category, "category", string(model.CategoryShared), "shared|personal (unknown values mean shared)")
	cmd.Flags().StringVar(&name, "name", "", "Item name (required)")
	cmd.Flags().StringVar(&quantity, "quantity", "", "Free-form quantity")
	cmd.Flags().StringVar(&persons, "persons", "", "Comma-separated responsible persons (\"All\" for everyone)")
	return cmd
}

func newDeleteCmd(app *App) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "delete <item-id>",
		Short:   "Delete an item everywhere (requires --yes)",
		Args:    cobra.ExactArgs(1),
		Example: "packlist delete item-1751360400000-ab12cd --yes",
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if !yes {
				return writeErr(cmd, errors.New("refusing to delete without --yes"))
			}
			err := withSession(cmd.Context(), app, func(ctx context.Context, s *reconcile.Session) error {
				return s.DeleteItem(ctx, id)
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"id": id, "deleted": true}})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the deletion")
	return cmd
}
