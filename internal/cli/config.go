package cli

import (
	"errors"
	"strings"

	"packlist/internal/config"

	"github.com/spf13/cobra"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and save the effective configuration",
	}
	cmd.AddCommand(newConfigShowCmd(app))
	cmd.AddCommand(newConfigSaveCmd(app))
	return cmd
}

func newConfigShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration and where it came from",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := app.Cfg.ResolveDataDir(app.env)
			return writeOut(cmd, app, map[string]any{"data": map[string]any{
				"config":  app.Cfg,
				"sources": app.Cfg.Sources,
				"dataDir": dataDir,
			}})
		},
	}
}

func newConfigSaveCmd(app *App) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Write the effective configuration to the user config file",
		Example: strings.TrimSpace(`
packlist --remote ws://camp.local:8787/db config save
packlist config save --path ./packlist.jsonc
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst := strings.TrimSpace(path)
			if dst == "" {
				dst = config.UserPath(app.env)
			}
			if dst == "" {
				return writeErr(cmd, errors.New("config save: no user config path (set --path, XDG_CONFIG_HOME or HOME)"))
			}
			if err := config.Save(dst, app.Cfg); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"path": dst, "saved": true}})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Destination file (default: user config)")
	return cmd
}
