package cli

import (
	"fmt"
	"os"
	"strings"

	"packlist/internal/config"
	"packlist/internal/format"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type App struct {
	ConfigPath string
	DataDir    string
	Remote     string
	Format     string
	PrettyJSON bool
	Verbose    bool
	LogFile    string

	Cfg config.Config
	Log *zap.Logger

	// env is the process environment; tests replace it.
	env map[string]string
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&App{env: config.Environ()})
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "packlist",
		Short:        "Shared camping packing checklist (web, TUI and CLI)",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Serve the web UI and host the hub other clients sync through
  packlist serve --addr :8787

  # Join a running hub from the terminal
  packlist --remote ws://camp.local:8787/db tui --person Jin

  # Scriptable commands
  packlist list --person Henry
  packlist check Henry item-1751360400000-ab12cd
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := app.loadConfig(cmd); err != nil {
			return writeErr(cmd, err)
		}
		if err := app.initLogger(cmd); err != nil {
			return writeErr(cmd, fmt.Errorf("failed to initialize logger: %w", err))
		}
		return nil
	}
	cmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if app.Log != nil {
			_ = app.Log.Sync()
		}
	}

	cmd.PersistentFlags().StringVar(&app.ConfigPath, "config", envOr(app.env, "PACKLIST_CONFIG", ""), "Explicit config file (JSONC)")
	cmd.PersistentFlags().StringVar(&app.DataDir, "data-dir", "", "Directory for the local backup and hub data (overrides config)")
	cmd.PersistentFlags().StringVar(&app.Remote, "remote", "", "Hub websocket URL, e.g. ws://host:8787/db (overrides config)")
	cmd.PersistentFlags().StringVar(&app.Format, "format", envOr(app.env, "PACKLIST_FORMAT", "json"), "Output format (json|edn|yaml)")
	cmd.PersistentFlags().BoolVar(&app.PrettyJSON, "pretty", false, "Pretty-print output")
	cmd.PersistentFlags().BoolVarP(&app.Verbose, "verbose", "v", false, "Debug logging")
	cmd.PersistentFlags().StringVar(&app.LogFile, "log-file", envOr(app.env, "PACKLIST_LOG_FILE", ""), "Write logs to this file instead of stderr")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newTUICmd(app))
	cmd.AddCommand(newListCmd(app))
	cmd.AddCommand(newCheckCmd(app, true))
	cmd.AddCommand(newCheckCmd(app, false))
	cmd.AddCommand(newAddCmd(app))
	cmd.AddCommand(newDeleteCmd(app))
	cmd.AddCommand(newSaveCmd(app))
	cmd.AddCommand(newStatusCmd(app))
	cmd.AddCommand(newExportCmd(app))
	cmd.AddCommand(newSanitizeCmd(app))
	cmd.AddCommand(newConfigCmd(app))

	return cmd
}

// loadConfig resolves the layered config and applies flag overrides.
func (app *App) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(config.LoadInput{ConfigPath: app.ConfigPath, Env: app.env})
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = strings.TrimSpace(app.DataDir)
	}
	if flags.Changed("remote") {
		cfg.Remote = strings.TrimSpace(app.Remote)
	}
	app.Cfg = cfg
	return nil
}

// initLogger builds a production zap logger writing JSON to stderr, or to
// --log-file. The TUI owns the terminal, so without a log file it logs nowhere.
func (app *App) initLogger(cmd *cobra.Command) error {
	level := zapcore.InfoLevel
	if app.Verbose {
		level = zapcore.DebugLevel
	}
	if app.LogFile != "" {
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(level)
		zc.OutputPaths = []string{app.LogFile}
		zc.ErrorOutputPaths = []string{app.LogFile}
		log, err := zc.Build()
		if err != nil {
			return err
		}
		app.Log = log
		return nil
	}
	if cmd.Name() == "tui" {
		app.Log = zap.NewNop()
		return nil
	}
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	app.Log = zap.New(zapcore.NewCore(enc, zapcore.AddSync(cmd.ErrOrStderr()), level))
	return nil
}

func envOr(env map[string]string, k, d string) string {
	if v := env[k]; v != "" {
		return v
	}
	if env == nil {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return d
}

func writeOut(cmd *cobra.Command, app *App, v any) error {
	return format.Write(cmd.OutOrStdout(), v, app.Format, app.PrettyJSON)
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
	return err
}
