package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"packlist/internal/docstore"
	"packlist/internal/web"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(app *App) *cobra.Command {
	var addr string
	var hostHub bool
	var open bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the checklist web UI",
		Long: strings.TrimSpace(`
Serve the checklist as server-rendered HTML with live updates.

Without --remote the process also hosts the hub at /db; other web, TUI and
CLI clients join it with --remote ws://<addr>/db.
`),
		Example: strings.TrimSpace(`
# Host the hub and the UI on the LAN
packlist serve --addr 0.0.0.0:8787

# UI only, syncing through another hub
packlist --remote ws://camp.local:8787/db serve --addr :8788
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			listenAddr := strings.TrimSpace(addr)
			if listenAddr == "" {
				listenAddr = app.Cfg.Listen
			}
			if listenAddr == "" {
				return writeErr(cmd, errors.New("serve: missing --addr"))
			}
			if !cmd.Flags().Changed("hub") {
				hostHub = app.Cfg.Remote == ""
			}
			target, err := app.Cfg.TargetTime()
			if err != nil {
				return writeErr(cmd, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := openStack(ctx, app, hostHub)
			if err != nil {
				return writeErr(cmd, err)
			}
			// Close after the errgroup has stopped the session.
			defer func() {
				if err := rt.Close(); err != nil {
					app.Log.Warn("shutdown", zap.Error(err))
				}
			}()

			srvCfg := web.ServerConfig{
				Addr:          listenAddr,
				Title:         app.Cfg.Title,
				Notes:         app.Cfg.Notes,
				Target:        target,
				InitialFilter: app.Cfg.InitialFilter,
				Log:           app.Log,
			}
			if rt.hub != nil {
				srvCfg.Hub = docstore.NewServer(rt.hub, app.Log)
			}
			srv, err := web.NewServer(srvCfg, rt.session)
			if err != nil {
				return writeErr(cmd, err)
			}

			ln, err := net.Listen("tcp", listenAddr)
			if err != nil {
				return writeErr(cmd, err)
			}
			actualAddr := ln.Addr().String()
			url := "http://" + actualAddr + "/"

			opened := false
			openErr := ""
			if open {
				if err := openPath(url); err != nil {
					openErr = err.Error()
				} else {
					opened = true
				}
			}
			hints := []string{}
			if !opened {
				hints = append(hints, "open "+url)
			}
			if rt.hub != nil {
				hints = append(hints, "join with --remote ws://"+actualAddr+"/db")
			}
			_ = writeOut(cmd, app, map[string]any{
				"data": map[string]any{
					"addr":      actualAddr,
					"url":       url,
					"hub":       rt.hub != nil,
					"remote":    app.Cfg.Remote,
					"origin":    rt.session.Origin(),
					"opened":    opened,
					"openError": openErr,
					"startedAt": time.Now().UTC().Format(time.RFC3339Nano),
				},
				"_hints": hints,
			})
			fmt.Fprintf(cmd.ErrOrStderr(), "packlist web running at %s\n", url)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return rt.session.Run(gctx) })
			g.Go(func() error { return srv.Serve(gctx, ln) })
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return writeErr(cmd, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Bind address (host:port or :port; default from config listen)")
	cmd.Flags().BoolVar(&hostHub, "hub", true, "Host the hub at /db (default: when no --remote is set)")
	cmd.Flags().BoolVar(&open, "open", false, "Open the UI in your default browser")
	return cmd
}

func openPath(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("empty path")
	}
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", path).Run()
	case "windows":
		return exec.Command("cmd", "/c", "start", "", path).Run()
	default:
		return exec.Command("xdg-open", path).Run()
	}
}
