package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"packlist/internal/docstore"
	"packlist/internal/reconcile"
	"packlist/internal/remote"
	"packlist/internal/store"

	"go.uber.org/zap"
)

// hubFileName is the docstore file a hosting process keeps in the data dir.
const hubFileName = "hub.db"

// readyTimeout bounds how long one-shot commands wait for the initial load.
const readyTimeout = 15 * time.Second

// stack is everything a command needs around one Session.
type stack struct {
	session *reconcile.Session
	backup  store.Backup
	adapter remote.Adapter
	// hub is set when this process hosts the docstore.
	hub *docstore.Store
	log *zap.Logger

	cancel context.CancelFunc
	runErr chan error
}

// openStack wires backup, remote and session from app.Cfg. With hostHub
// and no configured remote, the hub lives in this process. Otherwise an
// empty remote means offline.
func openStack(ctx context.Context, app *App, hostHub bool) (*stack, error) {
	cfg := app.Cfg
	log := app.Log
	dataDir, err := cfg.ResolveDataDir(app.env)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}

	backup, err := store.Open(cfg.Backend, dataDir)
	if err != nil {
		return nil, err
	}
	rt := &stack{backup: backup, log: log}

	var offline error
	switch {
	case cfg.Remote != "":
		retry := remote.Retry{Attempts: cfg.ConnectAttempts, Backoff: cfg.ConnectBackoff()}
		a, err := remote.Connect(ctx, remote.Dialer(cfg.Remote, log), retry, log)
		if err != nil {
			log.Warn("running offline", zap.String("remote", cfg.Remote), zap.Error(err))
			offline = err
		} else {
			rt.adapter = a
		}
	case hostHub:
		hub, err := docstore.Open(filepath.Join(dataDir, hubFileName), log)
		if err != nil {
			_ = backup.Close()
			return nil, fmt.Errorf("open hub: %w", err)
		}
		rt.hub = hub
		rt.adapter = remote.NewLocal(hub)
	default:
		offline = errors.New("no remote configured")
	}

	r := reconcile.New(reconcile.Options{Roster: cfg.Roster, Catalog: cfg.Catalog()})
	rt.session = reconcile.NewSession(r, reconcile.SessionOptions{
		Remote:        rt.adapter,
		OfflineReason: offline,
		Backup:        backup,
		AppKey:        cfg.AppKey,
		Debounce:      cfg.Debounce(),
		Log:           log,
	})
	return rt, nil
}

// start runs the session loop in the background and waits for the initial
// load.
func (rt *stack) start(ctx context.Context) error {
	ctx, rt.cancel = context.WithCancel(ctx)
	rt.runErr = make(chan error, 1)
	go func() { rt.runErr <- rt.session.Run(ctx) }()

	select {
	case <-rt.session.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(readyTimeout):
		return errors.New("timed out waiting for the initial checklist load")
	}
}

// Close stops the session, which flushes pending writes, then releases the
// remote, the hub and the backup in that order.
func (rt *stack) Close() error {
	var errs []error
	if rt.cancel != nil {
		rt.cancel()
		if err := <-rt.runErr; err != nil {
			errs = append(errs, err)
		}
	}
	if rt.adapter != nil {
		errs = append(errs, rt.adapter.Close())
	}
	if rt.hub != nil {
		errs = append(errs, rt.hub.Close())
	}
	errs = append(errs, rt.backup.Close())
	return errors.Join(errs...)
}

// withSession runs fn against a started session and closes it afterwards.
// One-shot commands use it; fn should flush what it changed.
func withSession(ctx context.Context, app *App, fn func(ctx context.Context, s *reconcile.Session) error) error {
	rt, err := openStack(ctx, app, false)
	if err != nil {
		return err
	}
	if err := rt.start(ctx); err != nil {
		_ = rt.Close()
		return err
	}
	fnErr := fn(ctx, rt.session)
	return errors.Join(fnErr, rt.Close())
}
