// Package tui is the terminal client for the checklist. It renders the same
// projection as the web UI and writes through the shared session.
package tui

import (
	"context"
	"time"

	"packlist/internal/reconcile"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
)

type Options struct {
	// Person starts on that person's view; empty uses InitialFilter.
	Person        string
	InitialFilter string
	Title         string
	Notes         string
	Target        time.Time
	Log           *zap.Logger
}

// Run blocks until the user quits, ctx is cancelled or the session stops.
func Run(ctx context.Context, s *reconcile.Session, opts Options) error {
	applyColorProfilePreference()
	applyThemePreference()
	applyGlyphPreference()

	changes, unsubscribe := s.Subscribe()
	defer unsubscribe()

	m := newAppModel(ctx, s, changes, opts)
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
