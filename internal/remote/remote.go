// Package remote is the client side of the realtime document hub: a narrow
// Adapter interface plus an in-process and a websocket implementation.
//
// Subscriptions deliver onto caller-owned channels so a single consumer can
// multiplex every path through one queue.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	PathItems     = "items"
	PathChecklist = "checklist"
)

var (
	// ErrUnavailable means the hub could not be reached within the retry budget.
	ErrUnavailable = errors.New("remote: unavailable")
	// ErrClosed is returned by operations on a closed adapter.
	ErrClosed = errors.New("remote: closed")
)

// Update carries the full value at Path. A JSON null means nothing is stored.
type Update struct {
	Path  string
	Value json.RawMessage
}

type Handle uint64

type Adapter interface {
	// Subscribe sends the current value at path to out immediately and again
	// after every change, until Unsubscribe or Close.
	Subscribe(ctx context.Context, path string, out chan<- Update) (Handle, error)
	Unsubscribe(h Handle) error
	// Write replaces the document at path entirely.
	Write(ctx context.Context, path string, value any) error
	NewChildKey(ctx context.Context, path string) (string, error)
	// Done is closed when the adapter loses its connection for good.
	Done() <-chan struct{}
	Close() error
}

type Retry struct {
	Attempts int
	Backoff  time.Duration
}

func DefaultRetry() Retry {
	return Retry{Attempts: 10, Backoff: time.Second}
}

// Connect calls dial until it succeeds or the retry budget is spent, sleeping
// a fixed backoff between attempts. Exhaustion returns an error wrapping
// ErrUnavailable and the last dial error.
func Connect(ctx context.Context, dial func(context.Context) (Adapter, error), r Retry, log *zap.Logger) (Adapter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if r.Attempts <= 0 {
		r.Attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= r.Attempts; attempt++ {
		a, err := dial(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info("remote: connected", zap.Int("attempt", attempt))
			}
			return a, nil
		}
		lastErr = err
		log.Warn("remote: connect failed", zap.Int("attempt", attempt), zap.Int("of", r.Attempts), zap.Error(err))
		if attempt == r.Attempts {
			break
		}
		t := time.NewTimer(r.Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		case <-t.C:
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrUnavailable, r.Attempts, lastErr)
}
