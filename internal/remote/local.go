package remote

import (
	"context"
	"encoding/json"
	"sync"

	"packlist/internal/docstore"
)

// Local talks to a docstore.Store in the same process.
type Local struct {
	store *docstore.Store

	mu     sync.Mutex
	subs   map[Handle]uint64
	closed bool
	done   chan struct{}
}

func NewLocal(st *docstore.Store) *Local {
	return &Local{store: st, subs: map[Handle]uint64{}, done: make(chan struct{})}
}

func (l *Local) Subscribe(ctx context.Context, path string, out chan<- Update) (Handle, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	id, err := l.store.Subscribe(path, func(subCtx context.Context, v json.RawMessage) {
		select {
		case out <- Update{Path: path, Value: v}:
		case <-subCtx.Done():
		case <-ctx.Done():
		}
	})
	if err != nil {
		return 0, err
	}
	h := Handle(id)
	l.mu.Lock()
	l.subs[h] = id
	l.mu.Unlock()
	return h, nil
}

func (l *Local) Unsubscribe(h Handle) error {
	l.mu.Lock()
	id, ok := l.subs[h]
	delete(l.subs, h)
	l.mu.Unlock()
	if ok {
		l.store.Unsubscribe(id)
	}
	return nil
}

func (l *Local) Write(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return l.store.Set(path, raw)
}

func (l *Local) NewChildKey(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return l.store.NewChildKey(path)
}

func (l *Local) Done() <-chan struct{} { return l.done }

// Close drops this adapter's subscriptions. The underlying store stays open;
// its owner closes it.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	subs := l.subs
	l.subs = map[Handle]uint64{}
	l.mu.Unlock()
	for _, id := range subs {
		l.store.Unsubscribe(id)
	}
	close(l.done)
	return nil
}
