package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
)

// subscriber is a one-slot mailbox: offer overwrites the pending value and
// pump delivers whatever is latest.
type subscriber struct {
	id   uint64
	path []string
	fn   func(ctx context.Context, value json.RawMessage)

	ctx    context.Context
	cancel context.CancelFunc
	signal chan struct{}

	mu      sync.Mutex
	latest  json.RawMessage
	offered json.RawMessage
	once    sync.Once
}

func newSubscriber(id uint64, path []string, fn func(ctx context.Context, value json.RawMessage)) *subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	return &subscriber{
		id:     id,
		path:   path,
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
		signal: make(chan struct{}, 1),
	}
}

func (s *subscriber) offer(v json.RawMessage) {
	s.mu.Lock()
	if s.offered != nil && bytes.Equal(s.offered, v) {
		s.mu.Unlock()
		return
	}
	s.offered = v
	s.latest = v
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.signal:
		}
		s.mu.Lock()
		v := s.latest
		s.mu.Unlock()
		if v == nil {
			continue
		}
		s.fn(s.ctx, v)
	}
}

func (s *subscriber) stop() {
	s.once.Do(s.cancel)
}
