package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"packlist/internal/docstore"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// RequestError is an error reply from the hub.
type RequestError struct {
	Op      string
	Path    string
	Message string
}

func (e RequestError) Error() string {
	return fmt.Sprintf("remote: %s %q: %s", e.Op, e.Path, e.Message)
}

type wsSub struct {
	path string
	out  chan<- Update
	ctx  context.Context
}

// WS is an Adapter over a hub websocket (see docstore.Server).
type WS struct {
	conn *websocket.Conn
	log  *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan docstore.Message
	subs    map[uint64]*wsSub
	closed  bool
	err     error

	done chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// DialWS opens a websocket to the hub at url (ws:// or wss://; http(s) is
// rewritten).
func DialWS(ctx context.Context, url string, log *zap.Logger) (*WS, error) {
	if log == nil {
		log = zap.NewNop()
	}
	url = strings.TrimSpace(url)
	switch {
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second, Proxy: http.ProxyFromEnvironment}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	w := &WS{
		conn:    conn,
		log:     log.With(zap.String("hub", url)),
		pending: map[uint64]chan docstore.Message{},
		subs:    map[uint64]*wsSub{},
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.readLoop()
	}()
	return w, nil
}

// Dialer adapts DialWS for Connect.
func Dialer(url string, log *zap.Logger) func(context.Context) (Adapter, error) {
	return func(ctx context.Context) (Adapter, error) {
		w, err := DialWS(ctx, url, log)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

func (w *WS) readLoop() {
	defer w.shutdown(errors.New("connection closed"))
	for {
		var m docstore.Message
		if err := w.conn.ReadJSON(&m); err != nil {
			w.mu.Lock()
			closed := w.closed
			w.mu.Unlock()
			if !closed {
				w.log.Warn("remote: hub connection lost", zap.Error(err))
			}
			w.shutdown(err)
			return
		}
		switch m.Op {
		case docstore.OpValue:
			w.mu.Lock()
			sub := w.subs[m.ID]
			w.mu.Unlock()
			if sub == nil {
				continue
			}
			select {
			case sub.out <- Update{Path: sub.path, Value: m.Value}:
			case <-sub.ctx.Done():
			case <-w.stop:
				return
			}
		default:
			w.mu.Lock()
			ch := w.pending[m.ID]
			delete(w.pending, m.ID)
			w.mu.Unlock()
			if ch != nil {
				ch <- m
			}
		}
	}
}

func (w *WS) shutdown(err error) {
	w.mu.Lock()
	if w.err != nil {
		w.mu.Unlock()
		return
	}
	w.err = err
	for id, ch := range w.pending {
		close(ch)
		delete(w.pending, id)
	}
	w.mu.Unlock()
	close(w.done)
}

func (w *WS) request(ctx context.Context, m docstore.Message, register func(id uint64)) (docstore.Message, error) {
	ch := make(chan docstore.Message, 1)
	w.mu.Lock()
	if w.closed || w.err != nil {
		w.mu.Unlock()
		return docstore.Message{}, ErrClosed
	}
	w.nextID++
	m.ID = w.nextID
	w.pending[m.ID] = ch
	if register != nil {
		register(m.ID)
	}
	w.mu.Unlock()

	w.writeMu.Lock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err := w.conn.WriteJSON(m)
	w.writeMu.Unlock()
	if err != nil {
		w.mu.Lock()
		delete(w.pending, m.ID)
		w.mu.Unlock()
		return docstore.Message{}, err
	}

	select {
	case <-ctx.Done():
		w.mu.Lock()
		delete(w.pending, m.ID)
		w.mu.Unlock()
		return docstore.Message{}, ctx.Err()
	case reply, ok := <-ch:
		if !ok {
			return docstore.Message{}, ErrClosed
		}
		if reply.Op == docstore.OpErr {
			return reply, RequestError{Op: m.Op, Path: m.Path, Message: reply.Error}
		}
		return reply, nil
	}
}

func (w *WS) Subscribe(ctx context.Context, path string, out chan<- Update) (Handle, error) {
	var id uint64
	// The sub must be known before the hub's first value frame can arrive.
	_, err := w.request(ctx, docstore.Message{Op: docstore.OpSub, Path: path}, func(reqID uint64) {
		id = reqID
		w.subs[reqID] = &wsSub{path: path, out: out, ctx: ctx}
	})
	if err != nil {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
		return 0, err
	}
	return Handle(id), nil
}

func (w *WS) Unsubscribe(h Handle) error {
	w.mu.Lock()
	_, ok := w.subs[uint64(h)]
	delete(w.subs, uint64(h))
	w.mu.Unlock()
	if !ok {
		return nil
	}
	// Fire and forget: the hub replies with an ok frame nobody waits for.
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return w.conn.WriteJSON(docstore.Message{Op: docstore.OpUnsub, ID: uint64(h)})
}

func (w *WS) Write(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = w.request(ctx, docstore.Message{Op: docstore.OpSet, Path: path, Value: raw}, nil)
	return err
}

func (w *WS) NewChildKey(ctx context.Context, path string) (string, error) {
	reply, err := w.request(ctx, docstore.Message{Op: docstore.OpKey, Path: path}, nil)
	if err != nil {
		return "", err
	}
	return reply.Key, nil
}

func (w *WS) Done() <-chan struct{} { return w.done }

func (w *WS) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	close(w.stop)

	w.writeMu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	w.writeMu.Unlock()
	err := w.conn.Close()
	w.wg.Wait()
	return err
}
