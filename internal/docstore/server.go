package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message is one frame of the hub websocket protocol.
//
// Client ops: sub, unsub, set, key. Server ops: value, ok, key, err.
// For sub, the request id doubles as the subscription id in later value frames.
type Message struct {
	Op    string          `json:"op"`
	ID    uint64          `json:"id,omitempty"`
	Path  string          `json:"path,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Key   string          `json:"key,omitempty"`
	Error string          `json:"error,omitempty"`
}

const (
	OpSub   = "sub"
	OpUnsub = "unsub"
	OpSet   = "set"
	OpKey   = "key"
	OpValue = "value"
	OpOK    = "ok"
	OpErr   = "err"
)

const pingInterval = 25 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		// Basic same-origin check; non-browser clients send no Origin.
		host := strings.TrimSpace(r.Host)
		return strings.Contains(origin, "://"+host)
	},
}

// Server exposes a Store over websockets.
type Server struct {
	store *Store
	log   *zap.Logger
}

func NewServer(st *Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{store: st, log: log}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Debug("hub: upgrade failed", zap.Error(err))
		return
	}
	c := &hubConn{
		conn:  conn,
		store: s.store,
		log:   s.log.With(zap.String("remote", r.RemoteAddr)),
		subs:  map[uint64]uint64{},
	}
	c.log.Debug("hub: client connected")
	c.serve(r.Context())
	c.log.Debug("hub: client disconnected")
}

type hubConn struct {
	conn  *websocket.Conn
	store *Store
	log   *zap.Logger

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[uint64]uint64 // client sub id -> store sub id
}

func (c *hubConn) send(m Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(m)
}

func (c *hubConn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.conn.Close()
	defer c.dropSubs()

	go c.pingLoop(ctx)

	for {
		var m Message
		if err := c.conn.ReadJSON(&m); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("hub: read failed", zap.Error(err))
			}
			return
		}
		reply := c.handle(m)
		if err := c.send(reply); err != nil {
			c.log.Debug("hub: write failed", zap.Error(err))
			return
		}
	}
}

func (c *hubConn) handle(m Message) Message {
	switch m.Op {
	case OpSub:
		c.mu.Lock()
		_, dup := c.subs[m.ID]
		c.mu.Unlock()
		if dup {
			return errReply(m.ID, errors.New("duplicate subscription id"))
		}
		clientID, path := m.ID, m.Path
		storeID, err := c.store.Subscribe(path, func(ctx context.Context, v json.RawMessage) {
			if ctx.Err() != nil {
				return
			}
			if err := c.send(Message{Op: OpValue, ID: clientID, Path: path, Value: v}); err != nil {
				c.log.Debug("hub: value push failed", zap.Error(err))
			}
		})
		if err != nil {
			return errReply(m.ID, err)
		}
		c.mu.Lock()
		c.subs[clientID] = storeID
		c.mu.Unlock()
		return Message{Op: OpOK, ID: m.ID}
	case OpUnsub:
		c.mu.Lock()
		storeID, ok := c.subs[m.ID]
		delete(c.subs, m.ID)
		c.mu.Unlock()
		if ok {
			c.store.Unsubscribe(storeID)
		}
		return Message{Op: OpOK, ID: m.ID}
	case OpSet:
		if err := c.store.Set(m.Path, m.Value); err != nil {
			return errReply(m.ID, err)
		}
		return Message{Op: OpOK, ID: m.ID}
	case OpKey:
		k, err := c.store.NewChildKey(m.Path)
		if err != nil {
			return errReply(m.ID, err)
		}
		return Message{Op: OpKey, ID: m.ID, Key: k}
	default:
		return errReply(m.ID, errors.New("unknown op "+m.Op))
	}
}

func (c *hubConn) dropSubs() {
	c.mu.Lock()
	subs := c.subs
	c.subs = map[uint64]uint64{}
	c.mu.Unlock()
	for _, id := range subs {
		c.store.Unsubscribe(id)
	}
}

func (c *hubConn) pingLoop(ctx context.Context) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func errReply(id uint64, err error) Message {
	return Message{Op: OpErr, ID: id, Error: err.Error()}
}
