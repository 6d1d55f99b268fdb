// Package docstore is a small realtime hierarchical document store: a JSON
// tree addressed by slash-separated paths, where subscribers receive the full
// value at their path immediately and again after every change.
//
// Keys may not contain any of ". $ # [ ] /". Callers that want to store
// arbitrary names sanitize them first (see package keys).
package docstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"packlist/internal/keys"
	"packlist/internal/store"

	"go.uber.org/zap"
)

var (
	ErrInvalidPath = errors.New("docstore: invalid path")
	ErrClosed      = errors.New("docstore: closed")
)

// InvalidKeyError reports a key inside a written value that the store rejects.
type InvalidKeyError struct {
	Path string
	Key  string
}

func (e InvalidKeyError) Error() string {
	return fmt.Sprintf("docstore: invalid key %q at %q (keys may not contain %q)", e.Key, e.Path, keys.Disallowed)
}

type Store struct {
	log *zap.Logger
	db  *sql.DB

	mu      sync.Mutex
	root    map[string]any
	subs    map[uint64]*subscriber
	nextSub uint64
	closed  bool
	ids     pushIDGen

	wg sync.WaitGroup
}

// Open loads the tree from the SQLite file at path. An empty path keeps the
// tree in memory only.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		log:  log,
		root: map[string]any{},
		subs: map[uint64]*subscriber{},
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return s, nil
	}
	db, err := store.OpenSQLiteDB(context.Background(), path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS nodes (
		k TEXT PRIMARY KEY,
		json TEXT NOT NULL,
		updated_at_unixms INTEGER NOT NULL
	);`); err != nil {
		_ = db.Close()
		return nil, err
	}
	rows, err := db.Query(`SELECT k, json FROM nodes`)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k, raw string
		if err := rows.Scan(&k, &raw); err != nil {
			_ = db.Close()
			return nil, err
		}
		v, err := decodeValue([]byte(raw))
		if err != nil {
			log.Warn("docstore: skipping unreadable node", zap.String("key", k), zap.Error(err))
			continue
		}
		s.root[k] = v
	}
	if err := rows.Err(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.db = db
	return s, nil
}

func splitPath(path string) ([]string, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return nil, nil
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if !keys.Valid(p) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return parts, nil
}

// Get returns the JSON value at path, or "null" when nothing is stored there.
func (s *Store) Get(path string) (json.RawMessage, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return marshalValue(lookup(s.root, parts))
}

// Set replaces the document at path entirely. A null value deletes it.
func (s *Store) Set(path string, value json.RawMessage) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return fmt.Errorf("%w: cannot replace the root", ErrInvalidPath)
	}
	v, err := decodeValue(value)
	if err != nil {
		return err
	}
	if err := validateKeys(strings.Join(parts, "/"), v); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	assign(s.root, parts, v)
	if err := s.persistLocked(parts[0]); err != nil {
		return err
	}
	s.notifyLocked(parts)
	return nil
}

// Subscribe calls fn with the current value at path and again whenever it
// changes. Calls for one subscription are sequential; intermediate values may
// be skipped when fn is slower than the writers, but the latest value is always
// delivered. The ctx passed to fn is canceled on Unsubscribe.
func (s *Store) Subscribe(path string, fn func(ctx context.Context, value json.RawMessage)) (uint64, error) {
	parts, err := splitPath(path)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.nextSub++
	sub := newSubscriber(s.nextSub, parts, fn)
	s.subs[sub.id] = sub
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sub.pump()
	}()
	cur, err := marshalValue(lookup(s.root, parts))
	if err == nil {
		sub.offer(cur)
	}
	return sub.id, nil
}

func (s *Store) Unsubscribe(id uint64) {
	s.mu.Lock()
	sub := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()
	if sub != nil {
		sub.stop()
	}
}

// NewChildKey allocates a time-ordered unique key for a new child of path.
func (s *Store) NewChildKey(path string) (string, error) {
	if _, err := splitPath(path); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids.next(time.Now()), nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = map[uint64]*subscriber{}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	s.wg.Wait()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) persistLocked(top string) error {
	if s.db == nil {
		return nil
	}
	v, ok := s.root[top]
	if !ok {
		_, err := s.db.Exec(`DELETE FROM nodes WHERE k = ?`, top)
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO nodes(k, json, updated_at_unixms) VALUES(?, ?, ?)`,
		top, string(raw), time.Now().UTC().UnixMilli())
	return err
}

// notifyLocked offers fresh values to every subscriber whose path is an
// ancestor, descendant or equal of the changed path.
func (s *Store) notifyLocked(changed []string) {
	for _, sub := range s.subs {
		if !related(sub.path, changed) {
			continue
		}
		cur, err := marshalValue(lookup(s.root, sub.path))
		if err != nil {
			s.log.Warn("docstore: marshal for subscriber failed", zap.Uint64("sub", sub.id), zap.Error(err))
			continue
		}
		sub.offer(cur)
	}
}

func related(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func lookup(root map[string]any, parts []string) any {
	var cur any = root
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	return cur
}

func assign(root map[string]any, parts []string, v any) {
	m := root
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			if v == nil {
				return
			}
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	last := parts[len(parts)-1]
	if v == nil {
		delete(m, last)
		return
	}
	m[last] = v
}

func validateKeys(path string, v any) error {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if !keys.Valid(k) {
				return InvalidKeyError{Path: path, Key: k}
			}
			if err := validateKeys(path+"/"+k, child); err != nil {
				return err
			}
		}
	case []any:
		for i, child := range t {
			if err := validateKeys(fmt.Sprintf("%s/%d", path, i), child); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeValue(raw []byte) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("docstore: decode value: %w", err)
	}
	return v, nil
}

func marshalValue(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
