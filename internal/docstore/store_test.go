package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func collect(t *testing.T, s *Store, path string) <-chan string {
	t.Helper()
	ch := make(chan string, 16)
	id, err := s.Subscribe(path, func(ctx context.Context, v json.RawMessage) {
		select {
		case ch <- string(v):
		case <-ctx.Done():
		}
	})
	if err != nil {
		t.Fatalf("Subscribe(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Unsubscribe(id) })
	return ch
}

func next(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for value")
		return ""
	}
}

func TestSubscribe_DeliversCurrentValueThenChanges(t *testing.T) {
	s := openMem(t)

	ch := collect(t, s, "checklist")
	if got := next(t, ch); got != "null" {
		t.Fatalf("expected null for empty path, got %s", got)
	}

	if err := s.Set("checklist", json.RawMessage(`{"personChecked":{"Henry":{"a":true}}}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, want := next(t, ch), `{"personChecked":{"Henry":{"a":true}}}`; got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestSubscribe_AncestorSeesChildWrites(t *testing.T) {
	s := openMem(t)

	if err := s.Set("trip/items", json.RawMessage(`[1]`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ch := collect(t, s, "trip")
	if got := next(t, ch); got != `{"items":[1]}` {
		t.Fatalf("unexpected initial value %s", got)
	}
	if err := s.Set("trip/checklist", json.RawMessage(`{"x":true}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := next(t, ch); got != `{"checklist":{"x":true},"items":[1]}` {
		t.Fatalf("unexpected value after child write %s", got)
	}
}

func TestSet_RejectsIllegalKeys(t *testing.T) {
	s := openMem(t)

	err := s.Set("checklist", json.RawMessage(`{"personChecked":{"Dr. Who":{}}}`))
	var ik InvalidKeyError
	if !errors.As(err, &ik) {
		t.Fatalf("expected InvalidKeyError, got %v", err)
	}
	if ik.Key != "Dr. Who" {
		t.Fatalf("unexpected key in error: %q", ik.Key)
	}
	if _, err := s.Get("bad.path"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
	if err := s.Set("", json.RawMessage(`{}`)); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath for root write, got %v", err)
	}
}

func TestSet_NullDeletes(t *testing.T) {
	s := openMem(t)

	if err := s.Set("items", json.RawMessage(`{"shared-items":[]}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("items", json.RawMessage(`null`)); err != nil {
		t.Fatalf("Set null: %v", err)
	}
	got, err := s.Get("items")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "null" {
		t.Fatalf("expected deleted node, got %s", got)
	}
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.sqlite")

	s1, err := Open(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.Set("items/shared-items", json.RawMessage(`[{"id":"a","name":"Tarp"}]`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.Get("items")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if want := `{"shared-items":[{"id":"a","name":"Tarp"}]}`; string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestNewChildKey_StrictlyIncreasing(t *testing.T) {
	s := openMem(t)

	prev := ""
	for i := 0; i < 200; i++ {
		k, err := s.NewChildKey("items")
		if err != nil {
			t.Fatalf("NewChildKey: %v", err)
		}
		if len(k) != 20 {
			t.Fatalf("expected 20-char key, got %q", k)
		}
		if k <= prev {
			t.Fatalf("keys not increasing: %q after %q", k, prev)
		}
		prev = k
	}
}
