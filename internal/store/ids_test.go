package store

import (
	"strings"
	"testing"
	"time"
)

func TestNewItemID_HasTimePrefixAndShortSuffix(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1751328000000)
	id, err := NewItemID(now)
	if err != nil {
		t.Fatalf("NewItemID: %v", err)
	}
	if !strings.HasPrefix(id, "item-1751328000000-") {
		t.Fatalf("expected time prefix, got %q", id)
	}
	suffix := strings.TrimPrefix(id, "item-1751328000000-")
	if got, want := len(suffix), 6; got != want {
		t.Fatalf("expected suffix len %d, got %d (%q)", want, got, suffix)
	}
}

func TestNewItemID_SameMillisecondDiffers(t *testing.T) {
	t.Parallel()

	now := time.Now()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := NewItemID(now)
		if err != nil {
			t.Fatalf("NewItemID: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
