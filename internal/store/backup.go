// Package store is the local persistence layer: a durable same-process cache
// of the checklist snapshot, used as a fallback when the hub is unreachable
// and as a backup after every flush.
package store

import (
	"errors"
	"fmt"
	"strings"

	"packlist/internal/model"
)

// DefaultKey is the snapshot key used when none is configured.
const DefaultKey = "campingChecklist2025"

var ErrEmptyKey = errors.New("store: empty snapshot key")

// Backup persists one snapshot per key.
type Backup interface {
	Save(key string, doc model.BackupDoc) error
	// Load returns ok=false when nothing has been saved under key yet.
	Load(key string) (doc model.BackupDoc, ok bool, err error)
	Close() error
}

// Open returns the backend named kind ("sqlite" or "json") rooted at dir.
func Open(kind, dir string) (Backup, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "sqlite":
		return OpenSQLite(dir)
	case "json":
		return NewJSONFile(dir)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q (expected sqlite|json|memory)", kind)
	}
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrEmptyKey
	}
	return key, nil
}
