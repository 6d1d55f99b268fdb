package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"packlist/internal/keys"
	"packlist/internal/model"

	"github.com/natefinch/atomic"
)

// JSONFile keeps each snapshot in <dir>/<key>.json. The previous version is
// copied to <key>.json.bak before every write and is used when the current
// file is unreadable.
type JSONFile struct {
	dir string
	mu  sync.Mutex
}

func NewJSONFile(dir string) (*JSONFile, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("store: json dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &JSONFile{dir: filepath.Clean(dir)}, nil
}

func (f *JSONFile) path(key string) string {
	return filepath.Join(f.dir, keys.Sanitize(key)+".json")
}

func (f *JSONFile) Save(key string, doc model.BackupDoc) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	p := f.path(key)
	if prev, err := os.ReadFile(p); err == nil && len(prev) > 0 {
		_ = atomic.WriteFile(p+".bak", bytes.NewReader(prev))
	}
	return atomic.WriteFile(p, bytes.NewReader(b))
}

func (f *JSONFile) Load(key string) (model.BackupDoc, bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return model.BackupDoc{}, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	p := f.path(key)
	doc, ok, err := readBackupFile(p)
	if err == nil {
		return doc, ok, nil
	}
	// Corrupted current file: fall back to the previous version if it parses.
	if bak, ok, bakErr := readBackupFile(p + ".bak"); bakErr == nil && ok {
		return bak, true, nil
	}
	return model.BackupDoc{}, false, err
}

func (f *JSONFile) Close() error { return nil }

func readBackupFile(path string) (model.BackupDoc, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.BackupDoc{}, false, nil
		}
		return model.BackupDoc{}, false, err
	}
	var doc model.BackupDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return model.BackupDoc{}, false, err
	}
	return doc, true, nil
}
