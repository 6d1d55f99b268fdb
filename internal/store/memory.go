package store

import (
	"encoding/json"
	"sync"

	"packlist/internal/model"
)

// Memory is a process-local Backup, used for tests and --backend memory.
type Memory struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{docs: map[string][]byte{}}
}

func (m *Memory) Save(key string, doc model.BackupDoc) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[key] = b
	m.mu.Unlock()
	return nil
}

func (m *Memory) Load(key string) (model.BackupDoc, bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return model.BackupDoc{}, false, err
	}
	m.mu.Lock()
	b, ok := m.docs[key]
	m.mu.Unlock()
	if !ok {
		return model.BackupDoc{}, false, nil
	}
	var doc model.BackupDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return model.BackupDoc{}, false, err
	}
	return doc, true, nil
}

func (m *Memory) Close() error { return nil }
