package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"packlist/internal/model"

	_ "modernc.org/sqlite"
)

const sqliteFileName = "backup.sqlite"

// SQLite keeps snapshots in a single-table SQLite database.
type SQLite struct {
	db   *sql.DB
	path string
}

func OpenSQLite(dir string) (*SQLite, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("store: sqlite dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(filepath.Clean(dir), sqliteFileName)
	db, err := OpenSQLiteDB(context.Background(), path)
	if err != nil {
		return nil, err
	}
	stmt := `CREATE TABLE IF NOT EXISTS snapshots (
		k TEXT PRIMARY KEY,
		json TEXT NOT NULL,
		updated_at_unixms INTEGER NOT NULL
	);`
	if _, err := db.Exec(stmt); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db, path: path}, nil
}

// OpenSQLiteDB opens path with the pragmas we want for multi-process local use.
// WAL allows one writer plus many readers; busy_timeout avoids spurious
// "database is locked" errors.
func OpenSQLiteDB(ctx context.Context, path string) (*sql.DB, error) {
	// modernc.org/sqlite driver name is "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Save(key string, doc model.BackupDoc) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO snapshots(k, json, updated_at_unixms) VALUES(?, ?, ?)`,
		key, string(raw), time.Now().UTC().UnixMilli())
	return err
}

func (s *SQLite) Load(key string) (model.BackupDoc, bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return model.BackupDoc{}, false, err
	}
	var raw string
	err = s.db.QueryRow(`SELECT json FROM snapshots WHERE k = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.BackupDoc{}, false, nil
	}
	if err != nil {
		return model.BackupDoc{}, false, err
	}
	var doc model.BackupDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return model.BackupDoc{}, false, fmt.Errorf("store: snapshot %q: %w", key, err)
	}
	return doc, true, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
