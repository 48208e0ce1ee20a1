package workspace

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

	_ "modernc.org/sqlite"
)

const (
	KeyWatchlist  = "watchlist"
	KeyStrategies = "strategies"
)

// WatchEntry is one persisted watch list row.
type WatchEntry struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

// Store persists workspace rows as JSON documents keyed by name in a local
// sqlite file. The rows are opaque to the store.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("workspace: path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("workspace: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("workspace: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	const schema = `CREATE TABLE IF NOT EXISTS workspace (
		key        TEXT PRIMARY KEY,
		rows       TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("workspace: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save replaces the rows stored under key.
func (s *Store) Save(ctx context.Context, key string, rows any) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("workspace: encode %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workspace (key, rows, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET rows = excluded.rows, updated_at = excluded.updated_at`,
		key, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("workspace: save %s: %w", key, err)
	}
	return nil
}

// Load decodes the rows stored under key into out. found is false when
// nothing was saved yet.
func (s *Store) Load(ctx context.Context, key string, out any) (found bool, err error) {
	var data string
	err = s.db.QueryRowContext(ctx, `SELECT rows FROM workspace WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("workspace: load %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, fmt.Errorf("workspace: decode %s: %w", key, err)
	}
	return true, nil
}
