// Package store persists per-provider endpoint state as key/value pairs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stream-resolver-go/pkg/logging"

	_ "modernc.org/sqlite"
)

// Well-known keys written by the endpoint resolver.
const (
	KeyCachedBaseURL     = "cachedBaseUrl"
	KeyCachedLogoURL     = "cachedLogoUrl"
	KeyAutoUpdateEnabled = "autoUpdateEnabled"
)

const schema = `
CREATE TABLE IF NOT EXISTS endpoint_state (
	provider   TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (provider, key)
)`

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	db  *sql.DB
	log *logging.Logger
}

// OpenSQLite opens (and creates if needed) the database at path. Read faults
// are logged to log and reported as unset values.
func OpenSQLite(path string, log *logging.Logger) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	// One writer at a time; SQLite serializes anyway.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLite{db: db, log: log.WithComponent("store")}, nil
}

// Get returns the stored value for provider/key.
func (s *SQLite) Get(provider, key string) (string, bool) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM endpoint_state WHERE provider = ? AND key = ?`,
		provider, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		s.log.WithError(err).Warn("reading endpoint state failed", "provider", provider, "key", key)
		return "", false
	}
	return value, true
}

// Set upserts the value for provider/key.
func (s *SQLite) Set(provider, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO endpoint_state (provider, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (provider, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		provider, key, value, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", provider, key, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s.db == nil {
		return errors.New("store not open")
	}
	return s.db.Close()
}

// Memory is an in-process Store, used when no store path is configured and in tests.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]string)}
}

func (m *Memory) Get(provider, key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[provider][key]
	return v, ok
}

func (m *Memory) Set(provider, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[provider] == nil {
		m.data[provider] = make(map[string]string)
	}
	m.data[provider][key] = value
	return nil
}

func (m *Memory) Close() error { return nil }
