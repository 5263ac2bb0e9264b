// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlite implements a durable storage.Adapter on SQLite using the
// pure-Go modernc.org/sqlite driver.
//
// Values live in a single key/value table partitioned by namespace, so one
// database file can hold several trust graphs.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AleutianAI/trustgraph/services/trustgraph/storage"
)

const driverName = "sqlite"

// DefaultNamespace is used when no namespace is given.
const DefaultNamespace = "trustgraph"

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	namespace  TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	value      BLOB    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
);
`

// Store is a storage.Adapter persisted in a SQLite file.
type Store struct {
	db        *sql.DB
	namespace string
	path      string

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the database file at path.
//
// Description:
//
//	Creates the parent directory if needed, opens the database in WAL mode
//	with a busy timeout and applies the schema. Use MemoryPath for a
//	throwaway database.
//
// Inputs:
//
//	path - Database file path, or MemoryPath.
//	namespace - Key partition. Empty selects DefaultNamespace.
//
// Outputs:
//
//	*Store - The opened adapter. Caller must call Close() when done.
//	error - Wraps storage.ErrUnavailable on failure.
//
// Thread Safety: The returned *Store is safe for concurrent use.
func Open(path, namespace string) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("%w: sqlite path must not be empty", storage.ErrUnavailable)
	}
	if strings.TrimSpace(namespace) == "" {
		namespace = DefaultNamespace
	}

	dsn := MemoryPath
	if cleanPath != MemoryPath {
		if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
			return nil, fmt.Errorf("%w: sqlite path %q is a directory", storage.ErrUnavailable, cleanPath)
		}
		dir := filepath.Dir(cleanPath)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("%w: create directory %q: %v", storage.ErrUnavailable, dir, err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cleanPath)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite %q: %v", storage.ErrUnavailable, cleanPath, err)
	}
	// A single connection serialises writers and keeps :memory: databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping sqlite %q: %v", storage.ErrUnavailable, cleanPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migrate sqlite schema: %v", storage.ErrUnavailable, err)
	}

	return &Store{db: db, namespace: namespace, path: cleanPath}, nil
}

// Path returns the database path this store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, false, err
	}
	defer s.mu.RUnlock()

	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE namespace = ? AND key = ?`,
		s.namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %q: %v", storage.ErrUnavailable, key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, s.namespace, key, value, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: set %q: %v", storage.ErrUnavailable, key, err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE namespace = ? AND key = ?`, s.namespace, key,
	); err != nil {
		return fmt.Errorf("%w: delete %q: %v", storage.ErrUnavailable, key, err)
	}
	return nil
}

// Clear removes every key in this store's namespace.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE namespace = ?`, s.namespace,
	); err != nil {
		return fmt.Errorf("%w: clear namespace: %v", storage.ErrUnavailable, err)
	}
	return nil
}

// Keys lists every key in this store's namespace.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE namespace = ? ORDER BY key`, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: list keys: %v", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("%w: scan key: %v", storage.ErrUnavailable, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list keys: %v", storage.ErrUnavailable, err)
	}
	return keys, nil
}

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close sqlite: %v", storage.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("%w: sqlite store is closed", storage.ErrUnavailable)
	}
	return nil
}

var _ storage.Adapter = (*Store)(nil)
