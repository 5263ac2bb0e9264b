// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger implements a durable storage.Adapter on BadgerDB.
//
// All keys are written under a namespace prefix ("<namespace>/") so several
// trust graphs, e.g. one per root identity, can share a single database
// directory. Clear deletes only the adapter's own namespace.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/trustgraph/services/trustgraph/storage"
)

// DefaultNamespace is used when Config.Namespace is empty.
const DefaultNamespace = "trustgraph"

// Config holds configuration for a Badger-backed adapter.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// Namespace prefixes every key. Default: DefaultNamespace.
	Namespace string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output.
	// If nil, BadgerDB logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio that triggers a rewrite.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults for the database at path.
//
// Description:
//
//	Returns a Config with:
//	- SyncWrites enabled so a completed sync survives a crash
//	- 5-minute GC interval
//	- 50% discard ratio threshold
//
// Inputs:
//
//	path - Database directory. Created on Open if missing.
//
// Outputs:
//
//	Config - Ready-to-use production configuration
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		Namespace:      DefaultNamespace,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration for tests: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{
		Namespace: DefaultNamespace,
		InMemory:  true,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a storage.Adapter persisted in BadgerDB.
type Store struct {
	db     *badger.DB
	prefix []byte
	gc     *gcRunner
	path   string

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the database described by cfg.
//
// Description:
//
//	Opens a BadgerDB database at cfg.Path, or in memory when cfg.InMemory
//	is set, and starts periodic value log GC if configured.
//
// Inputs:
//
//	cfg - Database configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Store - The opened adapter. Caller must call Close() when done.
//	error - Wraps storage.ErrUnavailable if the database cannot be opened.
//
// Thread Safety: The returned *Store is safe for concurrent use.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("%w: badger path is required for a persistent database", storage.ErrUnavailable)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("%w: create database directory %s: %v", storage.ErrUnavailable, cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger database: %v", storage.ErrUnavailable, err)
	}

	s := &Store{
		db:     db,
		prefix: []byte(cfg.Namespace + "/"),
		path:   cfg.Path,
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		s.gc.start()
	}
	return s, nil
}

// Path returns the database directory, or "" for in-memory stores.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if value == nil {
			value = []byte{}
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(s.key(key), append([]byte(nil), value...))
	})
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(s.key(key))
	})
}

// Clear removes every key in this store's namespace.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(s.prefix); it.ValidForPrefix(s.prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: scan namespace: %v", storage.ErrUnavailable, err)
	}

	// WriteBatch splits large namespaces across transactions
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("%w: drop namespace: %v", storage.ErrUnavailable, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("%w: drop namespace: %v", storage.ErrUnavailable, err)
	}
	return nil
}

// Keys lists every key in this store's namespace, without the prefix.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(s.prefix); it.ValidForPrefix(s.prefix); it.Next() {
			k := it.Item().Key()
			keys = append(keys, string(k[len(s.prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.gc != nil {
		s.gc.stop()
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close badger database: %v", storage.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) key(k string) []byte {
	out := make([]byte, 0, len(s.prefix)+len(k))
	out = append(out, s.prefix...)
	return append(out, k...)
}

// acquire takes the read lock and fails if the store is closed or ctx is
// done. On success the caller must release s.mu.RUnlock.
func (s *Store) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("%w: badger store is closed", storage.ErrUnavailable)
	}
	return nil
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	if err := s.db.View(fn); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	if err := s.db.Update(fn); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

var _ storage.Adapter = (*Store)(nil)
