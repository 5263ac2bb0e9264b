// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/trustgraph/services/trustgraph/storage"
	"github.com/AleutianAI/trustgraph/services/trustgraph/storage/storagetest"
)

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Adapter {
		s, err := Open(InMemoryConfig())
		require.NoError(t, err)
		return s
	})
}

// TestStore_Persistence verifies data survives a close and reopen.
func TestStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "follows:abc", []byte(`{"state":"empty"}`)))
	require.NoError(t, s.Close())

	s2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s2.Close()

	v, found, err := s2.Get(ctx, "follows:abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte(`{"state":"empty"}`), v)
	assert.Equal(t, dir, s2.Path())
}

// TestStore_NamespaceIsolation verifies Clear and Keys only touch the
// store's own namespace.
func TestStore_NamespaceIsolation(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultConfig(dir)
	cfg.Namespace = "alice"
	a, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Set(ctx, "meta:sync", []byte("a")))
	require.NoError(t, a.Close())

	cfg.Namespace = "bob"
	b, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, b.Set(ctx, "meta:sync", []byte("b")))

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"meta:sync"}, keys)

	require.NoError(t, b.Clear(ctx))
	require.NoError(t, b.Close())

	cfg.Namespace = "alice"
	a, err = Open(cfg)
	require.NoError(t, err)
	defer a.Close()

	v, found, err := a.Get(ctx, "meta:sync")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("a"), v)
}

// TestOpen_RequiresPath verifies that persistent mode requires a path.
func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Contains(t, err.Error(), "path is required")
}

func TestConfigFunctions(t *testing.T) {
	t.Run("DefaultConfig has SyncWrites", func(t *testing.T) {
		cfg := DefaultConfig("/tmp/x")
		assert.True(t, cfg.SyncWrites)
		assert.False(t, cfg.InMemory)
		assert.Equal(t, DefaultNamespace, cfg.Namespace)
		assert.Equal(t, 5*time.Minute, cfg.GCInterval)
	})

	t.Run("InMemoryConfig disables GC", func(t *testing.T) {
		cfg := InMemoryConfig()
		assert.True(t, cfg.InMemory)
		assert.Equal(t, time.Duration(0), cfg.GCInterval)
	})
}

// TestStore_GCRunner verifies the GC loop starts and stops cleanly.
func TestStore_GCRunner(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.GCInterval = 10 * time.Millisecond
	cfg.SyncWrites = false

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NotNil(t, s.gc)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
