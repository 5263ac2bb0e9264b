// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storagetest provides a conformance suite for storage.Adapter
// implementations.
package storagetest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/trustgraph/services/trustgraph/storage"
)

// Factory opens a fresh, empty adapter for one subtest.
type Factory func(t *testing.T) storage.Adapter

// Run exercises the full Adapter contract against adapters built by open.
func Run(t *testing.T, open Factory) {
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		a := open(t)
		defer a.Close()

		v, found, err := a.Get(ctx, "follows:missing")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, v)
	})

	t.Run("set then get", func(t *testing.T) {
		a := open(t)
		defer a.Close()

		require.NoError(t, a.Set(ctx, "meta:sync", []byte(`{"depth":2}`)))
		v, found, err := a.Get(ctx, "meta:sync")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte(`{"depth":2}`), v)
	})

	t.Run("overwrite", func(t *testing.T) {
		a := open(t)
		defer a.Close()

		require.NoError(t, a.Set(ctx, "k", []byte("one")))
		require.NoError(t, a.Set(ctx, "k", []byte("two")))
		v, _, err := a.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), v)
	})

	t.Run("empty value is present", func(t *testing.T) {
		a := open(t)
		defer a.Close()

		require.NoError(t, a.Set(ctx, "k", []byte{}))
		_, found, err := a.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("returned value is a copy", func(t *testing.T) {
		a := open(t)
		defer a.Close()

		in := []byte("abc")
		require.NoError(t, a.Set(ctx, "k", in))
		in[0] = 'X'
		v, _, err := a.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), v)
	})

	t.Run("delete", func(t *testing.T) {
		a := open(t)
		defer a.Close()

		require.NoError(t, a.Set(ctx, "k", []byte("v")))
		require.NoError(t, a.Delete(ctx, "k"))
		_, found, err := a.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, found)

		// Deleting again is not an error
		require.NoError(t, a.Delete(ctx, "k"))
	})

	t.Run("keys and clear", func(t *testing.T) {
		a := open(t)
		defer a.Close()

		for _, k := range []string{"follows:a", "follows:b", "meta:sync"} {
			require.NoError(t, a.Set(ctx, k, []byte("x")))
		}
		keys, err := a.Keys(ctx)
		require.NoError(t, err)
		sort.Strings(keys)
		assert.Equal(t, []string{"follows:a", "follows:b", "meta:sync"}, keys)

		require.NoError(t, a.Clear(ctx))
		keys, err = a.Keys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		a := open(t)
		defer a.Close()

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := string(rune('a' + i))
				assert.NoError(t, a.Set(ctx, key, []byte(key)))
			}(i)
		}
		wg.Wait()

		keys, err := a.Keys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, 16)
	})

	t.Run("closed adapter is unavailable", func(t *testing.T) {
		a := open(t)
		require.NoError(t, a.Close())

		err := a.Set(ctx, "k", []byte("v"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, storage.ErrUnavailable), "got %v", err)

		_, _, err = a.Get(ctx, "k")
		assert.ErrorIs(t, err, storage.ErrUnavailable)
	})

	t.Run("cancelled context is unavailable", func(t *testing.T) {
		a := open(t)
		defer a.Close()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := a.Set(cctx, "k", []byte("v"))
		assert.ErrorIs(t, err, storage.ErrUnavailable)
	})
}
