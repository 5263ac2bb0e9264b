// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/trustgraph/services/trustgraph/identity"
)

func newTestPool(t *testing.T, urls ...string) *Pool {
	t.Helper()
	p, err := NewPool(urls, WithConnectionOptions(WithRateLimit(0), WithDialTimeout(2*time.Second)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNewPool_Validation(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := NewPool(nil)
		assert.ErrorIs(t, err, identity.ErrValidation)
	})

	t.Run("bad scheme", func(t *testing.T) {
		_, err := NewPool([]string{"https://relay.example"})
		assert.ErrorIs(t, err, identity.ErrValidation)
	})

	t.Run("duplicates collapse", func(t *testing.T) {
		p, err := NewPool([]string{"wss://relay.example", "wss://relay.example"})
		require.NoError(t, err)
		assert.Equal(t, []string{"wss://relay.example"}, p.URLs())
	})
}

// TestPool_MergesNewest verifies the newest attestation wins across relays.
func TestPool_MergesNewest(t *testing.T) {
	r1 := newFakeRelay(t, modeEOSE)
	r2 := newFakeRelay(t, modeEOSE)
	r1.store(followEvent(keyA, 100, "old", keyB))
	r2.store(followEvent(keyA, 200, "new", keyC))
	r2.store(followEvent(keyB, 50, "b", keyA))

	p := newTestPool(t, r1.URL(), r2.URL())
	require.NoError(t, p.Connect(context.Background()))
	assert.Equal(t, 2, p.Connected())

	res, err := p.FetchFollowLists(context.Background(), []identity.Identity{keyA, keyB, keyD}, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, res.Answered)
	assert.Equal(t, 2, res.Responded)
	require.Len(t, res.Attestations, 2)
	assert.Equal(t, "new", res.Attestations[keyA].ID)
	assert.Equal(t, []identity.Identity{keyC}, res.Attestations[keyA].Follows)
	assert.Equal(t, "b", res.Attestations[keyB].ID)
}

// TestPool_IsolatesFailures verifies a dead relay does not fail the pool.
func TestPool_IsolatesFailures(t *testing.T) {
	live := newFakeRelay(t, modeEOSE)
	live.store(followEvent(keyA, 1, "a", keyB))
	dead := newFakeRelay(t, modeEOSE)
	deadURL := dead.URL()
	dead.srv.Close()

	p := newTestPool(t, deadURL, live.URL())
	require.NoError(t, p.Connect(context.Background()))
	assert.Equal(t, 1, p.Connected())

	res, err := p.FetchFollowLists(context.Background(), []identity.Identity{keyA}, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, res.Answered)
	assert.Equal(t, 1, res.Responded)
	assert.Contains(t, res.Attestations, keyA)
}

// TestPool_SilentRelaysNotAnswered verifies timeouts leave Answered false.
func TestPool_SilentRelaysNotAnswered(t *testing.T) {
	r := newFakeRelay(t, modeSilent)
	p := newTestPool(t, r.URL())
	require.NoError(t, p.Connect(context.Background()))

	res, err := p.FetchFollowLists(context.Background(), []identity.Identity{keyA}, 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, res.Answered)
	assert.Equal(t, 1, res.Responded)
	assert.Empty(t, res.Attestations)
}

// TestPool_SkipsDisconnectedRelays verifies a relay that is down is not
// redialled by every batch.
func TestPool_SkipsDisconnectedRelays(t *testing.T) {
	up := newFakeRelay(t, modeEOSE)
	up.store(followEvent(keyA, 1, "a", keyB))
	down := newFakeRelay(t, modeEOSE)

	p := newTestPool(t, up.URL(), down.URL())
	require.NoError(t, p.Connect(context.Background()))
	require.Equal(t, 2, p.Connected())
	require.NoError(t, p.conns[1].Close())

	for i := 0; i < 3; i++ {
		res, err := p.FetchFollowLists(context.Background(), []identity.Identity{keyA}, 2*time.Second)
		require.NoError(t, err)
		assert.True(t, res.Answered)
		assert.Equal(t, 1, res.Responded)
	}
	assert.Equal(t, 1, down.acceptCount())
	assert.Zero(t, down.reqCount())
	assert.Equal(t, 3, up.reqCount())

	require.NoError(t, p.Connect(context.Background()))
	assert.Equal(t, 2, p.Connected())
	assert.Eventually(t, func() bool { return down.acceptCount() == 2 }, time.Second, 10*time.Millisecond)
}

func TestPool_AllUnavailable(t *testing.T) {
	r1 := newFakeRelay(t, modeEOSE)
	r2 := newFakeRelay(t, modeEOSE)
	u1, u2 := r1.URL(), r2.URL()
	r1.srv.Close()
	r2.srv.Close()

	p := newTestPool(t, u1, u2)
	err := p.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllSourcesUnavailable)
	assert.ErrorIs(t, err, ErrSourceUnavailable)

	res, err := p.FetchFollowLists(context.Background(), []identity.Identity{keyA}, time.Second)
	require.NoError(t, err)
	assert.False(t, res.Answered)
	assert.Zero(t, res.Responded)
}

func TestPool_EmptyRequest(t *testing.T) {
	p := newTestPool(t, "ws://127.0.0.1:1")
	_, err := p.FetchFollowLists(context.Background(), nil, time.Second)
	assert.ErrorIs(t, err, identity.ErrValidation)
}
