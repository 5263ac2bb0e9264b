// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trustgraph

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/trustgraph/services/trustgraph/config"
	"github.com/AleutianAI/trustgraph/services/trustgraph/graphsync"
	"github.com/AleutianAI/trustgraph/services/trustgraph/identity"
	"github.com/AleutianAI/trustgraph/services/trustgraph/source"
	"github.com/AleutianAI/trustgraph/services/trustgraph/storage"
)

func key(n int) identity.Identity {
	return identity.MustParse(fmt.Sprintf("%064x", n))
}

var (
	root = key(1)
	keyA = key(2)
	keyB = key(3)
	keyT = key(4)
	keyZ = key(99)
)

// testGraph: root follows A and B, A follows T and B, B follows T.
func testGraph() map[identity.Identity][]identity.Identity {
	return map[identity.Identity][]identity.Identity{
		root: {keyA, keyB},
		keyA: {keyT, keyB},
		keyB: {keyT},
	}
}

// fakeSource serves a fixed graph and records calls.
type fakeSource struct {
	mu         sync.Mutex
	graph      map[identity.Identity][]identity.Identity
	connectErr error
	timeouts   []time.Duration
	closes     int

	// block, when set, holds every fetch until it is closed.
	block   chan struct{}
	started chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{graph: testGraph()}
}

func (f *fakeSource) Connect(context.Context) error {
	return f.connectErr
}

func (f *fakeSource) FetchFollowLists(ctx context.Context, ids []identity.Identity, timeout time.Duration) (source.Result, error) {
	f.mu.Lock()
	f.timeouts = append(f.timeouts, timeout)
	block, started := f.block, f.started
	f.mu.Unlock()

	if block != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-block:
		case <-ctx.Done():
			return source.Result{}, ctx.Err()
		}
	}

	res := source.Result{Attestations: map[identity.Identity]source.Attestation{}, Answered: true, Responded: 1}
	for _, id := range ids {
		if follows, ok := f.graph[id]; ok {
			res.Attestations[id] = source.Attestation{
				ID:        "ev-" + string(id),
				Author:    id,
				CreatedAt: 1700000000,
				Follows:   follows,
			}
		}
	}
	return res, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Root = string(root)
	cfg.Storage = config.StorageConfig{Backend: config.BackendMemory}
	return cfg
}

func newTestEngine(t *testing.T, src Source, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithSource(src)}, opts...)
	e, err := New(testConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func syncedEngine(t *testing.T) *Engine {
	t.Helper()
	e := newTestEngine(t, newFakeSource())
	_, err := e.Sync(context.Background(), 2, nil)
	require.NoError(t, err)
	return e
}

// TestEngine_Scenario covers root -> {A, B} -> T after a depth-2 sync.
func TestEngine_Scenario(t *testing.T) {
	e := newTestEngine(t, newFakeSource())
	ctx := context.Background()

	var reports []graphsync.Progress
	summary, err := e.Sync(ctx, 2, func(p graphsync.Progress) { reports = append(reports, p) })
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Known)
	assert.Equal(t, 2, summary.Rounds)
	assert.NotEmpty(t, reports)

	res, err := e.GetDistance(ctx, string(keyT), 2)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Hops)
	assert.Equal(t, int64(2), res.Paths)
	assert.Equal(t, []identity.Identity{keyA, keyB}, res.Bridges)
	assert.False(t, res.Mutual)

	self, err := e.GetDistance(ctx, string(root), 0)
	require.NoError(t, err)
	require.NotNil(t, self)
	assert.Equal(t, 0, self.Hops)
	assert.Equal(t, int64(1), self.Paths)

	unknown, err := e.GetDistance(ctx, string(keyZ), 0)
	require.NoError(t, err)
	assert.Nil(t, unknown)

	tooFar, err := e.GetDistance(ctx, string(keyT), 1)
	require.NoError(t, err)
	assert.Nil(t, tooFar)
}

func TestEngine_GetDistance_CanonicalizesInput(t *testing.T) {
	e := syncedEngine(t)
	upper := "0000000000000000000000000000000000000000000000000000000000000002"
	res, err := e.GetDistance(context.Background(), "  "+upper+" ", 0)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Hops)
}

func TestEngine_Validation(t *testing.T) {
	e := syncedEngine(t)
	ctx := context.Background()

	_, err := e.GetDistance(ctx, "not-a-key", 2)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.GetDistanceBatch(ctx, nil, 2)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.GetDistanceBatch(ctx, []string{string(keyA), "bad"}, 2)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.CommonFollows(ctx, "bad")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEngine_NoRoot(t *testing.T) {
	cfg := testConfig()
	cfg.Root = ""
	e, err := New(cfg, WithSource(newFakeSource()))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Sync(context.Background(), 1, nil)
	assert.ErrorIs(t, err, ErrNoRoot)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.GetDistance(context.Background(), string(keyA), 1)
	assert.ErrorIs(t, err, ErrNoRoot)

	_, _, err = e.Follows(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoRoot)
}

func TestEngine_Sync_Defaults(t *testing.T) {
	src := newFakeSource()
	cfg := testConfig()
	cfg.SyncDepth = 1
	cfg.Timeout = 7 * time.Second
	e, err := New(cfg, WithSource(src))
	require.NoError(t, err)
	defer e.Close()

	summary, err := e.Sync(context.Background(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Depth)
	assert.Equal(t, 1, summary.Known)
	assert.Equal(t, []time.Duration{7 * time.Second}, src.timeouts)
}

func TestEngine_Sync_WithTimeout(t *testing.T) {
	src := newFakeSource()
	e := newTestEngine(t, src)

	_, err := e.Sync(context.Background(), 1, nil, WithTimeout(250*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, src.timeouts)
}

func TestEngine_Sync_ConnectFailure(t *testing.T) {
	src := newFakeSource()
	src.connectErr = fmt.Errorf("%w: every relay refused", source.ErrAllSourcesUnavailable)
	e := newTestEngine(t, src)

	_, err := e.Sync(context.Background(), 2, nil)
	assert.ErrorIs(t, err, ErrAllSourcesUnavailable)
}

func TestEngine_Sync_Idempotent(t *testing.T) {
	adapter := storage.NewMemory()
	e := newTestEngine(t, newFakeSource(), WithAdapter(adapter),
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }))
	ctx := context.Background()

	_, err := e.Sync(ctx, 2, nil)
	require.NoError(t, err)
	first := dump(t, adapter)

	_, err = e.Sync(ctx, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, first, dump(t, adapter))
}

func dump(t *testing.T, a storage.Adapter) map[string]string {
	t.Helper()
	ctx := context.Background()
	keys, err := a.Keys(ctx)
	require.NoError(t, err)
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, _, err := a.Get(ctx, k)
		require.NoError(t, err)
		out[k] = string(v)
	}
	return out
}

func TestEngine_Sync_InProgress(t *testing.T) {
	src := newFakeSource()
	src.block = make(chan struct{})
	src.started = make(chan struct{}, 1)
	e := newTestEngine(t, src)

	done := make(chan error, 1)
	go func() {
		_, err := e.Sync(context.Background(), 1, nil)
		done <- err
	}()

	select {
	case <-src.started:
	case <-time.After(5 * time.Second):
		t.Fatal("sync never reached the source")
	}

	_, err := e.Sync(context.Background(), 1, nil)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	st, err := e.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Syncing)

	close(src.block)
	require.NoError(t, <-done)
}

func TestEngine_Sync_CancelClosesSource(t *testing.T) {
	src := newFakeSource()
	src.block = make(chan struct{})
	src.started = make(chan struct{}, 1)
	e := newTestEngine(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.Sync(ctx, 1, nil)
		done <- err
	}()

	select {
	case <-src.started:
	case <-time.After(5 * time.Second):
		t.Fatal("sync never reached the source")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	src.mu.Lock()
	closes := src.closes
	src.mu.Unlock()
	assert.Equal(t, 1, closes)

	close(src.block)
	_, err := e.Sync(context.Background(), 1, nil)
	require.NoError(t, err)
	src.mu.Lock()
	assert.Equal(t, 1, src.closes)
	src.mu.Unlock()
}

func TestEngine_StatusDoesNotBlockSync(t *testing.T) {
	e := newTestEngine(t, newFakeSource())
	ctx := context.Background()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, err := e.Status(ctx)
				assert.NoError(t, err)
			}
		}()
	}

	for i := 0; i < 50; i++ {
		_, err := e.Sync(ctx, 1, nil)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	st, err := e.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Syncing)
}

func TestEngine_TrustHelpers(t *testing.T) {
	e := syncedEngine(t)
	ctx := context.Background()

	direct, err := e.Trust(ctx, string(keyA), 0)
	require.NoError(t, err)
	assert.True(t, direct.Connected())
	assert.InDelta(t, 0.5, direct.Score, 1e-9)

	far, err := e.Trust(ctx, string(keyT), 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.5/3+0.1, far.Score, 1e-9)

	none, err := e.Trust(ctx, string(keyZ), 0)
	require.NoError(t, err)
	assert.False(t, none.Connected())
	assert.Zero(t, none.Score)

	ok, err := e.IsTrusted(ctx, string(keyA), 0, 0.4)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.IsTrusted(ctx, string(keyT), 0, 0.4)
	require.NoError(t, err)
	assert.False(t, ok)

	trusted, err := e.FilterTrusted(ctx, []string{string(keyT), string(keyB), string(keyZ), string(keyB)}, 0, 0.2)
	require.NoError(t, err)
	assert.Equal(t, []identity.Identity{keyT, keyB}, trusted)
}

func TestEngine_Batch(t *testing.T) {
	e := syncedEngine(t)
	results, err := e.GetDistanceBatch(context.Background(), []string{string(keyA), string(keyT), string(keyZ), string(keyA)}, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[keyA].Hops)
	assert.Equal(t, 2, results[keyT].Hops)
	assert.Nil(t, results[keyZ])
}

func TestEngine_FollowsAndCommon(t *testing.T) {
	e := syncedEngine(t)
	ctx := context.Background()

	follows, found, err := e.Follows(ctx, "")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []identity.Identity{keyA, keyB}, follows)

	_, found, err = e.Follows(ctx, string(keyT))
	require.NoError(t, err)
	assert.False(t, found)

	followers, err := e.Followers(ctx, string(keyB))
	require.NoError(t, err)
	assert.Equal(t, []identity.Identity{root, keyA}, followers)

	common, err := e.CommonFollows(ctx, string(keyA))
	require.NoError(t, err)
	assert.Equal(t, []identity.Identity{keyB}, common)
}

func TestEngine_StatusAndClear(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(t, newFakeSource(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	st, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, root, st.Root)
	assert.Equal(t, config.BackendMemory, st.Backend)
	assert.Nil(t, st.LastSync)

	_, err = e.Sync(ctx, 2, nil)
	require.NoError(t, err)

	st, err = e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Graph.Nodes)
	assert.Equal(t, 5, st.Graph.Edges)
	require.NotNil(t, st.LastSync)
	assert.Equal(t, 2, st.LastSync.Depth)
	assert.True(t, now.Equal(st.LastSync.CompletedAt))
	assert.False(t, st.Syncing)

	require.NoError(t, e.Clear(ctx))
	st, err = e.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Graph.Nodes)
	assert.Nil(t, st.LastSync)

	res, err := e.GetDistance(ctx, string(keyA), 0)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestEngine_Close(t *testing.T) {
	src := newFakeSource()
	adapter := storage.NewMemory()
	e, err := New(testConfig(), WithSource(src), WithAdapter(adapter))
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.Equal(t, 1, src.closes)

	_, err = e.GetDistance(context.Background(), string(keyA), 1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = e.Sync(context.Background(), 1, nil)
	assert.ErrorIs(t, err, ErrClosed)

	// Injected adapters stay open.
	require.NoError(t, adapter.Set(context.Background(), "k", []byte("v")))
}

func TestNew_Backends(t *testing.T) {
	for _, backend := range []string{config.BackendBadger, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig()
			cfg.Storage = config.StorageConfig{
				Backend: backend,
				Path:    filepath.Join(t.TempDir(), "graph"),
			}
			e, err := New(cfg, WithSource(newFakeSource()))
			require.NoError(t, err)

			_, err = e.Sync(context.Background(), 2, nil)
			require.NoError(t, err)
			require.NoError(t, e.Close())

			reopened, err := New(cfg, WithSource(newFakeSource()))
			require.NoError(t, err)
			defer reopened.Close()
			res, err := reopened.GetDistance(context.Background(), string(keyT), 2)
			require.NoError(t, err)
			require.NotNil(t, res)
			assert.Equal(t, int64(2), res.Paths)
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Sources = nil
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig()
	cfg.Root = "zz"
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNew_BuildsRelayPool(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)
	defer e.Close()
	pool, ok := e.src.(*source.Pool)
	require.True(t, ok)
	assert.Equal(t, testConfig().Sources, pool.URLs())

	cfg := testConfig()
	cfg.Sources = []string{"wss://relay.one", "wss://relay.two", "wss://relay.one"}
	dup, err := New(cfg)
	require.NoError(t, err)
	defer dup.Close()
	st, err := dup.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://relay.one", "wss://relay.two"}, st.Sources)
}
