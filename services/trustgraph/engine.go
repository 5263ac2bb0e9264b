// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trustgraph is the local trust-graph engine.
//
// An Engine owns one graph snapshot for one root identity. Sync walks the
// follow graph outward from the root through a pool of relays and
// persists what it finds; GetDistance, Score and the helpers built on
// them answer from the local snapshot without touching the network.
//
// # Consistency
//
// Queries may run while a sync is in progress. They then observe a
// partially populated snapshot and answer consistently with it.
//
// # Thread Safety
//
// All methods are safe for concurrent use. At most one Sync runs at a
// time; a concurrent Sync returns ErrSyncInProgress.
package trustgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/trustgraph/services/trustgraph/config"
	"github.com/AleutianAI/trustgraph/services/trustgraph/graphsync"
	"github.com/AleutianAI/trustgraph/services/trustgraph/identity"
	"github.com/AleutianAI/trustgraph/services/trustgraph/query"
	"github.com/AleutianAI/trustgraph/services/trustgraph/score"
	"github.com/AleutianAI/trustgraph/services/trustgraph/snapshot"
	"github.com/AleutianAI/trustgraph/services/trustgraph/source"
	"github.com/AleutianAI/trustgraph/services/trustgraph/storage"
	"github.com/AleutianAI/trustgraph/services/trustgraph/storage/badger"
	"github.com/AleutianAI/trustgraph/services/trustgraph/storage/sqlite"
)

// Source supplies follow lists to Sync. *source.Pool satisfies it.
type Source interface {
	Connect(ctx context.Context) error
	FetchFollowLists(ctx context.Context, ids []identity.Identity, timeout time.Duration) (source.Result, error)
	Close() error
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	adapter storage.Adapter
	source  Source
	logger  *slog.Logger
	reg     prometheus.Registerer
	now     func() time.Time
}

// WithAdapter injects a storage adapter. The engine does not close it.
func WithAdapter(a storage.Adapter) Option {
	return func(o *options) { o.adapter = a }
}

// WithSource injects a follow-list source in place of the relay pool.
// The engine closes it on Close.
func WithSource(s Source) Option {
	return func(o *options) { o.source = s }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegisterer registers relay metrics with reg. Without it relay
// metrics are not collected.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// WithClock overrides the wall clock used for sync metadata.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the per-request relay timeout for one Sync.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Engine is the local trust-graph engine.
type Engine struct {
	cfg     config.Config
	root    identity.Identity
	backend string
	weights score.Weights

	adapter     storage.Adapter
	ownsAdapter bool
	snap        *snapshot.Snapshot
	src         Source
	queries     *query.Engine

	logger *slog.Logger
	now    func() time.Time

	syncing   atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// New builds an Engine from cfg.
//
// Description:
//
//	Validates cfg, opens the configured storage backend unless an adapter
//	is injected, and builds the relay pool unless a source is injected.
//	No network I/O happens until Sync.
//
// Inputs:
//
//	cfg - Configuration. The root may be empty; operations that need it
//	      then return ErrNoRoot.
//	opts - Optional adapter, source, logger, registerer and clock.
//
// Outputs:
//
//	*Engine - Ready engine. Call Close when done.
//	error - ErrInvalidConfig, ErrValidation, or ErrStorageUnavailable.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var root identity.Identity
	if cfg.Root != "" {
		id, err := identity.Parse(cfg.Root)
		if err != nil {
			return nil, err
		}
		root = id
	}

	e := &Engine{
		cfg:     cfg,
		root:    root,
		weights: cfg.Weights,
		logger:  o.logger.With(slog.String("component", "trustgraph")),
		now:     o.now,
		closed:  make(chan struct{}),
	}

	if o.adapter != nil {
		e.adapter = o.adapter
		e.backend = "custom"
	} else {
		a, err := openAdapter(cfg, o.logger)
		if err != nil {
			return nil, err
		}
		e.adapter = a
		e.ownsAdapter = true
		e.backend = cfg.Storage.Backend
	}
	e.snap = snapshot.New(e.adapter)
	e.queries = query.New(e.snap)

	if o.source != nil {
		e.src = o.source
	} else {
		pool, err := newPool(cfg, o)
		if err != nil {
			if e.ownsAdapter {
				_ = e.adapter.Close()
			}
			return nil, err
		}
		e.src = pool
	}
	return e, nil
}

func openAdapter(cfg config.Config, logger *slog.Logger) (storage.Adapter, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return storage.NewMemory(), nil
	case config.BackendBadger:
		bc := badger.DefaultConfig(cfg.StoragePath())
		if cfg.Storage.Namespace != "" {
			bc.Namespace = cfg.Storage.Namespace
		}
		bc.Logger = logger
		return badger.Open(bc)
	case config.BackendSQLite:
		return sqlite.Open(cfg.StoragePath(), cfg.Storage.Namespace)
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, cfg.Storage.Backend)
	}
}

func newPool(cfg config.Config, o options) (*source.Pool, error) {
	connOpts := []source.ConnectionOption{
		source.WithLogger(o.logger),
		source.WithRateLimit(cfg.RequestsPerSecond),
	}
	if o.reg != nil {
		connOpts = append(connOpts, source.WithMetrics(source.NewMetrics(o.reg)))
	}
	return source.NewPool(cfg.Sources,
		source.WithPoolLogger(o.logger),
		source.WithConnectionOptions(connOpts...),
	)
}

// Root returns the configured root identity, or "".
func (e *Engine) Root() identity.Identity {
	return e.root
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() config.Config {
	return e.cfg
}

// Weights returns the scoring weights in use.
func (e *Engine) Weights() score.Weights {
	return e.weights
}

// Snapshot exposes the underlying graph snapshot.
func (e *Engine) Snapshot() *snapshot.Snapshot {
	return e.snap
}

// Sync populates the local graph from the root.
//
// Description:
//
//	Connects the source, then walks depth rounds breadth-first from the
//	root. Identities whose batch timed out on every relay stay unresolved
//	and are retried by the next sync. A relay that fails mid-sync is
//	absorbed; only a failure to connect to any relay is an error.
//
// Inputs:
//
//	ctx - Cancelling aborts the walk between batches and closes the
//	      source connections; the next Sync reconnects.
//	depth - Rounds to walk. Zero or negative uses the configured depth.
//	onProgress - Optional progress callback.
//	opts - Per-call options such as WithTimeout.
//
// Outputs:
//
//	graphsync.Summary - Counts for the run.
//	error - ErrNoRoot, ErrSyncInProgress, ErrClosed,
//	        ErrAllSourcesUnavailable, ErrStorageUnavailable, or ctx.Err().
func (e *Engine) Sync(ctx context.Context, depth int, onProgress graphsync.ProgressFunc, opts ...CallOption) (graphsync.Summary, error) {
	if err := e.checkOpen(); err != nil {
		return graphsync.Summary{}, err
	}
	if e.root == "" {
		return graphsync.Summary{}, ErrNoRoot
	}
	if !e.syncing.CompareAndSwap(false, true) {
		return graphsync.Summary{}, ErrSyncInProgress
	}
	defer e.syncing.Store(false)

	co := callOptions{timeout: e.cfg.Timeout}
	for _, opt := range opts {
		opt(&co)
	}
	if depth <= 0 {
		depth = e.cfg.SyncDepth
	}

	if err := e.src.Connect(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			e.dropConnections(ctxErr)
			return graphsync.Summary{}, ctxErr
		}
		return graphsync.Summary{}, fmt.Errorf("connect sources: %w", err)
	}

	syncer := graphsync.New(e.src, e.snap, graphsync.Config{
		BatchSize:        e.cfg.BatchSize,
		BatchConcurrency: e.cfg.BatchConcurrency,
		Timeout:          co.timeout,
	}, graphsync.WithLogger(e.logger), graphsync.WithClock(e.now))

	summary, err := syncer.Run(ctx, e.root, depth, onProgress)
	if ctxErr := ctx.Err(); ctxErr != nil {
		e.dropConnections(ctxErr)
	}
	return summary, err
}

// dropConnections closes the source after the caller gave up, so no
// subscription outlives the sync. The next Sync reconnects.
func (e *Engine) dropConnections(cause error) {
	if err := e.src.Close(); err != nil {
		e.logger.Warn("close sources after aborted sync",
			slog.String("cause", cause.Error()),
			slog.String("error", err.Error()),
		)
		return
	}
	e.logger.Debug("sources closed after aborted sync", slog.String("cause", cause.Error()))
}

// GetDistance measures how far target is from the root.
//
// Inputs:
//
//	ctx - For storage reads.
//	target - Identity to measure, any hex case.
//	maxHops - Search bound. Zero or negative uses the configured bound.
//
// Outputs:
//
//	*query.Result - nil when target is not within maxHops.
//	error - ErrValidation, ErrNoRoot, or ErrStorageUnavailable.
func (e *Engine) GetDistance(ctx context.Context, target string, maxHops int) (*query.Result, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if e.root == "" {
		return nil, ErrNoRoot
	}
	to, err := identity.Parse(target)
	if err != nil {
		return nil, err
	}
	return e.queries.Distance(ctx, e.root, to, e.hops(maxHops))
}

// GetDistanceBatch runs GetDistance for each target. Every target is
// validated before any query runs. Unreachable targets map to nil.
func (e *Engine) GetDistanceBatch(ctx context.Context, targets []string, maxHops int) (map[identity.Identity]*query.Result, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if e.root == "" {
		return nil, ErrNoRoot
	}
	ids, err := identity.ParseAll(targets)
	if err != nil {
		return nil, err
	}
	hops := e.hops(maxHops)
	out := make(map[identity.Identity]*query.Result, len(ids))
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		res, err := e.queries.Distance(ctx, e.root, id, hops)
		if err != nil {
			return nil, err
		}
		out[id] = res
	}
	return out, nil
}

// Score applies the configured weights to a distance result. A nil result
// scores 0.
func (e *Engine) Score(res *query.Result) float64 {
	return score.ScoreResult(res, e.weights)
}

// Trust pairs a distance result with its score.
type Trust struct {
	Target identity.Identity `json:"target"`
	Result *query.Result     `json:"result"`
	Score  float64           `json:"score"`
}

// Connected reports whether the target was reachable.
func (t Trust) Connected() bool {
	return t.Result != nil
}

// Trust measures and scores target.
func (e *Engine) Trust(ctx context.Context, target string, maxHops int) (Trust, error) {
	res, err := e.GetDistance(ctx, target, maxHops)
	if err != nil {
		return Trust{}, err
	}
	id, _ := identity.Parse(target)
	return Trust{Target: id, Result: res, Score: e.Score(res)}, nil
}

// IsTrusted reports whether target scores at least minScore.
func (e *Engine) IsTrusted(ctx context.Context, target string, maxHops int, minScore float64) (bool, error) {
	t, err := e.Trust(ctx, target, maxHops)
	if err != nil {
		return false, err
	}
	return t.Connected() && t.Score >= minScore, nil
}

// FilterTrusted returns the targets scoring at least minScore, canonical,
// de-duplicated and in input order.
func (e *Engine) FilterTrusted(ctx context.Context, targets []string, maxHops int, minScore float64) ([]identity.Identity, error) {
	results, err := e.GetDistanceBatch(ctx, targets, maxHops)
	if err != nil {
		return nil, err
	}
	seen := identity.NewSet()
	trusted := make([]identity.Identity, 0, len(results))
	for _, raw := range targets {
		id, _ := identity.Parse(raw)
		if !seen.Add(id) {
			continue
		}
		res := results[id]
		if res != nil && e.Score(res) >= minScore {
			trusted = append(trusted, id)
		}
	}
	return trusted, nil
}

// Follows returns the stored follow list of id, or of the root when id is
// empty. found is false if the identity was never fetched.
func (e *Engine) Follows(ctx context.Context, id string) (follows []identity.Identity, found bool, err error) {
	if err := e.checkOpen(); err != nil {
		return nil, false, err
	}
	who, err := e.identityOrRoot(id)
	if err != nil {
		return nil, false, err
	}
	return e.queries.Follows(ctx, who)
}

// Followers returns the stored identities that follow id.
func (e *Engine) Followers(ctx context.Context, id string) ([]identity.Identity, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	who, err := e.identityOrRoot(id)
	if err != nil {
		return nil, err
	}
	return e.queries.Followers(ctx, who)
}

// CommonFollows returns identities followed by both the root and target.
func (e *Engine) CommonFollows(ctx context.Context, target string) ([]identity.Identity, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if e.root == "" {
		return nil, ErrNoRoot
	}
	to, err := identity.Parse(target)
	if err != nil {
		return nil, err
	}
	return e.queries.CommonFollows(ctx, e.root, to)
}

// Status describes the engine and its snapshot.
type Status struct {
	Root     identity.Identity  `json:"root,omitempty"`
	Backend  string             `json:"backend"`
	Sources  []string           `json:"sources"`
	Graph    snapshot.Stats     `json:"graph"`
	LastSync *snapshot.SyncMeta `json:"last_sync,omitempty"`
	Syncing  bool               `json:"syncing"`
}

// Status reports graph statistics and the last completed sync.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	if err := e.checkOpen(); err != nil {
		return Status{}, err
	}
	stats, err := e.snap.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Root:    e.root,
		Backend: e.backend,
		Sources: e.sources(),
		Graph:   stats,
	}
	meta, ok, err := e.snap.SyncMeta(ctx)
	if err != nil {
		return Status{}, err
	}
	if ok {
		st.LastSync = &meta
	}
	st.Syncing = e.syncing.Load()
	return st, nil
}

// Clear deletes the whole snapshot, sync metadata included.
func (e *Engine) Clear(ctx context.Context) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := e.snap.Reset(ctx); err != nil {
		return err
	}
	e.logger.Info("graph cleared")
	return nil
}

// Close closes the source and, if the engine opened it, the storage
// adapter. Calling Close more than once returns the first result.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		var errs []error
		if err := e.src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close source: %w", err))
		}
		if e.ownsAdapter {
			if err := e.adapter.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close storage: %w", err))
			}
		}
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}

// sources lists relay addresses, de-duplicated when the engine built the pool.
func (e *Engine) sources() []string {
	if p, ok := e.src.(interface{ URLs() []string }); ok {
		return p.URLs()
	}
	return append([]string(nil), e.cfg.Sources...)
}

func (e *Engine) checkOpen() error {
	select {
	case <-e.closed:
		return ErrClosed
	default:
		return nil
	}
}

func (e *Engine) hops(maxHops int) int {
	if maxHops <= 0 {
		return e.cfg.MaxHops
	}
	return maxHops
}

func (e *Engine) identityOrRoot(raw string) (identity.Identity, error) {
	if raw == "" {
		if e.root == "" {
			return "", ErrNoRoot
		}
		return e.root, nil
	}
	return identity.Parse(raw)
}
