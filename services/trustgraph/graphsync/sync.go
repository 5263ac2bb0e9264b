// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graphsync populates the local follow graph by bounded-depth
// breadth-first expansion from a root identity.
//
// # Algorithm
//
// Each round takes the current frontier, drops identities already resolved
// in this run, splits the rest into batches and fetches them concurrently.
// An identity with an attestation is persisted and its follows seed the next
// frontier. An identity without one is persisted as known-empty, but only
// when at least one source completed the batch; if every source failed or
// timed out the identity stays unresolved so a later sync retries it.
//
// Every identity is resolved at most once per run, so the walk terminates
// on any graph, cycles included.
//
// # Thread Safety
//
// An Engine may run several syncs concurrently; each Run keeps its own
// state. Concurrent runs against one snapshot interleave writes.
package graphsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/trustgraph/pkg/telemetry"
	"github.com/AleutianAI/trustgraph/services/trustgraph/identity"
	"github.com/AleutianAI/trustgraph/services/trustgraph/snapshot"
	"github.com/AleutianAI/trustgraph/services/trustgraph/source"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultBatchSize        = 100
	DefaultBatchConcurrency = 4
	DefaultTimeout          = 10 * time.Second
)

// Fetcher resolves follow lists for a batch of identities.
// *source.Pool satisfies it.
type Fetcher interface {
	FetchFollowLists(ctx context.Context, ids []identity.Identity, timeout time.Duration) (source.Result, error)
}

// Config tunes a sync run.
type Config struct {
	// BatchSize bounds the identities per request.
	BatchSize int

	// BatchConcurrency bounds the batches in flight within a round.
	BatchConcurrency int

	// Timeout bounds each batch request.
	Timeout time.Duration
}

// Progress is reported after every batch.
type Progress struct {
	// Depth is the 1-based round in progress.
	Depth int `json:"depth"`

	// TotalDepth is the configured number of rounds.
	TotalDepth int `json:"total_depth"`

	// Processed counts identities handled so far in this round.
	Processed int `json:"processed"`

	// Total is the number of identities to handle in this round.
	Total int `json:"total"`
}

// ProgressFunc receives progress reports. Calls are serialized.
type ProgressFunc func(Progress)

// Summary describes a finished run.
type Summary struct {
	Root        identity.Identity `json:"root"`
	Depth       int               `json:"depth"`
	Rounds      int               `json:"rounds"`
	Known       int               `json:"known"`
	Empty       int               `json:"empty"`
	Unresolved  int               `json:"unresolved"`
	Duration    time.Duration     `json:"duration"`
	CompletedAt time.Time         `json:"completed_at"`
}

// Nodes is the number of identities resolved by the run.
func (s Summary) Nodes() int {
	return s.Known + s.Empty
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the wall clock used for sync metadata.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine runs syncs against a snapshot.
type Engine struct {
	fetcher Fetcher
	snap    *snapshot.Snapshot
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a sync engine.
//
// Inputs:
//
//	fetcher - Source of attestations. Must not be nil.
//	snap - Destination snapshot. Must not be nil.
//	cfg - Tuning. Zero fields take the package defaults.
//	opts - Optional logger and clock.
func New(fetcher Fetcher, snap *snapshot.Snapshot, cfg Config, opts ...Option) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = DefaultBatchConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	e := &Engine{
		fetcher: fetcher,
		snap:    snap,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// run holds the state of one Run call.
type run struct {
	mu        sync.Mutex
	visited   identity.Set
	next      identity.Set
	processed int
	summary   *Summary
}

// Run walks the follow graph from root for depth rounds.
//
// Description:
//
//	Rounds run strictly in order; batches within a round run concurrently
//	up to BatchConcurrency. After the last round the sync metadata record
//	is written.
//
// Inputs:
//
//	ctx - Cancellation aborts between and during batches.
//	root - Starting identity.
//	depth - Number of rounds. Must be at least 1.
//	onProgress - Optional progress callback.
//
// Outputs:
//
//	Summary - Counts for the run. Partial when an error is returned.
//	error - identity.ErrValidation for bad input, a wrapped
//	        storage.ErrUnavailable on persistence failure, or ctx.Err().
func (e *Engine) Run(ctx context.Context, root identity.Identity, depth int, onProgress ProgressFunc) (Summary, error) {
	if root == "" {
		return Summary{}, fmt.Errorf("%w: root identity is required", identity.ErrValidation)
	}
	if depth < 1 {
		return Summary{}, fmt.Errorf("%w: sync depth must be at least 1, got %d", identity.ErrValidation, depth)
	}

	start := e.now()
	ctx, span := startSyncSpan(ctx, string(root), depth)
	defer span.End()

	logger := telemetry.LoggerWithTrace(ctx, e.logger).With(slog.String("root", root.Short()), slog.Int("depth", depth))
	logger.Info("sync started")

	summary := Summary{Root: root, Depth: depth}
	st := &run{visited: identity.NewSet(), summary: &summary}

	frontier := []identity.Identity{root}
	for round := 0; len(frontier) > 0 && round < depth; round++ {
		pending := make([]identity.Identity, 0, len(frontier))
		for _, id := range frontier {
			if !st.visited.Has(id) {
				pending = append(pending, id)
			}
		}
		if len(pending) == 0 {
			break
		}

		roundStart := time.Now()
		st.next = identity.NewSet()
		st.processed = 0
		if err := e.runRound(ctx, st, pending, round, depth, onProgress); err != nil {
			summary.Duration = e.now().Sub(start)
			telemetry.RecordError(span, err, attribute.Int("sync.round", round+1))
			recordSyncMetrics(ctx, summary.Duration, summary, false)
			logger.Warn("sync aborted", slog.Int("round", round+1), slog.String("error", err.Error()))
			return summary, err
		}
		summary.Rounds++
		recordRoundMetrics(ctx, round+1, time.Since(roundStart))

		frontier = st.next.Sorted()
		logger.Debug("sync round finished",
			slog.Int("round", round+1),
			slog.Int("resolved", len(pending)),
			slog.Int("next_frontier", len(frontier)),
		)
	}

	summary.CompletedAt = e.now()
	summary.Duration = summary.CompletedAt.Sub(start)
	meta := snapshot.SyncMeta{
		Root:        root,
		Depth:       depth,
		CompletedAt: summary.CompletedAt.UTC(),
		Nodes:       summary.Nodes(),
	}
	if err := e.snap.PutSyncMeta(ctx, meta); err != nil {
		telemetry.RecordError(span, err)
		recordSyncMetrics(ctx, summary.Duration, summary, false)
		return summary, err
	}

	span.SetAttributes(
		attribute.Int("sync.known", summary.Known),
		attribute.Int("sync.empty", summary.Empty),
		attribute.Int("sync.unresolved", summary.Unresolved),
	)
	recordSyncMetrics(ctx, summary.Duration, summary, true)
	logger.Info("sync completed",
		slog.Int("rounds", summary.Rounds),
		slog.Int("known", summary.Known),
		slog.Int("empty", summary.Empty),
		slog.Int("unresolved", summary.Unresolved),
		slog.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (e *Engine) runRound(ctx context.Context, st *run, pending []identity.Identity, round, depth int, onProgress ProgressFunc) error {
	ctx, span := startRoundSpan(ctx, round+1, len(pending))
	defer span.End()

	expand := round+1 < depth
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.BatchConcurrency)

	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.fetcher.FetchFollowLists(gctx, batch, e.cfg.Timeout)
			if err != nil {
				return fmt.Errorf("fetch batch of %d: %w", len(batch), err)
			}
			return e.applyBatch(gctx, st, batch, res, expand, Progress{
				Depth:      round + 1,
				TotalDepth: depth,
				Total:      len(pending),
			}, onProgress)
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return ctx.Err()
}

// applyBatch persists one batch and updates the run state.
func (e *Engine) applyBatch(ctx context.Context, st *run, batch []identity.Identity, res source.Result, expand bool, p Progress, onProgress ProgressFunc) error {
	var known, empty, unresolved []identity.Identity
	for _, id := range batch {
		att, ok := res.Attestations[id]
		switch {
		case ok:
			if err := e.snap.PutFollows(ctx, id, att.Follows, att.ID, att.CreatedAt); err != nil {
				return err
			}
			if len(att.Follows) == 0 {
				empty = append(empty, id)
			} else {
				known = append(known, id)
			}
		case res.Answered:
			if err := e.snap.PutKnownEmpty(ctx, id); err != nil {
				return err
			}
			empty = append(empty, id)
		default:
			unresolved = append(unresolved, id)
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	for _, id := range known {
		st.visited.Add(id)
	}
	for _, id := range empty {
		st.visited.Add(id)
	}
	if expand {
		for _, id := range known {
			for _, f := range res.Attestations[id].Follows {
				if !st.visited.Has(f) {
					st.next.Add(f)
				}
			}
		}
	}
	st.summary.Known += len(known)
	st.summary.Empty += len(empty)
	st.summary.Unresolved += len(unresolved)
	st.processed += len(batch)

	if len(unresolved) > 0 {
		telemetry.LoggerWithTrace(ctx, e.logger).Warn("batch unanswered; identities left unresolved",
			slog.Int("unresolved", len(unresolved)),
			slog.Int("responded", res.Responded),
		)
	}
	if onProgress != nil {
		p.Processed = st.processed
		onProgress(p)
	}
	return nil
}
