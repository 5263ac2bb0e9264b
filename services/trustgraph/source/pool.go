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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/trustgraph/pkg/validation"
	"github.com/AleutianAI/trustgraph/services/trustgraph/identity"
)

// Result is the merged answer of every relay in a Pool.
type Result struct {
	// Attestations holds the newest attestation per author across relays.
	Attestations map[identity.Identity]Attestation

	// Answered is true if at least one relay completed its subscription.
	// Authors missing from Attestations are only known to be empty when
	// Answered is true.
	Answered bool

	// Responded counts relays that returned without error.
	Responded int
}

// PoolOption configures a Pool.
type PoolOption func(*poolConfig)

type poolConfig struct {
	logger   *slog.Logger
	connOpts []ConnectionOption
}

// WithPoolLogger sets the pool logger; connections inherit it.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(c *poolConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConnectionOptions applies opts to every connection in the pool.
func WithConnectionOptions(opts ...ConnectionOption) PoolOption {
	return func(c *poolConfig) {
		c.connOpts = append(c.connOpts, opts...)
	}
}

// Pool fans requests out to a fixed set of relays.
//
// Thread Safety: safe for concurrent use.
type Pool struct {
	conns  []*Connection
	logger *slog.Logger
}

// NewPool creates an unconnected pool.
//
// Description:
//
//	Validates every URL (ws or wss scheme with a host) and drops duplicates.
//
// Inputs:
//
//	urls - Relay addresses. Must not be empty.
//	opts - Pool options.
//
// Outputs:
//
//	*Pool - The pool. Call Connect before fetching, Close when done.
//	error - Wraps identity.ErrValidation for an empty or invalid list.
func NewPool(urls []string, opts ...PoolOption) (*Pool, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: at least one source url is required", identity.ErrValidation)
	}
	cfg := poolConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	seen := make(map[string]struct{}, len(urls))
	p := &Pool{logger: cfg.logger}
	for _, u := range urls {
		if err := validation.ValidateRelayURL(u); err != nil {
			return nil, fmt.Errorf("%w: %v", identity.ErrValidation, err)
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		connOpts := append([]ConnectionOption{WithLogger(cfg.logger)}, cfg.connOpts...)
		p.conns = append(p.conns, NewConnection(u, connOpts...))
	}
	return p, nil
}

// URLs returns the relay addresses in configuration order.
func (p *Pool) URLs() []string {
	out := make([]string, len(p.conns))
	for i, c := range p.conns {
		out[i] = c.URL()
	}
	return out
}

// Connected returns the number of open connections.
func (p *Pool) Connected() int {
	n := 0
	for _, c := range p.conns {
		if c.IsConnected() {
			n++
		}
	}
	return n
}

// Connect opens every relay in parallel.
//
// Outputs:
//
//	error - nil if at least one relay connected. Otherwise wraps
//	        ErrAllSourcesUnavailable joined with each relay's error.
func (p *Pool) Connect(ctx context.Context) error {
	errs := make([]error, len(p.conns))
	var wg sync.WaitGroup
	for i, c := range p.conns {
		wg.Add(1)
		go func(i int, c *Connection) {
			defer wg.Done()
			errs[i] = c.Connect(ctx)
		}(i, c)
	}
	wg.Wait()

	connected := 0
	for i, err := range errs {
		if err == nil {
			connected++
			continue
		}
		p.logger.Warn("source connect failed",
			slog.String("source", p.conns[i].URL()),
			slog.String("error", err.Error()),
		)
	}
	if connected == 0 {
		return fmt.Errorf("%w: %w", ErrAllSourcesUnavailable, errors.Join(errs...))
	}
	p.logger.Debug("sources connected", slog.Int("connected", connected), slog.Int("total", len(p.conns)))
	return nil
}

// FetchFollowLists asks every relay for the follow lists of ids and merges
// the answers.
//
// Description:
//
//	Connected relays are queried concurrently. A relay that is not
//	connected is skipped rather than redialled; the next Connect retries
//	it. A relay that errors is logged and contributes nothing; it never
//	fails the call. Cancelling ctx returns whatever was merged plus
//	ctx.Err().
//
// Inputs:
//
//	ctx - Cancels every in-flight subscription.
//	ids - Authors to request. Must not be empty.
//	timeout - Per-relay wait bound.
//
// Outputs:
//
//	Result - Merged attestations and completion info.
//	error - identity.ErrValidation for empty ids, or ctx.Err().
func (p *Pool) FetchFollowLists(ctx context.Context, ids []identity.Identity, timeout time.Duration) (Result, error) {
	if len(ids) == 0 {
		return Result{}, fmt.Errorf("%w: no identities requested", identity.ErrValidation)
	}

	conns := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		if c.IsConnected() {
			conns = append(conns, c)
		}
	}
	batches := make([]Batch, len(conns))
	ok := make([]bool, len(conns))

	// Goroutines never return errors so one relay cannot cancel the others.
	var g errgroup.Group
	for i, c := range conns {
		i, c := i, c
		g.Go(func() error {
			start := time.Now()
			b, err := c.FetchFollowLists(ctx, ids, timeout)
			batches[i] = b
			if err != nil {
				p.logger.Warn("source fetch failed",
					slog.String("source", c.URL()),
					slog.Duration("elapsed", time.Since(start)),
					slog.String("error", err.Error()),
				)
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	res := Result{}
	lists := make([][]Attestation, 0, len(batches))
	for i, b := range batches {
		lists = append(lists, b.Attestations)
		if ok[i] {
			res.Responded++
			if b.Complete {
				res.Answered = true
			}
		}
	}
	res.Attestations = Merge(lists...)
	return res, ctx.Err()
}

// Close closes every connection.
func (p *Pool) Close() error {
	var errs []error
	for _, c := range p.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
