// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query answers distance, path-count, bridge and mutual-follow
// questions from the persisted follow graph. It never touches the network.
package query

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/trustgraph/pkg/telemetry"
	"github.com/AleutianAI/trustgraph/services/trustgraph/identity"
)

// Reader is the read side of the snapshot. *snapshot.Snapshot satisfies it.
type Reader interface {
	// Follows returns id's follow list; found is false if id was never fetched.
	Follows(ctx context.Context, id identity.Identity) ([]identity.Identity, bool, error)

	// Identities lists every fetched identity.
	Identities(ctx context.Context) ([]identity.Identity, error)
}

// Result answers a distance query.
type Result struct {
	// Hops is the shortest-path length.
	Hops int `json:"hops"`

	// Paths is the number of distinct shortest paths, saturating at MaxInt64.
	Paths int64 `json:"paths"`

	// Bridges lists, sorted, the identities followed directly by the source
	// that lie on at least one shortest path. Empty for Hops <= 1.
	Bridges []identity.Identity `json:"bridges"`

	// Mutual is true when the target follows the source.
	Mutual bool `json:"mutual"`
}

// Engine runs queries against a Reader.
//
// Thread Safety: safe for concurrent use; queries are read-only.
type Engine struct {
	reader Reader
}

// New creates a query engine over reader.
func New(reader Reader) *Engine {
	return &Engine{reader: reader}
}

// bfsNode tracks shortest-path bookkeeping for one discovered identity.
type bfsNode struct {
	paths   int64
	bridges identity.Set
}

// Distance finds the shortest follow path from one identity to another.
//
// Description:
//
//	Layered BFS from `from`, one hop per round, for at most maxHops rounds.
//	Identities with no persisted list or an empty one are dead ends. Each
//	discovered identity carries its shortest-path count and the set of
//	source-adjacent identities on those paths. In the first round where
//	`to` appears in a frontier identity's follows, every such frontier
//	identity contributes its count and bridge set; the walk then stops.
//
// Inputs:
//
//	ctx - Context for storage reads.
//	from - Source identity.
//	to - Target identity.
//	maxHops - Maximum path length. Must be at least 1.
//
// Outputs:
//
//	*Result - The answer, or nil if `to` is not reachable within maxHops.
//	error - identity.ErrValidation for bad input, or a wrapped storage
//	        failure.
func (e *Engine) Distance(ctx context.Context, from, to identity.Identity, maxHops int) (*Result, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: source and target identities are required", identity.ErrValidation)
	}
	if maxHops < 1 {
		return nil, fmt.Errorf("%w: max hops must be at least 1, got %d", identity.ErrValidation, maxHops)
	}

	start := time.Now()
	ctx, span := startQuerySpan(ctx, "Distance", string(to))
	defer span.End()

	res, err := e.distance(ctx, from, to, maxHops)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if res != nil {
		span.SetAttributes(
			attribute.Int("query.hops", res.Hops),
			attribute.Int64("query.paths", res.Paths),
		)
	}
	recordQueryMetrics(ctx, "distance", time.Since(start), res != nil)
	return res, nil
}

func (e *Engine) distance(ctx context.Context, from, to identity.Identity, maxHops int) (*Result, error) {
	if from == to {
		return &Result{Hops: 0, Paths: 1, Bridges: []identity.Identity{}}, nil
	}

	visited := identity.NewSet(from)
	frontier := map[identity.Identity]*bfsNode{from: {paths: 1, bridges: identity.NewSet()}}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := make(map[identity.Identity]*bfsNode)
		var (
			found   bool
			paths   int64
			bridges = identity.NewSet()
		)

		for _, u := range sortedKeys(frontier) {
			node := frontier[u]
			follows, _, err := e.reader.Follows(ctx, u)
			if err != nil {
				return nil, err
			}
			for _, v := range follows {
				if v == to {
					found = true
					paths = addSaturating(paths, node.paths)
					for b := range node.bridges {
						bridges.Add(b)
					}
					continue
				}
				if found {
					continue
				}
				if child, ok := next[v]; ok {
					child.paths = addSaturating(child.paths, node.paths)
					for b := range node.bridges {
						child.bridges.Add(b)
					}
					continue
				}
				if visited.Has(v) {
					continue
				}
				visited.Add(v)
				child := &bfsNode{paths: node.paths, bridges: identity.NewSet()}
				if hop == 1 {
					child.bridges.Add(v)
				} else {
					for b := range node.bridges {
						child.bridges.Add(b)
					}
				}
				next[v] = child
			}
		}

		if found {
			mutual, err := e.follows(ctx, to, from)
			if err != nil {
				return nil, err
			}
			return &Result{Hops: hop, Paths: paths, Bridges: bridges.Sorted(), Mutual: mutual}, nil
		}
		frontier = next
	}
	return nil, nil
}

// follows reports whether a's persisted list contains b.
func (e *Engine) follows(ctx context.Context, a, b identity.Identity) (bool, error) {
	list, _, err := e.reader.Follows(ctx, a)
	if err != nil {
		return false, err
	}
	for _, id := range list {
		if id == b {
			return true, nil
		}
	}
	return false, nil
}

// Follows returns id's persisted follow list. found is false if id was
// never fetched.
func (e *Engine) Follows(ctx context.Context, id identity.Identity) ([]identity.Identity, bool, error) {
	return e.reader.Follows(ctx, id)
}

// Followers scans the snapshot for every identity whose list contains id.
// The result is sorted.
func (e *Engine) Followers(ctx context.Context, id identity.Identity) ([]identity.Identity, error) {
	start := time.Now()
	ctx, span := startQuerySpan(ctx, "Followers", string(id))
	defer span.End()

	all, err := e.reader.Identities(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	out := []identity.Identity{}
	for _, candidate := range all {
		ok, err := e.follows(ctx, candidate, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, candidate)
		}
	}
	recordQueryMetrics(ctx, "followers", time.Since(start), len(out) > 0)
	return out, nil
}

// CommonFollows returns, sorted, the identities followed by both a and b.
func (e *Engine) CommonFollows(ctx context.Context, a, b identity.Identity) ([]identity.Identity, error) {
	la, _, err := e.reader.Follows(ctx, a)
	if err != nil {
		return nil, err
	}
	lb, _, err := e.reader.Follows(ctx, b)
	if err != nil {
		return nil, err
	}
	inA := identity.NewSet(la...)
	common := identity.NewSet()
	for _, id := range lb {
		if inA.Has(id) {
			common.Add(id)
		}
	}
	return common.Sorted(), nil
}

func sortedKeys(m map[identity.Identity]*bfsNode) []identity.Identity {
	out := make([]identity.Identity, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	identity.Sort(out)
	return out
}

func addSaturating(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
