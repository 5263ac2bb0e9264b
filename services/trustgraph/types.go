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
	"github.com/AleutianAI/trustgraph/services/trustgraph/graphsync"
	"github.com/AleutianAI/trustgraph/services/trustgraph/identity"
	"github.com/AleutianAI/trustgraph/services/trustgraph/query"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`
}

// DistanceResponse answers a distance query for one target.
type DistanceResponse struct {
	Target    identity.Identity   `json:"target"`
	Connected bool                `json:"connected"`
	Hops      int                 `json:"hops"`
	Paths     int64               `json:"paths"`
	Bridges   []identity.Identity `json:"bridges"`
	Mutual    bool                `json:"mutual"`
	Score     float64             `json:"score"`
}

// NewDistanceResponse flattens a query result. A nil result is reported as
// not connected with hops -1.
func NewDistanceResponse(target identity.Identity, res *query.Result, score float64) DistanceResponse {
	if res == nil {
		return DistanceResponse{Target: target, Hops: -1, Bridges: []identity.Identity{}}
	}
	bridges := res.Bridges
	if bridges == nil {
		bridges = []identity.Identity{}
	}
	return DistanceResponse{
		Target:    target,
		Connected: true,
		Hops:      res.Hops,
		Paths:     res.Paths,
		Bridges:   bridges,
		Mutual:    res.Mutual,
		Score:     score,
	}
}

// BatchDistanceRequest is the body of POST /distance/batch.
type BatchDistanceRequest struct {
	Targets []string `json:"targets" binding:"required,min=1,max=1000"`
	MaxHops int      `json:"max_hops"`
}

// BatchDistanceResponse lists results in request order, de-duplicated.
type BatchDistanceResponse struct {
	Results []DistanceResponse `json:"results"`
}

// FollowsResponse lists an identity's stored follows.
type FollowsResponse struct {
	Identity identity.Identity   `json:"identity"`
	Found    bool                `json:"found"`
	Follows  []identity.Identity `json:"follows"`
}

// CommonResponse lists identities followed by both the root and target.
type CommonResponse struct {
	Target identity.Identity   `json:"target"`
	Common []identity.Identity `json:"common"`
}

// SyncRequest is the optional body of POST /sync.
type SyncRequest struct {
	Depth     int `json:"depth"`
	TimeoutMS int `json:"timeout_ms"`
}

// SyncResponse reports a finished sync.
type SyncResponse struct {
	Summary graphsync.Summary `json:"summary"`
	Nodes   int               `json:"nodes"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
