// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package score maps a distance result to a trust score in [0, 1].
package score

import (
	"math"
	"sort"

	"github.com/AleutianAI/trustgraph/services/trustgraph/query"
)

// Weights configures scoring.
type Weights struct {
	// DistanceWeights maps hop counts to multipliers.
	DistanceWeights map[int]float64 `json:"distance_weights" yaml:"distance_weights"`

	// MutualBonus is added when the target follows back.
	MutualBonus float64 `json:"mutual_bonus" yaml:"mutual_bonus"`

	// PathBonus is added per shortest path beyond the first.
	PathBonus float64 `json:"path_bonus" yaml:"path_bonus"`

	// MaxPathBonus caps the total path bonus.
	MaxPathBonus float64 `json:"max_path_bonus" yaml:"max_path_bonus"`
}

// DefaultWeights returns the stock weighting.
func DefaultWeights() Weights {
	return Weights{
		DistanceWeights: map[int]float64{1: 1.0, 2: 0.5, 3: 0.25, 4: 0.1},
		MutualBonus:     0.5,
		PathBonus:       0.1,
		MaxPathBonus:    0.5,
	}
}

// Score computes a trust score.
//
// Description:
//
//	score = base * distanceWeight + mutualBonus + pathBonus, clamped to
//	[0, 1], where base = 1/(hops+1). The path bonus is
//	min(PathBonus*(paths-1), MaxPathBonus) and only applies with more than
//	one path. NaN results clamp to 0.
//
// Inputs:
//
//	hops - Shortest-path length.
//	paths - Number of shortest paths.
//	mutual - Whether the target follows back.
//	w - Weight configuration.
//
// Outputs:
//
//	float64 - The score in [0, 1].
func Score(hops int, paths int64, mutual bool, w Weights) float64 {
	base := 1.0 / float64(hops+1)
	s := base * DistanceWeight(hops, w.DistanceWeights)
	if mutual {
		s += w.MutualBonus
	}
	if paths > 1 {
		s += math.Min(w.PathBonus*float64(paths-1), w.MaxPathBonus)
	}
	return clamp(s)
}

// ScoreResult scores a query result. A nil result (not connected) scores 0.
func ScoreResult(res *query.Result, w Weights) float64 {
	if res == nil {
		return 0
	}
	return Score(res.Hops, res.Paths, res.Mutual, w)
}

// DistanceWeight resolves the multiplier for hops.
//
// An exact key wins. Otherwise the largest key below hops applies, so a
// distance past every key uses the most distant configured weight. When
// hops is below every key the smallest key's weight applies. An empty map
// yields 0.
func DistanceWeight(hops int, weights map[int]float64) float64 {
	if len(weights) == 0 {
		return 0
	}
	if w, ok := weights[hops]; ok {
		return w
	}
	keys := make([]int, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	idx := sort.SearchInts(keys, hops)
	if idx == 0 {
		return weights[keys[0]]
	}
	return weights[keys[idx-1]]
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
