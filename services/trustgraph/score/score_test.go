// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package score

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/trustgraph/services/trustgraph/query"
)

func TestScore(t *testing.T) {
	w := DefaultWeights()

	tests := []struct {
		name   string
		hops   int
		paths  int64
		mutual bool
		want   float64
	}{
		{"direct follow", 1, 1, false, 0.5},
		{"two hops", 2, 1, false, 0.5 / 3},
		{"three hops", 3, 1, false, 0.25 / 4},
		{"direct mutual clamps", 1, 1, true, 1.0},
		{"two hops with paths", 2, 3, false, 0.5/3 + 0.2},
		{"path bonus capped", 3, 100, false, 0.25/4 + 0.5},
		{"single path mutual", 2, 1, true, 0.5/3 + 0.5},
		{"beyond configured keys", 6, 1, false, 0.1 / 7},
		{"self", 0, 1, false, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.hops, tt.paths, tt.mutual, w), 1e-9)
		})
	}
}

func TestScore_Bounds(t *testing.T) {
	w := DefaultWeights()
	for hops := 0; hops <= 10; hops++ {
		for _, paths := range []int64{1, 2, 10, math.MaxInt64} {
			for _, mutual := range []bool{false, true} {
				s := Score(hops, paths, mutual, w)
				assert.GreaterOrEqual(t, s, 0.0)
				assert.LessOrEqual(t, s, 1.0)
			}
		}
	}

	t.Run("negative weights clamp to zero", func(t *testing.T) {
		neg := Weights{DistanceWeights: map[int]float64{1: -5}}
		assert.Equal(t, 0.0, Score(1, 1, false, neg))
	})

	t.Run("NaN clamps to zero", func(t *testing.T) {
		nan := Weights{DistanceWeights: map[int]float64{1: math.NaN()}}
		assert.Equal(t, 0.0, Score(1, 1, false, nan))
	})

	t.Run("huge bonus clamps to one", func(t *testing.T) {
		big := Weights{DistanceWeights: map[int]float64{1: 1}, MutualBonus: 10}
		assert.Equal(t, 1.0, Score(1, 1, true, big))
	})
}

func TestDistanceWeight(t *testing.T) {
	weights := map[int]float64{2: 0.5, 4: 0.1}

	assert.Equal(t, 0.5, DistanceWeight(2, weights))
	assert.Equal(t, 0.5, DistanceWeight(3, weights), "gap uses largest key below")
	assert.Equal(t, 0.1, DistanceWeight(9, weights), "past every key uses most distant")
	assert.Equal(t, 0.5, DistanceWeight(1, weights), "below every key uses smallest")
	assert.Equal(t, 0.0, DistanceWeight(1, nil))
}

func TestScoreResult(t *testing.T) {
	w := DefaultWeights()
	assert.Equal(t, 0.0, ScoreResult(nil, w))

	res := &query.Result{Hops: 2, Paths: 2, Mutual: false}
	assert.InDelta(t, 0.5/3+0.1, ScoreResult(res, w), 1e-9)
}
