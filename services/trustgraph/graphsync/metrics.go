// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graphsync

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/trustgraph/pkg/telemetry"
)

const instrumentationName = "trustgraph.graphsync"

var meter = otel.Meter(instrumentationName)

var (
	syncLatency   metric.Float64Histogram
	syncTotal     metric.Int64Counter
	roundLatency  metric.Float64Histogram
	nodesResolved metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		syncLatency, err = meter.Float64Histogram(
			"trustgraph_sync_duration_seconds",
			metric.WithDescription("Duration of full graph syncs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		syncTotal, err = meter.Int64Counter(
			"trustgraph_sync_total",
			metric.WithDescription("Total number of graph syncs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		roundLatency, err = meter.Float64Histogram(
			"trustgraph_sync_round_duration_seconds",
			metric.WithDescription("Duration of one BFS round"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesResolved, err = meter.Int64Counter(
			"trustgraph_sync_nodes_total",
			metric.WithDescription("Identities resolved by sync, by state"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordSyncMetrics(ctx context.Context, duration time.Duration, s Summary, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	syncLatency.Record(ctx, duration.Seconds(), attrs)
	syncTotal.Add(ctx, 1, attrs)
	nodesResolved.Add(ctx, int64(s.Known), metric.WithAttributes(attribute.String("state", "known")))
	nodesResolved.Add(ctx, int64(s.Empty), metric.WithAttributes(attribute.String("state", "empty")))
	nodesResolved.Add(ctx, int64(s.Unresolved), metric.WithAttributes(attribute.String("state", "unresolved")))
}

func recordRoundMetrics(ctx context.Context, round int, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	roundLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Int("round", round)))
}

func startSyncSpan(ctx context.Context, root string, depth int) (context.Context, trace.Span) {
	return telemetry.StartSpan(ctx, instrumentationName, "GraphSync.Run",
		trace.WithAttributes(
			attribute.String("sync.root", root),
			attribute.Int("sync.depth", depth),
		),
	)
}

func startRoundSpan(ctx context.Context, round, frontier int) (context.Context, trace.Span) {
	return telemetry.StartSpan(ctx, instrumentationName, "GraphSync.Round",
		trace.WithAttributes(
			attribute.Int("sync.round", round),
			attribute.Int("sync.frontier", frontier),
		),
	)
}
