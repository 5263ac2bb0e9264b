// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

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

const instrumentationName = "trustgraph.query"

var meter = otel.Meter(instrumentationName)

var (
	queryLatency metric.Float64Histogram
	queryTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		queryLatency, err = meter.Float64Histogram(
			"trustgraph_query_duration_seconds",
			metric.WithDescription("Duration of graph query operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queryTotal, err = meter.Int64Counter(
			"trustgraph_query_total",
			metric.WithDescription("Total graph queries by type and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordQueryMetrics(ctx context.Context, queryType string, duration time.Duration, connected bool) {
	if err := initMetrics(); err != nil {
		return
	}
	queryLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("query_type", queryType)),
	)
	queryTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("query_type", queryType),
		attribute.Bool("connected", connected),
	))
}

func startQuerySpan(ctx context.Context, queryType, target string) (context.Context, trace.Span) {
	return telemetry.StartSpan(ctx, instrumentationName, "Query."+queryType,
		trace.WithAttributes(
			attribute.String("query.type", queryType),
			attribute.String("query.target", target),
		),
	)
}
