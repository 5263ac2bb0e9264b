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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "trustgraph"
	sourceSubsystem  = "source"
)

// Request outcomes.
const (
	outcomeEOSE    = "eose"
	outcomeTimeout = "timeout"
	outcomeClosed  = "closed"
	outcomeDropped = "dropped"
	outcomeCancel  = "cancelled"
	outcomeError   = "error"
)

// Frame classes.
const (
	frameEvent        = "event"
	frameEOSE         = "eose"
	frameClosed       = "closed"
	frameNotice       = "notice"
	frameMalformed    = "malformed"
	frameUnexpected   = "unexpected"
	frameUnknownSub   = "unknown_subscription"
	frameRejected     = "rejected"
	connectSuccess    = "success"
	connectFailure    = "failure"
	disconnectReason  = "read_error"
	disconnectClosing = "closed"
)

// Metrics holds Prometheus metrics for relay traffic.
//
// # Fields
//
//   - RequestsTotal: follow-list requests by source and outcome
//   - FramesTotal: inbound frames by source and class
//   - ConnectsTotal: dial attempts by source and result
//   - DisconnectsTotal: connection teardowns by source and reason
//   - RequestDurationSeconds: time from REQ to completion
//
// # Thread Safety
//
// All operations are thread-safe. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// Labels: source, outcome (eose, timeout, closed, dropped, cancelled, error)
	RequestsTotal *prometheus.CounterVec

	// Labels: source, frame (event, eose, closed, notice, malformed, ...)
	FramesTotal *prometheus.CounterVec

	// Labels: source, result (success, failure)
	ConnectsTotal *prometheus.CounterVec

	// Labels: source, reason (read_error, closed)
	DisconnectsTotal *prometheus.CounterVec

	// Labels: source
	RequestDurationSeconds *prometheus.HistogramVec
}

// NewMetrics creates source metrics registered with reg.
//
// # Inputs
//
//   - reg: Registry to register with. Nil creates unregistered collectors.
//
// # Limitations
//
//   - Panics if the same registry is used twice (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sourceSubsystem,
				Name:      "requests_total",
				Help:      "Follow-list requests by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		FramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sourceSubsystem,
				Name:      "frames_total",
				Help:      "Inbound relay frames by source and class",
			},
			[]string{"source", "frame"},
		),
		ConnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sourceSubsystem,
				Name:      "connects_total",
				Help:      "Relay dial attempts by source and result",
			},
			[]string{"source", "result"},
		),
		DisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sourceSubsystem,
				Name:      "disconnects_total",
				Help:      "Relay connection teardowns by source and reason",
			},
			[]string{"source", "reason"},
		),
		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: sourceSubsystem,
				Name:      "request_duration_seconds",
				Help:      "Time from REQ to subscription completion in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"source"},
		),
	}
}

func (m *Metrics) request(source, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(source, outcome).Inc()
	m.RequestDurationSeconds.WithLabelValues(source).Observe(seconds)
}

func (m *Metrics) frame(source, class string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(source, class).Inc()
}

func (m *Metrics) connect(source string, ok bool) {
	if m == nil {
		return
	}
	result := connectSuccess
	if !ok {
		result = connectFailure
	}
	m.ConnectsTotal.WithLabelValues(source, result).Inc()
}

func (m *Metrics) disconnect(source, reason string) {
	if m == nil {
		return
	}
	m.DisconnectsTotal.WithLabelValues(source, reason).Inc()
}
