// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the gateway.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Endpoint label values.
const (
	EndpointChat      = "chat"
	EndpointStream    = "stream"
	EndpointPair      = "pair"
	EndpointAnalytics = "analytics"
)

// Outcome label values.
const (
	OutcomeOK           = "ok"
	OutcomeBadRequest   = "bad_request"
	OutcomeUnauthorized = "unauthorized"
	OutcomeForbidden    = "forbidden"
	OutcomeRateLimited  = "rate_limited"
	OutcomeAbandoned    = "abandoned"
	OutcomeInternal     = "internal"
)

// Metrics holds all gateway Prometheus collectors.
//
// # Description
//
// One Metrics instance is created in main and shared by handlers, gates,
// and the audit sink. All collectors live under the "tutor" namespace.
//
// # Thread Safety
//
// Safe for concurrent use; Prometheus collectors are internally
// synchronized.
type Metrics struct {
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	retrievalDegraded  prometheus.Counter
	retrievalGroups    prometheus.Histogram
	generationFailures prometheus.Counter
	generationLatency  prometheus.Histogram
	activeStreams      prometheus.Gauge
	abandonedStreams   prometheus.Counter
	auditDropped       prometheus.Counter
	conversationsLive  prometheus.GaugeFunc
}

// NewMetrics registers all gateway collectors with reg.
//
// conversationCount is sampled on scrape for the live-conversations gauge.
func NewMetrics(reg prometheus.Registerer, conversationCount func() int) *Metrics {
	factory := promauto.With(reg)
	const namespace = "tutor"

	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency by endpoint.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"endpoint"}),

		retrievalDegraded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "degraded_total",
			Help:      "Retrieval attempts absorbed as empty due to backend failure.",
		}),

		retrievalGroups: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "groups_returned",
			Help:      "Passage groups returned per retrieval attempt.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),

		generationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "failures_total",
			Help:      "Completions folded into the fallback reply.",
		}),

		generationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "latency_seconds",
			Help:      "Backend completion latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active",
			Help:      "Streaming responses currently open.",
		}),

		abandonedStreams: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "abandoned_total",
			Help:      "Streams whose client disconnected before the terminal frame.",
		}),

		auditDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "dropped_total",
			Help:      "Audit records dropped because the sink queue was full.",
		}),

		conversationsLive: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "live",
			Help:      "Conversations currently retained in memory.",
		}, func() float64 { return float64(conversationCount()) }),
	}
}

// RecordRequest records one finished request.
func (m *Metrics) RecordRequest(endpoint, outcome string, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// RecordRetrieval records one retrieval attempt.
func (m *Metrics) RecordRetrieval(groups int, degraded bool) {
	if degraded {
		m.retrievalDegraded.Inc()
		return
	}
	m.retrievalGroups.Observe(float64(groups))
}

// RecordGeneration records one completion attempt.
func (m *Metrics) RecordGeneration(elapsed time.Duration, failed bool) {
	m.generationLatency.Observe(elapsed.Seconds())
	if failed {
		m.generationFailures.Inc()
	}
}

// StreamOpened marks a streaming response as open.
func (m *Metrics) StreamOpened() { m.activeStreams.Inc() }

// StreamClosed marks a streaming response as closed. abandoned reports
// whether the client disconnected before the terminal frame.
func (m *Metrics) StreamClosed(abandoned bool) {
	m.activeStreams.Dec()
	if abandoned {
		m.abandonedStreams.Inc()
	}
}

// RecordAuditDrop counts one dropped audit record.
func (m *Metrics) RecordAuditDrop() { m.auditDropped.Inc() }
