// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

// Package metrics provides Prometheus instrumentation for the ticket log,
// outbox replay, detection engine, and HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ticket log metrics
	TicketAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabsync_ticket_appends_total",
			Help: "Total ticket log append attempts",
		},
		[]string{"kind", "result"}, // result: ok, deduped, error
	)

	VoidOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabsync_void_operations_total",
			Help: "Total void operations applied to the ticket log",
		},
		[]string{"scope", "result"}, // scope: item, ticket
	)

	// Outbox metrics
	OutboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabsync_outbox_depth",
			Help: "Number of items pending in the local outbox",
		},
	)

	OutboxReplays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabsync_outbox_replays_total",
			Help: "Outbox replay outcomes per item",
		},
		[]string{"result"}, // result: ok, deduped, failed
	)

	OutboxSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabsync_outbox_sync_duration_seconds",
			Help:    "Duration of outbox sync cycles",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Detection metrics
	DetectionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabsync_detection_events_total",
			Help: "Events dispatched to the anti-theft detectors",
		},
		[]string{"detector", "result"}, // result: checked, alerted, error, dropped
	)

	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabsync_alerts_emitted_total",
			Help: "Manager alerts written, after cooldown gating",
		},
		[]string{"type"},
	)

	// Request workflow metrics
	RequestTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabsync_request_transitions_total",
			Help: "Add-item request status transitions",
		},
		[]string{"to"},
	)

	// HTTP metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tabsync_api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabsync_api_active_requests",
			Help: "Number of API requests currently in flight",
		},
	)

	// Circuit breaker metrics (device client)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tabsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tabsync_db_query_duration_seconds",
			Help:    "Duration of DuckDB queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// RecordAPIRequest records one completed API request.
func RecordAPIRequest(method, path, status string, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordDBQuery records one database query duration.
func RecordDBQuery(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
