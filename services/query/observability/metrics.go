// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for query execution.
//
// # Description
//
// Metrics cover the full query path: counts and latency per outcome, retry
// counts by trigger, and the page/row volume the paginated fetcher moves per
// query.
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for query execution metrics
const querySubsystem = "b1query"

// QueryMetrics holds all Prometheus metrics for query execution.
//
// Initialize once at startup via InitMetrics(); promauto panics on duplicate
// registration.
type QueryMetrics struct {
	// QueriesTotal counts executed queries.
	// Labels: resource (Orders, Invoices, ...), outcome (success, auth,
	// invalid_filter, malformed, cancelled, upstream)
	QueriesTotal *prometheus.CounterVec

	// RetriesTotal counts scoped retries by trigger.
	// Labels: reason (auth, invalid_filter)
	RetriesTotal *prometheus.CounterVec

	// QueryDurationSeconds measures end-to-end query latency.
	// Labels: outcome
	QueryDurationSeconds *prometheus.HistogramVec

	// PagesPerQuery measures how many upstream pages one query consumed.
	PagesPerQuery prometheus.Histogram

	// RowsPerQuery measures how many rows one query returned before
	// post-filtering.
	RowsPerQuery prometheus.Histogram

	// SessionLoginsTotal counts Service Layer logins.
	// Labels: trigger (cold, forced)
	SessionLoginsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of QueryMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *QueryMetrics

// InitMetrics creates and registers all query metrics on the default
// Prometheus registry. Call once at application startup.
func InitMetrics() *QueryMetrics {
	DefaultMetrics = &QueryMetrics{
		QueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "queries_total",
				Help:      "Total executed queries by resource and outcome",
			},
			[]string{"resource", "outcome"},
		),

		RetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "retries_total",
				Help:      "Total scoped query retries by trigger",
			},
			[]string{"reason"},
		),

		QueryDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "query_duration_seconds",
				Help:      "End-to-end query latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"outcome"},
		),

		PagesPerQuery: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "pages_per_query",
				Help:      "Upstream pages fetched per query",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
		),

		RowsPerQuery: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "rows_per_query",
				Help:      "Rows returned per query before local post-filtering",
				Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 50000, 100000},
			},
		),

		SessionLoginsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "session_logins_total",
				Help:      "Service Layer logins by trigger",
			},
			[]string{"trigger"},
		),
	}

	return DefaultMetrics
}

// RecordLogin records a Service Layer login. forced marks logins triggered
// by a rejected session rather than a cold cache.
func (m *QueryMetrics) RecordLogin(forced bool) {
	trigger := "cold"
	if forced {
		trigger = "forced"
	}
	m.SessionLoginsTotal.WithLabelValues(trigger).Inc()
}
