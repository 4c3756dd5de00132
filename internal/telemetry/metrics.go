/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry carries the Prometheus metrics and OpenTelemetry tracing
// for the ad server.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP surface
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_ads_api_requests_total",
		Help: "HTTP requests by method, endpoint, and status code.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grimnir_ads_api_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_ads_api_active_connections",
		Help: "In-flight HTTP requests.",
	})

	// Decision engine
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_ads_decisions_total",
		Help: "Placement decisions by placement and outcome (served or the no-ad reason).",
	}, []string{"placement", "outcome"})

	QueueLoadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grimnir_ads_queue_loads_total",
		Help: "Audio queue loads.",
	})

	// Tracking
	ImpressionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_ads_impressions_total",
		Help: "Tracked impressions by placement.",
	}, []string{"placement"})

	ViewableImpressionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_ads_viewable_impressions_total",
		Help: "Impressions that crossed the viewability bar, by placement.",
	}, []string{"placement"})

	ClicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grimnir_ads_clicks_total",
		Help: "Tracked clicks.",
	})

	SuspiciousClicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grimnir_ads_suspicious_clicks_total",
		Help: "Clicks whose fraud risk score crossed the review threshold.",
	})

	// Playback sequencing
	AdPlaybackEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_ads_playback_events_total",
		Help: "Audio ad playback lifecycle events (start, complete, skip, error).",
	}, []string{"event"})

	// Event stream
	EventStreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_ads_event_stream_clients",
		Help: "Connected ad event websocket clients.",
	})

	// Database
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grimnir_ads_db_query_duration_seconds",
		Help:    "Database operation latency by operation and table.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_ads_db_errors_total",
		Help: "Database errors by operation.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_ads_db_connections_active",
		Help: "Open database connections.",
	})

	// Leader election
	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grimnir_ads_leader_election_status",
		Help: "Whether this instance currently holds the leadership lease (1 = leader).",
	}, []string{"instance_id"})

	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_ads_leader_election_changes_total",
		Help: "Leadership transitions by instance and direction.",
	}, []string{"instance_id", "change"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// MetricsMiddleware instruments HTTP requests with counters and latency,
// labeled by the chi route pattern when one matched.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		APIActiveConnections.Inc()
		defer APIActiveConnections.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		endpoint := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		status := strconv.Itoa(wrapped.statusCode)

		APIRequestDuration.WithLabelValues(r.Method, endpoint, status).Observe(time.Since(start).Seconds())
		APIRequestsTotal.WithLabelValues(r.Method, endpoint, status).Inc()
	})
}
