// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability exposes the Prometheus metrics of the pulse
// pipeline. All metrics register on the default registry and are served
// from the /metrics endpoint.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline stage names used as the "stage" label value.
const (
	StageAudit     = "audit"
	StageTelemetry = "telemetry"
	StageInsight   = "insight"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_sessions_started_total",
		Help: "Analysis sessions started",
	})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pulse_stage_duration_seconds",
		Help:    "Wall time of one pipeline stage",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"stage"})

	stageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_stage_failures_total",
		Help: "Pipeline stage failures",
	}, []string{"stage"})

	activeStages = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pulse_active_stages",
		Help: "Pipeline stages currently in flight",
	}, []string{"stage"})

	telemetryEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_telemetry_events_total",
		Help: "HTTP span events accepted by the telemetry endpoint",
	})

	insightDocs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_insight_documents_ingested_total",
		Help: "Documents upserted into the vector store",
	})

	alertsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_alerts_sent_total",
		Help: "Alert webhook notifications fired",
	})
)

// SessionStarted records one new analysis session.
func SessionStarted() {
	sessionsStarted.Inc()
}

// StageStarted marks a stage in flight and returns the completion
// callback. Usage:
//
//	done := observability.StageStarted(observability.StageAudit)
//	defer func() { done(err == nil) }()
func StageStarted(stage string) func(success bool) {
	activeStages.WithLabelValues(stage).Inc()
	start := time.Now()
	return func(success bool) {
		activeStages.WithLabelValues(stage).Dec()
		stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
		if !success {
			stageFailures.WithLabelValues(stage).Inc()
		}
	}
}

// TelemetryEventsAccepted counts accepted span events.
func TelemetryEventsAccepted(n int) {
	telemetryEvents.Add(float64(n))
}

// InsightDocsIngested counts vector-store upserts.
func InsightDocsIngested(n int) {
	insightDocs.Add(float64(n))
}

// AlertSent counts one webhook notification.
func AlertSent() {
	alertsSent.Inc()
}
