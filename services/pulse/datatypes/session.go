// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the wire and persistence types shared by the
// pulse pipeline: analysis sessions, telemetry aggregates, AI insight
// records, and the Weaviate schema used for the per-session vector
// namespace.
package datatypes

import (
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of an analysis session.
//
// Transitions only ever move forward:
//
//	pending → running → waiting_for_telemetry → completed
//	                  ↘ failed
//
// completed/failed are terminal for the audit stage. Telemetry and AI
// metrics may still be written against a completed session; they replace
// the respective field rather than appending.
type SessionStatus string

const (
	StatusPending             SessionStatus = "pending"
	StatusRunning             SessionStatus = "running"
	StatusWaitingForTelemetry SessionStatus = "waiting_for_telemetry"
	StatusCompleted           SessionStatus = "completed"
	StatusFailed              SessionStatus = "failed"
)

// Terminal reports whether the audit stage can no longer change the
// primary metrics of a session in this status.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a legal
// forward transition of the state machine.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusWaitingForTelemetry || next == StatusFailed
	case StatusWaitingForTelemetry:
		return next == StatusCompleted
	default:
		return false
	}
}

// PerformanceMetrics holds the audit-stage page performance scores.
// Scalar vitals are kept as display strings because the audit engine
// reports "N/A" for metrics it could not observe.
type PerformanceMetrics struct {
	Score float64 `json:"score"`
	LCP   string  `json:"lcp"`
	CLS   string  `json:"cls"`
	INP   string  `json:"inp"`
	TTFB  string  `json:"ttfb"`
	FCP   string  `json:"fcp"`
	SI    string  `json:"si"`
	TBT   string  `json:"tbt"`
}

// SEOMetrics holds the audit-stage SEO score and flagged issues.
type SEOMetrics struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues"`
}

// SessionMetrics is the composite metrics record of a session. The
// performance/seo halves are written exactly once by the audit stage;
// api and ai are decoupled enrichments with last-writer-wins semantics.
type SessionMetrics struct {
	Performance *PerformanceMetrics `json:"performance,omitempty"`
	SEO         *SEOMetrics         `json:"seo,omitempty"`
	API         []EndpointAggregate `json:"api,omitempty"`
	AI          []InsightRecord     `json:"ai,omitempty"`
}

// SessionArtifacts holds durable URLs to externally stored blobs.
type SessionArtifacts struct {
	AuditReportURL string `json:"audit_report_url,omitempty"`
	EndpointsURL   string `json:"endpoints_url,omitempty"`
	LLMResponseURL string `json:"llm_response_url,omitempty"`
}

// SessionError records why the audit stage failed.
type SessionError struct {
	Message string `json:"message"`
}

// Session is the unit of work: one analysis run of one target URL.
type Session struct {
	ID        string           `json:"id"`
	OwnerID   string           `json:"owner_id"`
	TargetURL string           `json:"target_url"`
	Status    SessionStatus    `json:"status"`
	Metrics   SessionMetrics   `json:"metrics"`
	Artifacts SessionArtifacts `json:"artifacts"`
	Error     *SessionError    `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// SessionUpdate is a partial write applied atomically by the session
// store. Nil fields are left untouched.
type SessionUpdate struct {
	Status         *SessionStatus
	Performance    *PerformanceMetrics
	SEO            *SEOMetrics
	API            []EndpointAggregate
	AI             []InsightRecord
	AuditReportURL *string
	EndpointsURL   *string
	LLMResponseURL *string
	Error          *SessionError
}

// NormalizeTargetURL prefixes https:// when the caller supplied a bare
// host. Returns "" for blank input so callers can reject it.
func NormalizeTargetURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if !strings.Contains(u, "://") {
		u = "https://" + u
	}
	return u
}
