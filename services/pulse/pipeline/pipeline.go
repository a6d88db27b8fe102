// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline orchestrates the analysis session state machine:
//
//	pending → running → waiting_for_telemetry → completed
//	                  ↘ failed
//
// The audit and insight stages run detached from the triggering HTTP
// request; callers poll the session record for progress. A failed
// insight stage never fails the session, it only logs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianPulse/services/pulse/alert"
	"github.com/AleutianAI/AleutianPulse/services/pulse/artifacts"
	"github.com/AleutianAI/AleutianPulse/services/pulse/audit"
	"github.com/AleutianAI/AleutianPulse/services/pulse/datatypes"
	"github.com/AleutianAI/AleutianPulse/services/pulse/insight"
	"github.com/AleutianAI/AleutianPulse/services/pulse/observability"
	"github.com/AleutianAI/AleutianPulse/services/pulse/store"
	"github.com/AleutianAI/AleutianPulse/services/pulse/telemetry"
)

var tracer = otel.Tracer("pulse.pipeline")

// stageTimeout bounds one detached background stage.
const stageTimeout = 10 * time.Minute

// DefaultQuestion is asked when the insight trigger does not carry its
// own question.
const DefaultQuestion = "What are the most impactful performance problems in this session and how should they be fixed?"

// InsightService is the slice of the insight store the pipeline needs.
type InsightService interface {
	IngestEndpoints(ctx context.Context, sessionID string, aggs []datatypes.EndpointAggregate) (int, error)
	IngestAudit(ctx context.Context, sessionID, targetURL string, perf *datatypes.PerformanceMetrics, seo *datatypes.SEOMetrics) (int, error)
	Ask(ctx context.Context, sessionID, question string) (insight.Answer, error)
	CompareSessions(ctx context.Context, a, b *datatypes.Session) (string, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Pipeline wires the session store, the audit engine, the insight
// service and the artifact store into the session lifecycle.
type Pipeline struct {
	store     store.SessionStore
	artifacts artifacts.Store
	engine    audit.Engine
	insights  InsightService
	alerts    alert.Sink

	// detach launches a background stage. Tests replace it to run
	// stages synchronously.
	detach func(fn func(ctx context.Context))
}

func New(sessionStore store.SessionStore, artifactStore artifacts.Store, engine audit.Engine, insights InsightService, alerts alert.Sink) *Pipeline {
	p := &Pipeline{
		store:     sessionStore,
		artifacts: artifactStore,
		engine:    engine,
		insights:  insights,
		alerts:    alerts,
	}
	p.detach = p.detachBackground
	return p
}

// detachBackground runs fn on its own goroutine with a fresh
// stage-scoped context, so the triggering HTTP request can return
// immediately and its cancellation cannot abort the stage.
func (p *Pipeline) detachBackground(fn func(ctx context.Context)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Background stage panicked", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), stageTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Start creates a session for the target URL and schedules the audit
// stage. The returned session is in running state; everything after is
// observed by polling.
func (p *Pipeline) Start(ctx context.Context, ownerID, rawURL string) (*datatypes.Session, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Start")
	defer span.End()

	targetURL := datatypes.NormalizeTargetURL(rawURL)
	if targetURL == "" {
		return nil, fmt.Errorf("%w: url is required", datatypes.ErrValidation)
	}
	span.SetAttributes(attribute.String("session.target_url", targetURL))

	session := &datatypes.Session{
		OwnerID:   ownerID,
		TargetURL: targetURL,
		Status:    datatypes.StatusPending,
	}
	id, err := p.store.Create(ctx, session)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	observability.SessionStarted()
	slog.Info("Created analysis session", "session_id", id, "target_url", targetURL)

	// pending → running happens before the handler returns so pollers
	// never see a pending session they cannot explain.
	running := datatypes.StatusRunning
	if err := p.store.Update(ctx, id, datatypes.SessionUpdate{Status: &running}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	session.Status = running

	p.detach(func(ctx context.Context) {
		p.runAuditStage(ctx, id, targetURL)
	})
	return session, nil
}

// runAuditStage drives running → waiting_for_telemetry, or → failed.
// The metric fields, the artifact URL and the transition land in one
// store update.
func (p *Pipeline) runAuditStage(ctx context.Context, sessionID, targetURL string) {
	ctx, span := tracer.Start(ctx, "Pipeline.runAuditStage")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	success := false
	done := observability.StageStarted(observability.StageAudit)
	defer func() { done(success) }()

	result, err := p.engine.Run(ctx, targetURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Audit stage failed", "session_id", sessionID, "error", err)

		failed := datatypes.StatusFailed
		if updateErr := p.store.Update(ctx, sessionID, datatypes.SessionUpdate{
			Status: &failed,
			Error:  &datatypes.SessionError{Message: err.Error()},
		}); updateErr != nil {
			slog.Error("Failed to mark session failed", "session_id", sessionID, "error", updateErr)
		}
		return
	}

	// Artifact upload is best effort; losing the raw report is not
	// worth failing a run that measured real numbers.
	var reportURL string
	if url, err := p.artifacts.PutJSON(ctx, "audits", result.RawReport); err != nil {
		slog.Warn("Failed to store audit report artifact", "session_id", sessionID, "error", err)
	} else {
		reportURL = url
	}

	waiting := datatypes.StatusWaitingForTelemetry
	update := datatypes.SessionUpdate{
		Status:      &waiting,
		Performance: result.Performance,
		SEO:         result.SEO,
	}
	if reportURL != "" {
		update.AuditReportURL = &reportURL
	}
	if err := p.store.Update(ctx, sessionID, update); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Failed to persist audit results", "session_id", sessionID, "error", err)
		return
	}

	success = true
	slog.Info("Audit stage finished", "session_id", sessionID, "performance_score", result.Performance.Score)
}

// IngestTelemetry merges a batch of HTTP span events into the session's
// endpoint aggregates. Batches are accepted while the session waits for
// telemetry and after completion; re-delivery replaces nothing, it
// accumulates.
func (p *Pipeline) IngestTelemetry(ctx context.Context, sessionID string, events []datatypes.SpanEvent) (datatypes.TelemetryAck, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.IngestTelemetry")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("event.count", len(events)),
	)

	session, err := p.store.FindByID(ctx, sessionID)
	if err != nil {
		return datatypes.TelemetryAck{}, err
	}
	if session.Status != datatypes.StatusWaitingForTelemetry && session.Status != datatypes.StatusCompleted {
		return datatypes.TelemetryAck{}, fmt.Errorf("%w: session %s is %s, not accepting telemetry",
			datatypes.ErrValidation, sessionID, session.Status)
	}

	aggregates := telemetry.Merge(session.Metrics.API, events)
	observability.TelemetryEventsAccepted(len(events))

	var artifactURL string
	if url, err := p.artifacts.PutJSON(ctx, "endpoints", aggregates); err != nil {
		slog.Warn("Failed to store endpoints artifact", "session_id", sessionID, "error", err)
	} else {
		artifactURL = url
	}

	update := datatypes.SessionUpdate{API: aggregates}
	if artifactURL != "" {
		update.EndpointsURL = &artifactURL
	}
	if err := p.store.Update(ctx, sessionID, update); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return datatypes.TelemetryAck{}, err
	}

	slog.Info("Ingested telemetry batch", "session_id", sessionID, "events", len(events), "endpoints", len(aggregates))
	return datatypes.TelemetryAck{
		Success:       true,
		EndpointCount: len(aggregates),
		ArtifactURL:   artifactURL,
	}, nil
}

// GenerateInsights validates the trigger and schedules the insight
// stage. Validation errors surface to the caller; stage errors are soft
// and only logged, the session keeps its metrics either way.
func (p *Pipeline) GenerateInsights(ctx context.Context, ownerID, sessionID, question string) error {
	ctx, span := tracer.Start(ctx, "Pipeline.GenerateInsights")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	session, err := p.ownedSession(ctx, ownerID, sessionID)
	if err != nil {
		return err
	}
	if session.Metrics.Performance == nil && len(session.Metrics.API) == 0 {
		return fmt.Errorf("%w: session %s has no metrics to analyze", datatypes.ErrMissingMetrics, sessionID)
	}
	if question == "" {
		question = DefaultQuestion
	}

	p.detach(func(ctx context.Context) {
		p.runInsightStage(ctx, session, question)
	})
	return nil
}

// runInsightStage ingests the session's documents, asks the grounded
// question, persists the findings and fires alerts. Drives
// waiting_for_telemetry → completed; re-runs against a completed
// session replace metrics.ai wholesale.
func (p *Pipeline) runInsightStage(ctx context.Context, session *datatypes.Session, question string) {
	ctx, span := tracer.Start(ctx, "Pipeline.runInsightStage")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", session.ID))

	success := false
	done := observability.StageStarted(observability.StageInsight)
	defer func() { done(success) }()

	// Ingestion is lazy: documents are (re)built from whatever metrics
	// the session has right now.
	if len(session.Metrics.API) > 0 {
		stored, err := p.insights.IngestEndpoints(ctx, session.ID, session.Metrics.API)
		if err != nil {
			slog.Error("Insight stage failed to ingest endpoints", "session_id", session.ID, "error", err)
			return
		}
		observability.InsightDocsIngested(stored)
	}
	if session.Metrics.Performance != nil {
		stored, err := p.insights.IngestAudit(ctx, session.ID, session.TargetURL, session.Metrics.Performance, session.Metrics.SEO)
		if err != nil {
			slog.Error("Insight stage failed to ingest audit doc", "session_id", session.ID, "error", err)
			return
		}
		observability.InsightDocsIngested(stored)
	}

	// Trend context from the previous completed run of the same URL.
	if previous, err := p.store.FindLatestCompletedForURL(ctx, session.OwnerID, session.TargetURL, session.ID); err != nil {
		slog.Warn("Trend lookup failed", "session_id", session.ID, "error", err)
	} else if previous != nil && previous.Metrics.Performance != nil {
		question = fmt.Sprintf("%s For context, the previous run of this URL on %s scored %.0f on performance.",
			question, previous.CreatedAt.Format("2006-01-02"), previous.Metrics.Performance.Score)
	}

	answer, err := p.insights.Ask(ctx, session.ID, question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Insight stage failed", "session_id", session.ID, "error", err)
		return
	}
	records := insight.RecordsFromSections(answer.Sections)

	var responseURL string
	if url, err := p.artifacts.PutJSON(ctx, "llm_responses", answer); err != nil {
		slog.Warn("Failed to store LLM response artifact", "session_id", session.ID, "error", err)
	} else {
		responseURL = url
	}

	update := datatypes.SessionUpdate{AI: records}
	if responseURL != "" {
		update.LLMResponseURL = &responseURL
	}
	if session.Status.CanTransition(datatypes.StatusCompleted) {
		completed := datatypes.StatusCompleted
		update.Status = &completed
	}
	if err := p.store.Update(ctx, session.ID, update); err != nil {
		slog.Error("Failed to persist insight results", "session_id", session.ID, "error", err)
		return
	}

	p.maybeAlert(ctx, session, records)
	success = true
	slog.Info("Insight stage finished", "session_id", session.ID, "findings", len(records))
}

// maybeAlert sends one alert carrying the single highest-severity
// alertable finding of the run, or nothing.
func (p *Pipeline) maybeAlert(ctx context.Context, session *datatypes.Session, records []datatypes.InsightRecord) {
	var top *datatypes.InsightRecord
	for i := range records {
		record := &records[i]
		if !record.Severity.Alertable() {
			continue
		}
		if top == nil || record.Severity.MoreSevere(top.Severity) {
			top = record
		}
	}
	if top == nil {
		return
	}
	p.alerts.Notify(ctx, session.ID, session.TargetURL, []datatypes.InsightRecord{*top})
	observability.AlertSent()
}

// Compare fetches both sessions concurrently and produces the A/B
// verdict. The winner comes from the performance scores (ties go to
// run A); the narrative is grounded through the insight service, with
// a plain score summary as fallback when the model is unavailable.
func (p *Pipeline) Compare(ctx context.Context, ownerID, idA, idB string) (datatypes.ComparisonResult, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Compare")
	defer span.End()

	var sessionA, sessionB *datatypes.Session
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sessionA, err = p.ownedSession(gctx, ownerID, idA)
		return err
	})
	g.Go(func() error {
		var err error
		sessionB, err = p.ownedSession(gctx, ownerID, idB)
		return err
	})
	if err := g.Wait(); err != nil {
		return datatypes.ComparisonResult{}, err
	}

	if sessionA.Metrics.Performance == nil || sessionB.Metrics.Performance == nil {
		return datatypes.ComparisonResult{}, fmt.Errorf("%w: both sessions need completed audits to compare",
			datatypes.ErrMissingMetrics)
	}

	scoreA := sessionA.Metrics.Performance.Score
	scoreB := sessionB.Metrics.Performance.Score
	winner := "Run A"
	if scoreB > scoreA {
		winner = "Run B"
	}

	narrative := fmt.Sprintf("%s wins: %s scored %.0f against %.0f for %s.",
		winner, sessionA.TargetURL, scoreA, scoreB, sessionB.TargetURL)
	if scoreA == scoreB {
		narrative = fmt.Sprintf("Both runs scored %.0f; Run A wins the tie.", scoreA)
	}
	if grounded, err := p.insights.CompareSessions(ctx, sessionA, sessionB); err != nil {
		slog.Warn("Grounded comparison unavailable, using score summary",
			"session_a", idA, "session_b", idB, "error", err)
	} else if grounded != "" {
		narrative = grounded
	}

	return datatypes.ComparisonResult{
		Winner:    winner,
		ScoreA:    scoreA,
		ScoreB:    scoreB,
		Narrative: narrative,
	}, nil
}

// GetSession returns the session if the owner owns it.
func (p *Pipeline) GetSession(ctx context.Context, ownerID, sessionID string) (*datatypes.Session, error) {
	return p.ownedSession(ctx, ownerID, sessionID)
}

// History lists the owner's sessions newest first.
func (p *Pipeline) History(ctx context.Context, ownerID string, limit int) ([]datatypes.Session, error) {
	return p.store.ListByOwner(ctx, ownerID, limit)
}

// Stats assembles the dashboard header numbers for one owner.
func (p *Pipeline) Stats(ctx context.Context, ownerID string) (datatypes.DashboardStats, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Stats")
	defer span.End()

	count, err := p.store.CountByOwner(ctx, ownerID)
	if err != nil {
		return datatypes.DashboardStats{}, err
	}
	averages, err := p.store.AggregateAverages(ctx, ownerID)
	if err != nil {
		return datatypes.DashboardStats{}, err
	}

	sessions, err := p.store.ListByOwner(ctx, ownerID, 0)
	if err != nil {
		return datatypes.DashboardStats{}, err
	}
	latencySum, hits := 0, 0
	for _, session := range sessions {
		for _, agg := range session.Metrics.API {
			latencySum += agg.AvgLatencyMs * agg.HitCount
			hits += agg.HitCount
		}
	}
	avgLatency := "N/A"
	if hits > 0 {
		avgLatency = fmt.Sprintf("%d ms", latencySum/hits)
	}

	return datatypes.DashboardStats{
		TotalAnalyses:  count,
		AvgPerformance: averages.AvgPerformance,
		AvgSeo:         averages.AvgSeo,
		AvgLatency:     avgLatency,
	}, nil
}

// DeleteSession removes the session record and its vector documents.
func (p *Pipeline) DeleteSession(ctx context.Context, ownerID, sessionID string) error {
	ctx, span := tracer.Start(ctx, "Pipeline.DeleteSession")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	if _, err := p.ownedSession(ctx, ownerID, sessionID); err != nil {
		return err
	}
	if err := p.insights.DeleteSession(ctx, sessionID); err != nil {
		// Orphaned vectors are filtered out by session_id anyway.
		slog.Warn("Failed to delete session documents", "session_id", sessionID, "error", err)
	}
	return p.store.Delete(ctx, sessionID)
}

// ownedSession loads a session and enforces ownership. A session owned
// by someone else reads as unauthorized, not as missing, so the caller
// can distinguish probing from typos.
func (p *Pipeline) ownedSession(ctx context.Context, ownerID, sessionID string) (*datatypes.Session, error) {
	session, err := p.store.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: session %s", datatypes.ErrUnauthorized, sessionID)
	}
	return session, nil
}
