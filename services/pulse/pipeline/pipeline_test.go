// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPulse/services/pulse/audit"
	"github.com/AleutianAI/AleutianPulse/services/pulse/datatypes"
	"github.com/AleutianAI/AleutianPulse/services/pulse/insight"
	"github.com/AleutianAI/AleutianPulse/services/pulse/store"
)

type mockEngine struct {
	result *audit.Result
	err    error
	calls  int
}

func (m *mockEngine) Run(context.Context, string) (*audit.Result, error) {
	m.calls++
	return m.result, m.err
}

type mockArtifacts struct {
	kinds []string
	err   error
}

func (m *mockArtifacts) PutJSON(_ context.Context, kind string, _ any) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.kinds = append(m.kinds, kind)
	return fmt.Sprintf("https://artifacts.local/%s/%d.json", kind, len(m.kinds)), nil
}

type mockInsights struct {
	answer           insight.Answer
	askErr           error
	askedQuestion    string
	ingestedSessions []string
	deleted          []string

	compareNarrative string
	compareErr       error
	compared         int
}

func (m *mockInsights) IngestEndpoints(_ context.Context, sessionID string, aggs []datatypes.EndpointAggregate) (int, error) {
	m.ingestedSessions = append(m.ingestedSessions, sessionID)
	return len(aggs), nil
}

func (m *mockInsights) IngestAudit(_ context.Context, sessionID, _ string, _ *datatypes.PerformanceMetrics, _ *datatypes.SEOMetrics) (int, error) {
	m.ingestedSessions = append(m.ingestedSessions, sessionID)
	return 1, nil
}

func (m *mockInsights) Ask(_ context.Context, _, question string) (insight.Answer, error) {
	m.askedQuestion = question
	if m.askErr != nil {
		return insight.Answer{}, m.askErr
	}
	return m.answer, nil
}

func (m *mockInsights) CompareSessions(_ context.Context, _, _ *datatypes.Session) (string, error) {
	m.compared++
	return m.compareNarrative, m.compareErr
}

func (m *mockInsights) DeleteSession(_ context.Context, sessionID string) error {
	m.deleted = append(m.deleted, sessionID)
	return nil
}

type mockSink struct {
	notified int
	records  []datatypes.InsightRecord
}

func (m *mockSink) Notify(_ context.Context, _, _ string, records []datatypes.InsightRecord) {
	m.notified++
	m.records = records
}

func goodAuditResult() *audit.Result {
	return &audit.Result{
		Performance: &datatypes.PerformanceMetrics{Score: 91, LCP: "1.2 s"},
		SEO:         &datatypes.SEOMetrics{Score: 88},
		RawReport:   json.RawMessage(`{"performance":{"score":91}}`),
	}
}

func newTestPipeline(t *testing.T, engine audit.Engine, insights InsightService, sink *mockSink) (*Pipeline, store.SessionStore, *mockArtifacts) {
	t.Helper()
	db, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sessionStore := store.NewBadgerSessionStore(db)
	artifactStore := &mockArtifacts{}
	p := New(sessionStore, artifactStore, engine, insights, sink)
	// Stages run inline so tests observe their effects synchronously.
	p.detach = func(fn func(ctx context.Context)) { fn(context.Background()) }
	return p, sessionStore, artifactStore
}

func TestStart_AuditSuccess(t *testing.T) {
	engine := &mockEngine{result: goodAuditResult()}
	p, sessionStore, artifactStore := newTestPipeline(t, engine, &mockInsights{}, &mockSink{})

	session, err := p.Start(context.Background(), "owner-1", "example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", session.TargetURL)

	got, err := sessionStore.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusWaitingForTelemetry, got.Status)
	require.NotNil(t, got.Metrics.Performance)
	assert.Equal(t, 91.0, got.Metrics.Performance.Score)
	assert.NotEmpty(t, got.Artifacts.AuditReportURL)
	assert.Equal(t, []string{"audits"}, artifactStore.kinds)
	assert.Equal(t, 1, engine.calls)
}

func TestStart_BlankURLRejected(t *testing.T) {
	p, _, _ := newTestPipeline(t, &mockEngine{}, &mockInsights{}, &mockSink{})

	_, err := p.Start(context.Background(), "owner-1", "   ")
	assert.ErrorIs(t, err, datatypes.ErrValidation)
}

func TestStart_AuditFailure(t *testing.T) {
	engine := &mockEngine{err: fmt.Errorf("page unreachable")}
	p, sessionStore, _ := newTestPipeline(t, engine, &mockInsights{}, &mockSink{})

	session, err := p.Start(context.Background(), "owner-1", "https://down.example.com")
	require.NoError(t, err)

	got, err := sessionStore.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, got.Error.Message, "page unreachable")
	assert.Nil(t, got.Metrics.Performance)
}

func TestStart_ArtifactFailureIsSoft(t *testing.T) {
	engine := &mockEngine{result: goodAuditResult()}
	p, sessionStore, artifactStore := newTestPipeline(t, engine, &mockInsights{}, &mockSink{})
	artifactStore.err = fmt.Errorf("bucket offline")

	session, err := p.Start(context.Background(), "owner-1", "https://example.com")
	require.NoError(t, err)

	got, err := sessionStore.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	// The run still completes its audit without the artifact URL.
	assert.Equal(t, datatypes.StatusWaitingForTelemetry, got.Status)
	assert.Empty(t, got.Artifacts.AuditReportURL)
}

func startWaitingSession(t *testing.T, p *Pipeline) *datatypes.Session {
	t.Helper()
	session, err := p.Start(context.Background(), "owner-1", "https://example.com")
	require.NoError(t, err)
	return session
}

func TestIngestTelemetry(t *testing.T) {
	p, sessionStore, _ := newTestPipeline(t, &mockEngine{result: goodAuditResult()}, &mockInsights{}, &mockSink{})
	session := startWaitingSession(t, p)

	events := []datatypes.SpanEvent{
		{Type: "http.server", Method: "GET", URL: "/a", DurationMs: 100, Status: 200},
		{Type: "http.server", Method: "GET", URL: "/a", DurationMs: 300, Status: 500},
	}
	ack, err := p.IngestTelemetry(context.Background(), session.ID, events)
	require.NoError(t, err)
	assert.True(t, ack.Success)
	assert.Equal(t, 1, ack.EndpointCount)
	assert.NotEmpty(t, ack.ArtifactURL)

	got, err := sessionStore.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, got.Metrics.API, 1)
	assert.Equal(t, 200, got.Metrics.API[0].AvgLatencyMs)
	assert.Equal(t, 50, got.Metrics.API[0].SuccessRatePercent)
	// A second batch accumulates into the same aggregates.
	_, err = p.IngestTelemetry(context.Background(), session.ID,
		[]datatypes.SpanEvent{{Type: "http.server", Method: "GET", URL: "/a", DurationMs: 200, Status: 200}})
	require.NoError(t, err)
	got, err = sessionStore.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Metrics.API[0].HitCount)
}

func TestIngestTelemetry_WrongState(t *testing.T) {
	p, _, _ := newTestPipeline(t, &mockEngine{err: fmt.Errorf("boom")}, &mockInsights{}, &mockSink{})
	session := startWaitingSession(t, p) // audit failed, session is failed

	_, err := p.IngestTelemetry(context.Background(), session.ID, nil)
	assert.ErrorIs(t, err, datatypes.ErrValidation)
}

func TestIngestTelemetry_UnknownSession(t *testing.T) {
	p, _, _ := newTestPipeline(t, &mockEngine{}, &mockInsights{}, &mockSink{})
	_, err := p.IngestTelemetry(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func insightAnswer() insight.Answer {
	return insight.Answer{
		Raw: "Backend:\n- login requests fail under load → add retries\nFrontend:\nNo insights found.\nTechnical:\nNo insights found.",
		Sections: datatypes.InsightSections{
			Backend:   "- login requests fail under load → add retries",
			Frontend:  datatypes.NoInsights,
			Technical: datatypes.NoInsights,
		},
	}
}

func TestGenerateInsights_CompletesSession(t *testing.T) {
	insights := &mockInsights{answer: insightAnswer()}
	sink := &mockSink{}
	p, sessionStore, _ := newTestPipeline(t, &mockEngine{result: goodAuditResult()}, insights, sink)
	session := startWaitingSession(t, p)

	_, err := p.IngestTelemetry(context.Background(), session.ID,
		[]datatypes.SpanEvent{{Type: "http.server", Method: "GET", URL: "/a", DurationMs: 300, Status: 500}})
	require.NoError(t, err)

	require.NoError(t, p.GenerateInsights(context.Background(), "owner-1", session.ID, ""))

	got, err := sessionStore.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusCompleted, got.Status)
	require.NotEmpty(t, got.Metrics.AI)
	assert.Equal(t, datatypes.CategoryBackend, got.Metrics.AI[0].Category)
	assert.NotEmpty(t, got.Artifacts.LLMResponseURL)

	// Endpoint docs and the audit doc were both ingested.
	assert.Equal(t, []string{session.ID, session.ID}, insights.ingestedSessions)
	assert.Equal(t, DefaultQuestion, insights.askedQuestion)

	// The high-severity finding triggered the webhook.
	assert.Equal(t, 1, sink.notified)
}

func TestGenerateInsights_AlertCarriesTopFinding(t *testing.T) {
	// Two alertable findings; only the critical one may reach the sink.
	answer := insight.Answer{
		Raw: "raw",
		Sections: datatypes.InsightSections{
			Backend:   "- login requests fail under load → add retries\n- checkout crash on submit → fix the null dereference",
			Frontend:  datatypes.NoInsights,
			Technical: datatypes.NoInsights,
		},
	}
	sink := &mockSink{}
	p, _, _ := newTestPipeline(t, &mockEngine{result: goodAuditResult()}, &mockInsights{answer: answer}, sink)
	session := startWaitingSession(t, p)

	require.NoError(t, p.GenerateInsights(context.Background(), "owner-1", session.ID, ""))

	assert.Equal(t, 1, sink.notified)
	require.Len(t, sink.records, 1)
	assert.Equal(t, datatypes.SeverityCritical, sink.records[0].Severity)
	assert.Contains(t, sink.records[0].Title, "checkout crash")
}

func TestGenerateInsights_Unauthorized(t *testing.T) {
	p, _, _ := newTestPipeline(t, &mockEngine{result: goodAuditResult()}, &mockInsights{}, &mockSink{})
	session := startWaitingSession(t, p)

	err := p.GenerateInsights(context.Background(), "someone-else", session.ID, "")
	assert.ErrorIs(t, err, datatypes.ErrUnauthorized)
}

func TestGenerateInsights_NoMetrics(t *testing.T) {
	p, _, _ := newTestPipeline(t, &mockEngine{}, &mockInsights{}, &mockSink{})

	// A session that never ran its audit has nothing to analyze.
	session := &datatypes.Session{OwnerID: "owner-1", TargetURL: "https://example.com", Status: datatypes.StatusRunning}
	id, err := p.store.Create(context.Background(), session)
	require.NoError(t, err)

	err = p.GenerateInsights(context.Background(), "owner-1", id, "")
	assert.ErrorIs(t, err, datatypes.ErrMissingMetrics)
}

func TestGenerateInsights_SoftFailureKeepsSession(t *testing.T) {
	insights := &mockInsights{askErr: fmt.Errorf("model overloaded")}
	p, sessionStore, _ := newTestPipeline(t, &mockEngine{result: goodAuditResult()}, insights, &mockSink{})
	session := startWaitingSession(t, p)

	require.NoError(t, p.GenerateInsights(context.Background(), "owner-1", session.ID, ""))

	got, err := sessionStore.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	// The stage failed after the trigger was accepted; the session and
	// its audit metrics survive untouched.
	assert.Equal(t, datatypes.StatusWaitingForTelemetry, got.Status)
	assert.Empty(t, got.Metrics.AI)
	assert.Nil(t, got.Error)
}

func TestGenerateInsights_TrendContext(t *testing.T) {
	insights := &mockInsights{answer: insightAnswer()}
	p, _, _ := newTestPipeline(t, &mockEngine{result: goodAuditResult()}, insights, &mockSink{})

	// First run completes.
	first := startWaitingSession(t, p)
	require.NoError(t, p.GenerateInsights(context.Background(), "owner-1", first.ID, ""))

	// Second run of the same URL sees the first as trend context.
	second := startWaitingSession(t, p)
	require.NoError(t, p.GenerateInsights(context.Background(), "owner-1", second.ID, ""))
	assert.Contains(t, insights.askedQuestion, "previous run of this URL")
	assert.Contains(t, insights.askedQuestion, "scored 91")
}

func completedSession(t *testing.T, p *Pipeline, ownerID string, score float64) string {
	t.Helper()
	session := &datatypes.Session{
		OwnerID:   ownerID,
		TargetURL: "https://example.com",
		Status:    datatypes.StatusCompleted,
	}
	session.Metrics.Performance = &datatypes.PerformanceMetrics{Score: score}
	id, err := p.store.Create(context.Background(), session)
	require.NoError(t, err)
	return id
}

func TestCompare(t *testing.T) {
	p, _, _ := newTestPipeline(t, &mockEngine{}, &mockInsights{}, &mockSink{})
	idA := completedSession(t, p, "owner-1", 70)
	idB := completedSession(t, p, "owner-1", 90)

	result, err := p.Compare(context.Background(), "owner-1", idA, idB)
	require.NoError(t, err)
	assert.Equal(t, "Run B", result.Winner)
	assert.Equal(t, 70.0, result.ScoreA)
	assert.Equal(t, 90.0, result.ScoreB)
	assert.NotEmpty(t, result.Narrative)
}

func TestCompare_GroundedNarrative(t *testing.T) {
	insights := &mockInsights{compareNarrative: "Run B cut LCP in half.\nWinner: Run B"}
	p, _, _ := newTestPipeline(t, &mockEngine{}, insights, &mockSink{})
	idA := completedSession(t, p, "owner-1", 70)
	idB := completedSession(t, p, "owner-1", 90)

	result, err := p.Compare(context.Background(), "owner-1", idA, idB)
	require.NoError(t, err)
	assert.Equal(t, 1, insights.compared)
	assert.Equal(t, insights.compareNarrative, result.Narrative)
}

func TestCompare_NarrativeFallback(t *testing.T) {
	insights := &mockInsights{compareErr: fmt.Errorf("model offline")}
	p, _, _ := newTestPipeline(t, &mockEngine{}, insights, &mockSink{})
	idA := completedSession(t, p, "owner-1", 70)
	idB := completedSession(t, p, "owner-1", 90)

	result, err := p.Compare(context.Background(), "owner-1", idA, idB)
	require.NoError(t, err)
	assert.Contains(t, result.Narrative, "Run B wins")
}

func TestCompare_TieGoesToA(t *testing.T) {
	p, _, _ := newTestPipeline(t, &mockEngine{}, &mockInsights{}, &mockSink{})
	idA := completedSession(t, p, "owner-1", 85)
	idB := completedSession(t, p, "owner-1", 85)

	result, err := p.Compare(context.Background(), "owner-1", idA, idB)
	require.NoError(t, err)
	assert.Equal(t, "Run A", result.Winner)
}

func TestCompare_MissingMetrics(t *testing.T) {
	p, _, _ := newTestPipeline(t, &mockEngine{}, &mockInsights{}, &mockSink{})
	idA := completedSession(t, p, "owner-1", 85)

	bare := &datatypes.Session{OwnerID: "owner-1", TargetURL: "https://example.com", Status: datatypes.StatusRunning}
	idB, err := p.store.Create(context.Background(), bare)
	require.NoError(t, err)

	_, err = p.Compare(context.Background(), "owner-1", idA, idB)
	assert.ErrorIs(t, err, datatypes.ErrMissingMetrics)
}

func TestCompare_Unauthorized(t *testing.T) {
	p, _, _ := newTestPipeline(t, &mockEngine{}, &mockInsights{}, &mockSink{})
	idA := completedSession(t, p, "owner-1", 85)
	idB := completedSession(t, p, "owner-2", 90)

	_, err := p.Compare(context.Background(), "owner-1", idA, idB)
	assert.ErrorIs(t, err, datatypes.ErrUnauthorized)
}

func TestStats(t *testing.T) {
	p, _, _ := newTestPipeline(t, &mockEngine{result: goodAuditResult()}, &mockInsights{answer: insightAnswer()}, &mockSink{})

	session := startWaitingSession(t, p)
	_, err := p.IngestTelemetry(context.Background(), session.ID,
		[]datatypes.SpanEvent{{Type: "http.server", Method: "GET", URL: "/a", DurationMs: 100, Status: 200}})
	require.NoError(t, err)
	require.NoError(t, p.GenerateInsights(context.Background(), "owner-1", session.ID, ""))

	stats, err := p.Stats(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalAnalyses)
	assert.Equal(t, 91.0, stats.AvgPerformance)
	assert.Equal(t, 88.0, stats.AvgSeo)
	assert.Equal(t, "100 ms", stats.AvgLatency)
}

func TestStats_NoSessions(t *testing.T) {
	p, _, _ := newTestPipeline(t, &mockEngine{}, &mockInsights{}, &mockSink{})

	stats, err := p.Stats(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalAnalyses)
	assert.Equal(t, "N/A", stats.AvgLatency)
}

func TestDeleteSession(t *testing.T) {
	insights := &mockInsights{}
	p, sessionStore, _ := newTestPipeline(t, &mockEngine{result: goodAuditResult()}, insights, &mockSink{})
	session := startWaitingSession(t, p)

	require.NoError(t, p.DeleteSession(context.Background(), "owner-1", session.ID))
	assert.Equal(t, []string{session.ID}, insights.deleted)

	_, err := sessionStore.FindByID(context.Background(), session.ID)
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func TestDeleteSession_Unauthorized(t *testing.T) {
	p, _, _ := newTestPipeline(t, &mockEngine{result: goodAuditResult()}, &mockInsights{}, &mockSink{})
	session := startWaitingSession(t, p)

	err := p.DeleteSession(context.Background(), "owner-2", session.ID)
	assert.ErrorIs(t, err, datatypes.ErrUnauthorized)
}
