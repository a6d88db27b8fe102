// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package insight

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPulse/services/llm"
	"github.com/AleutianAI/AleutianPulse/services/pulse/datatypes"
	"github.com/AleutianAI/AleutianPulse/services/pulse/retry"
)

type mockEmbedder struct {
	batchErr  error
	failTexts map[string]bool
	calls     int
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.calls++
	if m.failTexts[text] {
		return nil, fmt.Errorf("embed rejected")
	}
	return []float32{float32(len(text)), 1}, nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.batchErr != nil {
		return nil, m.batchErr
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

type mockVectorStore struct {
	upserted   []Document
	matches    []Match
	queryErr   error
	deletedFor []string
}

func (m *mockVectorStore) Upsert(_ context.Context, docs []Document) (int, error) {
	m.upserted = append(m.upserted, docs...)
	return len(docs), nil
}

func (m *mockVectorStore) Query(_ context.Context, _ string, _ []float32, _ int) ([]Match, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.matches, nil
}

func (m *mockVectorStore) DeleteSession(_ context.Context, sessionID string) error {
	m.deletedFor = append(m.deletedFor, sessionID)
	return nil
}

type mockLLM struct {
	answer string
	err    error
	calls  int
	prompt string
}

func (m *mockLLM) Generate(_ context.Context, _, userPrompt string, _ llm.GenerationParams) (string, error) {
	m.calls++
	m.prompt = userPrompt
	if m.err != nil {
		return "", m.err
	}
	return m.answer, nil
}

func newTestInsightStore(embedder Embedder, vectors VectorStore, llmClient llm.LLMClient) *Store {
	s := NewStore(embedder, vectors, llmClient)
	s.retry = retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond}
	return s
}

func sampleAggregates() []datatypes.EndpointAggregate {
	return []datatypes.EndpointAggregate{
		{Endpoint: "/users", Method: "GET", AvgLatencyMs: 120, HitCount: 5, SuccessRatePercent: 100},
		{Endpoint: "/checkout", Method: "POST", AvgLatencyMs: 450, HitCount: 2, SuccessRatePercent: 50, IsSlow: true},
	}
}

func TestIngestEndpoints(t *testing.T) {
	embedder := &mockEmbedder{}
	vectors := &mockVectorStore{}
	s := newTestInsightStore(embedder, vectors, &mockLLM{})

	stored, err := s.IngestEndpoints(context.Background(), "session-1", sampleAggregates())
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
	require.Len(t, vectors.upserted, 2)

	for _, doc := range vectors.upserted {
		assert.Equal(t, "session-1", doc.SessionID)
		assert.Equal(t, DocKindEndpoint, doc.Kind)
		assert.NotNil(t, doc.Vector)
	}
	// Re-ingesting yields the same ids, so the second write replaces.
	assert.Equal(t, DocumentID("session-1", "GET /users"), vectors.upserted[0].ID)
}

func TestIngestEndpoints_Empty(t *testing.T) {
	vectors := &mockVectorStore{}
	s := newTestInsightStore(&mockEmbedder{}, vectors, &mockLLM{})

	stored, err := s.IngestEndpoints(context.Background(), "session-1", nil)
	require.NoError(t, err)
	assert.Zero(t, stored)
	assert.Empty(t, vectors.upserted)
}

func TestIngest_FallsBackPerDocument(t *testing.T) {
	aggs := sampleAggregates()
	failing := RenderEndpointDoc("session-1", aggs[1]).Text
	embedder := &mockEmbedder{
		batchErr:  fmt.Errorf("batch endpoint down"),
		failTexts: map[string]bool{failing: true},
	}
	vectors := &mockVectorStore{}
	s := newTestInsightStore(embedder, vectors, &mockLLM{})

	stored, err := s.IngestEndpoints(context.Background(), "session-1", aggs)
	require.NoError(t, err)
	// The poisoned document is skipped, the other one lands.
	assert.Equal(t, 1, stored)
	require.Len(t, vectors.upserted, 1)
	assert.Contains(t, vectors.upserted[0].Text, "GET /users")
}

func TestIngestAudit(t *testing.T) {
	vectors := &mockVectorStore{}
	s := newTestInsightStore(&mockEmbedder{}, vectors, &mockLLM{})

	stored, err := s.IngestAudit(context.Background(), "session-1", "https://example.com",
		&datatypes.PerformanceMetrics{Score: 91}, &datatypes.SEOMetrics{Score: 88})
	require.NoError(t, err)
	assert.Equal(t, 1, stored)
	require.Len(t, vectors.upserted, 1)
	assert.Equal(t, DocKindAudit, vectors.upserted[0].Kind)
}

func TestAsk_NoMatchesSendsMarker(t *testing.T) {
	llmClient := &mockLLM{answer: "Backend:\nNo insights found.\nFrontend:\nNo insights found.\nTechnical:\nNo insights found."}
	s := newTestInsightStore(&mockEmbedder{}, &mockVectorStore{}, llmClient)

	answer, err := s.Ask(context.Background(), "session-1", "What should we fix?")
	require.NoError(t, err)
	// An empty namespace still produces an LLM call; the context block
	// carries the no-data marker instead of documents.
	assert.Equal(t, 1, llmClient.calls)
	assert.Contains(t, llmClient.prompt, "No relevant performance data found for this session.")
	assert.Contains(t, llmClient.prompt, "What should we fix?")
	assert.Equal(t, datatypes.NoInsights, answer.Sections.Backend)
	assert.Empty(t, answer.Matches)
}

func TestAsk_GroundedAnswer(t *testing.T) {
	vectors := &mockVectorStore{matches: []Match{
		{ID: "doc-1", Text: "API endpoint POST /checkout averaged 450 ms.", Kind: DocKindEndpoint, Certainty: 0.91},
	}}
	llmClient := &mockLLM{answer: "Backend:\n- /checkout is slow → add caching\nFrontend:\nNo insights found.\nTechnical:\nNo insights found."}
	s := newTestInsightStore(&mockEmbedder{}, vectors, llmClient)

	answer, err := s.Ask(context.Background(), "session-1", "What should we fix?")
	require.NoError(t, err)
	assert.Equal(t, 1, llmClient.calls)
	// The retrieved document is in the prompt, not just the question.
	assert.Contains(t, llmClient.prompt, "POST /checkout averaged 450 ms")
	assert.Contains(t, answer.Sections.Backend, "/checkout is slow")
	assert.Equal(t, datatypes.NoInsights, answer.Sections.Frontend)
	require.Len(t, answer.Matches, 1)
	assert.Equal(t, "doc-1", answer.Matches[0].ID)
}

func TestAsk_LLMFailureSurfaces(t *testing.T) {
	vectors := &mockVectorStore{matches: []Match{{ID: "doc-1", Text: "something"}}}
	llmClient := &mockLLM{err: fmt.Errorf("model overloaded")}
	s := newTestInsightStore(&mockEmbedder{}, vectors, llmClient)

	_, err := s.Ask(context.Background(), "session-1", "What should we fix?")
	require.Error(t, err)
	// The retry policy exhausted its attempts before giving up.
	assert.Equal(t, 2, llmClient.calls)
}

func compareSessions() (*datatypes.Session, *datatypes.Session) {
	a := &datatypes.Session{
		ID:        "session-a",
		TargetURL: "https://example.com",
		Metrics: datatypes.SessionMetrics{
			Performance: &datatypes.PerformanceMetrics{Score: 70, LCP: "3.1 s"},
			SEO:         &datatypes.SEOMetrics{Score: 80},
		},
	}
	b := &datatypes.Session{
		ID:        "session-b",
		TargetURL: "https://example.com",
		Metrics: datatypes.SessionMetrics{
			Performance: &datatypes.PerformanceMetrics{Score: 90, LCP: "1.4 s"},
			SEO:         &datatypes.SEOMetrics{Score: 82},
		},
	}
	return a, b
}

func TestCompareSessions(t *testing.T) {
	vectors := &mockVectorStore{matches: []Match{
		{ID: "doc-1", Text: "API endpoint POST /checkout averaged 450 ms.", Kind: DocKindEndpoint},
	}}
	llmClient := &mockLLM{answer: "Run B cut LCP from 3.1 s to 1.4 s.\nWinner: Run B"}
	s := newTestInsightStore(&mockEmbedder{}, vectors, llmClient)

	a, b := compareSessions()
	narrative, err := s.CompareSessions(context.Background(), a, b)
	require.NoError(t, err)
	assert.Contains(t, narrative, "Winner: Run B")
	// Both runs' scalar metrics and run A's documents ground the prompt.
	assert.Contains(t, llmClient.prompt, "performance 70")
	assert.Contains(t, llmClient.prompt, "performance 90")
	assert.Contains(t, llmClient.prompt, "POST /checkout averaged 450 ms")
}

func TestCompareSessions_NoDocuments(t *testing.T) {
	llmClient := &mockLLM{answer: "Run B improved every vital.\nWinner: Run B"}
	s := newTestInsightStore(&mockEmbedder{}, &mockVectorStore{}, llmClient)

	a, b := compareSessions()
	narrative, err := s.CompareSessions(context.Background(), a, b)
	require.NoError(t, err)
	// No retrieval context, but the scalar metrics still carry the call.
	assert.Equal(t, 1, llmClient.calls)
	assert.NotContains(t, llmClient.prompt, "Context documents")
	assert.Contains(t, narrative, "Winner: Run B")
}

func TestDeleteSession(t *testing.T) {
	vectors := &mockVectorStore{}
	s := newTestInsightStore(&mockEmbedder{}, vectors, &mockLLM{})

	require.NoError(t, s.DeleteSession(context.Background(), "session-1"))
	assert.Equal(t, []string{"session-1"}, vectors.deletedFor)
}
