// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package insight

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianPulse/services/llm"
	"github.com/AleutianAI/AleutianPulse/services/pulse/datatypes"
	"github.com/AleutianAI/AleutianPulse/services/pulse/retry"
)

var tracer = otel.Tracer("pulse.insight")

const (
	// topK bounds how many documents ground one answer.
	topK = 5

	// Audit documents above this length are chunked before embedding.
	chunkSize    = 1000
	chunkOverlap = 100
)

const systemPrompt = `You are a web performance engineer reviewing measured metrics for one analysis session.
Answer ONLY from the provided context documents. Never invent numbers or endpoints.
Structure your answer as exactly three sections labeled Backend, Frontend, and Technical.
Each section holds one-line bullets of the form "problem → fix".
If a section has nothing to report, write "No insights found." under it.`

// Store is the RAG half of the insight stage: it ingests rendered
// session documents into the vector store and answers grounded
// questions over them.
//
// Every external call (embedding, vector store, LLM) goes through the
// retry policy; a document that still fails is logged and skipped so
// one bad chunk cannot sink the whole stage.
type Store struct {
	embedder Embedder
	vectors  VectorStore
	llm      llm.LLMClient
	retry    retry.Policy
}

func NewStore(embedder Embedder, vectors VectorStore, llmClient llm.LLMClient) *Store {
	return &Store{
		embedder: embedder,
		vectors:  vectors,
		llm:      llmClient,
		retry:    retry.Default(),
	}
}

// IngestEndpoints renders and stores one document per endpoint
// aggregate. Returns the number of documents stored.
func (s *Store) IngestEndpoints(ctx context.Context, sessionID string, aggs []datatypes.EndpointAggregate) (int, error) {
	ctx, span := tracer.Start(ctx, "InsightStore.IngestEndpoints")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("endpoint.count", len(aggs)),
	)

	return s.ingest(ctx, RenderEndpointDocs(sessionID, aggs))
}

// IngestAudit renders the audit summary document, chunking it when it
// exceeds the embedding-friendly size.
func (s *Store) IngestAudit(ctx context.Context, sessionID, targetURL string, perf *datatypes.PerformanceMetrics, seo *datatypes.SEOMetrics) (int, error) {
	ctx, span := tracer.Start(ctx, "InsightStore.IngestAudit")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	doc := RenderAuditDoc(sessionID, targetURL, perf, seo)

	docs := []Document{doc}
	if len(doc.Text) > chunkSize {
		splitter := textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		)
		chunks, err := splitter.SplitText(doc.Text)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, fmt.Errorf("failed to chunk audit document: %w", err)
		}
		docs = make([]Document, len(chunks))
		for i, chunk := range chunks {
			docs[i] = Document{
				ID:        DocumentID(sessionID, fmt.Sprintf("audit_part_%d", i+1)),
				Text:      chunk,
				Kind:      DocKindAudit,
				SessionID: sessionID,
			}
		}
	}

	return s.ingest(ctx, docs)
}

// ingest embeds the documents, tolerating individual failures, then
// batch-upserts whatever embedded successfully.
func (s *Store) ingest(ctx context.Context, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}

	vectors, err := retry.DoValue(ctx, s.retry, "embed_batch", func(ctx context.Context) ([][]float32, error) {
		return s.embedder.EmbedBatch(ctx, texts)
	})
	if err != nil {
		// Batch embedding failed outright; fall back to per-document
		// embedding so one poisoned text cannot sink the rest.
		slog.Warn("Batch embedding failed, retrying per document", "error", err)
		vectors = make([][]float32, len(docs))
		for i := range docs {
			text := texts[i]
			vectors[i], err = retry.DoValue(ctx, s.retry, "embed", func(ctx context.Context) ([]float32, error) {
				return s.embedder.Embed(ctx, text)
			})
			if err != nil {
				slog.Warn("Skipping document that failed to embed", "doc_id", docs[i].ID, "error", err)
				vectors[i] = nil
			}
		}
	}

	embedded := docs[:0:0]
	for i := range docs {
		if vectors[i] == nil {
			continue
		}
		doc := docs[i]
		doc.Vector = vectors[i]
		embedded = append(embedded, doc)
	}
	if len(embedded) == 0 {
		return 0, fmt.Errorf("no documents could be embedded")
	}

	stored, err := retry.DoValue(ctx, s.retry, "vector_upsert", func(ctx context.Context) (int, error) {
		return s.vectors.Upsert(ctx, embedded)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store documents: %w", err)
	}
	slog.Info("Ingested session documents", "session_id", embedded[0].SessionID, "stored", stored)
	return stored, nil
}

// Answer is the result of one grounded question.
type Answer struct {
	Raw      string
	Sections datatypes.InsightSections
	Matches  []Match
}

// noDataMarker replaces the context block when the session has no
// documents, so the model knows it must not invent metrics.
const noDataMarker = "No relevant performance data found for this session."

// Ask retrieves the session's most relevant documents and asks the
// model for a three-section answer grounded on them. Zero matches
// still go to the model, with the no-data marker as the context.
func (s *Store) Ask(ctx context.Context, sessionID, question string) (Answer, error) {
	ctx, span := tracer.Start(ctx, "InsightStore.Ask")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	queryVector, err := retry.DoValue(ctx, s.retry, "embed_question", func(ctx context.Context) ([]float32, error) {
		return s.embedder.Embed(ctx, question)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Answer{}, fmt.Errorf("failed to embed question: %w", err)
	}

	matches, err := retry.DoValue(ctx, s.retry, "vector_query", func(ctx context.Context) ([]Match, error) {
		return s.vectors.Query(ctx, sessionID, queryVector, topK)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Answer{}, fmt.Errorf("failed to query session documents: %w", err)
	}
	span.SetAttributes(attribute.Int("match.count", len(matches)))

	var contextBlock strings.Builder
	for i, match := range matches {
		fmt.Fprintf(&contextBlock, "Document %d (%s):\n%s\n\n", i+1, match.Kind, match.Text)
	}
	contextText := contextBlock.String()
	if contextText == "" {
		slog.Warn("No documents found for session, answering with the no-data marker", "session_id", sessionID)
		contextText = noDataMarker + "\n\n"
	}
	userPrompt := fmt.Sprintf("Context documents:\n\n%s\nQuestion: %s", contextText, question)

	raw, err := retry.DoValue(ctx, s.retry, "llm_generate", func(ctx context.Context) (string, error) {
		return s.llm.Generate(ctx, systemPrompt, userPrompt, llm.GenerationParams{})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Answer{}, fmt.Errorf("LLM generation failed: %w", err)
	}

	return Answer{
		Raw:      raw,
		Sections: ParseSections(raw),
		Matches:  matches,
	}, nil
}

const compareSystemPrompt = `You are a web performance engineer comparing two analysis runs, A and B.
Answer ONLY from the metrics and context documents provided. Never invent numbers.
Name the three most important differences between the runs, one line each,
then declare the winner in a final line of the form "Winner: Run A" or "Winner: Run B".`

// CompareSessions produces a grounded narrative comparing two runs.
// Retrieval context comes from the first session's namespace.
func (s *Store) CompareSessions(ctx context.Context, a, b *datatypes.Session) (string, error) {
	ctx, span := tracer.Start(ctx, "InsightStore.CompareSessions")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.a", a.ID),
		attribute.String("session.b", b.ID))

	question := fmt.Sprintf("Run A (%s): %s\nRun B (%s): %s\nWhich run performed better, and why?",
		a.TargetURL, renderCompareMetrics(a), b.TargetURL, renderCompareMetrics(b))

	queryVector, err := retry.DoValue(ctx, s.retry, "embed_comparison", func(ctx context.Context) ([]float32, error) {
		return s.embedder.Embed(ctx, question)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to embed comparison question: %w", err)
	}

	matches, err := retry.DoValue(ctx, s.retry, "vector_query", func(ctx context.Context) ([]Match, error) {
		return s.vectors.Query(ctx, a.ID, queryVector, topK)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to query session documents: %w", err)
	}

	userPrompt := question
	if len(matches) > 0 {
		var contextBlock strings.Builder
		for i, match := range matches {
			fmt.Fprintf(&contextBlock, "Document %d (%s):\n%s\n\n", i+1, match.Kind, match.Text)
		}
		userPrompt = fmt.Sprintf("Context documents for run A:\n\n%s\n%s", contextBlock.String(), question)
	}

	raw, err := retry.DoValue(ctx, s.retry, "llm_generate", func(ctx context.Context) (string, error) {
		return s.llm.Generate(ctx, compareSystemPrompt, userPrompt, llm.GenerationParams{})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("LLM comparison failed: %w", err)
	}
	return strings.TrimSpace(raw), nil
}

// renderCompareMetrics flattens a session's scalar scores into one
// prompt line. The full vitals live in the retrieved documents.
func renderCompareMetrics(session *datatypes.Session) string {
	parts := make([]string, 0, 3)
	if perf := session.Metrics.Performance; perf != nil {
		parts = append(parts, fmt.Sprintf("performance %.0f, LCP %s", perf.Score, perf.LCP))
	}
	if seo := session.Metrics.SEO; seo != nil {
		parts = append(parts, fmt.Sprintf("SEO %.0f", seo.Score))
	}
	if len(session.Metrics.API) > 0 {
		parts = append(parts, fmt.Sprintf("%d monitored endpoints", len(session.Metrics.API)))
	}
	if len(parts) == 0 {
		return "no metrics recorded"
	}
	return strings.Join(parts, ", ")
}

// DeleteSession drops every stored document for the session.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.retry.Do(ctx, "vector_delete", func(ctx context.Context) error {
		return s.vectors.DeleteSession(ctx, sessionID)
	})
}
