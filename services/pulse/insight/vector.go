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
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianPulse/services/pulse/datatypes"
)

// Match is one retrieved document with its similarity score.
type Match struct {
	ID        string
	Text      string
	Kind      string
	Certainty float64
}

// VectorStore persists and retrieves session documents. All queries
// are scoped to one session id; documents never leak across sessions.
type VectorStore interface {
	Upsert(ctx context.Context, docs []Document) (int, error)
	Query(ctx context.Context, sessionID string, vector []float32, topK int) ([]Match, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// WeaviateVectorStore implements VectorStore on the PerfDocument class.
type WeaviateVectorStore struct {
	client *weaviate.Client
}

var _ VectorStore = (*WeaviateVectorStore)(nil)

func NewWeaviateVectorStore(client *weaviate.Client) *WeaviateVectorStore {
	return &WeaviateVectorStore{client: client}
}

// Upsert batch-writes the documents. Deterministic ids make this an
// overwrite for documents that already exist. Returns the number of
// documents that landed; partial failures are logged, not fatal.
func (s *WeaviateVectorStore) Upsert(ctx context.Context, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	objects := make([]*models.Object, len(docs))
	for i, doc := range docs {
		objects[i] = &models.Object{
			Class:  datatypes.PerfDocumentClass,
			ID:     strfmt.UUID(doc.ID),
			Vector: doc.Vector,
			Properties: map[string]interface{}{
				"text":        doc.Text,
				"kind":        doc.Kind,
				"session_id":  doc.SessionID,
				"endpoint":    doc.Endpoint,
				"method":      doc.Method,
				"ingested_at": time.Now().UnixMilli(),
			},
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to save documents to Weaviate: %w", err)
	}

	stored := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors == nil {
			stored++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item", "error", errItem.Message)
			}
		}
	}
	return stored, nil
}

// Query runs a NearVector search restricted to one session.
func (s *WeaviateVectorStore) Query(ctx context.Context, sessionID string, vector []float32, topK int) ([]Match, error) {
	sessionFilter := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(sessionID)

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	// Certainty is always [0,1] regardless of the distance metric.
	fields := []graphql.Field{
		{Name: "text"},
		{Name: "kind"},
		{Name: "session_id"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.PerfDocumentClass).
		WithFields(fields...).
		WithWhere(sessionFilter).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PerfDocumentQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	matches := make([]Match, 0, len(parsed.Get.PerfDocument))
	for _, doc := range parsed.Get.PerfDocument {
		matches = append(matches, Match{
			ID:        doc.Additional.ID,
			Text:      doc.Text,
			Kind:      doc.Kind,
			Certainty: doc.Additional.Certainty,
		})
	}
	slog.Debug("Found session documents", "session_id", sessionID, "count", len(matches))
	return matches, nil
}

// DeleteSession removes every document belonging to the session via
// the batch deleter.
func (s *WeaviateVectorStore) DeleteSession(ctx context.Context, sessionID string) error {
	where := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(sessionID)

	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(datatypes.PerfDocumentClass).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete documents for session %s: %w", sessionID, err)
	}
	if resp != nil && resp.Results != nil {
		slog.Info("Deleted session documents", "session_id", sessionID, "matches", resp.Results.Matches)
	}
	return nil
}
