// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// PerfDocumentClass is the Weaviate class holding rendered performance
// documents. Vectors are supplied by the embedder, never by Weaviate.
const PerfDocumentClass = "PerfDocument"

// GetPerfDocumentSchema returns the schema for the PerfDocument class.
//
// Every document carries a session_id property; all retrieval filters
// on it, which is what gives each session its isolated namespace.
func GetPerfDocumentSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       PerfDocumentClass,
		Description: "A rendered performance metrics document scoped to one analysis session.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "text",
				DataType:     []string{"text"},
				Description:  "The rendered human-readable metrics document.",
				Tokenization: "word",
			},
			{
				Name:            "kind",
				DataType:        []string{"text"},
				Description:     "Document kind: api-endpoint or audit-summary.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "The analysis session owning this document.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "endpoint",
				DataType:        []string{"text"},
				Description:     "For api-endpoint docs, the route this document describes.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "method",
				DataType:        []string{"text"},
				Description:     "For api-endpoint docs, the HTTP method.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the document was upserted.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates the PerfDocument class if it does not
// exist yet. Failure to create the schema is fatal at startup.
func EnsureWeaviateSchema(client *weaviate.Client) {
	class := GetPerfDocumentSchema()
	slog.Info("Checking schema", "class", class.Class)

	_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
	if err != nil {
		// The client returns an error when the class is missing.
		slog.Info("Schema not found, creating it...", "class", class.Class)
		if err := client.Schema().ClassCreator().WithClass(class).Do(context.Background()); err != nil {
			log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
		}
		slog.Info("Successfully created schema", "class", class.Class)
		return
	}
	slog.Info("Schema already exists", "class", class.Class)
}
