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
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// ParseGraphQLResponse parses a Weaviate GraphQL response into the
// target type.
//
// Weaviate returns dynamic map[string]models.JSONObject data; this
// generic helper round-trips it through JSON into a strongly-typed
// struct whose json tags match the response shape. Type mismatches
// produce zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// PerfDocumentQueryResponse is the shape of a NearVector query against
// the PerfDocument class.
type PerfDocumentQueryResponse struct {
	Get struct {
		PerfDocument []PerfDocumentResult `json:"PerfDocument"`
	} `json:"Get"`
}

// PerfDocumentResult is a single retrieved document with its certainty
// score.
type PerfDocumentResult struct {
	Text       string `json:"text"`
	Kind       string `json:"kind"`
	SessionID  string `json:"session_id"`
	Additional struct {
		ID        string  `json:"id"`
		Certainty float64 `json:"certainty"`
	} `json:"_additional"`
}
