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

// StartAnalysisRequest starts a new analysis run against a target URL.
type StartAnalysisRequest struct {
	URL string `json:"url" binding:"required"`
}

// StartAnalysisResponse acknowledges the scheduled run. The audit stage
// proceeds in the background; callers poll GET /analysis/:id.
type StartAnalysisResponse struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// CompareRequest identifies the two sessions of a synchronous A/B
// comparison.
type CompareRequest struct {
	IDA string `json:"idA" binding:"required"`
	IDB string `json:"idB" binding:"required"`
}

// ComparisonResult is the grounded A/B verdict. Winner is "Run A" or
// "Run B"; ties go to A.
type ComparisonResult struct {
	Winner    string  `json:"winner"`
	ScoreA    float64 `json:"scoreA"`
	ScoreB    float64 `json:"scoreB"`
	Narrative string  `json:"narrative"`
}

// TelemetryAck reports the outcome of one ingested trace batch.
type TelemetryAck struct {
	Success       bool   `json:"success"`
	EndpointCount int    `json:"count"`
	ArtifactURL   string `json:"url,omitempty"`
}

// DashboardStats are the owner-level aggregates for the dashboard
// header.
type DashboardStats struct {
	TotalAnalyses  int     `json:"totalAnalyses"`
	AvgPerformance float64 `json:"avgPerformance"`
	AvgSeo         float64 `json:"avgSeo"`
	AvgLatency     string  `json:"avgLatency"`
}
