// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package insight turns session telemetry into retrievable documents,
// answers grounded questions over them, and persists the resulting
// AI findings.
package insight

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianPulse/services/pulse/datatypes"
)

// Document is one retrievable unit of session knowledge. The ID is
// deterministic so re-ingesting the same session replaces rather than
// duplicates.
type Document struct {
	ID        string
	Text      string
	Kind      string
	SessionID string
	Endpoint  string
	Method    string
	Vector    []float32
}

const (
	DocKindEndpoint = "api-endpoint"
	DocKindAudit    = "audit-summary"
)

// DocumentID derives a stable UUID from the session id plus a
// per-document discriminator.
func DocumentID(sessionID, discriminator string) string {
	hash := sha256.Sum256([]byte(sessionID + "/" + discriminator))
	docUUID, _ := uuid.FromBytes(hash[:16])
	return docUUID.String()
}

// RenderEndpointDoc flattens one endpoint aggregate into prose the
// embedding model can work with.
func RenderEndpointDoc(sessionID string, agg datatypes.EndpointAggregate) Document {
	var sb strings.Builder
	fmt.Fprintf(&sb, "API endpoint %s %s received %d requests. ", agg.Method, agg.Endpoint, agg.HitCount)
	fmt.Fprintf(&sb, "Average latency %d ms, best %d ms, p95 %d ms. ", agg.AvgLatencyMs, agg.BestLatencyMs, agg.P95LatencyMs)
	fmt.Fprintf(&sb, "Success rate %d%%.", agg.SuccessRatePercent)
	if agg.IsSlow {
		sb.WriteString(" This endpoint is flagged as slow (average latency above 200 ms).")
	}
	if agg.SuccessRatePercent < 100 {
		fmt.Fprintf(&sb, " %d%% of requests to this endpoint failed.", 100-agg.SuccessRatePercent)
	}

	return Document{
		ID:        DocumentID(sessionID, agg.Key()),
		Text:      sb.String(),
		Kind:      DocKindEndpoint,
		SessionID: sessionID,
		Endpoint:  agg.Endpoint,
		Method:    agg.Method,
	}
}

// RenderEndpointDocs renders the whole aggregate set.
func RenderEndpointDocs(sessionID string, aggs []datatypes.EndpointAggregate) []Document {
	docs := make([]Document, 0, len(aggs))
	for _, agg := range aggs {
		docs = append(docs, RenderEndpointDoc(sessionID, agg))
	}
	return docs
}

// RenderAuditDoc flattens the page audit metrics into a single
// document. Empty vitals are skipped rather than rendered as gaps.
func RenderAuditDoc(sessionID, targetURL string, perf *datatypes.PerformanceMetrics, seo *datatypes.SEOMetrics) Document {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Page audit for %s.", targetURL)
	if perf != nil {
		fmt.Fprintf(&sb, " Performance score %.0f of 100.", perf.Score)
		for _, vital := range []struct{ name, value string }{
			{"Largest Contentful Paint", perf.LCP},
			{"Cumulative Layout Shift", perf.CLS},
			{"Interaction to Next Paint", perf.INP},
			{"Time to First Byte", perf.TTFB},
			{"First Contentful Paint", perf.FCP},
			{"Speed Index", perf.SI},
			{"Total Blocking Time", perf.TBT},
		} {
			if vital.value != "" {
				fmt.Fprintf(&sb, " %s: %s.", vital.name, vital.value)
			}
		}
	}
	if seo != nil {
		fmt.Fprintf(&sb, " SEO score %.0f of 100.", seo.Score)
	}

	return Document{
		ID:        DocumentID(sessionID, "audit"),
		Text:      sb.String(),
		Kind:      DocKindAudit,
		SessionID: sessionID,
	}
}
