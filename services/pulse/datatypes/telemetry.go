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

import "strings"

// SpanEvent is one normalized, timed, labeled HTTP span delivered by an
// instrumented target. The concrete wire decoding (OTEL JSON today)
// happens at the ingest boundary; the aggregator only sees this shape.
type SpanEvent struct {
	// Type discriminates HTTP-shaped events. Anything not prefixed
	// with "http" is skipped by the aggregator.
	Type       string  `json:"type"`
	Method     string  `json:"method"`
	URL        string  `json:"url"`
	DurationMs float64 `json:"duration"`
	Status     int     `json:"status"`
}

// IsHTTP reports whether the event carries HTTP request semantics.
func (e SpanEvent) IsHTTP() bool {
	return strings.HasPrefix(e.Type, "http")
}

// EndpointAggregate is the derived per-(method, route) statistics row
// persisted as metrics.api. The raw accumulators (count, success count,
// duration sum, min, max) are reconstructable from these fields, which
// is what lets batches merge associatively in any order.
type EndpointAggregate struct {
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
	// AvgLatencyMs is durationSum/hitCount, rounded.
	AvgLatencyMs int `json:"avgLatency"`
	// BestLatencyMs is the observed minimum (0 if never set).
	BestLatencyMs int `json:"bestLatency"`
	// P95LatencyMs is approximated as the observed maximum. Kept under
	// the original wire name for dashboard compatibility; it is not a
	// true 95th percentile.
	P95LatencyMs int `json:"p95"`
	HitCount     int `json:"hitCount"`
	// SuccessRatePercent counts 2xx/3xx responses, rounded to percent.
	SuccessRatePercent int `json:"successRate"`
	// IsSlow is derived: AvgLatencyMs > 200.
	IsSlow bool `json:"isSlow"`
}

// Key returns the canonical "METHOD route" identity of the aggregate.
func (a EndpointAggregate) Key() string {
	return a.Method + " " + a.Endpoint
}

// =============================================================================
// OTEL JSON trace payload
// =============================================================================

// OTELTrace mirrors the resourceSpans envelope of an OTLP/JSON trace
// export. Only the fields needed to extract HTTP spans are decoded.
type OTELTrace struct {
	ResourceSpans []OTELResourceSpans `json:"resourceSpans"`
}

type OTELResourceSpans struct {
	ScopeSpans []OTELScopeSpans `json:"scopeSpans"`
}

type OTELScopeSpans struct {
	Spans []OTELSpan `json:"spans"`
}

type OTELSpan struct {
	Name              string          `json:"name"`
	StartTimeUnixNano int64           `json:"startTimeUnixNano,string"`
	EndTimeUnixNano   int64           `json:"endTimeUnixNano,string"`
	Attributes        []OTELAttribute `json:"attributes"`
}

type OTELAttribute struct {
	Key   string        `json:"key"`
	Value OTELAttrValue `json:"value"`
}

type OTELAttrValue struct {
	StringValue string  `json:"stringValue,omitempty"`
	IntValue    int64   `json:"intValue,string,omitempty"`
	DoubleValue float64 `json:"doubleValue,omitempty"`
}

// attr returns the string attribute with the given key, or "".
func (s OTELSpan) attr(key string) (OTELAttrValue, bool) {
	for _, a := range s.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return OTELAttrValue{}, false
}

// HTTPEvents flattens the nested resourceSpans structure into normalized
// SpanEvents. Spans without both http.method and http.route attributes
// are dropped; durations come from the nano timestamps.
func (t OTELTrace) HTTPEvents() []SpanEvent {
	var events []SpanEvent
	for _, rs := range t.ResourceSpans {
		for _, ss := range rs.ScopeSpans {
			for _, span := range ss.Spans {
				method, okM := span.attr("http.method")
				route, okR := span.attr("http.route")
				if !okM || !okR {
					continue
				}
				status := 0
				if v, ok := span.attr("http.status_code"); ok {
					status = int(v.IntValue)
				}
				events = append(events, SpanEvent{
					Type:       "http.server",
					Method:     method.StringValue,
					URL:        route.StringValue,
					DurationMs: float64(span.EndTimeUnixNano-span.StartTimeUnixNano) / 1e6,
					Status:     status,
				})
			}
		}
	}
	return events
}
