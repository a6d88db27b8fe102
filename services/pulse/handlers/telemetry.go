// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianPulse/services/pulse/datatypes"
)

// sessionIDHeader carries the session the instrumented target reports
// into. The exporter cannot set a body field, only headers.
const sessionIDHeader = "x-session-id"

// telemetryBodyLimit caps one trace batch at 4 MiB.
const telemetryBodyLimit = 4 << 20

// eventEnvelope is the normalized (non-OTEL) batch shape.
type eventEnvelope struct {
	Events []datatypes.SpanEvent `json:"events"`
}

// decodeTelemetryBody accepts either an OTLP/JSON trace export or the
// normalized events envelope, sniffed by the top-level key.
func decodeTelemetryBody(body []byte) ([]datatypes.SpanEvent, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, err
	}

	if _, ok := probe["resourceSpans"]; ok {
		var trace datatypes.OTELTrace
		if err := json.Unmarshal(body, &trace); err != nil {
			return nil, err
		}
		return trace.HTTPEvents(), nil
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Events, nil
}

// IngestTelemetry receives one trace batch from an instrumented target.
//
// The endpoint is public (browser exporters cannot hold credentials) so
// a global rate limiter sits in front of it. Oversized or malformed
// bodies are rejected before any session lookup.
func IngestTelemetry(service AnalysisService, limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "telemetry rate limit exceeded"})
			return
		}

		sessionID := c.GetHeader(sessionIDHeader)
		if sessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + sessionIDHeader + " header"})
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, telemetryBodyLimit))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}

		events, err := decodeTelemetryBody(body)
		if err != nil {
			slog.Warn("Rejected malformed telemetry batch", "session_id", sessionID, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed trace payload"})
			return
		}

		ack, err := service.IngestTelemetry(c.Request.Context(), sessionID, events)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, ack)
	}
}
