// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit talks to the page audit engine, the headless service
// that loads the target URL and measures its web vitals.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianPulse/services/pulse/datatypes"
)

var tracer = otel.Tracer("pulse.audit")

// Result is one completed page audit: the parsed scores plus the raw
// engine report for artifact storage.
type Result struct {
	Performance *datatypes.PerformanceMetrics
	SEO         *datatypes.SEOMetrics
	RawReport   json.RawMessage
}

// Engine runs a page audit against a URL. Run blocks until the engine
// finishes; callers own the timeout via ctx.
type Engine interface {
	Run(ctx context.Context, targetURL string) (*Result, error)
}

type auditRequest struct {
	URL string `json:"url"`
}

// auditResponse is the engine's report envelope. The whole body is
// kept verbatim as the raw report.
type auditResponse struct {
	Performance *datatypes.PerformanceMetrics `json:"performance"`
	SEO         *datatypes.SEOMetrics         `json:"seo"`
}

// HTTPEngine posts to a remote audit engine speaking the /audit
// protocol.
type HTTPEngine struct {
	httpClient *http.Client
	auditURL   string
}

var _ Engine = (*HTTPEngine)(nil)

// NewHTTPEngine reads AUDIT_ENGINE_URL. Audits are slow; the client
// timeout is generous and ctx still wins.
func NewHTTPEngine() (*HTTPEngine, error) {
	baseURL := os.Getenv("AUDIT_ENGINE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("AUDIT_ENGINE_URL environment variable not set")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return &HTTPEngine{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		auditURL:   baseURL + "/audit",
	}, nil
}

// NewHTTPEngineWithURL is the injectable constructor used by tests.
func NewHTTPEngineWithURL(auditURL string) *HTTPEngine {
	return &HTTPEngine{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		auditURL:   auditURL,
	}
}

func (e *HTTPEngine) Run(ctx context.Context, targetURL string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "HTTPEngine.Run")
	defer span.End()
	span.SetAttributes(attribute.String("audit.target_url", targetURL))

	reqBody, err := json.Marshal(auditRequest{URL: targetURL})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.auditURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Info("Running page audit", "target_url", targetURL)
	resp, err := e.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("audit engine call failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read audit engine response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("audit engine returned status %d: %s", resp.StatusCode, string(bodyBytes))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var parsed auditResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to parse audit engine response: %w", err)
	}
	if parsed.Performance == nil {
		return nil, fmt.Errorf("audit engine response is missing performance metrics")
	}

	span.SetAttributes(attribute.Float64("audit.performance_score", parsed.Performance.Score))
	return &Result{
		Performance: parsed.Performance,
		SEO:         parsed.SEO,
		RawReport:   bodyBytes,
	}, nil
}
