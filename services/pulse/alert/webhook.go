// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package alert pushes high-severity findings to an operator webhook.
// Alerting is best effort: a dead webhook must never fail the pipeline.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianPulse/services/pulse/datatypes"
)

// Sink receives finished-session findings worth waking someone up for.
type Sink interface {
	Notify(ctx context.Context, sessionID, targetURL string, findings []datatypes.InsightRecord)
}

// NopSink drops all alerts. Used when no webhook is configured.
type NopSink struct{}

func (NopSink) Notify(context.Context, string, string, []datatypes.InsightRecord) {}

// WebhookSink posts a Slack-compatible attachment payload to a
// configured webhook URL.
type WebhookSink struct {
	httpClient *http.Client
	webhookURL string
}

var _ Sink = (*WebhookSink)(nil)

func NewWebhookSink(webhookURL string) *WebhookSink {
	return &WebhookSink{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

type webhookAttachment struct {
	Color string `json:"color"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

type webhookPayload struct {
	Text        string              `json:"text"`
	Attachments []webhookAttachment `json:"attachments"`
}

func severityColor(severity datatypes.InsightSeverity) string {
	if severity == datatypes.SeverityCritical {
		return "#d00000"
	}
	return "#e8a000"
}

// Notify filters to alertable findings and fires one webhook post for
// the session. Errors are logged and swallowed.
func (s *WebhookSink) Notify(ctx context.Context, sessionID, targetURL string, findings []datatypes.InsightRecord) {
	var attachments []webhookAttachment
	for _, finding := range findings {
		if !finding.Severity.Alertable() {
			continue
		}
		text := finding.Description
		if finding.SuggestedFix != "" {
			text = fmt.Sprintf("%s\nSuggested fix: %s", finding.Title, finding.SuggestedFix)
		}
		attachments = append(attachments, webhookAttachment{
			Color: severityColor(finding.Severity),
			Title: fmt.Sprintf("[%s] %s", finding.Severity, finding.Title),
			Text:  text,
		})
	}
	if len(attachments) == 0 {
		return
	}

	payload := webhookPayload{
		Text:        fmt.Sprintf("Performance analysis of %s found %d high-severity issues (session %s)", targetURL, len(attachments), sessionID),
		Attachments: attachments,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal alert payload", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewBuffer(body))
	if err != nil {
		slog.Error("Failed to build alert request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Warn("Alert webhook call failed", "session_id", sessionID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		slog.Warn("Alert webhook rejected payload", "session_id", sessionID, "status", resp.StatusCode)
		return
	}
	slog.Info("Sent alert webhook", "session_id", sessionID, "findings", len(attachments))
}
