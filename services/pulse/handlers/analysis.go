// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers holds the gin HTTP handlers of the pulse API. Each
// handler is a closure over the analysis service; all domain rules live
// in the pipeline, handlers only translate HTTP.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianPulse/services/pulse/datatypes"
	"github.com/AleutianAI/AleutianPulse/services/pulse/middleware"
)

// AnalysisService is the pipeline surface the handlers depend on.
// *pipeline.Pipeline implements it.
type AnalysisService interface {
	Start(ctx context.Context, ownerID, rawURL string) (*datatypes.Session, error)
	GetSession(ctx context.Context, ownerID, sessionID string) (*datatypes.Session, error)
	GenerateInsights(ctx context.Context, ownerID, sessionID, question string) error
	IngestTelemetry(ctx context.Context, sessionID string, events []datatypes.SpanEvent) (datatypes.TelemetryAck, error)
	Compare(ctx context.Context, ownerID, idA, idB string) (datatypes.ComparisonResult, error)
	History(ctx context.Context, ownerID string, limit int) ([]datatypes.Session, error)
	Stats(ctx context.Context, ownerID string) (datatypes.DashboardStats, error)
	DeleteSession(ctx context.Context, ownerID, sessionID string) error
}

// respondError maps domain sentinels onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, datatypes.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, datatypes.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "not your session"})
	case errors.Is(err, datatypes.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, datatypes.ErrMissingMetrics):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		slog.Error("Request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// StartAnalysis schedules a new analysis run. The audit proceeds in the
// background; the response only carries the session id to poll.
func StartAnalysis(service AnalysisService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.StartAnalysisRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		session, err := service.Start(c.Request.Context(), middleware.GetOwnerID(c), req.URL)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, datatypes.StartAnalysisResponse{
			SessionID: session.ID,
			Message:   "Analysis started. Poll the session for progress.",
		})
	}
}

// GetAnalysis returns the full session record.
func GetAnalysis(service AnalysisService) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := service.GetSession(c.Request.Context(), middleware.GetOwnerID(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

type generateInsightsRequest struct {
	Question string `json:"question"`
}

// GenerateInsights triggers the AI insight stage for a session.
func GenerateInsights(service AnalysisService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req generateInsightsRequest
		// Body is optional; an empty question falls back to the default.
		if c.Request.Body != nil && c.Request.ContentLength > 0 {
			if err := c.BindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
				return
			}
		}

		err := service.GenerateInsights(c.Request.Context(), middleware.GetOwnerID(c), c.Param("id"), req.Question)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "insight generation started"})
	}
}

// CompareAnalyses runs the synchronous A/B comparison.
func CompareAnalyses(service AnalysisService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CompareRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		result, err := service.Compare(c.Request.Context(), middleware.GetOwnerID(c), req.IDA, req.IDB)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// History lists the owner's sessions newest first. ?limit caps the
// page, defaulting to 20.
func History(service AnalysisService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = parsed
		}

		sessions, err := service.History(c.Request.Context(), middleware.GetOwnerID(c), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		if sessions == nil {
			sessions = []datatypes.Session{}
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	}
}

// Stats returns the owner's dashboard header numbers.
func Stats(service AnalysisService) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := service.Stats(c.Request.Context(), middleware.GetOwnerID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
