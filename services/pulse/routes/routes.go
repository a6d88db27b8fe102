// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianPulse/services/pulse/handlers"
	"github.com/AleutianAI/AleutianPulse/services/pulse/middleware"
)

// telemetryRate caps the public telemetry endpoint at 50 batches/s with
// a burst of 100.
var telemetryRate = rate.NewLimiter(rate.Limit(50), 100)

func SetupRoutes(router *gin.Engine, service handlers.AnalysisService, authProvider middleware.AuthProvider) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The telemetry endpoint stays outside the auth group: browser
	// exporters cannot hold credentials, so it is public and
	// rate-limited instead.
	router.POST("/telemetry", handlers.IngestTelemetry(service, telemetryRate))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(authProvider))
	{
		analysis := v1.Group("/analysis")
		{
			analysis.POST("", handlers.StartAnalysis(service))
			analysis.POST("/compare", handlers.CompareAnalyses(service))
			analysis.GET("/:id", handlers.GetAnalysis(service))
			analysis.POST("/:id/insights", handlers.GenerateInsights(service))
		}
		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handlers.History(service))
			sessions.DELETE("/:id", handlers.DeleteSession(service))
		}
		v1.GET("/stats", handlers.Stats(service))
	}
}
