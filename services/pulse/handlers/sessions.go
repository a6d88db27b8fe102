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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianPulse/services/pulse/middleware"
)

// DeleteSession removes a session record together with its vector
// documents.
func DeleteSession(service AnalysisService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		slog.Info("Received a request to delete a session", "session_id", sessionID)

		if err := service.DeleteSession(c.Request.Context(), middleware.GetOwnerID(c), sessionID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": sessionID})
	}
}
