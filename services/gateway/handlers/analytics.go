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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/tutor-gateway/services/gateway/audit"
	"github.com/AleutianAI/tutor-gateway/services/gateway/middleware"
	"github.com/AleutianAI/tutor-gateway/services/gateway/observability"
)

// HandleAnalytics serves GET /analytics: system and engagement
// aggregates over the anonymized interaction log. Any authenticated
// user may read them; nothing here can be traced back to a student.
func HandleAnalytics(store audit.Exporter, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()

		if middleware.GetAuthInfo(c) == nil {
			metrics.RecordRequest(observability.EndpointAnalytics, observability.OutcomeUnauthorized, time.Since(started))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if store == nil {
			metrics.RecordRequest(observability.EndpointAnalytics, observability.OutcomeInternal, time.Since(started))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics unavailable"})
			return
		}

		analytics, err := audit.Summarize(store, time.Now().UTC())
		if err != nil {
			slog.Error("analytics summarize failed", "error", err)
			metrics.RecordRequest(observability.EndpointAnalytics, observability.OutcomeInternal, time.Since(started))
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrorMessage})
			return
		}

		metrics.RecordRequest(observability.EndpointAnalytics, observability.OutcomeOK, time.Since(started))
		c.JSON(http.StatusOK, analytics)
	}
}
