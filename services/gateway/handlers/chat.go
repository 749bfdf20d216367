// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gateway's HTTP endpoints.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/tutor-gateway/services/gateway/audit"
	"github.com/AleutianAI/tutor-gateway/services/gateway/datatypes"
	"github.com/AleutianAI/tutor-gateway/services/gateway/middleware"
	"github.com/AleutianAI/tutor-gateway/services/gateway/observability"
	"github.com/AleutianAI/tutor-gateway/services/gateway/orchestrator"
)

var chatTracer = otel.Tracer("tutor-gateway/handlers")

// internalErrorMessage is the only error string the client sees for
// gateway faults. Upstream details stay in the logs.
const internalErrorMessage = "something went wrong, please try again"

// HandleChat serves POST /api: one synchronous question-and-answer
// exchange. Degraded retrieval and generation fallbacks still return
// 200 with the fallback content; only gateway faults return 500.
func HandleChat(orch *orchestrator.Orchestrator, anon *audit.Anonymizer, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.RecordRequest(observability.EndpointChat, observability.OutcomeBadRequest, time.Since(started))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			metrics.RecordRequest(observability.EndpointChat, observability.OutcomeBadRequest, time.Since(started))
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty or too long"})
			return
		}

		info := middleware.GetAuthInfo(c)
		if info == nil {
			metrics.RecordRequest(observability.EndpointChat, observability.OutcomeUnauthorized, time.Since(started))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		outcome, err := orch.Run(ctx, orchestrator.Exchange{
			ConversationID: req.ConversationID,
			Query:          req.Message,
			Subject:        info.Subject,
			Platform:       info.Platform,
		}, nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("exchange failed", "subject_alias", anon.Anonymize(info.Subject), "error", err)
			metrics.RecordRequest(observability.EndpointChat, observability.OutcomeInternal, time.Since(started))
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrorMessage})
			return
		}

		metrics.RecordRequest(observability.EndpointChat, observability.OutcomeOK, time.Since(started))
		c.JSON(http.StatusOK, datatypes.ChatResponse{
			Response:       outcome.Reply,
			RAGContext:     outcome.RenderedContext,
			ConversationID: outcome.ConversationID,
			UserInfo: datatypes.UserInfo{
				AnonymousID:       anon.Anonymize(info.Subject),
				Platform:          info.Platform,
				IsNewConversation: outcome.IsNewConversation,
			},
		})
	}
}
