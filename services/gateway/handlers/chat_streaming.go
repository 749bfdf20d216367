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
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/tutor-gateway/pkg/extensions"
	"github.com/AleutianAI/tutor-gateway/services/gateway/audit"
	"github.com/AleutianAI/tutor-gateway/services/gateway/datatypes"
	"github.com/AleutianAI/tutor-gateway/services/gateway/observability"
	"github.com/AleutianAI/tutor-gateway/services/gateway/orchestrator"
)

// keepAliveInterval keeps proxies from dropping the SSE connection
// during long retrieval or generation stages.
const keepAliveInterval = 15 * time.Second

// stageSink forwards orchestrator stage transitions to the SSE stream.
// A write error means the client is gone; the orchestrator decides
// whether the exchange still commits.
type stageSink struct {
	writer SSEWriter
}

func (s *stageSink) StageRetrieval() error  { return s.writer.WriteLoading() }
func (s *stageSink) StageGeneration() error { return s.writer.WriteThinking() }

// HandleChatStream serves POST /api/stream: the same exchange as
// POST /api, delivered as staged SSE frames.
//
// # Description
//
// The stream carries loading and thinking progress frames followed by
// exactly one terminal frame. Authentication runs inside the handler
// rather than middleware so refusals can be delivered as error frames
// on the already-open stream, which is what browser EventSource
// clients can actually observe.
func HandleChatStream(
	orch *orchestrator.Orchestrator,
	authenticator extensions.Authenticator,
	authorizer extensions.Authorizer,
	anon *audit.Anonymizer,
	metrics *observability.Metrics,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChatStream")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.RecordRequest(observability.EndpointStream, observability.OutcomeBadRequest, time.Since(started))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			metrics.RecordRequest(observability.EndpointStream, observability.OutcomeBadRequest, time.Since(started))
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty or too long"})
			return
		}

		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			metrics.RecordRequest(observability.EndpointStream, observability.OutcomeInternal, time.Since(started))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		info, err := authenticator.Authenticate(ctx, c.Request)
		if err == nil {
			err = authorizer.Authorize(ctx, info)
		}
		if err != nil {
			outcome := observability.OutcomeUnauthorized
			message := "authentication required"
			if errors.Is(err, extensions.ErrForbidden) {
				outcome = observability.OutcomeForbidden
				message = "not authorized for this course"
			}
			metrics.RecordRequest(observability.EndpointStream, outcome, time.Since(started))
			writer.WriteError(message)
			return
		}

		metrics.StreamOpened()

		keepAliveDone := make(chan struct{})
		defer close(keepAliveDone)
		go func() {
			ticker := time.NewTicker(keepAliveInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					writer.WriteKeepAlive()
				case <-keepAliveDone:
					return
				}
			}
		}()

		outcome, err := orch.Run(ctx, orchestrator.Exchange{
			ConversationID: req.ConversationID,
			Query:          req.Message,
			Subject:        info.Subject,
			Platform:       info.Platform,
		}, &stageSink{writer: writer})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("streamed exchange failed", "subject_alias", anon.Anonymize(info.Subject), "error", err)
			metrics.RecordRequest(observability.EndpointStream, observability.OutcomeInternal, time.Since(started))
			writer.WriteError(internalErrorMessage)
			metrics.StreamClosed(false)
			return
		}
		if outcome.Abandoned {
			metrics.RecordRequest(observability.EndpointStream, observability.OutcomeAbandoned, time.Since(started))
			metrics.StreamClosed(true)
			return
		}

		writer.WriteComplete(datatypes.StreamFrame{
			Response:       outcome.Reply,
			RAGContext:     outcome.RenderedContext,
			ConversationID: outcome.ConversationID,
			UserInfo: &datatypes.UserInfo{
				AnonymousID:       anon.Anonymize(info.Subject),
				Platform:          info.Platform,
				IsNewConversation: outcome.IsNewConversation,
			},
		})
		metrics.RecordRequest(observability.EndpointStream, observability.OutcomeOK, time.Since(started))
		metrics.StreamClosed(false)
	}
}
