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
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/tutor-gateway/pkg/extensions"
	"github.com/AleutianAI/tutor-gateway/services/gateway/audit"
	"github.com/AleutianAI/tutor-gateway/services/gateway/auth"
	"github.com/AleutianAI/tutor-gateway/services/gateway/handlers"
	"github.com/AleutianAI/tutor-gateway/services/gateway/middleware"
	"github.com/AleutianAI/tutor-gateway/services/gateway/observability"
	"github.com/AleutianAI/tutor-gateway/services/gateway/orchestrator"
)

// Deps carries everything the route table wires into handlers.
type Deps struct {
	Orchestrator  *orchestrator.Orchestrator
	Authenticator extensions.Authenticator
	Authorizer    extensions.Authorizer
	Tokens        *auth.TokenService
	Pairing       *auth.Pairing
	Anonymizer    *audit.Anonymizer
	AuditStore    audit.Exporter
	Metrics       *observability.Metrics
	Limiter       *middleware.SubjectLimiter
	Registry      *prometheus.Registry
}

// SetupRoutes installs the gateway's endpoints on the router.
//
// POST /api and the pairing completion run behind the auth middleware.
// POST /api/stream authenticates inside the handler so refusals arrive
// as SSE error frames. Pair begin and claim are reachable without
// credentials; the claim itself is the secret.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HandleHealth())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	authed := router.Group("/")
	authed.Use(middleware.Auth(deps.Authenticator, deps.Authorizer))
	authed.Use(middleware.RateLimit(deps.Limiter, func(c *gin.Context) {
		deps.Metrics.RecordRequest(endpointLabel(c.FullPath()), observability.OutcomeRateLimited, 0)
	}))
	{
		authed.POST("/api", handlers.HandleChat(deps.Orchestrator, deps.Anonymizer, deps.Metrics))
		authed.GET("/analytics", handlers.HandleAnalytics(deps.AuditStore, deps.Metrics))
		authed.POST("/api/pair/complete", handlers.HandlePairComplete(deps.Pairing, deps.Metrics))
		authed.POST("/api/pair/direct", handlers.HandlePairDirect(deps.Tokens, deps.Metrics))
	}

	router.POST("/api/stream", handlers.HandleChatStream(
		deps.Orchestrator, deps.Authenticator, deps.Authorizer, deps.Anonymizer, deps.Metrics))
	router.POST("/api/pair/begin", handlers.HandlePairBegin(deps.Pairing, deps.Metrics))
	router.GET("/api/pair/claim", handlers.HandlePairClaim(deps.Pairing, deps.Metrics))
}

// endpointLabel maps a matched route to its metrics endpoint label.
func endpointLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/pair"):
		return observability.EndpointPair
	case path == "/analytics":
		return observability.EndpointAnalytics
	default:
		return observability.EndpointChat
	}
}
