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
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tutor-gateway/services/gateway/audit"
	"github.com/AleutianAI/tutor-gateway/services/gateway/auth"
	"github.com/AleutianAI/tutor-gateway/services/gateway/conversation"
	"github.com/AleutianAI/tutor-gateway/services/gateway/generation"
	"github.com/AleutianAI/tutor-gateway/services/gateway/middleware"
	"github.com/AleutianAI/tutor-gateway/services/gateway/observability"
	"github.com/AleutianAI/tutor-gateway/services/gateway/orchestrator"
	"github.com/AleutianAI/tutor-gateway/services/gateway/retrieval"
)

type noopRetrieval struct{}

func (noopRetrieval) Fetch(context.Context, string) ([]conversation.RetrievedGroup, bool) {
	return nil, false
}
func (noopRetrieval) Policy() retrieval.Policy { return retrieval.DefaultPolicy("cs101") }

type echoGeneration struct{}

func (echoGeneration) Complete(_ context.Context, req generation.CompletionRequest) (string, bool) {
	return "echo: " + req.Query, false
}
func (echoGeneration) Policy() generation.Policy { return generation.DefaultPolicy("test-model") }

type noopAuditor struct{}

func (noopAuditor) Record(audit.Record) {}

type emptyAuditStore struct{}

func (emptyAuditStore) Export(func(rec audit.StoredRecord) error) error { return nil }

func newTestRouter(t *testing.T, limiter *middleware.SubjectLimiter) (*gin.Engine, *auth.TokenService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.Default()
	store := conversation.NewStore(0)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry, store.Len)
	tokens := auth.NewTokenService([]byte("routes-test-secret"))

	orch := orchestrator.New(
		store,
		func() string { return "You are a patient course tutor." },
		noopRetrieval{},
		echoGeneration{},
		noopAuditor{},
		metrics,
		logger,
		orchestrator.Config{},
	)

	router := gin.New()
	SetupRoutes(router, Deps{
		Orchestrator:  orch,
		Authenticator: auth.NewBearer(tokens),
		Authorizer:    auth.NewRosterFromList(""),
		Tokens:        tokens,
		Pairing:       auth.NewPairing(tokens, "https://tutor.example.edu/login"),
		Anonymizer:    audit.NewAnonymizer(nil, logger),
		AuditStore:    emptyAuditStore{},
		Metrics:       metrics,
		Limiter:       limiter,
		Registry:      registry,
	})
	return router, tokens
}

func TestRouteTable(t *testing.T) {
	router, tokens := newTestRouter(t, middleware.NewSubjectLimiter(0, 1))

	t.Run("health is open", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("metrics are exposed", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "tutor_conversation_live")
	})

	t.Run("chat requires credentials", func(t *testing.T) {
		w := httptest.NewRecorder()
		body := strings.NewReader(`{"message": "hello"}`)
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api", body))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("chat accepts a bearer token", func(t *testing.T) {
		token, err := tokens.Issue("ada", "vscode")
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(`{"message": "hello"}`))
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "echo: hello")
	})

	t.Run("stream refusal is an SSE error frame", func(t *testing.T) {
		w := httptest.NewRecorder()
		body := strings.NewReader(`{"message": "hello"}`)
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/stream", body))

		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), `"status":"error"`)
	})

	t.Run("pair begin is open", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/pair/begin", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "pairing_session")
	})

	t.Run("analytics requires credentials", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/analytics", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("analytics serves aggregates to a bearer token", func(t *testing.T) {
		token, err := tokens.Issue("ada", "vscode")
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/analytics", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "system_analytics")
		assert.Contains(t, w.Body.String(), "engagement_analytics")
	})
}

func TestRateLimitLabelsRejectionsByRoute(t *testing.T) {
	router, tokens := newTestRouter(t, middleware.NewSubjectLimiter(1, 1))

	token, err := tokens.Issue("ada", "vscode")
	require.NoError(t, err)

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/pair/direct", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, "request %d", i+1)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(),
		`tutor_gateway_requests_total{endpoint="pair",outcome="rate_limited"} 1`)
	assert.NotContains(t, w.Body.String(),
		`tutor_gateway_requests_total{endpoint="chat",outcome="rate_limited"}`)
}
