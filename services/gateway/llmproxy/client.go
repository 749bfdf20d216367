// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llmproxy is the HTTP client for the hosted completion/retrieval
// proxy.
//
// # Description
//
// The proxy multiplexes two operations over one endpoint, selected by the
// request_type header: "call" runs a model completion with the proxy's own
// per-session retrieval store, "retrieve" runs a standalone similarity
// search. Authentication is a static API key in the x-api-key header.
//
// Responses are decoded once at this boundary into tagged result types;
// nothing above this package touches the proxy's wire shapes.
//
// # Thread Safety
//
// Client is safe for concurrent use.
package llmproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("tutor-gateway/llmproxy")

// =============================================================================
// Errors
// =============================================================================

// CallError reports a proxy request that reached the service but did not
// produce a usable result.
type CallError struct {
	StatusCode int
	Message    string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("llmproxy call failed (status %d): %s", e.StatusCode, e.Message)
}

// IsCallError reports whether err is a CallError.
func IsCallError(err error) bool {
	var ce *CallError
	return errors.As(err, &ce)
}

// =============================================================================
// Wire Types
// =============================================================================

type generateBody struct {
	Model        string  `json:"model"`
	System       string  `json:"system"`
	Query        string  `json:"query"`
	Temperature  float64 `json:"temperature"`
	LastK        int     `json:"lastk"`
	SessionID    string  `json:"session_id"`
	RAGUsage     bool    `json:"rag_usage"`
	RAGThreshold float64 `json:"rag_threshold"`
	RAGK         int     `json:"rag_k"`
}

type retrieveBody struct {
	Query        string  `json:"query"`
	SessionID    string  `json:"session_id"`
	RAGThreshold float64 `json:"rag_threshold"`
	RAGK         int     `json:"rag_k"`
}

type generateResult struct {
	Result     string          `json:"result"`
	RAGContext json.RawMessage `json:"rag_context"`
}

// RetrievedDoc is one document group returned by a retrieve call.
type RetrievedDoc struct {
	Summary string   `json:"doc_summary"`
	Chunks  []string `json:"chunks"`
}

// Completion is the decoded result of a generate call.
type Completion struct {
	Text string
}

// =============================================================================
// Client
// =============================================================================

// Config carries the static connection parameters for the proxy.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client talks to the completion/retrieval proxy.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	logger   *slog.Logger
}

// New creates a Client from cfg. A zero Timeout defaults to 60s.
func New(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Generate runs a model completion through the proxy.
//
// # Description
//
// Sends a request_type=call request. The system prompt and query are
// escaped for transport first; the proxy embeds them into a JSON template
// on its side and chokes on raw control characters. The proxy keeps its
// own rolling window per session_id, so lastK tells it how many prior
// exchanges to include.
//
// # Outputs
//
//   - Completion: The generated reply text.
//   - error: *CallError for non-200 responses or unusable bodies;
//     transport errors otherwise.
func (c *Client) Generate(ctx context.Context, model, system, query, sessionID string, temperature float64, lastK int) (Completion, error) {
	ctx, span := tracer.Start(ctx, "llmproxy.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llmproxy.model", model),
		attribute.Int("llmproxy.lastk", lastK),
	)

	body := generateBody{
		Model:       model,
		System:      EscapeForTransport(system),
		Query:       EscapeForTransport(query),
		Temperature: temperature,
		LastK:       lastK,
		SessionID:   sessionID,
		// Retrieval composition happens gateway-side; the proxy's own
		// store must not inject a second context block.
		RAGUsage: false,
	}

	raw, err := c.post(ctx, "call", body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		return Completion{}, err
	}

	var res generateResult
	if err := json.Unmarshal(raw, &res); err != nil {
		err = &CallError{StatusCode: http.StatusOK, Message: "malformed completion body"}
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate decode failed")
		return Completion{}, err
	}
	return Completion{Text: res.Result}, nil
}

// Retrieve runs a standalone similarity search through the proxy.
//
// sessionID selects the proxy-side collection to search; threshold and
// topK bound the result set.
func (c *Client) Retrieve(ctx context.Context, query, sessionID string, threshold float64, topK int) ([]RetrievedDoc, error) {
	ctx, span := tracer.Start(ctx, "llmproxy.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("llmproxy.top_k", topK))

	body := retrieveBody{
		Query:        EscapeForTransport(query),
		SessionID:    sessionID,
		RAGThreshold: threshold,
		RAGK:         topK,
	}

	raw, err := c.post(ctx, "retrieve", body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieve failed")
		return nil, err
	}

	var docs []RetrievedDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		err = &CallError{StatusCode: http.StatusOK, Message: "malformed retrieval body"}
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieve decode failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("llmproxy.groups", len(docs)))
	return docs, nil
}

// post sends one proxy request and returns the raw 200 body.
func (c *Client) post(ctx context.Context, requestType string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", requestType, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", requestType, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("request_type", requestType)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", requestType, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", requestType, err)
	}

	c.logger.Debug("llmproxy request complete",
		"request_type", requestType,
		"status", resp.StatusCode,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, &CallError{StatusCode: resp.StatusCode, Message: summarizeErrorBody(raw)}
	}
	return raw, nil
}

// summarizeErrorBody extracts a short message from an error response.
// Bodies are untrusted and may be huge or non-JSON.
func summarizeErrorBody(raw []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	const max = 200
	s := string(raw)
	if len(s) > max {
		s = s[:max]
	}
	return s
}
