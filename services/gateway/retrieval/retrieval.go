// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval fetches course passages relevant to a query.
//
// # Description
//
// A Retriever backend performs the actual similarity search (the hosted
// proxy or a Weaviate instance). The Gate wraps a backend with the fixed
// retrieval policy and converts every failure mode into an empty,
// degraded result: retrieval is best effort and must never fail a
// request.
//
// # Thread Safety
//
// All types are safe for concurrent use.
package retrieval

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/tutor-gateway/services/gateway/conversation"
)

var tracer = otel.Tracer("tutor-gateway/retrieval")

// =============================================================================
// Interfaces and Policy
// =============================================================================

// Retriever performs a similarity search for a query.
//
// # Outputs
//
//   - []conversation.RetrievedGroup: Zero or more passage groups, most
//     relevant first. An empty slice is a valid result, not an error.
//   - error: Non-nil only for backend or transport failures.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Retriever interface {
	Fetch(ctx context.Context, query string) ([]conversation.RetrievedGroup, error)
}

// Policy is the fixed retrieval policy. It is set from configuration at
// construction time; request payloads cannot alter it.
type Policy struct {
	// CollectionKey names the passage collection to search.
	CollectionKey string
	// Threshold is the minimum relevance score for a passage.
	Threshold float64
	// TopK caps the number of returned passages.
	TopK int
	// Timeout bounds a single backend call.
	Timeout time.Duration
}

// DefaultPolicy returns the standing course-content policy.
func DefaultPolicy(collectionKey string) Policy {
	return Policy{
		CollectionKey: collectionKey,
		Threshold:     0.4,
		TopK:          5,
		Timeout:       10 * time.Second,
	}
}

// =============================================================================
// Gate
// =============================================================================

// Gate applies the retrieval policy and absorbs backend failures.
//
// Fetch never returns an error: a timeout, transport fault, or backend
// error yields nil groups and degraded=true. Callers merge whatever comes
// back and move on.
type Gate struct {
	backend Retriever
	policy  Policy
	logger  *slog.Logger
}

// NewGate wraps backend with policy.
func NewGate(backend Retriever, policy Policy, logger *slog.Logger) *Gate {
	return &Gate{backend: backend, policy: policy, logger: logger}
}

// Policy returns the gate's standing policy.
func (g *Gate) Policy() Policy { return g.policy }

// Fetch runs one bounded retrieval attempt.
func (g *Gate) Fetch(ctx context.Context, query string) (groups []conversation.RetrievedGroup, degraded bool) {
	ctx, span := tracer.Start(ctx, "retrieval.Gate.Fetch")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.policy.Timeout)
	defer cancel()

	groups, err := g.backend.Fetch(ctx, query)
	if err != nil {
		g.logger.Warn("retrieval degraded, continuing without context",
			"collection", g.policy.CollectionKey,
			"error", err,
		)
		span.SetAttributes(attribute.Bool("retrieval.degraded", true))
		return nil, true
	}

	span.SetAttributes(attribute.Int("retrieval.groups", len(groups)))
	return groups, false
}
