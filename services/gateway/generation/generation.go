// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generation produces tutor replies from an upstream model.
//
// # Description
//
// A Generator backend runs one completion (the hosted proxy or OpenAI
// directly). The Gate wraps a backend with the fixed sampling policy and
// folds failures into a best-effort reply string, so an upstream outage
// degrades the answer rather than the exchange: the conversation still
// appends a pair and the caller still gets a 200.
//
// # Thread Safety
//
// All types are safe for concurrent use.
package generation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/tutor-gateway/services/gateway/conversation"
)

var tracer = otel.Tracer("tutor-gateway/generation")

// FallbackReply is returned when the backend could not produce a
// completion. It is the assistant turn that gets appended, so students see
// a stable message instead of an error page.
const FallbackReply = "Sorry, I ran into a problem answering that. Please try asking again in a moment."

// =============================================================================
// Interfaces and Policy
// =============================================================================

// CompletionRequest carries everything a backend needs for one completion.
type CompletionRequest struct {
	// System is the effective system prompt, base plus rendered context.
	System string
	// Query is the student's current message.
	Query string
	// Window holds the prior user/assistant turns, oldest first.
	Window []conversation.Turn
	// WindowSize counts completed exchanges before this one. Backends
	// that keep server-side history (the proxy) send this instead of
	// Window.
	WindowSize int
	// ConversationKey identifies the conversation to backends with
	// server-side history.
	ConversationKey string
}

// Generator runs one model completion.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Generator interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Policy is the fixed sampling policy, set from configuration at
// construction time and never request-controllable.
type Policy struct {
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// DefaultPolicy returns the standing tutoring policy for model.
func DefaultPolicy(model string) Policy {
	return Policy{
		Model:       model,
		Temperature: 0.7,
		Timeout:     90 * time.Second,
	}
}

// =============================================================================
// Gate
// =============================================================================

// Gate applies the sampling policy and folds failures into FallbackReply.
type Gate struct {
	backend Generator
	policy  Policy
	logger  *slog.Logger
}

// NewGate wraps backend with policy.
func NewGate(backend Generator, policy Policy, logger *slog.Logger) *Gate {
	return &Gate{backend: backend, policy: policy, logger: logger}
}

// Policy returns the gate's standing policy.
func (g *Gate) Policy() Policy { return g.policy }

// Complete runs one bounded completion.
//
// failed reports whether the reply is the fallback rather than model
// output; callers use it for metrics and audit, never to abort.
func (g *Gate) Complete(ctx context.Context, req CompletionRequest) (reply string, failed bool) {
	ctx, span := tracer.Start(ctx, "generation.Gate.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("generation.model", g.policy.Model),
		attribute.Int("generation.window", req.WindowSize),
	)

	ctx, cancel := context.WithTimeout(ctx, g.policy.Timeout)
	defer cancel()

	text, err := g.backend.Complete(ctx, req)
	if err != nil {
		g.logger.Error("generation failed, returning fallback reply",
			"model", g.policy.Model,
			"conversation_id", req.ConversationKey,
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return FallbackReply, true
	}
	if text == "" {
		g.logger.Error("generation returned empty completion",
			"model", g.policy.Model,
			"conversation_id", req.ConversationKey,
		)
		return FallbackReply, true
	}
	return text, false
}
