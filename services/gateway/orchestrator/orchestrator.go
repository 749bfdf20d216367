// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator drives one authenticated exchange from retrieval
// through generation to the appended conversation turns.
//
// # Description
//
// A request moves through fixed stages:
//
//	authenticating -> authorized -> contextRetrieval -> generating -> completed
//
// with failed reachable from anywhere. Authentication and authorization
// happen in middleware before Run is called; Run owns the remaining
// stages. The whole sequence executes under the conversation's exchange
// lock, so two requests for the same conversation serialize end to end.
//
// Degradation rules: retrieval failure shrinks context, generation
// failure becomes a fallback reply, audit failure is invisible. Only a
// programming error fails a request outright.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/tutor-gateway/services/gateway/audit"
	"github.com/AleutianAI/tutor-gateway/services/gateway/conversation"
	"github.com/AleutianAI/tutor-gateway/services/gateway/generation"
	"github.com/AleutianAI/tutor-gateway/services/gateway/observability"
	"github.com/AleutianAI/tutor-gateway/services/gateway/retrieval"
)

var tracer = otel.Tracer("tutor-gateway/orchestrator")

// Stage names one step of the request lifecycle. Stages appear in logs
// and spans; they are not part of any wire format.
type Stage string

const (
	StageAuthenticating   Stage = "authenticating"
	StageAuthorized       Stage = "authorized"
	StageContextRetrieval Stage = "contextRetrieval"
	StageGenerating       Stage = "generating"
	StageCompleted        Stage = "completed"
	StageFailed           Stage = "failed"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// RetrievalGate is the orchestrator's view of the retrieval policy wrapper.
type RetrievalGate interface {
	Fetch(ctx context.Context, query string) (groups []conversation.RetrievedGroup, degraded bool)
	Policy() retrieval.Policy
}

// GenerationGate is the orchestrator's view of the generation policy wrapper.
type GenerationGate interface {
	Complete(ctx context.Context, req generation.CompletionRequest) (reply string, failed bool)
	Policy() generation.Policy
}

// AuditRecorder accepts interaction records. Implementations must not
// block; the orchestrator calls Record on the request path.
type AuditRecorder interface {
	Record(rec audit.Record)
}

// EventSink receives stage notifications during a staged (streaming)
// exchange.
//
// # Description
//
// The orchestrator calls StageRetrieval before retrieval begins and
// StageGeneration before generation begins, in that order, at most once
// each. A nil EventSink passed to Run selects synchronous mode with no
// notifications. A non-nil error return signals that the consumer is no
// longer reachable; the orchestrator keeps working but uses the failure
// time for its abandonment decision.
type EventSink interface {
	StageRetrieval() error
	StageGeneration() error
}

// =============================================================================
// Exchange and Outcome
// =============================================================================

// Exchange is one authenticated student request.
type Exchange struct {
	ConversationID string
	Query          string
	// Subject is the authenticated user id; it reaches the audit sink,
	// which anonymizes it, and is never sent upstream.
	Subject  string
	Platform string
}

// Outcome is the result of a completed exchange.
type Outcome struct {
	Reply             string
	RenderedContext   string
	ConversationID    string
	IsNewConversation bool
	WindowSize        int
	RetrievalDegraded bool
	GenerationFailed  bool
	// Abandoned is true when the streaming client disconnected past the
	// grace period; the exchange was not appended or audited.
	Abandoned bool
}

// =============================================================================
// Orchestrator
// =============================================================================

// Config carries orchestrator tunables.
type Config struct {
	// AbandonGrace is how long after the first failed sink write the
	// exchange is still committed. Within the grace period a transient
	// write error does not discard the student's turn.
	AbandonGrace time.Duration
	// DevMode logs stage transitions at debug granularity.
	DevMode bool
}

// Orchestrator coordinates store, gates, and audit for every exchange.
//
// # Thread Safety
//
// Safe for concurrent use; all per-request state lives on the stack.
type Orchestrator struct {
	store      *conversation.Store
	basePrompt func() string
	retrieve   RetrievalGate
	generate   GenerationGate
	auditor    AuditRecorder
	metrics    *observability.Metrics
	logger     *slog.Logger
	cfg        Config
}

// New wires an Orchestrator. basePrompt is sampled on every exchange so
// hot reloads take effect without restart.
func New(
	store *conversation.Store,
	basePrompt func() string,
	retrieve RetrievalGate,
	generate GenerationGate,
	auditor AuditRecorder,
	metrics *observability.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Orchestrator {
	if cfg.AbandonGrace == 0 {
		cfg.AbandonGrace = 5 * time.Second
	}
	return &Orchestrator{
		store:      store,
		basePrompt: basePrompt,
		retrieve:   retrieve,
		generate:   generate,
		auditor:    auditor,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run executes one exchange.
//
// # Description
//
// Acquires the conversation's exchange lock, then: notifies the sink,
// retrieves and merges context, refreshes the system turn, runs the
// completion with the pre-append window size, appends the pair, and
// emits an audit record. Stage notifications (staged mode) always arrive
// in order retrieval, generation, and both precede the returned outcome.
//
// # Outputs
//
//   - Outcome: Always populated, including on degraded paths.
//   - error: Reserved for internal faults; degraded backends do not
//     produce an error.
func (o *Orchestrator) Run(ctx context.Context, ex Exchange, sink EventSink) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Run", trace.WithAttributes(
		attribute.String("conversation.id", ex.ConversationID),
		attribute.String("auth.platform", ex.Platform),
	))
	defer span.End()

	started := time.Now()
	base := o.basePrompt()

	conv, isNew, release := o.store.Acquire(ex.ConversationID, base)
	defer release()

	var firstSinkErr time.Time
	notify := func(f func() error) {
		if f == nil {
			return
		}
		if err := f(); err != nil && firstSinkErr.IsZero() {
			firstSinkErr = time.Now()
		}
	}

	// --- Stage: contextRetrieval ---
	o.logStage(ex, StageContextRetrieval)
	if sink != nil {
		notify(sink.StageRetrieval)
	}

	groups, degraded := o.retrieve.Fetch(ctx, ex.Query)
	o.metrics.RecordRetrieval(len(groups), degraded)
	if len(groups) > 0 {
		conv.Context.Merge(groups)
	}
	conv.RefreshSystemPrompt(base)

	// Window size counts exchanges before this one, so it is read
	// before the append below.
	window := conv.WindowSize()

	// --- Stage: generating ---
	o.logStage(ex, StageGenerating)
	if sink != nil {
		notify(sink.StageGeneration)
	}

	genStart := time.Now()
	reply, genFailed := o.generate.Complete(ctx, generation.CompletionRequest{
		System:          conv.Turns[0].Content,
		Query:           ex.Query,
		Window:          conv.Window(),
		WindowSize:      window,
		ConversationKey: ex.ConversationID,
	})
	o.metrics.RecordGeneration(time.Since(genStart), genFailed)

	outcome := Outcome{
		Reply:             reply,
		ConversationID:    ex.ConversationID,
		IsNewConversation: isNew,
		WindowSize:        window,
		RetrievalDegraded: degraded,
		GenerationFailed:  genFailed,
	}

	// A stream whose client has been gone past the grace period gets no
	// turn append and no audit record: the student never saw the reply,
	// so the conversation must not remember it either.
	if !firstSinkErr.IsZero() && time.Since(firstSinkErr) > o.cfg.AbandonGrace {
		outcome.Abandoned = true
		outcome.RenderedContext = conv.Context.Render()
		o.logStage(ex, StageFailed)
		o.logger.Warn("exchange abandoned by client, discarding",
			"conversation_id", ex.ConversationID,
			"gone_for", time.Since(firstSinkErr),
		)
		return outcome, nil
	}

	conv.AppendExchange(ex.Query, reply)
	outcome.RenderedContext = conv.Context.Render()

	// --- Stage: completed ---
	o.logStage(ex, StageCompleted)

	if o.auditor != nil {
		o.auditor.Record(audit.Record{
			Subject:         ex.Subject,
			ConversationID:  ex.ConversationID,
			Platform:        ex.Platform,
			Query:           ex.Query,
			Reply:           reply,
			RenderedContext: outcome.RenderedContext,
			Model:           o.generate.Policy().Model,
			Temperature:     o.generate.Policy().Temperature,
			LatencyMS:       time.Since(started).Milliseconds(),
			CreatedAt:       time.Now().UTC(),
		})
	}

	return outcome, nil
}

func (o *Orchestrator) logStage(ex Exchange, stage Stage) {
	if !o.cfg.DevMode {
		return
	}
	o.logger.Debug("stage transition",
		"conversation_id", ex.ConversationID,
		"stage", string(stage),
	)
}
