// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request, response, and frame types for the
// gateway's HTTP surface.
package datatypes

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageBytes bounds a single student message. Checked in bytes,
	// not runes, to bound memory regardless of encoding.
	MaxMessageBytes = 32 * 1024

	// MaxConversationIDBytes bounds the caller-chosen conversation id.
	MaxConversationIDBytes = 256

	// DefaultConversationID is used when the request omits one, which
	// gives each authenticated user a single implicit thread.
	DefaultConversationID = "default"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces MaxMessageBytes on string fields.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageBytes
}

// =============================================================================
// Chat Request / Response
// =============================================================================

// ChatRequest is the body of POST /api and POST /api/stream.
type ChatRequest struct {
	// Message is the student's query. Required, non-blank, at most 32KB.
	Message string `json:"message" validate:"required,maxbytes"`

	// ConversationID selects the thread. Optional; defaults to
	// DefaultConversationID.
	ConversationID string `json:"conversationId" validate:"omitempty,max=256"`
}

// EnsureDefaults fills the conversation id when absent.
func (r *ChatRequest) EnsureDefaults() {
	if strings.TrimSpace(r.ConversationID) == "" {
		r.ConversationID = DefaultConversationID
	}
}

// ErrBlankMessage rejects messages that are empty or all whitespace.
var ErrBlankMessage = errors.New("message must not be blank")

// Validate checks the request after EnsureDefaults. A message that is
// all whitespace fails the same way an absent one does.
func (r *ChatRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return ErrBlankMessage
	}
	return chatValidate.Struct(r)
}

// UserInfo echoes the caller's anonymized identity in responses.
type UserInfo struct {
	AnonymousID       string `json:"anonymous_id"`
	Platform          string `json:"platform"`
	IsNewConversation bool   `json:"is_new_conversation"`
}

// ChatResponse is the body of a successful POST /api.
type ChatResponse struct {
	Response       string   `json:"response"`
	RAGContext     string   `json:"rag_context"`
	ConversationID string   `json:"conversation_id"`
	UserInfo       UserInfo `json:"user_info"`
}

// =============================================================================
// Stream Frames
// =============================================================================

// Frame statuses. A stream carries zero or more progress frames
// (loading, thinking) followed by exactly one terminal frame (complete
// or error).
const (
	FrameLoading  = "loading"
	FrameThinking = "thinking"
	FrameComplete = "complete"
	FrameError    = "error"
)

// Progress frame messages shown verbatim by clients.
const (
	LoadingMessage  = "Looking at course content..."
	ThinkingMessage = "Thinking..."
)

// StreamFrame is one SSE data frame on POST /api/stream.
//
// Progress frames populate Status and Message. The complete frame
// additionally carries the same payload as ChatResponse. Error frames
// populate Status and Error only.
type StreamFrame struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`

	Response       string    `json:"response,omitempty"`
	RAGContext     string    `json:"rag_context,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	UserInfo       *UserInfo `json:"user_info,omitempty"`

	Error string `json:"error,omitempty"`
}
