// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit records anonymized interaction records.
//
// # Description
//
// Every completed exchange produces one Record. The Sink anonymizes the
// subject, then hands the record to a Store on a background goroutine.
// The queue between request path and writer is bounded with drop-oldest
// overflow: under sustained store slowness the gateway sheds the oldest
// pending records and keeps answering students. Audit loss is counted,
// logged, and otherwise invisible to callers.
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
package audit

import (
	"time"
)

// Record is one exchange as reported by the orchestrator. Subject is the
// real user id; it never leaves this package un-anonymized.
type Record struct {
	Subject         string
	ConversationID  string
	Platform        string
	Query           string
	Reply           string
	RenderedContext string
	Model           string
	Temperature     float64
	LatencyMS       int64
	CreatedAt       time.Time
}

// StoredRecord is the persisted, anonymized form of a Record.
type StoredRecord struct {
	ID              string    `json:"id"`
	AnonymousID     string    `json:"anonymous_id"`
	ConversationID  string    `json:"conversation_id"`
	Platform        string    `json:"platform"`
	Query           string    `json:"query"`
	Reply           string    `json:"response"`
	RenderedContext string    `json:"rag_context"`
	Model           string    `json:"model"`
	Temperature     float64   `json:"temperature"`
	LatencyMS       int64     `json:"response_time_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store persists anonymized records.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	Append(rec StoredRecord) error
}
