// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation provides per-conversation dialogue state for the
// tutoring gateway.
//
// # Description
//
// This package owns the three pieces of state that survive across requests
// within one conversation:
//
//   - The turn list: a system prompt at index 0 followed by strictly
//     alternating user/assistant pairs.
//   - The context log: an append-only record of every retrieved passage
//     group merged into the conversation so far.
//   - The last-touch timestamp used for optional eviction.
//
// The Store serializes all access per conversation id while allowing
// distinct conversations to proceed in parallel.
//
// # Thread Safety
//
// Store is safe for concurrent use. Conversation is not safe on its own;
// callers access it only while holding the exchange lock handed out by
// Store.Acquire.
package conversation

import (
	"time"
)

// =============================================================================
// Turn Types
// =============================================================================

// Role identifies the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single dialogue turn.
//
// The turn at index 0 of a conversation always has RoleSystem and holds the
// effective system prompt. It is the only mutable turn; everything after it
// is append-only.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// RetrievedGroup is one source document's contribution to the accumulated
// context: a one-line summary plus the passage chunks retrieved from it.
type RetrievedGroup struct {
	Summary string   `json:"summary"`
	Chunks  []string `json:"chunks"`
}

// =============================================================================
// Conversation
// =============================================================================

// Conversation is the per-id dialogue state.
//
// # Fields
//
//   - ID: The caller-chosen conversation identifier.
//   - Turns: System prompt at index 0, then alternating user/assistant pairs.
//   - Context: Append-only log of retrieved passage groups.
//   - CreatedAt: When the conversation was first ensured.
//
// # Invariants
//
//   - len(Turns) >= 1 and Turns[0].Role == RoleSystem at all times.
//   - Turns[2k+1] is a user turn and Turns[2k+2] is the paired assistant
//     turn for every completed exchange k.
//   - Turns after index 0 are never modified or removed.
type Conversation struct {
	ID        string
	Turns     []Turn
	Context   ContextLog
	CreatedAt time.Time

	lastTouched time.Time
}

// WindowSize reports the number of completed user/assistant exchanges.
//
// # Description
//
// Computed as (len(Turns)-1)/2. The orchestrator reads this before
// appending the current exchange, so the value that accompanies a
// generation request counts only prior exchanges.
func (c *Conversation) WindowSize() int {
	return (len(c.Turns) - 1) / 2
}

// Window returns the prior user/assistant turns, excluding the system
// prompt. The returned slice aliases the conversation's backing array and
// must not be retained past the exchange lock.
func (c *Conversation) Window() []Turn {
	return c.Turns[1:]
}

// RefreshSystemPrompt overwrites the system turn in place.
//
// When rendered context is empty the system turn is exactly the base
// prompt; otherwise the rendered block is appended after a blank line.
func (c *Conversation) RefreshSystemPrompt(base string) {
	c.Turns[0] = Turn{Role: RoleSystem, Content: EffectivePrompt(base, c.Context.Render())}
}

// AppendExchange appends one completed user/assistant pair.
func (c *Conversation) AppendExchange(userMsg, assistantMsg string) {
	c.Turns = append(c.Turns,
		Turn{Role: RoleUser, Content: userMsg},
		Turn{Role: RoleAssistant, Content: assistantMsg},
	)
}

// EffectivePrompt combines the base system prompt with rendered context.
//
// An empty rendering yields the base prompt byte for byte, so a
// conversation that never retrieved anything carries an unmodified
// system turn.
func EffectivePrompt(base, rendered string) string {
	if rendered == "" {
		return base
	}
	return base + "\n\n" + rendered
}
