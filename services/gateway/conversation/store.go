// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"hash/fnv"
	"sync"
	"time"
)

// storeShards is the number of lock shards. Power of two so the shard
// index reduces to a mask.
const storeShards = 32

// =============================================================================
// Store
// =============================================================================

// Store holds all live conversations, keyed by conversation id.
//
// # Description
//
// Store is a sharded concurrent map. Each shard has its own mutex guarding
// the id -> entry mapping; each entry additionally carries an exchange
// mutex that callers hold for the full duration of one request
// (ensure, retrieve, merge, refresh, generate, append). Requests for the
// same id therefore serialize end to end while requests for different ids
// run in parallel, limited only by shard contention on the brief map
// lookups.
//
// # Eviction
//
// MaxConversations bounds the number of retained conversations. Zero means
// unbounded, which preserves state for the lifetime of the process. When
// the bound is exceeded the least recently touched conversation is
// evicted, unless a request currently holds, or is queued for, its
// exchange lock.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	shards           [storeShards]storeShard
	maxConversations int

	now func() time.Time
}

type storeShard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	conv *Conversation

	// pins counts callers between Acquire and release, including those
	// still waiting on the exchange lock. A pinned entry is never
	// evicted. Guarded by the shard mutex, not the entry mutex.
	pins int
}

// NewStore creates a Store.
//
// maxConversations bounds retained conversations; 0 disables eviction.
func NewStore(maxConversations int) *Store {
	s := &Store{
		maxConversations: maxConversations,
		now:              time.Now,
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*entry)
	}
	return s
}

func (s *Store) shardFor(id string) *storeShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.shards[h.Sum32()%storeShards]
}

// Acquire ensures the conversation exists and takes its exchange lock.
//
// # Description
//
// If the id is unknown a fresh conversation is created with a single
// system turn holding basePrompt, and isNew is true. The returned release
// function must be called exactly once when the exchange is complete; the
// conversation must not be touched after release.
//
// # Inputs
//
//   - id: Conversation identifier. Never empty; handlers default it.
//   - basePrompt: System prompt used to seed a new conversation.
//
// # Outputs
//
//   - *Conversation: The locked conversation.
//   - isNew: True when this call created the conversation.
//   - release: Unlocks the exchange. Must be called exactly once.
func (s *Store) Acquire(id, basePrompt string) (conv *Conversation, isNew bool, release func()) {
	shard := s.shardFor(id)

	shard.mu.Lock()
	e, ok := shard.entries[id]
	if !ok {
		now := s.now()
		e = &entry{conv: &Conversation{
			ID:          id,
			Turns:       []Turn{{Role: RoleSystem, Content: basePrompt}},
			CreatedAt:   now,
			lastTouched: now,
		}}
		shard.entries[id] = e
		isNew = true
	}
	// Pin before releasing the shard lock. The entry must never be
	// observable by evictOver in an unpinned state while a caller is
	// on its way to the exchange lock.
	e.pins++
	e.conv.lastTouched = s.now()
	shard.mu.Unlock()

	// Exchange lock is taken outside the shard lock so a slow exchange
	// on one id never blocks lookups of its shard neighbors.
	e.mu.Lock()

	if s.maxConversations > 0 {
		s.evictOver(s.maxConversations)
	}

	release = func() {
		shard.mu.Lock()
		e.pins--
		shard.mu.Unlock()
		e.mu.Unlock()
	}
	return e.conv, isNew, release
}

// Peek returns a snapshot copy of a conversation's turns, or ok=false if
// the id is unknown. Used by tests and the admin surface; it does not
// touch the eviction clock.
func (s *Store) Peek(id string) (turns []Turn, ok bool) {
	shard := s.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, found := shard.entries[id]
	if !found {
		return nil, false
	}
	turns = make([]Turn, len(e.conv.Turns))
	copy(turns, e.conv.Turns)
	return turns, true
}

// Len reports the number of retained conversations.
func (s *Store) Len() int {
	total := 0
	for i := range s.shards {
		s.shards[i].mu.Lock()
		total += len(s.shards[i].entries)
		s.shards[i].mu.Unlock()
	}
	return total
}

// evictOver removes least recently touched conversations until at most
// limit remain. Pinned conversations are skipped.
func (s *Store) evictOver(limit int) {
	type victim struct {
		shard *storeShard
		id    string
		at    time.Time
	}

	for s.Len() > limit {
		var oldest *victim
		for i := range s.shards {
			shard := &s.shards[i]
			shard.mu.Lock()
			for id, e := range shard.entries {
				if e.pins > 0 {
					continue
				}
				if oldest == nil || e.conv.lastTouched.Before(oldest.at) {
					oldest = &victim{shard: shard, id: id, at: e.conv.lastTouched}
				}
			}
			shard.mu.Unlock()
		}
		if oldest == nil {
			return
		}
		oldest.shard.mu.Lock()
		// Re-check under the lock; the entry may have been pinned.
		if e, ok := oldest.shard.entries[oldest.id]; ok && e.pins == 0 {
			delete(oldest.shard.entries, oldest.id)
		}
		oldest.shard.mu.Unlock()
	}
}
