// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DroppedCounter counts records shed by the sink. Satisfied by the
// observability metrics; a nil counter is allowed.
type DroppedCounter interface {
	RecordAuditDrop()
}

// Sink is the bounded asynchronous writer between the request path and
// the audit store.
//
// # Description
//
// Record never blocks. A single background goroutine anonymizes queued
// records and appends them to the store. When the queue is full the
// oldest pending record is dropped to make room: recent interactions are
// worth more than old ones, and the request path must never stall on
// audit persistence. Close stops intake and drains everything still
// queued.
//
// # Thread Safety
//
// Safe for concurrent use.
type Sink struct {
	anonymizer *Anonymizer
	store      Store
	logger     *slog.Logger
	dropped    DroppedCounter

	mu     sync.Mutex
	queue  []Record
	limit  int
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

// NewSink creates and starts a Sink with the given queue capacity.
// A capacity below 1 defaults to 256.
func NewSink(anonymizer *Anonymizer, store Store, capacity int, dropped DroppedCounter, logger *slog.Logger) *Sink {
	if capacity < 1 {
		capacity = 256
	}
	s := &Sink{
		anonymizer: anonymizer,
		store:      store,
		logger:     logger,
		dropped:    dropped,
		limit:      capacity,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

// Record queues one interaction record. Never blocks; on overflow the
// oldest queued record is dropped.
func (s *Sink) Record(rec Record) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	droppedOldest := false
	if len(s.queue) >= s.limit {
		s.queue = s.queue[1:]
		droppedOldest = true
	}
	s.queue = append(s.queue, rec)
	s.mu.Unlock()

	if droppedOldest {
		if s.dropped != nil {
			s.dropped.RecordAuditDrop()
		}
		s.logger.Warn("audit queue full, dropped oldest record")
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close stops intake, drains the queue, and waits for the writer.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			if s.closed {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			<-s.wake
			continue
		}
		rec := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.write(rec)
	}
}

func (s *Sink) write(rec Record) {
	stored := StoredRecord{
		ID:              uuid.New().String(),
		AnonymousID:     s.anonymizer.Anonymize(rec.Subject),
		ConversationID:  rec.ConversationID,
		Platform:        rec.Platform,
		Query:           rec.Query,
		Reply:           rec.Reply,
		RenderedContext: rec.RenderedContext,
		Model:           rec.Model,
		Temperature:     rec.Temperature,
		LatencyMS:       rec.LatencyMS,
		CreatedAt:       rec.CreatedAt,
	}
	if err := s.store.Append(stored); err != nil {
		s.logger.Error("audit append failed", "error", err)
	}
}
