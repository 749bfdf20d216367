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
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tutor-gateway/services/gateway/storage/badger"
)

// =============================================================================
// Anonymizer
// =============================================================================

func TestAnonymizer_AliasShape(t *testing.T) {
	a := NewAnonymizer(nil, slog.Default())
	alias := a.Anonymize("jsmith01")
	assert.Regexp(t, regexp.MustCompile(`^[a-z]{6}[0-9]{2}$`), alias)
}

func TestAnonymizer_Stable(t *testing.T) {
	a := NewAnonymizer(nil, slog.Default())
	first := a.Anonymize("jsmith01")

	// A fresh instance must derive the same alias.
	b := NewAnonymizer(nil, slog.Default())
	assert.Equal(t, first, b.Anonymize("jsmith01"))
}

func TestAnonymizer_DistinctSubjects(t *testing.T) {
	a := NewAnonymizer(nil, slog.Default())
	assert.NotEqual(t, a.Anonymize("jsmith01"), a.Anonymize("mdoe02"))
}

func TestAnonymizer_NoSubjectInAlias(t *testing.T) {
	a := NewAnonymizer(nil, slog.Default())
	alias := a.Anonymize("jsmith01")
	assert.NotContains(t, alias, "jsmith")
}

// =============================================================================
// Sink
// =============================================================================

type memStore struct {
	mu   sync.Mutex
	recs []StoredRecord
	err  error
}

func (m *memStore) Append(rec StoredRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memStore) records() []StoredRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StoredRecord, len(m.recs))
	copy(out, m.recs)
	return out
}

type countDrops struct {
	mu sync.Mutex
	n  int
}

func (c *countDrops) RecordAuditDrop() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countDrops) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestSink_WritesAnonymizedRecord(t *testing.T) {
	store := &memStore{}
	sink := NewSink(NewAnonymizer(nil, slog.Default()), store, 8, nil, slog.Default())

	sink.Record(Record{
		Subject:        "jsmith01",
		ConversationID: "default",
		Platform:       "web",
		Query:          "what is merge sort",
		Reply:          "It splits and merges.",
		Model:          "gpt-4o",
		Temperature:    0.7,
		LatencyMS:      420,
		CreatedAt:      time.Now().UTC(),
	})
	sink.Close()

	recs := store.records()
	require.Len(t, recs, 1)
	assert.NotEqual(t, "jsmith01", recs[0].AnonymousID)
	assert.Regexp(t, `^[a-z]{6}[0-9]{2}$`, recs[0].AnonymousID)
	assert.Equal(t, "what is merge sort", recs[0].Query)
	assert.NotEmpty(t, recs[0].ID)
}

func TestSink_CloseDrainsQueue(t *testing.T) {
	store := &memStore{}
	sink := NewSink(NewAnonymizer(nil, slog.Default()), store, 128, nil, slog.Default())

	for i := 0; i < 50; i++ {
		sink.Record(Record{Subject: "s", Query: fmt.Sprintf("q%d", i), CreatedAt: time.Now()})
	}
	sink.Close()

	assert.Len(t, store.records(), 50)
}

func TestSink_DropsOldestOnOverflow(t *testing.T) {
	// A store that blocks until released, so the queue actually fills.
	gate := make(chan struct{})
	store := &blockingStore{gate: gate}
	drops := &countDrops{}
	sink := NewSink(NewAnonymizer(nil, slog.Default()), store, 2, drops, slog.Default())

	for i := 0; i < 10; i++ {
		sink.Record(Record{Subject: "s", Query: fmt.Sprintf("q%d", i), CreatedAt: time.Now()})
	}
	close(gate)
	sink.Close()

	assert.Positive(t, drops.count(), "overflow must drop records")
	got := store.records()
	require.NotEmpty(t, got)
	// The newest record must survive drop-oldest.
	assert.Equal(t, "q9", got[len(got)-1].Query)
}

func TestSink_RecordAfterCloseIsIgnored(t *testing.T) {
	store := &memStore{}
	sink := NewSink(NewAnonymizer(nil, slog.Default()), store, 8, nil, slog.Default())
	sink.Close()

	assert.NotPanics(t, func() {
		sink.Record(Record{Subject: "s", Query: "late"})
	})
	assert.Empty(t, store.records())
}

type blockingStore struct {
	gate chan struct{}
	mem  memStore
}

func (b *blockingStore) Append(rec StoredRecord) error {
	<-b.gate
	return b.mem.Append(rec)
}

func (b *blockingStore) records() []StoredRecord { return b.mem.records() }

// =============================================================================
// Analytics
// =============================================================================

type sliceExporter []StoredRecord

func (s sliceExporter) Export(fn func(rec StoredRecord) error) error {
	for _, rec := range s {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func TestSummarize(t *testing.T) {
	now := time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC)
	recs := sliceExporter{
		{AnonymousID: "aaaaaa01", ConversationID: "c1", Platform: "web", LatencyMS: 100, CreatedAt: now.Add(-time.Hour)},
		{AnonymousID: "aaaaaa01", ConversationID: "c1", Platform: "web", LatencyMS: 300, CreatedAt: now.AddDate(0, 0, -2)},
		{AnonymousID: "aaaaaa01", ConversationID: "c2", Platform: "vscode", LatencyMS: 200, CreatedAt: now.AddDate(0, 0, -3)},
		{AnonymousID: "bbbbbb02", ConversationID: "c3", Platform: "vscode", LatencyMS: 400, CreatedAt: now.AddDate(0, 0, -40)},
	}

	a, err := Summarize(recs, now)
	require.NoError(t, err)

	assert.Equal(t, 2, a.System.TotalUsers)
	assert.Equal(t, 3, a.System.TotalConversations)
	assert.Equal(t, 4, a.System.TotalInteractions)
	assert.Equal(t, 1, a.System.ActiveUsersToday)
	assert.Equal(t, 2, a.System.WebInteractions)
	assert.Equal(t, 2, a.System.VSCodeInteractions)
	assert.InDelta(t, 1.5, a.System.AvgConversationsPerUser, 1e-9)
	assert.InDelta(t, 4.0/3.0, a.System.AvgInteractionsPerConversation, 1e-9)
	assert.InDelta(t, 250, a.System.AvgResponseTimeMS, 1e-9)

	// Only the user with activity inside the window counts, and having
	// touched two conversations makes them a returning user.
	assert.Equal(t, 30, a.Engagement.PeriodDays)
	assert.Equal(t, 1, a.Engagement.TotalUsersInPeriod)
	assert.Equal(t, 1, a.Engagement.ReturningUsers)
	assert.InDelta(t, 100, a.Engagement.ReturnRatePercentage, 1e-9)
}

func TestSummarize_Empty(t *testing.T) {
	a, err := Summarize(sliceExporter{}, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, a.System.TotalInteractions)
	assert.Zero(t, a.System.AvgResponseTimeMS)
	assert.Zero(t, a.Engagement.ReturnRatePercentage)
}

// =============================================================================
// BadgerStore
// =============================================================================

func TestBadgerStore_AppendAndExport(t *testing.T) {
	db, err := badger.Open(badger.InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	store := NewBadgerStore(db)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Append(StoredRecord{
			ID:          fmt.Sprintf("id-%d", i),
			AnonymousID: "abcdef01",
			Query:       fmt.Sprintf("q%d", i),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	var got []StoredRecord
	require.NoError(t, store.Export(func(rec StoredRecord) error {
		got = append(got, rec)
		return nil
	}))

	require.Len(t, got, 3)
	assert.Equal(t, "q0", got[0].Query, "export must be chronological")
	assert.Equal(t, "q2", got[2].Query)
}
