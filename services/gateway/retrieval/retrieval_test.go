// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tutor-gateway/services/gateway/conversation"
	"github.com/AleutianAI/tutor-gateway/services/gateway/llmproxy"
)

type stubRetriever struct {
	groups []conversation.RetrievedGroup
	err    error
	delay  time.Duration
}

func (s *stubRetriever) Fetch(ctx context.Context, query string) ([]conversation.RetrievedGroup, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.groups, s.err
}

func TestGate_Fetch(t *testing.T) {
	policy := DefaultPolicy("CourseContent")

	t.Run("passes through backend groups", func(t *testing.T) {
		want := []conversation.RetrievedGroup{{Summary: "Lecture 5", Chunks: []string{"a"}}}
		g := NewGate(&stubRetriever{groups: want}, policy, slog.Default())

		got, degraded := g.Fetch(context.Background(), "sorting")
		assert.False(t, degraded)
		assert.Equal(t, want, got)
	})

	t.Run("backend error is absorbed", func(t *testing.T) {
		g := NewGate(&stubRetriever{err: errors.New("boom")}, policy, slog.Default())

		got, degraded := g.Fetch(context.Background(), "sorting")
		assert.True(t, degraded)
		assert.Nil(t, got)
	})

	t.Run("slow backend times out and degrades", func(t *testing.T) {
		p := policy
		p.Timeout = 20 * time.Millisecond
		g := NewGate(&stubRetriever{delay: time.Second}, p, slog.Default())

		start := time.Now()
		got, degraded := g.Fetch(context.Background(), "sorting")
		assert.True(t, degraded)
		assert.Nil(t, got)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("empty result is not degraded", func(t *testing.T) {
		g := NewGate(&stubRetriever{}, policy, slog.Default())

		got, degraded := g.Fetch(context.Background(), "off-topic")
		assert.False(t, degraded)
		assert.Empty(t, got)
	})
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy("CourseContent")
	assert.Equal(t, "CourseContent", p.CollectionKey)
	assert.InDelta(t, 0.4, p.Threshold, 1e-9)
	assert.Equal(t, 5, p.TopK)
}

func TestProxyRetriever_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "retrieve", r.Header.Get("request_type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "CourseContent", body["session_id"])
		assert.InDelta(t, 0.4, body["rag_threshold"].(float64), 1e-9)
		assert.EqualValues(t, 5, body["rag_k"])

		json.NewEncoder(w).Encode([]map[string]any{
			{"doc_summary": "Lecture 5: Sorting", "chunks": []string{"merge sort", "quick sort"}},
			{"doc_summary": "Problem Set 3", "chunks": []string{"pivoting"}},
		})
	}))
	defer srv.Close()

	client := llmproxy.New(llmproxy.Config{Endpoint: srv.URL, APIKey: "k"}, slog.Default())
	r := NewProxyRetriever(client, DefaultPolicy("CourseContent"))

	groups, err := r.Fetch(context.Background(), "how does sorting work")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "Lecture 5: Sorting", groups[0].Summary)
	assert.Equal(t, []string{"merge sort", "quick sort"}, groups[0].Chunks)
	assert.Equal(t, "Problem Set 3", groups[1].Summary)
}

func TestGroupByDocument(t *testing.T) {
	passages := []weaviatePassage{
		{Content: "c1", DocTitle: "Lecture 1"},
		{Content: "c2", DocTitle: "Lecture 2"},
		{Content: "c3", DocTitle: "Lecture 1"},
	}

	groups := groupByDocument(passages)
	require.Len(t, groups, 2)
	assert.Equal(t, "Lecture 1", groups[0].Summary)
	assert.Equal(t, []string{"c1", "c3"}, groups[0].Chunks)
	assert.Equal(t, "Lecture 2", groups[1].Summary)
	assert.Equal(t, []string{"c2"}, groups[1].Chunks)
}

func TestGroupByDocument_Empty(t *testing.T) {
	assert.Empty(t, groupByDocument(nil))
}
