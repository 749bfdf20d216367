// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generation

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

	"github.com/AleutianAI/tutor-gateway/services/gateway/llmproxy"
)

type stubGenerator struct {
	text  string
	err   error
	delay time.Duration
}

func (s *stubGenerator) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.text, s.err
}

func TestGate_Complete(t *testing.T) {
	policy := DefaultPolicy("gpt-4o")

	t.Run("passes through backend reply", func(t *testing.T) {
		g := NewGate(&stubGenerator{text: "Merge sort is O(n log n)."}, policy, slog.Default())

		reply, failed := g.Complete(context.Background(), CompletionRequest{Query: "q"})
		assert.False(t, failed)
		assert.Equal(t, "Merge sort is O(n log n).", reply)
	})

	t.Run("backend error folds into fallback reply", func(t *testing.T) {
		g := NewGate(&stubGenerator{err: errors.New("upstream down")}, policy, slog.Default())

		reply, failed := g.Complete(context.Background(), CompletionRequest{Query: "q"})
		assert.True(t, failed)
		assert.Equal(t, FallbackReply, reply)
		assert.NotEmpty(t, reply, "exchange must still have an assistant turn to append")
	})

	t.Run("empty completion folds into fallback reply", func(t *testing.T) {
		g := NewGate(&stubGenerator{text: ""}, policy, slog.Default())

		reply, failed := g.Complete(context.Background(), CompletionRequest{Query: "q"})
		assert.True(t, failed)
		assert.Equal(t, FallbackReply, reply)
	})

	t.Run("slow backend times out into fallback", func(t *testing.T) {
		p := policy
		p.Timeout = 20 * time.Millisecond
		g := NewGate(&stubGenerator{text: "late", delay: time.Second}, p, slog.Default())

		reply, failed := g.Complete(context.Background(), CompletionRequest{Query: "q"})
		assert.True(t, failed)
		assert.Equal(t, FallbackReply, reply)
	})
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy("gpt-4o")
	assert.Equal(t, "gpt-4o", p.Model)
	assert.InDelta(t, 0.7, p.Temperature, 1e-9)
}

func TestProxyGenerator_Complete(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "call", r.Header.Get("request_type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{"result": "answer"})
	}))
	defer srv.Close()

	client := llmproxy.New(llmproxy.Config{Endpoint: srv.URL, APIKey: "k"}, slog.Default())
	g := NewProxyGenerator(client, DefaultPolicy("gpt-4o"))

	reply, err := g.Complete(context.Background(), CompletionRequest{
		System:          "sys",
		Query:           "what is sorting",
		WindowSize:      2,
		ConversationKey: "conv-9",
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", reply)

	assert.Equal(t, "gpt-4o", gotBody["model"])
	assert.Equal(t, "conv-9", gotBody["session_id"])
	assert.EqualValues(t, 2, gotBody["lastk"])
	assert.Equal(t, false, gotBody["rag_usage"])
	assert.InDelta(t, 0.7, gotBody["temperature"].(float64), 1e-9)
}
