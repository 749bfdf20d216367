// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llmproxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeForTransport(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "hello world", "hello world"},
		{"quotes", `say "hi"`, `say \"hi\"`},
		{"backslash before its own escape", `a\b`, `a\\b`},
		{"backslash then quote", `\"`, `\\\"`},
		{"newline and tab", "a\nb\tc", `a\nb\tc`},
		{"carriage return backspace formfeed", "\r\b\f", `\r\b\f`},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EscapeForTransport(tt.in))
		})
	}
}

func TestClient_Generate(t *testing.T) {
	t.Run("success decodes result", func(t *testing.T) {
		var gotHeaders http.Header
		var gotBody generateBody
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotHeaders = r.Header.Clone()
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			json.NewEncoder(w).Encode(map[string]any{"result": "Merge sort is O(n log n).", "rag_context": nil})
		}))
		defer srv.Close()

		c := New(Config{Endpoint: srv.URL, APIKey: "k123"}, slog.Default())
		out, err := c.Generate(context.Background(), "gpt-4o", "sys \"prompt\"", "what\nis sorting", "conv-1", 0.7, 3)
		require.NoError(t, err)
		assert.Equal(t, "Merge sort is O(n log n).", out.Text)

		assert.Equal(t, "k123", gotHeaders.Get("x-api-key"))
		assert.Equal(t, "call", gotHeaders.Get("request_type"))
		assert.Equal(t, `sys \"prompt\"`, gotBody.System)
		assert.Equal(t, `what\nis sorting`, gotBody.Query)
		assert.False(t, gotBody.RAGUsage)
		assert.Equal(t, 3, gotBody.LastK)
		assert.InDelta(t, 0.7, gotBody.Temperature, 1e-9)
	})

	t.Run("non-200 becomes CallError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"model overloaded"}`, http.StatusBadGateway)
		}))
		defer srv.Close()

		c := New(Config{Endpoint: srv.URL, APIKey: "k"}, slog.Default())
		_, err := c.Generate(context.Background(), "m", "s", "q", "conv-1", 0.7, 0)
		require.Error(t, err)
		assert.True(t, IsCallError(err))
		assert.Contains(t, err.Error(), "model overloaded")
	})

	t.Run("unreachable endpoint is transport error", func(t *testing.T) {
		c := New(Config{Endpoint: "http://127.0.0.1:1", APIKey: "k"}, slog.Default())
		_, err := c.Generate(context.Background(), "m", "s", "q", "conv-1", 0.7, 0)
		require.Error(t, err)
		assert.False(t, IsCallError(err))
	})
}

func TestClient_Retrieve(t *testing.T) {
	t.Run("decodes document groups", func(t *testing.T) {
		var gotHeaders http.Header
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotHeaders = r.Header.Clone()
			json.NewEncoder(w).Encode([]map[string]any{
				{"doc_summary": "Lecture 5: Sorting", "chunks": []string{"merge sort", "quick sort"}},
			})
		}))
		defer srv.Close()

		c := New(Config{Endpoint: srv.URL, APIKey: "k"}, slog.Default())
		docs, err := c.Retrieve(context.Background(), "sorting", "CourseContent", 0.4, 5)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "Lecture 5: Sorting", docs[0].Summary)
		assert.Equal(t, []string{"merge sort", "quick sort"}, docs[0].Chunks)
		assert.Equal(t, "retrieve", gotHeaders.Get("request_type"))
	})

	t.Run("malformed body is CallError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer srv.Close()

		c := New(Config{Endpoint: srv.URL, APIKey: "k"}, slog.Default())
		_, err := c.Retrieve(context.Background(), "q", "s", 0.4, 5)
		assert.True(t, IsCallError(err))
	})
}
