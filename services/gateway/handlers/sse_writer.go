// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/AleutianAI/tutor-gateway/services/gateway/datatypes"
)

// ErrTerminalWritten is returned when a second terminal frame is
// attempted on a stream that already finished.
var ErrTerminalWritten = errors.New("terminal frame already written")

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing staged frames to an SSE
// response.
//
// # Description
//
// SSEWriter abstracts frame serialization and writing so the streaming
// handler stays independent of HTTP response mechanics. Frames are
// written as data-only SSE messages (data: {json}\n\n); clients consume
// the default "message" event and dispatch on the frame's status field.
//
// A stream carries any number of progress frames followed by exactly
// one terminal frame (complete or error). The writer enforces the
// terminal-once rule: once a terminal frame has gone out, further
// terminal writes return ErrTerminalWritten and no bytes are sent.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The keepalive ticker
// and the exchange pipeline write from different goroutines.
type SSEWriter interface {
	// WriteFrame serializes the frame and writes it as an SSE data
	// message, flushing immediately.
	WriteFrame(frame datatypes.StreamFrame) error

	// WriteLoading writes the retrieval-stage progress frame.
	WriteLoading() error

	// WriteThinking writes the generation-stage progress frame.
	WriteThinking() error

	// WriteComplete writes the terminal success frame.
	WriteComplete(frame datatypes.StreamFrame) error

	// WriteError writes the terminal error frame. The message must
	// already be sanitized for client display.
	WriteError(message string) error

	// WriteKeepAlive sends an SSE comment (": ping") to keep the
	// connection alive across load balancer idle timeouts.
	WriteKeepAlive() error

	// TerminalWritten reports whether a terminal frame has been sent.
	TerminalWritten() bool
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter over an http.ResponseWriter.
//
// # Thread Safety
//
// Thread-safe via mutex. The terminal flag is read and written under
// the same lock as the response writes, so the terminal-once rule
// holds across goroutines.
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	mu       sync.Mutex
	terminal bool
}

// NewSSEWriter creates an SSEWriter for the given ResponseWriter.
// The caller must set SSE headers via SetSSEHeaders first.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// =============================================================================
// Methods
// =============================================================================

func (w *sseWriter) WriteFrame(frame datatypes.StreamFrame) error {
	terminal := frame.Status == datatypes.FrameComplete || frame.Status == datatypes.FrameError

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.terminal {
		if terminal {
			return ErrTerminalWritten
		}
		// Progress after a terminal frame is a pipeline ordering bug;
		// drop it rather than confuse the client.
		return nil
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	if terminal {
		w.terminal = true
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteLoading() error {
	return w.WriteFrame(datatypes.StreamFrame{
		Status:  datatypes.FrameLoading,
		Message: datatypes.LoadingMessage,
	})
}

func (w *sseWriter) WriteThinking() error {
	return w.WriteFrame(datatypes.StreamFrame{
		Status:  datatypes.FrameThinking,
		Message: datatypes.ThinkingMessage,
	})
}

func (w *sseWriter) WriteComplete(frame datatypes.StreamFrame) error {
	frame.Status = datatypes.FrameComplete
	return w.WriteFrame(frame)
}

func (w *sseWriter) WriteError(message string) error {
	return w.WriteFrame(datatypes.StreamFrame{
		Status: datatypes.FrameError,
		Error:  message,
	})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.terminal {
		return nil
	}
	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) TerminalWritten() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.terminal
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures response headers for SSE streaming. Must be
// called before the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
