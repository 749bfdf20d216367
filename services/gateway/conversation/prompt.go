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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// BasePrompt
// =============================================================================

// BasePrompt holds the tutor's base system prompt.
//
// # Description
//
// The prompt is read from a file once at startup and held behind an
// atomic.Value so readers never observe a partial update. In development
// mode Watch re-reads the file whenever it changes, which lets prompt
// authors iterate without restarting the gateway. Every conversation touch
// re-derives its system turn from the current base, so a reload takes
// effect on the next request of every conversation.
//
// # Thread Safety
//
// Safe for concurrent use.
type BasePrompt struct {
	path string
	val  atomic.Value // string
}

// LoadBasePrompt reads the prompt file and returns a BasePrompt.
//
// Leading and trailing whitespace is trimmed so trailing newlines in the
// file do not leak into the byte-exact system turn.
func LoadBasePrompt(path string) (*BasePrompt, error) {
	p := &BasePrompt{path: path}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Current returns the current base prompt.
func (p *BasePrompt) Current() string {
	return p.val.Load().(string)
}

func (p *BasePrompt) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read base prompt %s: %w", p.path, err)
	}
	p.val.Store(strings.TrimSpace(string(data)))
	return nil
}

// Watch re-reads the prompt file on filesystem changes until the watcher
// goroutine exits.
//
// # Description
//
// Watches the prompt file's directory rather than the file itself, since
// editors typically replace the file (rename + create) and a direct watch
// would be lost on the first save. Read errors keep the previous prompt
// and are logged.
//
// # Outputs
//
//   - stop: Closes the watcher and ends the goroutine.
//   - error: Non-nil if the watcher could not be created.
func (p *BasePrompt) Watch(logger *slog.Logger) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create prompt watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch prompt dir: %w", err)
	}

	target := filepath.Base(p.path)
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != target {
					continue
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
					continue
				}
				if err := p.reload(); err != nil {
					logger.Error("base prompt reload failed", "path", p.path, "error", err)
					continue
				}
				logger.Info("base prompt reloaded", "path", p.path)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("prompt watcher error", "error", werr)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
