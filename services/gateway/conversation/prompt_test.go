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
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBasePrompt_TrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("You are a tutor.\n\n"), 0o644))

	p, err := LoadBasePrompt(path)
	require.NoError(t, err)
	assert.Equal(t, "You are a tutor.", p.Current())
}

func TestLoadBasePrompt_MissingFile(t *testing.T) {
	_, err := LoadBasePrompt(filepath.Join(t.TempDir(), "absent.txt"))
	assert.Error(t, err)
}

func TestBasePrompt_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	p, err := LoadBasePrompt(path)
	require.NoError(t, err)

	stop, err := p.Watch(slog.Default())
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("v2\n"), 0o644))

	assert.Eventually(t, func() bool {
		return p.Current() == "v2"
	}, 3*time.Second, 10*time.Millisecond)
}
