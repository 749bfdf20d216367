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
	"fmt"

	"github.com/AleutianAI/tutor-gateway/services/gateway/llmproxy"
)

// ProxyGenerator completes through the hosted proxy.
//
// The proxy keeps its own per-conversation turn history keyed by
// session_id, so this backend sends only the window size and lets the
// proxy replay the turns it already holds.
type ProxyGenerator struct {
	client *llmproxy.Client
	policy Policy
}

// NewProxyGenerator creates a ProxyGenerator using client with policy.
func NewProxyGenerator(client *llmproxy.Client, policy Policy) *ProxyGenerator {
	return &ProxyGenerator{client: client, policy: policy}
}

// Complete runs one proxy call.
func (g *ProxyGenerator) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	out, err := g.client.Generate(ctx,
		g.policy.Model,
		req.System,
		req.Query,
		req.ConversationKey,
		g.policy.Temperature,
		req.WindowSize,
	)
	if err != nil {
		return "", fmt.Errorf("proxy generate: %w", err)
	}
	return out.Text, nil
}

var _ Generator = (*ProxyGenerator)(nil)
