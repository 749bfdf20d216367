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
	"fmt"

	"github.com/AleutianAI/tutor-gateway/services/gateway/conversation"
	"github.com/AleutianAI/tutor-gateway/services/gateway/llmproxy"
)

// ProxyRetriever searches the hosted proxy's passage store.
type ProxyRetriever struct {
	client *llmproxy.Client
	policy Policy
}

// NewProxyRetriever creates a ProxyRetriever using client with policy.
func NewProxyRetriever(client *llmproxy.Client, policy Policy) *ProxyRetriever {
	return &ProxyRetriever{client: client, policy: policy}
}

// Fetch runs a retrieve call against the proxy and maps its document
// groups into the conversation's group type.
func (r *ProxyRetriever) Fetch(ctx context.Context, query string) ([]conversation.RetrievedGroup, error) {
	docs, err := r.client.Retrieve(ctx, query, r.policy.CollectionKey, r.policy.Threshold, r.policy.TopK)
	if err != nil {
		return nil, fmt.Errorf("proxy retrieve: %w", err)
	}

	groups := make([]conversation.RetrievedGroup, 0, len(docs))
	for _, d := range docs {
		groups = append(groups, conversation.RetrievedGroup{
			Summary: d.Summary,
			Chunks:  d.Chunks,
		})
	}
	return groups, nil
}

var _ Retriever = (*ProxyRetriever)(nil)
