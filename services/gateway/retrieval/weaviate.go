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
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/tutor-gateway/services/gateway/conversation"
)

// passageClass is the Weaviate class holding course passages.
const passageClass = "CoursePassage"

// weaviatePassage mirrors one CoursePassage object as returned by GraphQL.
type weaviatePassage struct {
	Content    string `json:"content"`
	DocTitle   string `json:"docTitle"`
	Additional struct {
		Certainty float64 `json:"certainty"`
	} `json:"_additional"`
}

// WeaviateRetriever searches a Weaviate instance directly.
//
// # Description
//
// Runs a nearText query over the CoursePassage class, filtered to the
// policy's collection, and groups the matching passages by their source
// document title in result order. Used for self-hosted deployments where
// course material is indexed locally instead of in the hosted proxy.
type WeaviateRetriever struct {
	client *weaviate.Client
	policy Policy
}

// NewWeaviateRetriever creates a WeaviateRetriever using client with policy.
func NewWeaviateRetriever(client *weaviate.Client, policy Policy) *WeaviateRetriever {
	return &WeaviateRetriever{client: client, policy: policy}
}

// Fetch runs the nearText search and groups passages by document.
func (r *WeaviateRetriever) Fetch(ctx context.Context, query string) ([]conversation.RetrievedGroup, error) {
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "docTitle"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query}).
		WithCertainty(float32(r.policy.Threshold))

	where := filters.Where().
		WithPath([]string{"collection"}).
		WithOperator(filters.Equal).
		WithValueText(r.policy.CollectionKey)

	result, err := r.client.GraphQL().Get().
		WithClassName(passageClass).
		WithFields(fields...).
		WithNearText(nearText).
		WithWhere(where).
		WithLimit(r.policy.TopK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate graphql error: %s", result.Errors[0].Message)
	}

	passages, err := decodePassages(result.Data)
	if err != nil {
		return nil, err
	}
	return groupByDocument(passages), nil
}

// decodePassages extracts typed passages from the untyped GraphQL payload.
func decodePassages(data map[string]models.JSONObject) ([]weaviatePassage, error) {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("weaviate response missing Get")
	}
	raw, ok := get[passageClass]
	if !ok || raw == nil {
		return nil, nil
	}

	// Round-trip through JSON to avoid hand-walking nested interface maps.
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-marshal passages: %w", err)
	}
	var passages []weaviatePassage
	if err := json.Unmarshal(buf, &passages); err != nil {
		return nil, fmt.Errorf("decode passages: %w", err)
	}
	return passages, nil
}

// groupByDocument folds passages into one group per document title,
// preserving first-seen order of both documents and chunks.
func groupByDocument(passages []weaviatePassage) []conversation.RetrievedGroup {
	var groups []conversation.RetrievedGroup
	index := make(map[string]int)
	for _, p := range passages {
		i, seen := index[p.DocTitle]
		if !seen {
			i = len(groups)
			index[p.DocTitle] = i
			groups = append(groups, conversation.RetrievedGroup{Summary: p.DocTitle})
		}
		groups[i].Chunks = append(groups[i].Chunks, p.Content)
	}
	return groups
}

var _ Retriever = (*WeaviateRetriever)(nil)
