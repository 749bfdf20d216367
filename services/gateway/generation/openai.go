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

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/tutor-gateway/services/gateway/conversation"
)

// OpenAIGenerator completes against the OpenAI chat API directly.
//
// Unlike the proxy backend there is no server-side history, so the full
// windowed turn list travels with every request.
type OpenAIGenerator struct {
	client *openai.Client
	policy Policy
}

// NewOpenAIGenerator creates an OpenAIGenerator with the given API key.
// A non-empty baseURL points the client at an OpenAI-compatible local
// server instead of the hosted API.
func NewOpenAIGenerator(apiKey, baseURL string, policy Policy) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg), policy: policy}
}

// Complete builds the message list (system, window, query) and runs one
// chat completion.
func (g *OpenAIGenerator) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Window)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: req.System,
	})
	for _, turn := range req.Window {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openAIRole(turn.Role),
			Content: turn.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Query,
	})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.policy.Model,
		Messages:    messages,
		Temperature: float32(g.policy.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func openAIRole(r conversation.Role) string {
	switch r {
	case conversation.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case conversation.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}

var _ Generator = (*OpenAIGenerator)(nil)
