// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider calls Google's Gemini API through the genai SDK.
type GeminiProvider struct {
	name   string
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a provider from cfg. The SDK client is built
// eagerly but performs no network I/O until the first call.
func NewGeminiProvider(ctx context.Context, cfg ProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", cfg.Name, ErrMissingAPIKey)
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: newHTTPClient(cfg),
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	slog.Info("Initializing Gemini provider", "provider", cfg.Name, "model", cfg.Model)
	return &GeminiProvider{name: cfg.Name, client: client, model: cfg.Model}, nil
}

// Name implements Provider.
func (g *GeminiProvider) Name() string {
	return g.name
}

// split converts chat messages into Gemini contents plus a system
// instruction. Assistant turns map to the "model" role.
func (g *GeminiProvider) split(messages []Message, params GenerationParams) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		StopSequences: params.Stop,
	}
	if params.MaxTokens != nil {
		config.MaxOutputTokens = int32(*params.MaxTokens)
	}

	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	return contents, config
}

// Chat implements Provider.
func (g *GeminiProvider) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	contents, config := g.split(messages, params)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", &ProviderError{Provider: g.name, Err: err}
	}
	text := candidateText(resp)
	if text == "" {
		return "", &ProviderError{Provider: g.name, Err: ErrEmptyResponse}
	}
	return text, nil
}

// ChatStream implements Provider.
func (g *GeminiProvider) ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error {
	contents, config := g.split(messages, params)
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
		if err != nil {
			return &ProviderError{Provider: g.name, Err: err}
		}
		if delta := candidateText(resp); delta != "" {
			if err := callback(delta); err != nil {
				return err
			}
		}
	}
	return nil
}

// candidateText concatenates the text parts of the first candidate.
func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

var _ Provider = (*GeminiProvider)(nil)
