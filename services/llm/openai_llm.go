// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// OpenAICompatibleProvider speaks the OpenAI chat-completions protocol.
// Groq, OpenRouter, OpenAI itself, and Ollama's /v1 endpoint all use it.
type OpenAICompatibleProvider struct {
	name   string
	client *openai.Client
	model  string
}

// NewOpenAICompatibleProvider creates a provider from cfg.
//
// # Description
//
// cfg.Headers are attached to every request, which is how OpenRouter's
// attribution headers are sent. cfg.Timeout bounds the wait for response
// headers only, so long streams are not cut off.
func NewOpenAICompatibleProvider(cfg ProviderConfig) (*OpenAICompatibleProvider, error) {
	if cfg.APIKey == "" && cfg.Kind != KindOllama {
		return nil, fmt.Errorf("%s: %w", cfg.Name, ErrMissingAPIKey)
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = newHTTPClient(cfg)

	slog.Info("Initializing OpenAI-compatible provider", "provider", cfg.Name, "model", cfg.Model, "base_url", oc.BaseURL)
	return &OpenAICompatibleProvider{
		name:   cfg.Name,
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
	}, nil
}

// Name implements Provider.
func (p *OpenAICompatibleProvider) Name() string {
	return p.name
}

func (p *OpenAICompatibleProvider) buildRequest(messages []Message, params GenerationParams, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   stream,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

// Chat implements Provider.
func (p *OpenAICompatibleProvider) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	slog.Debug("Generating text", "provider", p.name, "model", p.model)

	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(messages, params, false))
	if err != nil {
		return "", p.wrap(err)
	}
	if len(resp.Choices) == 0 {
		return "", p.wrap(ErrEmptyResponse)
	}
	slog.Debug("Received completion", "provider", p.name, "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// ChatStream implements Provider.
func (p *OpenAICompatibleProvider) ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(messages, params, true))
	if err != nil {
		return p.wrap(err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return p.wrap(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			if err := callback(delta); err != nil {
				return err
			}
		}
	}
}

// wrap attaches the provider name and, when known, the HTTP status.
func (p *OpenAICompatibleProvider) wrap(err error) error {
	pe := &ProviderError{Provider: p.name, Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		pe.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		pe.StatusCode = reqErr.HTTPStatusCode
	}
	return pe
}

// headerTransport adds fixed headers to every outgoing request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) == 0 {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// newHTTPClient builds a client whose timeout covers connection setup and
// response headers but not the body, so streamed answers are not truncated.
func newHTTPClient(cfg ProviderConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Timeout > 0 {
		transport.ResponseHeaderTimeout = cfg.Timeout
	}
	return &http.Client{Transport: &headerTransport{base: transport, headers: cfg.Headers}}
}

var _ Provider = (*OpenAICompatibleProvider)(nil)
