// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const (
	anthropicAPIVersion     = "2023-06-01"
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1"
	anthropicMaxTokens      = 4096

	// maxSSELineBytes bounds a single event-stream line.
	maxSSELineBytes = 1024 * 1024
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      []systemBlock      `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // "ephemeral"
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicStreamEvent covers the event payloads the stream reader cares
// about: content_block_delta, message_stop, and error.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *anthropicError `json:"error,omitempty"`
}

// AnthropicProvider calls the Anthropic Messages API over plain HTTP.
type AnthropicProvider struct {
	name       string
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewAnthropicProvider creates a provider from cfg.
func NewAnthropicProvider(cfg ProviderConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", cfg.Name, ErrMissingAPIKey)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	slog.Info("Initializing Anthropic provider", "provider", cfg.Name, "model", cfg.Model)
	return &AnthropicProvider{
		name:       cfg.Name,
		httpClient: newHTTPClient(cfg),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}, nil
}

// Name implements Provider.
func (a *AnthropicProvider) Name() string {
	return a.name
}

// buildRequest moves system messages into the top-level system field.
func (a *AnthropicProvider) buildRequest(messages []Message, params GenerationParams, stream bool) anthropicRequest {
	req := anthropicRequest{
		Model:       a.model,
		MaxTokens:   anthropicMaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		StopSeqs:    params.Stop,
		Stream:      stream,
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	for _, m := range messages {
		if strings.EqualFold(m.Role, RoleSystem) {
			block := systemBlock{Type: "text", Text: m.Content}
			if len(m.Content) > 1024 {
				block.CacheControl = &cacheControl{Type: "ephemeral"}
			}
			req.System = append(req.System, block)
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return req
}

func (a *AnthropicProvider) post(ctx context.Context, payload anthropicRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")
	if payload.Stream {
		req.Header.Set("accept", "text/event-stream")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: a.name, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, &ProviderError{Provider: a.name, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(snippet)))}
	}
	return resp, nil
}

// Chat implements Provider.
func (a *AnthropicProvider) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	resp, err := a.post(ctx, a.buildRequest(messages, params, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", &ProviderError{Provider: a.name, Err: fmt.Errorf("failed to parse response JSON: %w", err)}
	}
	if apiResp.Error != nil {
		return "", &ProviderError{Provider: a.name, Err: fmt.Errorf("%s: %s", apiResp.Error.Type, apiResp.Error.Message)}
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &ProviderError{Provider: a.name, Err: ErrEmptyResponse}
	}
	return sb.String(), nil
}

// ChatStream implements Provider.
//
// # Description
//
// Reads the event stream line by line and forwards text_delta payloads.
// "event:" lines and undecodable data lines are skipped. The stream ends
// cleanly on message_stop, or on EOF.
func (a *AnthropicProvider) ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error {
	resp, err := a.post(ctx, a.buildRequest(messages, params, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			slog.Debug("Skipping undecodable stream line", "provider", a.name, "error", err)
			continue
		}

		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				if err := callback(ev.Delta.Text); err != nil {
					return err
				}
			}
		case "message_stop":
			return nil
		case "error":
			msg := "stream error"
			if ev.Error != nil {
				msg = ev.Error.Type + ": " + ev.Error.Message
			}
			return &ProviderError{Provider: a.name, Err: fmt.Errorf("%s", msg)}
		}
	}
	if err := scanner.Err(); err != nil {
		return &ProviderError{Provider: a.name, Err: err}
	}
	return nil
}

var _ Provider = (*AnthropicProvider)(nil)
