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
	"log/slog"
	"strings"
	"time"
)

// Kind selects the wire protocol of a provider.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
	KindGemini    Kind = "gemini"
	KindOllama    Kind = "ollama"
)

// ProviderConfig describes one provider.
type ProviderConfig struct {
	Name    string
	Kind    Kind
	APIKey  string
	BaseURL string
	Model   string
	Headers map[string]string
	Timeout time.Duration
}

// presets are the known providers, keyed by name. Groq and OpenRouter host
// the same Llama 3.3 70B model so a fallback answers in the same voice.
var presets = map[string]ProviderConfig{
	"groq": {
		Kind:    KindOpenAI,
		BaseURL: "https://api.groq.com/openai/v1",
		Model:   "llama-3.3-70b-versatile",
	},
	"openrouter": {
		Kind:    KindOpenAI,
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "meta-llama/llama-3.3-70b-instruct",
		Headers: map[string]string{
			"HTTP-Referer": "http://localhost:8000",
			"X-Title":      "ComplianceGPT",
		},
	},
	"openai": {
		Kind:    KindOpenAI,
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	"anthropic": {
		Kind:    KindAnthropic,
		BaseURL: anthropicDefaultBaseURL,
		Model:   "claude-3-5-sonnet-20240620",
	},
	"gemini": {
		Kind:  KindGemini,
		Model: "gemini-2.0-flash",
	},
	"ollama": {
		Kind:    KindOllama,
		BaseURL: "http://localhost:11434/v1",
		Model:   "llama3.1",
	},
}

// Preset returns the defaults for a known provider name, with overrides
// from cfg applied on top. Unknown names are returned unchanged and must
// set Kind themselves.
func Preset(cfg ProviderConfig) ProviderConfig {
	base, ok := presets[strings.ToLower(cfg.Name)]
	if !ok {
		return cfg
	}
	out := base
	out.Name = cfg.Name
	out.APIKey = cfg.APIKey
	out.Timeout = cfg.Timeout
	if cfg.Kind != "" {
		out.Kind = cfg.Kind
	}
	if cfg.BaseURL != "" {
		out.BaseURL = cfg.BaseURL
	}
	if cfg.Model != "" {
		out.Model = cfg.Model
	}
	if len(cfg.Headers) > 0 {
		headers := make(map[string]string, len(base.Headers)+len(cfg.Headers))
		for k, v := range base.Headers {
			headers[k] = v
		}
		for k, v := range cfg.Headers {
			headers[k] = v
		}
		out.Headers = headers
	}
	return out
}

// NewProvider builds the provider described by cfg after applying presets.
func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	cfg = Preset(cfg)
	switch cfg.Kind {
	case KindOpenAI, KindOllama:
		return NewOpenAICompatibleProvider(cfg)
	case KindAnthropic:
		return NewAnthropicProvider(cfg)
	case KindGemini:
		return NewGeminiProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("provider %q: unknown kind %q", cfg.Name, cfg.Kind)
	}
}

// BuildProviders constructs providers in order, skipping any that are
// unconfigured. Missing credentials are logged as warnings rather than
// failing startup; the Generator falls back to its apology when nothing
// remains.
func BuildProviders(ctx context.Context, configs []ProviderConfig) []Provider {
	providers := make([]Provider, 0, len(configs))
	for _, cfg := range configs {
		if cfg.Name == "" {
			continue
		}
		p, err := NewProvider(ctx, cfg)
		if err != nil {
			if errors.Is(err, ErrMissingAPIKey) {
				slog.Warn("LLM provider API key not set, skipping", "provider", cfg.Name)
			} else {
				slog.Error("Failed to initialise LLM provider, skipping", "provider", cfg.Name, "error", err)
			}
			continue
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		slog.Warn("No LLM providers available; answers will be the fallback apology")
	}
	return providers
}
