// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// ApologyMessage is returned (or streamed as the only token) when no
// provider could answer.
const ApologyMessage = "I am currently unable to answer due to LLM provider errors or missing configuration. Please check API keys."

const (
	DefaultTemperature       = 0.1
	DefaultTimeout           = 30 * time.Second
	DefaultReportTemperature = 0.2
	DefaultReportTimeout     = 45 * time.Second

	// streamBufferSize bounds tokens held between the provider and the
	// consumer of GenerateStream.
	streamBufferSize = 16
)

// GeneratorConfig tunes a Generator. Zero fields take the defaults above.
type GeneratorConfig struct {
	Temperature       float32
	Timeout           time.Duration
	ReportTemperature float32
	ReportTimeout     time.Duration
}

func (c *GeneratorConfig) applyDefaults() {
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ReportTemperature <= 0 {
		c.ReportTemperature = DefaultReportTemperature
	}
	if c.ReportTimeout <= 0 {
		c.ReportTimeout = DefaultReportTimeout
	}
}

// Generator produces grounded answers from an ordered provider list.
//
// # Description
//
// The first provider is primary; each later provider is tried only when
// the ones before it failed. Generation never returns an error: when all
// providers fail the caller gets ApologyMessage.
//
// # Thread Safety
//
// Safe for concurrent use; it holds no mutable state.
type Generator struct {
	providers []Provider
	config    GeneratorConfig
}

// NewGenerator creates a Generator. nil providers are dropped.
func NewGenerator(providers []Provider, config GeneratorConfig) *Generator {
	config.applyDefaults()
	kept := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &Generator{providers: kept, config: config}
}

// ProviderNames lists providers in fallback order.
func (g *Generator) ProviderNames() []string {
	names := make([]string, len(g.providers))
	for i, p := range g.providers {
		names[i] = p.Name()
	}
	return names
}

func (g *Generator) messages(profile Profile, question, evidence string) []Message {
	return []Message{
		{Role: RoleSystem, Content: profile.SystemPrompt()},
		{Role: RoleUser, Content: userPrompt(evidence, question)},
	}
}

// Generate returns the full answer for question grounded in evidence.
func (g *Generator) Generate(ctx context.Context, profile Profile, question, evidence string) string {
	params := GenerationParams{Temperature: float32Ptr(g.config.Temperature)}
	return g.complete(ctx, g.messages(profile, question, evidence), params, g.config.Timeout, profile.String())
}

// GenerateReport returns a Markdown report synthesised from a condensed
// conversation transcript.
func (g *Generator) GenerateReport(ctx context.Context, reportType, transcript string) string {
	messages := []Message{
		{Role: RoleSystem, Content: reportSystemPrompt(reportType)},
		{Role: RoleUser, Content: reportUserPrompt(transcript)},
	}
	params := GenerationParams{Temperature: float32Ptr(g.config.ReportTemperature)}
	return g.complete(ctx, messages, params, g.config.ReportTimeout, "report")
}

// complete runs a non-streaming call with per-attempt timeouts.
func (g *Generator) complete(ctx context.Context, messages []Message, params GenerationParams, timeout time.Duration, label string) string {
	res := TryInOrder(ctx, g.providers, func(ctx context.Context, p Provider) (string, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		text, err := p.Chat(attemptCtx, messages, params)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) == "" {
			return "", &ProviderError{Provider: p.Name(), Err: ErrEmptyResponse}
		}
		return text, nil
	})
	if !res.OK() {
		slog.Error("All LLM generation failed", "profile", label, "error", res.Err)
		return ApologyMessage
	}
	return res.Value
}

// GenerateStream streams the answer as text deltas.
//
// # Description
//
// The returned channel yields non-empty deltas in generation order and is
// closed when generation ends. A provider that fails, or finishes without
// producing any text, is replaced by the next one. Once text has been forwarded the
// stream is never restarted on another provider; a mid-stream failure just
// ends the channel so the caller keeps a coherent partial answer. If no
// provider produced anything, ApologyMessage is sent as the only delta.
//
// Cancelling ctx stops generation and closes the channel without an
// apology. The producer goroutine never blocks past ctx cancellation.
func (g *Generator) GenerateStream(ctx context.Context, profile Profile, question, evidence string) <-chan string {
	out := make(chan string, streamBufferSize)
	messages := g.messages(profile, question, evidence)
	params := GenerationParams{Temperature: float32Ptr(g.config.Temperature)}

	go func() {
		defer close(out)

		emitted := false
		send := func(delta string) error {
			if delta == "" {
				return nil
			}
			select {
			case out <- delta:
				emitted = true
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		res := TryInOrder(ctx, g.providers, func(ctx context.Context, p Provider) (struct{}, error) {
			err := p.ChatStream(ctx, messages, params, send)
			if err != nil && emitted {
				if ctx.Err() == nil {
					slog.Error("LLM stream interrupted after partial output", "provider", p.Name(), "error", err)
				}
				return struct{}{}, nil
			}
			if err == nil && !emitted {
				return struct{}{}, &ProviderError{Provider: p.Name(), Err: ErrEmptyResponse}
			}
			return struct{}{}, err
		})

		if res.OK() || emitted || ctx.Err() != nil {
			return
		}
		slog.Error("All LLM streaming failed", "profile", profile.String(), "error", res.Err)
		_ = send(ApologyMessage)
	}()

	return out
}
