// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Test Doubles
// =============================================================================

// scriptedProvider returns canned results and records call counts.
type scriptedProvider struct {
	name      string
	answer    string
	chatErr   error
	tokens    []string
	streamErr error
	// failAfter, when > 0, fails the stream after that many tokens.
	failAfter int
	calls     atomic.Int32
}

func (s *scriptedProvider) Name() string { return s.name }

func (s *scriptedProvider) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	s.calls.Add(1)
	if s.chatErr != nil {
		return "", s.chatErr
	}
	return s.answer, nil
}

func (s *scriptedProvider) ChatStream(ctx context.Context, messages []Message, params GenerationParams, cb StreamCallback) error {
	s.calls.Add(1)
	if s.streamErr != nil && s.failAfter == 0 {
		return s.streamErr
	}
	for i, tok := range s.tokens {
		if s.failAfter > 0 && i == s.failAfter {
			return s.streamErr
		}
		if err := cb(tok); err != nil {
			return err
		}
	}
	return nil
}

func collect(ch <-chan string) []string {
	var out []string
	for tok := range ch {
		out = append(out, tok)
	}
	return out
}

// =============================================================================
// TryInOrder Tests
// =============================================================================

func TestTryInOrder_NoProviders(t *testing.T) {
	res := TryInOrder(context.Background(), nil, func(ctx context.Context, p Provider) (string, error) {
		return "x", nil
	})
	if res.OK() || !errors.Is(res.Err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %+v", res)
	}
}

func TestTryInOrder_FallsThrough(t *testing.T) {
	primary := &scriptedProvider{name: "groq", chatErr: errors.New("503")}
	secondary := &scriptedProvider{name: "openrouter", answer: "from secondary"}

	res := TryInOrder(context.Background(), []Provider{primary, secondary}, func(ctx context.Context, p Provider) (string, error) {
		return p.Chat(ctx, nil, GenerationParams{})
	})
	if !res.OK() {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value != "from secondary" || res.Provider != "openrouter" {
		t.Errorf("got %q from %q", res.Value, res.Provider)
	}
}

func TestTryInOrder_AllFailJoinsErrors(t *testing.T) {
	a := &scriptedProvider{name: "a", chatErr: errors.New("boom-a")}
	b := &scriptedProvider{name: "b", chatErr: errors.New("boom-b")}

	res := TryInOrder(context.Background(), []Provider{a, b}, func(ctx context.Context, p Provider) (string, error) {
		return p.Chat(ctx, nil, GenerationParams{})
	})
	if res.OK() {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Err.Error(), "boom-a") || !strings.Contains(res.Err.Error(), "boom-b") {
		t.Errorf("joined error missing causes: %v", res.Err)
	}
}

func TestTryInOrder_CancelledContextSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &scriptedProvider{name: "a", chatErr: errors.New("fail")}
	b := &scriptedProvider{name: "b", answer: "never"}

	res := TryInOrder(ctx, []Provider{a, b}, func(ctx context.Context, p Provider) (string, error) {
		cancel()
		return p.Chat(ctx, nil, GenerationParams{})
	})
	if res.OK() {
		t.Fatal("expected failure")
	}
	if b.calls.Load() != 0 {
		t.Errorf("secondary should not be called after cancellation")
	}
}

// =============================================================================
// Generator Tests
// =============================================================================

func TestGenerator_Generate_FallbackToSecondary(t *testing.T) {
	primary := &scriptedProvider{name: "groq", chatErr: &ProviderError{Provider: "groq", StatusCode: 500, Err: errors.New("internal")}}
	secondary := &scriptedProvider{name: "openrouter", answer: "AC-2 maps to A.5.16."}
	g := NewGenerator([]Provider{primary, secondary}, GeneratorConfig{})

	got := g.Generate(context.Background(), ProfileMapping, "Map AC-2", "ctx")
	if got != "AC-2 maps to A.5.16." {
		t.Errorf("Generate = %q", got)
	}
}

func TestGenerator_Generate_AllFailReturnsApology(t *testing.T) {
	g := NewGenerator([]Provider{
		&scriptedProvider{name: "groq", chatErr: errors.New("down")},
		&scriptedProvider{name: "openrouter", chatErr: errors.New("down")},
	}, GeneratorConfig{})

	if got := g.Generate(context.Background(), ProfileRAG, "q", "c"); got != ApologyMessage {
		t.Errorf("Generate = %q, want apology", got)
	}
}

func TestGenerator_Generate_NoProvidersReturnsApology(t *testing.T) {
	g := NewGenerator(nil, GeneratorConfig{})
	if got := g.Generate(context.Background(), ProfileIncident, "q", "c"); got != ApologyMessage {
		t.Errorf("Generate = %q, want apology", got)
	}
	if got := g.GenerateReport(context.Background(), "summary", "c"); got != ApologyMessage {
		t.Errorf("GenerateReport = %q, want apology", got)
	}
}

func TestGenerator_Generate_BlankAnswerFallsThrough(t *testing.T) {
	g := NewGenerator([]Provider{
		&scriptedProvider{name: "a", answer: "   "},
		&scriptedProvider{name: "b", answer: "real"},
	}, GeneratorConfig{})
	if got := g.Generate(context.Background(), ProfileRAG, "q", "c"); got != "real" {
		t.Errorf("Generate = %q", got)
	}
}

func TestGenerator_Stream_PrimaryOnly(t *testing.T) {
	g := NewGenerator([]Provider{&scriptedProvider{name: "groq", tokens: []string{"A", "", "B"}}}, GeneratorConfig{})
	got := collect(g.GenerateStream(context.Background(), ProfileRAG, "q", "c"))
	if strings.Join(got, "|") != "A|B" {
		t.Errorf("tokens = %v, want [A B]", got)
	}
}

func TestGenerator_Stream_FallbackBeforeFirstToken(t *testing.T) {
	primary := &scriptedProvider{name: "groq", streamErr: errors.New("connect refused")}
	secondary := &scriptedProvider{name: "openrouter", tokens: []string{"X", "Y"}}
	g := NewGenerator([]Provider{primary, secondary}, GeneratorConfig{})

	got := collect(g.GenerateStream(context.Background(), ProfileRAG, "q", "c"))
	if strings.Join(got, "") != "XY" {
		t.Errorf("tokens = %v", got)
	}
}

func TestGenerator_Stream_AllFailYieldsSingleApology(t *testing.T) {
	g := NewGenerator([]Provider{
		&scriptedProvider{name: "a", streamErr: errors.New("x")},
		&scriptedProvider{name: "b", streamErr: errors.New("y")},
	}, GeneratorConfig{})

	got := collect(g.GenerateStream(context.Background(), ProfileRAG, "q", "c"))
	if len(got) != 1 || got[0] != ApologyMessage {
		t.Errorf("tokens = %v, want single apology", got)
	}
}

func TestGenerator_Stream_EmptyStreamFallsThrough(t *testing.T) {
	g := NewGenerator([]Provider{
		&scriptedProvider{name: "a"},
		&scriptedProvider{name: "b", tokens: []string{"ok"}},
	}, GeneratorConfig{})
	got := collect(g.GenerateStream(context.Background(), ProfileRAG, "q", "c"))
	if strings.Join(got, "") != "ok" {
		t.Errorf("tokens = %v", got)
	}
}

func TestGenerator_Stream_MidStreamFailureDoesNotRestart(t *testing.T) {
	primary := &scriptedProvider{name: "groq", tokens: []string{"A", "B", "C"}, failAfter: 2, streamErr: errors.New("reset")}
	secondary := &scriptedProvider{name: "openrouter", tokens: []string{"Z"}}
	g := NewGenerator([]Provider{primary, secondary}, GeneratorConfig{})

	got := collect(g.GenerateStream(context.Background(), ProfileRAG, "q", "c"))
	if strings.Join(got, "") != "AB" {
		t.Errorf("tokens = %v, want [A B]", got)
	}
	if secondary.calls.Load() != 0 {
		t.Error("secondary must not run after partial output")
	}
}

func TestGenerator_Stream_CancelClosesChannel(t *testing.T) {
	tokens := make([]string, 1000)
	for i := range tokens {
		tokens[i] = "t"
	}
	g := NewGenerator([]Provider{&scriptedProvider{name: "slow", tokens: tokens}}, GeneratorConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	ch := g.GenerateStream(ctx, ProfileRAG, "q", "c")
	<-ch
	cancel()

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancellation")
	}
}

func TestProfile_SystemPrompts(t *testing.T) {
	if !strings.Contains(ProfileRAG.SystemPrompt(), "Grounding Policy") {
		t.Error("RAG prompt missing grounding policy")
	}
	if !strings.Contains(ProfileMapping.SystemPrompt(), "cross-framework control mapping") {
		t.Error("mapping prompt mismatch")
	}
	if !strings.Contains(ProfileIncident.SystemPrompt(), "MITRE ATT&CK") {
		t.Error("incident prompt mismatch")
	}
	if got := userPrompt("CTX", "Q?"); got != "CTX\n\nQUESTION:\nQ?" {
		t.Errorf("userPrompt = %q", got)
	}
	if !strings.Contains(reportSystemPrompt("incident"), "MITRE ATT&CK") {
		t.Error("incident report focus missing")
	}
	if !strings.Contains(reportSystemPrompt("bogus"), "general executive summary") {
		t.Error("unknown report type should summarise")
	}
}

// =============================================================================
// Preset Tests
// =============================================================================

func TestPreset_MergesOverrides(t *testing.T) {
	cfg := Preset(ProviderConfig{Name: "openrouter", APIKey: "k", Headers: map[string]string{"X-Extra": "1"}})
	if cfg.Kind != KindOpenAI || cfg.Model != "meta-llama/llama-3.3-70b-instruct" {
		t.Errorf("unexpected preset: %+v", cfg)
	}
	if cfg.Headers["X-Title"] != "ComplianceGPT" || cfg.Headers["X-Extra"] != "1" {
		t.Errorf("headers not merged: %v", cfg.Headers)
	}

	groq := Preset(ProviderConfig{Name: "groq", Model: "llama-3.1-8b-instant"})
	if groq.Model != "llama-3.1-8b-instant" || groq.BaseURL != "https://api.groq.com/openai/v1" {
		t.Errorf("override not applied: %+v", groq)
	}
}

func TestBuildProviders_SkipsMissingKeys(t *testing.T) {
	providers := BuildProviders(context.Background(), []ProviderConfig{
		{Name: "groq"},
		{Name: "openrouter", APIKey: "sk-or"},
		{Name: "gemini"},
		{Name: "mystery", APIKey: "x"},
	})
	if len(providers) != 1 || providers[0].Name() != "openrouter" {
		t.Fatalf("providers = %v", providers)
	}
}

// =============================================================================
// OpenAI-Compatible Wire Tests
// =============================================================================

func TestOpenAICompatible_Chat(t *testing.T) {
	var gotAuth, gotTitle, gotModel string
	var gotTemp float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotTitle = r.Header.Get("X-Title")
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)
		gotTemp, _ = body["temperature"].(float64)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Grounded answer"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	p, err := NewProvider(context.Background(), ProviderConfig{Name: "openrouter", APIKey: "sk-or", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, GenerationParams{Temperature: float32Ptr(0.1)})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Grounded answer" {
		t.Errorf("Chat = %q", got)
	}
	if gotAuth != "Bearer sk-or" || gotTitle != "ComplianceGPT" {
		t.Errorf("headers: auth=%q title=%q", gotAuth, gotTitle)
	}
	if gotModel != "meta-llama/llama-3.3-70b-instruct" {
		t.Errorf("model = %q", gotModel)
	}
	if gotTemp < 0.09 || gotTemp > 0.11 {
		t.Errorf("temperature = %v", gotTemp)
	}
}

func TestOpenAICompatible_ChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p, err := NewProvider(context.Background(), ProviderConfig{Name: "groq", APIKey: "gsk", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	err = p.ChatStream(context.Background(), nil, GenerationParams{}, func(d string) error {
		got = append(got, d)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, "|") != "Hel|lo" {
		t.Errorf("deltas = %v", got)
	}
}

func TestOpenAICompatible_StatusErrorCarriesCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited","type":"rate_limit"}}`)
	}))
	defer srv.Close()

	p, _ := NewProvider(context.Background(), ProviderConfig{Name: "groq", APIKey: "gsk", BaseURL: srv.URL})
	_, err := p.Chat(context.Background(), nil, GenerationParams{})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.StatusCode != http.StatusTooManyRequests || pe.Provider != "groq" {
		t.Errorf("ProviderError = %+v", pe)
	}
}

func TestOpenAICompatible_OllamaNeedsNoKey(t *testing.T) {
	p, err := NewProvider(context.Background(), ProviderConfig{Name: "ollama"})
	if err != nil {
		t.Fatalf("ollama should not require a key: %v", err)
	}
	if p.Name() != "ollama" {
		t.Errorf("Name = %q", p.Name())
	}
}

// =============================================================================
// Anthropic Wire Tests
// =============================================================================

func TestAnthropic_ChatStream(t *testing.T) {
	var gotSystem bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotSystem = len(req.System) == 1 && req.Stream && r.Header.Get("x-api-key") == "sk-ant"

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi\"}}\n\n")
		fmt.Fprint(w, "data: {not json}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\" there\"}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"ignored\"}}\n\n")
	}))
	defer srv.Close()

	p, err := NewProvider(context.Background(), ProviderConfig{Name: "anthropic", APIKey: "sk-ant", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	var sb strings.Builder
	err = p.ChatStream(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "q"},
	}, GenerationParams{}, func(d string) error {
		sb.WriteString(d)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if sb.String() != "Hi there" {
		t.Errorf("streamed = %q", sb.String())
	}
	if !gotSystem {
		t.Error("system prompt, stream flag, or api key not sent")
	}
}

func TestAnthropic_Chat_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`)
	}))
	defer srv.Close()

	p, _ := NewProvider(context.Background(), ProviderConfig{Name: "anthropic", APIKey: "bad", BaseURL: srv.URL})
	_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, GenerationParams{})
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 ProviderError, got %v", err)
	}
}

func TestAnthropic_Chat_ConcatenatesTextBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content":[{"type":"text","text":"Part one. "},{"type":"tool_use"},{"type":"text","text":"Part two."}]}`)
	}))
	defer srv.Close()

	p, _ := NewProvider(context.Background(), ProviderConfig{Name: "anthropic", APIKey: "k", BaseURL: srv.URL})
	got, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, GenerationParams{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Part one. Part two." {
		t.Errorf("Chat = %q", got)
	}
}

func TestGemini_RequiresKey(t *testing.T) {
	_, err := NewProvider(context.Background(), ProviderConfig{Name: "gemini"})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}
