// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services holds the orchestrator's business logic.
//
// Services sit between the HTTP handlers and the retrieval and generation
// layers. They take their collaborators through constructors so tests can
// swap in fakes, and every method takes a context for cancellation and
// tracing.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/BhavyaBibra/ComplianceGPT/services/llm"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/datatypes"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/intent"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/observability"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/retrieval"
)

var queryTracer = otel.Tracer("compliancegpt.orchestrator.services.query")

// Retrieval limits per pipeline.
const (
	StandardLimit        = 5
	MappingSourceLimit   = 3
	ThreatTechniqueLimit = 2
	EvidenceLimit        = 5
)

// =============================================================================
// Interfaces
// =============================================================================

// ChunkRetriever finds evidence chunks. It never fails; an unavailable
// backend yields an empty slice.
type ChunkRetriever interface {
	Retrieve(ctx context.Context, query string, frameworks []string, limit int) []datatypes.RetrievedChunk
}

// AnswerGenerator produces grounded answers. It never fails; exhausted
// providers yield llm.ApologyMessage.
type AnswerGenerator interface {
	Generate(ctx context.Context, profile llm.Profile, question, evidence string) string
	GenerateStream(ctx context.Context, profile llm.Profile, question, evidence string) <-chan string
}

var (
	_ ChunkRetriever  = (*retrieval.Retriever)(nil)
	_ AnswerGenerator = (*llm.Generator)(nil)
)

// =============================================================================
// Query Service
// =============================================================================

// QueryService runs the question answering pipeline:
// classify, retrieve, assemble context, generate.
//
// # Description
//
// The route chosen by intent.Classify decides everything downstream:
//
//   - Standard: one retrieval of the question, limit 5, RAG profile.
//   - Mapping: the control id against its source framework (limit 3) and
//     the question against the caller's frameworks (limit 5), Mapping
//     profile.
//   - Threat: the technique id or keyword against "mitre" (limit 2) and
//     the question against the caller's frameworks (limit 5), Incident
//     profile.
//
// The two retrievals of the mapping and threat pipelines run concurrently.
// Their merged evidence always lists the first retrieval's chunks first.
//
// # Thread Safety
//
// Safe for concurrent use. No state is shared across queries.
type QueryService struct {
	retriever ChunkRetriever
	generator AnswerGenerator
	metrics   *observability.Metrics
}

// NewQueryService creates a QueryService. metrics may be nil.
func NewQueryService(retriever ChunkRetriever, generator AnswerGenerator, metrics *observability.Metrics) *QueryService {
	if retriever == nil || generator == nil {
		panic("services.NewQueryService: retriever and generator must not be nil")
	}
	return &QueryService{retriever: retriever, generator: generator, metrics: metrics}
}

// pipeline is a classified and retrieved query, ready for generation.
type pipeline struct {
	route    intent.Route
	profile  llm.Profile
	evidence string
	result   datatypes.QueryResult
	started  time.Time
}

// Process answers question synchronously.
func (s *QueryService) Process(ctx context.Context, question string, frameworks []string) datatypes.QueryResult {
	ctx, span := queryTracer.Start(ctx, "QueryService.Process")
	defer span.End()

	p := s.prepare(ctx, question, frameworks)
	p.result.Answer = s.generator.Generate(ctx, p.profile, question, p.evidence)

	latency := time.Since(p.started)
	span.SetAttributes(
		attribute.String("query.mode", string(p.route.Mode())),
		attribute.Int("query.chunks", len(p.result.Chunks)),
		attribute.Int("query.answer_len", len(p.result.Answer)),
	)
	slog.Info("Query processed",
		"mode", p.route.Mode(),
		"chunks", len(p.result.Chunks),
		"citations", p.result.Citations,
		"latency_ms", latency.Milliseconds())
	s.metrics.RecordQuery(string(p.route.Mode()), observability.TransportSync, latency.Seconds(), len(p.result.Chunks))

	return p.result
}

// StreamPlan is a prepared streaming answer.
//
// Metadata is final before the first token arrives. Tokens is closed when
// generation ends or the context passed to PrepareStream is cancelled.
type StreamPlan struct {
	Mode     intent.Mode
	Result   datatypes.QueryResult
	Metadata datatypes.StreamMetadata
	Tokens   <-chan string
	Started  time.Time
}

// PrepareStream classifies and retrieves, then starts streaming generation.
func (s *QueryService) PrepareStream(ctx context.Context, question string, frameworks []string) *StreamPlan {
	prepCtx, span := queryTracer.Start(ctx, "QueryService.PrepareStream")
	p := s.prepare(prepCtx, question, frameworks)
	span.SetAttributes(
		attribute.String("query.mode", string(p.route.Mode())),
		attribute.Int("query.chunks", len(p.result.Chunks)),
	)
	span.End()

	return &StreamPlan{
		Mode:     p.route.Mode(),
		Result:   p.result,
		Metadata: p.result.Metadata(),
		Tokens:   s.generator.GenerateStream(ctx, p.profile, question, p.evidence),
		Started:  p.started,
	}
}

// RecordStream records metrics for a finished stream.
func (s *QueryService) RecordStream(plan *StreamPlan) {
	latency := time.Since(plan.Started)
	slog.Info("Query streamed",
		"mode", plan.Mode,
		"chunks", len(plan.Result.Chunks),
		"latency_ms", latency.Milliseconds())
	s.metrics.RecordQuery(string(plan.Mode), observability.TransportStream, latency.Seconds(), len(plan.Result.Chunks))
}

// prepare runs classification, retrieval, and context assembly.
func (s *QueryService) prepare(ctx context.Context, question string, frameworks []string) pipeline {
	p := pipeline{started: time.Now(), route: intent.Classify(question)}

	var chunks []datatypes.RetrievedChunk
	switch r := p.route.(type) {
	case intent.StandardRoute:
		chunks = s.retriever.Retrieve(ctx, question, frameworks, StandardLimit)
		p.evidence = retrieval.BuildContext(chunks)
		p.profile = llm.ProfileRAG
		logDistribution(chunks)

	case intent.MappingRoute:
		slog.Info("Detected mapping intent",
			"control_id", r.Intent.ControlID,
			"source_framework", r.Intent.SourceFramework)
		var sourceFrameworks []string
		if r.Intent.SourceFramework != "" {
			sourceFrameworks = []string{string(r.Intent.SourceFramework)}
		}
		source, target := s.retrievePair(ctx,
			r.Intent.ControlID, sourceFrameworks, MappingSourceLimit,
			question, frameworks, EvidenceLimit)
		p.evidence = retrieval.BuildMappingContext(source, target)
		chunks = retrieval.MergeUnique(source, target)
		p.profile = llm.ProfileMapping
		p.result.Modes.MappingMode = true

	case intent.ThreatRoute:
		term := r.Intent.SearchTerm(question)
		slog.Info("Detected threat intent",
			"technique_id", r.Intent.TechniqueID,
			"keyword", r.Intent.Keyword,
			"search_term", term)
		technique, controls := s.retrievePair(ctx,
			term, []string{string(intent.FrameworkMITRE)}, ThreatTechniqueLimit,
			question, frameworks, EvidenceLimit)
		p.evidence = retrieval.BuildThreatContext(technique, controls)
		chunks = retrieval.MergeUnique(technique, controls)
		p.profile = llm.ProfileIncident
		p.result.Modes.IncidentMode = true

	default:
		panic(fmt.Sprintf("services: unhandled route %T", p.route))
	}

	p.result.Chunks = chunks
	p.result.Citations = retrieval.ExtractCitations(chunks)
	return p
}

// retrievePair runs two retrievals concurrently and returns them in
// argument order.
func (s *QueryService) retrievePair(
	ctx context.Context,
	firstQuery string, firstFrameworks []string, firstLimit int,
	secondQuery string, secondFrameworks []string, secondLimit int,
) (first, second []datatypes.RetrievedChunk) {
	var g errgroup.Group
	g.Go(func() error {
		spanCtx, span := queryTracer.Start(ctx, "retrieve.primary",
			trace.WithAttributes(attribute.StringSlice("frameworks", firstFrameworks)))
		defer span.End()
		first = s.retriever.Retrieve(spanCtx, firstQuery, firstFrameworks, firstLimit)
		return nil
	})
	g.Go(func() error {
		spanCtx, span := queryTracer.Start(ctx, "retrieve.evidence",
			trace.WithAttributes(attribute.StringSlice("frameworks", secondFrameworks)))
		defer span.End()
		second = s.retriever.Retrieve(spanCtx, secondQuery, secondFrameworks, secondLimit)
		return nil
	})
	_ = g.Wait()
	return first, second
}

func logDistribution(chunks []datatypes.RetrievedChunk) {
	distribution := make(map[string]int)
	for _, c := range chunks {
		distribution[c.Framework]++
	}
	slog.Info("Retrieved evidence", "chunks", len(chunks), "distribution", distribution)
}
