// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator wires the ComplianceGPT query orchestrator.
//
// This package builds every component from one Config: the embedding
// client and vector search backend used for retrieval, the LLM provider
// chain, the conversation store, Prometheus metrics, OpenTelemetry tracing
// and the gin router that exposes them.
//
// # Extension Points
//
// Callers may inject their own implementations via extensions.ServiceOptions:
//   - AuthProvider: Bearer token validation (default: Supabase when
//     configured, otherwise the local no-op user)
//   - AuditLogger: Conversation audit events (default: slog)
//
// # Usage
//
//	cfg, err := orchestrator.LoadConfig("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(ctx, cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run(ctx))
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/BhavyaBibra/ComplianceGPT/pkg/extensions"
	"github.com/BhavyaBibra/ComplianceGPT/services/embedding"
	"github.com/BhavyaBibra/ComplianceGPT/services/llm"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/conversation"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/middleware"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/observability"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/retrieval"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/routes"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/services"
	"github.com/BhavyaBibra/ComplianceGPT/services/vectorstore"
)

// startupTimeout bounds each external check made by New.
const startupTimeout = 10 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the orchestrator lifecycle.
//
// # Thread Safety
//
// Router may be called concurrently. Run should be called at most once.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the listener fails, then
	// shuts down gracefully and releases every resource.
	//
	// # Outputs
	//
	//   - error: Non-nil if the server failed. A clean shutdown after
	//     cancellation returns nil.
	Run(ctx context.Context) error

	// Router returns the configured gin engine, for tests.
	Router() *gin.Engine

	// Close releases resources without serving. Safe to call more than
	// once and after Run.
	Close() error
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Fields
//
//   - pool: Shared by pgvector search and the Postgres store. nil when no
//     database is configured or reachable.
//   - weaviateClient: nil unless Weaviate is the vector backend.
//   - persister: nil when persistence is disabled.
//   - retention: nil unless a retention max age is configured.
type service struct {
	config         Config
	opts           extensions.ServiceOptions
	router         *gin.Engine
	registry       *prometheus.Registry
	metrics        *observability.Metrics
	pool           *pgxpool.Pool
	weaviateClient *weaviate.Client
	searcher       vectorstore.Searcher
	generator      *llm.Generator
	store          conversation.Store
	persister      *conversation.Persister
	retention      *conversation.RetentionScheduler
	tracerCleanup  func(context.Context)
	closeOnce      sync.Once
	closeErr       error
}

// =============================================================================
// Constructor
// =============================================================================

// New builds a Service from cfg.
//
// # Description
//
// Initialisation order:
//  1. Defaults for zero-valued settings
//  2. OpenTelemetry tracer (no-op without an endpoint)
//  3. Prometheus registry with Go and process collectors
//  4. Postgres pool, when DatabaseURL is set
//  5. Vector search backend and embedding client
//  6. LLM providers in fallback order
//  7. Conversation store, persister and retention sweeper
//  8. Router and routes
//
// Unreachable optional backends are logged and skipped, which leaves the
// service in lightweight mode. Missing provider credentials never fail
// startup; queries then receive the apology answer.
//
// # Inputs
//
//   - ctx: Bounds startup checks only.
//   - cfg: Configuration. Zero values take DefaultConfig's.
//   - opts: Extension options. May be nil.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if a required component cannot be created.
func New(ctx context.Context, cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	if opts != nil {
		s.opts = *opts
	}

	cleanup, err := observability.InitTracer(ctx, observability.TracingConfig{
		Endpoint:    s.config.OTelEndpoint,
		ServiceName: observability.DefaultServiceName,
		SampleRatio: s.config.TraceSampleRatio,
	})
	if err != nil {
		slog.Warn("Tracing disabled", "error", err)
	}
	s.tracerCleanup = cleanup

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewMetrics(s.registry)

	s.initDatabase(ctx)

	if err := s.initSearcher(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize vector search: %w", err)
	}

	embedder, err := embedding.New(embedding.Config{
		APIKey:     s.config.Embedding.APIKey,
		BaseURL:    s.config.Embedding.BaseURL,
		Model:      s.config.Embedding.Model,
		MaxRetries: s.config.Embedding.MaxRetries,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	s.initGenerator(ctx)

	if err := s.initStore(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize conversation store: %w", err)
	}

	s.initOptions()

	retriever := retrieval.NewRetriever(embedder, s.searcher, s.config.Vector.Threshold)
	queries := services.NewQueryService(retriever, s.generator, s.metrics)
	reports := services.NewReportService(s.generator)
	s.initRouter(queries, reports)

	slog.Info("Orchestrator initialized",
		"providers", s.generator.ProviderNames(),
		"embeddings", embedder.Enabled(),
		"persistence", s.persister != nil,
		"database", s.pool != nil,
		"weaviate", s.weaviateClient != nil)

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run implements Service.
//
// The server sets no write timeout because answers stream for as long as
// generation takes.
func (s *service) Run(ctx context.Context) error {
	defer func() { _ = s.Close() }()

	if s.retention != nil {
		if err := s.retention.Start(ctx); err != nil {
			slog.Warn("Conversation retention disabled", "error", err)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting orchestrator server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down orchestrator server", "timeout", s.config.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close implements Service.
//
// Pending conversation writes are drained before the store closes, up to
// ShutdownTimeout.
func (s *service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error

		if s.retention != nil {
			s.retention.Stop()
		}
		if s.persister != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
			errs = append(errs, s.persister.Close(ctx))
			cancel()
		}
		if s.store != nil {
			errs = append(errs, s.store.Close())
		}
		if s.pool != nil {
			s.pool.Close()
		}
		if s.tracerCleanup != nil {
			s.tracerCleanup(context.Background())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills zero-valued settings from DefaultConfig.
func applyConfigDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = d.Port
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}
	if cfg.LLM.Primary.Name == "" && cfg.LLM.Secondary.Name == "" {
		cfg.LLM.Primary.Name = d.LLM.Primary.Name
		cfg.LLM.Secondary.Name = d.LLM.Secondary.Name
	}
	if cfg.LLM.Timeout <= 0 {
		cfg.LLM.Timeout = d.LLM.Timeout
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = d.Vector.Backend
	}
	if cfg.Vector.Threshold == 0 {
		cfg.Vector.Threshold = d.Vector.Threshold
	}
	if cfg.Vector.WeaviateClass == "" {
		cfg.Vector.WeaviateClass = d.Vector.WeaviateClass
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = d.Store.Backend
	}
	if cfg.Store.BadgerPath == "" {
		cfg.Store.BadgerPath = d.Store.BadgerPath
	}
	if cfg.Store.RetentionInterval <= 0 {
		cfg.Store.RetentionInterval = d.Store.RetentionInterval
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = d.KeepAlive
	}
	cfg.Vector.Backend = strings.ToLower(cfg.Vector.Backend)
	cfg.Store.Backend = strings.ToLower(cfg.Store.Backend)
	return cfg
}

// initDatabase opens the shared Postgres pool. A bad URL or unreachable
// server is logged and leaves pool nil.
func (s *service) initDatabase(ctx context.Context) {
	if s.config.DatabaseURL == "" {
		return
	}

	pool, err := pgxpool.New(ctx, s.config.DatabaseURL)
	if err != nil {
		slog.Warn("Invalid database URL, running without Postgres", "error", err)
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		slog.Warn("Postgres unreachable, running without Postgres", "error", err)
		return
	}

	s.pool = pool
	slog.Info("Connected to Postgres")
}

// initSearcher selects the vector search backend.
//
// # Outputs
//
//   - error: Non-nil only when a backend is explicitly requested but
//     cannot be used.
func (s *service) initSearcher(ctx context.Context) error {
	backend := s.config.Vector.Backend
	if backend == "auto" {
		switch {
		case s.config.Vector.WeaviateURL != "":
			backend = "weaviate"
		case s.pool != nil:
			backend = "pgvector"
		default:
			backend = "none"
		}
	}

	switch backend {
	case "weaviate":
		if err := s.initWeaviate(ctx); err != nil {
			return err
		}
		s.searcher = vectorstore.NewWeaviateSearcher(s.weaviateClient, s.config.Vector.WeaviateClass)
	case "pgvector":
		if s.pool == nil {
			return errors.New("pgvector backend requires a reachable database")
		}
		s.searcher = vectorstore.NewPGVectorSearcher(s.pool)
	default:
		slog.Warn("No vector search backend configured, retrieval will return no evidence")
		s.searcher = vectorstore.NopSearcher{}
		return nil
	}

	slog.Info("Vector search backend selected", "backend", backend)
	return nil
}

// initWeaviate creates the Weaviate client and makes sure the chunk class
// exists. A failed schema check is logged; search errors then degrade to
// empty retrieval.
func (s *service) initWeaviate(ctx context.Context) error {
	weaviateURL := strings.Trim(s.config.Vector.WeaviateURL, "\"' ")

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %q", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	s.weaviateClient = client

	checkCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	created, err := vectorstore.EnsureChunkClass(checkCtx, client, s.config.Vector.WeaviateClass)
	if err != nil {
		slog.Warn("Weaviate schema check failed", "url", weaviateURL, "error", err)
		return nil
	}
	slog.Info("Weaviate client initialized", "url", weaviateURL, "class_created", created)
	return nil
}

// initGenerator builds the provider chain, primary first.
func (s *service) initGenerator(ctx context.Context) {
	var configs []llm.ProviderConfig
	for _, p := range []ProviderSettings{s.config.LLM.Primary, s.config.LLM.Secondary} {
		if p.Name == "" {
			continue
		}
		configs = append(configs, llm.ProviderConfig{
			Name:    p.Name,
			APIKey:  p.APIKey,
			BaseURL: p.BaseURL,
			Model:   p.Model,
			Timeout: s.config.LLM.Timeout,
		})
	}

	providers := llm.BuildProviders(ctx, configs)
	if len(providers) == 0 {
		slog.Warn("No LLM provider configured, every answer will be the apology message")
	}
	s.generator = llm.NewGenerator(providers, llm.GeneratorConfig{Timeout: s.config.LLM.Timeout})
}

// initStore opens the conversation store and its persister.
func (s *service) initStore(ctx context.Context) error {
	backend := s.config.Store.Backend
	if backend == "auto" {
		backend = "badger"
		if s.pool != nil {
			backend = "postgres"
		}
	}

	var purger conversation.Purger
	switch backend {
	case "none":
		slog.Info("Conversation persistence disabled")
		return nil
	case "postgres":
		if s.pool == nil {
			return errors.New("postgres store requires a reachable database")
		}
		store := conversation.NewPostgresStore(s.pool)
		migrateCtx, cancel := context.WithTimeout(ctx, startupTimeout)
		defer cancel()
		if err := store.Migrate(migrateCtx); err != nil {
			return err
		}
		s.store, purger = store, store
	default:
		store, err := conversation.OpenBadgerStore(conversation.BadgerConfig{
			Path:     s.config.Store.BadgerPath,
			InMemory: s.config.Store.BadgerInMemory,
			Logger:   slog.Default().With("component", "badger"),
		})
		if err != nil {
			return err
		}
		s.store, purger = store, store
	}

	persister, err := conversation.NewPersister(s.store, s.config.Store.PersistWorkers, s.config.Store.PersistTimeout)
	if err != nil {
		return err
	}
	s.persister = persister

	if s.config.Store.RetentionMaxAge > 0 {
		s.retention = conversation.NewRetentionScheduler(purger, conversation.RetentionConfig{
			MaxAge:   s.config.Store.RetentionMaxAge,
			Interval: s.config.Store.RetentionInterval,
		})
	}

	slog.Info("Conversation store ready", "backend", backend)
	return nil
}

// initOptions fills unset extension points. Supabase auth is used when
// configured and the caller supplied no provider.
func (s *service) initOptions() {
	if s.opts.AuthProvider == nil && s.config.SupabaseURL != "" && s.config.SupabaseAnonKey != "" {
		s.opts.AuthProvider = extensions.NewSupabaseAuthProvider(extensions.SupabaseConfig{
			URL:     s.config.SupabaseURL,
			AnonKey: s.config.SupabaseAnonKey,
		})
		slog.Info("Supabase authentication enabled", "url", s.config.SupabaseURL)
	}
	if s.opts.AuthProvider == nil {
		slog.Warn("No auth provider configured, all requests act as the local user")
	}
	if s.opts.AuditLogger == nil {
		s.opts.AuditLogger = &extensions.SlogAuditLogger{Logger: slog.Default().With("component", "audit")}
	}
	s.opts = s.opts.Normalize()
}

// initRouter creates the gin engine and registers every route.
func (s *service) initRouter(queries *services.QueryService, reports *services.ReportService) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	if gin.Mode() == gin.DebugMode {
		s.router.Use(gin.Logger())
	}
	s.router.Use(
		otelgin.Middleware(observability.DefaultServiceName),
		middleware.CORS(s.config.CORSOrigins),
	)

	routes.SetupRoutes(s.router, routes.Dependencies{
		Queries:     queries,
		Reports:     reports,
		Persister:   s.persister,
		Metrics:     s.metrics,
		Gatherer:    s.registry,
		RateLimiter: middleware.NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst),
		KeepAlive:   s.config.KeepAlive,
		Options:     s.opts,
	})
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
