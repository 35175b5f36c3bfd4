// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/BhavyaBibra/ComplianceGPT/services/vectorstore"
)

// EnvPrefix prefixes every environment variable read by LoadConfig, e.g.
// COMPLIANCEGPT_PORT or COMPLIANCEGPT_LLM_PRIMARY_MODEL.
const EnvPrefix = "COMPLIANCEGPT"

// redacted replaces secrets in Redacted output.
const redacted = "********"

// =============================================================================
// Configuration
// =============================================================================

// ProviderSettings selects one LLM provider by preset name. Empty BaseURL
// and Model take the preset's values. An empty APIKey is filled from
// {NAME}_API_KEY, so GROQ_API_KEY configures the "groq" provider.
type ProviderSettings struct {
	Name    string `mapstructure:"name" yaml:"name"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	Model   string `mapstructure:"model" yaml:"model"`
}

// LLMConfig configures answer generation.
type LLMConfig struct {
	Primary   ProviderSettings `mapstructure:"primary" yaml:"primary"`
	Secondary ProviderSettings `mapstructure:"secondary" yaml:"secondary"`

	// Timeout bounds each non-streaming attempt.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// EmbeddingConfig configures the query embedder.
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	Model      string `mapstructure:"model" yaml:"model"`
	MaxRetries int    `mapstructure:"max_retries" yaml:"max_retries"`
}

// VectorConfig selects and tunes the similarity search backend.
type VectorConfig struct {
	// Backend is "auto", "pgvector", "weaviate" or "none". auto prefers
	// Weaviate when WeaviateURL is set, then pgvector when a database is
	// configured.
	Backend       string  `mapstructure:"backend" yaml:"backend"`
	Threshold     float64 `mapstructure:"threshold" yaml:"threshold"`
	WeaviateURL   string  `mapstructure:"weaviate_url" yaml:"weaviate_url"`
	WeaviateClass string  `mapstructure:"weaviate_class" yaml:"weaviate_class"`
}

// StoreConfig selects the conversation store.
type StoreConfig struct {
	// Backend is "auto", "postgres", "badger" or "none". auto uses
	// Postgres when DatabaseURL is set and Badger otherwise. none disables
	// persistence and the conversation routes.
	Backend        string        `mapstructure:"backend" yaml:"backend"`
	BadgerPath     string        `mapstructure:"badger_path" yaml:"badger_path"`
	BadgerInMemory bool          `mapstructure:"badger_in_memory" yaml:"badger_in_memory"`
	PersistWorkers int           `mapstructure:"persist_workers" yaml:"persist_workers"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout" yaml:"persist_timeout"`

	// RetentionMaxAge deletes conversations idle for longer. Zero keeps
	// them forever.
	RetentionMaxAge   time.Duration `mapstructure:"retention_max_age" yaml:"retention_max_age"`
	RetentionInterval time.Duration `mapstructure:"retention_interval" yaml:"retention_interval"`
}

// Config holds orchestrator configuration.
//
// # Description
//
// Built once at process start by LoadConfig and passed by value into New.
// Nothing reads the environment after that.
type Config struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	GinMode         string        `mapstructure:"gin_mode" yaml:"gin_mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogDir   string `mapstructure:"log_dir" yaml:"log_dir"`
	LogJSON  bool   `mapstructure:"log_json" yaml:"log_json"`

	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`
	Vector    VectorConfig    `mapstructure:"vector" yaml:"vector"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`

	// DatabaseURL is a Postgres connection string shared by pgvector search
	// and the Postgres conversation store.
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`

	SupabaseURL     string `mapstructure:"supabase_url" yaml:"supabase_url"`
	SupabaseAnonKey string `mapstructure:"supabase_anon_key" yaml:"supabase_anon_key"`

	OTelEndpoint     string  `mapstructure:"otel_endpoint" yaml:"otel_endpoint"`
	TraceSampleRatio float64 `mapstructure:"trace_sample_ratio" yaml:"trace_sample_ratio"`

	RateLimitRPS   float64       `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
	KeepAlive      time.Duration `mapstructure:"keepalive" yaml:"keepalive"`
}

// defaults mirrors DefaultConfig as viper keys. Every key LoadConfig reads
// must appear here so AutomaticEnv can resolve it during Unmarshal.
var defaults = map[string]any{
	"port":             8000,
	"gin_mode":         "release",
	"shutdown_timeout": 10 * time.Second,
	"cors_origins":     []string{"*"},

	"log_level": "info",
	"log_dir":   "",
	"log_json":  false,

	"llm.primary.name":       "groq",
	"llm.primary.api_key":    "",
	"llm.primary.base_url":   "",
	"llm.primary.model":      "",
	"llm.secondary.name":     "openrouter",
	"llm.secondary.api_key":  "",
	"llm.secondary.base_url": "",
	"llm.secondary.model":    "",
	"llm.timeout":            30 * time.Second,

	"embedding.api_key":     "",
	"embedding.base_url":    "",
	"embedding.model":       "",
	"embedding.max_retries": 3,

	"vector.backend":        "auto",
	"vector.threshold":      0.5,
	"vector.weaviate_url":   "",
	"vector.weaviate_class": vectorstore.DefaultWeaviateClass,

	"store.backend":            "auto",
	"store.badger_path":        "./data/conversations",
	"store.badger_in_memory":   false,
	"store.persist_workers":    8,
	"store.persist_timeout":    10 * time.Second,
	"store.retention_max_age":  time.Duration(0),
	"store.retention_interval": time.Hour,

	"database_url":      "",
	"supabase_url":      "",
	"supabase_anon_key": "",

	"otel_endpoint":      "",
	"trace_sample_ratio": 1.0,

	"rate_limit_rps":   5.0,
	"rate_limit_burst": 10,
	"keepalive":        15 * time.Second,
}

// legacyEnv lists unprefixed variable names honoured for compatibility
// with existing deployments. The prefixed name wins when both are set.
var legacyEnv = map[string][]string{
	"embedding.api_key":   {"JINA_API_KEY"},
	"database_url":        {"DATABASE_URL"},
	"supabase_url":        {"SUPABASE_URL"},
	"supabase_anon_key":   {"SUPABASE_ANON_KEY"},
	"vector.weaviate_url": {"WEAVIATE_URL", "WEAVIATE_SERVICE_URL"},
	"otel_endpoint":       {"OTEL_EXPORTER_OTLP_ENDPOINT"},
	"port":                {"PORT"},
}

// DefaultConfig returns the built-in configuration with no credentials.
func DefaultConfig() Config {
	return Config{
		Port:            8000,
		GinMode:         "release",
		ShutdownTimeout: 10 * time.Second,
		CORSOrigins:     []string{"*"},
		LogLevel:        "info",
		LLM: LLMConfig{
			Primary:   ProviderSettings{Name: "groq"},
			Secondary: ProviderSettings{Name: "openrouter"},
			Timeout:   30 * time.Second,
		},
		Embedding: EmbeddingConfig{MaxRetries: 3},
		Vector: VectorConfig{
			Backend:       "auto",
			Threshold:     0.5,
			WeaviateClass: vectorstore.DefaultWeaviateClass,
		},
		Store: StoreConfig{
			Backend:           "auto",
			BadgerPath:        "./data/conversations",
			PersistWorkers:    8,
			PersistTimeout:    10 * time.Second,
			RetentionInterval: time.Hour,
		},
		TraceSampleRatio: 1.0,
		RateLimitRPS:     5,
		RateLimitBurst:   10,
		KeepAlive:        15 * time.Second,
	}
}

// LoadConfig builds a Config from defaults, an optional YAML file and the
// environment, in increasing order of precedence.
//
// # Inputs
//
//   - path: Config file. Empty searches for compliancegpt.yaml in the
//     working directory and /etc/compliancegpt; a missing file is fine.
//
// # Outputs
//
//   - Config: Validated configuration.
//   - error: Non-nil if the file cannot be parsed or validation fails.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return Config{}, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("compliancegpt")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/compliancegpt")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.LLM.Primary = withEnvKey(cfg.LLM.Primary)
	cfg.LLM.Secondary = withEnvKey(cfg.LLM.Secondary)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// withEnvKey fills an empty APIKey from {NAME}_API_KEY.
func withEnvKey(p ProviderSettings) ProviderSettings {
	if p.APIKey != "" || p.Name == "" {
		return p
	}
	name := strings.ToUpper(strings.ReplaceAll(p.Name, "-", "_"))
	p.APIKey = os.Getenv(name + "_API_KEY")
	return p
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("port %d out of range", c.Port)
	case c.Vector.Threshold < 0 || c.Vector.Threshold > 1:
		return fmt.Errorf("vector.threshold %.2f must be within [0, 1]", c.Vector.Threshold)
	case c.LLM.Primary.Name == "":
		return errors.New("llm.primary.name is required")
	case c.RateLimitRPS < 0:
		return errors.New("rate_limit_rps must not be negative")
	case c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1:
		return fmt.Errorf("trace_sample_ratio %.2f must be within [0, 1]", c.TraceSampleRatio)
	}
	if !oneOf(c.Vector.Backend, "", "auto", "pgvector", "weaviate", "none") {
		return fmt.Errorf("unknown vector.backend %q", c.Vector.Backend)
	}
	if !oneOf(c.Store.Backend, "", "auto", "postgres", "badger", "none") {
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.DatabaseURL == "" {
		return errors.New("store.backend postgres requires database_url")
	}
	return nil
}

func oneOf(s string, options ...string) bool {
	s = strings.ToLower(s)
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}

// Redacted returns a copy with credentials masked, suitable for printing.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}
	c.LLM.Primary.APIKey = mask(c.LLM.Primary.APIKey)
	c.LLM.Secondary.APIKey = mask(c.LLM.Secondary.APIKey)
	c.Embedding.APIKey = mask(c.Embedding.APIKey)
	c.SupabaseAnonKey = mask(c.SupabaseAnonKey)
	c.DatabaseURL = mask(c.DatabaseURL)
	return c
}

// YAML renders the redacted configuration.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}
