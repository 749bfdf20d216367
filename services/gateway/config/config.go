// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads gateway configuration with priority
// env > file > defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway's full configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// loading; treat the loaded value as immutable.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`

	// DevelopmentMode relaxes auth (X-Development-Mode header) and
	// enables base prompt hot reload.
	DevelopmentMode bool `json:"development_mode" yaml:"development_mode"`

	// BasePromptPath is the file holding the tutor's system prompt.
	BasePromptPath string `json:"base_prompt_path" yaml:"base_prompt_path"`

	// MaxConversations caps the in-memory conversation store.
	// Zero means unbounded.
	MaxConversations int `json:"max_conversations" yaml:"max_conversations"`

	// AbandonGrace is how long a streamed exchange still commits after
	// the client disconnects.
	AbandonGrace time.Duration `json:"abandon_grace" yaml:"abandon_grace"`

	Auth       AuthConfig       `json:"auth" yaml:"auth"`
	Retrieval  RetrievalConfig  `json:"retrieval" yaml:"retrieval"`
	Generation GenerationConfig `json:"generation" yaml:"generation"`
	Proxy      ProxyConfig      `json:"proxy" yaml:"proxy"`
	Audit      AuditConfig      `json:"audit" yaml:"audit"`
	RateLimit  RateLimitConfig  `json:"rate_limit" yaml:"rate_limit"`
}

// AuthConfig contains credential verification settings.
type AuthConfig struct {
	// JWTSecret signs editor bearer tokens. Required outside
	// development mode.
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`

	// FrontendDomains is the allowlist for X-Frontend-Domain.
	FrontendDomains []string `json:"frontend_domains" yaml:"frontend_domains"`

	// RosterList is a comma-separated enrollment list. Empty admits
	// every authenticated subject.
	RosterList string `json:"roster_list" yaml:"roster_list"`

	// RosterFile points at a group file ("course: alice bob").
	// Takes precedence over RosterList when set.
	RosterFile string `json:"roster_file" yaml:"roster_file"`

	// BasicUsers maps usernames to passwords for HTTP Basic auth.
	BasicUsers map[string]string `json:"basic_users" yaml:"basic_users"`

	// LoginURL is the browser page completing editor pairings.
	LoginURL string `json:"login_url" yaml:"login_url"`
}

// RetrievalConfig selects and tunes the retrieval backend.
type RetrievalConfig struct {
	// Backend is "proxy" or "weaviate".
	Backend string `json:"backend" yaml:"backend"`

	// CollectionKey scopes retrieval to one course corpus.
	CollectionKey string `json:"collection_key" yaml:"collection_key"`

	Threshold float64       `json:"threshold" yaml:"threshold"`
	TopK      int           `json:"top_k" yaml:"top_k"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`

	// WeaviateURL is the weaviate host, used when Backend is
	// "weaviate".
	WeaviateURL string `json:"weaviate_url" yaml:"weaviate_url"`
}

// GenerationConfig selects and tunes the generation backend.
type GenerationConfig struct {
	// Backend is "proxy" or "openai".
	Backend string `json:"backend" yaml:"backend"`

	Model       string        `json:"model" yaml:"model"`
	Temperature float32       `json:"temperature" yaml:"temperature"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`

	// OpenAIBaseURL overrides the API host for OpenAI-compatible
	// local servers.
	OpenAIBaseURL string `json:"openai_base_url" yaml:"openai_base_url"`
	OpenAIAPIKey  string `json:"openai_api_key" yaml:"openai_api_key"`
}

// ProxyConfig points at the shared course LLM proxy.
type ProxyConfig struct {
	Endpoint string        `json:"endpoint" yaml:"endpoint"`
	APIKey   string        `json:"api_key" yaml:"api_key"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
}

// AuditConfig controls the anonymized audit trail.
type AuditConfig struct {
	// Path is the badger directory. Empty selects in-memory storage,
	// which only makes sense for development.
	Path string `json:"path" yaml:"path"`

	// QueueCapacity bounds the audit sink; the oldest queued record is
	// dropped on overflow.
	QueueCapacity int `json:"queue_capacity" yaml:"queue_capacity"`
}

// RateLimitConfig throttles per-subject request rates.
type RateLimitConfig struct {
	// PerMinute of zero disables limiting.
	PerMinute int `json:"per_minute" yaml:"per_minute"`
	Burst     int `json:"burst" yaml:"burst"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		ListenAddr:     ":8080",
		BasePromptPath: "prompts/tutor.txt",
		AbandonGrace:   5 * time.Second,
		Auth: AuthConfig{
			LoginURL: "http://localhost:8080/login",
		},
		Retrieval: RetrievalConfig{
			Backend:   "proxy",
			Threshold: 0.4,
			TopK:      5,
			Timeout:   10 * time.Second,
		},
		Generation: GenerationConfig{
			Backend:     "proxy",
			Model:       "4o-mini",
			Temperature: 0.7,
			Timeout:     90 * time.Second,
		},
		Proxy: ProxyConfig{
			Timeout: 60 * time.Second,
		},
		Audit: AuditConfig{
			QueueCapacity: 1024,
		},
		RateLimit: RateLimitConfig{
			PerMinute: 30,
			Burst:     5,
		},
	}
}

// Load reads configuration with priority env > file > defaults.
// configPath may be empty to skip the file layer.
func Load(configPath string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if !c.DevelopmentMode && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required outside development mode")
	}
	switch c.Retrieval.Backend {
	case "proxy":
		if c.Proxy.Endpoint == "" {
			slog.Warn("retrieval backend is proxy but no proxy endpoint is set; retrieval will run degraded")
		}
	case "weaviate":
		if c.Retrieval.WeaviateURL == "" {
			return fmt.Errorf("retrieval.weaviate_url is required for the weaviate backend")
		}
	default:
		return fmt.Errorf("unknown retrieval backend %q", c.Retrieval.Backend)
	}
	switch c.Generation.Backend {
	case "proxy":
	case "openai":
		if c.Generation.OpenAIAPIKey == "" && c.Generation.OpenAIBaseURL == "" {
			return fmt.Errorf("generation.openai_api_key or openai_base_url is required for the openai backend")
		}
	default:
		return fmt.Errorf("unknown generation backend %q", c.Generation.Backend)
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		return fmt.Errorf("retrieval.threshold must be in [0, 1]")
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.top_k must be positive")
	}
	if c.Audit.QueueCapacity < 1 {
		return fmt.Errorf("audit.queue_capacity must be positive")
	}
	return nil
}

// applyEnv overlays TUTOR_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("TUTOR_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TUTOR_DEVELOPMENT_MODE"); v != "" {
		if b, ok := parseBool(v, "TUTOR_DEVELOPMENT_MODE"); ok {
			cfg.DevelopmentMode = b
		}
	}
	if v := os.Getenv("TUTOR_BASE_PROMPT_PATH"); v != "" {
		cfg.BasePromptPath = v
	}
	if v := os.Getenv("TUTOR_MAX_CONVERSATIONS"); v != "" {
		if n, ok := parseInt(v, "TUTOR_MAX_CONVERSATIONS"); ok {
			cfg.MaxConversations = n
		}
	}
	if v := os.Getenv("TUTOR_ABANDON_GRACE"); v != "" {
		if d, ok := parseDuration(v, "TUTOR_ABANDON_GRACE"); ok {
			cfg.AbandonGrace = d
		}
	}

	if v := os.Getenv("TUTOR_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("TUTOR_FRONTEND_DOMAINS"); v != "" {
		cfg.Auth.FrontendDomains = splitCSV(v)
	}
	if v := os.Getenv("TUTOR_ROSTER"); v != "" {
		cfg.Auth.RosterList = v
	}
	if v := os.Getenv("TUTOR_ROSTER_FILE"); v != "" {
		cfg.Auth.RosterFile = v
	}
	if v := os.Getenv("TUTOR_LOGIN_URL"); v != "" {
		cfg.Auth.LoginURL = v
	}

	if v := os.Getenv("TUTOR_RETRIEVAL_BACKEND"); v != "" {
		cfg.Retrieval.Backend = v
	}
	if v := os.Getenv("TUTOR_COLLECTION_KEY"); v != "" {
		cfg.Retrieval.CollectionKey = v
	}
	if v := os.Getenv("TUTOR_RETRIEVAL_THRESHOLD"); v != "" {
		if f, ok := parseFloat(v, "TUTOR_RETRIEVAL_THRESHOLD"); ok {
			cfg.Retrieval.Threshold = f
		}
	}
	if v := os.Getenv("TUTOR_RETRIEVAL_TOP_K"); v != "" {
		if n, ok := parseInt(v, "TUTOR_RETRIEVAL_TOP_K"); ok {
			cfg.Retrieval.TopK = n
		}
	}
	if v := os.Getenv("TUTOR_RETRIEVAL_TIMEOUT"); v != "" {
		if d, ok := parseDuration(v, "TUTOR_RETRIEVAL_TIMEOUT"); ok {
			cfg.Retrieval.Timeout = d
		}
	}
	if v := os.Getenv("WEAVIATE_SERVICE_URL"); v != "" {
		cfg.Retrieval.WeaviateURL = v
	}

	if v := os.Getenv("TUTOR_GENERATION_BACKEND"); v != "" {
		cfg.Generation.Backend = v
	}
	if v := os.Getenv("TUTOR_MODEL"); v != "" {
		cfg.Generation.Model = v
	}
	if v := os.Getenv("TUTOR_TEMPERATURE"); v != "" {
		if f, ok := parseFloat(v, "TUTOR_TEMPERATURE"); ok {
			cfg.Generation.Temperature = float32(f)
		}
	}
	if v := os.Getenv("TUTOR_GENERATION_TIMEOUT"); v != "" {
		if d, ok := parseDuration(v, "TUTOR_GENERATION_TIMEOUT"); ok {
			cfg.Generation.Timeout = d
		}
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.Generation.OpenAIBaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Generation.OpenAIAPIKey = v
	}

	if v := os.Getenv("TUTOR_PROXY_ENDPOINT"); v != "" {
		cfg.Proxy.Endpoint = v
	}
	if v := os.Getenv("TUTOR_PROXY_API_KEY"); v != "" {
		cfg.Proxy.APIKey = v
	}
	if v := os.Getenv("TUTOR_PROXY_TIMEOUT"); v != "" {
		if d, ok := parseDuration(v, "TUTOR_PROXY_TIMEOUT"); ok {
			cfg.Proxy.Timeout = d
		}
	}

	if v := os.Getenv("TUTOR_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("TUTOR_AUDIT_QUEUE"); v != "" {
		if n, ok := parseInt(v, "TUTOR_AUDIT_QUEUE"); ok {
			cfg.Audit.QueueCapacity = n
		}
	}

	if v := os.Getenv("TUTOR_RATE_PER_MINUTE"); v != "" {
		if n, ok := parseInt(v, "TUTOR_RATE_PER_MINUTE"); ok {
			cfg.RateLimit.PerMinute = n
		}
	}
	if v := os.Getenv("TUTOR_RATE_BURST"); v != "" {
		if n, ok := parseInt(v, "TUTOR_RATE_BURST"); ok {
			cfg.RateLimit.Burst = n
		}
	}
}

// ===== Parse Helpers =====

func parseBool(v, name string) (bool, bool) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring invalid boolean env var", "name", name, "value", v)
		return false, false
	}
	return b, true
}

func parseInt(v, name string) (int, bool) {
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid integer env var", "name", name, "value", v)
		return 0, false
	}
	return n, true
}

func parseFloat(v, name string) (float64, bool) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring invalid float env var", "name", name, "value", v)
		return 0, false
	}
	return f, true
}

func parseDuration(v, name string) (time.Duration, bool) {
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("ignoring invalid duration env var", "name", name, "value", v)
		return 0, false
	}
	return d, true
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
