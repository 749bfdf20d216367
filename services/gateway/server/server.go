// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server wires the gateway's components and runs the HTTP
// service. The same bootstrap serves the container entry point and the
// CLI.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/tutor-gateway/pkg/extensions"
	"github.com/AleutianAI/tutor-gateway/services/gateway/audit"
	"github.com/AleutianAI/tutor-gateway/services/gateway/auth"
	"github.com/AleutianAI/tutor-gateway/services/gateway/config"
	"github.com/AleutianAI/tutor-gateway/services/gateway/conversation"
	"github.com/AleutianAI/tutor-gateway/services/gateway/generation"
	"github.com/AleutianAI/tutor-gateway/services/gateway/llmproxy"
	"github.com/AleutianAI/tutor-gateway/services/gateway/middleware"
	"github.com/AleutianAI/tutor-gateway/services/gateway/observability"
	"github.com/AleutianAI/tutor-gateway/services/gateway/orchestrator"
	"github.com/AleutianAI/tutor-gateway/services/gateway/retrieval"
	"github.com/AleutianAI/tutor-gateway/services/gateway/routes"
	storagebadger "github.com/AleutianAI/tutor-gateway/services/gateway/storage/badger"
)

const serviceName = "tutor-gateway"

// InitTracer configures the global OTLP trace provider. The returned
// cleanup flushes pending spans.
func InitTracer(ctx context.Context) (func(context.Context), error) {
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial OTLP collector: %w", err)
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// OpenAuditDB opens the audit badger database per cfg.
func OpenAuditDB(cfg config.AuditConfig, logger *slog.Logger) (*badgerdb.DB, error) {
	var storeCfg storagebadger.Config
	if cfg.Path == "" {
		slog.Warn("no audit path configured, audit records will not survive a restart")
		storeCfg = storagebadger.InMemoryConfig()
	} else {
		storeCfg = storagebadger.DefaultConfig(cfg.Path)
	}
	storeCfg.Logger = logger
	return storagebadger.Open(storeCfg)
}

// buildRetriever selects the retrieval backend.
func buildRetriever(cfg config.Config, proxy *llmproxy.Client, logger *slog.Logger) (retrieval.Retriever, retrieval.Policy, error) {
	policy := retrieval.Policy{
		CollectionKey: cfg.Retrieval.CollectionKey,
		Threshold:     cfg.Retrieval.Threshold,
		TopK:          cfg.Retrieval.TopK,
		Timeout:       cfg.Retrieval.Timeout,
	}
	switch cfg.Retrieval.Backend {
	case "weaviate":
		parsed, err := url.Parse(cfg.Retrieval.WeaviateURL)
		if err != nil || parsed.Host == "" {
			return nil, policy, fmt.Errorf("invalid weaviate url %q", cfg.Retrieval.WeaviateURL)
		}
		scheme := parsed.Scheme
		if scheme == "" {
			scheme = "http"
		}
		client, err := weaviate.NewClient(weaviate.Config{Host: parsed.Host, Scheme: scheme})
		if err != nil {
			return nil, policy, fmt.Errorf("create weaviate client: %w", err)
		}
		logger.Info("using weaviate retrieval backend", "host", parsed.Host)
		return retrieval.NewWeaviateRetriever(client, policy), policy, nil
	default:
		logger.Info("using proxy retrieval backend")
		return retrieval.NewProxyRetriever(proxy, policy), policy, nil
	}
}

// buildGenerator selects the generation backend.
func buildGenerator(cfg config.Config, proxy *llmproxy.Client, logger *slog.Logger) (generation.Generator, generation.Policy) {
	policy := generation.Policy{
		Model:       cfg.Generation.Model,
		Temperature: float64(cfg.Generation.Temperature),
		Timeout:     cfg.Generation.Timeout,
	}
	switch cfg.Generation.Backend {
	case "openai":
		logger.Info("using openai generation backend", "model", policy.Model)
		return generation.NewOpenAIGenerator(cfg.Generation.OpenAIAPIKey, cfg.Generation.OpenAIBaseURL, policy), policy
	default:
		logger.Info("using proxy generation backend", "model", policy.Model)
		return generation.NewProxyGenerator(proxy, policy), policy
	}
}

// buildIdentity assembles the authenticator chain and the enrollment
// authorizer. Evidence order: bearer token, frontend headers, basic.
func buildIdentity(cfg config.Config, tokens *auth.TokenService) (extensions.Authenticator, extensions.Authorizer, error) {
	authenticators := []extensions.Authenticator{
		auth.NewBearer(tokens),
		auth.NewFrontendHeaders(cfg.Auth.FrontendDomains, cfg.DevelopmentMode),
	}
	if len(cfg.Auth.BasicUsers) > 0 {
		authenticators = append(authenticators, auth.NewBasic(auth.NewStaticCredentials(cfg.Auth.BasicUsers)))
	}
	chain := auth.NewChain(authenticators...)

	var roster *auth.Roster
	if cfg.Auth.RosterFile != "" {
		loaded, err := auth.NewRosterFromFile(cfg.Auth.RosterFile)
		if err != nil {
			return nil, nil, fmt.Errorf("load roster: %w", err)
		}
		roster = loaded
	} else {
		roster = auth.NewRosterFromList(cfg.Auth.RosterList)
	}
	return chain, roster, nil
}

// Run starts the gateway and blocks until ctx is cancelled or the
// server fails.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, err := OpenAuditDB(cfg.Audit, logger)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer db.Close()

	store := conversation.NewStore(cfg.MaxConversations)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry, store.Len)

	prompt, err := conversation.LoadBasePrompt(cfg.BasePromptPath)
	if err != nil {
		return fmt.Errorf("load base prompt: %w", err)
	}
	if cfg.DevelopmentMode {
		stop, err := prompt.Watch(logger)
		if err != nil {
			logger.Warn("base prompt hot reload unavailable", "error", err)
		} else {
			defer stop()
		}
	}

	proxy := llmproxy.New(llmproxy.Config{
		Endpoint: cfg.Proxy.Endpoint,
		APIKey:   cfg.Proxy.APIKey,
		Timeout:  cfg.Proxy.Timeout,
	}, logger)

	retriever, retrievalPolicy, err := buildRetriever(cfg, proxy, logger)
	if err != nil {
		return err
	}
	generator, generationPolicy := buildGenerator(cfg, proxy, logger)

	anonymizer := audit.NewAnonymizer(db, logger)
	auditStore := audit.NewBadgerStore(db)
	sink := audit.NewSink(anonymizer, auditStore, cfg.Audit.QueueCapacity, metrics, logger)
	defer sink.Close()

	orch := orchestrator.New(
		store,
		prompt.Current,
		retrieval.NewGate(retriever, retrievalPolicy, logger),
		generation.NewGate(generator, generationPolicy, logger),
		sink,
		metrics,
		logger,
		orchestrator.Config{AbandonGrace: cfg.AbandonGrace, DevMode: cfg.DevelopmentMode},
	)

	tokens := auth.NewTokenService([]byte(cfg.Auth.JWTSecret))
	authenticator, authorizer, err := buildIdentity(cfg, tokens)
	if err != nil {
		return err
	}

	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	routes.SetupRoutes(router, routes.Deps{
		Orchestrator:  orch,
		Authenticator: authenticator,
		Authorizer:    authorizer,
		Tokens:        tokens,
		Pairing:       auth.NewPairing(tokens, cfg.Auth.LoginURL),
		Anonymizer:    anonymizer,
		AuditStore:    auditStore,
		Metrics:       metrics,
		Limiter:       middleware.NewSubjectLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
		Registry:      registry,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("gateway listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
