// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/services/llm"
	"github.com/AleutianAI/AleutianPulse/services/pulse/alert"
	"github.com/AleutianAI/AleutianPulse/services/pulse/artifacts"
	"github.com/AleutianAI/AleutianPulse/services/pulse/audit"
	"github.com/AleutianAI/AleutianPulse/services/pulse/config"
	"github.com/AleutianAI/AleutianPulse/services/pulse/datatypes"
	"github.com/AleutianAI/AleutianPulse/services/pulse/insight"
	"github.com/AleutianAI/AleutianPulse/services/pulse/middleware"
	"github.com/AleutianAI/AleutianPulse/services/pulse/pipeline"
	"github.com/AleutianAI/AleutianPulse/services/pulse/routes"
	"github.com/AleutianAI/AleutianPulse/services/pulse/store"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "pulse-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("pulse-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func newLLMClient() (llm.LLMClient, error) {
	switch os.Getenv("LLM_BACKEND_TYPE") {
	case "ollama":
		slog.Info("Using Ollama LLM backend")
		return llm.NewOllamaClient()
	case "openai":
		slog.Info("Using OpenAI LLM backend")
		return llm.NewOpenAIClient()
	default:
		slog.Warn("LLM_BACKEND_TYPE not set or invalid, defaulting to openai")
		return llm.NewOpenAIClient()
	}
}

func newEmbedder() (insight.Embedder, error) {
	switch os.Getenv("EMBEDDING_BACKEND_TYPE") {
	case "http":
		slog.Info("Using HTTP embedding backend")
		return insight.NewHTTPEmbedder()
	case "openai":
		slog.Info("Using OpenAI embedding backend")
		return insight.NewOpenAIEmbedder()
	default:
		slog.Warn("EMBEDDING_BACKEND_TYPE not set or invalid, defaulting to openai")
		return insight.NewOpenAIEmbedder()
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  os.Getenv("PULSE_LOG_DIR"),
		Service: "pulse",
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	db, err := store.Open(store.DefaultConfig(cfg.Store.Path))
	if err != nil {
		log.Fatalf("failed to open the session store: %v", err)
	}
	defer db.Close()
	sessionStore := store.NewBadgerSessionStore(db)

	weaviateClient, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.Weaviate.Host,
		Scheme: cfg.Weaviate.Scheme,
	})
	if err != nil {
		log.Fatalf("failed to create the Weaviate client: %v", err)
	}
	datatypes.EnsureWeaviateSchema(weaviateClient)

	var artifactStore artifacts.Store
	if cfg.Artifacts.GCSBucket != "" {
		gcsStore, err := artifacts.NewGCSStore(context.Background(),
			cfg.Artifacts.GCSBucket, cfg.Artifacts.GCSKey)
		if err != nil {
			log.Fatalf("failed to create the GCS artifact store: %v", err)
		}
		defer gcsStore.Close()
		artifactStore = gcsStore
		slog.Info("Using GCS artifact storage", "bucket", cfg.Artifacts.GCSBucket)
	} else {
		localStore, err := artifacts.NewLocalStore(cfg.Artifacts.LocalDir)
		if err != nil {
			log.Fatalf("failed to create the local artifact store: %v", err)
		}
		artifactStore = localStore
		slog.Info("Using local artifact storage", "dir", cfg.Artifacts.LocalDir)
	}

	llmClient, err := newLLMClient()
	if err != nil {
		log.Fatalf("failed to initialize the LLM client: %v", err)
	}
	embedder, err := newEmbedder()
	if err != nil {
		log.Fatalf("failed to initialize the embedder: %v", err)
	}
	insightStore := insight.NewStore(embedder,
		insight.NewWeaviateVectorStore(weaviateClient), llmClient)

	engine, err := audit.NewHTTPEngine()
	if err != nil {
		log.Fatalf("failed to configure the audit engine: %v", err)
	}

	var alertSink alert.Sink = alert.NopSink{}
	if cfg.Alerts.WebhookURL != "" {
		alertSink = alert.NewWebhookSink(cfg.Alerts.WebhookURL)
		slog.Info("Alert webhook enabled")
	}

	var authProvider middleware.AuthProvider = middleware.NopAuthProvider{}
	if cfg.Auth.Tokens != "" {
		authProvider, err = middleware.NewStaticTokenProvider(cfg.Auth.Tokens)
		if err != nil {
			log.Fatalf("failed to parse PULSE_API_TOKENS: %v", err)
		}
		slog.Info("Static token authentication enabled")
	} else {
		slog.Warn("No API tokens configured. Running in open mode.")
	}

	service := pipeline.New(sessionStore, artifactStore, engine, insightStore, alertSink)

	router := gin.Default()
	router.Use(otelgin.Middleware("pulse-service"))
	routes.SetupRoutes(router, service, authProvider)

	log.Println("Starting the pulse server on port ", cfg.Server.Port)
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
