// Copyright (C) 2025 Helion AI (dev@helionsearch.ai)
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
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/HelionAI/HelionSearch/services/analytics"
	"github.com/HelionAI/HelionSearch/services/orchestrator/artifacts"
	"github.com/HelionAI/HelionSearch/services/orchestrator/handlers"
	"github.com/HelionAI/HelionSearch/services/orchestrator/observability"
	"github.com/HelionAI/HelionSearch/services/orchestrator/routes"
	"github.com/HelionAI/HelionSearch/services/orchestrator/store"
	"github.com/HelionAI/HelionSearch/services/pipeline"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "helion-otel-collector:4317"
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
		resource.WithAttributes(semconv.ServiceNameKey.String("helion-orchestrator")))
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

func main() {
	port := os.Getenv("HELION_PORT")
	if port == "" {
		port = "12210"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	// --- Chat store ---
	badgerPath := os.Getenv("BADGER_PATH")
	if badgerPath == "" {
		badgerPath = "/data/helion/chats"
	}
	chatStore, err := store.Open(store.DefaultConfig(badgerPath))
	if err != nil {
		log.Fatalf("FATAL: Could not open the chat store at %s: %v", badgerPath, err)
	}
	defer chatStore.Close()

	// --- Search pipeline registry ---
	engineURL := strings.Trim(os.Getenv("SEARCH_ENGINE_URL"), "\"' ")
	if engineURL == "" {
		log.Fatalf("FATAL: SEARCH_ENGINE_URL is required")
	}
	registry := pipeline.NewRegistry(engineURL, nil)

	models := pipeline.ModelParams{
		ChatModel:      os.Getenv("CHAT_MODEL_NAME"),
		EmbeddingModel: os.Getenv("EMBEDDING_MODEL_NAME"),
	}
	if models.ChatModel == "" {
		slog.Warn("CHAT_MODEL_NAME is not set, the answer engine will use its default")
	}

	// --- Analytics (optional) ---
	var analyticsClient *analytics.Client
	var publisher *artifacts.Publisher

	analyticsClient, err = analytics.NewClient()
	if err != nil {
		slog.Info("Analytics service not configured, analytics turns disabled", "reason", err)
		analyticsClient = nil
	} else {
		artifactsDir := os.Getenv("ARTIFACTS_DIR")
		if artifactsDir == "" {
			artifactsDir = "/data/helion/artifacts"
		}
		publicURL := strings.TrimRight(os.Getenv("HELION_PUBLIC_URL"), "/")
		if publicURL == "" {
			publicURL = "http://localhost:" + port
		}
		publisher, err = artifacts.NewPublisher(artifactsDir, publicURL+"/artifacts")
		if err != nil {
			log.Fatalf("FATAL: Could not prepare the artifacts directory %s: %v", artifactsDir, err)
		}
	}

	session := handlers.NewSessionHandler(registry, chatStore, analyticsClient, publisher, models)

	router := gin.Default()
	router.Use(otelgin.Middleware("helion-orchestrator"))
	router.Use(cors.Default())

	artifactsDir := os.Getenv("ARTIFACTS_DIR")
	if artifactsDir == "" {
		artifactsDir = "/data/helion/artifacts"
	}
	routes.SetupRoutes(router, session, chatStore, artifactsDir)

	log.Println("Starting the orchestrator server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
