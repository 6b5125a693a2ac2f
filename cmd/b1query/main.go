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
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/b1query/services/llm"
	"github.com/AleutianAI/b1query/services/query"
	"github.com/AleutianAI/b1query/services/query/chart"
	"github.com/AleutianAI/b1query/services/query/nlq"
	"github.com/AleutianAI/b1query/services/query/observability"
	"github.com/AleutianAI/b1query/services/query/routes"
	"github.com/AleutianAI/b1query/services/query/store"
	"github.com/AleutianAI/b1query/services/servicelayer"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
		slog.Warn("Ignoring non-integer environment value", "key", key, "value", v)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
		slog.Warn("Ignoring non-numeric environment value", "key", key, "value", v)
	}
	return fallback
}

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "b1query-otel-collector:4317"
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
		resource.WithAttributes(semconv.ServiceNameKey.String("b1query-service")))
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
	port := getEnvString("B1QUERY_PORT", "12310")

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	metrics := observability.InitMetrics()

	log.Println("Configuring the LLM Client")
	llmBackendType := os.Getenv("LLM_BACKEND_TYPE")
	llmClient, err := llm.NewFromEnv(llmBackendType)
	if err != nil {
		// The service stays useful without a model: keyword resolution and
		// heuristic charts keep working.
		slog.Warn("LLM backend unavailable, running with keyword resolution only", "error", err)
		llmClient = nil
	}

	catalog, err := nlq.LoadCatalog()
	if err != nil {
		log.Fatalf("FATAL: Could not load the entity catalog: %v", err)
	}
	resolver := nlq.NewResolver(llmClient, catalog)
	recommender := chart.NewRecommender(llmClient)

	// --- Service Layer plumbing ---
	cache := servicelayer.NewSessionCache()
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	cache.StartSweeper(sweepCtx, servicelayer.SweepInterval)

	auth := servicelayer.NewAuthenticator(cache)
	fetcher := servicelayer.NewFetcher(servicelayer.FetcherConfig{
		PageSize:          getEnvInt("B1QUERY_PAGE_SIZE", 0),
		MaxRows:           getEnvInt("B1QUERY_MAX_ROWS", 0),
		RequestsPerSecond: getEnvFloat("B1QUERY_REQUESTS_PER_SECOND", 20),
	})
	executor := query.NewExecutor(auth, fetcher, cache, metrics)

	// --- Persistence (optional) ---
	var st *store.Store
	dataDir := getEnvString("B1QUERY_DATA_DIR", "/var/lib/b1query")
	st, err = store.Open(store.Config{Path: dataDir})
	if err != nil {
		slog.Warn("Persistent store unavailable, connections and history disabled",
			"path", dataDir, "error", err)
		st = nil
	} else {
		defer st.Close()
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("b1query-service"))

	routes.SetupRoutes(router, resolver, executor, recommender, st)
	log.Println("started up the container")

	log.Println("Starting the b1query server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
