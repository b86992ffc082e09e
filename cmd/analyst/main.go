// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command analyst starts the Aleutian Analyst API server.
//
// Aleutian Analyst answers stock ticker questions with an LLM agent that
// draws on SEC EDGAR filings, market data, and optional web research:
//   - WebSocket session channel with streaming answers
//   - Per-session credentials (Gemini, EDGAR user agent, optional Tavily)
//   - Resumable conversations persisted in BadgerDB
//
// Usage:
//
//	go run ./cmd/analyst
//	go run ./cmd/analyst -port 8080
//	ANALYST_DATA_DIR=/var/lib/analyst go run ./cmd/analyst
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/analyst/health
//
//	# Discover the tool catalog
//	curl http://localhost:8080/v1/analyst/tools | jq
//
//	# Interactive chat (see cmd/analystcli)
//	go run ./cmd/analystcli chat --ticker AAPL
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/AleutianAnalyst/services/analyst"
	badgerstore "github.com/AleutianAI/AleutianAnalyst/services/analyst/storage/badger"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagation: trace context flows from incoming
	// HTTP headers through all handlers.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	dataDir := os.Getenv("ANALYST_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Error("Cannot determine home directory; set ANALYST_DATA_DIR",
				slog.String("error", err.Error()))
			os.Exit(1)
		}
		dataDir = filepath.Join(home, ".aleutian", "analyst")
	}

	cfg := badgerstore.DefaultConfig()
	cfg.Path = dataDir
	db, err := badgerstore.OpenDB(cfg)
	if err != nil {
		slog.Error("Failed to open session database",
			slog.String("path", dataDir),
			slog.String("error", err.Error()))
		os.Exit(1)
	}
	store := badgerstore.NewChatStore(db)

	handlers := analyst.NewHandlers(store, slog.Default())

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-analyst"))
	if *debug {
		router.Use(gin.Logger())
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	analyst.RegisterRoutes(v1, handlers)

	printBanner(*port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down Aleutian Analyst server")
		if err := db.Close(); err != nil {
			slog.Warn("Failed to close session database", slog.String("error", err.Error()))
		}
		// Wipe any session credentials still resident in locked memory.
		memguard.Purge()
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting Aleutian Analyst server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func printBanner(port int) {
	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                     ALEUTIAN ANALYST SERVER                       ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Stock ticker Q&A powered by an LLM agent over SEC EDGAR,         ║
║  market data, and optional web research.                          ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/analyst/health             │  ║
║  │                                                             │  ║
║  │ # List the tool catalog                                     │  ║
║  │ curl http://localhost:%d/v1/analyst/tools | jq         │  ║
║  │                                                             │  ║
║  │ # Interactive chat                                          │  ║
║  │ go run ./cmd/analystcli chat --ticker AAPL                  │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Channel: /v1/analyst/ws (WebSocket, auth-first)             ║
║  ├── Sessions: /v1/analyst/sessions, /sessions/:id/turns         ║
║  └── Discovery: /v1/analyst/tools, /v1/analyst/health            ║
║                                                                   ║
║  Credentials are supplied per session over the channel and are    ║
║  never written to disk.                                           ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, port, port)
}
