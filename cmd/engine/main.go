package main

import (
	"log"

	"github.com/threatforge/enrichment-engine/internal/api"
	"github.com/threatforge/enrichment-engine/internal/cache"
	"github.com/threatforge/enrichment-engine/internal/config"
	"github.com/threatforge/enrichment-engine/internal/db"
	"github.com/threatforge/enrichment-engine/internal/enrichment"
	"github.com/threatforge/enrichment-engine/internal/httpclient"
	"github.com/threatforge/enrichment-engine/internal/providers"
)

func main() {
	log.Println("Starting Threat-Forge Enrichment Engine (Microservice: ioc-enrichment-pipeline)...")

	// ─── Configuration ──────────────────────────────────────────────────
	// Provider credentials come from environment variables (or a local
	// .env). Missing credentials degrade the matching adapter to unknown
	// verdicts instead of blocking startup; DATABASE_URL is required.
	// ────────────────────────────────────────────────────────────────────

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("FATAL: Required environment variable DATABASE_URL is not set. " +
			"Copy .env.example to .env and fill in your values: cp .env.example .env")
	}

	dbConn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer dbConn.Close()
	if err := dbConn.InitSchema(); err != nil {
		log.Fatalf("DB schema init failed: %v", err)
	}

	// Shared HTTP harness and result cache, one of each per process.
	harness := httpclient.New()
	resultCache := cache.New(cfg.CachePositiveTTL, cfg.CacheNegativeTTL)

	adapterList := providers.BuildAll(cfg, harness)
	adapters := make([]enrichment.Adapter, len(adapterList))
	for i, a := range adapterList {
		adapters[i] = a
	}

	orchestrator := enrichment.NewOrchestrator(adapters, resultCache, dbConn)
	processor := enrichment.NewProcessor(dbConn, orchestrator, cfg.EnrichConcurrency)

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	alerts := enrichment.NewAlertManager(api.BroadcastAlert(wsHub))
	processor.OnProgress(api.BroadcastProgress(wsHub))
	processor.OnOutcome(alerts.EmitFromOutcome)

	// Setup the Gin Router
	r := api.SetupRouter(dbConn, resultCache, orchestrator, processor, alerts, wsHub)

	// Start the server
	log.Printf("Engine running on :%s (API Node: ioc-enrichment-pipeline)\n", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
