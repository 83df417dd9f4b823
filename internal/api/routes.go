package api

import (
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/threatforge/enrichment-engine/internal/cache"
	"github.com/threatforge/enrichment-engine/internal/db"
	"github.com/threatforge/enrichment-engine/internal/enrichment"
)

type APIHandler struct {
	dbStore      *db.PostgresStore
	resultCache  *cache.ResultCache
	orchestrator *enrichment.Orchestrator
	processor    *enrichment.Processor
	alerts       *enrichment.AlertManager
	wsHub        *Hub
}

func SetupRouter(dbStore *db.PostgresStore, resultCache *cache.ResultCache,
	orchestrator *enrichment.Orchestrator, processor *enrichment.Processor,
	alerts *enrichment.AlertManager, wsHub *Hub) *gin.Engine {

	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://threatforge.io,https://www.threatforge.io
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Check if the request origin is in the allowed list
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		dbStore:      dbStore,
		resultCache:  resultCache,
		orchestrator: orchestrator,
		processor:    processor,
		alerts:       alerts,
		wsHub:        wsHub,
	}

	limiter := NewRateLimiter(60, 20)

	api := r.Group("/api/v1")
	api.Use(limiter.Middleware())
	{
		// Public endpoints
		api.GET("/health", handler.handleHealth)
		api.GET("/stream", wsHub.Subscribe)

		// Protected endpoints
		protected := api.Group("")
		protected.Use(AuthMiddleware())
		{
			protected.POST("/uploads", handler.handleUpload)

			protected.GET("/jobs/:id", handler.handleGetJob)
			protected.POST("/jobs/:id/run", handler.handleRunJob)

			protected.GET("/iocs", handler.handleSearchIOCs)
			protected.GET("/iocs/:id", handler.handleGetIOC)
			protected.POST("/iocs/:id/enrich", handler.handleEnrichIOC)

			protected.GET("/stats/overview", handler.handleOverviewStats)
			protected.GET("/alerts/recent", handler.handleRecentAlerts)

			protected.POST("/admin/cache/ttl", handler.handleCacheTTL)
			protected.POST("/admin/cache/clear", handler.handleCacheClear)
		}
	}

	return r
}
