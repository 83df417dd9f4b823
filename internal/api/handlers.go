package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/threatforge/enrichment-engine/internal/db"
	"github.com/threatforge/enrichment-engine/internal/enrichment"
	"github.com/threatforge/enrichment-engine/internal/ingest"
	"github.com/threatforge/enrichment-engine/pkg/models"
)

const maxUploadBytes = 25 << 20 // 25 MiB

// handleUpload ingests one CSV batch and queues its enrichment job.
// POST /api/v1/uploads (multipart form, field "file")
func (h *APIHandler) handleUpload(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file field"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File exceeds 25 MiB limit"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read file"})
		return
	}
	defer file.Close()

	batch, err := ingest.ParseCSV(file, fileHeader.Filename, fileHeader.Size)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	uploadID, jobID, err := h.dbStore.CreateUpload(c.Request.Context(), &batch.Upload, batch.IOCs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist upload", "details": err.Error()})
		return
	}

	log.Printf("[API] Upload %d ingested: %d ok, %d rejected, job %d queued",
		uploadID, batch.Upload.RowsOK, batch.Upload.RowsFailed, jobID)

	c.JSON(http.StatusCreated, gin.H{
		"uploadId":   uploadID,
		"jobId":      jobID,
		"rowsOk":     batch.Upload.RowsOK,
		"rowsFailed": batch.Upload.RowsFailed,
		"totalRows":  batch.Upload.TotalRows,
		"rowErrors":  batch.RowErrors,
	})
}

// handleRunJob launches a queued job in the background.
// POST /api/v1/jobs/:id/run
func (h *APIHandler) handleRunJob(c *gin.Context) {
	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job id"})
		return
	}

	job, err := h.dbStore.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job.Status.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "Job already finished", "status": job.Status})
		return
	}
	if job.Status == models.JobRunning {
		c.JSON(http.StatusConflict, gin.H{"error": "Job is already running"})
		return
	}

	go func() {
		if err := h.processor.Run(context.Background(), jobID); err != nil {
			log.Printf("[API] Job %d run ended with error: %v", jobID, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID, "status": "started"})
}

// handleGetJob returns job status and progress counters.
// GET /api/v1/jobs/:id
func (h *APIHandler) handleGetJob(c *gin.Context) {
	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job id"})
		return
	}

	job, err := h.dbStore.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

// handleSearchIOCs lists indicators with optional filters.
// GET /api/v1/iocs?q=&type=&classification=&band=&page=&limit=
func (h *APIHandler) handleSearchIOCs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	filter := db.IOCFilter{
		Query:          c.Query("q"),
		Type:           models.IOCType(c.Query("type")),
		Classification: models.Classification(c.Query("classification")),
		SourcePlatform: c.Query("platform"),
		RiskBand:       models.RiskBand(c.Query("band")),
		Page:           page,
		Limit:          limit,
	}

	results, totalCount, err := h.dbStore.SearchIOCs(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       results,
		"totalCount": totalCount,
		"page":       page,
		"limit":      limit,
	})
}

// handleGetIOC returns one indicator with its stored provider results and
// latest score.
// GET /api/v1/iocs/:id
func (h *APIHandler) handleGetIOC(c *gin.Context) {
	iocID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid IOC id"})
		return
	}

	ioc, err := h.dbStore.GetIOC(c.Request.Context(), iocID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "IOC not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	results, err := h.dbStore.ListEnrichmentResults(c.Request.Context(), iocID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	response := gin.H{"ioc": ioc, "enrichmentResults": results}
	if score, err := h.dbStore.LatestScore(c.Request.Context(), iocID); err == nil {
		response["score"] = score
	}
	c.JSON(http.StatusOK, response)
}

// handleEnrichIOC re-enriches a single indicator on demand, synchronously.
// Cached provider results within TTL are reused.
// POST /api/v1/iocs/:id/enrich
func (h *APIHandler) handleEnrichIOC(c *gin.Context) {
	iocID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid IOC id"})
		return
	}

	ioc, err := h.dbStore.GetIOC(c.Request.Context(), iocID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "IOC not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.orchestrator.EnrichIOC(c.Request.Context(), ioc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Enrichment failed", "details": err.Error()})
		return
	}

	if h.alerts != nil {
		h.alerts.EmitFromOutcome(ioc, outcome)
	}

	c.JSON(http.StatusOK, gin.H{
		"iocId":   outcome.IOCID,
		"results": outcome.Results,
		"score": gin.H{
			"riskScore":        outcome.Score.Risk,
			"attributionScore": outcome.Score.Attribution,
			"riskBand":         outcome.Score.Band,
		},
	})
}

// handleOverviewStats returns dashboard aggregates.
// GET /api/v1/stats/overview
func (h *APIHandler) handleOverviewStats(c *gin.Context) {
	stats, err := h.dbStore.GetOverviewStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute stats", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleRecentAlerts returns the in-memory alert history, newest first.
// GET /api/v1/alerts/recent?limit=50
func (h *APIHandler) handleRecentAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	c.JSON(http.StatusOK, gin.H{"alerts": h.alerts.GetRecentAlerts(limit)})
}

// handleCacheTTL updates cache TTLs for future writes. Values are seconds
// and clamped into the allowed ranges; the effective values are returned.
// POST /api/v1/admin/cache/ttl {"positiveSeconds": 3600, "negativeSeconds": 600}
func (h *APIHandler) handleCacheTTL(c *gin.Context) {
	var req struct {
		PositiveSeconds *int `json:"positiveSeconds"`
		NegativeSeconds *int `json:"negativeSeconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	positive, negative := h.resultCache.TTLs()
	if req.PositiveSeconds != nil {
		positive = time.Duration(*req.PositiveSeconds) * time.Second
	}
	if req.NegativeSeconds != nil {
		negative = time.Duration(*req.NegativeSeconds) * time.Second
	}
	positive, negative = h.resultCache.SetTTLs(positive, negative)

	c.JSON(http.StatusOK, gin.H{
		"positiveSeconds": int(positive.Seconds()),
		"negativeSeconds": int(negative.Seconds()),
	})
}

// handleCacheClear flushes the whole result cache.
// POST /api/v1/admin/cache/clear
func (h *APIHandler) handleCacheClear(c *gin.Context) {
	evicted := h.resultCache.Clear()
	log.Printf("[API] Result cache cleared: %d entries evicted", evicted)
	c.JSON(http.StatusOK, gin.H{"evicted": evicted})
}

// handleHealth returns engine status and capabilities for service discovery
func (h *APIHandler) handleHealth(c *gin.Context) {
	positive, negative := h.resultCache.TTLs()
	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "Threat-Forge Enrichment Engine v1.0",
		"capabilities": gin.H{
			"providers":      []string{"virustotal", "urlscan", "crowdstrike", "flashpoint", "recorded_future", "osint", "forensic"},
			"search_only":    true,
			"alert_webhooks": true,
			"ws_stream":      true,
		},
		"cache": gin.H{
			"entries":         h.resultCache.Len(),
			"positiveSeconds": int(positive.Seconds()),
			"negativeSeconds": int(negative.Seconds()),
		},
		"dbConnected": h.dbStore != nil,
	})
}

// BroadcastProgress wires the job processor's progress stream onto the
// WebSocket hub.
func BroadcastProgress(wsHub *Hub) func(enrichment.Progress) {
	return func(p enrichment.Progress) {
		wsHub.BroadcastJSON(gin.H{"type": "job_progress", "progress": p})
	}
}

// BroadcastAlert wires AlertManager emissions onto the WebSocket hub.
func BroadcastAlert(wsHub *Hub) func(enrichment.Alert) {
	return func(alert enrichment.Alert) {
		wsHub.BroadcastJSON(gin.H{"type": "alert", "alert": alert})
	}
}
