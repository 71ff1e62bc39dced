package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timmy/kindred/internal/logger"
	"github.com/timmy/kindred/internal/service"
	"github.com/timmy/kindred/internal/source"
)

// AdminHandler runs maintenance jobs: source ingestion and aggregate reconciliation.
type AdminHandler struct {
	ingestService   *service.IngestService
	favoriteService *service.FavoriteService
	sources         map[string]source.Source

	// Ingest job state
	mu            sync.RWMutex
	isRunning     bool
	lastStats     *service.IngestStats
	lastRunTime   time.Time
	lastRunStatus string
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - ingestService: ingest service instance.
//   - favoriteService: favorite service used for reconciliation.
//   - sources: source adapters keyed by source ID; may be empty.
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(ingestService *service.IngestService, favoriteService *service.FavoriteService, sources map[string]source.Source) *AdminHandler {
	if sources == nil {
		sources = map[string]source.Source{}
	}
	return &AdminHandler{
		ingestService:   ingestService,
		favoriteService: favoriteService,
		sources:         sources,
	}
}

// IngestRequest represents the ingest API request.
type IngestRequest struct {
	Source string `json:"source" binding:"required"`
	Limit  int    `json:"limit" binding:"required,min=1,max=10000"`
	Force  bool   `json:"force"`
}

// IngestStatusResponse represents the ingest job status.
type IngestStatusResponse struct {
	IsRunning     bool                 `json:"is_running"`
	Sources       []string             `json:"sources"`
	LastRunTime   string               `json:"last_run_time,omitempty"`
	LastRunStatus string               `json:"last_run_status,omitempty"`
	LastStats     *service.IngestStats `json:"last_stats,omitempty"`
}

// TriggerIngest handles POST /api/v1/admin/ingest.
// The job runs in the background and outlives the request; progress is read
// from GetIngestStatus. Only one job runs at a time.
func (h *AdminHandler) TriggerIngest(c *gin.Context) {
	ctx := c.Request.Context()

	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid ingest request: client_ip=%s, error=%v", c.ClientIP(), err)
		badRequest(c, err.Error())
		return
	}

	src, ok := h.sources[req.Source]
	if !ok {
		badRequest(c, "unknown source: "+req.Source)
		return
	}

	h.mu.Lock()
	if h.isRunning {
		h.mu.Unlock()
		logger.CtxWarn(ctx, "Ingest request rejected: already running, source=%s", req.Source)
		c.JSON(http.StatusConflict, ErrorResponse{Error: "ingest is already running", Code: "conflict"})
		return
	}
	h.isRunning = true
	h.mu.Unlock()

	logger.CtxInfo(ctx, "Starting ingest job: source=%s, limit=%d, force=%v", req.Source, req.Limit, req.Force)

	jobCtx := context.WithoutCancel(ctx)
	go h.runIngest(jobCtx, src, req)

	c.JSON(http.StatusAccepted, gin.H{"message": "ingest started", "source": req.Source})
}

func (h *AdminHandler) runIngest(ctx context.Context, src source.Source, req IngestRequest) {
	start := time.Now()
	stats, err := h.ingestService.IngestFromSource(ctx, src, req.Limit, &service.IngestOptions{Force: req.Force})

	h.mu.Lock()
	h.isRunning = false
	h.lastStats = stats
	h.lastRunTime = time.Now()
	if err != nil {
		h.lastRunStatus = "failed: " + err.Error()
	} else {
		h.lastRunStatus = "success"
	}
	h.mu.Unlock()

	if err != nil {
		logger.With(logger.Fields{
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
		}).Error(ctx, "Ingest job failed: source=%s, error=%v", req.Source, err)
	}
}

// GetIngestStatus handles GET /api/v1/admin/ingest/status
func (h *AdminHandler) GetIngestStatus(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.sources))
	for name := range h.sources {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := IngestStatusResponse{
		IsRunning:     h.isRunning,
		Sources:       names,
		LastRunStatus: h.lastRunStatus,
		LastStats:     h.lastStats,
	}
	if !h.lastRunTime.IsZero() {
		resp.LastRunTime = h.lastRunTime.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, resp)
}

// Reconcile handles POST /api/v1/admin/reconcile.
// It recomputes every user vector from the stored favorites and rewrites the index.
func (h *AdminHandler) Reconcile(c *gin.Context) {
	stats, err := h.favoriteService.ReconcileAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"users":         stats.Users,
		"with_vector":   stats.WithVector,
		"failed":        stats.Failed,
		"index_entries": stats.IndexEntries,
	})
}
