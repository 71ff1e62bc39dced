package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/timmy/kindred/internal/index"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db    *gorm.DB
	index index.Index
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *gorm.DB, idx index.Index) *HealthHandler {
	return &HealthHandler{db: db, index: idx}
}

// Health reports database reachability and the similarity index state.
// A failing dependency turns the response into 503.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK
	body := gin.H{"status": "ok", "backend": h.index.Backend()}

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["database"] = err.Error()
	}

	n, err := h.index.Len(ctx)
	if err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["index"] = err.Error()
	} else {
		body["index_size"] = n
	}

	c.JSON(status, body)
}
