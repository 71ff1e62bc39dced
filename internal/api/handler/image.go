package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/kindred/internal/domain"
	"github.com/timmy/kindred/internal/logger"
	"github.com/timmy/kindred/internal/service"
)

const (
	defaultImagePageSize = 20
	maxImagePageSize     = 100
)

// ImageHandler serves the image catalog.
type ImageHandler struct {
	ingestService *service.IngestService
}

// NewImageHandler creates a new ImageHandler.
func NewImageHandler(ingestService *service.IngestService) *ImageHandler {
	return &ImageHandler{ingestService: ingestService}
}

// IngestImageRequest carries a precomputed image embedding.
type IngestImageRequest struct {
	URL       string    `json:"url" binding:"required"`
	Embedding []float32 `json:"embedding" binding:"required"`
}

// ImageListResponse represents a page of catalog images.
type ImageListResponse struct {
	Images []domain.Image `json:"images"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// IngestImage handles POST /api/v1/images.
// A new URL returns 201, re-ingesting a known URL returns 200.
func (h *ImageHandler) IngestImage(c *gin.Context) {
	ctx := c.Request.Context()

	var req IngestImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid ingest image request: client_ip=%s, error=%v", c.ClientIP(), err)
		badRequest(c, err.Error())
		return
	}

	result, err := h.ingestService.IngestImage(ctx, req.URL, req.Embedding)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

// ListImages handles GET /api/v1/images?limit=&offset=
func (h *ImageHandler) ListImages(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultImagePageSize)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	if limit <= 0 || limit > maxImagePageSize {
		limit = defaultImagePageSize
	}
	if offset < 0 {
		offset = 0
	}

	images, total, err := h.ingestService.ListImages(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	if images == nil {
		images = []domain.Image{}
	}

	c.JSON(http.StatusOK, ImageListResponse{
		Images: images,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}
