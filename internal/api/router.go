package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/timmy/kindred/internal/api/handler"
	"github.com/timmy/kindred/internal/api/middleware"
	"github.com/timmy/kindred/internal/config"
	"github.com/timmy/kindred/internal/index"
	"github.com/timmy/kindred/internal/logger"
	"github.com/timmy/kindred/internal/service"
	"github.com/timmy/kindred/internal/source"
)

// Deps bundles what the router needs to build its handlers.
type Deps struct {
	DB                *gorm.DB
	Index             index.Index
	UserService       *service.UserService
	FavoriteService   *service.FavoriteService
	SimilarityService *service.SimilarityService
	IngestService     *service.IngestService
	Sources           map[string]source.Source
	// Registry is served on /metrics when set.
	Registry *prometheus.Registry
	Logger   *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg *config.ServerConfig, deps *Deps) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(deps.DB, deps.Index)
	userHandler := handler.NewUserHandler(deps.UserService, deps.FavoriteService, deps.SimilarityService)
	imageHandler := handler.NewImageHandler(deps.IngestService)
	adminHandler := handler.NewAdminHandler(deps.IngestService, deps.FavoriteService, deps.Sources)

	r.GET("/health", healthHandler.Health)
	if deps.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	{
		// Users and favorites
		v1.GET("/users", userHandler.ListUsers)
		v1.GET("/users/:id/favorites", userHandler.ListFavorites)
		v1.POST("/users/:id/favorites", userHandler.AddFavorite)
		v1.DELETE("/users/:id/favorites/:image_id", userHandler.RemoveFavorite)
		v1.GET("/users/:id/similar", userHandler.GetSimilar)

		// Images
		v1.GET("/images", imageHandler.ListImages)
		v1.POST("/images", imageHandler.IngestImage)

		// Admin
		admin := v1.Group("/admin")
		admin.POST("/ingest", adminHandler.TriggerIngest)
		admin.GET("/ingest/status", adminHandler.GetIngestStatus)
		admin.POST("/reconcile", adminHandler.Reconcile)
	}

	return r
}
