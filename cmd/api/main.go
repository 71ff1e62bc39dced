package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/kindred/internal/api"
	"github.com/timmy/kindred/internal/config"
	"github.com/timmy/kindred/internal/index"
	"github.com/timmy/kindred/internal/logger"
	"github.com/timmy/kindred/internal/metrics"
	"github.com/timmy/kindred/internal/repository"
	"github.com/timmy/kindred/internal/service"
	"github.com/timmy/kindred/internal/source"
	"github.com/timmy/kindred/internal/source/localdir"
	"github.com/timmy/kindred/internal/storage"
)

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx := context.Background()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	dim := cfg.Embedding.Dimensions
	idx, err := index.New(ctx, &cfg.Index, dim, db)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize similarity index")
	}
	defer idx.Close()

	collector := metrics.NewPrometheusCollector()

	// Repositories
	userRepo := repository.NewUserRepository(db)
	imageRepo := repository.NewImageRepository(db)
	favoriteRepo := repository.NewFavoriteRepository(db)
	imageVectors := repository.NewImageVectorStore(db, dim)
	userVectors := repository.NewUserVectorStore(db, dim)

	// Services
	aggregator := service.NewAggregator(favoriteRepo, imageVectors, userVectors, idx)
	favoriteService := service.NewFavoriteService(db, userRepo, imageRepo, favoriteRepo, userVectors, aggregator, idx, collector, appLogger)
	similarityService := service.NewSimilarityService(userRepo, userVectors, idx, collector, &service.SimilarityConfig{
		DefaultLimit: cfg.Similarity.DefaultLimit,
		MaxLimit:     cfg.Similarity.MaxLimit,
	})
	userService := service.NewUserService(userRepo)

	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}

	// The embedder is only needed by admin-triggered ingestion; a missing API
	// key surfaces there instead of at startup.
	embedder := service.NewLazyEmbedder(func() (service.ImageEmbedder, error) {
		if err := cfg.Embedding.ValidateWithAPIKey(); err != nil {
			return nil, err
		}
		return service.NewJinaImageEmbedder(&cfg.Embedding), nil
	})
	defer embedder.Close()

	ingestService := service.NewIngestService(
		db,
		imageRepo,
		imageVectors,
		favoriteRepo,
		favoriteService,
		embedder,
		objectStorage,
		collector,
		appLogger,
		&service.IngestConfig{
			Workers:       cfg.Ingest.Workers,
			BatchSize:     cfg.Ingest.BatchSize,
			StoragePrefix: cfg.Storage.Prefix,
		},
	)

	sources := map[string]source.Source{}
	if cfg.Ingest.Root != "" {
		src := localdir.NewAdapter(cfg.Ingest.Root, cfg.Ingest.URLPrefix)
		sources[src.GetSourceID()] = src
	}

	if _, err := userService.EnsureUsers(ctx, cfg.Users.Seed); err != nil {
		appLogger.WithError(err).Fatal("Failed to seed users")
	}

	switch {
	case cfg.Index.ReconcileOnStart:
		stats, err := favoriteService.ReconcileAll(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to reconcile user vectors")
		}
		appLogger.WithFields(logger.Fields{
			"users":         stats.Users,
			"with_vector":   stats.WithVector,
			"failed":        stats.Failed,
			"index_entries": stats.IndexEntries,
		}).Info("Reconciled user vectors")
	case !index.Persistent(idx):
		n, err := favoriteService.BootstrapIndex(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to load similarity index")
		}
		appLogger.WithFields(logger.Fields{
			logger.FieldBackend: idx.Backend(),
			logger.FieldCount:   n,
		}).Info("Loaded similarity index")
	}

	router := api.SetupRouter(&cfg.Server, &api.Deps{
		DB:                db,
		Index:             idx,
		UserService:       userService,
		FavoriteService:   favoriteService,
		SimilarityService: similarityService,
		IngestService:     ingestService,
		Sources:           sources,
		Registry:          collector.Registry(),
		Logger:            appLogger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port":              cfg.Server.Port,
			"mode":              cfg.Server.Mode,
			logger.FieldBackend: idx.Backend(),
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
