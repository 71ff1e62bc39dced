package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "golang.org/x/image/webp"
	"gorm.io/gorm"

	"github.com/timmy/kindred/internal/domain"
	"github.com/timmy/kindred/internal/logger"
	"github.com/timmy/kindred/internal/metrics"
	"github.com/timmy/kindred/internal/repository"
	"github.com/timmy/kindred/internal/source"
	"github.com/timmy/kindred/internal/storage"
)

// IngestService writes images and their vectors into the catalog.
type IngestService struct {
	db            *gorm.DB
	images        *repository.ImageRepository
	vectors       *repository.VectorStore
	favorites     *repository.FavoriteRepository
	favoriteSvc   *FavoriteService
	embedder      ImageEmbedder
	storage       storage.ObjectStorage
	storagePrefix string
	metrics       metrics.Collector
	logger        *logger.Logger
	workers       int
	batchSize     int
}

// IngestConfig holds configuration for the ingest service
type IngestConfig struct {
	Workers       int
	BatchSize     int
	StoragePrefix string
}

// NewIngestService creates a new ingest service. embedder and objectStorage
// may be nil; IngestImage needs neither.
func NewIngestService(
	db *gorm.DB,
	images *repository.ImageRepository,
	imageVectors *repository.VectorStore,
	favorites *repository.FavoriteRepository,
	favoriteSvc *FavoriteService,
	embedder ImageEmbedder,
	objectStorage storage.ObjectStorage,
	collector metrics.Collector,
	log *logger.Logger,
	cfg *IngestConfig,
) *IngestService {
	if collector == nil {
		collector = metrics.NewNoop()
	}
	s := &IngestService{
		db:          db,
		images:      images,
		vectors:     imageVectors,
		favorites:   favorites,
		favoriteSvc: favoriteSvc,
		embedder:    embedder,
		storage:     objectStorage,
		metrics:     collector,
		logger:      log,
		workers:     4,
		batchSize:   16,
	}
	if cfg != nil {
		if cfg.Workers > 0 {
			s.workers = cfg.Workers
		}
		if cfg.BatchSize > 0 {
			s.batchSize = cfg.BatchSize
		}
		s.storagePrefix = cfg.StoragePrefix
	}
	return s
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *IngestService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// IngestResult describes the effect of one IngestImage call.
type IngestResult struct {
	Image            *domain.Image `json:"image"`
	Created          bool          `json:"created"`
	EmbeddingChanged bool          `json:"embedding_changed"`
	RecomputedUsers  int           `json:"recomputed_users"`
}

// IngestImage stores vector for the image at url, creating the catalog entry
// if needed. When an existing image's vector changes, every user who
// favorited it is recomputed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - url: image URL, the catalog key.
//   - vector: image embedding of the configured dimension.
// Returns:
//   - *IngestResult: the stored image and what changed.
//   - error: domain.ErrValidation for an empty URL or a dimension mismatch.
func (s *IngestService) IngestImage(ctx context.Context, url string, vector []float32) (*IngestResult, error) {
	start := time.Now()
	result, err := s.ingestImage(ctx, url, vector)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		s.metrics.RecordOperation(ctx, "ingest_image", "error", elapsed)
		s.metrics.RecordError(ctx, "ingest_image", errorType(err))
		return result, err
	}
	s.metrics.RecordOperation(ctx, "ingest_image", "success", elapsed)
	return result, nil
}

func (s *IngestService) ingestImage(ctx context.Context, url string, vector []float32) (*IngestResult, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("%w: empty image url", domain.ErrValidation)
	}
	if err := domain.ValidateDimension(vector, s.vectors.Dimension()); err != nil {
		return nil, err
	}

	result := &IngestResult{}
	var affected []int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		img, created, err := s.images.WithTx(tx).EnsureByURL(ctx, url)
		if err != nil {
			return err
		}
		vectors := s.vectors.WithTx(tx)
		prev, err := vectors.Get(ctx, img.ID)
		if err != nil {
			return err
		}

		result.Image = img
		result.Created = created
		if vectorsEqual(prev, vector) {
			return nil
		}
		if err := vectors.Upsert(ctx, img.ID, vector); err != nil {
			return err
		}
		img.Embedding = domain.Vector(vector).Clone()
		result.EmbeddingChanged = true

		if !created {
			affected, err = s.favorites.WithTx(tx).UserIDsByImage(ctx, img.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ingest image: %w", err)
	}

	if len(affected) > 0 {
		logger.CtxInfo(ctx, "Image vector changed, recomputing users: image_id=%d, users=%d", result.Image.ID, len(affected))
		if err := s.favoriteSvc.RecomputeUsers(ctx, affected); err != nil {
			return result, fmt.Errorf("failed to recompute favoriting users: %w", err)
		}
		result.RecomputedUsers = len(affected)
	}
	return result, nil
}

// ListImages returns catalog images ordered by id.
func (s *IngestService) ListImages(ctx context.Context, limit, offset int) ([]domain.Image, int64, error) {
	images, err := s.images.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.images.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return images, total, nil
}

// IngestStats holds statistics for an ingestion run
type IngestStats struct {
	TotalItems     int64     `json:"total_items"`
	ProcessedItems int64     `json:"processed_items"`
	SkippedItems   int64     `json:"skipped_items"`
	FailedItems    int64     `json:"failed_items"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
}

// IngestOptions holds options for ingestion
type IngestOptions struct {
	Force bool // Re-embed images that already have a vector
}

// IngestFromSource embeds and ingests up to limit items from src using a
// pool of workers.
func (s *IngestService) IngestFromSource(ctx context.Context, src source.Source, limit int, opts *IngestOptions) (*IngestStats, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("ingest from source requires an image embedder")
	}
	if opts == nil {
		opts = &IngestOptions{}
	}

	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldComponent: "ingest",
		logger.FieldSource:    src.GetSourceID(),
	})
	stats := &IngestStats{
		StartTime: time.Now(),
	}

	s.log(ctx).WithFields(logger.Fields{
		"limit": limit,
		"force": opts.Force,
	}).Info("Starting ingestion")

	itemsChan := make(chan source.ImageItem, s.workers*2)
	resultsChan := make(chan *processResult, s.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, itemsChan, resultsChan, opts)
		}()
	}

	done := make(chan struct{})
	go func() {
		for result := range resultsChan {
			atomic.AddInt64(&stats.ProcessedItems, 1)
			if result.skipped {
				atomic.AddInt64(&stats.SkippedItems, 1)
			} else if result.err != nil {
				atomic.AddInt64(&stats.FailedItems, 1)
				s.log(ctx).WithFields(logger.Fields{
					"source_id": result.sourceID,
				}).WithError(result.err).Error("Failed to process item")
			}
		}
		close(done)
	}()

	cursor := ""
	totalFetched := 0
fetch:
	for ctx.Err() == nil {
		remaining := limit - totalFetched
		if remaining <= 0 {
			break
		}

		batchLimit := s.batchSize
		if batchLimit > remaining {
			batchLimit = remaining
		}

		items, nextCursor, err := src.FetchBatch(ctx, cursor, batchLimit)
		if err != nil {
			s.log(ctx).WithError(err).Error("Failed to fetch batch")
			break
		}
		if len(items) == 0 {
			break
		}

		atomic.AddInt64(&stats.TotalItems, int64(len(items)))
		totalFetched += len(items)

		for _, item := range items {
			select {
			case itemsChan <- item:
			case <-ctx.Done():
				break fetch
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	close(itemsChan)
	wg.Wait()
	close(resultsChan)
	<-done

	stats.EndTime = time.Now()

	s.log(ctx).WithFields(logger.Fields{
		"total":     stats.TotalItems,
		"processed": stats.ProcessedItems,
		"skipped":   stats.SkippedItems,
		"failed":    stats.FailedItems,
		"duration":  stats.EndTime.Sub(stats.StartTime).String(),
	}).Info("Ingestion completed")

	return stats, ctx.Err()
}

type processResult struct {
	sourceID string
	skipped  bool
	err      error
}

// errSkipExisting marks an item whose image already has a vector.
var errSkipExisting = errors.New("skipped: already ingested")

func (s *IngestService) worker(ctx context.Context, items <-chan source.ImageItem, results chan<- *processResult, opts *IngestOptions) {
	for item := range items {
		if ctx.Err() != nil {
			results <- &processResult{sourceID: item.SourceID, err: ctx.Err()}
			continue
		}

		result := &processResult{sourceID: item.SourceID}
		if err := s.processItem(ctx, &item, opts); err != nil {
			if errors.Is(err, errSkipExisting) {
				result.skipped = true
			} else {
				result.err = err
			}
		}
		results <- result
	}
}

func (s *IngestService) processItem(ctx context.Context, item *source.ImageItem, opts *IngestOptions) error {
	data, err := os.ReadFile(item.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: not a decodable image: %v", domain.ErrValidation, err)
	}

	hash := md5.Sum(data)
	md5Hash := hex.EncodeToString(hash[:])

	url := item.URL
	var storageKey string
	if s.storage != nil {
		storageKey = storage.ObjectKey(s.storagePrefix, md5Hash, item.Format)
		url = s.storage.GetURL(storageKey)
	}

	if !opts.Force {
		existing, err := s.images.GetByURL(ctx, url)
		if err == nil && existing.HasEmbedding() {
			return errSkipExisting
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to check existence: %w", err)
		}
	}

	// External API call before any persistence; nothing to roll back on failure.
	vector, err := s.embedder.EmbedImage(ctx, data, item.Format)
	if err != nil {
		return fmt.Errorf("failed to generate embedding: %w", err)
	}

	uploaded := false
	if s.storage != nil {
		exists, err := s.storage.Exists(ctx, storageKey)
		if err != nil {
			return fmt.Errorf("failed to check storage existence: %w", err)
		}
		if !exists {
			if err := s.storage.Upload(ctx, storageKey, bytes.NewReader(data), int64(len(data)), storage.ContentType(item.Format)); err != nil {
				return fmt.Errorf("failed to upload to storage: %w", err)
			}
			uploaded = true
		}
	}

	if result, err := s.IngestImage(ctx, url, vector); err != nil {
		// A non-nil result means the image row committed and references the upload.
		if uploaded && result == nil {
			if delErr := s.storage.Delete(ctx, storageKey); delErr != nil {
				s.log(ctx).WithFields(logger.Fields{
					"storage_key": storageKey,
				}).WithError(delErr).Error("Failed to rollback storage upload")
			}
		}
		return err
	}
	return nil
}

func vectorsEqual(a domain.Vector, b []float32) bool {
	if a == nil || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
