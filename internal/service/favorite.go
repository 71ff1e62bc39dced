package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/timmy/kindred/internal/domain"
	"github.com/timmy/kindred/internal/index"
	"github.com/timmy/kindred/internal/logger"
	"github.com/timmy/kindred/internal/metrics"
	"github.com/timmy/kindred/internal/repository"
)

// FavoriteService manages favorite edges. Every edge change and the resulting
// aggregate recompute run under the user's lock in one transaction, so the
// stored vector and the index entry always match the committed edge set.
type FavoriteService struct {
	db         *gorm.DB
	users      *repository.UserRepository
	images     *repository.ImageRepository
	favorites  *repository.FavoriteRepository
	vectors    *repository.VectorStore
	aggregator *Aggregator
	index      index.Index
	locks      *keyedMutex
	metrics    metrics.Collector
	logger     *logger.Logger
}

// NewFavoriteService creates a new FavoriteService.
func NewFavoriteService(
	db *gorm.DB,
	users *repository.UserRepository,
	images *repository.ImageRepository,
	favorites *repository.FavoriteRepository,
	userVectors *repository.VectorStore,
	aggregator *Aggregator,
	idx index.Index,
	collector metrics.Collector,
	log *logger.Logger,
) *FavoriteService {
	if collector == nil {
		collector = metrics.NewNoop()
	}
	return &FavoriteService{
		db:         db,
		users:      users,
		images:     images,
		favorites:  favorites,
		vectors:    userVectors,
		aggregator: aggregator,
		index:      idx,
		locks:      newKeyedMutex(),
		metrics:    collector,
		logger:     log,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *FavoriteService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// mutateFunc changes edges inside tx and reports whether anything changed.
type mutateFunc func(tx *gorm.DB) (bool, error)

// mutate runs fn and, if it changed the edge set, the aggregate recompute as
// one unit under userID's lock. A failed commit restores the index entry.
func (s *FavoriteService) mutate(ctx context.Context, op string, userID int64, fn mutateFunc) (bool, error) {
	start := time.Now()
	unlock := s.locks.Lock(userID)
	defer unlock()

	var changed bool
	var restore restoreFunc
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		changed, err = fn(tx)
		if err != nil || !changed {
			return err
		}
		_, restore, err = s.aggregator.Recompute(ctx, tx, userID)
		return err
	})

	if err != nil && restore != nil {
		if rerr := restore(context.WithoutCancel(ctx)); rerr != nil {
			s.log(ctx).WithFields(logger.Fields{
				logger.FieldUserID:  userID,
				logger.FieldBackend: s.index.Backend(),
			}).WithError(rerr).Error("Failed to restore index entry after rollback")
		}
	}

	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		s.metrics.RecordOperation(ctx, op, "error", elapsed)
		s.metrics.RecordError(ctx, op, errorType(err))
		return false, err
	}
	s.metrics.RecordOperation(ctx, op, "success", elapsed)
	s.recordIndexSize(ctx)
	return changed, nil
}

// AddFavorite adds the (userID, imageID) edge and recomputes the user's
// vector. Adding an existing edge is a no-op and reports false.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: user adding the favorite.
//   - imageID: catalog image.
// Returns:
//   - bool: true if a new edge was created.
//   - error: domain.ErrNotFound for an unknown user or image.
func (s *FavoriteService) AddFavorite(ctx context.Context, userID, imageID int64) (bool, error) {
	return s.mutate(ctx, "add_favorite", userID, func(tx *gorm.DB) (bool, error) {
		if err := s.requireUser(ctx, tx, userID); err != nil {
			return false, err
		}
		exists, err := s.images.WithTx(tx).Exists(ctx, imageID)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, fmt.Errorf("image %d: %w", imageID, domain.ErrNotFound)
		}
		return s.favorites.WithTx(tx).Add(ctx, userID, imageID)
	})
}

// AddFavoriteByURL resolves url through the catalog and adds it as a favorite.
// An unknown URL fails with domain.ErrNotFound and changes nothing.
func (s *FavoriteService) AddFavoriteByURL(ctx context.Context, userID int64, url string) (*domain.Image, bool, error) {
	img, err := s.images.GetByURL(ctx, url)
	if err != nil {
		return nil, false, err
	}
	created, err := s.AddFavorite(ctx, userID, img.ID)
	if err != nil {
		return nil, false, err
	}
	return img, created, nil
}

// RemoveFavorite deletes the (userID, imageID) edge and recomputes the user's
// vector. A missing edge fails with domain.ErrNotFound without a recompute.
func (s *FavoriteService) RemoveFavorite(ctx context.Context, userID, imageID int64) error {
	_, err := s.mutate(ctx, "remove_favorite", userID, func(tx *gorm.DB) (bool, error) {
		removed, err := s.favorites.WithTx(tx).Remove(ctx, userID, imageID)
		if err != nil {
			return false, err
		}
		if !removed {
			return false, fmt.Errorf("favorite (%d, %d): %w", userID, imageID, domain.ErrNotFound)
		}
		return true, nil
	})
	return err
}

// ListFavorites returns the user's favorites ascending by image id.
func (s *FavoriteService) ListFavorites(ctx context.Context, userID int64) ([]domain.FavoriteImage, error) {
	if err := s.requireUser(ctx, s.db, userID); err != nil {
		return nil, err
	}
	return s.favorites.ListByUser(ctx, userID)
}

// Recompute rederives userID's vector from its current favorites.
func (s *FavoriteService) Recompute(ctx context.Context, userID int64) error {
	_, err := s.mutate(ctx, "recompute", userID, func(tx *gorm.DB) (bool, error) {
		return true, nil
	})
	return err
}

// RecomputeUsers recomputes each user and joins the failures.
func (s *FavoriteService) RecomputeUsers(ctx context.Context, userIDs []int64) error {
	var errs []error
	for _, id := range userIDs {
		if err := s.Recompute(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("user %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// ReconcileStats summarizes a ReconcileAll run.
type ReconcileStats struct {
	Users        int
	WithVector   int
	Failed       int
	IndexEntries int
}

// ReconcileAll recomputes every user's vector from the current edges and
// rewrites their index entries. It repairs state left behind by a crash
// between a database commit and an index write.
func (s *FavoriteService) ReconcileAll(ctx context.Context) (*ReconcileStats, error) {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldComponent: "reconcile",
		logger.FieldBackend:   s.index.Backend(),
	})
	start := time.Now()

	ids, err := s.users.IDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	stats := &ReconcileStats{Users: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := s.Recompute(ctx, id); err != nil {
			stats.Failed++
			logger.CtxWarn(ctx, "Failed to reconcile user: user_id=%d, error=%v", id, err)
			continue
		}
		vec, err := s.vectors.Get(ctx, id)
		if err == nil && vec != nil {
			stats.WithVector++
		}
	}

	if n, err := s.index.Len(ctx); err == nil {
		stats.IndexEntries = n
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		logger.FieldCount:      stats.Users,
	}).Info(ctx, "Reconcile completed: with_vector=%d, failed=%d, index_entries=%d",
		stats.WithVector, stats.Failed, stats.IndexEntries)

	return stats, nil
}

// BootstrapIndex loads every stored user vector into the index. In-process
// backends start empty and call this at startup.
func (s *FavoriteService) BootstrapIndex(ctx context.Context) (int, error) {
	count := 0
	err := s.vectors.Each(ctx, 500, func(id int64, vec domain.Vector) error {
		if err := s.index.Upsert(ctx, id, vec); err != nil {
			return fmt.Errorf("user %d: %w", id, err)
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("failed to bootstrap index: %w", err)
	}
	s.recordIndexSize(ctx)
	return count, nil
}

func (s *FavoriteService) requireUser(ctx context.Context, db *gorm.DB, userID int64) error {
	exists, err := s.users.WithTx(db).Exists(ctx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("user %d: %w", userID, domain.ErrNotFound)
	}
	return nil
}

func (s *FavoriteService) recordIndexSize(ctx context.Context) {
	if n, err := s.index.Len(ctx); err == nil {
		s.metrics.SetIndexSize(ctx, s.index.Backend(), int64(n))
	}
}

// errorType buckets an error for the errors_total metric.
func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrNoEmbedding):
		return "no_embedding"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
