package service

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/timmy/kindred/internal/domain"
	"github.com/timmy/kindred/internal/index"
	"github.com/timmy/kindred/internal/repository"
)

// Aggregator maintains each user's taste vector as the mean of the vectors of
// the images they favorited. Favorited images without a vector are skipped;
// if none has a vector the user's vector is absent and the user leaves the
// index.
type Aggregator struct {
	favorites    *repository.FavoriteRepository
	imageVectors *repository.VectorStore
	userVectors  *repository.VectorStore
	index        index.Index
}

// NewAggregator creates an Aggregator.
func NewAggregator(
	favorites *repository.FavoriteRepository,
	imageVectors *repository.VectorStore,
	userVectors *repository.VectorStore,
	idx index.Index,
) *Aggregator {
	return &Aggregator{
		favorites:    favorites,
		imageVectors: imageVectors,
		userVectors:  userVectors,
		index:        idx,
	}
}

// restoreFunc puts an index entry back to its state before a recompute.
type restoreFunc func(ctx context.Context) error

// Recompute derives userID's vector from its current favorites inside tx,
// stores it and applies it to the index. The returned restoreFunc undoes the
// index change if tx later fails to commit.
func (a *Aggregator) Recompute(ctx context.Context, tx *gorm.DB, userID int64) (domain.Vector, restoreFunc, error) {
	userVectors := a.userVectors.WithTx(tx)

	prev, err := userVectors.Get(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	imageIDs, err := a.favorites.WithTx(tx).ImageIDsByUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load favorites: %w", err)
	}
	// Share locks order this read against a concurrent re-ingest of the
	// same images, so the mean never misses a vector committed after it.
	vectors, err := a.imageVectors.WithTx(tx).ForShare().GetMany(ctx, imageIDs)
	if err != nil {
		return nil, nil, err
	}

	present := make([]domain.Vector, 0, len(imageIDs))
	for _, id := range imageIDs {
		if v, ok := vectors[id]; ok {
			present = append(present, v)
		}
	}
	mean, err := meanVector(present, userVectors.Dimension())
	if err != nil {
		return nil, nil, err
	}

	if mean == nil {
		if err := userVectors.Clear(ctx, userID); err != nil {
			return nil, nil, err
		}
		if err := a.index.Delete(ctx, userID); err != nil {
			return nil, nil, fmt.Errorf("failed to remove user from index: %w", err)
		}
	} else {
		if err := userVectors.Upsert(ctx, userID, mean); err != nil {
			return nil, nil, err
		}
		if err := a.index.Upsert(ctx, userID, mean); err != nil {
			return nil, nil, fmt.Errorf("failed to update index: %w", err)
		}
	}

	restore := func(ctx context.Context) error {
		if prev == nil {
			return a.index.Delete(ctx, userID)
		}
		return a.index.Upsert(ctx, userID, prev)
	}
	return mean, restore, nil
}

// meanVector returns the dimension-wise mean, or nil for no vectors.
func meanVector(vectors []domain.Vector, dim int) (domain.Vector, error) {
	if len(vectors) == 0 {
		return nil, nil
	}

	sum := make([]float64, dim)
	for _, v := range vectors {
		if err := domain.ValidateDimension(v, dim); err != nil {
			return nil, err
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}

	mean := make(domain.Vector, dim)
	n := float64(len(vectors))
	for i := range sum {
		mean[i] = float32(sum[i] / n)
	}
	return mean, nil
}
