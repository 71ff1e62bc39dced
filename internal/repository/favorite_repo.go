package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/kindred/internal/domain"
)

// FavoriteRepository handles user_favorites edges.
type FavoriteRepository struct {
	db *gorm.DB
}

// NewFavoriteRepository creates a new FavoriteRepository.
func NewFavoriteRepository(db *gorm.DB) *FavoriteRepository {
	return &FavoriteRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *FavoriteRepository) WithTx(tx *gorm.DB) *FavoriteRepository {
	return &FavoriteRepository{db: tx}
}

// Add inserts the (userID, imageID) edge.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: user that favorites the image.
//   - imageID: favorited image.
// Returns:
//   - bool: false if the edge already existed.
//   - error: non-nil if the insert fails.
func (r *FavoriteRepository) Add(ctx context.Context, userID, imageID int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.FavoriteEdge{UserID: userID, ImageID: imageID})
	if result.Error != nil {
		return false, fmt.Errorf("failed to add favorite: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Remove deletes the (userID, imageID) edge and reports whether it existed.
func (r *FavoriteRepository) Remove(ctx context.Context, userID, imageID int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND image_id = ?", userID, imageID).
		Delete(&domain.FavoriteEdge{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to remove favorite: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListByUser returns the user's favorited images ascending by image ID.
func (r *FavoriteRepository) ListByUser(ctx context.Context, userID int64) ([]domain.FavoriteImage, error) {
	var images []domain.FavoriteImage
	err := r.db.WithContext(ctx).
		Table("user_favorites AS f").
		Select("i.id AS id, i.url AS url").
		Joins("JOIN images AS i ON i.id = f.image_id").
		Where("f.user_id = ?", userID).
		Order("i.id ASC").
		Scan(&images).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list favorites: %w", err)
	}
	if images == nil {
		images = []domain.FavoriteImage{}
	}
	return images, nil
}

// ImageIDsByUser returns the IDs of images favorited by userID, ascending.
func (r *FavoriteRepository) ImageIDsByUser(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&domain.FavoriteEdge{}).
		Where("user_id = ?", userID).
		Order("image_id ASC").
		Pluck("image_id", &ids).Error
	return ids, err
}

// UserIDsByImage returns the IDs of users who favorited imageID, ascending.
func (r *FavoriteRepository) UserIDsByImage(ctx context.Context, imageID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&domain.FavoriteEdge{}).
		Where("image_id = ?", imageID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}
