package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/kindred/internal/domain"
)

// ImageRepository handles the image catalog.
type ImageRepository struct {
	db *gorm.DB
}

// NewImageRepository creates a new ImageRepository.
func NewImageRepository(db *gorm.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *ImageRepository) WithTx(tx *gorm.DB) *ImageRepository {
	return &ImageRepository{db: tx}
}

// EnsureByURL returns the image row for url, creating it when missing.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - url: image URL, unique across the catalog.
// Returns:
//   - *domain.Image: the existing or newly created row.
//   - bool: true if the row was created by this call.
//   - error: non-nil if the insert or lookup fails.
func (r *ImageRepository) EnsureByURL(ctx context.Context, url string) (*domain.Image, bool, error) {
	img := &domain.Image{URL: url}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "url"}}, DoNothing: true}).
		Create(img)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to create image: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return img, true, nil
	}

	existing, err := r.GetByURL(ctx, url)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByID retrieves an image by its ID.
func (r *ImageRepository) GetByID(ctx context.Context, id int64) (*domain.Image, error) {
	var img domain.Image
	if err := r.db.WithContext(ctx).First(&img, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "image %d", id)
	}
	return &img, nil
}

// GetByURL retrieves an image by its URL.
func (r *ImageRepository) GetByURL(ctx context.Context, url string) (*domain.Image, error) {
	var img domain.Image
	if err := r.db.WithContext(ctx).Where("url = ?", url).Take(&img).Error; err != nil {
		return nil, notFound(err, "image %q", url)
	}
	return &img, nil
}

// Exists reports whether an image with id exists.
func (r *ImageRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Image{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// List retrieves images ordered by ID with pagination.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of images to return.
//   - offset: number of images to skip.
// Returns:
//   - []domain.Image: images in ascending ID order.
//   - error: non-nil if the query fails.
func (r *ImageRepository) List(ctx context.Context, limit, offset int) ([]domain.Image, error) {
	var images []domain.Image
	err := r.db.WithContext(ctx).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&images).Error
	return images, err
}

// Count returns the number of images in the catalog.
func (r *ImageRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Image{}).Count(&count).Error
	return count, err
}
