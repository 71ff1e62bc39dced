package domain

import "time"

// Image is a catalog entry. URL is unique; re-ingesting a URL replaces its embedding.
type Image struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	URL       string    `gorm:"type:text;not null;uniqueIndex:idx_images_url" json:"url"`
	Embedding Vector    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Image.
func (Image) TableName() string {
	return "images"
}

// HasEmbedding reports whether the image vector is present.
func (i *Image) HasEmbedding() bool {
	return i.Embedding != nil
}
