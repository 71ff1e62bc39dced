package domain

import "time"

// FavoriteEdge links a user to an image. The pair is unique.
type FavoriteEdge struct {
	UserID    int64     `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	ImageID   int64     `gorm:"primaryKey;autoIncrement:false;index:idx_user_favorites_image" json:"image_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for FavoriteEdge.
func (FavoriteEdge) TableName() string {
	return "user_favorites"
}

// FavoriteImage is the display form of a favorite: the image id and its URL.
type FavoriteImage struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}
