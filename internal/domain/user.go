package domain

// User owns a derived taste vector. Embedding is written only by the aggregate
// maintainer; nil means the user has no favorites with a vector.
type User struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string `gorm:"type:text;not null;uniqueIndex:idx_users_username" json:"username"`
	Embedding Vector `json:"-"`
}

// TableName returns the database table name for User.
func (User) TableName() string {
	return "users"
}

// SimilarUser is one ranked neighbor returned by a similarity query.
type SimilarUser struct {
	UserID     int64   `json:"user_id"`
	Username   string  `json:"username"`
	Similarity float64 `json:"similarity"`
}
