package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/kindred/internal/domain"
)

// UserRepository handles user rows. The embedding column is written through
// the user VectorStore only.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *UserRepository) WithTx(tx *gorm.DB) *UserRepository {
	return &UserRepository{db: tx}
}

// EnsureByUsername returns the user named username, creating it when missing.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - username: unique user name.
// Returns:
//   - *domain.User: the existing or newly created user.
//   - bool: true if the user was created by this call.
//   - error: non-nil if the insert or lookup fails.
func (r *UserRepository) EnsureByUsername(ctx context.Context, username string) (*domain.User, bool, error) {
	user := &domain.User{Username: username}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "username"}}, DoNothing: true}).
		Create(user)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to create user: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return user, true, nil
	}

	var existing domain.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).Take(&existing).Error; err != nil {
		return nil, false, notFound(err, "user %q", username)
	}
	return &existing, false, nil
}

// GetByID retrieves a user by its ID.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	var user domain.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "user %d", id)
	}
	return &user, nil
}

// Exists reports whether a user with id exists.
func (r *UserRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// UsernamesByIDs maps each existing id to its username. Unknown ids are omitted.
func (r *UserRepository) UsernamesByIDs(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var users []domain.User
	if err := r.db.WithContext(ctx).Select("id", "username").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u.Username
	}
	return out, nil
}

// List returns all users ordered by ID.
func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	err := r.db.WithContext(ctx).Order("id ASC").Find(&users).Error
	return users, err
}

// IDs returns every user ID in ascending order.
func (r *UserRepository) IDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&domain.User{}).Order("id ASC").Pluck("id", &ids).Error
	return ids, err
}
