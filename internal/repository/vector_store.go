package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/kindred/internal/domain"
)

// VectorStore reads and writes the embedding column of one entity table.
// It has no indexing side effects; keeping the similarity index in step is
// the caller's job.
type VectorStore struct {
	db        *gorm.DB
	table     string
	dimension int
	share     bool
}

type vectorRow struct {
	ID        int64
	Embedding domain.Vector
}

// NewImageVectorStore creates a store over images.embedding.
func NewImageVectorStore(db *gorm.DB, dimension int) *VectorStore {
	return &VectorStore{db: db, table: domain.Image{}.TableName(), dimension: dimension}
}

// NewUserVectorStore creates a store over users.embedding.
func NewUserVectorStore(db *gorm.DB, dimension int) *VectorStore {
	return &VectorStore{db: db, table: domain.User{}.TableName(), dimension: dimension}
}

// WithTx returns a copy bound to tx.
func (s *VectorStore) WithTx(tx *gorm.DB) *VectorStore {
	c := *s
	c.db = tx
	return &c
}

// ForShare returns a copy whose reads take FOR SHARE row locks on PostgreSQL.
// Inside a transaction, a concurrent update of the same rows then either
// waits for the reader to commit or is seen by it. SQLite runs one writer at
// a time and has no row locks, so reads there are unchanged.
func (s *VectorStore) ForShare() *VectorStore {
	c := *s
	c.share = true
	return &c
}

func (s *VectorStore) read(ctx context.Context) *gorm.DB {
	q := s.db.WithContext(ctx).Table(s.table).Select("id", "embedding")
	if s.share && s.db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: clause.LockingStrengthShare})
	}
	return q
}

// Dimension returns the configured vector length.
func (s *VectorStore) Dimension() int {
	return s.dimension
}

// Upsert stores vector for id, replacing any previous value.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: entity ID; the row must already exist.
//   - vector: embedding of the configured dimension.
// Returns:
//   - error: domain.ErrValidation on a dimension mismatch, domain.ErrNotFound
//     for an unknown id.
func (s *VectorStore) Upsert(ctx context.Context, id int64, vector []float32) error {
	if err := domain.ValidateDimension(vector, s.dimension); err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Table(s.table).
		Where("id = ?", id).
		Update("embedding", domain.Vector(vector).Clone())
	if result.Error != nil {
		return fmt.Errorf("failed to store %s vector: %w", s.table, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s %d: %w", s.table, id, domain.ErrNotFound)
	}
	return nil
}

// Clear marks the vector for id as absent.
func (s *VectorStore) Clear(ctx context.Context, id int64) error {
	result := s.db.WithContext(ctx).Table(s.table).
		Where("id = ?", id).
		Update("embedding", gorm.Expr("NULL"))
	if result.Error != nil {
		return fmt.Errorf("failed to clear %s vector: %w", s.table, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s %d: %w", s.table, id, domain.ErrNotFound)
	}
	return nil
}

// Get returns the vector for id, or nil when it is absent.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: entity ID.
// Returns:
//   - domain.Vector: stored vector, nil if absent.
//   - error: domain.ErrNotFound for an unknown id.
func (s *VectorStore) Get(ctx context.Context, id int64) (domain.Vector, error) {
	var row vectorRow
	err := s.read(ctx).
		Where("id = ?", id).
		Take(&row).Error
	if err != nil {
		return nil, notFound(err, "%s %d", s.table, id)
	}
	return row.Embedding, nil
}

// GetMany returns the present vectors among ids. Ids with an absent vector or
// no row are omitted.
func (s *VectorStore) GetMany(ctx context.Context, ids []int64) (map[int64]domain.Vector, error) {
	out := make(map[int64]domain.Vector, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []vectorRow
	err := s.read(ctx).
		Where("id IN ? AND embedding IS NOT NULL", ids).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load %s vectors: %w", s.table, err)
	}
	for _, row := range rows {
		out[row.ID] = row.Embedding
	}
	return out, nil
}

// Each calls fn for every present vector in ascending id order, loading rows
// in batches.
func (s *VectorStore) Each(ctx context.Context, batchSize int, fn func(id int64, vector domain.Vector) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	var rows []vectorRow
	result := s.db.WithContext(ctx).Table(s.table).
		Select("id", "embedding").
		Where("embedding IS NOT NULL").
		FindInBatches(&rows, batchSize, func(tx *gorm.DB, batch int) error {
			for _, row := range rows {
				if err := fn(row.ID, row.Embedding); err != nil {
					return err
				}
			}
			return nil
		})
	return result.Error
}
