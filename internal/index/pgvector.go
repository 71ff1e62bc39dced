package index

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/timmy/kindred/internal/config"
	"github.com/timmy/kindred/internal/domain"
)

// PGVector queries the users table directly, so the stored aggregate is the
// index entry. Upsert and Delete are no-ops: the row write that changes the
// aggregate also changes the index, inside the caller's transaction.
type PGVector struct {
	db        *gorm.DB
	dimension int
	ann       string
	tuning    Tuning
}

// NewPGVector creates a pgvector-backed index. ann is "none", "hnsw" or "diskann".
func NewPGVector(db *gorm.DB, dimension int, ann string, tuning Tuning) *PGVector {
	return &PGVector{db: db, dimension: dimension, ann: ann, tuning: tuning}
}

func (p *PGVector) Backend() string { return config.BackendPGVector }

// EnsureIndex creates the ANN index over users.embedding. The column has no
// fixed dimension, so the index is built on a typed expression.
func (p *PGVector) EnsureIndex(ctx context.Context) error {
	db := p.db.WithContext(ctx)
	switch p.ann {
	case "hnsw":
		return db.Exec(fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_users_embedding_hnsw ON users USING hnsw ((embedding::vector(%d)) vector_cosine_ops)`,
			p.dimension)).Error
	case "diskann":
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vectorscale CASCADE`).Error; err != nil {
			return fmt.Errorf("failed to enable vectorscale: %w", err)
		}
		return db.Exec(fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_users_embedding_diskann ON users USING diskann ((embedding::vector(%d)) vector_cosine_ops)`,
			p.dimension)).Error
	default:
		return nil
	}
}

func (p *PGVector) Upsert(ctx context.Context, id int64, vector []float32) error {
	if len(vector) != p.dimension {
		return ErrDimensionMismatch
	}
	return nil
}

func (p *PGVector) Delete(ctx context.Context, id int64) error { return nil }

// QueryTopK pulls RescoreDepth candidates through the ANN index and re-orders
// them by exact cosine similarity.
func (p *PGVector) QueryTopK(ctx context.Context, q Query) ([]Neighbor, error) {
	if len(q.Vector) != p.dimension {
		return nil, ErrDimensionMismatch
	}
	if q.K <= 0 {
		return []Neighbor{}, nil
	}

	t := p.tuning.For(q.Budget, q.K)
	vec := domain.Vector(q.Vector)
	query := fmt.Sprintf(`
		SELECT id, similarity FROM (
			SELECT id, 1 - (embedding::vector(%[1]d) <=> ?::vector(%[1]d)) AS similarity
			FROM users
			WHERE embedding IS NOT NULL AND id <> ?
			ORDER BY embedding::vector(%[1]d) <=> ?::vector(%[1]d)
			LIMIT ?
		) candidates
		ORDER BY similarity DESC, id ASC
		LIMIT ?`, p.dimension)

	var rows []Neighbor
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch p.ann {
		case "hnsw":
			if err := tx.Exec(fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", t.SearchBreadth)).Error; err != nil {
				return err
			}
		case "diskann":
			if err := tx.Exec(fmt.Sprintf("SET LOCAL diskann.query_search_list_size = %d", t.SearchBreadth)).Error; err != nil {
				return err
			}
			if err := tx.Exec(fmt.Sprintf("SET LOCAL diskann.query_rescore = %d", t.RescoreDepth)).Error; err != nil {
				return err
			}
		}
		return tx.Raw(query, vec, q.ExcludeID, vec, t.RescoreDepth, q.K).Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query pgvector: %w", err)
	}
	if rows == nil {
		rows = []Neighbor{}
	}
	return rows, nil
}

func (p *PGVector) Len(ctx context.Context) (int, error) {
	var n int64
	err := p.db.WithContext(ctx).Table("users").Where("embedding IS NOT NULL").Count(&n).Error
	return int(n), err
}

func (p *PGVector) Close() error { return nil }
