package index

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/timmy/kindred/internal/config"
)

// New builds the index backend selected by cfg. db is only used by the
// pgvector backend.
func New(ctx context.Context, cfg *config.IndexConfig, dimension int, db *gorm.DB) (Index, error) {
	tuning := Tuning{SearchBreadth: cfg.SearchBreadth, RescoreDepth: cfg.RescoreDepth}

	switch cfg.Backend {
	case config.BackendExact:
		return NewExact(dimension), nil

	case config.BackendGraph:
		return NewGraph(GraphOptions{
			Dimension:      dimension,
			MaxDegree:      cfg.Graph.MaxDegree,
			EfConstruction: cfg.Graph.EfConstruction,
			Tuning:         tuning,
		}), nil

	case config.BackendQdrant:
		q, err := NewQdrant(QdrantOptions{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			Collection: cfg.Qdrant.Collection,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
			Dimension:  dimension,
			Tuning:     tuning,
		})
		if err != nil {
			return nil, err
		}
		if err := q.EnsureCollection(ctx); err != nil {
			q.Close()
			return nil, err
		}
		return q, nil

	case config.BackendPGVector:
		if db == nil {
			return nil, fmt.Errorf("pgvector backend requires a database")
		}
		p := NewPGVector(db, dimension, cfg.PGVector.ANN, tuning)
		if err := p.EnsureIndex(ctx); err != nil {
			return nil, fmt.Errorf("failed to create pgvector index: %w", err)
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown index backend: %s", cfg.Backend)
	}
}

// Persistent reports whether the backend keeps its own state across restarts.
// In-process backends must be rebuilt from stored vectors on startup.
func Persistent(idx Index) bool {
	switch idx.Backend() {
	case config.BackendQdrant, config.BackendPGVector:
		return true
	default:
		return false
	}
}
