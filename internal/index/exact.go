package index

import (
	"context"
	"sync"

	"github.com/timmy/kindred/internal/config"
)

// Exact is an in-memory brute-force index. Every query scans all vectors, so
// results are exact and repeatable for unchanged state.
type Exact struct {
	dimension int
	mu        sync.RWMutex
	vectors   map[int64][]float64 // unit length
}

// NewExact creates an empty exact index for vectors of the given dimension.
func NewExact(dimension int) *Exact {
	return &Exact{
		dimension: dimension,
		vectors:   make(map[int64][]float64),
	}
}

func (e *Exact) Backend() string { return config.BackendExact }

// Upsert stores a normalized copy, so callers may reuse their slice.
func (e *Exact) Upsert(ctx context.Context, id int64, vector []float32) error {
	if len(vector) != e.dimension {
		return ErrDimensionMismatch
	}
	normalized := normalize64(vector)

	e.mu.Lock()
	e.vectors[id] = normalized
	e.mu.Unlock()
	return nil
}

func (e *Exact) Delete(ctx context.Context, id int64) error {
	e.mu.Lock()
	delete(e.vectors, id)
	e.mu.Unlock()
	return nil
}

func (e *Exact) QueryTopK(ctx context.Context, q Query) ([]Neighbor, error) {
	if len(q.Vector) != e.dimension {
		return nil, ErrDimensionMismatch
	}
	if q.K <= 0 {
		return []Neighbor{}, nil
	}
	query := normalize64(q.Vector)

	e.mu.RLock()
	results := make([]Neighbor, 0, len(e.vectors))
	for id, vec := range e.vectors {
		if id == q.ExcludeID {
			continue
		}
		results = append(results, Neighbor{ID: id, Similarity: dot64(query, vec)})
	}
	e.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sortNeighbors(results)
	return truncate(results, q.K), nil
}

func (e *Exact) Len(ctx context.Context) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.vectors), nil
}

func (e *Exact) Close() error { return nil }
