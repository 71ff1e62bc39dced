// Package index holds the nearest-neighbor indexes over user taste vectors.
//
// Every backend satisfies Index: results are ordered by descending cosine
// similarity with ties broken by ascending id, a k larger than the number of
// candidates returns every candidate, and a query vector of the wrong
// dimension fails with ErrDimensionMismatch. Callers keep the index in sync
// with the stored vectors; an entity whose vector becomes absent must be
// deleted from the index in the same unit of work.
package index

import (
	"context"
	"fmt"
	"sort"

	"github.com/timmy/kindred/internal/domain"
)

// ErrDimensionMismatch is returned for vectors whose length differs from the
// configured dimension. It matches domain.ErrValidation with errors.Is.
var ErrDimensionMismatch = fmt.Errorf("%w: vector dimension mismatch", domain.ErrValidation)

// Index is the similarity index contract shared by all backends.
type Index interface {
	// Upsert inserts or replaces the vector for id.
	Upsert(ctx context.Context, id int64, vector []float32) error

	// Delete removes id. Deleting an absent id is not an error.
	Delete(ctx context.Context, id int64) error

	// QueryTopK returns up to q.K neighbors of q.Vector, never q.ExcludeID.
	QueryTopK(ctx context.Context, q Query) ([]Neighbor, error)

	// Len returns the number of indexed entities.
	Len(ctx context.Context) (int, error)

	// Backend returns the backend name used in logs and metrics.
	Backend() string

	// Close releases backend resources.
	Close() error
}

// Query describes one top-K request. ExcludeID 0 excludes nothing; entity ids
// start at 1.
type Query struct {
	Vector    []float32
	K         int
	ExcludeID int64
	Budget    Budget
}

// Neighbor is one ranked result.
type Neighbor struct {
	ID         int64   `json:"id"`
	Similarity float64 `json:"similarity"`
}

// Budget trades recall for latency on approximate backends. The exact backend
// ignores it.
type Budget string

const (
	BudgetDefault  Budget = ""
	BudgetFast     Budget = "fast"
	BudgetBalanced Budget = "balanced"
	BudgetPrecise  Budget = "precise"
)

// ParseBudget accepts "", fast, balanced and precise.
func ParseBudget(s string) (Budget, error) {
	switch b := Budget(s); b {
	case BudgetDefault, BudgetFast, BudgetBalanced, BudgetPrecise:
		return b, nil
	default:
		return "", fmt.Errorf("%w: unknown budget %q", domain.ErrValidation, s)
	}
}

// Tuning holds the process-wide approximate search parameters.
//
// SearchBreadth is how many candidates a query explores; RescoreDepth is how
// many of them are re-scored with full-precision vectors before truncating to k.
type Tuning struct {
	SearchBreadth int
	RescoreDepth  int
}

// For returns the parameters for one query: the budget scales the configured
// values and both are raised to at least k.
func (t Tuning) For(b Budget, k int) Tuning {
	out := t
	switch b {
	case BudgetFast:
		out.SearchBreadth /= 2
		out.RescoreDepth /= 2
	case BudgetPrecise:
		out.SearchBreadth *= 2
		out.RescoreDepth *= 2
	}
	if out.RescoreDepth < k {
		out.RescoreDepth = k
	}
	if out.SearchBreadth < out.RescoreDepth {
		out.SearchBreadth = out.RescoreDepth
	}
	return out
}

// sortNeighbors orders by similarity descending, then id ascending.
func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Similarity != ns[j].Similarity {
			return ns[i].Similarity > ns[j].Similarity
		}
		return ns[i].ID < ns[j].ID
	})
}

func truncate(ns []Neighbor, k int) []Neighbor {
	if len(ns) > k {
		return ns[:k]
	}
	return ns
}
