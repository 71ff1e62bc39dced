package service

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/kindred/internal/domain"
	"github.com/timmy/kindred/internal/index"
	"github.com/timmy/kindred/internal/logger"
	"github.com/timmy/kindred/internal/metrics"
	"github.com/timmy/kindred/internal/repository"
)

// SimilarityConfig holds the result size limits for similarity queries.
type SimilarityConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// SimilarityService answers "which users have the closest taste" queries.
type SimilarityService struct {
	users        *repository.UserRepository
	vectors      *repository.VectorStore
	index        index.Index
	metrics      metrics.Collector
	defaultLimit int
	maxLimit     int
}

// NewSimilarityService creates a new SimilarityService.
func NewSimilarityService(
	users *repository.UserRepository,
	userVectors *repository.VectorStore,
	idx index.Index,
	collector metrics.Collector,
	cfg *SimilarityConfig,
) *SimilarityService {
	if collector == nil {
		collector = metrics.NewNoop()
	}
	s := &SimilarityService{
		users:        users,
		vectors:      userVectors,
		index:        idx,
		metrics:      collector,
		defaultLimit: 3,
		maxLimit:     50,
	}
	if cfg != nil {
		if cfg.DefaultLimit > 0 {
			s.defaultLimit = cfg.DefaultLimit
		}
		if cfg.MaxLimit > 0 {
			s.maxLimit = cfg.MaxLimit
		}
	}
	return s
}

// GetSimilar returns up to limit users nearest to userID's taste vector,
// most similar first, never including userID itself. A limit <= 0 uses the
// default.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: user whose neighbors are requested.
//   - limit: maximum number of results.
//   - budget: recall/latency trade-off for approximate backends.
// Returns:
//   - []domain.SimilarUser: ranked neighbors.
//   - error: domain.ErrNotFound for an unknown user, domain.ErrNoEmbedding
//     when the user has no taste vector.
func (s *SimilarityService) GetSimilar(ctx context.Context, userID int64, limit int, budget index.Budget) ([]domain.SimilarUser, error) {
	start := time.Now()
	results, err := s.getSimilar(ctx, userID, limit, budget)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		s.metrics.RecordOperation(ctx, "get_similar", "error", elapsed)
		s.metrics.RecordError(ctx, "get_similar", errorType(err))
		return nil, err
	}
	s.metrics.RecordOperation(ctx, "get_similar", "success", elapsed)

	logger.With(logger.Fields{
		logger.FieldUserID:     userID,
		logger.FieldBackend:    s.index.Backend(),
		logger.FieldCount:      len(results),
		logger.FieldDurationMs: elapsed,
	}).Debug(ctx, "Similarity query completed")
	return results, nil
}

func (s *SimilarityService) getSimilar(ctx context.Context, userID int64, limit int, budget index.Budget) ([]domain.SimilarUser, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	vec, err := s.vectors.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if vec == nil {
		return nil, fmt.Errorf("user %d: %w", userID, domain.ErrNoEmbedding)
	}

	neighbors, err := s.index.QueryTopK(ctx, index.Query{
		Vector:    vec,
		K:         limit,
		ExcludeID: userID,
		Budget:    budget,
	})
	if err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}

	ids := make([]int64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.ID
	}
	names, err := s.users.UsernamesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve usernames: %w", err)
	}

	results := make([]domain.SimilarUser, 0, len(neighbors))
	for _, n := range neighbors {
		name, ok := names[n.ID]
		if !ok || n.ID == userID {
			continue
		}
		results = append(results, domain.SimilarUser{
			UserID:     n.ID,
			Username:   name,
			Similarity: n.Similarity,
		})
	}
	return results, nil
}
