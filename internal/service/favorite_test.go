package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/kindred/internal/domain"
	"github.com/timmy/kindred/internal/index"
)

func TestSimilarUsersScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2, nil)
	u1 := env.user(t, "user1")
	u2 := env.user(t, "user2")
	env.image(t, "a.jpg", 1, 0)
	env.image(t, "b.jpg", 0, 1)

	_, _, err := env.favoriteSvc.AddFavoriteByURL(ctx, u1, "a.jpg")
	require.NoError(t, err)
	_, _, err = env.favoriteSvc.AddFavoriteByURL(ctx, u2, "a.jpg")
	require.NoError(t, err)
	_, _, err = env.favoriteSvc.AddFavoriteByURL(ctx, u2, "b.jpg")
	require.NoError(t, err)

	assert.Equal(t, domain.Vector{1, 0}, env.userVector(t, u1))
	assert.Equal(t, domain.Vector{0.5, 0.5}, env.userVector(t, u2))

	got, err := env.similarity.GetSimilar(ctx, u1, 3, index.BudgetDefault)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, u2, got[0].UserID)
	assert.Equal(t, "user2", got[0].Username)
	assert.InDelta(t, 0.7071, got[0].Similarity, 1e-4)
}

func TestRemoveLastFavoriteClearsVector(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2, nil)
	u1 := env.user(t, "user1")
	u2 := env.user(t, "user2")
	a := env.image(t, "a.jpg", 1, 0)

	_, err := env.favoriteSvc.AddFavorite(ctx, u1, a)
	require.NoError(t, err)
	_, err = env.favoriteSvc.AddFavorite(ctx, u2, a)
	require.NoError(t, err)

	require.NoError(t, env.favoriteSvc.RemoveFavorite(ctx, u1, a))
	assert.Nil(t, env.userVector(t, u1))

	_, err = env.similarity.GetSimilar(ctx, u1, 3, index.BudgetDefault)
	assert.ErrorIs(t, err, domain.ErrNoEmbedding)

	got, err := env.similarity.GetSimilar(ctx, u2, 3, index.BudgetDefault)
	require.NoError(t, err)
	assert.Empty(t, got)

	n, err := env.index.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAddFavoriteByUnknownURL(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2, nil)
	u1 := env.user(t, "user1")

	_, _, err := env.favoriteSvc.AddFavoriteByURL(ctx, u1, "unknown.jpg")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	favs, err := env.favoriteSvc.ListFavorites(ctx, u1)
	require.NoError(t, err)
	assert.Empty(t, favs)
	assert.Nil(t, env.userVector(t, u1))
}

func TestAddFavoriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2, nil)
	u1 := env.user(t, "user1")
	a := env.image(t, "a.jpg", 0.25, 0.75)

	created, err := env.favoriteSvc.AddFavorite(ctx, u1, a)
	require.NoError(t, err)
	assert.True(t, created)
	before := env.userVector(t, u1)

	created, err = env.favoriteSvc.AddFavorite(ctx, u1, a)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, before, env.userVector(t, u1))

	favs, err := env.favoriteSvc.ListFavorites(ctx, u1)
	require.NoError(t, err)
	assert.Len(t, favs, 1)
}

func TestFavoriteNotFoundCases(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2, nil)
	u1 := env.user(t, "user1")
	a := env.image(t, "a.jpg", 1, 0)

	tests := []struct {
		name string
		run  func() error
	}{
		{"unknown image", func() error { _, err := env.favoriteSvc.AddFavorite(ctx, u1, 999); return err }},
		{"unknown user", func() error { _, err := env.favoriteSvc.AddFavorite(ctx, 999, a); return err }},
		{"missing edge", func() error { return env.favoriteSvc.RemoveFavorite(ctx, u1, a) }},
		{"list unknown user", func() error { _, err := env.favoriteSvc.ListFavorites(ctx, 999); return err }},
		{"similar unknown user", func() error {
			_, err := env.similarity.GetSimilar(ctx, 999, 3, index.BudgetDefault)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), domain.ErrNotFound)
		})
	}
	assert.Nil(t, env.userVector(t, u1))
}

func TestAggregateIsMeanOfFavorites(t *testing.T) {
	ctx := context.Background()
	const dim = 8
	env := newTestEnv(t, dim, nil)
	u := env.user(t, "user1")

	r := rand.New(rand.NewSource(1))
	sum := make([]float64, dim)
	var ids []int64
	for i := 0; i < 5; i++ {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = r.Float32()*2 - 1
			sum[j] += float64(vec[j])
		}
		ids = append(ids, env.image(t, fmt.Sprintf("img%d.jpg", i), vec...))
	}
	for _, id := range ids {
		_, err := env.favoriteSvc.AddFavorite(ctx, u, id)
		require.NoError(t, err)
	}

	got := env.userVector(t, u)
	require.Len(t, got, dim)
	for j := range got {
		assert.InDelta(t, sum[j]/5, float64(got[j]), 1e-6)
	}

	favs, err := env.favoriteSvc.ListFavorites(ctx, u)
	require.NoError(t, err)
	for i, f := range favs {
		assert.Equal(t, ids[i], f.ID)
	}
}

func TestImagesWithoutVectorAreSkipped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2, nil)
	u := env.user(t, "user1")

	bare, _, err := env.images.EnsureByURL(ctx, "pending.jpg")
	require.NoError(t, err)
	_, err = env.favoriteSvc.AddFavorite(ctx, u, bare.ID)
	require.NoError(t, err)
	assert.Nil(t, env.userVector(t, u))

	a := env.image(t, "a.jpg", 0, 1)
	_, err = env.favoriteSvc.AddFavorite(ctx, u, a)
	require.NoError(t, err)
	assert.Equal(t, domain.Vector{0, 1}, env.userVector(t, u))
}

func TestNoSelfMatchAcrossBackends(t *testing.T) {
	backends := map[string]func(dim int) index.Index{
		"exact": func(dim int) index.Index { return index.NewExact(dim) },
		"graph": func(dim int) index.Index {
			return index.NewGraph(index.GraphOptions{
				Dimension: dim, MaxDegree: 8, EfConstruction: 32,
				Tuning: index.Tuning{SearchBreadth: 32, RescoreDepth: 16},
			})
		},
	}
	for name, build := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			env := newTestEnv(t, 4, build(4))
			r := rand.New(rand.NewSource(5))

			var users []int64
			for i := 0; i < 12; i++ {
				img := env.image(t, fmt.Sprintf("%d.jpg", i), r.Float32(), r.Float32(), r.Float32(), r.Float32())
				u := env.user(t, fmt.Sprintf("user%d", i))
				_, err := env.favoriteSvc.AddFavorite(ctx, u, img)
				require.NoError(t, err)
				users = append(users, u)
			}

			for _, u := range users {
				got, err := env.similarity.GetSimilar(ctx, u, 5, index.BudgetDefault)
				require.NoError(t, err)
				assert.Len(t, got, 5)
				for i, s := range got {
					assert.NotEqual(t, u, s.UserID)
					if i > 0 {
						assert.GreaterOrEqual(t, got[i-1].Similarity, s.Similarity)
					}
				}
			}
		})
	}
}

func TestConcurrentMutationsKeepMean(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 3, nil)
	u := env.user(t, "user1")

	const n = 16
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = env.image(t, fmt.Sprintf("%d.jpg", i), float32(i), 1, float32(n-i))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := env.favoriteSvc.AddFavorite(ctx, u, id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	// Remove the even images concurrently.
	for i := 0; i < n; i += 2 {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			assert.NoError(t, env.favoriteSvc.RemoveFavorite(ctx, u, id))
		}(ids[i])
	}
	wg.Wait()

	var sum [3]float64
	for i := 1; i < n; i += 2 {
		sum[0] += float64(i)
		sum[1] += 1
		sum[2] += float64(n - i)
	}
	got := env.userVector(t, u)
	for j := range got {
		assert.InDelta(t, sum[j]/float64(n/2), float64(got[j]), 1e-5)
	}

	neighbors, err := env.index.QueryTopK(ctx, index.Query{Vector: got, K: 1})
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, u, neighbors[0].ID)
	assert.InDelta(t, 1.0, neighbors[0].Similarity, 1e-6)
	assert.Equal(t, 0, env.favoriteSvc.locks.size())
}

func TestReconcileAllRebuildsIndex(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2, nil)
	u1 := env.user(t, "user1")
	u2 := env.user(t, "user2")
	env.user(t, "user3")
	a := env.image(t, "a.jpg", 1, 0)
	b := env.image(t, "b.jpg", 0, 1)
	_, err := env.favoriteSvc.AddFavorite(ctx, u1, a)
	require.NoError(t, err)
	_, err = env.favoriteSvc.AddFavorite(ctx, u2, b)
	require.NoError(t, err)

	// Simulate a crash that lost the in-process index and a stale stored vector.
	require.NoError(t, env.userVectors.Upsert(ctx, u1, []float32{0, 1}))
	fresh := index.NewExact(2)
	svc := env.newFavoriteService(fresh)

	stats, err := svc.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Users)
	assert.Equal(t, 2, stats.WithVector)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 2, stats.IndexEntries)
	assert.Equal(t, domain.Vector{1, 0}, env.userVector(t, u1))
}

func TestBootstrapIndex(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2, nil)
	u1 := env.user(t, "user1")
	env.user(t, "user2")
	a := env.image(t, "a.jpg", 1, 1)
	_, err := env.favoriteSvc.AddFavorite(ctx, u1, a)
	require.NoError(t, err)

	fresh := index.NewExact(2)
	n, err := env.newFavoriteService(fresh).BootstrapIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	size, err := fresh.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

// failingIndex fails every Upsert and Delete.
type failingIndex struct {
	index.Index
}

func (failingIndex) Upsert(ctx context.Context, id int64, v []float32) error {
	return fmt.Errorf("index unavailable")
}

func (failingIndex) Delete(ctx context.Context, id int64) error {
	return fmt.Errorf("index unavailable")
}

func TestIndexFailureRollsBackEdge(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2, nil)
	u := env.user(t, "user1")
	a := env.image(t, "a.jpg", 1, 0)

	svc := env.newFavoriteService(failingIndex{Index: index.NewExact(2)})
	_, err := svc.AddFavorite(ctx, u, a)
	require.Error(t, err)

	favs, err := env.favoriteSvc.ListFavorites(ctx, u)
	require.NoError(t, err)
	assert.Empty(t, favs)
	assert.Nil(t, env.userVector(t, u))
}

func TestReingestRecomputesFavoritingUsers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2, nil)
	u := env.user(t, "user1")
	a := env.image(t, "a.jpg", 1, 0)
	env.image(t, "b.jpg", 0, 1)
	_, _, err := env.favoriteSvc.AddFavoriteByURL(ctx, u, "a.jpg")
	require.NoError(t, err)
	_, _, err = env.favoriteSvc.AddFavoriteByURL(ctx, u, "b.jpg")
	require.NoError(t, err)
	assert.Equal(t, domain.Vector{0.5, 0.5}, env.userVector(t, u))

	res, err := env.ingest.IngestImage(ctx, "a.jpg", []float32{0, 1})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.True(t, res.EmbeddingChanged)
	assert.Equal(t, 1, res.RecomputedUsers)
	assert.Equal(t, a, res.Image.ID)
	assert.Equal(t, domain.Vector{0, 1}, env.userVector(t, u))

	res, err = env.ingest.IngestImage(ctx, "a.jpg", []float32{0, 1})
	require.NoError(t, err)
	assert.False(t, res.EmbeddingChanged)
	assert.Equal(t, 0, res.RecomputedUsers)
}
