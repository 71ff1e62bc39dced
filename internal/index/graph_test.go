package index

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(n, dim int, seed int64) [][]float32 {
	r := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		out[i] = v
	}
	return out
}

func newTestGraph(dim int) *Graph {
	return NewGraph(GraphOptions{
		Dimension:      dim,
		MaxDegree:      16,
		EfConstruction: 100,
		Tuning:         Tuning{SearchBreadth: 128, RescoreDepth: 64},
	})
}

func recall(got, want []Neighbor) float64 {
	if len(want) == 0 {
		return 1
	}
	ids := make(map[int64]struct{}, len(got))
	for _, n := range got {
		ids[n.ID] = struct{}{}
	}
	hit := 0
	for _, n := range want {
		if _, ok := ids[n.ID]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(want))
}

func TestGraphRecallAgainstExact(t *testing.T) {
	ctx := context.Background()
	const dim, n, k = 16, 300, 10

	graph := newTestGraph(dim)
	exact := NewExact(dim)
	vectors := randomVectors(n, dim, 42)
	for i, v := range vectors {
		require.NoError(t, graph.Upsert(ctx, int64(i+1), v))
		require.NoError(t, exact.Upsert(ctx, int64(i+1), v))
	}

	queries := randomVectors(30, dim, 7)
	var total float64
	for _, q := range queries {
		want, err := exact.QueryTopK(ctx, Query{Vector: q, K: k})
		require.NoError(t, err)
		got, err := graph.QueryTopK(ctx, Query{Vector: q, K: k})
		require.NoError(t, err)
		require.Len(t, got, k)
		total += recall(got, want)
	}
	assert.GreaterOrEqual(t, total/float64(len(queries)), 0.9)
}

func TestGraphSimilaritiesAreExact(t *testing.T) {
	ctx := context.Background()
	graph := newTestGraph(4)
	vectors := randomVectors(40, 4, 3)
	for i, v := range vectors {
		require.NoError(t, graph.Upsert(ctx, int64(i+1), v))
	}

	got, err := graph.QueryTopK(ctx, Query{Vector: vectors[5], K: 5, ExcludeID: 6})
	require.NoError(t, err)
	for i, n := range got {
		assert.NotEqual(t, int64(6), n.ID)
		assert.InDelta(t, CosineSimilarity(vectors[5], vectors[n.ID-1]), n.Similarity, 1e-5)
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].Similarity, n.Similarity)
		}
	}
}

func TestGraphKAtLeastLiveCountReturnsAll(t *testing.T) {
	ctx := context.Background()
	graph := newTestGraph(3)
	vectors := randomVectors(6, 3, 9)
	for i, v := range vectors {
		require.NoError(t, graph.Upsert(ctx, int64(i+1), v))
	}

	got, err := graph.QueryTopK(ctx, Query{Vector: vectors[0], K: 10, ExcludeID: 1})
	require.NoError(t, err)
	assert.Len(t, got, 5)
	for _, n := range got {
		assert.NotEqual(t, int64(1), n.ID)
	}
}

func TestGraphDeleteKeepsGraphNavigable(t *testing.T) {
	ctx := context.Background()
	const dim, n, k = 16, 200, 5

	graph := newTestGraph(dim)
	exact := NewExact(dim)
	vectors := randomVectors(n, dim, 11)
	for i, v := range vectors {
		require.NoError(t, graph.Upsert(ctx, int64(i+1), v))
		require.NoError(t, exact.Upsert(ctx, int64(i+1), v))
	}
	for id := int64(1); id <= n; id += 2 {
		require.NoError(t, graph.Delete(ctx, id))
		require.NoError(t, exact.Delete(ctx, id))
	}

	size, err := graph.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, n/2, size)

	var total float64
	queries := randomVectors(20, dim, 5)
	for _, q := range queries {
		want, err := exact.QueryTopK(ctx, Query{Vector: q, K: k})
		require.NoError(t, err)
		got, err := graph.QueryTopK(ctx, Query{Vector: q, K: k})
		require.NoError(t, err)
		for _, nb := range got {
			assert.Equal(t, int64(0), nb.ID%2, "deleted id %d returned", nb.ID)
		}
		total += recall(got, want)
	}
	assert.GreaterOrEqual(t, total/float64(len(queries)), 0.9)
}

func TestGraphHeavyDeletesKeepAdjacencyClean(t *testing.T) {
	ctx := context.Background()
	const dim, n = 16, 500

	graph := NewGraph(GraphOptions{
		Dimension:      dim,
		MaxDegree:      16,
		EfConstruction: 64,
		Tuning:         Tuning{SearchBreadth: 64, RescoreDepth: 32},
	})
	for i, v := range randomVectors(n, dim, 7) {
		require.NoError(t, graph.Upsert(ctx, int64(i+1), v))
	}
	require.NotPanics(t, func() {
		for id := int64(1); id <= n; id++ {
			if id%3 != 0 {
				require.NoError(t, graph.Delete(ctx, id))
			}
		}
	})

	size, err := graph.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, n/3, size)

	for id, node := range graph.nodes {
		seen := make(map[int64]struct{}, len(node.neighbors))
		for _, nb := range node.neighbors {
			_, live := graph.nodes[nb]
			assert.True(t, live, "node %d links deleted node %d", id, nb)
			_, dup := seen[nb]
			assert.False(t, dup, "node %d links %d twice", id, nb)
			seen[nb] = struct{}{}
		}
		assert.LessOrEqual(t, len(node.neighbors), 16)
	}

	for _, q := range randomVectors(10, dim, 8) {
		var got []Neighbor
		require.NotPanics(t, func() {
			got, err = graph.QueryTopK(ctx, Query{Vector: q, K: 10})
		})
		require.NoError(t, err)
		require.Len(t, got, 10)
		for i, nb := range got {
			assert.Equal(t, int64(0), nb.ID%3, "deleted id %d returned", nb.ID)
			if i > 0 {
				assert.GreaterOrEqual(t, got[i-1].Similarity, nb.Similarity)
			}
		}
	}
}

func TestGraphDeleteEverything(t *testing.T) {
	ctx := context.Background()
	graph := newTestGraph(2)
	require.NoError(t, graph.Upsert(ctx, 1, []float32{1, 0}))
	require.NoError(t, graph.Upsert(ctx, 2, []float32{0, 1}))
	require.NoError(t, graph.Delete(ctx, 1))
	require.NoError(t, graph.Delete(ctx, 2))

	got, err := graph.QueryTopK(ctx, Query{Vector: []float32{1, 0}, K: 1})
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, graph.Upsert(ctx, 3, []float32{1, 1}))
	got, err = graph.QueryTopK(ctx, Query{Vector: []float32{1, 0}, K: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].ID)
}

func TestGraphUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	graph := newTestGraph(2)
	require.NoError(t, graph.Upsert(ctx, 1, []float32{1, 0}))
	require.NoError(t, graph.Upsert(ctx, 2, []float32{0, 1}))
	require.NoError(t, graph.Upsert(ctx, 1, []float32{0, 1}))

	size, _ := graph.Len(ctx)
	assert.Equal(t, 2, size)

	got, err := graph.QueryTopK(ctx, Query{Vector: []float32{0, 1}, K: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []int64{1, 2}, []int64{got[0].ID, got[1].ID})
}

func TestQuantize(t *testing.T) {
	q := quantize([]float32{1, -1, 0, 0.5})
	assert.Equal(t, []int8{127, -127, 0, 64}, q)
	assert.InDelta(t, 1.0, approxScore(quantize([]float32{1, 0}), quantize([]float32{1, 0})), 1e-9)
}
