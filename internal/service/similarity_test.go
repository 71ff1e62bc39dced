package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/kindred/internal/index"
)

func TestGetSimilarLimits(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2, nil)

	var users []int64
	for i := 0; i < 6; i++ {
		u := env.user(t, fmt.Sprintf("user%d", i))
		img := env.image(t, fmt.Sprintf("%d.jpg", i), 1, float32(i))
		_, err := env.favoriteSvc.AddFavorite(ctx, u, img)
		require.NoError(t, err)
		users = append(users, u)
	}

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"default", 0, 3},
		{"explicit", 2, 2},
		{"beyond candidates", 40, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.similarity.GetSimilar(ctx, users[0], tt.limit, index.BudgetDefault)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}

	// user1 [1,1] is the closest to user0 [1,0] among the rest.
	got, err := env.similarity.GetSimilar(ctx, users[0], 1, index.BudgetPrecise)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, users[1], got[0].UserID)
}

func TestGetSimilarCapsAtMaxLimit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2, nil)
	svc := NewSimilarityService(env.users, env.userVectors, env.index, nil, &SimilarityConfig{DefaultLimit: 1, MaxLimit: 2})

	var first int64
	for i := 0; i < 4; i++ {
		u := env.user(t, fmt.Sprintf("user%d", i))
		if i == 0 {
			first = u
		}
		img := env.image(t, fmt.Sprintf("%d.jpg", i), float32(i+1), 1)
		_, err := env.favoriteSvc.AddFavorite(ctx, u, img)
		require.NoError(t, err)
	}

	got, err := svc.GetSimilar(ctx, first, 10, index.BudgetDefault)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
