package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/kindred/internal/domain"
)

func TestFavoriteRepository(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := NewUserRepository(db)
	images := NewImageRepository(db)
	favorites := NewFavoriteRepository(db)

	u, _, err := users.EnsureByUsername(ctx, "user1")
	require.NoError(t, err)
	b, _, err := images.EnsureByURL(ctx, "/static/images/b.jpg")
	require.NoError(t, err)
	a, _, err := images.EnsureByURL(ctx, "/static/images/a.jpg")
	require.NoError(t, err)

	created, err := favorites.Add(ctx, u.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = favorites.Add(ctx, u.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, created)

	_, err = favorites.Add(ctx, u.ID, a.ID)
	require.NoError(t, err)

	list, err := favorites.ListByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.FavoriteImage{
		{ID: b.ID, URL: "/static/images/b.jpg"},
		{ID: a.ID, URL: "/static/images/a.jpg"},
	}, list)

	userIDs, err := favorites.UserIDsByImage(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{u.ID}, userIDs)

	removed, err := favorites.Remove(ctx, u.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = favorites.Remove(ctx, u.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	ids, err := favorites.ImageIDsByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, ids)
}

func TestListByUserEmpty(t *testing.T) {
	db := newTestDB(t)
	list, err := NewFavoriteRepository(db).ListByUser(context.Background(), 42)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestEnsureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := NewUserRepository(db)
	images := NewImageRepository(db)

	first, created, err := users.EnsureByUsername(ctx, "user1")
	require.NoError(t, err)
	assert.True(t, created)
	again, created, err := users.EnsureByUsername(ctx, "user1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	img, created, err := images.EnsureByURL(ctx, "x.jpg")
	require.NoError(t, err)
	assert.True(t, created)
	imgAgain, created, err := images.EnsureByURL(ctx, "x.jpg")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, img.ID, imgAgain.ID)

	_, err = images.GetByURL(ctx, "missing.jpg")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	names, err := users.UsernamesByIDs(ctx, []int64{first.ID, 77})
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{first.ID: "user1"}, names)
}
