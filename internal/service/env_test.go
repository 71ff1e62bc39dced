package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/timmy/kindred/internal/config"
	"github.com/timmy/kindred/internal/domain"
	"github.com/timmy/kindred/internal/index"
	"github.com/timmy/kindred/internal/logger"
	"github.com/timmy/kindred/internal/repository"
)

// testEnv wires the services over a temp-file SQLite database.
type testEnv struct {
	db           *gorm.DB
	dim          int
	index        index.Index
	users        *repository.UserRepository
	images       *repository.ImageRepository
	favorites    *repository.FavoriteRepository
	imageVectors *repository.VectorStore
	userVectors  *repository.VectorStore
	favoriteSvc  *FavoriteService
	similarity   *SimilarityService
	ingest       *IngestService
	userSvc      *UserService
}

func newTestEnv(t *testing.T, dim int, idx index.Index) *testEnv {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "kindred.db"),
		MaxIdleConns: 1,
		MaxOpenConns: 1,
		AutoMigrate:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	if idx == nil {
		idx = index.NewExact(dim)
	}

	env := &testEnv{
		db:           db,
		dim:          dim,
		index:        idx,
		users:        repository.NewUserRepository(db),
		images:       repository.NewImageRepository(db),
		favorites:    repository.NewFavoriteRepository(db),
		imageVectors: repository.NewImageVectorStore(db, dim),
		userVectors:  repository.NewUserVectorStore(db, dim),
	}
	env.favoriteSvc = env.newFavoriteService(idx)
	env.similarity = NewSimilarityService(env.users, env.userVectors, idx, nil, &SimilarityConfig{DefaultLimit: 3, MaxLimit: 50})
	env.ingest = NewIngestService(db, env.images, env.imageVectors, env.favorites, env.favoriteSvc, nil, nil, nil, logger.GetDefault(), nil)
	env.userSvc = NewUserService(env.users)
	return env
}

func (e *testEnv) newFavoriteService(idx index.Index) *FavoriteService {
	agg := NewAggregator(e.favorites, e.imageVectors, e.userVectors, idx)
	return NewFavoriteService(e.db, e.users, e.images, e.favorites, e.userVectors, agg, idx, nil, logger.GetDefault())
}

func (e *testEnv) user(t *testing.T, name string) int64 {
	t.Helper()
	users, err := e.userSvc.EnsureUsers(context.Background(), []string{name})
	require.NoError(t, err)
	return users[0].ID
}

func (e *testEnv) image(t *testing.T, url string, vec ...float32) int64 {
	t.Helper()
	res, err := e.ingest.IngestImage(context.Background(), url, vec)
	require.NoError(t, err)
	return res.Image.ID
}

func (e *testEnv) userVector(t *testing.T, id int64) domain.Vector {
	t.Helper()
	v, err := e.userVectors.Get(context.Background(), id)
	require.NoError(t, err)
	return v
}
