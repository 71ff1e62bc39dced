package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/kindred/internal/config"
)

func TestJinaImageEmbedder(t *testing.T) {
	var got jinaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	e := NewJinaImageEmbedder(&config.EmbeddingConfig{
		Provider:   "jina",
		Model:      "jina-clip-v2",
		APIKey:     "secret",
		BaseURL:    srv.URL + "/v1",
		Dimensions: 3,
	})
	defer e.Close()

	vec, err := e.EmbedImage(context.Background(), []byte("png-bytes"), "png")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "jina-clip-v2", got.Model)
	assert.Equal(t, 3, got.Dimensions)
	require.Len(t, got.Input, 1)
	assert.Equal(t, "cG5nLWJ5dGVz", got.Input[0].Image)
}

func TestJinaImageEmbedderErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"api error", http.StatusUnauthorized, `{"detail":"invalid key"}`},
		{"empty data", http.StatusOK, `{"data":[]}`},
		{"wrong dimension", http.StatusOK, `{"data":[{"index":0,"embedding":[1]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			e := NewJinaImageEmbedder(&config.EmbeddingConfig{Model: "m", BaseURL: srv.URL, Dimensions: 3})
			_, err := e.EmbedImage(context.Background(), []byte("x"), "png")
			assert.Error(t, err)
		})
	}
}

// fakeEmbedder returns a vector derived from the payload length.
type fakeEmbedder struct {
	dim    int
	calls  atomic.Int64
	closed atomic.Bool
}

func (f *fakeEmbedder) EmbedImage(ctx context.Context, data []byte, format string) ([]float32, error) {
	f.calls.Add(1)
	v := make([]float32, f.dim)
	v[0] = 1
	v[len(v)-1] = float32(len(data) % 7)
	return v, nil
}

func (f *fakeEmbedder) GetModel() string { return "fake" }

func (f *fakeEmbedder) Close() error {
	f.closed.Store(true)
	return nil
}

func TestLazyEmbedder(t *testing.T) {
	var builds atomic.Int64
	inner := &fakeEmbedder{dim: 2}
	lazy := NewLazyEmbedder(func() (ImageEmbedder, error) {
		builds.Add(1)
		return inner, nil
	})
	assert.Equal(t, "", lazy.GetModel())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := lazy.EmbedImage(context.Background(), []byte("abc"), "png")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), builds.Load())
	assert.Equal(t, int64(10), inner.calls.Load())
	assert.Equal(t, "fake", lazy.GetModel())

	require.NoError(t, lazy.Close())
	assert.True(t, inner.closed.Load())
	_, err := lazy.EmbedImage(context.Background(), []byte("abc"), "png")
	assert.ErrorIs(t, err, ErrEmbedderClosed)
}

func TestLazyEmbedderBuildError(t *testing.T) {
	buildErr := errors.New("no api key")
	lazy := NewLazyEmbedder(func() (ImageEmbedder, error) { return nil, buildErr })

	_, err := lazy.EmbedImage(context.Background(), nil, "png")
	assert.ErrorIs(t, err, buildErr)
	_, err = lazy.EmbedImage(context.Background(), nil, "png")
	assert.ErrorIs(t, err, buildErr)
	assert.NoError(t, lazy.Close())
}
