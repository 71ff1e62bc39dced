package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/timmy/kindred/internal/config"
)

// ImageEmbedder turns image bytes into a fixed-dimension vector.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, data []byte, format string) ([]float32, error)
	GetModel() string
}

const defaultJinaBaseURL = "https://api.jina.ai/v1"

// JinaImageEmbedder calls the Jina CLIP embeddings API with base64 images.
type JinaImageEmbedder struct {
	client     *resty.Client
	model      string
	dimensions int
}

// NewJinaImageEmbedder creates a Jina embedder from configuration.
func NewJinaImageEmbedder(cfg *config.EmbeddingConfig) *JinaImageEmbedder {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultJinaBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	return &JinaImageEmbedder{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

// GetModel returns the model name being used
func (e *JinaImageEmbedder) GetModel() string {
	return e.model
}

type jinaImageInput struct {
	Image string `json:"image"`
}

type jinaRequest struct {
	Model         string           `json:"model"`
	Dimensions    int              `json:"dimensions,omitempty"`
	Normalized    bool             `json:"normalized"`
	EmbeddingType string           `json:"embedding_type,omitempty"`
	Input         []jinaImageInput `json:"input"`
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Detail string `json:"detail,omitempty"`
}

// EmbedImage sends one image and returns its embedding.
func (e *JinaImageEmbedder) EmbedImage(ctx context.Context, data []byte, format string) ([]float32, error) {
	req := jinaRequest{
		Model:         e.model,
		Dimensions:    e.dimensions,
		Normalized:    true,
		EmbeddingType: "float",
		Input:         []jinaImageInput{{Image: base64.StdEncoding.EncodeToString(data)}},
	}

	var resp jinaResponse
	httpResp, err := e.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post("/embeddings")
	if err != nil {
		return nil, fmt.Errorf("failed to call Jina API: %w", err)
	}

	if httpResp.StatusCode() != http.StatusOK {
		if resp.Detail != "" {
			return nil, fmt.Errorf("Jina API error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("Jina API error: status %d", httpResp.StatusCode())
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	if e.dimensions > 0 && len(resp.Data[0].Embedding) != e.dimensions {
		return nil, fmt.Errorf("unexpected embedding dimension: got %d, expected %d", len(resp.Data[0].Embedding), e.dimensions)
	}
	return resp.Data[0].Embedding, nil
}

// Close drops idle HTTP connections.
func (e *JinaImageEmbedder) Close() error {
	e.client.GetClient().CloseIdleConnections()
	return nil
}

// ErrEmbedderClosed is returned by a LazyEmbedder after Close.
var ErrEmbedderClosed = errors.New("embedder closed")

// LazyEmbedder builds its ImageEmbedder on first use and releases it on
// Close. It is safe for concurrent use.
type LazyEmbedder struct {
	build func() (ImageEmbedder, error)

	once     sync.Once
	embedder ImageEmbedder
	err      error
	model    atomic.Value

	mu     sync.RWMutex
	closed bool
}

// NewLazyEmbedder wraps build, which runs at most once.
func NewLazyEmbedder(build func() (ImageEmbedder, error)) *LazyEmbedder {
	return &LazyEmbedder{build: build}
}

func (l *LazyEmbedder) get() (ImageEmbedder, error) {
	l.once.Do(func() {
		l.embedder, l.err = l.build()
		if l.err == nil && l.embedder == nil {
			l.err = fmt.Errorf("embedder builder returned nil")
		}
		if l.err == nil {
			l.model.Store(l.embedder.GetModel())
		}
	})
	return l.embedder, l.err
}

// EmbedImage initializes the embedder if needed and delegates to it.
func (l *LazyEmbedder) EmbedImage(ctx context.Context, data []byte, format string) ([]float32, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrEmbedderClosed
	}
	e, err := l.get()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return e.EmbedImage(ctx, data, format)
}

// GetModel returns the model name, or "" before initialization.
func (l *LazyEmbedder) GetModel() string {
	model, _ := l.model.Load().(string)
	return model
}

// Close tears down the embedder if it was built. Later calls fail with
// ErrEmbedderClosed.
func (l *LazyEmbedder) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if closer, ok := l.embedder.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
